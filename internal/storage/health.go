package storage

import (
	"context"
	"time"
)

// HealthStatus reports database connectivity and pool statistics,
// mirroring the teacher's pkg/database/health.go shape.
type HealthStatus struct {
	Status          string
	ResponseTime    time.Duration
	OpenConnections int32
	Idle            int32
	MaxConns        int32
}

// Health checks connectivity and returns pool statistics.
func (p *Pool) Health(ctx context.Context) (*HealthStatus, error) {
	start := time.Now()
	if err := p.Ping(ctx); err != nil {
		return &HealthStatus{Status: "unhealthy", ResponseTime: time.Since(start)}, err
	}
	stat := p.Stat()
	return &HealthStatus{
		Status:          "healthy",
		ResponseTime:    time.Since(start),
		OpenConnections: stat.TotalConns(),
		Idle:            stat.IdleConns(),
		MaxConns:        stat.MaxConns(),
	}, nil
}
