// Package storage owns the Postgres connection pool, embedded schema
// migrations, and the hand-written repositories every other component
// persists through. ent's generated client was dropped (see DESIGN.md);
// these repositories talk to pgx/v5 directly, using the ent schema
// files only as the source of truth for column/index shape.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Pool wraps a pgxpool.Pool with the connection-tuning the teacher
// applies in pkg/database/client.go.
type Pool struct {
	*pgxpool.Pool
}

// Open establishes a pool against cfg, applying pool-size and
// connection-lifetime tuning before the first connection is made.
func Open(ctx context.Context, cfg Config) (*Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("storage: parsing dsn: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxOpenConns
	poolCfg.MinConns = cfg.MaxIdleConns
	poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	poolCfg.MaxConnIdleTime = cfg.ConnMaxIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("storage: opening pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: ping failed: %w", err)
	}

	return &Pool{pool}, nil
}
