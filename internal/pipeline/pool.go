package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// PoolHealth is a point-in-time snapshot of the Pool's activity,
// mirroring the teacher's pkg/queue/types.go PoolHealth shape.
type PoolHealth struct {
	Capacity       int
	ActiveRuns     int32
	CompletedRuns  int64
	FailedRuns     int64
}

// Pool bounds the number of DTA pipeline runs executing concurrently.
// Each run is still internally sequential across its three stages (spec
// §5); the Pool only limits how many runs proceed at once, grounded on
// the teacher's pkg/queue/pool.go worker-count semaphore idea, adapted
// from a DB-polling queue to a direct Submit/wait call shape since this
// system has no durable job queue of its own.
type Pool struct {
	engine *Engine
	sem    chan struct{}

	active    int32
	completed int64
	failed    int64
}

// NewPool builds a Pool that runs at most capacity pipelines concurrently.
func NewPool(engine *Engine, capacity int) *Pool {
	if capacity < 1 {
		capacity = 1
	}
	return &Pool{engine: engine, sem: make(chan struct{}, capacity)}
}

// Submit blocks until a slot is free, then runs in synchronously and
// returns its outcome. Callers that want fire-and-forget semantics
// should invoke Submit from their own goroutine.
func (p *Pool) Submit(ctx context.Context, in Input) (Output, error) {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return Output{}, ctx.Err()
	}
	defer func() { <-p.sem }()

	atomic.AddInt32(&p.active, 1)
	defer atomic.AddInt32(&p.active, -1)

	out, err := p.engine.Run(ctx, in)
	if err != nil {
		atomic.AddInt64(&p.failed, 1)
		slog.Error("pipeline: run failed", "tenant", in.Tenant, "error", err)
	} else {
		atomic.AddInt64(&p.completed, 1)
	}
	return out, err
}

// SubmitMany runs every input with the pool's bounded concurrency and
// returns results in input order once all have completed.
func (p *Pool) SubmitMany(ctx context.Context, inputs []Input) []PoolResult {
	results := make([]PoolResult, len(inputs))
	var wg sync.WaitGroup
	wg.Add(len(inputs))
	for i, in := range inputs {
		go func(i int, in Input) {
			defer wg.Done()
			out, err := p.Submit(ctx, in)
			results[i] = PoolResult{Output: out, Err: err}
		}(i, in)
	}
	wg.Wait()
	return results
}

// PoolResult pairs a run's outcome with any error, for SubmitMany.
type PoolResult struct {
	Output Output
	Err    error
}

// Health reports the Pool's current activity.
func (p *Pool) Health() PoolHealth {
	return PoolHealth{
		Capacity:      cap(p.sem),
		ActiveRuns:    atomic.LoadInt32(&p.active),
		CompletedRuns: atomic.LoadInt64(&p.completed),
		FailedRuns:    atomic.LoadInt64(&p.failed),
	}
}
