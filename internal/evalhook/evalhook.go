// Package evalhook implements the Evaluation Hook (C8): bounded-
// concurrency dispatch of pluggable post-run evaluators. Grounded on
// the teacher's pkg/agent/orchestrator/runner.go reserved-slot
// concurrency limiting, simplified to golang.org/x/sync/errgroup's
// SetLimit since evalhook's evaluators are independent (no shared
// results channel or cancellation registry is needed).
package evalhook

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/opencircle/insights-core/internal/storage"
)

const maxConcurrentEvaluators = 4

// Result is an evaluator's outcome (spec §4.8).
type Result struct {
	Score  *float64
	Passed *bool
	Reason string
}

// Evaluator is one pluggable evaluation unit. The three spec variants
// (LLMJudge, RuleBased, Heuristic) each implement this directly.
type Evaluator interface {
	ID() string
	Evaluate(ctx context.Context, analysisID string) (Result, error)
}

// ResultWriter persists evaluator outcomes. Satisfied by
// storage.EvaluationResultStore.
type ResultWriter interface {
	Insert(ctx context.Context, r storage.EvaluationResultRecord) error
}

// Registry looks up evaluators by ID.
type Registry struct {
	mu         sync.RWMutex
	evaluators map[string]Evaluator
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{evaluators: make(map[string]Evaluator)}
}

// Register binds an evaluator under its own ID.
func (r *Registry) Register(e Evaluator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evaluators[e.ID()] = e
}

func (r *Registry) get(id string) (Evaluator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.evaluators[id]
	return e, ok
}

// Hook dispatches evaluators and records their outcomes. Satisfies
// pipeline.EvaluationDispatcher.
type Hook struct {
	registry *Registry
	results  ResultWriter
}

// NewHook builds a Hook.
func NewHook(registry *Registry, results ResultWriter) *Hook {
	return &Hook{registry: registry, results: results}
}

// Dispatch runs every evaluator named in evaluatorIDs against analysisID,
// at most maxConcurrentEvaluators at a time, and records each outcome
// against traceID. An unknown evaluator ID or an evaluator that returns
// an error is recorded with status=error; per spec §4.8 this never
// fails the hook (and the pipeline never observes this as a run failure
// either, since Dispatch is void by interface).
func (h *Hook) Dispatch(ctx context.Context, traceID, analysisID string, evaluatorIDs []string) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentEvaluators)

	for _, id := range evaluatorIDs {
		id := id
		g.Go(func() error {
			h.runOne(gctx, traceID, analysisID, id)
			return nil // evaluator failures never propagate as group errors
		})
	}
	_ = g.Wait()
}

func (h *Hook) runOne(ctx context.Context, traceID, analysisID, evaluatorID string) {
	evaluator, ok := h.registry.get(evaluatorID)
	if !ok {
		h.record(ctx, traceID, evaluatorID, "error", nil, nil, fmt.Sprintf("unknown evaluator %q", evaluatorID))
		return
	}

	result, err := evaluator.Evaluate(ctx, analysisID)
	if err != nil {
		slog.Error("evalhook: evaluator failed", "evaluator_id", evaluatorID, "trace_id", traceID, "error", err)
		h.record(ctx, traceID, evaluatorID, "error", nil, nil, err.Error())
		return
	}
	h.record(ctx, traceID, evaluatorID, "completed", result.Score, result.Passed, result.Reason)
}

func (h *Hook) record(ctx context.Context, traceID, evaluatorID, status string, score *float64, passed *bool, reason string) {
	record := storage.EvaluationResultRecord{
		TraceID: traceID, EvaluatorID: evaluatorID, Status: status, Score: score, Passed: passed, Reason: reason,
	}
	if err := h.results.Insert(ctx, record); err != nil {
		slog.Error("evalhook: failed to persist evaluation result", "evaluator_id", evaluatorID, "trace_id", traceID, "error", err)
	}
}

// LLMJudge runs a single judge call and thresholds its score against
// Threshold to produce Passed.
type LLMJudge struct {
	EvaluatorID string
	Model       string
	Criteria    []string
	Threshold   float64
	Judge       func(ctx context.Context, analysisID, model string, criteria []string) (float64, string, error)
}

func (e *LLMJudge) ID() string { return e.EvaluatorID }

func (e *LLMJudge) Evaluate(ctx context.Context, analysisID string) (Result, error) {
	score, reason, err := e.Judge(ctx, analysisID, e.Model, e.Criteria)
	if err != nil {
		return Result{}, err
	}
	passed := score >= e.Threshold
	return Result{Score: &score, Passed: &passed, Reason: reason}, nil
}

// RuleBased runs a synchronous deterministic check.
type RuleBased struct {
	EvaluatorID string
	RuleID      string
	Config      map[string]any
	Check       func(ctx context.Context, analysisID, ruleID string, config map[string]any) (bool, string, error)
}

func (e *RuleBased) ID() string { return e.EvaluatorID }

func (e *RuleBased) Evaluate(ctx context.Context, analysisID string) (Result, error) {
	passed, reason, err := e.Check(ctx, analysisID, e.RuleID, e.Config)
	if err != nil {
		return Result{}, err
	}
	return Result{Passed: &passed, Reason: reason}, nil
}

// Heuristic wraps an opaque implementation reference; how ImplementationRef
// resolves to actual logic is left to the caller that constructs Run.
type Heuristic struct {
	EvaluatorID        string
	ImplementationRef  string
	Run                func(ctx context.Context, analysisID, implementationRef string) (Result, error)
}

func (e *Heuristic) ID() string { return e.EvaluatorID }

func (e *Heuristic) Evaluate(ctx context.Context, analysisID string) (Result, error) {
	return e.Run(ctx, analysisID, e.ImplementationRef)
}
