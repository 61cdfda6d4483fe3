package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EvaluationResultRecord is the durable row for one evaluator's outcome
// against a trace (spec §4.8 Evaluation Hook).
type EvaluationResultRecord struct {
	ID          string
	TraceID     string
	EvaluatorID string
	Status      string
	Score       *float64
	Passed      *bool
	Reason      string
	CreatedAt   time.Time
}

// EvaluationResultStore persists evaluator outcomes.
type EvaluationResultStore struct {
	pool *Pool
}

// NewEvaluationResultStore builds an EvaluationResultStore over pool.
func NewEvaluationResultStore(pool *Pool) *EvaluationResultStore {
	return &EvaluationResultStore{pool: pool}
}

// Insert persists one evaluator's result, assigning an ID if absent.
func (s *EvaluationResultStore) Insert(ctx context.Context, r EvaluationResultRecord) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO evaluation_results (id, trace_id, evaluator_id, status, score, passed, reason)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		r.ID, r.TraceID, r.EvaluatorID, r.Status, r.Score, r.Passed, nullableString(r.Reason))
	if err != nil {
		return fmt.Errorf("storage: inserting evaluation result: %w", err)
	}
	return nil
}

// ForTrace lists every evaluator result recorded against a trace.
func (s *EvaluationResultStore) ForTrace(ctx context.Context, traceID string) ([]EvaluationResultRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, trace_id, evaluator_id, status, score, passed, reason, created_at
		FROM evaluation_results WHERE trace_id = $1 ORDER BY created_at ASC`, traceID)
	if err != nil {
		return nil, fmt.Errorf("storage: listing evaluation results for trace %s: %w", traceID, err)
	}
	defer rows.Close()

	var out []EvaluationResultRecord
	for rows.Next() {
		var r EvaluationResultRecord
		var reason *string
		if err := rows.Scan(&r.ID, &r.TraceID, &r.EvaluatorID, &r.Status, &r.Score, &r.Passed, &reason, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scanning evaluation result row: %w", err)
		}
		if reason != nil {
			r.Reason = *reason
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
