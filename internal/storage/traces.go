package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// TraceRecord is the durable row backing the Trace Recorder's (C4)
// parent trace, grounded on ent/schema/llminteraction.go's top-level
// fields (name, status, metadata, source) generalized from a single
// LLM interaction to an arbitrary parent span tree.
type TraceRecord struct {
	ID              string
	OTelTraceID     string
	Name            string
	Status          string
	Tenant          string
	Creator         string
	Project         string
	InputData       json.RawMessage
	OutputData      json.RawMessage
	Metadata        map[string]any
	Source          string
	ParentTraceID   string
	ModelName       string
	Provider        string
	TotalTokens     int
	TotalCost       float64
	TotalDurationMS int64
	CreatedAt       time.Time
	ClosedAt        *time.Time
}

// SpanRecord is a durable child span row.
type SpanRecord struct {
	ID            string
	OTelSpanID    string
	TraceID       string
	ParentSpanID  string
	Name          string
	SpanType      string
	ModelName     string
	Params        json.RawMessage
	Status        string
	InputTokens   int
	OutputTokens  int
	TotalTokens   int
	Cost          float64
	Attempt       int
	StartTime     time.Time
	EndTime       *time.Time
	Metadata      map[string]any
}

// TraceStore persists traces and spans for internal/trace.
type TraceStore struct {
	pool *Pool
}

// NewTraceStore builds a TraceStore over pool.
func NewTraceStore(pool *Pool) *TraceStore {
	return &TraceStore{pool: pool}
}

// InsertTrace creates a new open parent trace row.
func (s *TraceStore) InsertTrace(ctx context.Context, t TraceRecord) error {
	metadataJSON, err := json.Marshal(t.Metadata)
	if err != nil {
		return fmt.Errorf("storage: encoding trace metadata: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO traces (id, otel_trace_id, name, status, tenant, creator, project,
			input_data, output_data, trace_metadata, source, parent_trace_id, model_name, provider, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		t.ID, t.OTelTraceID, t.Name, t.Status, t.Tenant, t.Creator, t.Project,
		t.InputData, t.OutputData, metadataJSON, t.Source, nullableString(t.ParentTraceID),
		nullableString(t.ModelName), nullableString(t.Provider), t.CreatedAt)
	if err != nil {
		return fmt.Errorf("storage: inserting trace: %w", err)
	}
	return nil
}

// CloseTrace finalizes a parent trace with its rollup totals. extraMetadata,
// when non-empty, is merged into the existing trace_metadata JSONB
// (new keys win on conflict) — the only metadata mutation this system
// permits outside OpenParent, used by the judge engine to attach
// clamped-score and winner-disagreement warnings discovered only after
// all four judge calls complete.
func (s *TraceStore) CloseTrace(ctx context.Context, id, status string, totalTokens int, totalCost float64, totalDurationMS int64, closedAt time.Time, extraMetadata map[string]any) error {
	var extraJSON []byte
	if len(extraMetadata) > 0 {
		b, err := json.Marshal(extraMetadata)
		if err != nil {
			return fmt.Errorf("storage: encoding trace close metadata: %w", err)
		}
		extraJSON = b
	}

	var tag pgconn.CommandTag
	var err error
	if extraJSON != nil {
		tag, err = s.pool.Exec(ctx, `
			UPDATE traces SET status = $2, total_tokens = $3, total_cost = $4, total_duration_ms = $5,
				closed_at = $6, trace_metadata = trace_metadata || $7::jsonb
			WHERE id = $1`, id, status, totalTokens, totalCost, totalDurationMS, closedAt, extraJSON)
	} else {
		tag, err = s.pool.Exec(ctx, `
			UPDATE traces SET status = $2, total_tokens = $3, total_cost = $4, total_duration_ms = $5, closed_at = $6
			WHERE id = $1`, id, status, totalTokens, totalCost, totalDurationMS, closedAt)
	}
	if err != nil {
		return fmt.Errorf("storage: closing trace %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: trace %s not found", id)
	}
	return nil
}

// InsertSpan creates a new open span row.
func (s *TraceStore) InsertSpan(ctx context.Context, sp SpanRecord) error {
	metadataJSON, err := json.Marshal(sp.Metadata)
	if err != nil {
		return fmt.Errorf("storage: encoding span metadata: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO spans (id, otel_span_id, trace_id, parent_span_id, name, span_type, model_name,
			params, status, attempt, start_time, metadata)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		sp.ID, sp.OTelSpanID, sp.TraceID, nullableString(sp.ParentSpanID), sp.Name, sp.SpanType,
		nullableString(sp.ModelName), sp.Params, sp.Status, sp.Attempt, sp.StartTime, metadataJSON)
	if err != nil {
		return fmt.Errorf("storage: inserting span: %w", err)
	}
	return nil
}

// CloseSpan finalizes a span with its token/cost outcome and the final
// attempt count the provider call took (spec §8 scenario S5: a span
// retried once before succeeding persists attempt=2).
func (s *TraceStore) CloseSpan(ctx context.Context, id, status string, inputTokens, outputTokens int, cost float64, attempt int, endTime time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE spans SET status = $2, input_tokens = $3, output_tokens = $4, total_tokens = $3 + $4, cost = $5, attempt = $6, end_time = $7
		WHERE id = $1`, id, status, inputTokens, outputTokens, cost, attempt, endTime)
	if err != nil {
		return fmt.Errorf("storage: closing span %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: span %s not found", id)
	}
	return nil
}

// SpansForTrace returns every span belonging to a trace, ordered by
// start time, for rollup computation.
func (s *TraceStore) SpansForTrace(ctx context.Context, traceID string) ([]SpanRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, otel_span_id, trace_id, parent_span_id, name, span_type, model_name, params, status,
		       input_tokens, output_tokens, total_tokens, cost, attempt, start_time, end_time
		FROM spans WHERE trace_id = $1 ORDER BY start_time ASC`, traceID)
	if err != nil {
		return nil, fmt.Errorf("storage: listing spans for trace %s: %w", traceID, err)
	}
	defer rows.Close()

	var out []SpanRecord
	for rows.Next() {
		var sp SpanRecord
		var parentSpanID, modelName *string
		if err := rows.Scan(&sp.ID, &sp.OTelSpanID, &sp.TraceID, &parentSpanID, &sp.Name, &sp.SpanType,
			&modelName, &sp.Params, &sp.Status, &sp.InputTokens, &sp.OutputTokens, &sp.TotalTokens,
			&sp.Cost, &sp.Attempt, &sp.StartTime, &sp.EndTime); err != nil {
			return nil, fmt.Errorf("storage: scanning span row: %w", err)
		}
		if parentSpanID != nil {
			sp.ParentSpanID = *parentSpanID
		}
		if modelName != nil {
			sp.ModelName = *modelName
		}
		out = append(out, sp)
	}
	return out, rows.Err()
}

// TraceByID fetches a single trace, returning pgx.ErrNoRows wrapped if absent.
func (s *TraceStore) TraceByID(ctx context.Context, id string) (TraceRecord, error) {
	var t TraceRecord
	var metadataJSON []byte
	var parentTraceID, modelName, provider *string
	err := s.pool.QueryRow(ctx, `
		SELECT id, otel_trace_id, name, status, tenant, creator, project, input_data, output_data,
		       trace_metadata, source, parent_trace_id, model_name, provider, total_tokens, total_cost,
		       total_duration_ms, created_at, closed_at
		FROM traces WHERE id = $1`, id).Scan(
		&t.ID, &t.OTelTraceID, &t.Name, &t.Status, &t.Tenant, &t.Creator, &t.Project, &t.InputData, &t.OutputData,
		&metadataJSON, &t.Source, &parentTraceID, &modelName, &provider, &t.TotalTokens, &t.TotalCost,
		&t.TotalDurationMS, &t.CreatedAt, &t.ClosedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return TraceRecord{}, fmt.Errorf("storage: trace %s not found: %w", id, err)
		}
		return TraceRecord{}, fmt.Errorf("storage: fetching trace %s: %w", id, err)
	}
	if parentTraceID != nil {
		t.ParentTraceID = *parentTraceID
	}
	if modelName != nil {
		t.ModelName = *modelName
	}
	if provider != nil {
		t.Provider = *provider
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &t.Metadata); err != nil {
			return TraceRecord{}, fmt.Errorf("storage: decoding trace metadata: %w", err)
		}
	}
	return t, nil
}

// OpenParentsOlderThan returns parent traces (no parent_trace_id of
// their own) still open (closed_at IS NULL) and created before cutoff,
// for the orphan reaper sweep.
func (s *TraceStore) OpenParentsOlderThan(ctx context.Context, cutoff time.Time) ([]TraceRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, otel_trace_id, name, status, tenant, creator, project, source, created_at
		FROM traces WHERE closed_at IS NULL AND parent_trace_id IS NULL AND created_at < $1`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("storage: listing open parent traces: %w", err)
	}
	defer rows.Close()

	var out []TraceRecord
	for rows.Next() {
		var t TraceRecord
		if err := rows.Scan(&t.ID, &t.OTelTraceID, &t.Name, &t.Status, &t.Tenant, &t.Creator,
			&t.Project, &t.Source, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scanning open trace row: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
