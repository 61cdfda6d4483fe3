// Package trace implements the Trace Recorder (C4): an append-only
// writer of parent traces, child spans, and rollup invariants. Grounded
// on the teacher's pkg/services/interaction_service.go and
// pkg/services/stage_service.go (LLM-interaction bookkeeping), widened
// from one level of interaction to an arbitrary parent/child tree as
// the spec requires, and persisted through internal/storage instead of
// ent.
package trace

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opencircle/insights-core/internal/coreerrors"
	"github.com/opencircle/insights-core/internal/provider"
	"github.com/opencircle/insights-core/internal/storage"
)

// Source values for trace_metadata.source (spec §3 Trace).
const (
	SourceDTAPipeline Source = "dta_pipeline"
	SourceJudge       Source = "judge"
	SourceEvaluation  Source = "evaluation"
	SourcePlayground  Source = "playground"
)

// Source identifies which component opened a trace.
type Source string

// Status values for traces and spans.
const (
	StatusOK        = "ok"
	StatusError     = "error"
	StatusTimeout   = "timeout"
	StatusCancelled = "cancelled"
	statusInProgress = "in_progress"
)

// SpanType values (spec §3 Span).
const (
	SpanTypeLLM      = "llm"
	SpanTypeTool     = "tool"
	SpanTypeWorkflow = "workflow"
)

// ParentHandle references an open parent trace.
type ParentHandle struct {
	TraceID     string
	OTelTraceID string
}

// SpanHandle references an open child span.
type SpanHandle struct {
	SpanID     string
	OTelSpanID string
	TraceID    string
	StartTime  time.Time
}

// Store is the persistence seam the Recorder is built against. The
// production implementation is internal/storage.TraceStore; tests use a
// fake.
type Store interface {
	InsertTrace(ctx context.Context, t storage.TraceRecord) error
	CloseTrace(ctx context.Context, id, status string, totalTokens int, totalCost float64, totalDurationMS int64, closedAt time.Time, extraMetadata map[string]any) error
	InsertSpan(ctx context.Context, sp storage.SpanRecord) error
	CloseSpan(ctx context.Context, id, status string, inputTokens, outputTokens int, cost float64, attempt int, endTime time.Time) error
	SpansForTrace(ctx context.Context, traceID string) ([]storage.SpanRecord, error)
}

// openParentState tracks in-memory bookkeeping for a parent trace that
// has not yet been closed, so close_parent can sum its children and
// reopen attempts can be rejected before ever reaching storage.
type openParentState struct {
	record   storage.TraceRecord
	children []string // span IDs opened under this parent
}

// Recorder persists traces and spans and enforces the recorder-level
// invariants from spec §4.4 (unique IDs, no reopening a closed
// parent/span, parent error propagation from any failed child).
type Recorder struct {
	store Store

	mu           sync.Mutex
	openParents  map[string]*openParentState
	openSpans    map[string]storage.SpanRecord
	closedTraces map[string]bool
	closedSpans  map[string]bool
}

// NewRecorder builds a Recorder backed by store.
func NewRecorder(store Store) *Recorder {
	return &Recorder{
		store:        store,
		openParents:  make(map[string]*openParentState),
		openSpans:    make(map[string]storage.SpanRecord),
		closedTraces: make(map[string]bool),
		closedSpans:  make(map[string]bool),
	}
}

// OpenParent writes an in-progress parent trace row and returns a
// handle used to open children and eventually close it.
func (r *Recorder) OpenParent(ctx context.Context, source Source, name, tenant, creator, project string, metadata map[string]any) (ParentHandle, error) {
	traceID := uuid.New().String()
	otelTraceID := newOTelTraceID()

	merged := map[string]any{"source": string(source)}
	for k, v := range metadata {
		merged[k] = v
	}

	record := storage.TraceRecord{
		ID: traceID, OTelTraceID: otelTraceID, Name: name, Status: statusInProgress,
		Tenant: tenant, Creator: creator, Project: project,
		Metadata: merged, Source: string(source), CreatedAt: time.Now(),
	}
	if parentTraceID, ok := metadata["parent_trace_id"].(string); ok {
		record.ParentTraceID = parentTraceID
	}

	if err := r.store.InsertTrace(ctx, record); err != nil {
		return ParentHandle{}, fmt.Errorf("trace: opening parent: %w", err)
	}

	r.mu.Lock()
	r.openParents[traceID] = &openParentState{record: record}
	r.mu.Unlock()

	return ParentHandle{TraceID: traceID, OTelTraceID: otelTraceID}, nil
}

// OpenSpan writes an in-progress child span under parent.
func (r *Recorder) OpenSpan(ctx context.Context, parent ParentHandle, name, spanType, modelName string, params map[string]any) (SpanHandle, error) {
	r.mu.Lock()
	if r.closedTraces[parent.TraceID] {
		r.mu.Unlock()
		return SpanHandle{}, coreerrors.New(coreerrors.KindPipelineError,
			fmt.Sprintf("cannot open span on closed parent trace %s", parent.TraceID))
	}
	r.mu.Unlock()

	spanID := uuid.New().String()
	otelSpanID := newOTelSpanID()
	start := time.Now()

	paramsJSON, err := marshalParams(params)
	if err != nil {
		return SpanHandle{}, fmt.Errorf("trace: encoding span params: %w", err)
	}

	record := storage.SpanRecord{
		ID: spanID, OTelSpanID: otelSpanID, TraceID: parent.TraceID,
		Name: name, SpanType: spanType, ModelName: modelName, Params: paramsJSON,
		Status: statusInProgress, Attempt: 1, StartTime: start, Metadata: map[string]any{},
	}
	if err := r.store.InsertSpan(ctx, record); err != nil {
		return SpanHandle{}, fmt.Errorf("trace: opening span: %w", err)
	}

	r.mu.Lock()
	r.openSpans[spanID] = record
	if p, ok := r.openParents[parent.TraceID]; ok {
		p.children = append(p.children, spanID)
	}
	r.mu.Unlock()

	return SpanHandle{SpanID: spanID, OTelSpanID: otelSpanID, TraceID: parent.TraceID, StartTime: start}, nil
}

// CloseSpan finalizes a span with either a successful ExecResult or an
// error outcome. attempt is the final attempt count the provider.Runner
// call took (1 if it succeeded or failed on the first try, 2+ if it
// retried) — spec §8 scenario S5 requires this on the persisted span,
// not just logged.
func (r *Recorder) CloseSpan(ctx context.Context, span SpanHandle, result *provider.ExecResult, attempt int, callErr error) error {
	r.mu.Lock()
	if r.closedSpans[span.SpanID] {
		r.mu.Unlock()
		return coreerrors.New(coreerrors.KindPipelineError,
			fmt.Sprintf("span %s is already closed", span.SpanID))
	}
	r.closedSpans[span.SpanID] = true
	r.mu.Unlock()

	status := StatusOK
	var inputTokens, outputTokens int
	var cost float64
	if callErr != nil {
		status = StatusError
	} else if result != nil {
		inputTokens, outputTokens = result.InputTokens, result.OutputTokens
		cost = result.TotalCost
	}

	if err := r.store.CloseSpan(ctx, span.SpanID, status, inputTokens, outputTokens, cost, attempt, time.Now()); err != nil {
		return fmt.Errorf("trace: closing span: %w", err)
	}
	return nil
}

// CloseParent sums this parent's child spans (sourced from storage, not
// just the in-memory children list, so a recorder restart still
// produces correct rollups) and writes the final status per spec §4.4:
// any child error forces the parent to error regardless of the status
// the caller passes, unless the caller is already reporting a more
// specific terminal status (timeout/cancelled). extraMetadata, when
// non-nil, is merged into the trace's metadata at close time — the
// judge engine uses this to record clamped-score and
// winner-disagreement warnings discovered only once every child span
// has returned.
func (r *Recorder) CloseParent(ctx context.Context, parent ParentHandle, status string, extraMetadata map[string]any) error {
	r.mu.Lock()
	if r.closedTraces[parent.TraceID] {
		r.mu.Unlock()
		return coreerrors.New(coreerrors.KindPipelineError,
			fmt.Sprintf("trace %s is already closed", parent.TraceID))
	}
	r.closedTraces[parent.TraceID] = true
	delete(r.openParents, parent.TraceID)
	r.mu.Unlock()

	spans, err := r.store.SpansForTrace(ctx, parent.TraceID)
	if err != nil {
		return fmt.Errorf("trace: loading spans for rollup: %w", err)
	}

	var totalTokens int
	var totalCost float64
	var totalDuration int64
	anyChildError := false
	for _, sp := range spans {
		totalTokens += sp.TotalTokens
		totalCost += sp.Cost
		if sp.EndTime != nil {
			totalDuration += sp.EndTime.Sub(sp.StartTime).Milliseconds()
		}
		if sp.Status == StatusError {
			anyChildError = true
		}
	}

	finalStatus := status
	if anyChildError && finalStatus == StatusOK {
		finalStatus = StatusError
	}

	if err := r.store.CloseTrace(ctx, parent.TraceID, finalStatus, totalTokens, totalCost, totalDuration, time.Now(), extraMetadata); err != nil {
		return fmt.Errorf("trace: closing parent: %w", err)
	}
	return nil
}

// LinkMetadata is a convenience wrapper: most metadata (parent_trace_id,
// source) is set at OpenParent time since this system never mutates a
// trace row outside open/close. Exposed for components that only learn
// a correlation ID (e.g. judge_trace_id on a Comparison) after the
// trace has already been opened — it is recorded on the dependent row,
// not by rewriting the trace.
func (r *Recorder) LinkMetadata(parent ParentHandle) map[string]string {
	return map[string]string{"parent_trace_id": parent.TraceID, "otel_trace_id": parent.OTelTraceID}
}

func marshalParams(params map[string]any) ([]byte, error) {
	if params == nil {
		return nil, nil
	}
	return json.Marshal(params)
}

func newOTelTraceID() string {
	return randomHex(16) // 128-bit, matches OTel TraceID width
}

func newOTelSpanID() string {
	return randomHex(8) // 64-bit, matches OTel SpanID width
}

func randomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand.Read failing means the system RNG is broken;
		// nothing downstream can recover meaningfully.
		panic(fmt.Sprintf("trace: reading random bytes: %v", err))
	}
	return hex.EncodeToString(b)
}
