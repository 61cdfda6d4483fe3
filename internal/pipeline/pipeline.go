// Package pipeline implements the DTA Pipeline Engine (C5): the
// sequential Facts -> Insights -> Summary run over a transcript.
// Grounded on the teacher's pkg/services/stage_service.go (per-stage
// LLM invocation plumbing) generalized from a single call to a
// three-stage chain, and pkg/queue/pool.go's worker-pool shape for
// bounding concurrent pipeline runs.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/opencircle/insights-core/internal/catalog"
	"github.com/opencircle/insights-core/internal/coreerrors"
	"github.com/opencircle/insights-core/internal/metrics"
	"github.com/opencircle/insights-core/internal/provider"
	"github.com/opencircle/insights-core/internal/storage"
	"github.com/opencircle/insights-core/internal/trace"
	"github.com/opencircle/insights-core/internal/vault"
)

const stageCount = 3

var stageNames = [stageCount]string{"facts", "insights", "summary"}

// StageConfig is one of the three per-stage (model, prompt, sampling
// params) configurations from spec §4.5 "Inputs".
type StageConfig struct {
	ModelName    string
	SystemPrompt string
	Temperature  float64
	TopP         float64
	MaxTokens    int
}

// Input is the DTA Pipeline Engine's run configuration (spec §4.5).
type Input struct {
	Transcript  string
	Title       string
	Tenant      string
	Creator     string
	Project     string
	RedactPII   bool
	Stages      [stageCount]StageConfig
	PostEvalIDs []string
}

// Output is what a successful run produces.
type Output struct {
	AnalysisID      string
	FactsOutput     string
	InsightsOutput  string
	SummaryOutput   string
	TotalTokens     int
	TotalCost       float64
	TotalDurationMS int64
	ParentTraceID   string
}

// Redactor pre-filters PII out of a transcript before Stage 1. Defined
// here (consumer side) so internal/redact has no reason to import
// pipeline; internal/redact's Filter type satisfies this interface.
type Redactor interface {
	Redact(ctx context.Context, text string) (string, error)
}

// EvaluationDispatcher fires post-run evaluators. Defined here so
// internal/evalhook has no reason to import pipeline. Per spec §4.5
// step 5, evaluator failures never fail the pipeline, so Dispatch
// itself returns nothing the caller need act on.
type EvaluationDispatcher interface {
	Dispatch(ctx context.Context, traceID, analysisID string, evaluatorIDs []string)
}

// AnalysisWriter persists the Analysis row. Satisfied by
// storage.AnalysisStore.
type AnalysisWriter interface {
	Insert(ctx context.Context, a storage.AnalysisRecord) error
}

// Engine runs the DTA pipeline.
type Engine struct {
	catalog   *catalog.Catalog
	vault     *vault.Vault
	providers *ProviderRegistry
	recorder  *trace.Recorder
	analyses  AnalysisWriter
	redactor  Redactor             // optional; nil means RedactPII must not be set
	evalHook  EvaluationDispatcher // optional

	// Metrics is optional; a nil *metrics.Recorder absorbs every call
	// site below without a branch, so wiring it is purely additive.
	Metrics *metrics.Recorder
}

// New builds an Engine from its collaborators. redactor and evalHook
// may be nil when those features are unused.
func New(cat *catalog.Catalog, v *vault.Vault, providers *ProviderRegistry, recorder *trace.Recorder, analyses AnalysisWriter, redactor Redactor, evalHook EvaluationDispatcher) *Engine {
	return &Engine{catalog: cat, vault: v, providers: providers, recorder: recorder, analyses: analyses, redactor: redactor, evalHook: evalHook}
}

type stageResult struct {
	output               string
	inputTokens          int
	outputTokens         int
	cost                 float64
	durationMS           int64
	effectiveTemperature float64
}

func (r stageResult) tokens() int { return r.inputTokens + r.outputTokens }

// Run executes the three-stage pipeline per spec §4.5. On any fatal
// error the parent trace and the failing span are closed as error and
// no Analysis row is written (atomicity at Analysis granularity).
func (e *Engine) Run(ctx context.Context, in Input) (Output, error) {
	transcript := in.Transcript
	if in.RedactPII {
		if e.redactor == nil {
			return Output{}, coreerrors.New(coreerrors.KindPipelineError, "redact_pii requested but no redactor is configured")
		}
		redacted, err := e.redactor.Redact(ctx, transcript)
		if err != nil {
			return Output{}, fmt.Errorf("pipeline: redacting transcript: %w", err)
		}
		transcript = redacted
	}

	parent, err := e.recorder.OpenParent(ctx, trace.SourceDTAPipeline, "dta_pipeline", in.Tenant, in.Creator, in.Project,
		map[string]any{"title": in.Title, "project": in.Project})
	if err != nil {
		return Output{}, fmt.Errorf("pipeline: opening parent trace: %w", err)
	}

	var results [stageCount]stageResult
	var factsOutput, insightsOutput string

	for s := 0; s < stageCount; s++ {
		stageNum := s + 1
		cfg := in.Stages[s]
		userContext := stageContext(stageNum, transcript, factsOutput, insightsOutput)

		result, stageErr := e.runStage(ctx, parent, in.Tenant, in.Project, stageNum, cfg, userContext)
		if stageErr != nil {
			e.abort(ctx, parent, stageNum, stageErr)
			return Output{}, coreerrors.Wrap(coreerrors.KindPipelineError,
				fmt.Sprintf("stage %d failed", stageNum), stageErr).WithStage(stageNum)
		}

		results[s] = result
		switch stageNum {
		case 1:
			factsOutput = result.output
		case 2:
			insightsOutput = result.output
		}
	}

	var totalTokens int
	var totalCost float64
	var totalDurationMS int64
	for _, r := range results {
		totalTokens += r.tokens()
		totalCost += r.cost
		totalDurationMS += r.durationMS
	}

	analysisID := uuid.New().String()
	record := storage.AnalysisRecord{
		ID: analysisID, Tenant: in.Tenant, Creator: in.Creator, Project: in.Project,
		TranscriptTitle: in.Title, TranscriptInput: transcript, PIIRedacted: in.RedactPII,
		FactsOutput: results[0].output, InsightsOutput: results[1].output, SummaryOutput: results[2].output,
		StageParams:   stageParamsMap(in.Stages, results),
		SystemPrompts: systemPromptsMap(in.Stages),
		Models:        modelsMap(in.Stages),
		TotalTokens:   totalTokens, TotalCost: totalCost, TotalDurationMS: totalDurationMS, ParentTraceID: parent.TraceID,
	}
	if err := e.analyses.Insert(ctx, record); err != nil {
		e.closeParentBestEffort(ctx, parent, trace.StatusError)
		return Output{}, fmt.Errorf("pipeline: persisting analysis: %w", err)
	}

	if err := e.recorder.CloseParent(ctx, parent, trace.StatusOK, nil); err != nil {
		slog.Warn("pipeline: failed to close parent trace after successful analysis", "trace_id", parent.TraceID, "error", err)
	}

	if len(in.PostEvalIDs) > 0 && e.evalHook != nil {
		e.evalHook.Dispatch(ctx, parent.TraceID, analysisID, in.PostEvalIDs)
	}

	return Output{
		AnalysisID: analysisID, FactsOutput: results[0].output, InsightsOutput: results[1].output,
		SummaryOutput: results[2].output, TotalTokens: totalTokens, TotalCost: totalCost,
		TotalDurationMS: totalDurationMS, ParentTraceID: parent.TraceID,
	}, nil
}

// runStage resolves the model and its credential, assembles and sends
// the wire payload, and records the child span. It never closes the
// parent — the caller decides abort-vs-continue.
func (e *Engine) runStage(ctx context.Context, parent trace.ParentHandle, tenant, project string, stageNum int, cfg StageConfig, userContext string) (_ stageResult, stageErr error) {
	entry, err := e.catalog.Lookup(cfg.ModelName)
	if err != nil {
		return stageResult{}, err
	}

	timer := e.Metrics.StageTimer(stageNames[stageNum-1], entry.Provider)
	defer func() {
		if timer != nil {
			timer.ObserveDuration()
		}
		outcome := "ok"
		if stageErr != nil {
			outcome = "error"
		}
		e.Metrics.ObserveStageCall(stageNames[stageNum-1], entry.Provider, outcome)
	}()

	span, err := e.recorder.OpenSpan(ctx, parent, fmt.Sprintf("stage_%d", stageNum), trace.SpanTypeLLM, cfg.ModelName,
		map[string]any{"stage": stageNum, "temperature": cfg.Temperature, "top_p": cfg.TopP, "max_tokens": cfg.MaxTokens})
	if err != nil {
		return stageResult{}, err
	}

	apiKey, handle, err := e.vault.Resolve(ctx, tenant, entry.Provider, project)
	if err != nil {
		_ = e.recorder.CloseSpan(ctx, span, nil, 1, err)
		return stageResult{}, err
	}
	defer e.vault.MarkUsed(ctx, handle)

	runner, err := e.providers.Resolve(entry.Provider)
	if err != nil {
		_ = e.recorder.CloseSpan(ctx, span, nil, 1, err)
		return stageResult{}, err
	}

	req := provider.ExecRequest{
		Model: entry.ModelVersion,
		Messages: []provider.Message{
			{Role: "system", Content: cfg.SystemPrompt},
			{Role: "user", Content: userContext},
		},
		Temperature: cfg.Temperature,
		TopP:        cfg.TopP,
		MaxTokens:   cfg.MaxTokens,
	}
	payload, effectiveTemperature := provider.BuildPayload(entry.Profile, req)

	result, attempt, execErr := runner.Exec(ctx, payload, apiKey, entry)
	if execErr != nil {
		_ = e.recorder.CloseSpan(ctx, span, nil, attempt, execErr)
		return stageResult{}, execErr
	}
	if result.Content == "" {
		invalidErr := coreerrors.New(coreerrors.KindProviderError, "provider returned empty stage output").WithModel(entry.ModelName, entry.Provider)
		_ = e.recorder.CloseSpan(ctx, span, nil, attempt, invalidErr)
		return stageResult{}, invalidErr
	}

	if err := e.recorder.CloseSpan(ctx, span, &result, attempt, nil); err != nil {
		slog.Warn("pipeline: failed to close successful span", "span_id", span.SpanID, "error", err)
	}

	return stageResult{
		output: result.Content, inputTokens: result.InputTokens, outputTokens: result.OutputTokens,
		cost: result.TotalCost, durationMS: result.DurationMS, effectiveTemperature: effectiveTemperature,
	}, nil
}

func stageContext(stageNum int, transcript, facts, insights string) string {
	switch stageNum {
	case 1:
		return transcript
	case 2:
		return facts
	default:
		return facts + "\n\n" + insights
	}
}

func stageParamsMap(stages [stageCount]StageConfig, results [stageCount]stageResult) map[string]any {
	out := make(map[string]any, stageCount)
	for i, cfg := range stages {
		out[stageNames[i]] = map[string]any{
			"temperature": results[i].effectiveTemperature,
			"top_p":       cfg.TopP,
			"max_tokens":  cfg.MaxTokens,
		}
	}
	return out
}

func systemPromptsMap(stages [stageCount]StageConfig) map[string]string {
	out := make(map[string]string, stageCount)
	for i, cfg := range stages {
		out[stageNames[i]] = cfg.SystemPrompt
	}
	return out
}

func modelsMap(stages [stageCount]StageConfig) map[string]string {
	out := make(map[string]string, stageCount)
	for i, cfg := range stages {
		out[stageNames[i]] = cfg.ModelName
	}
	return out
}

func (e *Engine) abort(ctx context.Context, parent trace.ParentHandle, stageNum int, cause error) {
	slog.Error("pipeline: aborting run", "stage", stageNum, "trace_id", parent.TraceID, "error", cause)
	e.closeParentBestEffort(ctx, parent, trace.StatusError)
}

func (e *Engine) closeParentBestEffort(ctx context.Context, parent trace.ParentHandle, status string) {
	if err := e.recorder.CloseParent(ctx, parent, status, nil); err != nil {
		slog.Warn("pipeline: failed to close parent trace during abort", "trace_id", parent.TraceID, "error", err)
	}
}
