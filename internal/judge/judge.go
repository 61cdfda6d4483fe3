// Package judge implements the Judge Engine (C6): blind A/B comparison
// of two DTA-pipeline analyses via a third judge model. Grounded on the
// teacher's pkg/agent/controller/scoring.go for its retry-until-parses
// LLM extraction idiom (generalized here into the spec's bounded
// auto-repair chain in parse.go) and pkg/agent/controller/summarize.go
// for the multi-call-then-synthesize shape the four judge calls follow.
package judge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"

	"github.com/google/uuid"

	"github.com/opencircle/insights-core/internal/catalog"
	"github.com/opencircle/insights-core/internal/coreerrors"
	"github.com/opencircle/insights-core/internal/metrics"
	"github.com/opencircle/insights-core/internal/pipeline"
	"github.com/opencircle/insights-core/internal/provider"
	"github.com/opencircle/insights-core/internal/storage"
	"github.com/opencircle/insights-core/internal/trace"
	"github.com/opencircle/insights-core/internal/vault"
)

const (
	stageJudgeMaxTokens   = 3000
	overallJudgeMaxTokens = 4000
	retryBudgetMultiplier = 1.25
)

// defaultEvaluationCriteria is the spec §4.6 default criteria set, used
// whenever a caller submits an empty list.
func defaultEvaluationCriteria() []string {
	return []string{"groundedness", "faithfulness", "completeness", "clarity", "accuracy"}
}

// Input is one create_comparison request (spec §4.6 "Inputs").
type Input struct {
	Tenant             string
	Creator            string
	AnalysisAID        string
	AnalysisBID        string
	JudgeModel         string
	JudgeTemperature   float64
	EvaluationCriteria []string
}

// Result is what a successful judge run produces, ready for the caller
// (internal/comparison) to persist or to have already had persisted by
// this Engine — see Run's doc comment.
type Result struct {
	ComparisonID        string
	JudgeTraceID        string
	OverallWinner       string // "A" | "B" | "tie", the judge's own label — authoritative
	ImpliedWinner       string
	WeightedA           float64
	WeightedB           float64
	QualityImprovement  *float64
	CostDifference      float64
	CostDifferencePct   *float64
	ClampedFields       []string
}

// AnalysisReader loads an Analysis by ID. Satisfied by storage.AnalysisStore.
type AnalysisReader interface {
	ByID(ctx context.Context, id string) (storage.AnalysisRecord, error)
}

// DuplicateChecker runs the Duplicate Guard's fast preflight check.
// Satisfied by storage.ComparisonStore.
type DuplicateChecker interface {
	ExistsForPair(ctx context.Context, tenant, analysisA, analysisB, judgeModel string) (string, bool, error)
}

// ComparisonWriter persists the final Comparison row. Satisfied by
// storage.ComparisonStore; its Insert is the uniqueness backstop behind
// DuplicateChecker's fast-path check (spec §9 "Duplicate guard under
// races").
type ComparisonWriter interface {
	Insert(ctx context.Context, c storage.ComparisonRecord) error
}

// Engine runs blind A/B judge comparisons.
type Engine struct {
	catalog     *catalog.Catalog
	vault       *vault.Vault
	providers   *pipeline.ProviderRegistry
	recorder    *trace.Recorder
	analyses    AnalysisReader
	duplicates  DuplicateChecker
	comparisons ComparisonWriter

	// Metrics is optional; see pipeline.Engine.Metrics for the nil-safe
	// contract every Recorder method honors.
	Metrics *metrics.Recorder
}

// New builds a judge Engine from its collaborators. providers is the
// same ProviderRegistry type the DTA pipeline uses — judge calls are
// routed through the identical provider/credential/circuit-breaker
// machinery, just against the judge_model instead of a stage model.
func New(cat *catalog.Catalog, v *vault.Vault, providers *pipeline.ProviderRegistry, recorder *trace.Recorder,
	analyses AnalysisReader, duplicates DuplicateChecker, comparisons ComparisonWriter) *Engine {
	return &Engine{catalog: cat, vault: v, providers: providers, recorder: recorder,
		analyses: analyses, duplicates: duplicates, comparisons: comparisons}
}

// Run executes preflight, the four blind judge calls, aggregation, and
// persistence (spec §4.6-4.7). On any fatal preflight or parse error, no
// Comparison is written; the judge traces already opened remain for
// diagnostics per spec's "partial success rolled back" rule.
func (e *Engine) Run(ctx context.Context, in Input) (_ Result, runErr error) {
	timer := e.Metrics.JudgeTimer(in.JudgeModel)
	defer func() {
		if timer != nil {
			timer.ObserveDuration()
		}
		outcome := "ok"
		if runErr != nil {
			outcome = "error"
		}
		e.Metrics.ObserveJudgeRun(in.JudgeModel, outcome)
	}()

	criteria := in.EvaluationCriteria
	if len(criteria) == 0 {
		criteria = defaultEvaluationCriteria()
	}

	analysisA, analysisB, err := e.preflight(ctx, in)
	if err != nil {
		return Result{}, err
	}

	entry, err := e.catalog.Lookup(in.JudgeModel)
	if err != nil {
		return Result{}, err
	}

	runner, err := e.providers.Resolve(entry.Provider)
	if err != nil {
		return Result{}, err
	}
	apiKey, handle, err := e.vault.Resolve(ctx, in.Tenant, entry.Provider, analysisA.Project)
	if err != nil {
		return Result{}, err
	}
	defer e.vault.MarkUsed(ctx, handle)

	// Blind labeling: the mapping of physical analysis to judge label is
	// kept entirely local to this call and never persisted (spec §4.6
	// "Blind labeling" — scores/winners are stored as labeled, not
	// translated back to analysis_a/analysis_b).
	aIsLabelA := rand.IntN(2) == 0
	factsA, insightsA, summaryA := analysisA.FactsOutput, analysisA.InsightsOutput, analysisA.SummaryOutput
	factsB, insightsB, summaryB := analysisB.FactsOutput, analysisB.InsightsOutput, analysisB.SummaryOutput
	if !aIsLabelA {
		factsA, factsB = factsB, factsA
		insightsA, insightsB = insightsB, insightsA
		summaryA, summaryB = summaryB, summaryA
	}

	parent, err := e.recorder.OpenParent(ctx, trace.SourceJudge, "judge_comparison", in.Tenant, in.Creator, analysisA.Project,
		map[string]any{"judge_model": in.JudgeModel, "analysis_a": in.AnalysisAID, "analysis_b": in.AnalysisBID})
	if err != nil {
		return Result{}, fmt.Errorf("judge: opening parent trace: %w", err)
	}

	caller := &judgeCaller{
		engine: e, parent: parent, entry: entry, apiKey: apiKey, runner: runner,
		temperature: in.JudgeTemperature, criteria: criteria,
	}

	stage1, clamped1, err := caller.call(ctx, "stage_1_judge", stagePrompt("facts", factsA, factsB, criteria), stageJudgeMaxTokens)
	if err != nil {
		e.abort(ctx, parent, err)
		return Result{}, err
	}
	stage2, clamped2, err := caller.call(ctx, "stage_2_judge", stagePrompt("insights", insightsA, insightsB, criteria), stageJudgeMaxTokens)
	if err != nil {
		e.abort(ctx, parent, err)
		return Result{}, err
	}
	stage3, clamped3, err := caller.call(ctx, "stage_3_judge", stagePrompt("summary", summaryA, summaryB, criteria), stageJudgeMaxTokens)
	if err != nil {
		e.abort(ctx, parent, err)
		return Result{}, err
	}
	overall, clampedOverall, err := caller.call(ctx, "overall_judge",
		overallPrompt(factsA, insightsA, summaryA, factsB, insightsB, summaryB, stage1, stage2, stage3, criteria),
		overallJudgeMaxTokens)
	if err != nil {
		e.abort(ctx, parent, err)
		return Result{}, err
	}

	clampedFields := append(append(append(clamped1, clamped2...), clamped3...), clampedOverall...)

	weightedA := weightedScore(stage1, stage2, stage3, "A", criteria)
	weightedB := weightedScore(stage1, stage2, stage3, "B", criteria)
	implied := impliedWinner(weightedA, weightedB)

	extraMetadata := map[string]any{}
	if len(clampedFields) > 0 {
		extraMetadata["clamped_fields"] = clampedFields
	}
	if overall.Winner != implied {
		slog.Warn("judge: overall winner disagrees with implied winner",
			"trace_id", parent.TraceID, "overall_winner", overall.Winner, "implied_winner", implied,
			"weighted_a", weightedA, "weighted_b", weightedB)
		extraMetadata["warning"] = "judge_overall_disagrees_with_implied"
	}

	costDifference := analysisB.TotalCost - analysisA.TotalCost

	comparisonID := uuid.New().String()
	verdicts, err := json.Marshal(comparisonVerdicts{
		Stage1: stage1, Stage2: stage2, Stage3: stage3, Overall: overall,
		ImpliedWinner: implied, WeightedA: weightedA, WeightedB: weightedB,
		QualityImprovement: qualityImprovement(overall.Winner, weightedA, weightedB),
		CostDifference:     costDifference,
		CostDifferencePct:  costDifferencePct(costDifference, analysisA.TotalCost),
		ClampedFields:      clampedFields,
	})
	if err != nil {
		e.abort(ctx, parent, err)
		return Result{}, fmt.Errorf("judge: encoding verdicts: %w", err)
	}

	record := storage.ComparisonRecord{
		ID: comparisonID, Tenant: in.Tenant, Creator: in.Creator,
		AnalysisA: in.AnalysisAID, AnalysisB: in.AnalysisBID,
		JudgeModel: in.JudgeModel, JudgeModelVersion: entry.ModelVersion, JudgeTemperature: in.JudgeTemperature,
		EvaluationCriteria: criteria, Verdicts: verdicts, JudgeTraceID: parent.TraceID,
		Metadata: extraMetadata,
	}
	if err := e.comparisons.Insert(ctx, record); err != nil {
		e.abort(ctx, parent, err)
		return Result{}, err
	}

	if err := e.recorder.CloseParent(ctx, parent, trace.StatusOK, extraMetadata); err != nil {
		slog.Warn("judge: failed to close parent trace after successful comparison", "trace_id", parent.TraceID, "error", err)
	}
	e.Metrics.ObserveComparisonCreated(implied)

	return Result{
		ComparisonID: comparisonID, JudgeTraceID: parent.TraceID,
		OverallWinner: overall.Winner, ImpliedWinner: implied,
		WeightedA: weightedA, WeightedB: weightedB,
		QualityImprovement: qualityImprovement(overall.Winner, weightedA, weightedB),
		CostDifference:     costDifference,
		CostDifferencePct:  costDifferencePct(costDifference, analysisA.TotalCost),
		ClampedFields:      clampedFields,
	}, nil
}

// comparisonVerdicts is the JSON shape persisted into
// comparisons.verdicts (spec §4.6 aggregation outputs).
type comparisonVerdicts struct {
	Stage1             Verdict  `json:"stage1"`
	Stage2             Verdict  `json:"stage2"`
	Stage3             Verdict  `json:"stage3"`
	Overall            Verdict  `json:"overall"`
	ImpliedWinner      string   `json:"implied_winner"`
	WeightedA          float64  `json:"weighted_a"`
	WeightedB          float64  `json:"weighted_b"`
	QualityImprovement *float64 `json:"quality_improvement"`
	CostDifference     float64  `json:"cost_difference"`
	CostDifferencePct  *float64 `json:"cost_difference_pct"`
	ClampedFields      []string `json:"clamped_fields,omitempty"`
}

// preflight runs spec §4.6's five ordered, all-fatal checks, minus
// catalog resolution (done by the caller once it has both analyses'
// project for credential scoping).
func (e *Engine) preflight(ctx context.Context, in Input) (storage.AnalysisRecord, storage.AnalysisRecord, error) {
	if in.AnalysisAID == in.AnalysisBID {
		return storage.AnalysisRecord{}, storage.AnalysisRecord{},
			coreerrors.New(coreerrors.KindSameAnalysis, "analysis_a and analysis_b must be different analyses")
	}

	analysisA, err := e.analyses.ByID(ctx, in.AnalysisAID)
	if err != nil {
		return storage.AnalysisRecord{}, storage.AnalysisRecord{}, fmt.Errorf("judge: loading analysis_a: %w", err)
	}
	analysisB, err := e.analyses.ByID(ctx, in.AnalysisBID)
	if err != nil {
		return storage.AnalysisRecord{}, storage.AnalysisRecord{}, fmt.Errorf("judge: loading analysis_b: %w", err)
	}

	if analysisA.Tenant != in.Tenant || analysisB.Tenant != in.Tenant {
		return storage.AnalysisRecord{}, storage.AnalysisRecord{},
			coreerrors.New(coreerrors.KindCrossTenant, "both analyses must belong to the caller's tenant")
	}

	if analysisA.TranscriptInput != analysisB.TranscriptInput {
		return storage.AnalysisRecord{}, storage.AnalysisRecord{},
			coreerrors.New(coreerrors.KindTranscriptMismatch, "analysis_a and analysis_b were run on different transcripts")
	}

	existingID, exists, err := e.duplicates.ExistsForPair(ctx, in.Tenant, in.AnalysisAID, in.AnalysisBID, in.JudgeModel)
	if err != nil {
		return storage.AnalysisRecord{}, storage.AnalysisRecord{}, fmt.Errorf("judge: checking duplicate guard: %w", err)
	}
	if exists {
		return storage.AnalysisRecord{}, storage.AnalysisRecord{},
			coreerrors.New(coreerrors.KindDuplicateConflict, "a comparison for this pair and judge model already exists").WithExistingID(existingID)
	}

	return analysisA, analysisB, nil
}

func (e *Engine) abort(ctx context.Context, parent trace.ParentHandle, cause error) {
	slog.Error("judge: aborting comparison run", "trace_id", parent.TraceID, "error", cause)
	if err := e.recorder.CloseParent(ctx, parent, trace.StatusError, nil); err != nil {
		slog.Warn("judge: failed to close parent trace during abort", "trace_id", parent.TraceID, "error", err)
	}
}

// judgeCaller bundles the per-run collaborators a single judge call
// needs, so call() stays focused on the call-then-repair-then-retry
// sequence (spec §4.6 steps 1-6) without a long parameter list.
type judgeCaller struct {
	engine      *Engine
	parent      trace.ParentHandle
	entry       catalog.Entry
	apiKey      string
	runner      *provider.Runner
	temperature float64
	criteria    []string
}

// call executes one judge call, applying the response-parsing fallback
// chain (spec §4.6): local auto-repair first, then — only if that still
// fails — one full retry with an explicit JSON-only prefix and a 25%
// larger token budget. A failure surviving the retry is fatal
// (JudgeParseError); a transport-level failure is surfaced as-is.
func (jc *judgeCaller) call(ctx context.Context, spanName, userPrompt string, maxTokens int) (Verdict, []string, error) {
	span, err := jc.engine.recorder.OpenSpan(ctx, jc.parent, spanName, trace.SpanTypeLLM, jc.entry.ModelName,
		map[string]any{"temperature": jc.temperature, "max_tokens": maxTokens})
	if err != nil {
		return Verdict{}, nil, err
	}

	result, attempt, execErr := jc.exec(ctx, userPrompt, maxTokens)
	if execErr != nil {
		_ = jc.engine.recorder.CloseSpan(ctx, span, nil, attempt, execErr)
		return Verdict{}, nil, execErr
	}

	verdict, clamped, parseErr := parseVerdict(result.Content, jc.criteria)
	if parseErr != nil {
		retryMaxTokens := int(float64(maxTokens) * retryBudgetMultiplier)
		retryResult, retryAttempt, retryErr := jc.exec(ctx, repairRetryPrefix+userPrompt, retryMaxTokens)
		if retryErr != nil {
			_ = jc.engine.recorder.CloseSpan(ctx, span, nil, retryAttempt, retryErr)
			return Verdict{}, nil, retryErr
		}
		verdict, clamped, parseErr = parseVerdict(retryResult.Content, jc.criteria)
		if parseErr != nil {
			fatal := coreerrors.Wrap(coreerrors.KindJudgeParseError,
				"judge response could not be parsed after auto-repair and retry", parseErr).WithModel(jc.entry.ModelName, jc.entry.Provider)
			_ = jc.engine.recorder.CloseSpan(ctx, span, nil, retryAttempt, fatal)
			return Verdict{}, nil, fatal
		}
		result = retryResult
		attempt = retryAttempt
	}

	if err := jc.engine.recorder.CloseSpan(ctx, span, &result, attempt, nil); err != nil {
		slog.Warn("judge: failed to close successful span", "span_id", span.SpanID, "error", err)
	}
	return verdict, clamped, nil
}

func (jc *judgeCaller) exec(ctx context.Context, userPrompt string, maxTokens int) (provider.ExecResult, int, error) {
	req := provider.ExecRequest{
		Model: jc.entry.ModelVersion,
		Messages: []provider.Message{
			{Role: "system", Content: judgeSystemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature:    jc.temperature,
		MaxTokens:      maxTokens,
		ResponseFormat: "json_object",
	}
	payload, _ := provider.BuildPayload(jc.entry.Profile, req)
	// Judge calls never sample on top_p per spec §4.6 ("top_p omitted
	// where mutually exclusive") — BuildPayload only omits it when the
	// profile's mutual-exclusion rule forces that; here it's omitted
	// unconditionally.
	delete(payload, "top_p")

	result, attempt, err := jc.runner.Exec(ctx, payload, jc.apiKey, jc.entry)
	if err != nil {
		return provider.ExecResult{}, attempt, err
	}
	if result.Content == "" {
		return provider.ExecResult{}, attempt, coreerrors.New(coreerrors.KindProviderError,
			"judge model returned empty response").WithModel(jc.entry.ModelName, jc.entry.Provider)
	}
	return result, attempt, nil
}
