package metrics

// Recorder is the domain-facing façade: internal/pipeline, internal/judge,
// and internal/comparison depend on this narrow surface instead of the raw
// Collector, so each call site names its own metric without repeating label
// plumbing. A nil *Recorder is safe to call — every method short-circuits —
// so components can accept one optionally without a separate enabled flag.
type Recorder struct {
	stageCalls      CounterVec
	stageDuration   HistogramVec
	judgeRuns       CounterVec
	judgeDuration   HistogramVec
	guardAcquires   CounterVec
	comparisonsMade CounterVec
	reaperSweeps    CounterVec
}

// NewRecorder registers the full metric set against collector. Call once at
// startup; assign the result to the exported Metrics field of
// pipeline.Engine, judge.Engine, comparison.Service, and comparison.Reaper.
func NewRecorder(collector Collector) *Recorder {
	return &Recorder{
		stageCalls: collector.Counter("pipeline_stage_calls_total",
			"DTA pipeline stage calls by stage and outcome.", "stage", "provider", "outcome"),
		stageDuration: collector.Histogram("pipeline_stage_duration_seconds",
			"DTA pipeline stage call latency.", nil, "stage", "provider"),
		judgeRuns: collector.Counter("judge_runs_total",
			"Judge engine comparison runs by outcome.", "judge_model", "outcome"),
		judgeDuration: collector.Histogram("judge_run_duration_seconds",
			"Judge engine end-to-end comparison latency.", nil, "judge_model"),
		guardAcquires: collector.Counter("duplicate_guard_acquires_total",
			"Duplicate-guard lock attempts by backend and outcome.", "backend", "outcome"),
		comparisonsMade: collector.Counter("comparisons_created_total",
			"Comparisons persisted, by implied winner.", "winner"),
		reaperSweeps: collector.Counter("orphan_reaper_closed_total",
			"Traces force-closed by the orphan reaper, by source.", "source"),
	}
}

// StageTimer returns a Timer for a single pipeline stage call; call
// ObserveDuration when the call returns, and pass the same stage/provider
// labels to ObserveStageCall for the outcome counter.
func (r *Recorder) StageTimer(stage, provider string) *Timer {
	if r == nil {
		return nil
	}
	return NewTimer(r.stageDuration.WithLabelValues(stage, provider))
}

func (r *Recorder) ObserveStageCall(stage, provider, outcome string) {
	if r == nil {
		return
	}
	r.stageCalls.WithLabelValues(stage, provider, outcome).Inc()
}

func (r *Recorder) JudgeTimer(judgeModel string) *Timer {
	if r == nil {
		return nil
	}
	return NewTimer(r.judgeDuration.WithLabelValues(judgeModel))
}

func (r *Recorder) ObserveJudgeRun(judgeModel, outcome string) {
	if r == nil {
		return
	}
	r.judgeRuns.WithLabelValues(judgeModel, outcome).Inc()
}

// ObserveGuardAcquire records a duplicate-guard lock attempt. outcome is one
// of "acquired", "contended", or "error"; backend is "redis" or "postgres".
func (r *Recorder) ObserveGuardAcquire(backend, outcome string) {
	if r == nil {
		return
	}
	r.guardAcquires.WithLabelValues(backend, outcome).Inc()
}

func (r *Recorder) ObserveComparisonCreated(winner string) {
	if r == nil {
		return
	}
	r.comparisonsMade.WithLabelValues(winner).Inc()
}

func (r *Recorder) ObserveReaperClosed(source string) {
	if r == nil {
		return
	}
	r.reaperSweeps.WithLabelValues(source).Inc()
}
