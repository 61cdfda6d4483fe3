package metrics_test

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencircle/insights-core/internal/metrics"
)

func TestRecorder_ObserveStageCall_IncrementsCounter(t *testing.T) {
	collector := metrics.NewCollector(metrics.Config{Namespace: "insights_core_test"})
	rec := metrics.NewRecorder(collector)

	timer := rec.StageTimer("facts", "anthropic")
	timer.ObserveDuration()
	rec.ObserveStageCall("facts", "anthropic", "ok")
	rec.ObserveStageCall("facts", "anthropic", "error")

	body := scrape(t, collector)
	assert.Contains(t, body, `insights_core_test_pipeline_stage_calls_total{outcome="ok",provider="anthropic",stage="facts"} 1`)
	assert.Contains(t, body, `insights_core_test_pipeline_stage_calls_total{outcome="error",provider="anthropic",stage="facts"} 1`)
	assert.Contains(t, body, "insights_core_test_pipeline_stage_duration_seconds")
}

func TestRecorder_ObserveGuardAcquire_SeparatesBackendsAndOutcomes(t *testing.T) {
	collector := metrics.NewCollector(metrics.Config{Namespace: "insights_core_test"})
	rec := metrics.NewRecorder(collector)

	rec.ObserveGuardAcquire("redis", "acquired")
	rec.ObserveGuardAcquire("redis", "contended")
	rec.ObserveGuardAcquire("postgres", "acquired")

	body := scrape(t, collector)
	assert.Contains(t, body, `insights_core_test_duplicate_guard_acquires_total{backend="redis",outcome="acquired"} 1`)
	assert.Contains(t, body, `insights_core_test_duplicate_guard_acquires_total{backend="redis",outcome="contended"} 1`)
	assert.Contains(t, body, `insights_core_test_duplicate_guard_acquires_total{backend="postgres",outcome="acquired"} 1`)
}

func TestRecorder_NilRecorder_IsSafeToCall(t *testing.T) {
	var rec *metrics.Recorder
	assert.NotPanics(t, func() {
		timer := rec.StageTimer("facts", "anthropic")
		timer.ObserveDuration()
		rec.ObserveStageCall("facts", "anthropic", "ok")
		rec.ObserveJudgeRun("gpt-4o", "ok")
		rec.ObserveGuardAcquire("redis", "acquired")
		rec.ObserveComparisonCreated("a")
		rec.ObserveReaperClosed("judge")
	})
}

func TestRecorder_RepeatedNewRecorder_DoesNotPanicOnReregistration(t *testing.T) {
	collector := metrics.NewCollector(metrics.Config{Namespace: "insights_core_test_dup"})
	assert.NotPanics(t, func() {
		metrics.NewRecorder(collector)
		metrics.NewRecorder(collector)
	})
}

func scrape(t *testing.T, collector metrics.Collector) string {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	collector.Handler().ServeHTTP(rec, req)
	require.Equal(t, 200, rec.Code)
	return rec.Body.String()
}
