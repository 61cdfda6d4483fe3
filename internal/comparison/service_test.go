package comparison_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencircle/insights-core/internal/comparison"
	"github.com/opencircle/insights-core/internal/judge"
	"github.com/opencircle/insights-core/internal/metrics"
	"github.com/opencircle/insights-core/internal/storage"
)

type fakeGuard struct {
	mu          sync.Mutex
	held        bool
	acquireErr  error
	lastKey     comparison.Key
	acquireHook func()
}

func (g *fakeGuard) Acquire(ctx context.Context, key comparison.Key) (comparison.Lease, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lastKey = key
	if g.acquireErr != nil {
		return nil, g.acquireErr
	}
	if g.held {
		return nil, comparison.ErrLockNotAcquired
	}
	g.held = true
	if g.acquireHook != nil {
		g.acquireHook()
	}
	released := false
	return &releasingLease{guard: g, released: &released}, nil
}

type releasingLease struct {
	guard    *fakeGuard
	released *bool
}

func (l *releasingLease) Release(context.Context) error {
	l.guard.mu.Lock()
	defer l.guard.mu.Unlock()
	l.guard.held = false
	*l.released = true
	return nil
}

type fakeJudgeRunner struct {
	result judge.Result
	err    error
	calls  int
}

func (r *fakeJudgeRunner) Run(context.Context, judge.Input) (judge.Result, error) {
	r.calls++
	return r.result, r.err
}

func baseInput() judge.Input {
	return judge.Input{
		Tenant: "tenant-a", Creator: "user-1",
		AnalysisAID: "analysis-a", AnalysisBID: "analysis-b",
		JudgeModel: "gpt-4o",
	}
}

func TestService_RunComparison_AcquiresAndReleasesLock(t *testing.T) {
	guard := &fakeGuard{}
	runner := &fakeJudgeRunner{result: judge.Result{ComparisonID: "cmp-1"}}
	svc := comparison.NewService(guard, runner, nil, nil)

	out, err := svc.RunComparison(context.Background(), baseInput())
	require.NoError(t, err)
	assert.Equal(t, "cmp-1", out.ComparisonID)
	assert.Equal(t, 1, runner.calls)
	assert.False(t, guard.held, "lease must be released after the run completes")
}

func TestService_RunComparison_ReleasesLockEvenOnEngineError(t *testing.T) {
	guard := &fakeGuard{}
	runner := &fakeJudgeRunner{err: errors.New("judge boom")}
	svc := comparison.NewService(guard, runner, nil, nil)

	_, err := svc.RunComparison(context.Background(), baseInput())
	require.Error(t, err)
	assert.False(t, guard.held, "lease must be released even when the wrapped run fails")
}

func TestService_RunComparison_LockKeyIsOrderIndependent(t *testing.T) {
	guard := &fakeGuard{}
	runner := &fakeJudgeRunner{}
	svc := comparison.NewService(guard, runner, nil, nil)

	in := baseInput()
	_, err := svc.RunComparison(context.Background(), in)
	require.NoError(t, err)
	keyAB := guard.lastKey

	swapped := in
	swapped.AnalysisAID, swapped.AnalysisBID = in.AnalysisBID, in.AnalysisAID
	_, err = svc.RunComparison(context.Background(), swapped)
	require.NoError(t, err)
	keyBA := guard.lastKey

	assert.Equal(t, keyAB, keyBA, "the same unordered pair must hash to the same lock key regardless of submission order")
}

func TestService_RunComparison_LockContentionPropagatesAsError(t *testing.T) {
	guard := &fakeGuard{held: true}
	runner := &fakeJudgeRunner{}
	svc := comparison.NewService(guard, runner, nil, nil)

	_, err := svc.RunComparison(context.Background(), baseInput())
	require.Error(t, err)
	assert.ErrorIs(t, err, comparison.ErrLockNotAcquired)
	assert.Equal(t, 0, runner.calls, "the judge engine must never run while the guard is held by someone else")
}

func TestService_RunComparison_NilGuardSkipsLocking(t *testing.T) {
	runner := &fakeJudgeRunner{result: judge.Result{ComparisonID: "cmp-2"}}
	svc := comparison.NewService(nil, runner, nil, nil)

	out, err := svc.RunComparison(context.Background(), baseInput())
	require.NoError(t, err)
	assert.Equal(t, "cmp-2", out.ComparisonID)
}

func TestService_RunComparison_RecordsGuardMetricsOnContention(t *testing.T) {
	guard := &fakeGuard{held: true}
	runner := &fakeJudgeRunner{}
	svc := comparison.NewService(guard, runner, nil, nil)
	svc.Metrics = metrics.NewRecorder(metrics.NewCollector(metrics.Config{Namespace: "insights_core_service_test"}))

	_, err := svc.RunComparison(context.Background(), baseInput())
	require.Error(t, err)
	assert.ErrorIs(t, err, comparison.ErrLockNotAcquired)
}

func TestExecutiveSummary_ExtractsLeadingBlock(t *testing.T) {
	rec := storage.ComparisonRecord{
		Verdicts: []byte(`{"overall":{"winner":"A","reasoning":"## Summary\nCandidate A is more grounded.\n\n## Detail\nmore text"}}`),
	}
	summary, ok := comparison.ExecutiveSummary(rec)
	require.True(t, ok)
	assert.Equal(t, "Candidate A is more grounded.", summary)
}

func TestExecutiveSummary_MissingBlockReturnsFalse(t *testing.T) {
	rec := storage.ComparisonRecord{
		Verdicts: []byte(`{"overall":{"winner":"A","reasoning":"plain reasoning, no markdown headers"}}`),
	}
	_, ok := comparison.ExecutiveSummary(rec)
	assert.False(t, ok)
}

func TestExecutiveSummary_MalformedVerdictsReturnsFalse(t *testing.T) {
	rec := storage.ComparisonRecord{Verdicts: []byte(`not json`)}
	_, ok := comparison.ExecutiveSummary(rec)
	assert.False(t, ok)
}
