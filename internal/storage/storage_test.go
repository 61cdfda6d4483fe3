package storage_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencircle/insights-core/internal/catalog"
	"github.com/opencircle/insights-core/internal/coreerrors"
	"github.com/opencircle/insights-core/internal/storage"
	"github.com/opencircle/insights-core/internal/vault"
)

func TestCredentialStore_InsertListIncrementUsage(t *testing.T) {
	pool := openTestPool(t)
	store := storage.NewCredentialStore(pool)
	ctx := context.Background()

	tenant := "tenant-" + uuid.New().String()
	cred, err := store.Insert(ctx, vault.Credential{
		Tenant: tenant, Provider: "openai", Project: "", EncryptedKey: "enc:v1:deadbeef",
		Active: true, Default: true,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, cred.ID)

	active, err := store.ListActive(ctx, tenant, "openai")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.True(t, active[0].Default)
	assert.Equal(t, int64(0), active[0].UsageCount)

	require.NoError(t, store.IncrementUsage(ctx, cred.ID, time.Now()))
	got, err := store.Get(ctx, cred.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.UsageCount)
	assert.False(t, got.LastUsedAt.IsZero())
}

func TestCredentialStore_IncrementUsage_UnknownIDFails(t *testing.T) {
	pool := openTestPool(t)
	store := storage.NewCredentialStore(pool)
	err := store.IncrementUsage(context.Background(), uuid.New().String(), time.Now())
	assert.Error(t, err)
}

func TestCatalogStore_UpsertAndLoadAll(t *testing.T) {
	pool := openTestPool(t)
	store := storage.NewCatalogStore(pool)
	ctx := context.Background()

	modelName := "model-" + uuid.New().String()
	entry := catalog.Entry{
		ModelName: modelName, ModelVersion: "v1", Provider: "openai",
		Pricing:      catalog.Pricing{InputPerMillionTokens: 1, OutputPerMillionTokens: 2, Currency: "USD"},
		Context:      catalog.ContextWindow{Input: 128000, Output: 4096},
		Capabilities: []string{"chat"},
		Active:       true,
		Profile: catalog.ParameterProfile{
			Family:          catalog.FamilyP1LegacyChat,
			MaxTokensName:   "max_tokens",
			SupportedParams: map[catalog.SupportedParam]bool{catalog.ParamTemperature: true},
		},
	}
	require.NoError(t, store.Upsert(ctx, entry))

	all, err := store.LoadAll(ctx)
	require.NoError(t, err)
	loaded, ok := all[modelName]
	require.True(t, ok)
	assert.Equal(t, entry.Provider, loaded.Provider)
	assert.Equal(t, entry.Profile.Family, loaded.Profile.Family)
	assert.True(t, loaded.Profile.Supports(catalog.ParamTemperature))

	entry.Active = false
	require.NoError(t, store.Upsert(ctx, entry))
	all, err = store.LoadAll(ctx)
	require.NoError(t, err)
	assert.False(t, all[modelName].Active)
}

func TestTraceStore_OpenCloseTraceAndSpan(t *testing.T) {
	pool := openTestPool(t)
	store := storage.NewTraceStore(pool)
	ctx := context.Background()

	traceID := uuid.New().String()
	require.NoError(t, store.InsertTrace(ctx, storage.TraceRecord{
		ID: traceID, OTelTraceID: uuid.New().String(), Name: "dta_pipeline",
		Status: "in_progress", Tenant: "tenant-a", Creator: "user-a",
		Source: "pipeline", Metadata: map[string]any{"stage": "facts"},
		CreatedAt: time.Now(),
	}))

	spanID := uuid.New().String()
	require.NoError(t, store.InsertSpan(ctx, storage.SpanRecord{
		ID: spanID, OTelSpanID: uuid.New().String(), TraceID: traceID,
		Name: "facts_stage", SpanType: "llm_call", ModelName: "gpt-4o",
		Status: "in_progress", Attempt: 1, StartTime: time.Now(),
		Metadata: map[string]any{},
	}))
	require.NoError(t, store.CloseSpan(ctx, spanID, "success", 100, 50, 0.0002, 2, time.Now()))

	spans, err := store.SpansForTrace(ctx, traceID)
	require.NoError(t, err)
	require.Len(t, spans, 1)
	assert.Equal(t, 150, spans[0].TotalTokens)
	assert.Equal(t, "success", spans[0].Status)
	assert.Equal(t, 2, spans[0].Attempt)

	require.NoError(t, store.CloseTrace(ctx, traceID, "success", 150, 0.0002, 1200, time.Now(), nil))
	trace, err := store.TraceByID(ctx, traceID)
	require.NoError(t, err)
	assert.Equal(t, "success", trace.Status)
	assert.Equal(t, 150, trace.TotalTokens)
}

func TestAnalysisStore_InsertAndByID(t *testing.T) {
	pool := openTestPool(t)
	store := storage.NewAnalysisStore(pool)
	ctx := context.Background()

	id := uuid.New().String()
	record := storage.AnalysisRecord{
		ID: id, Tenant: "tenant-a", Creator: "user-a", TranscriptInput: "hello world",
		FactsOutput: "facts", InsightsOutput: "insights", SummaryOutput: "summary",
		StageParams:   map[string]any{"facts": map[string]any{"temperature": 0.2}},
		SystemPrompts: map[string]string{"facts": "extract facts"},
		Models:        map[string]string{"facts": "gpt-4o"},
		TotalTokens:   300, TotalCost: 0.0006, TotalDurationMS: 2400,
	}
	require.NoError(t, store.Insert(ctx, record))

	got, err := store.ByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, record.FactsOutput, got.FactsOutput)
	assert.Equal(t, record.Models["facts"], got.Models["facts"])
	assert.Equal(t, 300, got.TotalTokens)
}

func TestComparisonStore_DuplicatePairRejected(t *testing.T) {
	pool := openTestPool(t)
	analyses := storage.NewAnalysisStore(pool)
	comparisons := storage.NewComparisonStore(pool)
	ctx := context.Background()

	tenant := "tenant-" + uuid.New().String()
	a := insertBareAnalysis(t, ctx, analyses, tenant)
	b := insertBareAnalysis(t, ctx, analyses, tenant)

	verdicts, _ := json.Marshal(map[string]any{"facts": "a_better"})
	base := storage.ComparisonRecord{
		ID: uuid.New().String(), Tenant: tenant, Creator: "user-a",
		AnalysisA: a, AnalysisB: b, JudgeModel: "gpt-4o", JudgeModelVersion: "2026-01-01",
		JudgeTemperature: 0.0, EvaluationCriteria: []string{"accuracy"}, Verdicts: verdicts,
	}
	require.NoError(t, comparisons.Insert(ctx, base))

	// Swapped order, same pair + judge model: still a duplicate.
	dup := base
	dup.ID = uuid.New().String()
	dup.AnalysisA, dup.AnalysisB = b, a
	err := comparisons.Insert(ctx, dup)
	require.Error(t, err)
	assert.True(t, coreerrors.IsKind(err, coreerrors.KindDuplicateConflict))

	existingID, found, err := comparisons.ExistsForPair(ctx, tenant, a, b, "gpt-4o")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, base.ID, existingID)
}

func insertBareAnalysis(t *testing.T, ctx context.Context, store *storage.AnalysisStore, tenant string) string {
	t.Helper()
	id := uuid.New().String()
	require.NoError(t, store.Insert(ctx, storage.AnalysisRecord{
		ID: id, Tenant: tenant, Creator: "user-a", TranscriptInput: "x",
		FactsOutput: "f", InsightsOutput: "i", SummaryOutput: "s",
		StageParams: map[string]any{}, SystemPrompts: map[string]string{}, Models: map[string]string{},
	}))
	return id
}
