package openaicompat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencircle/insights-core/internal/catalog"
	"github.com/opencircle/insights-core/internal/coreerrors"
)

func entryWithPricing() catalog.Entry {
	return catalog.Entry{
		ModelName: "gpt-compat",
		Provider:  "openai",
		Pricing:   catalog.Pricing{InputPerMillionTokens: 1, OutputPerMillionTokens: 2},
	}
}

func TestClient_Exec_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"model": "gpt-compat-2026",
			"choices": []map[string]any{
				{"message": map[string]string{"content": "the answer"}, "finish_reason": "stop"},
			},
			"usage": map[string]int{"prompt_tokens": 100, "completion_tokens": 50, "total_tokens": 150},
		})
	}))
	defer server.Close()

	client := New(server.URL)
	result, err := client.Exec(context.Background(), map[string]any{"model": "gpt-compat"}, "test-key", entryWithPricing())
	require.NoError(t, err)
	assert.Equal(t, "the answer", result.Content)
	assert.Equal(t, 150, result.TotalTokens)
	assert.InDelta(t, 0.0002, result.TotalCost, 1e-9)
}

func TestClient_Exec_ServerErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("overloaded"))
	}))
	defer server.Close()

	client := New(server.URL)
	_, err := client.Exec(context.Background(), map[string]any{}, "k", entryWithPricing())
	assert.True(t, coreerrors.IsKind(err, coreerrors.KindTransientError))
}

func TestClient_Exec_BadRequestIsProviderError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid model"}`))
	}))
	defer server.Close()

	client := New(server.URL)
	_, err := client.Exec(context.Background(), map[string]any{}, "k", entryWithPricing())
	assert.True(t, coreerrors.IsKind(err, coreerrors.KindProviderError))
}

func TestClient_Exec_EmptyContentIsProviderError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"choices": []map[string]any{}})
	}))
	defer server.Close()

	client := New(server.URL)
	_, err := client.Exec(context.Background(), map[string]any{}, "k", entryWithPricing())
	assert.True(t, coreerrors.IsKind(err, coreerrors.KindProviderError))
}
