// Package openaicompat implements a single generic HTTP JSON transport
// shared by Profiles P2 (newer chat), P3 (reasoning), and P4
// (mutually-exclusive sampling). All three profiles speak the same
// OpenAI-style chat-completions wire shape; what differs between them
// is entirely captured by the ParameterProfile that already shaped the
// payload in internal/provider.BuildPayload, so one transport client
// serves all three — grounded on the spec's own "a single
// ParameterProfile record keeps the branching confined" design note.
package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/opencircle/insights-core/internal/catalog"
	"github.com/opencircle/insights-core/internal/coreerrors"
	"github.com/opencircle/insights-core/internal/provider"
)

// Client is a generic OpenAI-compatible chat-completions transport.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// New builds a Client targeting baseURL (e.g. "https://api.openai.com/v1").
func New(baseURL string) *Client {
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 150 * time.Second},
	}
}

type chatCompletionResponse struct {
	Choices []struct {
		Message      struct{ Content string } `json:"message"`
		FinishReason string                    `json:"finish_reason"`
	} `json:"choices"`
	Model string `json:"model"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func (c *Client) Exec(ctx context.Context, payload map[string]any, apiKey string, entry catalog.Entry) (provider.ExecResult, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return provider.ExecResult{}, coreerrors.Wrap(coreerrors.KindProviderError, "marshaling request payload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return provider.ExecResult{}, coreerrors.Wrap(coreerrors.KindProviderError, "building request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	start := time.Now()
	resp, err := c.HTTPClient.Do(req)
	duration := time.Since(start)
	if err != nil {
		return provider.ExecResult{}, coreerrors.Wrap(coreerrors.KindTransientError, "request failed", err).WithModel(entry.ModelName, entry.Provider)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return provider.ExecResult{}, coreerrors.Wrap(coreerrors.KindTransientError, "reading response body", err).WithModel(entry.ModelName, entry.Provider)
	}

	if resp.StatusCode != http.StatusOK {
		return provider.ExecResult{}, provider.ClassifyHTTPStatus(resp.StatusCode,
			fmt.Errorf("openai-compat: status %d: %s", resp.StatusCode, truncate(string(respBody), 500)))
	}

	var parsed chatCompletionResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return provider.ExecResult{}, coreerrors.Wrap(coreerrors.KindProviderError, "parsing response body", err).WithModel(entry.ModelName, entry.Provider)
	}
	if len(parsed.Choices) == 0 || parsed.Choices[0].Message.Content == "" {
		return provider.ExecResult{}, coreerrors.New(coreerrors.KindProviderError, "empty response content").WithModel(entry.ModelName, entry.Provider)
	}

	inputCost := catalog.Cost(entry.Pricing, parsed.Usage.PromptTokens, 0)
	outputCost := catalog.Cost(entry.Pricing, 0, parsed.Usage.CompletionTokens)

	return provider.ExecResult{
		Content:      parsed.Choices[0].Message.Content,
		InputTokens:  parsed.Usage.PromptTokens,
		OutputTokens: parsed.Usage.CompletionTokens,
		TotalTokens:  parsed.Usage.TotalTokens,
		InputCost:    inputCost,
		OutputCost:   outputCost,
		TotalCost:    inputCost + outputCost,
		DurationMS:   duration.Milliseconds(),
		FinishReason: parsed.Choices[0].FinishReason,
		ModelVersion: parsed.Model,
	}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
