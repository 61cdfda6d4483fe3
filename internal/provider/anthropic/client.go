// Package anthropic implements the Profile-P1 concrete Provider Adapter
// (C1) transport for Anthropic's Messages API.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"time"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/opencircle/insights-core/internal/catalog"
	"github.com/opencircle/insights-core/internal/coreerrors"
	"github.com/opencircle/insights-core/internal/provider"
)

// Client adapts provider.ExecRequest/ExecResult onto the Anthropic SDK.
// One Client is safe to share across concurrent pipeline/judge runs: the
// SDK client itself holds no per-call state, and BaseURL/apiKey are
// supplied fresh on every Exec call since credentials are resolved
// per (tenant, provider, project) by the vault.
type Client struct {
	baseURL string
}

// New builds a Client. baseURL may be empty to use the SDK default.
func New(baseURL string) *Client {
	return &Client{baseURL: baseURL}
}

// Exec sends payload (already assembled by provider.BuildPayload against
// the model's ParameterProfile) to Anthropic and translates the response
// into a neutral ExecResult with cost computed from entry.Pricing.
func (c *Client) Exec(ctx context.Context, payload map[string]any, apiKey string, entry catalog.Entry) (provider.ExecResult, error) {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if c.baseURL != "" {
		opts = append(opts, option.WithBaseURL(c.baseURL))
	}
	sdkClient := anthropicsdk.NewClient(opts...)

	params, err := toMessageParams(payload, entry)
	if err != nil {
		return provider.ExecResult{}, coreerrors.Wrap(coreerrors.KindProviderError, "assembling anthropic request", err).WithModel(entry.ModelName, entry.Provider)
	}

	start := time.Now()
	msg, err := sdkClient.Messages.New(ctx, params)
	duration := time.Since(start)
	if err != nil {
		return provider.ExecResult{}, classifyAnthropicError(err, entry)
	}

	content := ""
	if len(msg.Content) > 0 {
		content = msg.Content[0].Text
	}
	if content == "" {
		return provider.ExecResult{}, coreerrors.New(coreerrors.KindProviderError, "empty response content").WithModel(entry.ModelName, entry.Provider)
	}

	inputTokens := int(msg.Usage.InputTokens)
	outputTokens := int(msg.Usage.OutputTokens)
	inputCost := catalog.Cost(entry.Pricing, inputTokens, 0)
	outputCost := catalog.Cost(entry.Pricing, 0, outputTokens)

	return provider.ExecResult{
		Content:       content,
		InputTokens:   inputTokens,
		OutputTokens:  outputTokens,
		TotalTokens:   inputTokens + outputTokens,
		InputCost:     inputCost,
		OutputCost:    outputCost,
		TotalCost:     inputCost + outputCost,
		DurationMS:    duration.Milliseconds(),
		FinishReason:  string(msg.StopReason),
		ModelVersion:  string(msg.Model),
	}, nil
}

func toMessageParams(payload map[string]any, entry catalog.Entry) (anthropicsdk.MessageNewParams, error) {
	rawMessages, _ := payload["messages"].([]map[string]string)

	var system string
	var turns []anthropicsdk.MessageParam
	for _, m := range rawMessages {
		if m["role"] == "system" {
			system = m["content"]
			continue
		}
		block := anthropicsdk.NewTextBlock(m["content"])
		if m["role"] == "assistant" {
			turns = append(turns, anthropicsdk.NewAssistantMessage(block))
		} else {
			turns = append(turns, anthropicsdk.NewUserMessage(block))
		}
	}

	maxTokens := 1024
	if mt, ok := payload["max_tokens"].(int); ok {
		maxTokens = mt
	}

	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.F(entry.ModelVersion),
		MaxTokens: anthropicsdk.F(int64(maxTokens)),
		Messages:  anthropicsdk.F(turns),
	}
	if system != "" {
		params.System = anthropicsdk.F([]anthropicsdk.TextBlockParam{anthropicsdk.NewTextBlock(system)})
	}
	if temp, ok := payload["temperature"].(float64); ok {
		params.Temperature = anthropicsdk.F(temp)
	}
	if topP, ok := payload["top_p"].(float64); ok {
		params.TopP = anthropicsdk.F(topP)
	}
	return params, nil
}

func classifyAnthropicError(err error, entry catalog.Entry) error {
	var apiErr *anthropicsdk.Error
	if errors.As(err, &apiErr) {
		classified := provider.ClassifyHTTPStatus(apiErr.StatusCode, err)
		if ce, ok := classified.(*coreerrors.Error); ok {
			return ce.WithModel(entry.ModelName, entry.Provider)
		}
		return classified
	}
	return coreerrors.Wrap(coreerrors.KindTransientError, fmt.Sprintf("anthropic call failed for %s", entry.ModelName), err)
}
