// Package bedrock implements a second Profile-P1-family transport: the
// same neutral contract as internal/provider/anthropic, but routed
// through AWS Bedrock's Converse API instead of talking to the
// provider directly. Selected when a catalog entry's provider is
// "bedrock" rather than "anthropic".
package bedrock

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/opencircle/insights-core/internal/catalog"
	"github.com/opencircle/insights-core/internal/coreerrors"
	"github.com/opencircle/insights-core/internal/provider"
)

// Client adapts provider.ExecRequest/ExecResult onto Bedrock's Converse
// API. Unlike the anthropic.Client, Bedrock authenticates via AWS
// credentials rather than a bearer key; the vault-resolved "API key"
// here is interpreted as a static-credentials secret access key, with
// the catalog entry's ModelName used as the access key ID (a pragmatic reuse of the single
// string the vault hands back — see DESIGN.md for the Open Question
// this resolves).
type Client struct {
	Region string
}

// New builds a Client targeting the given AWS region.
func New(region string) *Client {
	return &Client{Region: region}
}

func (c *Client) Exec(ctx context.Context, payload map[string]any, apiKey string, entry catalog.Entry) (provider.ExecResult, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(c.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(entry.ModelName, apiKey, "")),
	)
	if err != nil {
		return provider.ExecResult{}, coreerrors.Wrap(coreerrors.KindAuthError, "loading bedrock credentials", err)
	}
	client := bedrockruntime.NewFromConfig(cfg)

	input, err := toConverseInput(payload, entry)
	if err != nil {
		return provider.ExecResult{}, coreerrors.Wrap(coreerrors.KindProviderError, "assembling bedrock request", err).WithModel(entry.ModelName, entry.Provider)
	}

	start := time.Now()
	out, err := client.Converse(ctx, input)
	duration := time.Since(start)
	if err != nil {
		return provider.ExecResult{}, classifyBedrockError(err, entry)
	}

	content := extractText(out.Output)
	if content == "" {
		return provider.ExecResult{}, coreerrors.New(coreerrors.KindProviderError, "empty response content").WithModel(entry.ModelName, entry.Provider)
	}

	var inputTokens, outputTokens int
	if out.Usage != nil {
		inputTokens = int(aws.ToInt32(out.Usage.InputTokens))
		outputTokens = int(aws.ToInt32(out.Usage.OutputTokens))
	}
	inputCost := catalog.Cost(entry.Pricing, inputTokens, 0)
	outputCost := catalog.Cost(entry.Pricing, 0, outputTokens)

	return provider.ExecResult{
		Content:      content,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		TotalTokens:  inputTokens + outputTokens,
		InputCost:    inputCost,
		OutputCost:   outputCost,
		TotalCost:    inputCost + outputCost,
		DurationMS:   duration.Milliseconds(),
		FinishReason: string(out.StopReason),
		ModelVersion: entry.ModelVersion,
	}, nil
}

func toConverseInput(payload map[string]any, entry catalog.Entry) (*bedrockruntime.ConverseInput, error) {
	rawMessages, _ := payload["messages"].([]map[string]string)

	var system []types.SystemContentBlock
	var turns []types.Message
	for _, m := range rawMessages {
		block := types.ContentBlockMemberText{Value: m["content"]}
		switch m["role"] {
		case "system":
			system = append(system, &types.SystemContentBlockMemberText{Value: m["content"]})
		case "assistant":
			turns = append(turns, types.Message{Role: types.ConversationRoleAssistant, Content: []types.ContentBlock{&block}})
		default:
			turns = append(turns, types.Message{Role: types.ConversationRoleUser, Content: []types.ContentBlock{&block}})
		}
	}

	inferenceConfig := &types.InferenceConfiguration{}
	if mt, ok := payload["max_tokens"].(int); ok {
		inferenceConfig.MaxTokens = aws.Int32(int32(mt))
	}
	if temp, ok := payload["temperature"].(float64); ok {
		inferenceConfig.Temperature = aws.Float32(float32(temp))
	}
	if topP, ok := payload["top_p"].(float64); ok {
		inferenceConfig.TopP = aws.Float32(float32(topP))
	}

	return &bedrockruntime.ConverseInput{
		ModelId:         aws.String(entry.ModelVersion),
		Messages:        turns,
		System:          system,
		InferenceConfig: inferenceConfig,
	}, nil
}

func extractText(output types.ConverseOutput) string {
	member, ok := output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return ""
	}
	for _, block := range member.Value.Content {
		if text, ok := block.(*types.ContentBlockMemberText); ok {
			return text.Value
		}
	}
	return ""
}

func classifyBedrockError(err error, entry catalog.Entry) error {
	// Bedrock's SDK surfaces throttling/5xx as smithy retryable errors;
	// without wire access to the exact status code, the conservative
	// classification below requires a retry judgment from the circuit
	// breaker's consecutive-failure count rather than a single status.
	return coreerrors.Wrap(coreerrors.KindTransientError, fmt.Sprintf("bedrock converse failed for %s", entry.ModelName), err).WithModel(entry.ModelName, entry.Provider)
}
