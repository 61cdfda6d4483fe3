package bedrock

import (
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencircle/insights-core/internal/catalog"
)

func TestToConverseInput_SeparatesSystemAndSetsInferenceConfig(t *testing.T) {
	payload := map[string]any{
		"messages": []map[string]string{
			{"role": "system", "content": "Be terse."},
			{"role": "user", "content": "Summarize."},
		},
		"max_tokens":  800,
		"temperature": 0.5,
	}
	entry := catalog.Entry{ModelVersion: "anthropic.claude-3-haiku"}

	input, err := toConverseInput(payload, entry)
	require.NoError(t, err)

	assert.Equal(t, "anthropic.claude-3-haiku", *input.ModelId)
	assert.Len(t, input.System, 1)
	assert.Len(t, input.Messages, 1)
	assert.Equal(t, types.ConversationRoleUser, input.Messages[0].Role)
	require.NotNil(t, input.InferenceConfig.MaxTokens)
	assert.Equal(t, int32(800), *input.InferenceConfig.MaxTokens)
}

func TestExtractText_ReturnsFirstTextBlock(t *testing.T) {
	output := &types.ConverseOutputMemberMessage{
		Value: types.Message{
			Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: "hello"}},
		},
	}
	assert.Equal(t, "hello", extractText(output))
}

func TestExtractText_UnknownOutputShapeReturnsEmpty(t *testing.T) {
	assert.Equal(t, "", extractText(nil))
}
