package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencircle/insights-core/internal/catalog"
)

func TestBuildPayload_ProfileP1LegacyChat(t *testing.T) {
	profile := catalog.ParameterProfile{
		Family:        catalog.FamilyP1LegacyChat,
		MaxTokensName: "max_tokens",
		SupportedParams: map[catalog.SupportedParam]bool{
			catalog.ParamTemperature: true,
			catalog.ParamTopP:        true,
			catalog.ParamMaxTokens:   true,
		},
	}
	req := ExecRequest{Model: "m1", Temperature: 0.25, TopP: 0.95, MaxTokens: 1000}

	payload, effTemp := BuildPayload(profile, req)

	assert.Equal(t, "m1", payload["model"])
	assert.Equal(t, 0.25, payload["temperature"])
	assert.Equal(t, 0.95, payload["top_p"])
	assert.Equal(t, 1000, payload["max_tokens"])
	assert.Equal(t, 0.25, effTemp)
}

func TestBuildPayload_ProfileP3Reasoning_Scenario4(t *testing.T) {
	// Spec scenario S4: Profile-P3 model, caller temperature=0.2, top_p=0.9.
	// Expected outgoing payload: temperature=1.0, no top_p, max_completion_tokens key.
	profile := catalog.ParameterProfile{
		Family:        catalog.FamilyP3Reasoning,
		MaxTokensName: "max_completion_tokens",
		SupportedParams: map[catalog.SupportedParam]bool{
			catalog.ParamTemperature:     true,
			catalog.ParamMaxTokens:       true,
			catalog.ParamReasoningEffort: true,
		},
		FixedOverrides: map[string]any{"temperature": 1.0},
	}
	req := ExecRequest{Model: "reasoner-1", Temperature: 0.2, TopP: 0.9, MaxTokens: 2000}

	payload, effTemp := BuildPayload(profile, req)

	assert.Equal(t, 1.0, payload["temperature"])
	assert.NotContains(t, payload, "top_p")
	require.Contains(t, payload, "max_completion_tokens")
	assert.Equal(t, 2000, payload["max_completion_tokens"])
	assert.Equal(t, 1.0, effTemp, "effective temperature must reflect the forced override")
}

func TestBuildPayload_ProfileP4_MutuallyExclusivePrefersTemperature(t *testing.T) {
	profile := catalog.ParameterProfile{
		Family:        catalog.FamilyP4MutuallyExcl,
		MaxTokensName: "max_tokens",
		SupportedParams: map[catalog.SupportedParam]bool{
			catalog.ParamTemperature: true,
			catalog.ParamTopP:        true,
			catalog.ParamMaxTokens:   true,
		},
		MutuallyExclusive: [][2]string{{"temperature", "top_p"}},
	}
	req := ExecRequest{Model: "m4", Temperature: 0.3, TopP: 0.8, MaxTokens: 500}

	payload, _ := BuildPayload(profile, req)

	assert.Equal(t, 0.3, payload["temperature"])
	assert.NotContains(t, payload, "top_p")
}

func TestBuildPayload_UnsupportedParamsOmitted(t *testing.T) {
	profile := catalog.ParameterProfile{
		MaxTokensName:   "max_tokens",
		SupportedParams: map[catalog.SupportedParam]bool{catalog.ParamMaxTokens: true},
	}
	req := ExecRequest{Model: "bare", Temperature: 0.5, TopP: 0.5, MaxTokens: 10}

	payload, _ := BuildPayload(profile, req)

	assert.NotContains(t, payload, "temperature")
	assert.NotContains(t, payload, "top_p")
	assert.Equal(t, 10, payload["max_tokens"])
}
