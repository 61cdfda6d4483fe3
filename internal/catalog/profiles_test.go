package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProfileByFamily_ResolvesAllFourKnownFamilies(t *testing.T) {
	cases := []struct {
		family        ProviderFamily
		maxTokensName string
	}{
		{FamilyP1LegacyChat, "max_tokens"},
		{FamilyP2NewerChat, "max_completion_tokens"},
		{FamilyP3Reasoning, "max_completion_tokens"},
		{FamilyP4MutuallyExcl, "max_tokens"},
	}
	for _, tc := range cases {
		profile, ok := ProfileByFamily(tc.family)
		assert.True(t, ok, tc.family)
		assert.Equal(t, tc.maxTokensName, profile.MaxTokensName, tc.family)
	}
}

func TestProfileByFamily_UnknownFamilyFails(t *testing.T) {
	_, ok := ProfileByFamily("not-a-real-family")
	assert.False(t, ok)
}

func TestProfileP3Reasoning_ForcesTemperatureAndOmitsTopP(t *testing.T) {
	assert.Equal(t, 1.0, ProfileP3Reasoning.FixedOverrides["temperature"])
	assert.False(t, ProfileP3Reasoning.Supports(ParamTopP))
	assert.True(t, ProfileP3Reasoning.Supports(ParamReasoningEffort))
}

func TestProfileP4MutuallyExclusive_ListsTemperatureAndTopPAsExclusive(t *testing.T) {
	assert.Equal(t, [][2]string{{"temperature", "top_p"}}, ProfileP4MutuallyExclusive.MutuallyExclusive)
}
