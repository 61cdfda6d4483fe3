package catalog

// Canonical parameter profiles for the four provider families named in
// spec §4.1/§6. Config loading resolves a YAML catalog entry's family
// name to one of these via ProfileByFamily rather than letting operators
// hand-author SupportedParams/FixedOverrides/MutuallyExclusive, since
// those are fixed by each provider's documented wire contract, not a
// per-deployment choice.
var (
	ProfileP1LegacyChat = ParameterProfile{
		Family:        FamilyP1LegacyChat,
		MaxTokensName: "max_tokens",
		SupportedParams: map[SupportedParam]bool{
			ParamTemperature: true,
			ParamTopP:        true,
			ParamMaxTokens:   true,
		},
		SupportsResponseFormat: true,
	}

	ProfileP2NewerChat = ParameterProfile{
		Family:        FamilyP2NewerChat,
		MaxTokensName: "max_completion_tokens",
		SupportedParams: map[SupportedParam]bool{
			ParamTemperature: true,
			ParamTopP:        true,
			ParamMaxTokens:   true,
		},
		SupportsResponseFormat: true,
	}

	ProfileP3Reasoning = ParameterProfile{
		Family:        FamilyP3Reasoning,
		MaxTokensName: "max_completion_tokens",
		SupportedParams: map[SupportedParam]bool{
			ParamMaxTokens:       true,
			ParamReasoningEffort: true,
		},
		FixedOverrides: map[string]any{
			"temperature": 1.0,
		},
		SupportsResponseFormat: true,
	}

	ProfileP4MutuallyExclusive = ParameterProfile{
		Family:        FamilyP4MutuallyExcl,
		MaxTokensName: "max_tokens",
		SupportedParams: map[SupportedParam]bool{
			ParamTemperature: true,
			ParamTopP:        true,
			ParamMaxTokens:   true,
		},
		MutuallyExclusive: [][2]string{{"temperature", "top_p"}},
	}
)

// ProfileByFamily resolves a family name (as it appears in catalog
// configuration) to its canonical ParameterProfile.
func ProfileByFamily(family ProviderFamily) (ParameterProfile, bool) {
	switch family {
	case FamilyP1LegacyChat:
		return ProfileP1LegacyChat, true
	case FamilyP2NewerChat:
		return ProfileP2NewerChat, true
	case FamilyP3Reasoning:
		return ProfileP3Reasoning, true
	case FamilyP4MutuallyExcl:
		return ProfileP4MutuallyExclusive, true
	default:
		return ParameterProfile{}, false
	}
}
