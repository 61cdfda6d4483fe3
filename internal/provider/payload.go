package provider

import "github.com/opencircle/insights-core/internal/catalog"

// BuildPayload assembles the wire payload for req against profile,
// following the order fixed by spec §4.1:
//
//  1. start with {model, messages}
//  2. apply fixed_overrides
//  3. for each request-provided parameter, forward iff it is in
//     supported_params, not already set by an override, and not
//     blocked by a mutually-exclusive rule (conflicts prefer temperature)
//
// EffectiveTemperature is returned alongside the payload because the
// caller (DTA pipeline) must persist the *effective* value used, not
// the caller-requested one, when a fixed override silently replaces it.
func BuildPayload(profile catalog.ParameterProfile, req ExecRequest) (payload map[string]any, effectiveTemperature float64) {
	payload = map[string]any{
		"model":    req.Model,
		"messages": renderMessages(req.Messages),
	}

	for k, v := range profile.FixedOverrides {
		payload[k] = v
	}

	blocked := blockedByMutualExclusion(profile, payload)

	if profile.Supports(catalog.ParamTemperature) {
		if _, overridden := payload["temperature"]; !overridden && !blocked["temperature"] {
			payload["temperature"] = req.Temperature
		}
	}
	if profile.Supports(catalog.ParamTopP) {
		if _, overridden := payload["top_p"]; !overridden && !blocked["top_p"] {
			payload["top_p"] = req.TopP
		}
	}
	if profile.Supports(catalog.ParamMaxTokens) && req.MaxTokens > 0 {
		key := profile.MaxTokensName
		if key == "" {
			key = "max_tokens"
		}
		if _, overridden := payload[key]; !overridden {
			payload[key] = req.MaxTokens
		}
	}
	if profile.SupportsResponseFormat && req.ResponseFormat != "" {
		payload["response_format"] = req.ResponseFormat
	}

	// The effective temperature is whatever ended up on the wire under
	// that key; if temperature was blocked or unsupported, nothing
	// overrode the caller's request so it stands as "effective" for
	// persistence purposes even though it was never sent.
	effectiveTemperature = req.Temperature
	if v, ok := payload["temperature"].(float64); ok {
		effectiveTemperature = v
	}

	return payload, effectiveTemperature
}

// blockedByMutualExclusion determines, for each side of every
// mutually-exclusive pair, whether it must be omitted from the payload.
// A pair's first element is the preferred side per spec §4.1 ("when
// conflict, prefer temperature"): if an override already forced one
// side, the other is blocked; if neither side is forced yet, the
// second (non-preferred) side is blocked pre-emptively so BuildPayload
// never sets both from the caller's request.
func blockedByMutualExclusion(profile catalog.ParameterProfile, payload map[string]any) map[string]bool {
	blocked := make(map[string]bool)
	for _, pair := range profile.MutuallyExclusive {
		preferred, other := pair[0], pair[1]
		_, preferredSet := payload[preferred]
		_, otherSet := payload[other]
		switch {
		case preferredSet:
			blocked[other] = true
		case otherSet:
			blocked[preferred] = true
		default:
			blocked[other] = true
		}
	}
	return blocked
}

func renderMessages(msgs []Message) []map[string]string {
	out := make([]map[string]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, map[string]string{"role": m.Role, "content": m.Content})
	}
	return out
}
