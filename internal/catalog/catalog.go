// Package catalog implements the Model Catalog (C3): a process-wide,
// read-mostly map of model name to provider, pricing, context window,
// capability flags, and parameter-compatibility profile.
package catalog

import (
	"fmt"
	"sync"

	"github.com/opencircle/insights-core/internal/coreerrors"
)

// ProviderFamily tags the wire-protocol variant a model speaks, per
// spec §6 Known profiles P1-P4.
type ProviderFamily string

const (
	FamilyP1LegacyChat     ProviderFamily = "P1_legacy_chat"
	FamilyP2NewerChat      ProviderFamily = "P2_newer_chat"
	FamilyP3Reasoning      ProviderFamily = "P3_reasoning"
	FamilyP4MutuallyExcl   ProviderFamily = "P4_mutually_exclusive_sampling"
)

// SupportedParam names a sampling parameter an adapter may forward.
type SupportedParam string

const (
	ParamTemperature     SupportedParam = "temperature"
	ParamTopP            SupportedParam = "top_p"
	ParamMaxTokens       SupportedParam = "max_tokens_name"
	ParamReasoningEffort SupportedParam = "reasoning_effort"
)

// ParameterProfile describes which sampling parameters a model family
// supports, forces, or treats as mutually exclusive, and which wire
// field name carries the output-token cap. One profile lives per
// Catalog entry; C1's payload builder branches on it exclusively so no
// other part of the system needs to know about provider quirks.
type ParameterProfile struct {
	Family ProviderFamily

	// MaxTokensName is the wire field that carries the output cap:
	// "max_tokens" or "max_completion_tokens".
	MaxTokensName string

	// SupportedParams is the subset of {temperature, top_p,
	// max_tokens_name, reasoning_effort} actually forwarded.
	SupportedParams map[SupportedParam]bool

	// FixedOverrides are values forcibly set regardless of the caller's
	// request (e.g. temperature=1.0 for reasoning models).
	FixedOverrides map[string]any

	// MutuallyExclusive lists parameter pairs at most one of which may
	// appear on the wire. Conflict resolution always prefers the first
	// element (temperature) per spec §4.1.
	MutuallyExclusive [][2]string

	// SupportsResponseFormat reports whether structured-output hints
	// may be requested for this model family.
	SupportsResponseFormat bool
}

// Supports reports whether p forwards the given parameter.
func (p ParameterProfile) Supports(param SupportedParam) bool {
	return p.SupportedParams[param]
}

// Pricing is per-million-token pricing for a model, in the given currency.
type Pricing struct {
	InputPerMillionTokens  float64
	OutputPerMillionTokens float64
	Currency               string
}

// ContextWindow bounds the input/output token budget of a model.
type ContextWindow struct {
	Input  int
	Output int
}

// Entry is a single Model Catalog row (spec §3 "Model Catalog Entry").
type Entry struct {
	ModelName    string // stable, unique
	ModelVersion string // exact provider-API identifier
	Provider     string
	Pricing      Pricing
	Context      ContextWindow
	Capabilities []string
	Active       bool
	Deprecated   bool
	Recommended  bool
	Profile      ParameterProfile
}

// Catalog is the read-mostly, concurrency-safe registry of catalog
// entries. Mirrors the teacher's LLMProviderRegistry: an RWMutex guards
// a map, and every read returns a defensive copy so callers can never
// mutate shared state through a returned pointer.
type Catalog struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// New builds a Catalog from an initial set of entries, typically
// sourced from configuration at startup.
func New(entries map[string]Entry) *Catalog {
	c := &Catalog{entries: make(map[string]Entry, len(entries))}
	for name, e := range entries {
		c.entries[name] = e
	}
	return c
}

// Lookup resolves a model name to its catalog entry. Fails with
// UnknownModel if the model is absent, inactive, or deprecated without
// being explicitly recommended (deprecated-and-blocked per spec §4.3).
func (c *Catalog) Lookup(modelName string) (Entry, error) {
	c.mu.RLock()
	e, ok := c.entries[modelName]
	c.mu.RUnlock()

	if !ok {
		return Entry{}, coreerrors.New(coreerrors.KindUnknownModel,
			fmt.Sprintf("model %q is not registered in the catalog", modelName))
	}
	if !e.Active {
		return Entry{}, coreerrors.New(coreerrors.KindUnknownModel,
			fmt.Sprintf("model %q is registered but not active", modelName)).WithModel(modelName, e.Provider)
	}
	if e.Deprecated && !e.Recommended {
		return Entry{}, coreerrors.New(coreerrors.KindUnknownModel,
			fmt.Sprintf("model %q is deprecated and blocked", modelName)).WithModel(modelName, e.Provider)
	}
	return e, nil
}

// ParameterProfile resolves a model's parameter-compatibility profile.
func (c *Catalog) ParameterProfile(modelName string) (ParameterProfile, error) {
	e, err := c.Lookup(modelName)
	if err != nil {
		return ParameterProfile{}, err
	}
	return e.Profile, nil
}

// Upsert inserts or replaces an entry. Used by config hot-reload.
func (c *Catalog) Upsert(e Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[e.ModelName] = e
}

// All returns a defensive-copy snapshot of every entry, for diagnostics
// and the config reload path; never returns the live map.
func (c *Catalog) All() map[string]Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]Entry, len(c.entries))
	for k, v := range c.entries {
		out[k] = v
	}
	return out
}

// Cost computes the rounded USD cost of a completion per spec §4.1:
// (input_tokens * input_price + output_tokens * output_price) / 1e6,
// rounded to 1e-9.
func Cost(pricing Pricing, inputTokens, outputTokens int) float64 {
	raw := (float64(inputTokens)*pricing.InputPerMillionTokens +
		float64(outputTokens)*pricing.OutputPerMillionTokens) / 1e6
	return roundTo9(raw)
}

func roundTo9(v float64) float64 {
	const scale = 1e9
	if v >= 0 {
		return float64(int64(v*scale+0.5)) / scale
	}
	return float64(int64(v*scale-0.5)) / scale
}
