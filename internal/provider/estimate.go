package provider

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Estimator provides a pre-flight token estimate for a request before
// it is sent to a provider, so callers can reject requests that would
// obviously blow a model's context window without spending a network
// round trip. This is advisory only — the authoritative token counts
// always come from the provider's own response (ExecResult.InputTokens
// etc).
type Estimator struct {
	mu    sync.Mutex
	cache map[string]*tiktoken.Tiktoken
}

// NewEstimator builds an Estimator with an empty per-encoding cache.
func NewEstimator() *Estimator {
	return &Estimator{cache: make(map[string]*tiktoken.Tiktoken)}
}

// EstimateTokens returns an approximate token count for text under the
// given encoding name (e.g. "cl100k_base"). Falls back to a
// characters/4 heuristic if the encoding cannot be loaded, since this
// is only ever a pre-flight estimate, never billed truth.
func (e *Estimator) EstimateTokens(encoding, text string) int {
	enc, err := e.encodingFor(encoding)
	if err != nil {
		return len(text) / 4
	}
	return len(enc.Encode(text, nil, nil))
}

func (e *Estimator) encodingFor(name string) (*tiktoken.Tiktoken, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if enc, ok := e.cache[name]; ok {
		return enc, nil
	}
	enc, err := tiktoken.GetEncoding(name)
	if err != nil {
		return nil, err
	}
	e.cache[name] = enc
	return enc, nil
}

// EstimateRequestTokens sums the estimate across every message in req.
// The DTA pipeline and judge engines do not call it.
func (e *Estimator) EstimateRequestTokens(encoding string, req ExecRequest) int {
	total := 0
	for _, m := range req.Messages {
		total += e.EstimateTokens(encoding, m.Content)
	}
	return total
}
