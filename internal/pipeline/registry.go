package pipeline

import (
	"fmt"
	"sync"

	"github.com/opencircle/insights-core/internal/coreerrors"
	"github.com/opencircle/insights-core/internal/provider"
)

// ProviderRegistry maps a provider name ("anthropic", "bedrock",
// "openai", ...) to the Runner that executes calls for it. Grounded on
// the teacher's pkg/config/llm.go LLMProviderRegistry: an RWMutex guards
// a map and every read is a plain lookup (runners themselves are
// already concurrency-safe, so no defensive copy is needed here).
type ProviderRegistry struct {
	mu      sync.RWMutex
	runners map[string]*provider.Runner
}

// NewProviderRegistry builds an empty registry.
func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{runners: make(map[string]*provider.Runner)}
}

// Register binds providerName to runner, replacing any prior binding.
func (r *ProviderRegistry) Register(providerName string, runner *provider.Runner) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runners[providerName] = runner
}

// Resolve looks up the Runner for providerName.
func (r *ProviderRegistry) Resolve(providerName string) (*provider.Runner, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	runner, ok := r.runners[providerName]
	if !ok {
		return nil, coreerrors.New(coreerrors.KindUnknownModel,
			fmt.Sprintf("no provider runner registered for %q", providerName))
	}
	return runner, nil
}
