// Package provider implements the Provider Adapter (C1): translating a
// neutral execution request into each provider's wire format, honoring
// per-model parameter-compatibility rules, and parsing the response
// back into tokens/cost/latency. Concrete wire clients live in the
// anthropic, bedrock, and openaicompat subpackages; this package owns
// the provider-agnostic contract, payload assembly, and the
// retry/circuit-breaker wrapper every concrete client is run through.
package provider

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/opencircle/insights-core/internal/catalog"
	"github.com/opencircle/insights-core/internal/coreerrors"
)

// Message is one turn in the chat-style request sent to a provider.
type Message struct {
	Role    string // "system" | "user" | "assistant"
	Content string
}

// ExecRequest is the neutral execution request contract from spec §4.1.
type ExecRequest struct {
	Model           string
	Messages        []Message
	Temperature     float64
	TopP            float64
	MaxTokens       int
	ResponseFormat  string // structured-output hint; empty means none requested
}

// ExecResult is the neutral execution result contract from spec §4.1.
type ExecResult struct {
	Content          string
	InputTokens      int
	OutputTokens     int
	TotalTokens      int
	InputCost        float64
	OutputCost       float64
	TotalCost        float64
	DurationMS       int64
	FinishReason     string
	ModelVersion     string
	ProviderRequestID string
}

// Adapter is the interface a concrete wire client implements. Exec must
// not mutate caller state and must have no side effects beyond the
// single outbound call (spec §4.1 "Side effects").
type Adapter interface {
	// Exec sends payload (already assembled by BuildPayload) to the
	// provider using apiKey for authentication, and returns token/cost
	// accounting derived from the provider's response.
	Exec(ctx context.Context, payload map[string]any, apiKey string, entry catalog.Entry) (ExecResult, error)
}

// RetryConfig bounds the adapter's retry behavior. Per spec §4.5, stage
// calls retry transient errors up to 2 times with exponential backoff
// starting at 250ms, jittered.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	Timeout        time.Duration
}

// DefaultRetryConfig matches the spec's stage-call defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     2,
		InitialBackoff: 250 * time.Millisecond,
		Timeout:        120 * time.Second,
	}
}

// Runner executes an Adapter call behind a circuit breaker and the
// spec's jittered-exponential-backoff retry policy. One Runner is built
// per provider (the breaker trips per-provider, not globally), mirroring
// how the teacher's mcp/recovery.go classifies failures before deciding
// whether a retry is worthwhile at all.
type Runner struct {
	adapter Adapter
	breaker *gobreaker.CircuitBreaker
	retry   RetryConfig
}

// NewRunner wraps adapter with a named circuit breaker and retry policy.
func NewRunner(name string, adapter Adapter, retry RetryConfig) *Runner {
	settings := gobreaker.Settings{
		Name:    name,
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	return &Runner{
		adapter: adapter,
		breaker: gobreaker.NewCircuitBreaker(settings),
		retry:   retry,
	}
}

// Exec runs payload through the wrapped adapter, retrying transient
// failures per RetryConfig and tripping the circuit breaker on
// sustained failure. attempt (starting at 1) is returned so callers can
// record it as span metadata (spec scenario S5's "attempt count").
func (r *Runner) Exec(ctx context.Context, payload map[string]any, apiKey string, entry catalog.Entry) (result ExecResult, attempt int, err error) {
	ctx, cancel := context.WithTimeout(ctx, r.retry.Timeout)
	defer cancel()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.retry.InitialBackoff
	b.RandomizationFactor = 0.5 // jitter
	bo := backoff.WithMaxRetries(b, uint64(r.retry.MaxRetries))

	operation := func() error {
		attempt++
		out, execErr := r.breaker.Execute(func() (any, error) {
			return r.adapter.Exec(ctx, payload, apiKey, entry)
		})
		if execErr != nil {
			if errors.Is(execErr, gobreaker.ErrOpenState) {
				return backoff.Permanent(coreerrors.Wrap(coreerrors.KindTransientError,
					"circuit breaker open, provider unavailable", execErr).WithModel(entry.ModelName, entry.Provider))
			}
			if coreerrors.IsKind(execErr, coreerrors.KindTransientError) {
				return execErr // retryable
			}
			return backoff.Permanent(execErr)
		}
		result = out.(ExecResult)
		return nil
	}

	err = backoff.Retry(operation, bo)
	if err != nil {
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			err = permanent.Err
		}
		return ExecResult{}, attempt, err
	}
	return result, attempt, nil
}

// JitteredBackoff returns a duration in [base, base*2) for callers that
// implement their own retry loop outside of Runner (kept for parity
// with the teacher's queue/worker.go poll-interval jitter idiom).
func JitteredBackoff(base time.Duration) time.Duration {
	return base + time.Duration(rand.Int64N(int64(base)))
}

// ClassifyHTTPStatus maps a provider HTTP status code to an error kind
// per spec §4.1: connection/5xx/timeout -> TransientError; 4xx ->
// ProviderError; 401/403 -> AuthError.
func ClassifyHTTPStatus(status int, cause error) error {
	switch {
	case status == 401 || status == 403:
		return coreerrors.Wrap(coreerrors.KindAuthError, "provider rejected credentials", cause)
	case status >= 500:
		return coreerrors.Wrap(coreerrors.KindTransientError, fmt.Sprintf("provider returned %d", status), cause)
	case status >= 400:
		return coreerrors.Wrap(coreerrors.KindProviderError, fmt.Sprintf("provider returned %d", status), cause)
	default:
		return cause
	}
}

// LogSafeSummary returns a log-safe one-line summary of req, omitting
// message content (which may contain transcript or credential-adjacent
// text) — only shape, never payload, reaches slog per the ambient
// logging rule in SPEC_FULL.md.
func LogSafeSummary(req ExecRequest) string {
	return fmt.Sprintf("model=%s messages=%d max_tokens=%d", req.Model, len(req.Messages), req.MaxTokens)
}
