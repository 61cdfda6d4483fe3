package redact_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencircle/insights-core/internal/redact"
)

func TestFilter_Redact_AppliesAllMaskersInOrder(t *testing.T) {
	f := redact.DefaultFilter()
	text := "Contact jane@example.com or 555-123-4567, SSN 123-45-6789."

	out, err := f.Redact(context.Background(), text)
	require.NoError(t, err)
	assert.Contains(t, out, "[REDACTED_EMAIL]")
	assert.Contains(t, out, "[REDACTED_PHONE]")
	assert.Contains(t, out, "[REDACTED_SSN]")
	assert.NotContains(t, out, "jane@example.com")
}

type failingMasker struct{}

func (failingMasker) Name() string                     { return "failing" }
func (failingMasker) Mask(string) (string, error) { return "", errors.New("boom") }

func TestFilter_Redact_FailsClosedOnMaskerError(t *testing.T) {
	f := redact.New(redact.EmailMasker(), failingMasker{})
	_, err := f.Redact(context.Background(), "jane@example.com")
	assert.Error(t, err)
}

func TestRegexMasker_InvalidPatternFailsAtConstruction(t *testing.T) {
	_, err := redact.NewRegexMasker("bad", `(`, "x")
	assert.Error(t, err)
}

func TestFilter_Redact_EmptyFilterIsIdentity(t *testing.T) {
	f := redact.New()
	out, err := f.Redact(context.Background(), "no pii here")
	require.NoError(t, err)
	assert.Equal(t, "no pii here", out)
}
