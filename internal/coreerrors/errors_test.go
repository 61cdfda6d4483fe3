package coreerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Error(t *testing.T) {
	t.Run("includes kind, stage, and model", func(t *testing.T) {
		err := New(KindPipelineError, "empty stage output").
			WithStage(2).
			WithModel("gpt-5", "openai")

		msg := err.Error()
		assert.Contains(t, msg, "pipeline_error")
		assert.Contains(t, msg, "stage 2")
		assert.Contains(t, msg, "gpt-5")
	})

	t.Run("includes wrapped cause", func(t *testing.T) {
		cause := errors.New("connection reset")
		err := Wrap(KindTransientError, "adapter call failed", cause)
		assert.Contains(t, err.Error(), "connection reset")
		assert.Same(t, cause, err.Unwrap())
	})
}

func TestIsKind(t *testing.T) {
	t.Run("matches via errors.As through fmt.Errorf wrapping", func(t *testing.T) {
		base := New(KindDuplicateConflict, "existing comparison found").WithExistingID("cmp-1")
		wrapped := fmt.Errorf("create_comparison: %w", base)

		assert.True(t, IsKind(wrapped, KindDuplicateConflict))
		assert.False(t, IsKind(wrapped, KindCrossTenant))

		var ce *Error
		require.True(t, errors.As(wrapped, &ce))
		assert.Equal(t, "cmp-1", ce.ExistingID)
	})

	t.Run("errors.Is compares kind not identity", func(t *testing.T) {
		a := New(KindTransientError, "timeout on attempt 1")
		b := New(KindTransientError, "timeout on attempt 2")
		assert.True(t, errors.Is(a, b))
	})
}

func TestRecoverable(t *testing.T) {
	cases := []struct {
		kind Kind
		want bool
	}{
		{KindTransientError, true},
		{KindProviderError, false},
		{KindAuthError, false},
		{KindUnknownModel, false},
	}
	for _, tc := range cases {
		t.Run(string(tc.kind), func(t *testing.T) {
			assert.Equal(t, tc.want, Recoverable(tc.kind))
		})
	}
}
