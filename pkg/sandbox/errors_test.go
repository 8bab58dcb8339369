package sandbox

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStructuredError(t *testing.T) {
	t.Parallel()

	err := NewErrorf(CodeSessionNotFound, "session %s not found", "abc")
	assert.Equal(t, "session_not_found: session abc not found", err.Error())
	assert.False(t, err.Retryable)

	retryable := NewRetryableError(CodeSessionCreateFailed, "boom").
		WithDetails(map[string]any{"reason": "daemon down"})
	assert.True(t, retryable.Retryable)
	assert.Equal(t, "daemon down", retryable.Details["reason"])
}

func TestAsErrorUnwrapsStructured(t *testing.T) {
	t.Parallel()

	inner := NewError(CodeInvalidPath, "bad path")
	wrapped := fmt.Errorf("operation failed: %w", inner)

	serr := AsError(wrapped, CodeListFilesFailed)
	assert.Equal(t, CodeInvalidPath, serr.Code)
	assert.False(t, serr.Retryable)
}

func TestAsErrorFallsBackForUnexpected(t *testing.T) {
	t.Parallel()

	serr := AsError(errors.New("disk on fire"), CodeReadFileFailed)
	require.NotNil(t, serr)
	assert.Equal(t, CodeReadFileFailed, serr.Code)
	assert.True(t, serr.Retryable)
	assert.Equal(t, "disk on fire", serr.Details["reason"])
}
