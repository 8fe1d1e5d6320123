package swarmerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAsUnwrapsWrappedError(t *testing.T) {
	base := NotFound("task.not_found", "task not found")
	wrapped := fmt.Errorf("claiming task: %w", base)

	se, ok := As(wrapped)
	require.True(t, ok)
	require.Equal(t, KindNotFound, se.Kind)
	require.Equal(t, "task.not_found", se.Code)
}

func TestAsRejectsUnrelatedError(t *testing.T) {
	_, ok := As(errors.New("boom"))
	require.False(t, ok)
}

func TestRetryableOnlyForTransient(t *testing.T) {
	require.True(t, Transient("substrate.timeout", "timed out", nil).Retryable())
	require.False(t, Permanent("substrate.auth", "unauthorized", nil).Retryable())
	require.False(t, Validation("task.invalid", "bad input").Retryable())
}

func TestErrorMessageIncludesCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Transient("substrate.timeout", "request timed out", cause)
	require.Contains(t, err.Error(), "connection reset")
	require.Contains(t, err.Error(), "substrate.timeout")
}
