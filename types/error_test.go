package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_ChainingAndHelpers(t *testing.T) {
	t.Parallel()

	root := errors.New("root")
	err := NewError(ErrUpstreamError, "upstream failed").
		WithCause(root).
		WithHTTPStatus(502).
		WithRetryable(true).
		WithProvider("openai")

	assert.Equal(t, ErrUpstreamError, GetErrorCode(err))
	assert.True(t, IsRetryable(err))
	assert.True(t, errors.Is(err, root))
	assert.Contains(t, err.Error(), "UPSTREAM_ERROR")
	assert.Equal(t, "openai", err.Provider)
}

func TestIsCode_ThroughWrapping(t *testing.T) {
	t.Parallel()

	base := Errorf(ErrProtocolDeadlock, "no successor for %q", "C")
	wrapped := fmt.Errorf("session s1: %w", base)

	assert.True(t, IsCode(wrapped, ErrProtocolDeadlock))
	assert.False(t, IsCode(wrapped, ErrAmbiguousTransition))
	assert.False(t, IsCode(nil, ErrProtocolDeadlock))

	e, ok := AsError(wrapped)
	require.True(t, ok)
	assert.Equal(t, `no successor for "C"`, e.Message)
}

func TestIsRetryable_PlainError(t *testing.T) {
	t.Parallel()
	assert.False(t, IsRetryable(errors.New("plain")))
	assert.Equal(t, ErrorCode(""), GetErrorCode(errors.New("plain")))
}
