package llm

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Lynn-1221/Agents/llm/retry"
	"github.com/Lynn-1221/Agents/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type namedProvider struct {
	name string
	fn   func(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
}

func (p *namedProvider) Name() string { return p.name }
func (p *namedProvider) Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	return p.fn(ctx, req)
}

func quickConfig(retries int) ResilientProviderConfig {
	return ResilientProviderConfig{
		Timeout: time.Second,
		Retry:   retry.Policy{MaxRetries: retries, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1},
	}
}

func textResponse(s string) *ChatResponse {
	return &ChatResponse{Choices: []ChatChoice{{Message: Message{Role: RoleAssistant, Content: s}}}}
}

func TestResilientProvider_RetriesTransientErrors(t *testing.T) {
	var calls atomic.Int32
	inner := &namedProvider{name: "mock", fn: func(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
		if calls.Add(1) < 2 {
			return nil, types.NewError(types.ErrUpstreamError, "503").WithRetryable(true)
		}
		return textResponse("hello"), nil
	}}

	p := NewResilientProvider(inner, quickConfig(2), nil)
	resp, err := p.Completion(context.Background(), &ChatRequest{})
	require.NoError(t, err)
	msg, ok := resp.FirstMessage()
	require.True(t, ok)
	assert.Equal(t, "hello", msg.Content)
	assert.Equal(t, int32(2), calls.Load())
}

func TestResilientProvider_ExhaustedBecomesCollaboratorUnavailable(t *testing.T) {
	inner := &namedProvider{name: "flaky", fn: func(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
		return nil, types.NewError(types.ErrUpstreamError, "503").WithRetryable(true)
	}}

	p := NewResilientProvider(inner, quickConfig(1), nil)
	_, err := p.Completion(context.Background(), &ChatRequest{})
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrCollaboratorUnavailable))
	e, _ := types.AsError(err)
	assert.Equal(t, "flaky", e.Provider)
}

func TestResilientProvider_NonRetryablePassesThrough(t *testing.T) {
	var calls atomic.Int32
	inner := &namedProvider{name: "mock", fn: func(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
		calls.Add(1)
		return nil, types.NewError(types.ErrInvalidRequest, "bad request")
	}}

	p := NewResilientProvider(inner, quickConfig(3), nil)
	_, err := p.Completion(context.Background(), &ChatRequest{})
	assert.True(t, types.IsCode(err, types.ErrInvalidRequest))
	assert.Equal(t, int32(1), calls.Load())
}

func TestResilientProvider_PerCallTimeout(t *testing.T) {
	inner := &namedProvider{name: "slow", fn: func(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}

	cfg := quickConfig(0)
	cfg.Timeout = 10 * time.Millisecond
	p := NewResilientProvider(inner, cfg, nil)
	_, err := p.Completion(context.Background(), &ChatRequest{})
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrCollaboratorUnavailable))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestRateLimitedProvider_HonoursContext(t *testing.T) {
	inner := &namedProvider{name: "mock", fn: func(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
		return textResponse("ok"), nil
	}}
	p := NewRateLimitedProvider(inner, 0.001, 1, nil)

	_, err := p.Completion(context.Background(), &ChatRequest{})
	require.NoError(t, err)

	// 第二次调用需要等待约 1000 秒，超出截止时间
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = p.Completion(ctx, &ChatRequest{})
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrRateLimited) || errors.Is(err, context.DeadlineExceeded))
}
