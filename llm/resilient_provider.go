package llm

import (
	"context"
	"errors"
	"time"

	"github.com/Lynn-1221/Agents/llm/retry"
	"github.com/Lynn-1221/Agents/types"
	"go.uber.org/zap"
)

// ResilientProvider 为 Provider 增加单次调用超时与有限重试。
// 重试耗尽后，可重试类错误统一包装为 COLLABORATOR_UNAVAILABLE，并标注 Provider 名称。
type ResilientProvider struct {
	provider Provider
	policy   retry.Policy
	timeout  time.Duration
	logger   *zap.Logger
}

// ResilientProviderConfig 弹性 Provider 配置
type ResilientProviderConfig struct {
	// Timeout 单次 Completion 的超时，0 表示不额外限制
	Timeout time.Duration
	// Retry 重试策略；Retryable 为空时只重试 types.IsRetryable 的错误
	Retry retry.Policy
}

// DefaultResilientProviderConfig 返回默认配置
func DefaultResilientProviderConfig() ResilientProviderConfig {
	return ResilientProviderConfig{
		Timeout: 60 * time.Second,
		Retry:   retry.DefaultPolicy(),
	}
}

// NewResilientProvider 创建具有弹性能力的 Provider
func NewResilientProvider(provider Provider, config ResilientProviderConfig, logger *zap.Logger) *ResilientProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	policy := config.Retry
	if policy.Retryable == nil {
		policy.Retryable = isTransient
	}
	return &ResilientProvider{
		provider: provider,
		policy:   policy,
		timeout:  config.Timeout,
		logger:   logger.With(zap.String("component", "resilient_provider"), zap.String("provider", provider.Name())),
	}
}

func (p *ResilientProvider) Name() string { return p.provider.Name() }

func (p *ResilientProvider) Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	resp, err := retry.Do(ctx, p.policy, p.logger, func(ctx context.Context) (*ChatResponse, error) {
		callCtx := ctx
		if p.timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, p.timeout)
			defer cancel()
		}
		resp, err := p.provider.Completion(callCtx, req)
		if err != nil && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			// 单次调用超时：可重试
			return nil, types.NewError(types.ErrUpstreamTimeout, "completion timed out").
				WithCause(err).WithRetryable(true).WithProvider(p.provider.Name())
		}
		return resp, err
	})
	if err == nil {
		return resp, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}
	if isTransient(err) {
		return nil, types.NewError(types.ErrCollaboratorUnavailable, "completion provider unavailable").
			WithCause(err).WithProvider(p.provider.Name())
	}
	return nil, err
}

func isTransient(err error) bool {
	if types.IsRetryable(err) {
		return true
	}
	switch types.GetErrorCode(err) {
	case types.ErrUpstreamTimeout, types.ErrUpstreamError, types.ErrRateLimited:
		return true
	}
	return false
}
