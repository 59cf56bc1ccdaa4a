package llm

import (
	"context"

	"github.com/Lynn-1221/Agents/types"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RateLimitedProvider 用令牌桶限制对底层 Provider 的调用速率。
// 等待令牌期间 ctx 被取消时直接返回，不会发出请求。
type RateLimitedProvider struct {
	provider Provider
	limiter  *rate.Limiter
	logger   *zap.Logger
}

// NewRateLimitedProvider wraps provider with an rps/burst limiter. rps <= 0 disables limiting.
func NewRateLimitedProvider(provider Provider, rps float64, burst int, logger *zap.Logger) *RateLimitedProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimitedProvider{
		provider: provider,
		limiter:  rate.NewLimiter(limit, burst),
		logger:   logger.With(zap.String("component", "rate_limited_provider")),
	}
}

func (p *RateLimitedProvider) Name() string { return p.provider.Name() }

func (p *RateLimitedProvider) Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// 等待时间超出 ctx 截止时间
		p.logger.Debug("rate limit wait rejected", zap.Error(err))
		return nil, types.NewError(types.ErrRateLimited, "local rate limit exceeded").
			WithCause(err).WithRetryable(true).WithProvider(p.provider.Name())
	}
	return p.provider.Completion(ctx, req)
}
