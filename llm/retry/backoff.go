// Package retry 提供指数退避重试，供 Provider 调用与会话轮次复用。
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// Policy 定义重试策略配置
type Policy struct {
	MaxRetries   int           // 最大重试次数（0 表示不重试）
	InitialDelay time.Duration // 初始延迟时间
	MaxDelay     time.Duration // 最大延迟时间
	Multiplier   float64       // 指数退避倍数
	Jitter       bool          // 是否添加随机抖动

	// Retryable 判断错误是否可重试；为 nil 时所有错误都重试
	Retryable func(err error) bool
	// OnRetry 在每次等待前回调
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultPolicy 返回适用于 LLM API 调用的默认策略
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:   3,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

func (p Policy) normalized() Policy {
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = time.Second
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 30 * time.Second
	}
	if p.Multiplier < 1.0 {
		p.Multiplier = 2.0
	}
	return p
}

// Delay 计算第 attempt 次重试（从 1 开始）前的等待时间
func (p Policy) Delay(attempt int) time.Duration {
	p = p.normalized()
	if attempt <= 0 {
		return 0
	}
	d := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if p.Jitter {
		// ±25% 抖动
		d = d * (0.75 + rand.Float64()*0.5)
	}
	return time.Duration(d)
}

// Do 执行 fn，失败时按策略重试；ctx 取消时立即返回
func Do[T any](ctx context.Context, p Policy, logger *zap.Logger, fn func(ctx context.Context) (T, error)) (T, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	p = p.normalized()

	var (
		zero    T
		lastErr error
	)
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := p.Delay(attempt)
			logger.Debug("retrying",
				zap.Int("attempt", attempt),
				zap.Int("max_retries", p.MaxRetries),
				zap.Duration("delay", delay),
				zap.Error(lastErr))
			if p.OnRetry != nil {
				p.OnRetry(attempt, lastErr, delay)
			}

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, fmt.Errorf("retry cancelled: %w", ctx.Err())
			case <-timer.C:
			}
		}

		result, err := fn(ctx)
		if err == nil {
			if attempt > 0 {
				logger.Info("retry succeeded", zap.Int("attempt", attempt))
			}
			return result, nil
		}
		lastErr = err

		if p.Retryable != nil && !p.Retryable(err) {
			return zero, err
		}
	}

	logger.Warn("retries exhausted", zap.Int("attempts", p.MaxRetries+1), zap.Error(lastErr))
	return zero, lastErr
}
