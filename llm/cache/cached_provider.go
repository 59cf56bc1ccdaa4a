package cache

import (
	"context"
	"sync/atomic"

	"github.com/Lynn-1221/Agents/llm"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Observer receives cache outcomes; internal/metrics.Collector implements it.
type Observer interface {
	ObserveCache(hit bool)
}

// Stats 缓存统计
type Stats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Shared int64 `json:"shared"` // 搭上同一指纹在途请求的次数
}

// CachedProvider 在 Provider 前加一层共享缓存。
//
// 同一指纹最多只有一个在途请求：后到的相同请求阻塞等待并复用第一个结果。
// 在途请求与发起者的取消解耦，发起者取消后请求仍会完成并写入缓存，
// 但每个等待者都会在自己的 ctx 取消时立即返回。错误结果不缓存。
type CachedProvider struct {
	provider llm.Provider
	cache    *MultiLevelCache
	group    singleflight.Group
	observer Observer
	logger   *zap.Logger

	hits   atomic.Int64
	misses atomic.Int64
	shared atomic.Int64
}

// NewCachedProvider 创建带缓存的 Provider
func NewCachedProvider(provider llm.Provider, cache *MultiLevelCache, logger *zap.Logger) *CachedProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedProvider{
		provider: provider,
		cache:    cache,
		logger:   logger.With(zap.String("component", "cached_provider")),
	}
}

// WithObserver sets the cache outcome observer.
func (p *CachedProvider) WithObserver(o Observer) *CachedProvider {
	p.observer = o
	return p
}

func (p *CachedProvider) Name() string { return p.provider.Name() }

// Stats returns a snapshot of the hit/miss counters.
func (p *CachedProvider) Stats() Stats {
	return Stats{Hits: p.hits.Load(), Misses: p.misses.Load(), Shared: p.shared.Load()}
}

func (p *CachedProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	if !p.cache.IsCacheable(req) {
		return p.provider.Completion(ctx, req)
	}

	key := Fingerprint(req)
	if resp, err := p.cache.Get(ctx, key); err == nil {
		p.record(true)
		return cloneResponse(resp), nil
	}

	ch := p.group.DoChan(key, func() (any, error) {
		callCtx := context.WithoutCancel(ctx)
		// 双重检查：可能在排队期间已被其他请求写入
		if resp, err := p.cache.Get(callCtx, key); err == nil {
			return resp, nil
		}
		p.record(false)
		resp, err := p.provider.Completion(callCtx, req)
		if err != nil {
			return nil, err
		}
		if err := p.cache.Set(callCtx, key, resp); err != nil {
			p.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
		}
		return resp, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Shared {
			p.shared.Add(1)
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return cloneResponse(res.Val.(*llm.ChatResponse)), nil
	}
}

func (p *CachedProvider) record(hit bool) {
	if hit {
		p.hits.Add(1)
	} else {
		p.misses.Add(1)
	}
	if p.observer != nil {
		p.observer.ObserveCache(hit)
	}
}

// cloneResponse 复制 Choices，避免调用方修改共享的缓存对象
func cloneResponse(resp *llm.ChatResponse) *llm.ChatResponse {
	if resp == nil {
		return nil
	}
	out := *resp
	out.Choices = make([]llm.ChatChoice, len(resp.Choices))
	for i, c := range resp.Choices {
		c.Message.ToolCalls = append([]llm.ToolCall(nil), c.Message.ToolCalls...)
		out.Choices[i] = c
	}
	return &out
}
