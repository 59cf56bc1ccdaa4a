package metrics

import (
	"context"
	"time"

	"github.com/Lynn-1221/Agents/llm"
)

// InstrumentedProvider 记录每次 Completion 的结果、耗时与 Token 用量
type InstrumentedProvider struct {
	next      llm.Provider
	collector *Collector
}

// InstrumentProvider wraps p so that every completion is recorded on c.
func InstrumentProvider(p llm.Provider, c *Collector) *InstrumentedProvider {
	return &InstrumentedProvider{next: p, collector: c}
}

func (p *InstrumentedProvider) Name() string { return p.next.Name() }

func (p *InstrumentedProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	start := time.Now()
	resp, err := p.next.Completion(ctx, req)
	elapsed := time.Since(start)

	if err != nil {
		p.collector.RecordLLMRequest(p.next.Name(), req.Model, "error", elapsed, 0, 0)
		return nil, err
	}
	model := resp.Model
	if model == "" {
		model = req.Model
	}
	p.collector.RecordLLMRequest(p.next.Name(), model, "success", elapsed, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	return resp, nil
}
