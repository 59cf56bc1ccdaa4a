package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Lynn-1221/Agents/llm"
	"github.com/Lynn-1221/Agents/types"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ToolFunc defines the tool function signature.
type ToolFunc func(ctx context.Context, args json.RawMessage) (json.RawMessage, error)

// ToolMetadata describes tool metadata.
type ToolMetadata struct {
	Schema    llm.ToolSchema
	Timeout   time.Duration // 默认 30s
	RateLimit float64       // 每秒调用上限，0 表示不限
}

// ToolResult represents tool execution result.
type ToolResult struct {
	ToolCallID string          `json:"tool_call_id"`
	Name       string          `json:"name"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	Duration   time.Duration   `json:"duration"`
}

// Failed reports whether the invocation produced an error.
func (r ToolResult) Failed() bool { return r.Error != "" }

// Registry defines tool registry interface.
type Registry interface {
	Register(name string, fn ToolFunc, metadata ToolMetadata) error
	Get(name string) (ToolFunc, ToolMetadata, error)
	List() []llm.ToolSchema
	Has(name string) bool
}

// Executor runs tool calls. Calls are never assumed idempotent and are
// executed exactly once each.
type Executor interface {
	Execute(ctx context.Context, calls []llm.ToolCall) []ToolResult
	ExecuteOne(ctx context.Context, call llm.ToolCall) ToolResult
}

// ====== DefaultRegistry ======

type DefaultRegistry struct {
	mu       sync.RWMutex
	tools    map[string]ToolFunc
	metadata map[string]ToolMetadata
	limiters map[string]*rate.Limiter
	logger   *zap.Logger
}

// NewDefaultRegistry 创建默认的工具注册中心。
func NewDefaultRegistry(logger *zap.Logger) *DefaultRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DefaultRegistry{
		tools:    make(map[string]ToolFunc),
		metadata: make(map[string]ToolMetadata),
		limiters: make(map[string]*rate.Limiter),
		logger:   logger.With(zap.String("component", "tool_registry")),
	}
}

func (r *DefaultRegistry) Register(name string, fn ToolFunc, metadata ToolMetadata) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %s already registered", name)
	}
	if metadata.Schema.Name == "" {
		metadata.Schema.Name = name
	}
	if metadata.Schema.Name != name {
		return fmt.Errorf("tool name mismatch: schema.Name=%s, register name=%s", metadata.Schema.Name, name)
	}
	if len(metadata.Schema.Parameters) == 0 {
		metadata.Schema.Parameters = json.RawMessage(`{"type":"object"}`)
	}
	if metadata.Timeout == 0 {
		metadata.Timeout = 30 * time.Second
	}

	r.tools[name] = fn
	r.metadata[name] = metadata
	if metadata.RateLimit > 0 {
		r.limiters[name] = rate.NewLimiter(rate.Limit(metadata.RateLimit), 1)
	}

	r.logger.Debug("tool registered", zap.String("name", name), zap.Duration("timeout", metadata.Timeout))
	return nil
}

func (r *DefaultRegistry) Get(name string) (ToolFunc, ToolMetadata, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	fn, ok := r.tools[name]
	if !ok {
		return nil, ToolMetadata{}, types.NewError(types.ErrNotFound, fmt.Sprintf("tool %s not found", name))
	}
	return fn, r.metadata[name], nil
}

// List returns schemas sorted by name so request fingerprints stay stable.
func (r *DefaultRegistry) List() []llm.ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()

	schemas := make([]llm.ToolSchema, 0, len(r.metadata))
	for _, meta := range r.metadata {
		schemas = append(schemas, meta.Schema)
	}
	sort.Slice(schemas, func(i, j int) bool { return schemas[i].Name < schemas[j].Name })
	return schemas
}

// Subset returns the schemas for the given names, skipping unknown ones.
func (r *DefaultRegistry) Subset(names []string) []llm.ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]llm.ToolSchema, 0, len(names))
	for _, n := range names {
		if meta, ok := r.metadata[n]; ok {
			out = append(out, meta.Schema)
		}
	}
	return out
}

func (r *DefaultRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

func (r *DefaultRegistry) allow(name string) bool {
	r.mu.RLock()
	limiter, ok := r.limiters[name]
	r.mu.RUnlock()
	return !ok || limiter.Allow()
}

// ====== DefaultExecutor ======

type DefaultExecutor struct {
	registry Registry
	logger   *zap.Logger
}

// NewDefaultExecutor 创建默认的工具执行器。
func NewDefaultExecutor(registry Registry, logger *zap.Logger) *DefaultExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DefaultExecutor{
		registry: registry,
		logger:   logger.With(zap.String("component", "tool_executor")),
	}
}

// Execute runs the calls in order. Results keep the order of calls.
func (e *DefaultExecutor) Execute(ctx context.Context, calls []llm.ToolCall) []ToolResult {
	results := make([]ToolResult, len(calls))
	for i, call := range calls {
		results[i] = e.ExecuteOne(ctx, call)
	}
	return results
}

func (e *DefaultExecutor) ExecuteOne(ctx context.Context, call llm.ToolCall) ToolResult {
	start := time.Now()
	result := ToolResult{ToolCallID: call.ID, Name: call.Name}
	fail := func(msg string) ToolResult {
		result.Error = msg
		result.Duration = time.Since(start)
		e.logger.Warn("tool call failed", zap.String("name", call.Name), zap.String("error", msg))
		return result
	}

	fn, meta, err := e.registry.Get(call.Name)
	if err != nil {
		return fail(fmt.Sprintf("tool not found: %s", call.Name))
	}
	if reg, ok := e.registry.(*DefaultRegistry); ok && !reg.allow(call.Name) {
		return fail("rate limit exceeded")
	}
	if len(call.Arguments) > 0 && !json.Valid(call.Arguments) {
		return fail("invalid arguments: not valid JSON")
	}

	execCtx, cancel := context.WithTimeout(ctx, meta.Timeout)
	defer cancel()

	type outcome struct {
		res json.RawMessage
		err error
	}
	// 带缓冲，超时后 goroutine 仍能退出
	done := make(chan outcome, 1)
	go func() {
		res, err := fn(execCtx, call.Arguments)
		done <- outcome{res, err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-execCtx.Done():
		out.err = execCtx.Err()
	}

	if out.err != nil {
		switch {
		case ctx.Err() != nil:
			return fail(fmt.Sprintf("cancelled: %v", ctx.Err()))
		case execCtx.Err() != nil:
			return fail(fmt.Sprintf("execution timeout after %s", meta.Timeout))
		}
		return fail(out.err.Error())
	}
	result.Result = out.res
	result.Duration = time.Since(start)
	e.logger.Debug("tool executed", zap.String("name", call.Name), zap.Duration("duration", result.Duration))
	return result
}
