package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/Lynn-1221/Agents/internal/tlsutil"
	"github.com/Lynn-1221/Agents/llm"
	"github.com/Lynn-1221/Agents/types"
	goopenai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

const providerName = "openai"

// Config OpenAI 兼容服务配置
type Config struct {
	APIKey         string        `json:"api_key" yaml:"api_key"`
	BaseURL        string        `json:"base_url" yaml:"base_url"`
	Model          string        `json:"model" yaml:"model"`
	EmbeddingModel string        `json:"embedding_model" yaml:"embedding_model"`
	Dimensions     int           `json:"dimensions" yaml:"dimensions"`
	Timeout        time.Duration `json:"timeout" yaml:"timeout"`
}

// Provider 实现 llm.Provider 与 llm.Embedder
type Provider struct {
	client *goopenai.Client
	cfg    Config
	logger *zap.Logger
}

// NewProvider 创建 OpenAI Provider
func NewProvider(cfg Config, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o"
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = string(goopenai.SmallEmbedding3)
	}
	if cfg.Dimensions == 0 {
		cfg.Dimensions = 1536
	}

	clientCfg := goopenai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	clientCfg.HTTPClient = tlsutil.HTTPClient(cfg.Timeout)

	return &Provider{
		client: goopenai.NewClientWithConfig(clientCfg),
		cfg:    cfg,
		logger: logger.With(zap.String("component", "provider"), zap.String("provider", providerName)),
	}
}

func (p *Provider) Name() string { return providerName }

func (p *Provider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	body, err := p.buildRequest(req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := p.client.CreateChatCompletion(ctx, body)
	if err != nil {
		return nil, mapError(ctx, err)
	}
	p.logger.Debug("completion done",
		zap.String("model", resp.Model),
		zap.Int("total_tokens", resp.Usage.TotalTokens),
		zap.Duration("latency", time.Since(start)))

	return toChatResponse(resp), nil
}

func (p *Provider) buildRequest(req *llm.ChatRequest) (goopenai.ChatCompletionRequest, error) {
	model := req.Model
	if model == "" {
		model = p.cfg.Model
	}
	out := goopenai.ChatCompletionRequest{
		Model:       model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stop:        req.Stop,
	}

	for _, m := range req.Messages {
		msg := goopenai.ChatCompletionMessage{
			Role:       string(m.Role),
			Content:    m.Content,
			Name:       m.Name,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, goopenai.ToolCall{
				ID:   tc.ID,
				Type: goopenai.ToolTypeFunction,
				Function: goopenai.FunctionCall{
					Name:      tc.Name,
					Arguments: string(tc.Arguments),
				},
			})
		}
		out.Messages = append(out.Messages, msg)
	}

	for _, t := range req.Tools {
		out.Tools = append(out.Tools, goopenai.Tool{
			Type: goopenai.ToolTypeFunction,
			Function: &goopenai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}

	switch req.ToolChoice {
	case "":
	case llm.ToolChoiceAuto, llm.ToolChoiceNone:
		out.ToolChoice = req.ToolChoice
	default:
		if !hasTool(req.Tools, req.ToolChoice) {
			return out, types.Errorf(types.ErrInvalidRequest, "tool_choice %q names no declared tool", req.ToolChoice)
		}
		out.ToolChoice = goopenai.ToolChoice{
			Type:     goopenai.ToolTypeFunction,
			Function: goopenai.ToolFunction{Name: req.ToolChoice},
		}
	}
	return out, nil
}

func hasTool(tools []llm.ToolSchema, name string) bool {
	for _, t := range tools {
		if t.Name == name {
			return true
		}
	}
	return false
}

func toChatResponse(resp goopenai.ChatCompletionResponse) *llm.ChatResponse {
	out := &llm.ChatResponse{
		ID:       resp.ID,
		Provider: providerName,
		Model:    resp.Model,
		Usage: llm.ChatUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
	if resp.Created > 0 {
		out.CreatedAt = time.Unix(resp.Created, 0).UTC()
	}
	for _, c := range resp.Choices {
		msg := llm.Message{
			Role:    llm.RoleAssistant,
			Content: c.Message.Content,
		}
		for _, tc := range c.Message.ToolCalls {
			args := json.RawMessage(tc.Function.Arguments)
			if len(args) == 0 {
				args = json.RawMessage(`{}`)
			}
			msg.ToolCalls = append(msg.ToolCalls, llm.ToolCall{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: args,
			})
		}
		out.Choices = append(out.Choices, llm.ChatChoice{
			Index:        c.Index,
			FinishReason: string(c.FinishReason),
			Message:      msg,
		})
	}
	return out
}

// Embed 实现 llm.Embedder
func (p *Provider) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := p.client.CreateEmbeddings(ctx, goopenai.EmbeddingRequest{
		Input: texts,
		Model: goopenai.EmbeddingModel(p.cfg.EmbeddingModel),
	})
	if err != nil {
		return nil, mapError(ctx, err)
	}
	out := make([][]float64, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, types.Errorf(types.ErrUpstreamError, "embedding index %d out of range", d.Index).WithProvider(providerName)
		}
		v := make([]float64, len(d.Embedding))
		for i, f := range d.Embedding {
			v[i] = float64(f)
		}
		out[d.Index] = v
	}
	for i, v := range out {
		if v == nil {
			return nil, types.Errorf(types.ErrUpstreamError, "missing embedding for input %d", i).WithProvider(providerName)
		}
	}
	return out, nil
}

func (p *Provider) Dimensions() int { return p.cfg.Dimensions }

// mapError 将 go-openai 错误映射为带重试标记的 types.Error
func mapError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		return mapHTTPStatus(apiErr.HTTPStatusCode, apiErr.Message).WithCause(err)
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		return mapHTTPStatus(reqErr.HTTPStatusCode, reqErr.Error()).WithCause(err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return types.NewError(types.ErrUpstreamTimeout, "request timed out").
			WithRetryable(true).WithProvider(providerName).WithCause(err)
	}
	// 连接失败等传输层错误
	return types.NewError(types.ErrUpstreamError, "transport error").
		WithRetryable(true).WithProvider(providerName).WithCause(err)
}

func mapHTTPStatus(status int, msg string) *types.Error {
	code := types.ErrUpstreamError
	retryable := status >= 500
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		code = types.ErrUnauthorized
	case http.StatusTooManyRequests:
		code, retryable = types.ErrRateLimited, true
	case http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity:
		code = types.ErrInvalidRequest
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		code, retryable = types.ErrUpstreamTimeout, true
	}
	return types.NewError(code, msg).
		WithHTTPStatus(status).
		WithRetryable(retryable).
		WithProvider(providerName)
}
