package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Lynn-1221/Agents/llm"
	"github.com/Lynn-1221/Agents/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewProvider(Config{APIKey: "test-key", BaseURL: srv.URL + "/v1", Model: "gpt-4o"}, zap.NewNop())
}

func TestProvider_CompletionWithToolCalls(t *testing.T) {
	var got map[string]any
	p := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"model": "gpt-4o",
			"created": 1700000000,
			"choices": [{
				"index": 0,
				"finish_reason": "tool_calls",
				"message": {
					"role": "assistant",
					"content": "",
					"tool_calls": [{"id": "call_1", "type": "function", "function": {"name": "normalize", "arguments": "{\"data\":[1,2]}"}}]
				}
			}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
		}`))
	})

	resp, err := p.Completion(context.Background(), &llm.ChatRequest{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "be brief"},
			{Role: llm.RoleUser, Content: "normalize 1,2"},
		},
		Tools:      []llm.ToolSchema{{Name: "normalize", Parameters: json.RawMessage(`{"type":"object"}`)}},
		ToolChoice: "normalize",
	})
	require.NoError(t, err)

	assert.Equal(t, "gpt-4o", got["model"])
	choice := got["tool_choice"].(map[string]any)
	assert.Equal(t, "normalize", choice["function"].(map[string]any)["name"])

	msg, ok := resp.FirstMessage()
	require.True(t, ok)
	require.Len(t, msg.ToolCalls, 1)
	assert.Equal(t, "normalize", msg.ToolCalls[0].Name)
	assert.JSONEq(t, `{"data":[1,2]}`, string(msg.ToolCalls[0].Arguments))
	assert.Equal(t, 15, resp.Usage.TotalTokens)
	assert.Equal(t, "tool_calls", resp.Choices[0].FinishReason)
}

func TestProvider_UnknownToolChoice(t *testing.T) {
	p := NewProvider(Config{APIKey: "k"}, nil)
	_, err := p.Completion(context.Background(), &llm.ChatRequest{ToolChoice: "missing"})
	assert.True(t, types.IsCode(err, types.ErrInvalidRequest))
}

func TestProvider_ErrorMapping(t *testing.T) {
	tests := []struct {
		status    int
		code      types.ErrorCode
		retryable bool
	}{
		{http.StatusTooManyRequests, types.ErrRateLimited, true},
		{http.StatusUnauthorized, types.ErrUnauthorized, false},
		{http.StatusBadRequest, types.ErrInvalidRequest, false},
		{http.StatusServiceUnavailable, types.ErrUpstreamError, true},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			p := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error":{"message":"nope","type":"x"}}`))
			})
			_, err := p.Completion(context.Background(), &llm.ChatRequest{
				Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
			})
			require.Error(t, err)
			e, ok := types.AsError(err)
			require.True(t, ok)
			assert.Equal(t, tt.code, e.Code)
			assert.Equal(t, tt.retryable, e.Retryable)
			assert.Equal(t, "openai", e.Provider)
		})
	}
}

func TestProvider_Embed(t *testing.T) {
	p := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		// 乱序返回，按 index 归位
		_, _ = w.Write([]byte(`{"object":"list","data":[
			{"object":"embedding","index":1,"embedding":[0.5,0.5]},
			{"object":"embedding","index":0,"embedding":[1,0]}
		],"model":"text-embedding-3-small"}`))
	})

	vectors, err := p.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{1, 0}, {0.5, 0.5}}, vectors)
}
