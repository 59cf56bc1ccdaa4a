package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/Lynn-1221/Agents/agent/sandbox"
	"github.com/Lynn-1221/Agents/agent/structured"
	"github.com/Lynn-1221/Agents/llm"
	"github.com/Lynn-1221/Agents/llm/tools"
	"github.com/Lynn-1221/Agents/types"
)

// ====== LLMResponder ======

// LLMResponder 由 Completion Provider 生成回复。
// 自己的历史消息映射为 assistant，其他参与者的消息映射为带名字的 user，
// 回答自己工具调用的结果映射为 tool 消息。
type LLMResponder struct {
	Provider     llm.Provider
	Model        string
	SystemPrompt string
	Temperature  float32
	MaxTokens    int
	Tools        []llm.ToolSchema
	ToolChoice   string
	// ExpectJSON 要求回复为 JSON 对象（可带代码围栏），RequiredFields 为必填键
	ExpectJSON     bool
	RequiredFields []string
}

func (r LLMResponder) Respond(ctx context.Context, turn Turn) (Reply, error) {
	if r.Provider == nil {
		return nil, types.NewError(types.ErrCollaboratorUnavailable, "no completion provider configured")
	}
	req := &llm.ChatRequest{
		Model:       r.Model,
		Messages:    r.buildMessages(turn),
		Temperature: r.Temperature,
		MaxTokens:   r.MaxTokens,
		Tools:       r.Tools,
		ToolChoice:  r.ToolChoice,
	}
	if id, ok := types.TraceID(ctx); ok {
		req.TraceID = id
	}

	resp, err := r.Provider.Completion(ctx, req)
	if err != nil {
		return nil, err
	}
	msg, ok := resp.FirstMessage()
	if !ok {
		return nil, Malformed("", errors.New("completion returned no choices"))
	}
	if len(msg.ToolCalls) > 0 {
		return ToolCallReply{Content: msg.Content, Calls: msg.ToolCalls}, nil
	}

	content := strings.TrimSpace(msg.Content)
	if content == "" {
		return nil, Malformed(msg.Content, errors.New("empty completion"))
	}
	if r.ExpectJSON {
		if _, err := structured.ParseJSON[map[string]json.RawMessage](content, r.RequiredFields...); err != nil {
			return nil, Malformed(content, err)
		}
		content = structured.StripCodeFence(content)
	}
	return TextReply{Content: content}, nil
}

func (r LLMResponder) buildMessages(turn Turn) []llm.Message {
	messages := make([]llm.Message, 0, len(turn.History)+2)
	if r.SystemPrompt != "" {
		messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: r.SystemPrompt})
	}

	ownCalls := make(map[string]bool)
	for _, m := range turn.History {
		if m.Sender == turn.Speaker {
			msg := llm.Message{Role: llm.RoleAssistant, Content: m.Content}
			if m.Kind == KindToolCall {
				msg.ToolCalls = m.ToolCalls
				for _, c := range m.ToolCalls {
					ownCalls[c.ID] = true
				}
			} else if m.Kind == KindToolResult {
				msg.Content = m.Text()
			}
			messages = append(messages, msg)
			continue
		}
		if m.Kind == KindToolResult && answersAll(m.ToolResults, ownCalls) {
			for _, res := range m.ToolResults {
				messages = append(messages, llm.Message{
					Role:       llm.RoleTool,
					Content:    toolContent(res),
					ToolCallID: res.ToolCallID,
				})
			}
			continue
		}
		messages = append(messages, llm.Message{
			Role:    llm.RoleUser,
			Name:    messageName(m.Sender),
			Content: m.Text(),
		})
	}

	if turn.Clarification != "" {
		messages = append(messages, llm.Message{Role: llm.RoleUser, Content: turn.Clarification})
	}
	return messages
}

func answersAll(results []tools.ToolResult, calls map[string]bool) bool {
	if len(results) == 0 {
		return false
	}
	for _, res := range results {
		if res.ToolCallID == "" || !calls[res.ToolCallID] {
			return false
		}
	}
	return true
}

func toolContent(res tools.ToolResult) string {
	if res.Failed() {
		return "Error: " + res.Error
	}
	return string(res.Result)
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// messageName 将参与者 ID 转为 Provider 接受的 name 字段
func messageName(id string) string {
	name := unsafeName.ReplaceAllString(id, "_")
	if len(name) > 64 {
		name = name[:64]
	}
	return name
}

// ====== 固定与录制回复 ======

// StaticResponder 每轮返回同一段文本
type StaticResponder struct {
	Content string
}

func (r StaticResponder) Respond(context.Context, Turn) (Reply, error) {
	return TextReply{Content: r.Content}, nil
}

// ScriptedResponder 按顺序返回预先录制的回复，用于回放和测试
type ScriptedResponder struct {
	mu      sync.Mutex
	replies []Reply
	next    int
}

// NewScriptedResponder creates a responder replaying replies in order.
func NewScriptedResponder(replies ...Reply) *ScriptedResponder {
	return &ScriptedResponder{replies: replies}
}

func (r *ScriptedResponder) Respond(_ context.Context, turn Turn) (Reply, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.next >= len(r.replies) {
		return nil, types.Errorf(types.ErrInternalError, "script of %s exhausted after %d replies", turn.Speaker, len(r.replies))
	}
	reply := r.replies[r.next]
	r.next++
	return reply, nil
}

// Remaining returns the number of replies not yet played.
func (r *ScriptedResponder) Remaining() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.replies) - r.next
}

// ScriptFromTranscript splits a recorded transcript into one scripted
// responder per sender.
func ScriptFromTranscript(transcript []Message) map[string]*ScriptedResponder {
	scripts := make(map[string]*ScriptedResponder)
	for _, m := range transcript {
		s, ok := scripts[m.Sender]
		if !ok {
			s = &ScriptedResponder{}
			scripts[m.Sender] = s
		}
		s.replies = append(s.replies, ReplyFromMessage(m))
	}
	return scripts
}

// ReplyFromMessage converts a transcript message back into the reply that produced it.
func ReplyFromMessage(m Message) Reply {
	switch m.Kind {
	case KindToolCall:
		return ToolCallReply{Content: m.Content, Calls: append([]llm.ToolCall(nil), m.ToolCalls...)}
	case KindToolResult:
		return ToolResultReply{Results: append([]tools.ToolResult(nil), m.ToolResults...)}
	default:
		return TextReply{Content: m.Content}
	}
}

// HumanResponder 把 HumanInput 适配为单个参与者的 Responder
type HumanResponder struct {
	Input HumanInput
}

func (r HumanResponder) Respond(ctx context.Context, turn Turn) (Reply, error) {
	text, err := r.Input.Await(ctx, turn)
	if err != nil {
		return nil, err
	}
	return TextReply{Content: text}, nil
}

// ====== 工具与代码执行 ======

// DefaultExecutorReply 上一条消息里没有可执行内容时的回复
const DefaultExecutorReply = "Nothing to execute. Reply TERMINATE if the task is complete."

// ToolExecutorResponder 执行上一条消息中的工具调用
type ToolExecutorResponder struct {
	Executor     tools.Executor
	DefaultReply string
}

func (r ToolExecutorResponder) Respond(ctx context.Context, turn Turn) (Reply, error) {
	last, ok := turn.Last()
	if !ok || last.Kind != KindToolCall || len(last.ToolCalls) == 0 {
		return TextReply{Content: defaultString(r.DefaultReply, DefaultExecutorReply)}, nil
	}
	ctx = types.WithSessionID(ctx, turn.SessionID)
	results := r.Executor.Execute(ctx, last.ToolCalls)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return ToolResultReply{Results: results}, nil
}

// CodeExecutorResponder 在会话沙箱中运行上一条消息里的代码块，
// 会话结束时释放沙箱目录。
type CodeExecutorResponder struct {
	Sandboxes    *sandbox.Manager
	Timeout      time.Duration
	DefaultReply string
}

func (r CodeExecutorResponder) Respond(ctx context.Context, turn Turn) (Reply, error) {
	last, ok := turn.Last()
	var blocks []sandbox.CodeBlock
	if ok {
		blocks = sandbox.ExtractCodeBlocks(last.Content)
	}
	if len(blocks) == 0 {
		return TextReply{Content: defaultString(r.DefaultReply, DefaultExecutorReply)}, nil
	}

	ex, err := r.Sandboxes.For(turn.SessionID)
	if err != nil {
		return nil, types.NewError(types.ErrCollaboratorUnavailable, "sandbox unavailable").
			WithCause(err).WithProvider("sandbox")
	}

	exitCode := 0
	var output strings.Builder
	for _, block := range blocks {
		if !ex.IsAllowed(block.Language) {
			exitCode = 1
			fmt.Fprintf(&output, "unknown language %s\n", block.Language)
			break
		}
		res, err := ex.Run(ctx, sandbox.ExecutionRequest{
			Language: block.Language,
			Code:     block.Code,
			Timeout:  r.Timeout,
		})
		if err != nil {
			if errors.Is(err, sandbox.ErrTerminateFailed) {
				return nil, types.NewError(types.ErrCollaboratorUnavailable, "sandbox process could not be stopped").
					WithCause(err).WithProvider("sandbox")
			}
			return nil, err
		}
		output.WriteString(res.Output())
		if res.ExitCode != 0 {
			exitCode = res.ExitCode
			break
		}
	}

	state := "execution succeeded"
	if exitCode != 0 {
		state = "execution failed"
	}
	return TextReply{Content: fmt.Sprintf("exitcode: %d (%s)\nCode output: %s", exitCode, state, output.String())}, nil
}

// CloseSession removes the session's sandbox directory.
func (r CodeExecutorResponder) CloseSession(sessionID string) {
	_ = r.Sandboxes.Release(sessionID)
}

func defaultString(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
