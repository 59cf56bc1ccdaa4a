package conversation

import (
	"encoding/json"
	"time"

	"github.com/Lynn-1221/Agents/llm"
	"github.com/Lynn-1221/Agents/llm/tools"
)

// ExternalSender 种子消息的虚拟发送方
const ExternalSender = "external"

// MessageKind 消息内容类型
type MessageKind string

const (
	KindText       MessageKind = "text"
	KindToolCall   MessageKind = "tool_call"
	KindToolResult MessageKind = "tool_result"
)

// Message 对话记录中的一条消息，追加后不再修改。
// Seq 在一个会话内单调递增，种子消息为 0。
type Message struct {
	Seq         int                `json:"seq"`
	Sender      string             `json:"sender"`
	Kind        MessageKind        `json:"kind"`
	Content     string             `json:"content,omitempty"`
	ToolCalls   []llm.ToolCall     `json:"tool_calls,omitempty"`
	ToolResults []tools.ToolResult `json:"tool_results,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
}

// Text returns the textual form of the message. Tool payloads are rendered as JSON.
func (m Message) Text() string {
	switch m.Kind {
	case KindToolCall:
		if len(m.ToolCalls) == 0 {
			return m.Content
		}
		data, _ := json.Marshal(m.ToolCalls)
		if m.Content != "" {
			return m.Content + "\n" + string(data)
		}
		return string(data)
	case KindToolResult:
		data, _ := json.Marshal(m.ToolResults)
		return string(data)
	default:
		return m.Content
	}
}

func (m Message) clone() Message {
	m.ToolCalls = append([]llm.ToolCall(nil), m.ToolCalls...)
	m.ToolResults = append([]tools.ToolResult(nil), m.ToolResults...)
	return m
}

// Reply 参与者一轮的回复。只有本包内的三种变体实现该接口。
type Reply interface {
	kind() MessageKind
}

// TextReply 纯文本回复
type TextReply struct {
	Content string
}

// ToolCallReply 请求调用工具；Content 为模型随调用给出的说明文字，可为空
type ToolCallReply struct {
	Content string
	Calls   []llm.ToolCall
}

// ToolResultReply 执行上一条消息中的工具调用后得到的结果
type ToolResultReply struct {
	Results []tools.ToolResult
}

func (TextReply) kind() MessageKind       { return KindText }
func (ToolCallReply) kind() MessageKind   { return KindToolCall }
func (ToolResultReply) kind() MessageKind { return KindToolResult }

func messageFromReply(seq int, sender string, r Reply, now time.Time) Message {
	msg := Message{Seq: seq, Sender: sender, Kind: r.kind(), CreatedAt: now}
	switch v := r.(type) {
	case TextReply:
		msg.Content = v.Content
	case ToolCallReply:
		msg.Content = v.Content
		msg.ToolCalls = append([]llm.ToolCall(nil), v.Calls...)
	case ToolResultReply:
		msg.ToolResults = append([]tools.ToolResult(nil), v.Results...)
	}
	return msg
}
