package api

import (
	"github.com/Lynn-1221/Agents/agent/conversation"
	"github.com/Lynn-1221/Agents/agent/declarative"
)

// CreateConversationRequest 创建会话
type CreateConversationRequest struct {
	Definition *declarative.ConversationDefinition `json:"definition"`
	Seed       string                              `json:"seed"`
	// Wait 为 true 时请求阻塞到会话停止，否则立即返回 202
	Wait bool `json:"wait,omitempty"`
}

// ResumeConversationRequest 继续一个中断的会话。
// 快照不保存定义，需要重新提供。
type ResumeConversationRequest struct {
	Definition *declarative.ConversationDefinition `json:"definition"`
	Wait       bool                                `json:"wait,omitempty"`
}

// ResolveInterruptRequest 人工输入
type ResolveInterruptRequest struct {
	Text   string `json:"text"`
	UserID string `json:"user_id,omitempty"`
}

// ListConversationsResponse 会话列表
type ListConversationsResponse struct {
	Conversations []conversation.Snapshot `json:"conversations"`
}

// StreamEventType WebSocket 事件类型
type StreamEventType string

const (
	EventStarted StreamEventType = "started"
	EventMessage StreamEventType = "message"
	EventEnd     StreamEventType = "end"
	EventError   StreamEventType = "error"
)

// StreamEvent WebSocket 推送的一帧
type StreamEvent struct {
	Type      StreamEventType        `json:"type"`
	SessionID string                 `json:"session_id,omitempty"`
	Message   *conversation.Message  `json:"message,omitempty"`
	Snapshot  *conversation.Snapshot `json:"snapshot,omitempty"`
	Error     string                 `json:"error,omitempty"`
}
