package conversation

import "context"

// Role 参与者角色
type Role string

const (
	RoleInitiator Role = "initiator"
	RoleOrdinary  Role = "ordinary"
	RoleTerminal  Role = "terminal" // 其回复结束会话
)

// Participant 对话参与者
type Participant struct {
	ID          string
	Role        Role
	Description string
	// Autonomous 为 false 时需要外部输入，Router 会挂起等待 HumanInput
	Autonomous bool
	Responder  Responder
	// Terminate 在该参与者发言后评估
	Terminate TerminationPredicate
}

// Turn 交给参与者的一轮上下文
type Turn struct {
	SessionID string
	Round     int
	Speaker   string
	// History 种子消息加（窗口化后的）对话记录，只读
	History []Message
	// Attempt 从 0 开始；大于 0 表示重试
	Attempt int
	// Clarification 非空时说明上一次回复为什么被拒绝
	Clarification string
}

// Last returns the most recent message in the turn history.
func (t Turn) Last() (Message, bool) {
	if len(t.History) == 0 {
		return Message{}, false
	}
	return t.History[len(t.History)-1], true
}

// Responder produces a participant's reply for one turn.
type Responder interface {
	Respond(ctx context.Context, turn Turn) (Reply, error)
}

// ResponderFunc adapts a function to Responder.
type ResponderFunc func(ctx context.Context, turn Turn) (Reply, error)

func (f ResponderFunc) Respond(ctx context.Context, turn Turn) (Reply, error) {
	return f(ctx, turn)
}

// HumanInput supplies replies for non-autonomous participants. Await blocks
// until input arrives or ctx is done.
type HumanInput interface {
	Await(ctx context.Context, turn Turn) (string, error)
}

// HumanInputFunc adapts a function to HumanInput.
type HumanInputFunc func(ctx context.Context, turn Turn) (string, error)

func (f HumanInputFunc) Await(ctx context.Context, turn Turn) (string, error) {
	return f(ctx, turn)
}

// SessionCloser is implemented by responders holding per-session resources.
// The router calls CloseSession once the session stops.
type SessionCloser interface {
	CloseSession(sessionID string)
}
