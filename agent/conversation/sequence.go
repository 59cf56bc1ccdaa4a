package conversation

import (
	"context"
	"fmt"
	"strings"
)

// Chat 顺序对话中的一段
type Chat struct {
	Plan *Plan
	Seed string
	// Carryover 为 true 时把之前各段的摘要附加到种子消息后
	Carryover bool
}

// SequenceResult 顺序对话的结果，Sessions 与已运行的 Chat 一一对应
type SequenceResult struct {
	Sessions []*Session
}

// Summaries returns the summary of every session that ran.
func (r SequenceResult) Summaries() []string {
	out := make([]string, len(r.Sessions))
	for i, s := range r.Sessions {
		out[i] = s.Summary()
	}
	return out
}

// RunSequence runs chats one after another. A chat ending by round limit
// still lets the sequence continue; any other error stops it and is returned
// together with the sessions run so far.
func RunSequence(ctx context.Context, r *Router, chats []Chat) (SequenceResult, error) {
	var result SequenceResult
	var carry []string

	for i, chat := range chats {
		seed := chat.Seed
		if chat.Carryover && len(carry) > 0 {
			seed = withCarryover(seed, carry)
		}

		s, err := r.Start(ctx, chat.Plan, seed)
		if s != nil {
			result.Sessions = append(result.Sessions, s)
		}
		if err != nil && (s == nil || s.Status() != StatusRoundLimit) {
			return result, fmt.Errorf("chat %d: %w", i, err)
		}
		if summary := s.Summary(); summary != "" {
			carry = append(carry, summary)
		}
	}
	return result, nil
}

func withCarryover(seed string, carry []string) string {
	var b strings.Builder
	b.WriteString(seed)
	b.WriteString("\nContext:")
	for _, c := range carry {
		b.WriteString("\n")
		b.WriteString(c)
	}
	return b.String()
}
