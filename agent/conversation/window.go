package conversation

import "github.com/Lynn-1221/Agents/llm/tokenizer"

// Window selects the part of the history delivered to a speaker. The seed
// message is always kept.
type Window interface {
	Apply(history []Message) []Message
}

// FullWindow delivers the whole transcript.
type FullWindow struct{}

func (FullWindow) Apply(history []Message) []Message { return history }

// LastN 保留种子消息和最近 N 条消息
type LastN int

func (n LastN) Apply(history []Message) []Message {
	if n <= 0 || len(history) <= int(n)+1 {
		return history
	}
	out := make([]Message, 0, int(n)+1)
	out = append(out, history[0])
	return append(out, history[len(history)-int(n):]...)
}

// TokenBudget 保留种子消息，再从最新往前放入不超过 Budget 的消息。
// 最新一条消息总会保留，即使单独超出预算。
type TokenBudget struct {
	Counter tokenizer.Counter
	Budget  int
}

func (w TokenBudget) Apply(history []Message) []Message {
	if w.Budget <= 0 || len(history) <= 2 {
		return history
	}
	counter := w.Counter
	if counter == nil {
		counter = tokenizer.NewEstimator()
	}

	used := counter.Count(history[0].Text()) + tokenizer.MessageOverhead
	start := len(history)
	for i := len(history) - 1; i >= 1; i-- {
		cost := counter.Count(history[i].Text()) + tokenizer.MessageOverhead
		if used+cost > w.Budget && i < len(history)-1 {
			break
		}
		used += cost
		start = i
	}
	out := make([]Message, 0, len(history)-start+1)
	out = append(out, history[0])
	return append(out, history[start:]...)
}
