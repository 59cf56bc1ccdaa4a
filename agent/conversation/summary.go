package conversation

import (
	"context"
	"fmt"
	"strings"

	"github.com/Lynn-1221/Agents/llm"
)

// Summarizer condenses a finished session into text.
type Summarizer interface {
	Summarize(ctx context.Context, snap Snapshot) (string, error)
}

// SummarizerFunc adapts a function to Summarizer.
type SummarizerFunc func(ctx context.Context, snap Snapshot) (string, error)

func (f SummarizerFunc) Summarize(ctx context.Context, snap Snapshot) (string, error) {
	return f(ctx, snap)
}

// LastMessageSummarizer 以最后一条文本消息作为摘要，去掉终止标记
type LastMessageSummarizer struct {
	StripToken string
}

func (s LastMessageSummarizer) Summarize(_ context.Context, snap Snapshot) (string, error) {
	for i := len(snap.Transcript) - 1; i >= 0; i-- {
		m := snap.Transcript[i]
		if m.Kind != KindText {
			continue
		}
		text := m.Content
		if s.StripToken != "" {
			text = replaceFold(text, s.StripToken, "")
		}
		if text = strings.TrimSpace(text); text != "" {
			return text, nil
		}
	}
	return "", nil
}

func replaceFold(s, old, repl string) string {
	lower, lowerOld := strings.ToLower(s), strings.ToLower(old)
	var b strings.Builder
	for {
		i := strings.Index(lower, lowerOld)
		if i < 0 {
			b.WriteString(s)
			return b.String()
		}
		b.WriteString(s[:i])
		b.WriteString(repl)
		s, lower = s[i+len(old):], lower[i+len(old):]
	}
}

// DefaultSummaryPrompt 默认的摘要指令
const DefaultSummaryPrompt = "Summarize the conversation above. Keep facts, decisions and open questions; omit greetings."

// LLMSummarizer 让 Completion Provider 阅读整段记录后给出摘要
type LLMSummarizer struct {
	Provider llm.Provider
	Model    string
	Prompt   string
}

func (s LLMSummarizer) Summarize(ctx context.Context, snap Snapshot) (string, error) {
	prompt := s.Prompt
	if prompt == "" {
		prompt = DefaultSummaryPrompt
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s\n", snap.Seed.Sender, snap.Seed.Content)
	for _, m := range snap.Transcript {
		fmt.Fprintf(&b, "%s: %s\n", m.Sender, m.Text())
	}

	resp, err := s.Provider.Completion(ctx, &llm.ChatRequest{
		Model: s.Model,
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: b.String()},
			{Role: llm.RoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", err
	}
	msg, ok := resp.FirstMessage()
	if !ok {
		return "", fmt.Errorf("summary completion returned no choices")
	}
	return strings.TrimSpace(msg.Content), nil
}
