package conversation

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/Lynn-1221/Agents/llm"
	"github.com/Lynn-1221/Agents/types"
)

// ArbitrationRequest 仲裁输入：当前发言人及其合法后继
type ArbitrationRequest struct {
	SessionID  string
	Current    string
	Candidates []string
	History    []Message
	// Participants 按 ID 索引，供需要描述信息的策略使用
	Participants map[string]Participant
}

// Arbiter picks one of the candidates. The router rejects any answer that is
// not a candidate.
type Arbiter interface {
	Select(ctx context.Context, req ArbitrationRequest) (string, error)
}

// ArbiterFunc adapts a function to Arbiter.
type ArbiterFunc func(ctx context.Context, req ArbitrationRequest) (string, error)

func (f ArbiterFunc) Select(ctx context.Context, req ArbitrationRequest) (string, error) {
	return f(ctx, req)
}

func errNoChoice(req ArbitrationRequest, reason string) error {
	return types.Errorf(types.ErrAmbiguousTransition, "%s cannot choose among %v: %s", req.Current, req.Candidates, reason)
}

// PriorityArbiter 按固定优先级选第一个出现在候选中的参与者
type PriorityArbiter struct {
	Order []string
}

func (a PriorityArbiter) Select(_ context.Context, req ArbitrationRequest) (string, error) {
	for _, id := range a.Order {
		for _, c := range req.Candidates {
			if c == id {
				return c, nil
			}
		}
	}
	return "", errNoChoice(req, "no candidate in priority order")
}

var nextDirective = regexp.MustCompile(`(?i)\bNEXT\s*[:：]\s*([\w.\-]+)`)

// AskSpeakerArbiter 让当前发言人在回复中点名下一位。
// 优先识别 "NEXT: <id>" 指令，其次是回复中唯一被提及的候选；
// 都无法确定时交给 Fallback。
type AskSpeakerArbiter struct {
	Fallback Arbiter
}

func (a AskSpeakerArbiter) Select(ctx context.Context, req ArbitrationRequest) (string, error) {
	text := ""
	if n := len(req.History); n > 0 && req.History[n-1].Sender == req.Current {
		text = req.History[n-1].Text()
	}

	if m := nextDirective.FindAllStringSubmatch(text, -1); len(m) > 0 {
		named := m[len(m)-1][1]
		for _, c := range req.Candidates {
			if strings.EqualFold(c, named) {
				return c, nil
			}
		}
	}

	if c, ok := mentionedOnce(text, req.Candidates); ok {
		return c, nil
	}

	if a.Fallback != nil {
		return a.Fallback.Select(ctx, req)
	}
	return "", errNoChoice(req, "speaker did not name exactly one candidate")
}

// LLMArbiter 由 Completion Provider 选择下一位发言人。
// 回复不是候选 ID 时带澄清提示重试，用尽后返回 MalformedReply。
type LLMArbiter struct {
	Provider    llm.Provider
	Model       string
	MaxAttempts int // 默认 2
	// Window 只把最近若干条消息放进提示，0 表示全部
	Window int
}

func (a LLMArbiter) Select(ctx context.Context, req ArbitrationRequest) (string, error) {
	attempts := a.MaxAttempts
	if attempts <= 0 {
		attempts = 2
	}

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: a.systemPrompt(req)},
		{Role: llm.RoleUser, Content: a.transcript(req.History)},
	}

	var raw string
	for attempt := 0; attempt < attempts; attempt++ {
		resp, err := a.Provider.Completion(ctx, &llm.ChatRequest{
			Model:       a.Model,
			Messages:    messages,
			Temperature: 0,
			MaxTokens:   32,
		})
		if err != nil {
			return "", err
		}
		msg, _ := resp.FirstMessage()
		raw = strings.TrimSpace(msg.Content)
		if id, ok := matchCandidate(raw, req.Candidates); ok {
			return id, nil
		}
		messages = append(messages,
			llm.Message{Role: llm.RoleAssistant, Content: raw},
			llm.Message{Role: llm.RoleUser, Content: fmt.Sprintf(
				"%q is not one of the allowed speakers. Reply with exactly one of: %s",
				raw, strings.Join(req.Candidates, ", "))},
		)
	}
	return "", Malformed(raw, fmt.Errorf("arbiter reply is not one of %v", req.Candidates))
}

func (a LLMArbiter) systemPrompt(req ArbitrationRequest) string {
	var b strings.Builder
	b.WriteString("You select the next speaker in a multi-participant conversation.\n")
	b.WriteString("Allowed speakers:\n")
	for _, c := range req.Candidates {
		desc := req.Participants[c].Description
		if desc == "" {
			fmt.Fprintf(&b, "- %s\n", c)
		} else {
			fmt.Fprintf(&b, "- %s: %s\n", c, desc)
		}
	}
	b.WriteString("Read the conversation and reply with the name of the next speaker only.")
	return b.String()
}

func (a LLMArbiter) transcript(history []Message) string {
	if a.Window > 0 && len(history) > a.Window {
		history = history[len(history)-a.Window:]
	}
	var b strings.Builder
	for _, m := range history {
		fmt.Fprintf(&b, "%s: %s\n", m.Sender, m.Text())
	}
	return b.String()
}

// matchCandidate 接受精确匹配（忽略大小写与首尾标点），
// 或者只提及一个候选的回复
func matchCandidate(raw string, candidates []string) (string, bool) {
	trimmed := strings.Trim(raw, " \t\n\"'`.。")
	for _, c := range candidates {
		if strings.EqualFold(trimmed, c) {
			return c, true
		}
	}
	return mentionedOnce(raw, candidates)
}

// mentionedOnce 返回文本中按整词出现的唯一候选
func mentionedOnce(text string, candidates []string) (string, bool) {
	found := ""
	for _, c := range candidates {
		re := regexp.MustCompile(`(?i)(^|[^\w])` + regexp.QuoteMeta(c) + `($|[^\w])`)
		if !re.MatchString(text) {
			continue
		}
		if found != "" {
			return "", false
		}
		found = c
	}
	return found, found != ""
}

// HumanArbiter 请操作员在候选中选择
type HumanArbiter struct {
	Input       HumanInput
	MaxAttempts int // 默认 3
}

func (a HumanArbiter) Select(ctx context.Context, req ArbitrationRequest) (string, error) {
	attempts := a.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	turn := Turn{
		SessionID: req.SessionID,
		Speaker:   req.Current,
		History:   req.History,
	}
	var raw string
	for attempt := 0; attempt < attempts; attempt++ {
		turn.Attempt = attempt
		turn.Clarification = fmt.Sprintf("Choose the next speaker: %s", strings.Join(req.Candidates, ", "))
		if attempt > 0 {
			turn.Clarification = fmt.Sprintf("%q is not allowed. %s", raw, turn.Clarification)
		}
		answer, err := a.Input.Await(ctx, turn)
		if err != nil {
			return "", err
		}
		raw = strings.TrimSpace(answer)
		for _, c := range req.Candidates {
			if strings.EqualFold(raw, c) {
				return c, nil
			}
		}
	}
	return "", Malformed(raw, fmt.Errorf("operator choice is not one of %v", req.Candidates))
}

// ReplayArbiter 按录制记录中的发言顺序仲裁，用于确定性回放
type ReplayArbiter struct {
	speakers []string
}

// NewReplayArbiter records the speaker order of a transcript.
func NewReplayArbiter(transcript []Message) *ReplayArbiter {
	a := &ReplayArbiter{}
	for _, m := range transcript {
		a.speakers = append(a.speakers, m.Sender)
	}
	return a
}

// Select returns the speaker recorded right after the current round.
func (a *ReplayArbiter) Select(_ context.Context, req ArbitrationRequest) (string, error) {
	// History 含种子消息，所以下一位的下标等于 len(History)-1
	idx := len(req.History) - 1
	if idx < 0 || idx >= len(a.speakers) {
		return "", errNoChoice(req, "recording exhausted")
	}
	return a.speakers[idx], nil
}
