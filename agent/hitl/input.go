package hitl

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/Lynn-1221/Agents/agent/conversation"
)

// InterruptInput 把等待人工输入登记为中断，由外部调用 ResolveInterrupt 作答
type InterruptInput struct {
	Manager *InterruptManager
	Timeout time.Duration
	// Type 默认为 input；用作 HumanArbiter 的输入时设为 arbitration
	Type InterruptType
}

var _ conversation.HumanInput = (*InterruptInput)(nil)

func (in *InterruptInput) Await(ctx context.Context, turn conversation.Turn) (string, error) {
	resp, err := in.Manager.CreateInterrupt(ctx, InterruptOptions{
		SessionID:   turn.SessionID,
		Participant: turn.Speaker,
		Round:       turn.Round,
		Type:        in.Type,
		Prompt:      promptFor(turn),
		Context:     lastText(turn),
		Timeout:     in.Timeout,
	})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

func promptFor(turn conversation.Turn) string {
	if turn.Clarification != "" {
		return turn.Clarification
	}
	return fmt.Sprintf("Reply as %s", turn.Speaker)
}

func lastText(turn conversation.Turn) string {
	if last, ok := turn.Last(); ok {
		return fmt.Sprintf("%s: %s", last.Sender, last.Text())
	}
	return ""
}

// ConsoleInput 从终端逐行读取人工输入。
// 读取在独立 goroutine 中进行；ctx 结束时 Await 立即返回，
// 那一行随后到达时留给下一次 Await。
type ConsoleInput struct {
	out io.Writer

	once  sync.Once
	in    io.Reader
	lines chan lineResult
}

type lineResult struct {
	text string
	err  error
}

// NewConsoleInput creates a console input reading from in and prompting on out.
func NewConsoleInput(in io.Reader, out io.Writer) *ConsoleInput {
	return &ConsoleInput{in: in, out: out, lines: make(chan lineResult)}
}

var _ conversation.HumanInput = (*ConsoleInput)(nil)

func (c *ConsoleInput) Await(ctx context.Context, turn conversation.Turn) (string, error) {
	c.once.Do(c.start)

	if text := lastText(turn); text != "" {
		fmt.Fprintf(c.out, "\n%s\n", text)
	}
	fmt.Fprintf(c.out, "%s > ", promptFor(turn))

	select {
	case line := <-c.lines:
		if line.err != nil {
			return "", line.err
		}
		return line.text, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (c *ConsoleInput) start() {
	go func() {
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			c.lines <- lineResult{text: strings.TrimSpace(scanner.Text())}
		}
		err := scanner.Err()
		if err == nil {
			err = io.EOF
		}
		for {
			c.lines <- lineResult{err: fmt.Errorf("console input closed: %w", err)}
		}
	}()
}
