package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Lynn-1221/Agents/llm"
	"github.com/Lynn-1221/Agents/llm/tools"
	"github.com/Lynn-1221/Agents/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// --- helpers ---

func says(id string) Responder {
	var n atomic.Int32
	return ResponderFunc(func(_ context.Context, turn Turn) (Reply, error) {
		return TextReply{Content: fmt.Sprintf("%s-%d", id, n.Add(1))}, nil
	})
}

func agent(id string, r Responder) Participant {
	return Participant{ID: id, Role: RoleOrdinary, Autonomous: true, Responder: r}
}

func fixedClock() func() time.Time {
	t0 := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	var n atomic.Int64
	return func() time.Time { return t0.Add(time.Duration(n.Add(1)) * time.Second) }
}

func newTestRouter(opts ...Option) *Router {
	opts = append([]Option{WithClock(fixedClock()), WithIDGenerator(func() string { return "sess-1" })}, opts...)
	return NewRouter(DefaultConfig(), zap.NewNop(), opts...)
}

func senders(msgs []Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Sender
	}
	return out
}

type fakeToolExecutor struct{}

func (fakeToolExecutor) Respond(_ context.Context, turn Turn) (Reply, error) {
	last, _ := turn.Last()
	results := make([]tools.ToolResult, len(last.ToolCalls))
	for i, c := range last.ToolCalls {
		results[i] = tools.ToolResult{ToolCallID: c.ID, Name: c.Name, Result: []byte(`[0,1]`)}
	}
	return ToolResultReply{Results: results}, nil
}

type closingResponder struct {
	mu     sync.Mutex
	closed []string
}

func (c *closingResponder) Respond(context.Context, Turn) (Reply, error) {
	return TextReply{Content: "hi"}, nil
}

func (c *closingResponder) CloseSession(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = append(c.closed, id)
}

// --- scenarios ---

func TestRouter_DeadlockAfterArbitration(t *testing.T) {
	plan := &Plan{
		Participants: []Participant{agent("A", says("A")), agent("B", says("B")), agent("C", says("C"))},
		Transitions: map[string][]string{
			"A": {"B"},
			"B": {"A", "C"},
			"C": {},
		},
		Initiator: "A",
		MaxRounds: 5,
		Arbiter:   PriorityArbiter{Order: []string{"C"}},
	}

	s, err := newTestRouter().Start(context.Background(), plan, "start")
	require.Error(t, err)
	require.NotNil(t, s)

	assert.True(t, types.IsCode(err, types.ErrProtocolDeadlock))
	assert.Equal(t, []string{"A", "B", "C"}, senders(s.Transcript()))
	assert.Equal(t, StatusDeadlock, s.Status())

	te, ok := AsTurnError(err)
	require.True(t, ok)
	assert.Equal(t, "C", te.Participant)
	assert.Equal(t, 3, te.Round)

	snap := s.Snapshot()
	assert.True(t, snap.Terminal)
	assert.Equal(t, "start", snap.Seed.Content)
	assert.Equal(t, ExternalSender, snap.Seed.Sender)
	for i, m := range snap.Transcript {
		assert.Equal(t, i+1, m.Seq)
	}
}

func TestRouter_AmbiguityBeforeAnyCandidateIsAsked(t *testing.T) {
	var asked atomic.Int32
	counting := ResponderFunc(func(context.Context, Turn) (Reply, error) {
		asked.Add(1)
		return TextReply{Content: "hi"}, nil
	})
	plan := &Plan{
		Participants: []Participant{agent("A", says("A")), agent("B", counting), agent("C", counting)},
		Transitions:  map[string][]string{"A": {"B", "C"}},
		Initiator:    "A",
		MaxRounds:    5,
	}

	s, err := newTestRouter().Start(context.Background(), plan, "go")
	assert.True(t, types.IsCode(err, types.ErrAmbiguousTransition))
	assert.Equal(t, StatusAmbiguous, s.Status())
	assert.Equal(t, int32(0), asked.Load())
	assert.Len(t, s.Transcript(), 1)
}

func TestRouter_ArbiterChoosingNonCandidate(t *testing.T) {
	plan := &Plan{
		Participants: []Participant{agent("A", says("A")), agent("B", says("B")), agent("C", says("C"))},
		Transitions:  map[string][]string{"A": {"B", "C"}},
		Initiator:    "A",
		MaxRounds:    5,
		Arbiter: ArbiterFunc(func(context.Context, ArbitrationRequest) (string, error) {
			return "A", nil
		}),
	}
	s, err := newTestRouter().Start(context.Background(), plan, "go")
	assert.True(t, types.IsCode(err, types.ErrAmbiguousTransition))
	assert.Equal(t, StatusAmbiguous, s.Status())
}

func TestRouter_SelfLoopRunsToRoundLimit(t *testing.T) {
	plan := &Plan{
		Participants: []Participant{agent("A", says("A"))},
		Transitions:  map[string][]string{"A": {"A"}},
		Initiator:    "A",
		MaxRounds:    3,
	}
	r := newTestRouter(WithSummarizer(LastMessageSummarizer{}))
	s, err := r.Start(context.Background(), plan, "loop")

	assert.True(t, types.IsCode(err, types.ErrRoundLimitExceeded))
	assert.Equal(t, StatusRoundLimit, s.Status())
	assert.Equal(t, []string{"A", "A", "A"}, senders(s.Transcript()))
	assert.Equal(t, "A-3", s.Summary())
}

func TestRouter_TerminationToken(t *testing.T) {
	plan := &Plan{
		Participants: []Participant{
			agent("A", says("A")),
			agent("B", NewScriptedResponder(TextReply{Content: "b1"}, TextReply{Content: "all good. terminate"})),
		},
		Transitions: map[string][]string{"A": {"B"}, "B": {"A"}},
		Initiator:   "A",
		MaxRounds:   10,
		Terminate:   ContainsToken(DefaultTerminationToken, false),
		Summarizer:  LastMessageSummarizer{StripToken: DefaultTerminationToken},
	}

	s, err := newTestRouter().Start(context.Background(), plan, "task")
	require.NoError(t, err)
	assert.Equal(t, StatusTerminated, s.Status())
	assert.Equal(t, []string{"A", "B", "A", "B"}, senders(s.Transcript()))
	assert.Equal(t, "all good.", s.Summary())
}

func TestRouter_ParticipantPredicateAndTerminalRole(t *testing.T) {
	caseSensitive := agent("B", StaticResponder{Content: "terminate"})
	caseSensitive.Terminate = ContainsToken("TERMINATE", true)
	closer := Participant{ID: "C", Role: RoleTerminal, Autonomous: true, Responder: StaticResponder{Content: "bye"}}

	plan := &Plan{
		Participants: []Participant{agent("A", says("A")), caseSensitive, closer},
		Transitions:  map[string][]string{"A": {"B"}, "B": {"C"}, "C": {"A"}},
		Initiator:    "A",
		MaxRounds:    10,
	}
	s, err := newTestRouter().Start(context.Background(), plan, "x")
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C"}, senders(s.Transcript()))
}

func TestRouter_MalformedRetryThenSuccess(t *testing.T) {
	var turns []Turn
	var mu sync.Mutex
	flaky := ResponderFunc(func(_ context.Context, turn Turn) (Reply, error) {
		mu.Lock()
		turns = append(turns, turn)
		mu.Unlock()
		if turn.Attempt == 0 {
			return nil, Malformed("{oops", errors.New("not json"))
		}
		return TextReply{Content: "fixed TERMINATE"}, nil
	})
	plan := &Plan{
		Participants: []Participant{agent("A", flaky)},
		Transitions:  map[string][]string{"A": {"A"}},
		Initiator:    "A",
		MaxRounds:    3,
		Terminate:    ContainsToken(DefaultTerminationToken, false),
	}

	s, err := newTestRouter().Start(context.Background(), plan, "x")
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Empty(t, turns[0].Clarification)
	assert.Contains(t, turns[1].Clarification, "not json")
	assert.Equal(t, 1, turns[1].Attempt)
	assert.Len(t, s.Transcript(), 1)
}

func TestRouter_MalformedSurfacesAndResumes(t *testing.T) {
	var healthy atomic.Bool
	var calls atomic.Int32
	b := ResponderFunc(func(context.Context, Turn) (Reply, error) {
		calls.Add(1)
		if !healthy.Load() {
			return nil, Malformed("garbage", errors.New("unparseable"))
		}
		return TextReply{Content: "ok TERMINATE"}, nil
	})
	plan := &Plan{
		Participants: []Participant{agent("A", says("A")), agent("B", b)},
		Transitions:  map[string][]string{"A": {"B"}, "B": {"A"}},
		Initiator:    "A",
		MaxRounds:    6,
		Terminate:    ContainsToken(DefaultTerminationToken, false),
	}
	r := newTestRouter()

	s, err := r.Start(context.Background(), plan, "x")
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrMalformedReply))
	te, ok := AsTurnError(err)
	require.True(t, ok)
	assert.Equal(t, "garbage", te.Raw)
	assert.Equal(t, "B", te.Participant)
	assert.Equal(t, StatusInterrupted, s.Status())
	assert.Equal(t, int32(2), calls.Load())
	assert.Len(t, s.Transcript(), 1)

	healthy.Store(true)
	require.NoError(t, r.Resume(context.Background(), s))
	assert.Equal(t, StatusTerminated, s.Status())
	assert.Equal(t, []string{"A", "B"}, senders(s.Transcript()))

	err = r.Resume(context.Background(), s)
	assert.True(t, types.IsCode(err, types.ErrInvalidRequest))
}

func TestRouter_ResumeFromSnapshot(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	b := ResponderFunc(func(context.Context, Turn) (Reply, error) {
		if fail.Load() {
			return nil, types.NewError(types.ErrUpstreamError, "503").WithProvider("openai")
		}
		return TextReply{Content: "done TERMINATE"}, nil
	})
	plan := &Plan{
		Participants: []Participant{agent("A", says("A")), agent("B", b)},
		Transitions:  map[string][]string{"A": {"B"}, "B": {"A"}},
		Initiator:    "A",
		MaxRounds:    6,
		Terminate:    ContainsToken(DefaultTerminationToken, false),
	}
	r := newTestRouter()
	s, err := r.Start(context.Background(), plan, "x")
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrCollaboratorUnavailable))
	e, _ := types.AsError(err)
	assert.Equal(t, "openai", e.Provider)

	snap := s.Snapshot()
	assert.Equal(t, types.ErrCollaboratorUnavailable, snap.ErrorCode)

	restored, err := RestoreSession(plan, snap)
	require.NoError(t, err)
	fail.Store(false)
	require.NoError(t, r.Resume(context.Background(), restored))
	assert.Equal(t, []string{"A", "B"}, senders(restored.Transcript()))
}

func TestRouter_TurnTimeoutIsRetried(t *testing.T) {
	slowOnce := ResponderFunc(func(ctx context.Context, turn Turn) (Reply, error) {
		if turn.Attempt == 0 {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return TextReply{Content: "TERMINATE"}, nil
	})
	cfg := Config{TurnTimeout: 30 * time.Millisecond, MalformedRetries: 1}
	plan := &Plan{
		Participants: []Participant{agent("A", slowOnce)},
		Transitions:  map[string][]string{"A": {"A"}},
		Initiator:    "A",
		MaxRounds:    2,
		Terminate:    ContainsToken(DefaultTerminationToken, false),
	}
	s, err := NewRouter(cfg, nil).Start(context.Background(), plan, "x")
	require.NoError(t, err)
	assert.Equal(t, StatusTerminated, s.Status())

	hang := ResponderFunc(func(ctx context.Context, _ Turn) (Reply, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	plan.Participants = []Participant{agent("A", hang)}
	s, err = NewRouter(cfg, nil).Start(context.Background(), plan, "x")
	assert.True(t, types.IsCode(err, types.ErrMalformedReply))
	assert.Equal(t, StatusInterrupted, s.Status())
	assert.Empty(t, s.Transcript())
}

func TestRouter_TurnTimeoutWaitsForLateReply(t *testing.T) {
	var running, overlapped atomic.Bool
	late := ResponderFunc(func(_ context.Context, turn Turn) (Reply, error) {
		if !running.CompareAndSwap(false, true) {
			overlapped.Store(true)
		}
		defer running.Store(false)
		if turn.Attempt == 0 {
			// 忽略 ctx 的慢回复
			time.Sleep(30 * time.Millisecond)
			return TextReply{Content: "late"}, nil
		}
		return TextReply{Content: "on time TERMINATE"}, nil
	})
	plan := &Plan{
		Participants: []Participant{agent("A", late)},
		Transitions:  map[string][]string{"A": {"A"}},
		Initiator:    "A",
		MaxRounds:    2,
		Terminate:    ContainsToken(DefaultTerminationToken, false),
	}
	cfg := Config{TurnTimeout: 5 * time.Millisecond, MalformedRetries: 1}
	s, err := NewRouter(cfg, nil).Start(context.Background(), plan, "x")
	require.NoError(t, err)
	assert.False(t, overlapped.Load(), "retry started while the timed-out call was still running")
	require.Len(t, s.Transcript(), 1)
	assert.Equal(t, "on time TERMINATE", s.Transcript()[0].Content)
}

func TestRouter_ArbiterMalformedReply(t *testing.T) {
	p := &recordingProvider{replies: []llm.Message{{Content: "xyz"}}}
	plan := &Plan{
		Participants: []Participant{agent("A", says("A")), agent("B", says("B")), agent("C", says("C"))},
		Transitions:  map[string][]string{"A": {"B", "C"}},
		Initiator:    "A",
		MaxRounds:    4,
		Arbiter:      LLMArbiter{Provider: p},
	}
	s, err := newTestRouter().Start(context.Background(), plan, "x")
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrMalformedReply))
	assert.False(t, types.IsCode(err, types.ErrCollaboratorUnavailable))
	var te *TurnError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "xyz", te.Raw)
	assert.Equal(t, "A", te.Participant)
	assert.Equal(t, StatusInterrupted, s.Status())
	assert.Equal(t, []string{"A"}, senders(s.Transcript()))
}

type countingCloseResponder struct {
	Responder
	closed atomic.Int32
}

func (c *countingCloseResponder) CloseSession(string) { c.closed.Add(1) }

func TestCancelSnapshot(t *testing.T) {
	now := time.Now()
	snap := Snapshot{ID: "s1", Status: StatusInterrupted, Round: 2, ErrorCode: types.ErrCollaboratorUnavailable}

	got, ok := CancelSnapshot(snap, now)
	require.True(t, ok)
	assert.Equal(t, StatusCancelled, got.Status)
	assert.True(t, got.Terminal)
	assert.Equal(t, types.ErrCancelled, got.ErrorCode)
	assert.Equal(t, now, got.EndedAt)
	assert.Equal(t, 2, got.Round)

	for _, st := range []Status{StatusRunning, StatusTerminated, StatusCancelled, StatusDeadlock} {
		in := Snapshot{ID: "s2", Status: st}
		out, ok := CancelSnapshot(in, now)
		assert.False(t, ok, st)
		assert.Equal(t, in, out)
	}
}

func TestSession_CancelInterrupted(t *testing.T) {
	failing := &countingCloseResponder{Responder: ResponderFunc(func(context.Context, Turn) (Reply, error) {
		return nil, errors.New("upstream down")
	})}
	plan := &Plan{
		Participants: []Participant{agent("A", failing)},
		Transitions:  map[string][]string{"A": {"A"}},
		Initiator:    "A",
		MaxRounds:    3,
	}
	r := newTestRouter()
	s, err := r.Start(context.Background(), plan, "x")
	require.Error(t, err)
	require.Equal(t, StatusInterrupted, s.Status())
	assert.False(t, s.Status().Terminal())
	assert.Zero(t, failing.closed.Load())

	s.Cancel()
	assert.Equal(t, StatusCancelled, s.Status())
	assert.True(t, s.Status().Terminal())
	assert.True(t, types.IsCode(s.Err(), types.ErrCancelled))
	assert.Equal(t, types.ErrCancelled, s.Snapshot().ErrorCode)
	assert.False(t, s.Snapshot().EndedAt.IsZero())
	assert.Equal(t, int32(1), failing.closed.Load())

	assert.Error(t, r.Resume(context.Background(), s))
	s.Cancel()
	assert.Equal(t, int32(1), failing.closed.Load())
}

func TestRouter_CancelDuringTurn(t *testing.T) {
	entered := make(chan struct{})
	blocking := ResponderFunc(func(ctx context.Context, turn Turn) (Reply, error) {
		if turn.Round == 1 {
			return TextReply{Content: "first"}, nil
		}
		close(entered)
		<-ctx.Done()
		return TextReply{Content: "too late"}, nil
	})
	plan := &Plan{
		Participants: []Participant{agent("A", blocking)},
		Transitions:  map[string][]string{"A": {"A"}},
		Initiator:    "A",
		MaxRounds:    5,
	}
	var closed atomic.Bool
	r := newTestRouter(WithObserver(ObserverFuncs{End: func(Snapshot) { closed.Store(true) }}))
	s, err := r.Open(plan, "x")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background(), s) }()

	<-entered
	s.Cancel()
	select {
	case err = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not stop after Cancel")
	}

	assert.True(t, types.IsCode(err, types.ErrCancelled))
	assert.Equal(t, StatusCancelled, s.Status())
	assert.Equal(t, []string{"A"}, senders(s.Transcript()))
	assert.True(t, closed.Load())

	s.Cancel()
	assert.Equal(t, StatusCancelled, s.Status())
	assert.Error(t, r.Run(context.Background(), s))
}

func TestRouter_ContextCancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	plan := &Plan{
		Participants: []Participant{agent("A", says("A"))},
		Initiator:    "A",
		MaxRounds:    2,
	}
	s, err := newTestRouter().Start(ctx, plan, "x")
	assert.True(t, types.IsCode(err, types.ErrCancelled))
	assert.Empty(t, s.Transcript())
}

func TestRouter_HumanInputWithoutTimeout(t *testing.T) {
	human := HumanInputFunc(func(ctx context.Context, turn Turn) (string, error) {
		time.Sleep(40 * time.Millisecond)
		return "approve TERMINATE", nil
	})
	plan := &Plan{
		Participants: []Participant{
			agent("A", says("A")),
			{ID: "user", Role: RoleOrdinary},
		},
		Transitions: map[string][]string{"A": {"user"}, "user": {"A"}},
		Initiator:   "A",
		MaxRounds:   4,
		Terminate:   ContainsToken(DefaultTerminationToken, false),
	}
	cfg := Config{TurnTimeout: 10 * time.Millisecond}
	s, err := NewRouter(cfg, nil, WithHumanInput(human)).Start(context.Background(), plan, "x")
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "user"}, senders(s.Transcript()))

	s, err = NewRouter(cfg, nil).Start(context.Background(), plan, "x")
	assert.True(t, types.IsCode(err, types.ErrCollaboratorUnavailable))
	assert.Equal(t, StatusInterrupted, s.Status())
}

func TestRouter_InvalidPlan(t *testing.T) {
	r := newTestRouter()
	tests := []struct {
		name string
		plan *Plan
	}{
		{"nil", nil},
		{"zero rounds", &Plan{Participants: []Participant{agent("A", says("A"))}, Initiator: "A"}},
		{"unknown initiator", &Plan{Participants: []Participant{agent("A", says("A"))}, Initiator: "Z", MaxRounds: 1}},
		{"unknown successor", &Plan{
			Participants: []Participant{agent("A", says("A"))},
			Transitions:  map[string][]string{"A": {"B"}},
			Initiator:    "A", MaxRounds: 1,
		}},
		{"autonomous without responder", &Plan{
			Participants: []Participant{{ID: "A", Autonomous: true}},
			Initiator:    "A", MaxRounds: 1,
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := r.Start(context.Background(), tt.plan, "x")
			assert.Nil(t, s)
			assert.True(t, types.IsCode(err, types.ErrInvalidGraph), "got %v", err)
		})
	}
}

func TestRouter_ToolRoundTrip(t *testing.T) {
	caller := NewScriptedResponder(
		ToolCallReply{Calls: []llm.ToolCall{{ID: "c1", Name: "normalize", Arguments: []byte(`{"data":[1,2]}`)}}},
		TextReply{Content: "TERMINATE"},
	)
	plan := &Plan{
		Participants: []Participant{agent("assistant", caller), agent("executor", fakeToolExecutor{})},
		Transitions:  map[string][]string{"assistant": {"executor"}, "executor": {"assistant"}},
		Initiator:    "assistant",
		MaxRounds:    5,
		Terminate:    ContainsToken(DefaultTerminationToken, false),
	}
	s, err := newTestRouter().Start(context.Background(), plan, "normalize")
	require.NoError(t, err)

	tr := s.Transcript()
	require.Len(t, tr, 3)
	assert.Equal(t, KindToolCall, tr[0].Kind)
	assert.Equal(t, KindToolResult, tr[1].Kind)
	assert.Equal(t, "c1", tr[1].ToolResults[0].ToolCallID)
}

func TestRouter_EmptyToolCallReplyIsMalformed(t *testing.T) {
	plan := &Plan{
		Participants: []Participant{agent("A", ResponderFunc(func(context.Context, Turn) (Reply, error) { return ToolCallReply{Content: "call"}, nil }))},
		Initiator:    "A",
		MaxRounds:    2,
	}
	s, err := newTestRouter().Start(context.Background(), plan, "x")
	assert.True(t, types.IsCode(err, types.ErrMalformedReply))
	assert.Equal(t, StatusInterrupted, s.Status())
}

func TestRouter_ObserversAndWindow(t *testing.T) {
	var mu sync.Mutex
	var events []string
	var lastHistory int
	b := ResponderFunc(func(_ context.Context, turn Turn) (Reply, error) {
		lastHistory = len(turn.History)
		return TextReply{Content: "b"}, nil
	})
	obs := ObserverFuncs{
		Start:   func(id string) { mu.Lock(); events = append(events, "start"); mu.Unlock() },
		Message: func(id string, m Message) { mu.Lock(); events = append(events, "msg:"+m.Sender); mu.Unlock() },
		End:     func(s Snapshot) { mu.Lock(); events = append(events, "end:"+string(s.Status)); mu.Unlock() },
	}
	plan := &Plan{
		Participants: []Participant{agent("A", says("A")), agent("B", b)},
		Transitions:  map[string][]string{"A": {"B"}, "B": {"A"}},
		Initiator:    "A",
		MaxRounds:    4,
	}
	_, err := newTestRouter(WithObserver(obs), WithWindow(LastN(1))).Start(context.Background(), plan, "x")
	assert.True(t, types.IsCode(err, types.ErrRoundLimitExceeded))
	assert.Equal(t, []string{"start", "msg:A", "msg:B", "msg:A", "msg:B", "end:round_limit"}, events)
	assert.Equal(t, 2, lastHistory)
}

func TestRouter_ConcurrentSessionsShareRouter(t *testing.T) {
	r := NewRouter(DefaultConfig(), nil)
	plan := &Plan{
		Participants: []Participant{agent("A", StaticResponder{Content: "a"}), agent("B", StaticResponder{Content: "TERMINATE"})},
		Transitions:  map[string][]string{"A": {"B"}, "B": {"A"}},
		Initiator:    "A",
		MaxRounds:    4,
		Terminate:    ContainsToken(DefaultTerminationToken, false),
	}
	var wg sync.WaitGroup
	ids := make([]string, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := r.Start(context.Background(), plan, fmt.Sprintf("seed-%d", i))
			if assert.NoError(t, err) {
				ids[i] = s.ID
				assert.Len(t, s.Transcript(), 2)
			}
		}(i)
	}
	wg.Wait()
	seen := map[string]bool{}
	for _, id := range ids {
		assert.False(t, seen[id])
		seen[id] = true
	}
}

func TestRouter_SessionCloserCalledOnTerminal(t *testing.T) {
	c := &closingResponder{}
	plan := &Plan{
		Participants: []Participant{agent("A", c)},
		Initiator:    "A",
		MaxRounds:    1,
	}
	s, err := newTestRouter().Start(context.Background(), plan, "x")
	assert.True(t, types.IsCode(err, types.ErrRoundLimitExceeded))
	assert.Equal(t, []string{s.ID}, c.closed)
}
