package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Lynn-1221/Agents/types"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/Lynn-1221/Agents/agent/conversation"

// Config 路由器配置
type Config struct {
	// TurnTimeout 单轮自主回复的超时，0 表示不限。等待人工输入不受此限制。
	TurnTimeout time.Duration `json:"turn_timeout" yaml:"turn_timeout"`
	// MalformedRetries 回复格式错误或超时后带澄清提示的重试次数
	MalformedRetries int `json:"malformed_retries" yaml:"malformed_retries"`
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		TurnTimeout:      2 * time.Minute,
		MalformedRetries: 1,
	}
}

// Router drives sessions. A Router holds no per-session state and may run
// many sessions concurrently.
type Router struct {
	cfg        Config
	human      HumanInput
	window     Window
	summarizer Summarizer
	observers  []Observer
	tracer     trace.Tracer
	logger     *zap.Logger
	now        func() time.Time
	newID      func() string
}

// Option configures a Router.
type Option func(*Router)

// WithHumanInput sets the input used by non-autonomous participants without a responder.
func WithHumanInput(h HumanInput) Option { return func(r *Router) { r.human = h } }

// WithWindow sets the history window delivered to speakers.
func WithWindow(w Window) Option { return func(r *Router) { r.window = w } }

// WithSummarizer sets the default summarizer.
func WithSummarizer(s Summarizer) Option { return func(r *Router) { r.summarizer = s } }

// WithObserver adds a session observer.
func WithObserver(o Observer) Option { return func(r *Router) { r.observers = append(r.observers, o) } }

// WithTracerProvider sets the tracer provider used for session and turn spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(r *Router) { r.tracer = tp.Tracer(tracerName) }
}

// WithClock overrides the message timestamp source.
func WithClock(now func() time.Time) Option { return func(r *Router) { r.now = now } }

// WithIDGenerator overrides session id generation.
func WithIDGenerator(gen func() string) Option { return func(r *Router) { r.newID = gen } }

// NewRouter 创建路由器
func NewRouter(cfg Config, logger *zap.Logger, opts ...Option) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MalformedRetries < 0 {
		cfg.MalformedRetries = 0
	}
	r := &Router{
		cfg:    cfg,
		window: FullWindow{},
		tracer: otel.Tracer(tracerName),
		logger: logger.With(zap.String("component", "conversation_router")),
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start validates the plan, creates a session seeded with seed and runs it.
//
// The returned session is nil only when the plan is invalid. Otherwise it
// carries the transcript so far, and the error tells why the session stopped
// if it did not end through a termination predicate: ProtocolDeadlock,
// AmbiguousTransition, RoundLimitExceeded and Cancelled leave the session
// terminal; MalformedReply and CollaboratorUnavailable leave it interrupted
// and resumable.
func (r *Router) Start(ctx context.Context, plan *Plan, seed string) (*Session, error) {
	s, err := r.Open(plan, seed)
	if err != nil {
		return nil, err
	}
	return s, r.Run(ctx, s)
}

// Open validates the plan and creates a running session without taking any
// turn. The caller drives it with Run, typically from another goroutine so
// that it can Cancel or Snapshot the session meanwhile.
func (r *Router) Open(plan *Plan, seed string) (*Session, error) {
	cp, err := compilePlan(plan)
	if err != nil {
		return nil, err
	}
	s := newSession(r.newID(), plan, seed, r.now())
	s.compiled = cp
	return s, nil
}

// Run drives an opened session until it stops. See Start for the errors.
func (r *Router) Run(ctx context.Context, s *Session) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return types.Errorf(types.ErrInvalidRequest, "session %s already started", s.ID)
	}
	s.started = true
	s.mu.Unlock()

	for _, o := range r.observers {
		o.OnStart(s.ID)
	}
	return r.run(ctx, s)
}

// Resume continues an interrupted session from its last consistent state.
func (r *Router) Resume(ctx context.Context, s *Session) error {
	if s.compiled == nil {
		cp, err := compilePlan(s.Plan)
		if err != nil {
			return err
		}
		s.compiled = cp
	}
	s.mu.Lock()
	if s.status != StatusInterrupted {
		status := s.status
		s.mu.Unlock()
		return types.Errorf(types.ErrInvalidRequest, "session %s is %s, only interrupted sessions can resume", s.ID, status)
	}
	s.status = StatusRunning
	s.lastErr = nil
	s.mu.Unlock()

	r.logger.Info("session resumed", zap.String("session_id", s.ID))
	for _, o := range r.observers {
		o.OnStart(s.ID)
	}
	return r.run(ctx, s)
}

func (r *Router) run(ctx context.Context, s *Session) (err error) {
	cp := s.compiled
	ctx = types.WithSessionID(ctx, s.ID)
	ctx, span := r.tracer.Start(ctx, "conversation.session", trace.WithAttributes(
		attribute.String("session.id", s.ID),
		attribute.String("conversation.initiator", cp.Initiator),
		attribute.Int("conversation.max_rounds", cp.MaxRounds),
	))
	logger := r.logger.With(zap.String("session_id", s.ID))
	logger.Info("session started", zap.Int("participants", len(cp.Participants)), zap.Int("max_rounds", cp.MaxRounds))

	defer func() {
		status := s.Status()
		if status.Terminal() {
			if serr := r.summarize(ctx, s, status); serr != nil {
				err = errors.Join(err, serr)
			}
			s.closeResponders()
		}
		span.SetAttributes(attribute.String("session.status", string(status)))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()

		snap := s.Snapshot()
		for _, o := range r.observers {
			o.OnEnd(snap)
		}
		logger.Info("session ended",
			zap.String("status", string(status)),
			zap.Int("rounds", snap.Round),
			zap.Error(err))
	}()

	for {
		current, round := s.state()
		if s.isCancelled() || ctx.Err() != nil {
			return r.stop(s, StatusCancelled, r.cancelledError(s, ctx, round))
		}
		if round >= cp.MaxRounds {
			return r.stop(s, StatusRoundLimit, &TurnError{
				SessionID: s.ID,
				Round:     round,
				Err:       types.Errorf(types.ErrRoundLimitExceeded, "no termination after %d rounds", cp.MaxRounds),
			})
		}

		// 种子消息不受转移图约束：第一轮总是发起人
		speaker := current
		if round > 0 {
			next, status, err := r.selectNext(ctx, s, current, round)
			if err != nil {
				return r.stop(s, status, err)
			}
			speaker = next
		}

		participant := cp.byID[speaker]
		msg, status, err := r.takeTurn(ctx, s, participant, round)
		if err != nil {
			return r.stop(s, status, err)
		}

		s.append(msg)
		s.setCurrent(speaker)
		for _, o := range r.observers {
			o.OnMessage(s.ID, msg)
		}

		if r.terminates(cp, participant, msg) {
			logger.Debug("termination condition met", zap.String("participant", speaker), zap.Int("round", round+1))
			s.finish(StatusTerminated, nil, r.now())
			return nil
		}
	}
}

func (r *Router) stop(s *Session, status Status, err error) error {
	s.finish(status, err, r.now())
	return err
}

func (r *Router) terminates(cp *compiledPlan, p Participant, msg Message) bool {
	if p.Role == RoleTerminal {
		return true
	}
	if p.Terminate != nil && p.Terminate.ShouldTerminate(msg) {
		return true
	}
	return cp.Terminate != nil && cp.Terminate.ShouldTerminate(msg)
}

func (r *Router) cancelledError(s *Session, ctx context.Context, round int) error {
	cause := ctx.Err()
	if cause == nil {
		cause = context.Canceled
	}
	return &TurnError{
		SessionID: s.ID,
		Round:     round,
		Err:       types.NewError(types.ErrCancelled, "session cancelled").WithCause(cause),
	}
}

// selectNext 根据转移图选出下一位发言人
func (r *Router) selectNext(ctx context.Context, s *Session, current string, round int) (string, Status, error) {
	cp := s.compiled
	candidates := cp.graph.Successors(current)
	fail := func(code types.ErrorCode, format string, args ...any) *TurnError {
		return &TurnError{SessionID: s.ID, Participant: current, Round: round, Err: types.Errorf(code, format, args...)}
	}

	switch len(candidates) {
	case 0:
		return "", StatusDeadlock, fail(types.ErrProtocolDeadlock, "%s has no allowed successor", current)
	case 1:
		return candidates[0], StatusRunning, nil
	}
	if cp.Arbiter == nil {
		return "", StatusAmbiguous, fail(types.ErrAmbiguousTransition,
			"%s has %d allowed successors %v and no arbiter", current, len(candidates), candidates)
	}

	req := ArbitrationRequest{
		SessionID:    s.ID,
		Current:      current,
		Candidates:   append([]string(nil), candidates...),
		History:      s.history(),
		Participants: cp.byID,
	}
	choice, err := guarded(ctx, r, s, true, func(turnCtx context.Context) (string, error) {
		return cp.Arbiter.Select(turnCtx, req)
	})
	if err != nil {
		if s.isCancelled() || ctx.Err() != nil {
			return "", StatusCancelled, r.cancelledError(s, ctx, round)
		}
		if types.IsCode(err, types.ErrAmbiguousTransition) {
			return "", StatusAmbiguous, &TurnError{SessionID: s.ID, Participant: current, Round: round, Err: asTypesError(err, types.ErrAmbiguousTransition)}
		}
		var malformed *MalformedError
		if errors.As(err, &malformed) {
			return "", StatusInterrupted, &TurnError{
				SessionID:   s.ID,
				Participant: current,
				Round:       round,
				Raw:         malformed.Raw,
				Err:         types.NewError(types.ErrMalformedReply, "arbiter reply rejected").WithCause(err),
			}
		}
		return "", StatusInterrupted, r.collaboratorError(s, "arbiter", round, err)
	}
	if !cp.graph.Allowed(current, choice) {
		return "", StatusAmbiguous, fail(types.ErrAmbiguousTransition,
			"arbiter chose %q, not an allowed successor of %s", choice, current)
	}
	return choice, StatusRunning, nil
}

// takeTurn 取得一轮回复；格式错误或超时按配置带澄清提示重试
func (r *Router) takeTurn(ctx context.Context, s *Session, p Participant, round int) (Message, Status, error) {
	turn := Turn{
		SessionID: s.ID,
		Round:     round + 1,
		Speaker:   p.ID,
		History:   r.window.Apply(s.history()),
	}

	ctx, span := r.tracer.Start(ctx, "conversation.turn", trace.WithAttributes(
		attribute.String("session.id", s.ID),
		attribute.String("conversation.participant", p.ID),
		attribute.Int("conversation.round", round+1),
	))
	defer span.End()

	for attempt := 0; ; attempt++ {
		turn.Attempt = attempt
		start := time.Now()
		reply, err := r.respond(ctx, s, p, turn)
		if err == nil {
			err = validateReply(reply)
		}
		for _, o := range r.observers {
			o.OnTurn(s.ID, p.ID, time.Since(start), err)
		}
		if err == nil {
			return messageFromReply(s.nextSeq(), p.ID, reply, r.now()), StatusRunning, nil
		}

		span.RecordError(err)
		if s.isCancelled() || ctx.Err() != nil {
			return Message{}, StatusCancelled, r.cancelledError(s, ctx, round)
		}

		var malformed *MalformedError
		isMalformed := errors.As(err, &malformed)
		timedOut := errors.Is(err, context.DeadlineExceeded)
		if !isMalformed && !timedOut {
			span.SetStatus(codes.Error, err.Error())
			return Message{}, StatusInterrupted, r.collaboratorError(s, p.ID, round, err)
		}

		if attempt < r.cfg.MalformedRetries {
			r.logger.Warn("retrying turn",
				zap.String("session_id", s.ID),
				zap.String("participant", p.ID),
				zap.Int("attempt", attempt+1),
				zap.Error(err))
			turn.Clarification = clarification(err, timedOut)
			continue
		}

		te := &TurnError{
			SessionID:   s.ID,
			Participant: p.ID,
			Round:       round,
			Err:         types.NewError(types.ErrMalformedReply, "reply rejected").WithCause(err),
		}
		if isMalformed {
			te.Raw = malformed.Raw
		} else {
			te.Err.Message = "turn timed out"
		}
		span.SetStatus(codes.Error, te.Error())
		return Message{}, StatusInterrupted, te
	}
}

func clarification(err error, timedOut bool) string {
	if timedOut {
		return "Your previous reply took too long. Reply again, more briefly."
	}
	return fmt.Sprintf("Your previous reply could not be used (%v). Reply again in the expected format, without extra text.", err)
}

func validateReply(reply Reply) error {
	switch v := reply.(type) {
	case nil:
		return Malformed("", errors.New("empty reply"))
	case ToolCallReply:
		if len(v.Calls) == 0 {
			return Malformed(v.Content, errors.New("tool call reply without calls"))
		}
	case ToolResultReply:
		if len(v.Results) == 0 {
			return Malformed("", errors.New("tool result reply without results"))
		}
	}
	return nil
}

// respond 调用参与者；非自主参与者等待外部输入且不受单轮超时限制
func (r *Router) respond(ctx context.Context, s *Session, p Participant, turn Turn) (Reply, error) {
	return guarded(ctx, r, s, p.Autonomous, func(turnCtx context.Context) (Reply, error) {
		switch {
		case p.Responder != nil:
			return p.Responder.Respond(turnCtx, turn)
		case r.human != nil:
			text, err := r.human.Await(turnCtx, turn)
			if err != nil {
				return nil, err
			}
			return TextReply{Content: text}, nil
		}
		return nil, types.Errorf(types.ErrCollaboratorUnavailable, "participant %s needs external input but none is configured", p.ID)
	})
}

// guarded 在可取消、可超时的上下文中运行一次协作方调用。
// 超时或 Session.Cancel 只取消 ctx；调用返回后才继续，结果被丢弃，
// 因此不会留下仍在运行的回合。
func guarded[T any](ctx context.Context, r *Router, s *Session, timed bool, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var (
		turnCtx context.Context
		cancel  context.CancelFunc
	)
	if timed && r.cfg.TurnTimeout > 0 {
		turnCtx, cancel = context.WithTimeout(ctx, r.cfg.TurnTimeout)
	} else {
		turnCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()
	if !s.beginTurn(cancel) {
		return zero, context.Canceled
	}
	defer s.endTurn()

	v, err := fn(turnCtx)
	if cerr := turnCtx.Err(); cerr != nil {
		return zero, cerr
	}
	return v, err
}

func (r *Router) collaboratorError(s *Session, participant string, round int, err error) *TurnError {
	te := types.NewError(types.ErrCollaboratorUnavailable, fmt.Sprintf("collaborator of %s failed", participant)).WithCause(err)
	if e, ok := types.AsError(err); ok && e.Provider != "" {
		te.Provider = e.Provider
		te.Message = fmt.Sprintf("collaborator %s of %s failed", e.Provider, participant)
	}
	return &TurnError{SessionID: s.ID, Participant: participant, Round: round, Err: te}
}

func asTypesError(err error, fallback types.ErrorCode) *types.Error {
	if e, ok := types.AsError(err); ok {
		return e
	}
	return types.NewError(fallback, err.Error())
}

func (r *Router) summarize(ctx context.Context, s *Session, status Status) error {
	if status != StatusTerminated && status != StatusRoundLimit {
		return nil
	}
	summarizer := s.compiled.Summarizer
	if summarizer == nil {
		summarizer = r.summarizer
	}
	if summarizer == nil {
		return nil
	}
	summary, err := summarizer.Summarize(ctx, s.Snapshot())
	if err != nil {
		r.logger.Warn("summary failed", zap.String("session_id", s.ID), zap.Error(err))
		return fmt.Errorf("summarize session %s: %w", s.ID, err)
	}
	s.setSummary(summary)
	return nil
}
