package conversation

import (
	"context"
	"sync"
	"time"

	"github.com/Lynn-1221/Agents/types"
)

// Status 会话状态
type Status string

const (
	StatusRunning     Status = "running"
	StatusInterrupted Status = "interrupted" // 协作方失败，可 Resume
	StatusTerminated  Status = "terminated"
	StatusRoundLimit  Status = "round_limit"
	StatusDeadlock    Status = "deadlock"
	StatusAmbiguous   Status = "ambiguous"
	StatusCancelled   Status = "cancelled"
)

// Terminal reports whether a session in this status can never change again.
func (s Status) Terminal() bool {
	switch s {
	case StatusTerminated, StatusRoundLimit, StatusDeadlock, StatusAmbiguous, StatusCancelled:
		return true
	}
	return false
}

// Session 一次对话运行的状态。只有 Router 修改它；Snapshot 与 Cancel
// 可以在其他 goroutine 中调用。
type Session struct {
	ID   string
	Plan *Plan

	compiled *compiledPlan

	mu         sync.RWMutex
	seed       Message
	transcript []Message
	current    string
	round      int
	status     Status
	summary    string
	lastErr    error
	startedAt  time.Time
	endedAt    time.Time

	started    bool
	cancelled  bool
	cancelTurn context.CancelFunc
}

// Snapshot 会话的只读副本
type Snapshot struct {
	ID         string          `json:"id"`
	Status     Status          `json:"status"`
	Seed       Message         `json:"seed"`
	Transcript []Message       `json:"transcript"`
	Current    string          `json:"current_speaker"`
	Round      int             `json:"round"`
	Terminal   bool            `json:"terminal"`
	Summary    string          `json:"summary,omitempty"`
	Error      string          `json:"error,omitempty"`
	ErrorCode  types.ErrorCode `json:"error_code,omitempty"`
	StartedAt  time.Time       `json:"started_at"`
	EndedAt    time.Time       `json:"ended_at,omitempty"`
}

// RestoreSession rebuilds a session from a snapshot so that an interrupted
// run can be resumed with Router.Resume.
func RestoreSession(plan *Plan, snap Snapshot) (*Session, error) {
	cp, err := compilePlan(plan)
	if err != nil {
		return nil, err
	}
	if snap.Current != "" && !cp.graph.Has(snap.Current) {
		return nil, types.Errorf(types.ErrInvalidGraph, "snapshot speaker %q is not a participant", snap.Current)
	}
	if snap.Round != len(snap.Transcript) {
		return nil, types.Errorf(types.ErrInvalidRequest, "snapshot round %d does not match transcript length %d", snap.Round, len(snap.Transcript))
	}
	s := &Session{
		ID:         snap.ID,
		Plan:       plan,
		compiled:   cp,
		seed:       snap.Seed,
		transcript: cloneMessages(snap.Transcript),
		current:    snap.Current,
		round:      snap.Round,
		status:     snap.Status,
		summary:    snap.Summary,
		startedAt:  snap.StartedAt,
		endedAt:    snap.EndedAt,
		started:    true,
	}
	if snap.Error != "" {
		s.lastErr = types.NewError(snap.ErrorCode, snap.Error)
	}
	return s, nil
}

func newSession(id string, plan *Plan, seed string, now time.Time) *Session {
	return &Session{
		ID:        id,
		Plan:      plan,
		seed:      Message{Seq: 0, Sender: ExternalSender, Kind: KindText, Content: seed, CreatedAt: now},
		current:   plan.Initiator,
		status:    StatusRunning,
		startedAt: now,
	}
}

// Cancel stops the session before its next turn. A turn in flight is
// cancelled through its context and its result discarded. An interrupted
// session is idle between turns and becomes cancelled at once.
func (s *Session) Cancel() {
	s.mu.Lock()
	if s.status.Terminal() {
		s.mu.Unlock()
		return
	}
	s.cancelled = true
	if s.cancelTurn != nil {
		s.cancelTurn()
	}
	idle := s.status == StatusInterrupted
	if idle {
		s.status = StatusCancelled
		s.lastErr = &TurnError{
			SessionID: s.ID,
			Round:     s.round,
			Err:       types.NewError(types.ErrCancelled, "session cancelled while interrupted"),
		}
		s.endedAt = time.Now()
	}
	s.mu.Unlock()

	if idle {
		s.closeResponders()
	}
}

// CancelSnapshot marks a stored interrupted session as cancelled. It
// reports false and leaves snap unchanged for any other status.
func CancelSnapshot(snap Snapshot, now time.Time) (Snapshot, bool) {
	if snap.Status != StatusInterrupted {
		return snap, false
	}
	err := types.NewError(types.ErrCancelled, "session cancelled while interrupted")
	snap.Status = StatusCancelled
	snap.Terminal = true
	snap.Error = err.Error()
	snap.ErrorCode = err.Code
	snap.EndedAt = now
	return snap, true
}

// closeResponders 释放参与者为本会话持有的资源，例如沙箱目录
func (s *Session) closeResponders() {
	if s.compiled == nil {
		return
	}
	for _, p := range s.compiled.Participants {
		if c, ok := p.Responder.(SessionCloser); ok {
			c.CloseSession(s.ID)
		}
	}
}

func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Transcript returns a copy of the replies appended so far, seed excluded.
func (s *Session) Transcript() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneMessages(s.transcript)
}

// Summary returns the summary produced when the session ended, if any.
func (s *Session) Summary() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.summary
}

// Err returns the error that stopped the session, if any.
func (s *Session) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		ID:         s.ID,
		Status:     s.status,
		Seed:       s.seed,
		Transcript: cloneMessages(s.transcript),
		Current:    s.current,
		Round:      s.round,
		Terminal:   s.status.Terminal(),
		Summary:    s.summary,
		StartedAt:  s.startedAt,
		EndedAt:    s.endedAt,
	}
	if s.lastErr != nil {
		snap.Error = s.lastErr.Error()
		snap.ErrorCode = types.GetErrorCode(s.lastErr)
	}
	return snap
}

// history 返回种子消息加完整记录
func (s *Session) history() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Message, 0, len(s.transcript)+1)
	out = append(out, s.seed)
	return append(out, s.transcript...)
}

func (s *Session) append(msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcript = append(s.transcript, msg)
	s.round++
}

func (s *Session) nextSeq() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.transcript) + 1
}

func (s *Session) state() (current string, round int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current, s.round
}

func (s *Session) setCurrent(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = id
}

// beginTurn 注册当前轮的取消函数；已取消时返回 false
func (s *Session) beginTurn(cancel context.CancelFunc) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelled {
		return false
	}
	s.cancelTurn = cancel
	return true
}

func (s *Session) endTurn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelTurn = nil
}

func (s *Session) isCancelled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cancelled
}

func (s *Session) finish(status Status, err error, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
	s.lastErr = err
	if status.Terminal() {
		s.endedAt = now
	}
}

func (s *Session) setSummary(summary string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summary = summary
}

func cloneMessages(in []Message) []Message {
	out := make([]Message, len(in))
	for i, m := range in {
		out[i] = m.clone()
	}
	return out
}
