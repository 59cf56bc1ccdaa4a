package persistence

import (
	"context"
	"time"

	"github.com/Lynn-1221/Agents/agent/conversation"
	"go.uber.org/zap"
)

// SessionRecorder 在会话结束（含中断）时保存快照，可作为 Router 的 Observer。
type SessionRecorder struct {
	store   SessionStore
	timeout time.Duration
	logger  *zap.Logger
}

var _ conversation.Observer = (*SessionRecorder)(nil)

// NewSessionRecorder creates a recorder. Saves that take longer than
// timeout are abandoned and logged.
func NewSessionRecorder(store SessionStore, timeout time.Duration, logger *zap.Logger) *SessionRecorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &SessionRecorder{
		store:   store,
		timeout: timeout,
		logger:  logger.With(zap.String("component", "session_recorder")),
	}
}

func (r *SessionRecorder) OnStart(string)                              {}
func (r *SessionRecorder) OnMessage(string, conversation.Message)      {}
func (r *SessionRecorder) OnTurn(string, string, time.Duration, error) {}

func (r *SessionRecorder) OnEnd(snap conversation.Snapshot) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if err := r.store.Save(ctx, snap); err != nil {
		r.logger.Error("failed to save session",
			zap.String("session_id", snap.ID),
			zap.String("status", string(snap.Status)),
			zap.Error(err))
		return
	}
	r.logger.Debug("session saved", zap.String("session_id", snap.ID), zap.String("status", string(snap.Status)))
}
