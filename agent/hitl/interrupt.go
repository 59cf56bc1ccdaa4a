package hitl

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Lynn-1221/Agents/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// InterruptType 中断类型
type InterruptType string

const (
	InterruptTypeInput       InterruptType = "input"       // 参与者发言
	InterruptTypeArbitration InterruptType = "arbitration" // 选择下一位发言人
)

// InterruptStatus 中断状态
type InterruptStatus string

const (
	InterruptStatusPending  InterruptStatus = "pending"
	InterruptStatusResolved InterruptStatus = "resolved"
	InterruptStatusTimeout  InterruptStatus = "timeout"
	InterruptStatusCanceled InterruptStatus = "canceled"
)

// DefaultInterruptTimeout 未指定超时时的等待上限
const DefaultInterruptTimeout = 24 * time.Hour

// Interrupt 一次等待人工输入的请求
type Interrupt struct {
	ID          string          `json:"id"`
	SessionID   string          `json:"session_id"`
	Participant string          `json:"participant"`
	Round       int             `json:"round"`
	Type        InterruptType   `json:"type"`
	Status      InterruptStatus `json:"status"`
	Prompt      string          `json:"prompt"`
	Context     string          `json:"context,omitempty"`
	Options     []string        `json:"options,omitempty"`
	Response    *Response       `json:"response,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	ResolvedAt  *time.Time      `json:"resolved_at,omitempty"`
	Timeout     time.Duration   `json:"timeout"`
}

// Response 人工给出的回复
type Response struct {
	Text      string    `json:"text"`
	UserID    string    `json:"user_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// InterruptStore 中断的存储接口
type InterruptStore interface {
	Save(ctx context.Context, interrupt *Interrupt) error
	Load(ctx context.Context, interruptID string) (*Interrupt, error)
	List(ctx context.Context, sessionID string, status InterruptStatus) ([]*Interrupt, error)
	Update(ctx context.Context, interrupt *Interrupt) error
}

// InterruptHandler is notified when an interrupt is created.
type InterruptHandler func(ctx context.Context, interrupt *Interrupt) error

// InterruptOptions 创建中断的参数
type InterruptOptions struct {
	SessionID   string
	Participant string
	Round       int
	Type        InterruptType
	Prompt      string
	Context     string
	Options     []string
	Timeout     time.Duration
}

// InterruptManager 管理等待中的中断
type InterruptManager struct {
	store    InterruptStore
	logger   *zap.Logger
	handlers []InterruptHandler
	pending  map[string]*pendingInterrupt
	mu       sync.RWMutex
}

type pendingInterrupt struct {
	interrupt  *Interrupt
	responseCh chan *Response
	cancelCh   chan struct{}
}

// NewInterruptManager creates an interrupt manager. A nil store keeps
// interrupts in memory.
func NewInterruptManager(store InterruptStore, logger *zap.Logger) *InterruptManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if store == nil {
		store = NewInMemoryInterruptStore()
	}
	return &InterruptManager{
		store:   store,
		logger:  logger.With(zap.String("component", "interrupt_manager")),
		pending: make(map[string]*pendingInterrupt),
	}
}

// RegisterHandler adds a handler called for every new interrupt.
func (m *InterruptManager) RegisterHandler(handler InterruptHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, handler)
}

// CreateInterrupt 登记中断并阻塞直到被解决、取消、超时或 ctx 结束
func (m *InterruptManager) CreateInterrupt(ctx context.Context, opts InterruptOptions) (*Response, error) {
	interrupt := &Interrupt{
		ID:          "int_" + uuid.NewString(),
		SessionID:   opts.SessionID,
		Participant: opts.Participant,
		Round:       opts.Round,
		Type:        opts.Type,
		Status:      InterruptStatusPending,
		Prompt:      opts.Prompt,
		Context:     opts.Context,
		Options:     opts.Options,
		CreatedAt:   time.Now(),
		Timeout:     opts.Timeout,
	}
	if interrupt.Type == "" {
		interrupt.Type = InterruptTypeInput
	}
	if interrupt.Timeout <= 0 {
		interrupt.Timeout = DefaultInterruptTimeout
	}

	if err := m.store.Save(ctx, interrupt); err != nil {
		return nil, fmt.Errorf("failed to save interrupt: %w", err)
	}

	pending := &pendingInterrupt{
		interrupt:  interrupt,
		responseCh: make(chan *Response, 1),
		cancelCh:   make(chan struct{}),
	}
	m.mu.Lock()
	m.pending[interrupt.ID] = pending
	m.mu.Unlock()

	m.logger.Info("interrupt created",
		zap.String("id", interrupt.ID),
		zap.String("session_id", interrupt.SessionID),
		zap.String("participant", interrupt.Participant),
		zap.String("type", string(interrupt.Type)))
	m.notifyHandlers(ctx, interrupt)

	timer := time.NewTimer(interrupt.Timeout)
	defer timer.Stop()

	select {
	case resp := <-pending.responseCh:
		return resp, nil
	case <-pending.cancelCh:
		return nil, types.Errorf(types.ErrCancelled, "interrupt %s canceled", interrupt.ID)
	case <-timer.C:
		m.finish(context.WithoutCancel(ctx), interrupt.ID, InterruptStatusTimeout)
		return nil, types.Errorf(types.ErrUpstreamTimeout, "interrupt %s timed out after %s", interrupt.ID, interrupt.Timeout)
	case <-ctx.Done():
		m.finish(context.WithoutCancel(ctx), interrupt.ID, InterruptStatusCanceled)
		return nil, ctx.Err()
	}
}

// ResolveInterrupt delivers a response to a pending interrupt.
func (m *InterruptManager) ResolveInterrupt(ctx context.Context, interruptID string, response Response) error {
	pending, ok := m.take(interruptID)
	if !ok {
		return types.Errorf(types.ErrNotFound, "interrupt not found or already resolved: %s", interruptID)
	}

	now := time.Now()
	response.Timestamp = now
	interrupt := pending.interrupt
	m.mu.Lock()
	interrupt.Response = &response
	interrupt.Status = InterruptStatusResolved
	interrupt.ResolvedAt = &now
	m.mu.Unlock()

	if err := m.store.Update(ctx, interrupt); err != nil {
		m.logger.Warn("failed to update interrupt", zap.String("id", interruptID), zap.Error(err))
	}
	m.logger.Info("interrupt resolved", zap.String("id", interruptID))

	pending.responseCh <- &response
	return nil
}

// CancelInterrupt cancels a pending interrupt; the waiting caller gets a
// CANCELLED error.
func (m *InterruptManager) CancelInterrupt(ctx context.Context, interruptID string) error {
	pending, ok := m.take(interruptID)
	if !ok {
		return types.Errorf(types.ErrNotFound, "interrupt not found: %s", interruptID)
	}
	m.markDone(ctx, pending.interrupt, InterruptStatusCanceled)
	close(pending.cancelCh)
	m.logger.Info("interrupt canceled", zap.String("id", interruptID))
	return nil
}

// CancelSession cancels every pending interrupt of a session.
func (m *InterruptManager) CancelSession(ctx context.Context, sessionID string) int {
	n := 0
	for _, it := range m.GetPendingInterrupts(sessionID) {
		if m.CancelInterrupt(ctx, it.ID) == nil {
			n++
		}
	}
	return n
}

// GetPendingInterrupts returns copies of the pending interrupts, oldest
// first. An empty sessionID matches all sessions.
func (m *InterruptManager) GetPendingInterrupts(sessionID string) []Interrupt {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var results []Interrupt
	for _, p := range m.pending {
		if sessionID == "" || p.interrupt.SessionID == sessionID {
			results = append(results, *p.interrupt)
		}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].CreatedAt.Before(results[j].CreatedAt) })
	return results
}

func (m *InterruptManager) take(id string) (*pendingInterrupt, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pending[id]
	if ok {
		delete(m.pending, id)
	}
	return p, ok
}

func (m *InterruptManager) finish(ctx context.Context, id string, status InterruptStatus) {
	pending, ok := m.take(id)
	if !ok {
		return
	}
	m.markDone(ctx, pending.interrupt, status)
	m.logger.Warn("interrupt abandoned", zap.String("id", id), zap.String("status", string(status)))
}

func (m *InterruptManager) markDone(ctx context.Context, interrupt *Interrupt, status InterruptStatus) {
	now := time.Now()
	m.mu.Lock()
	interrupt.Status = status
	interrupt.ResolvedAt = &now
	m.mu.Unlock()
	if err := m.store.Update(ctx, interrupt); err != nil {
		m.logger.Warn("failed to update interrupt", zap.String("id", interrupt.ID), zap.Error(err))
	}
}

func (m *InterruptManager) notifyHandlers(ctx context.Context, interrupt *Interrupt) {
	m.mu.RLock()
	handlers := append([]InterruptHandler(nil), m.handlers...)
	snapshot := *interrupt
	m.mu.RUnlock()

	for _, handler := range handlers {
		go func(h InterruptHandler) {
			if err := h(ctx, &snapshot); err != nil {
				m.logger.Error("interrupt handler error", zap.Error(err))
			}
		}(handler)
	}
}

// InMemoryInterruptStore 内存中断存储
type InMemoryInterruptStore struct {
	interrupts map[string]Interrupt
	mu         sync.RWMutex
}

// NewInMemoryInterruptStore creates an in-memory interrupt store.
func NewInMemoryInterruptStore() *InMemoryInterruptStore {
	return &InMemoryInterruptStore{interrupts: make(map[string]Interrupt)}
}

func (s *InMemoryInterruptStore) Save(_ context.Context, interrupt *Interrupt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interrupts[interrupt.ID] = *interrupt
	return nil
}

func (s *InMemoryInterruptStore) Load(_ context.Context, interruptID string) (*Interrupt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	interrupt, ok := s.interrupts[interruptID]
	if !ok {
		return nil, types.Errorf(types.ErrNotFound, "interrupt not found: %s", interruptID)
	}
	return &interrupt, nil
}

func (s *InMemoryInterruptStore) List(_ context.Context, sessionID string, status InterruptStatus) ([]*Interrupt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []*Interrupt
	for _, interrupt := range s.interrupts {
		if (sessionID == "" || interrupt.SessionID == sessionID) &&
			(status == "" || interrupt.Status == status) {
			it := interrupt
			results = append(results, &it)
		}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].CreatedAt.Before(results[j].CreatedAt) })
	return results, nil
}

func (s *InMemoryInterruptStore) Update(ctx context.Context, interrupt *Interrupt) error {
	return s.Save(ctx, interrupt)
}
