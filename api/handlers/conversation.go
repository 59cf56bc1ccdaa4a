package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/Lynn-1221/Agents/agent/conversation"
	"github.com/Lynn-1221/Agents/agent/declarative"
	"github.com/Lynn-1221/Agents/agent/hitl"
	"github.com/Lynn-1221/Agents/agent/persistence"
	"github.com/Lynn-1221/Agents/api"
	"github.com/Lynn-1221/Agents/types"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"
)

// =============================================================================
// 💬 会话 Handler
// =============================================================================

// ConversationDeps 会话处理器的依赖
type ConversationDeps struct {
	Factory       *declarative.Factory
	Collaborators declarative.Collaborators
	// Interrupts 非空时，人工参与者和人工仲裁通过中断等待 /v1/interrupts 作答
	Interrupts       *hitl.InterruptManager
	InterruptTimeout time.Duration
	Store            persistence.SessionStore
	Config           conversation.Config
	// RouterOptions 附加到每个 Router，如指标 Observer 和 TracerProvider
	RouterOptions []conversation.Option
	MaxBodyBytes  int64
}

// ConversationHandler 通过 HTTP 创建、查询、取消和恢复会话。
// 会话在后台运行，不随请求结束而取消。
type ConversationHandler struct {
	deps     ConversationDeps
	recorder *persistence.SessionRecorder
	logger   *zap.Logger

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup

	mu   sync.Mutex
	live map[string]*liveSession
}

type liveSession struct {
	session *conversation.Session
	done    chan struct{}
}

// NewConversationHandler creates a handler. A nil store keeps snapshots in memory.
func NewConversationHandler(deps ConversationDeps, logger *zap.Logger) *ConversationHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Factory == nil {
		deps.Factory = declarative.NewFactory(logger)
	}
	if deps.Store == nil {
		deps.Store = persistence.NewMemorySessionStore()
	}
	if deps.Interrupts != nil {
		deps.Collaborators.HumanInput = &hitl.InterruptInput{
			Manager: deps.Interrupts,
			Timeout: deps.InterruptTimeout,
		}
	}
	ctx, stop := context.WithCancel(context.Background())
	return &ConversationHandler{
		deps:     deps,
		recorder: persistence.NewSessionRecorder(deps.Store, 0, logger),
		logger:   logger.With(zap.String("component", "conversation_handler")),
		baseCtx:  ctx,
		stop:     stop,
		live:     make(map[string]*liveSession),
	}
}

// Register mounts the conversation routes on mux.
func (h *ConversationHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/conversations", h.HandleCreate)
	mux.HandleFunc("GET /v1/conversations", h.HandleList)
	mux.HandleFunc("GET /v1/conversations/stream", h.HandleStream)
	mux.HandleFunc("GET /v1/conversations/{id}", h.HandleGet)
	mux.HandleFunc("DELETE /v1/conversations/{id}", h.HandleCancel)
	mux.HandleFunc("POST /v1/conversations/{id}/resume", h.HandleResume)
	mux.HandleFunc("GET /v1/conversations/{id}/interrupts", h.HandleListInterrupts)
	mux.HandleFunc("POST /v1/interrupts/{id}", h.HandleResolveInterrupt)
}

// Shutdown cancels every live session and waits for them to stop.
func (h *ConversationHandler) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	for _, ls := range h.live {
		ls.session.Cancel()
	}
	h.mu.Unlock()
	h.stop()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// =============================================================================
// 🎯 HTTP 处理程序
// =============================================================================

// HandleCreate 处理 POST /v1/conversations
func (h *ConversationHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req api.CreateConversationRequest
	if err := DecodeJSONBody(w, r, &req, h.deps.MaxBodyBytes, h.logger); err != nil {
		return
	}

	router, plan, err := h.prepare(req.Definition)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	s, err := router.Open(plan, req.Seed)
	if err != nil {
		WriteError(w, invalidDefinition(err), h.logger)
		return
	}

	ls := h.launch(h.baseCtx, router, s, false)
	h.respond(w, r, ls, req.Wait, http.StatusCreated)
}

// HandleGet 处理 GET /v1/conversations/{id}
func (h *ConversationHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	snap, err := h.snapshot(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, snap)
}

// HandleList 处理 GET /v1/conversations?status=&limit=
func (h *ConversationHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	opts := persistence.ListOptions{Status: conversation.Status(r.URL.Query().Get("status"))}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "limit must be a non-negative integer", h.logger)
			return
		}
		opts.Limit = n
	}

	snaps, err := h.deps.Store.List(r.Context(), opts)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	// 运行中的会话以内存中的状态为准
	h.mu.Lock()
	for i := range snaps {
		if ls, ok := h.live[snaps[i].ID]; ok {
			snaps[i] = ls.session.Snapshot()
		}
	}
	h.mu.Unlock()
	if snaps == nil {
		snaps = []conversation.Snapshot{}
	}
	WriteSuccess(w, api.ListConversationsResponse{Conversations: snaps})
}

// HandleCancel 处理 DELETE /v1/conversations/{id}
func (h *ConversationHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	h.mu.Lock()
	ls, ok := h.live[id]
	h.mu.Unlock()
	if !ok {
		h.cancelStored(w, r, id)
		return
	}

	ls.session.Cancel()
	h.logger.Info("conversation cancel requested", zap.String("session_id", id))
	WriteData(w, http.StatusAccepted, ls.session.Snapshot())
}

// cancelStored 取消已中断、只存在于存储中的会话
func (h *ConversationHandler) cancelStored(w http.ResponseWriter, r *http.Request, id string) {
	snap, err := h.deps.Store.Load(r.Context(), id)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	cancelled, ok := conversation.CancelSnapshot(snap, time.Now())
	if !ok {
		WriteError(w, types.Errorf(types.ErrInvalidRequest, "conversation %s is %s and cannot be cancelled", id, snap.Status).
			WithHTTPStatus(http.StatusConflict), h.logger)
		return
	}
	if err := h.deps.Store.Save(r.Context(), cancelled); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	h.logger.Info("interrupted conversation cancelled", zap.String("session_id", id))
	WriteSuccess(w, cancelled)
}

// HandleResume 处理 POST /v1/conversations/{id}/resume
func (h *ConversationHandler) HandleResume(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req api.ResumeConversationRequest
	if err := DecodeJSONBody(w, r, &req, h.deps.MaxBodyBytes, h.logger); err != nil {
		return
	}

	h.mu.Lock()
	_, running := h.live[id]
	h.mu.Unlock()
	if running {
		WriteError(w, types.Errorf(types.ErrInvalidRequest, "conversation %s is still running", id).
			WithHTTPStatus(http.StatusConflict), h.logger)
		return
	}

	snap, err := h.deps.Store.Load(r.Context(), id)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	if snap.Status != conversation.StatusInterrupted {
		WriteError(w, types.Errorf(types.ErrInvalidRequest, "conversation %s is %s, only interrupted conversations can resume", id, snap.Status).
			WithHTTPStatus(http.StatusConflict), h.logger)
		return
	}

	router, plan, err := h.prepare(req.Definition)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	s, err := conversation.RestoreSession(plan, snap)
	if err != nil {
		WriteError(w, invalidDefinition(err), h.logger)
		return
	}

	ls := h.launch(h.baseCtx, router, s, true)
	h.respond(w, r, ls, req.Wait, http.StatusOK)
}

// HandleListInterrupts 处理 GET /v1/conversations/{id}/interrupts
func (h *ConversationHandler) HandleListInterrupts(w http.ResponseWriter, r *http.Request) {
	if h.deps.Interrupts == nil {
		WriteSuccess(w, []hitl.Interrupt{})
		return
	}
	pending := h.deps.Interrupts.GetPendingInterrupts(r.PathValue("id"))
	if pending == nil {
		pending = []hitl.Interrupt{}
	}
	WriteSuccess(w, pending)
}

// HandleResolveInterrupt 处理 POST /v1/interrupts/{id}
func (h *ConversationHandler) HandleResolveInterrupt(w http.ResponseWriter, r *http.Request) {
	if h.deps.Interrupts == nil {
		WriteErrorMessage(w, http.StatusNotFound, types.ErrNotFound, "human input is not routed through interrupts", h.logger)
		return
	}
	var req api.ResolveInterruptRequest
	if err := DecodeJSONBody(w, r, &req, h.deps.MaxBodyBytes, h.logger); err != nil {
		return
	}
	userID := req.UserID
	if userID == "" {
		userID, _ = types.UserID(r.Context())
	}

	id := r.PathValue("id")
	if err := h.deps.Interrupts.ResolveInterrupt(r.Context(), id, hitl.Response{Text: req.Text, UserID: userID}); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, map[string]string{"id": id, "status": string(hitl.InterruptStatusResolved)})
}

// HandleStream 处理 GET /v1/conversations/stream。
// 第一帧为 CreateConversationRequest，之后服务端逐条推送 StreamEvent，
// 会话停止后以 end 事件结束。客户端断开会取消会话。
func (h *ConversationHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()
	if h.deps.MaxBodyBytes > 0 {
		conn.SetReadLimit(h.deps.MaxBodyBytes)
	}

	ctx := r.Context()
	var req api.CreateConversationRequest
	if err := wsjson.Read(ctx, conn, &req); err != nil {
		h.writeStreamError(ctx, conn, types.NewError(types.ErrInvalidRequest, "invalid first frame: "+err.Error()))
		return
	}

	events := make(chan api.StreamEvent, 64)
	router, plan, err := h.prepare(req.Definition, conversation.WithObserver(conversation.ObserverFuncs{
		Start: func(id string) {
			events <- api.StreamEvent{Type: api.EventStarted, SessionID: id}
		},
		Message: func(id string, msg conversation.Message) {
			events <- api.StreamEvent{Type: api.EventMessage, SessionID: id, Message: &msg}
		},
		End: func(snap conversation.Snapshot) {
			events <- api.StreamEvent{Type: api.EventEnd, SessionID: snap.ID, Snapshot: &snap}
		},
	}))
	if err != nil {
		h.writeStreamError(ctx, conn, err)
		return
	}
	s, err := router.Open(plan, req.Seed)
	if err != nil {
		h.writeStreamError(ctx, conn, invalidDefinition(err))
		return
	}

	// 之后不再读取，对端关闭时 ctx 结束
	ctx = conn.CloseRead(ctx)
	ls := h.launch(ctx, router, s, false)
	go func() {
		<-ls.done
		close(events)
	}()

	broken := false
	for ev := range events {
		if broken {
			continue
		}
		if err := wsjson.Write(ctx, conn, ev); err != nil {
			h.logger.Debug("stream write failed", zap.String("session_id", s.ID), zap.Error(err))
			s.Cancel()
			broken = true
		}
	}
	if !broken {
		conn.Close(websocket.StatusNormalClosure, string(s.Status()))
	}
}

// =============================================================================
// 🔧 内部实现
// =============================================================================

// prepare builds a plan from def and a router configured for it.
func (h *ConversationHandler) prepare(def *declarative.ConversationDefinition, extra ...conversation.Option) (*conversation.Router, *conversation.Plan, error) {
	if def == nil {
		return nil, nil, types.NewError(types.ErrInvalidRequest, "definition is required")
	}
	plan, err := h.deps.Factory.Build(def, h.deps.Collaborators)
	if err != nil {
		return nil, nil, invalidDefinition(err)
	}

	opts := make([]conversation.Option, 0, len(h.deps.RouterOptions)+len(extra)+3)
	opts = append(opts, h.deps.RouterOptions...)
	opts = append(opts, extra...)
	opts = append(opts,
		conversation.WithWindow(h.deps.Factory.Window(def, nil)),
		conversation.WithObserver(h.recorder),
	)
	if h.deps.Collaborators.HumanInput != nil {
		opts = append(opts, conversation.WithHumanInput(h.deps.Collaborators.HumanInput))
	}
	return conversation.NewRouter(h.deps.Config, h.logger, opts...), plan, nil
}

// launch runs s in the background until it stops. The session is visible
// through the live map while running and saved before and after the run.
func (h *ConversationHandler) launch(ctx context.Context, router *conversation.Router, s *conversation.Session, resume bool) *liveSession {
	ls := &liveSession{session: s, done: make(chan struct{})}
	h.mu.Lock()
	h.live[s.ID] = ls
	h.mu.Unlock()
	h.save(s.Snapshot())

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer close(ls.done)

		var err error
		if resume {
			err = router.Resume(ctx, s)
		} else {
			err = router.Run(ctx, s)
		}
		if h.deps.Interrupts != nil {
			h.deps.Interrupts.CancelSession(context.WithoutCancel(ctx), s.ID)
		}

		h.mu.Lock()
		delete(h.live, s.ID)
		h.mu.Unlock()

		h.logger.Info("conversation stopped",
			zap.String("session_id", s.ID),
			zap.String("status", string(s.Status())),
			zap.Error(err))
	}()
	return ls
}

func (h *ConversationHandler) respond(w http.ResponseWriter, r *http.Request, ls *liveSession, wait bool, finished int) {
	if !wait {
		WriteData(w, http.StatusAccepted, ls.session.Snapshot())
		return
	}
	select {
	case <-ls.done:
		WriteData(w, finished, ls.session.Snapshot())
	case <-r.Context().Done():
		// 客户端放弃等待，会话继续运行
		h.logger.Debug("client stopped waiting", zap.String("session_id", ls.session.ID))
	}
}

func (h *ConversationHandler) snapshot(ctx context.Context, id string) (conversation.Snapshot, error) {
	h.mu.Lock()
	ls, ok := h.live[id]
	h.mu.Unlock()
	if ok {
		return ls.session.Snapshot(), nil
	}
	snap, err := h.deps.Store.Load(ctx, id)
	if errors.Is(err, persistence.ErrNotFound) {
		return snap, types.Errorf(types.ErrNotFound, "conversation %s not found", id).WithCause(err)
	}
	return snap, err
}

func (h *ConversationHandler) save(snap conversation.Snapshot) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.deps.Store.Save(ctx, snap); err != nil {
		h.logger.Error("failed to save conversation", zap.String("session_id", snap.ID), zap.Error(err))
	}
}

func (h *ConversationHandler) writeStreamError(ctx context.Context, conn *websocket.Conn, err error) {
	apiErr := toAPIError(err)
	_ = wsjson.Write(ctx, conn, api.StreamEvent{Type: api.EventError, Error: apiErr.Message})
	conn.Close(websocket.StatusPolicyViolation, string(apiErr.Code))
}

// invalidDefinition tags definition and plan errors that carry no code.
func invalidDefinition(err error) error {
	if _, ok := types.AsError(err); ok {
		return err
	}
	return types.NewError(types.ErrInvalidRequest, err.Error()).WithCause(err)
}
