package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/Lynn-1221/Agents/agent/hitl"
	"github.com/Lynn-1221/Agents/api/handlers"
	"github.com/Lynn-1221/Agents/config"
	"github.com/Lynn-1221/Agents/internal/server"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// publicPaths 不需要鉴权的路径
var publicPaths = []string{"/healthz", "/readyz", "/version", "/metrics"}

// Server 是 agents 的 HTTP 服务
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	app      *app
	registry *prometheus.Registry

	interrupts    *hitl.InterruptManager
	healthHandler *handlers.HealthHandler
	conversations *handlers.ConversationHandler

	httpManager *server.Manager

	// Rate limiter 生命周期管理
	rateLimiterCancel context.CancelFunc
}

// NewServer 创建新的服务器实例
func NewServer(cfg *config.Config, logger *zap.Logger) *Server {
	return &Server{
		cfg:               cfg,
		logger:            logger,
		rateLimiterCancel: func() {},
	}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 初始化依赖并开始监听
func (s *Server) Start(ctx context.Context) error {
	if err := s.init(ctx); err != nil {
		return fmt.Errorf("failed to init server: %w", err)
	}

	s.httpManager = server.NewManager(s.Handler(), server.ConfigFrom(s.cfg.Server), s.logger)
	// 停止接收请求后：先停会话，再停限流清理，最后释放存储与连接
	s.httpManager.OnShutdown(s.conversations.Shutdown)
	s.httpManager.OnShutdown(func(context.Context) error {
		s.rateLimiterCancel()
		return nil
	})
	s.httpManager.OnShutdown(s.app.Close)

	if err := s.httpManager.Start(); err != nil {
		s.rateLimiterCancel()
		_ = s.app.Close(ctx)
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	s.logger.Info("server started",
		zap.String("addr", s.httpManager.Addr()),
		zap.String("store", s.cfg.Store.Type),
		zap.Bool("cache", s.cfg.Cache.Enabled),
		zap.Bool("auth", s.cfg.Server.JWTSecret != ""),
	)
	return nil
}

// init 创建协作者和 handlers
func (s *Server) init(ctx context.Context) error {
	s.registry = prometheus.NewRegistry()
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	a, err := newApp(ctx, s.cfg, s.registry, s.logger)
	if err != nil {
		return err
	}
	s.app = a

	s.interrupts = hitl.NewInterruptManager(nil, s.logger)
	s.conversations = handlers.NewConversationHandler(handlers.ConversationDeps{
		Factory:       a.factory,
		Collaborators: a.collaborators(nil),
		Interrupts:    s.interrupts,
		Store:         a.store,
		Config:        a.conversationConfig(),
		RouterOptions: a.routerOptions(),
		MaxBodyBytes:  s.cfg.Server.MaxBodyBytes,
	}, s.logger)

	s.healthHandler = handlers.NewHealthHandler(s.logger)
	s.healthHandler.RegisterCheck(handlers.NewPingCheck("session_store", a.store.Ping))
	if a.pool != nil {
		s.healthHandler.RegisterCheck(handlers.NewPingCheck("database", a.pool.Ping))
	}
	if a.redis != nil {
		rdb := a.redis
		s.healthHandler.RegisterCheck(handlers.NewPingCheck("redis", func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}))
	}
	return nil
}

// Handler 组装路由和中间件，init 之后调用
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.healthHandler.HandleHealthz)
	mux.HandleFunc("GET /readyz", s.healthHandler.HandleReady)
	mux.HandleFunc("GET /version", s.healthHandler.HandleVersion(Version, BuildTime, GitCommit))
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry}))
	s.conversations.Register(mux)

	middlewares := []Middleware{
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		OTelTracing(),
		MetricsMiddleware(s.app.collector),
		RequestLogger(s.logger),
	}
	if rps := s.cfg.Server.RateLimitRPS; rps > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		s.rateLimiterCancel = cancel
		middlewares = append(middlewares, RateLimiter(ctx, rps, s.cfg.Server.RateLimitBurst, s.logger))
	}
	if secret := s.cfg.Server.JWTSecret; secret != "" {
		middlewares = append(middlewares, JWTAuth(secret, s.cfg.Server.JWTIssuer, publicPaths, s.logger))
	}
	return Chain(mux, middlewares...)
}

// WaitForShutdown 阻塞直到收到信号或 ctx 结束，然后优雅关闭
func (s *Server) WaitForShutdown(ctx context.Context) error {
	return s.httpManager.WaitForShutdown(ctx)
}

// Shutdown 立即开始优雅关闭
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpManager.Shutdown(ctx)
}
