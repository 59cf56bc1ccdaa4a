package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/Lynn-1221/Agents/agent/conversation"
	"github.com/Lynn-1221/Agents/agent/declarative"
	"github.com/Lynn-1221/Agents/agent/persistence"
	"github.com/Lynn-1221/Agents/agent/sandbox"
	"github.com/Lynn-1221/Agents/config"
	"github.com/Lynn-1221/Agents/internal/database"
	"github.com/Lynn-1221/Agents/internal/metrics"
	"github.com/Lynn-1221/Agents/internal/telemetry"
	"github.com/Lynn-1221/Agents/llm"
	"github.com/Lynn-1221/Agents/llm/cache"
	"github.com/Lynn-1221/Agents/llm/providers/openai"
	"github.com/Lynn-1221/Agents/llm/retry"
	"github.com/Lynn-1221/Agents/llm/tools"
	"github.com/Lynn-1221/Agents/rag"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// =============================================================================
// 🧩 运行时依赖
// =============================================================================

// app 持有 serve、run、batch 共用的协作者。
// Close 按创建的逆序释放资源。
type app struct {
	cfg    *config.Config
	logger *zap.Logger

	telemetry *telemetry.Providers
	collector *metrics.Collector
	embedder  llm.Embedder
	provider  llm.Provider
	cache     *cache.CachedProvider
	tools     *tools.DefaultRegistry
	sandboxes *sandbox.Manager
	redis     *redis.Client
	db        *gorm.DB
	pool      *database.PoolManager
	store     persistence.SessionStore
	factory   *declarative.Factory

	closers []func(context.Context) error
}

// newApp builds the collaborator stack from cfg and registers the metrics
// collector on reg.
func newApp(ctx context.Context, cfg *config.Config, reg prometheus.Registerer, logger *zap.Logger) (a *app, err error) {
	a = &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	a.telemetry, err = telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
		a.telemetry = &telemetry.Providers{}
	}
	a.closers = append(a.closers, a.telemetry.Shutdown)

	a.collector = metrics.NewCollector("agents", reg, logger)

	if err := a.initProvider(); err != nil {
		return nil, err
	}
	if err := a.initTools(ctx); err != nil {
		return nil, err
	}
	if err := a.initStorage(); err != nil {
		return nil, err
	}

	a.factory = declarative.NewFactory(logger, declarative.WithDefaults(declarative.Defaults{
		Model:     cfg.LLM.Model,
		MaxRounds: cfg.Conversation.MaxRounds,
		Window:    defaultWindow(cfg.Conversation),
	}))
	return a, nil
}

// initProvider 组装 Provider 链：重试 → 限流 → 指标 → 缓存
func (a *app) initProvider() error {
	cfg := a.cfg
	switch cfg.LLM.Provider {
	case "", "openai":
	default:
		return fmt.Errorf("unsupported llm provider %q", cfg.LLM.Provider)
	}

	base := openai.NewProvider(openai.Config{
		APIKey:         cfg.LLM.APIKey,
		BaseURL:        cfg.LLM.BaseURL,
		Model:          cfg.LLM.Model,
		EmbeddingModel: cfg.LLM.EmbeddingModel,
		Timeout:        cfg.LLM.Timeout,
	}, a.logger)
	a.embedder = base

	policy := retry.DefaultPolicy()
	policy.MaxRetries = cfg.LLM.MaxRetries
	var p llm.Provider = llm.NewResilientProvider(base, llm.ResilientProviderConfig{
		Timeout: cfg.LLM.Timeout,
		Retry:   policy,
	}, a.logger)
	if cfg.LLM.RateLimitRPS > 0 {
		p = llm.NewRateLimitedProvider(p, cfg.LLM.RateLimitRPS, cfg.LLM.RateLimitBurst, a.logger)
	}
	p = metrics.InstrumentProvider(p, a.collector)

	if cfg.Cache.Enabled {
		var rdb *redis.Client
		if cfg.Cache.RedisEnabled {
			rdb = a.redisClient()
		}
		c := cache.NewMultiLevelCache(rdb, cache.Config{
			LocalMaxSize: cfg.Cache.LocalMaxSize,
			LocalTTL:     cfg.Cache.LocalTTL,
			RedisTTL:     cfg.Cache.RedisTTL,
			RedisPrefix:  cfg.Redis.KeyPrefix + "completion:",
			CacheTools:   cfg.Cache.CacheTools,
		}, a.logger)
		a.cache = cache.NewCachedProvider(p, c, a.logger).WithObserver(a.collector)
		p = a.cache
	}
	a.provider = p
	return nil
}

// initTools 注册内置工具、检索工具和代码执行工具
func (a *app) initTools(ctx context.Context) error {
	cfg := a.cfg
	a.tools = tools.NewDefaultRegistry(a.logger)

	var retriever rag.Retriever
	if cfg.Retrieval.IndexPath != "" {
		store, err := rag.LoadIndex(ctx, cfg.Retrieval.IndexPath, a.logger)
		if err != nil {
			return fmt.Errorf("load retrieval index: %w", err)
		}
		retriever = cappedRetriever(rag.NewEmbeddingRetriever(a.embedder, store, a.logger), cfg.Retrieval.TopK)
	}
	if err := tools.RegisterBuiltins(a.tools, retriever); err != nil {
		return fmt.Errorf("register builtin tools: %w", err)
	}

	a.sandboxes = sandbox.NewManager(sandboxConfig(cfg.Sandbox), nil, a.logger)
	if err := sandbox.RegisterTool(a.tools, a.sandboxes); err != nil {
		return fmt.Errorf("register sandbox tool: %w", err)
	}
	return nil
}

// initStorage 打开数据库与会话存储
func (a *app) initStorage() error {
	cfg := a.cfg
	if cfg.Database.Driver != "" {
		db, err := database.Open(cfg.Database, a.logger)
		if err != nil {
			return err
		}
		a.db = db
		pool, err := database.NewPoolManager(db, database.PoolConfigFrom(cfg.Database), a.logger,
			database.WithStatsHook(func(s database.PoolStats) {
				a.collector.RecordDBConnections(cfg.Database.Driver, s.OpenConnections, s.Idle)
			}))
		if err != nil {
			return err
		}
		a.pool = pool
		a.closers = append(a.closers, func(context.Context) error { return pool.Close() })
	}

	store, err := persistence.NewSessionStore(persistence.StoreConfig{
		Type:    persistence.StoreType(cfg.Store.Type),
		BaseDir: cfg.Store.BaseDir,
		Redis: persistence.RedisStoreConfig{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			PoolSize:  cfg.Redis.PoolSize,
			KeyPrefix: cfg.Redis.KeyPrefix,
		},
		TTL: cfg.Store.TTL,
	}, a.db)
	if err != nil {
		return fmt.Errorf("create session store: %w", err)
	}
	a.store = store
	a.closers = append(a.closers, func(context.Context) error { return store.Close() })
	return nil
}

func (a *app) redisClient() *redis.Client {
	if a.redis == nil {
		rc := a.cfg.Redis
		a.redis = redis.NewClient(&redis.Options{
			Addr:     rc.Addr,
			Password: rc.Password,
			DB:       rc.DB,
			PoolSize: rc.PoolSize,
		})
		client := a.redis
		a.closers = append(a.closers, func(context.Context) error { return client.Close() })
	}
	return a.redis
}

// collaborators returns the dependencies handed to the declarative factory.
func (a *app) collaborators(human conversation.HumanInput) declarative.Collaborators {
	return declarative.Collaborators{
		Provider:   a.provider,
		HumanInput: human,
		Tools:      a.tools,
		Sandboxes:  a.sandboxes,
	}
}

func (a *app) conversationConfig() conversation.Config {
	return conversation.Config{
		TurnTimeout:      a.cfg.Conversation.TurnTimeout,
		MalformedRetries: a.cfg.Conversation.MalformedRetries,
	}
}

// routerOptions 每个 Router 都挂上指标 Observer 和 TracerProvider
func (a *app) routerOptions() []conversation.Option {
	return []conversation.Option{
		conversation.WithObserver(a.collector),
		conversation.WithTracerProvider(a.telemetry.TracerProvider()),
	}
}

// Close releases resources in reverse creation order.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func defaultWindow(cc config.ConversationConfig) *declarative.WindowDefinition {
	if cc.WindowLastN == 0 && cc.WindowTokenBudget == 0 {
		return nil
	}
	return &declarative.WindowDefinition{LastN: cc.WindowLastN, TokenBudget: cc.WindowTokenBudget}
}

func sandboxConfig(sc config.SandboxConfig) sandbox.Config {
	out := sandbox.DefaultConfig()
	if sc.WorkRoot != "" {
		out.WorkRoot = sc.WorkRoot
	}
	if sc.Timeout > 0 {
		out.Timeout = sc.Timeout
	}
	if sc.MaxOutputBytes > 0 {
		out.MaxOutputBytes = sc.MaxOutputBytes
	}
	if len(sc.AllowedLanguages) > 0 {
		out.AllowedLanguages = make([]sandbox.Language, len(sc.AllowedLanguages))
		for i, l := range sc.AllowedLanguages {
			out.AllowedLanguages[i] = sandbox.Language(l)
		}
	}
	return out
}

// cappedRetriever 限制每次检索返回的条数
func cappedRetriever(r rag.Retriever, topK int) rag.Retriever {
	if topK <= 0 {
		return r
	}
	return rag.RetrieverFunc(func(ctx context.Context, query string, k int) ([]rag.Result, error) {
		if k <= 0 || k > topK {
			k = topK
		}
		return r.Search(ctx, query, k)
	})
}
