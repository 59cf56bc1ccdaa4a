package config

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 agents 的完整配置结构
type Config struct {
	// Server HTTP 服务配置
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// LLM Completion Provider 配置
	LLM LLMConfig `yaml:"llm" env:"LLM"`

	// Cache Completion 缓存配置
	Cache CacheConfig `yaml:"cache" env:"CACHE"`

	// Redis 配置（缓存 L2 与会话存储共用）
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Database 数据库配置
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`

	// Store 会话存储配置
	Store StoreConfig `yaml:"store" env:"STORE"`

	// Conversation 会话默认值
	Conversation ConversationConfig `yaml:"conversation" env:"CONVERSATION"`

	// Sandbox 代码执行沙箱配置
	Sandbox SandboxConfig `yaml:"sandbox" env:"SANDBOX"`

	// Retrieval 检索配置
	Retrieval RetrievalConfig `yaml:"retrieval" env:"RETRIEVAL"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// HTTP 端口
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// 写入超时（流式接口不受限制）
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// JWT HMAC 密钥，为空时不启用鉴权
	JWTSecret string `yaml:"jwt_secret" env:"JWT_SECRET"`
	// JWT issuer，为空时不校验
	JWTIssuer string `yaml:"jwt_issuer" env:"JWT_ISSUER"`
	// 每个 IP 的请求速率
	RateLimitRPS float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	// 每个 IP 的突发请求数
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	// 允许的最大请求体
	MaxBodyBytes int64 `yaml:"max_body_bytes" env:"MAX_BODY_BYTES"`
}

// LLMConfig LLM 配置
type LLMConfig struct {
	// Provider 类型，目前支持 openai（含兼容接口）
	Provider string `yaml:"provider" env:"PROVIDER"`
	// API Key
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// 基础 URL（可选）
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// 默认模型
	Model string `yaml:"model" env:"MODEL"`
	// Embedding 模型
	EmbeddingModel string `yaml:"embedding_model" env:"EMBEDDING_MODEL"`
	// 单次请求超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// 可重试错误的最大重试次数
	MaxRetries int `yaml:"max_retries" env:"MAX_RETRIES"`
	// 每秒请求数，0 表示不限
	RateLimitRPS float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	// 突发请求数
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
}

// CacheConfig Completion 缓存配置
type CacheConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 本地 LRU 最大条目数
	LocalMaxSize int `yaml:"local_max_size" env:"LOCAL_MAX_SIZE"`
	// 本地条目 TTL
	LocalTTL time.Duration `yaml:"local_ttl" env:"LOCAL_TTL"`
	// 是否启用 Redis 二级缓存
	RedisEnabled bool `yaml:"redis_enabled" env:"REDIS_ENABLED"`
	// Redis 条目 TTL
	RedisTTL time.Duration `yaml:"redis_ttl" env:"REDIS_TTL"`
	// 是否缓存带工具的请求
	CacheTools bool `yaml:"cache_tools" env:"CACHE_TOOLS"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
	// Key 前缀
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 驱动类型: postgres, mysql, sqlite
	Driver string `yaml:"driver" env:"DRIVER"`
	// 主机
	Host string `yaml:"host" env:"HOST"`
	// 端口
	Port int `yaml:"port" env:"PORT"`
	// 用户名
	User string `yaml:"user" env:"USER"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库名（sqlite 时为文件路径）
	Name string `yaml:"name" env:"NAME"`
	// SSL 模式
	SSLMode string `yaml:"ssl_mode" env:"SSL_MODE"`
	// 最大连接数
	MaxOpenConns int `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	// 最大空闲连接
	MaxIdleConns int `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	// 连接最大生命周期
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// StoreConfig 会话存储配置
type StoreConfig struct {
	// 类型: memory, file, redis, database
	Type string `yaml:"type" env:"TYPE"`
	// file 类型的根目录
	BaseDir string `yaml:"base_dir" env:"BASE_DIR"`
	// Redis 中快照的过期时间，0 表示不过期
	TTL time.Duration `yaml:"ttl" env:"TTL"`
}

// ConversationConfig 会话默认值，定义文件中未指定时使用
type ConversationConfig struct {
	// 默认最大轮数
	MaxRounds int `yaml:"max_rounds" env:"MAX_ROUNDS"`
	// 单轮超时
	TurnTimeout time.Duration `yaml:"turn_timeout" env:"TURN_TIMEOUT"`
	// 格式错误重试次数
	MalformedRetries int `yaml:"malformed_retries" env:"MALFORMED_RETRIES"`
	// 只保留最近 N 条消息，0 表示不限
	WindowLastN int `yaml:"window_last_n" env:"WINDOW_LAST_N"`
	// 历史 Token 预算，0 表示不限
	WindowTokenBudget int `yaml:"window_token_budget" env:"WINDOW_TOKEN_BUDGET"`
}

// SandboxConfig 代码执行沙箱配置
type SandboxConfig struct {
	// 会话工作目录的根
	WorkRoot string `yaml:"work_root" env:"WORK_ROOT"`
	// 单次执行超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// 输出上限（字节）
	MaxOutputBytes int `yaml:"max_output_bytes" env:"MAX_OUTPUT_BYTES"`
	// 允许的语言
	AllowedLanguages []string `yaml:"allowed_languages" env:"ALLOWED_LANGUAGES"`
}

// RetrievalConfig 检索配置
type RetrievalConfig struct {
	// 索引文件路径，为空时不启用检索工具
	IndexPath string `yaml:"index_path" env:"INDEX_PATH"`
	// 单次检索最多返回的条数
	TopK int `yaml:"top_k" env:"TOP_K"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// =============================================================================
// ✅ 校验
// =============================================================================

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if c.Server.RateLimitRPS < 0 {
		errs = append(errs, "server rate_limit_rps must not be negative")
	}
	if c.LLM.MaxRetries < 0 {
		errs = append(errs, "llm max_retries must not be negative")
	}
	if c.Conversation.MaxRounds <= 0 {
		errs = append(errs, "conversation max_rounds must be positive")
	}
	if c.Conversation.MalformedRetries < 0 {
		errs = append(errs, "conversation malformed_retries must not be negative")
	}
	if c.Conversation.WindowLastN < 0 || c.Conversation.WindowTokenBudget < 0 {
		errs = append(errs, "conversation window must not be negative")
	}
	if c.Cache.Enabled && c.Cache.LocalMaxSize <= 0 {
		errs = append(errs, "cache local_max_size must be positive")
	}
	switch c.Database.Driver {
	case "", "postgres", "mysql", "sqlite":
	default:
		errs = append(errs, fmt.Sprintf("unsupported database driver %q", c.Database.Driver))
	}
	switch c.Store.Type {
	case "memory", "file", "redis", "database":
	default:
		errs = append(errs, fmt.Sprintf("unsupported store type %q", c.Store.Type))
	}
	if c.Store.Type == "database" && c.Database.Driver == "" {
		errs = append(errs, "store type database needs a database driver")
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		errs = append(errs, "telemetry sample_rate must be between 0 and 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// DSN 返回数据库连接字符串
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true&multiStatements=true",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}
