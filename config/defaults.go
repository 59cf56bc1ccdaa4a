package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:       DefaultServerConfig(),
		LLM:          DefaultLLMConfig(),
		Cache:        DefaultCacheConfig(),
		Redis:        DefaultRedisConfig(),
		Database:     DefaultDatabaseConfig(),
		Store:        DefaultStoreConfig(),
		Conversation: DefaultConversationConfig(),
		Sandbox:      DefaultSandboxConfig(),
		Retrieval:    DefaultRetrievalConfig(),
		Log:          DefaultLogConfig(),
		Telemetry:    DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    10 * time.Minute,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    10,
		RateLimitBurst:  20,
		MaxBodyBytes:    1 << 20,
	}
}

// DefaultLLMConfig 返回默认 LLM 配置
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Provider:       "openai",
		Model:          "gpt-4o",
		EmbeddingModel: "text-embedding-3-small",
		Timeout:        2 * time.Minute,
		MaxRetries:     3,
	}
}

// DefaultCacheConfig 返回默认缓存配置
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Enabled:      true,
		LocalMaxSize: 1000,
		LocalTTL:     30 * time.Minute,
		RedisTTL:     24 * time.Hour,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:      "localhost:6379",
		PoolSize:  10,
		KeyPrefix: "agents:",
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "sqlite",
		Host:            "localhost",
		Name:            "./data/agents.db",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// DefaultStoreConfig 返回默认会话存储配置
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Type:    "memory",
		BaseDir: "./data",
	}
}

// DefaultConversationConfig 返回默认会话配置
func DefaultConversationConfig() ConversationConfig {
	return ConversationConfig{
		MaxRounds:        20,
		TurnTimeout:      2 * time.Minute,
		MalformedRetries: 1,
	}
}

// DefaultSandboxConfig 返回默认沙箱配置
func DefaultSandboxConfig() SandboxConfig {
	return SandboxConfig{
		WorkRoot:         "coding",
		Timeout:          60 * time.Second,
		MaxOutputBytes:   64 * 1024,
		AllowedLanguages: []string{"python", "bash", "sh"},
	}
}

// DefaultRetrievalConfig 返回默认检索配置
func DefaultRetrievalConfig() RetrievalConfig {
	return RetrievalConfig{TopK: 3}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stderr"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "agents",
		SampleRate:   0.1,
	}
}
