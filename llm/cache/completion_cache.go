package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/Lynn-1221/Agents/llm"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var ErrCacheMiss = errors.New("cache miss")

// Config 缓存配置
type Config struct {
	LocalMaxSize int           // 本地缓存最大条目数
	LocalTTL     time.Duration // 本地缓存 TTL，0 表示不过期
	RedisTTL     time.Duration // Redis 缓存 TTL
	RedisPrefix  string        // Redis key 前缀
	CacheTools   bool          // 是否缓存携带 Tools 的请求
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		LocalMaxSize: 1000,
		LocalTTL:     30 * time.Minute,
		RedisTTL:     24 * time.Hour,
		RedisPrefix:  "agents:completion:",
	}
}

// MultiLevelCache 两级缓存：本地 LRU + 可选 Redis。
// Redis 为 nil 时退化为纯本地缓存。
type MultiLevelCache struct {
	local  *LRUCache
	redis  *redis.Client
	config Config
	logger *zap.Logger
}

// NewMultiLevelCache 创建多级缓存
func NewMultiLevelCache(rdb *redis.Client, config Config, logger *zap.Logger) *MultiLevelCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.LocalMaxSize <= 0 {
		config.LocalMaxSize = DefaultConfig().LocalMaxSize
	}
	if config.RedisPrefix == "" {
		config.RedisPrefix = DefaultConfig().RedisPrefix
	}
	return &MultiLevelCache{
		local:  NewLRUCache(config.LocalMaxSize, config.LocalTTL),
		redis:  rdb,
		config: config,
		logger: logger.With(zap.String("component", "completion_cache")),
	}
}

// Get 先查本地，再查 Redis；Redis 命中后回填本地
func (c *MultiLevelCache) Get(ctx context.Context, key string) (*llm.ChatResponse, error) {
	if resp, ok := c.local.Get(key); ok {
		c.logger.Debug("local cache hit", zap.String("key", key))
		return resp, nil
	}

	if c.redis == nil {
		return nil, ErrCacheMiss
	}
	data, err := c.redis.Get(ctx, c.redisKey(key)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("redis get error", zap.Error(err))
		}
		return nil, ErrCacheMiss
	}
	var resp llm.ChatResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		c.logger.Warn("corrupt cache entry", zap.String("key", key), zap.Error(err))
		return nil, ErrCacheMiss
	}
	c.local.Set(key, &resp)
	c.logger.Debug("redis cache hit", zap.String("key", key))
	return &resp, nil
}

// Set 同时写入本地与 Redis
func (c *MultiLevelCache) Set(ctx context.Context, key string, resp *llm.ChatResponse) error {
	c.local.Set(key, resp)
	if c.redis == nil {
		return nil
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	if err := c.redis.Set(ctx, c.redisKey(key), data, c.config.RedisTTL).Err(); err != nil {
		c.logger.Warn("redis set error", zap.Error(err))
		return err
	}
	return nil
}

// Delete 删除缓存
func (c *MultiLevelCache) Delete(ctx context.Context, key string) error {
	c.local.Delete(key)
	if c.redis == nil {
		return nil
	}
	return c.redis.Del(ctx, c.redisKey(key)).Err()
}

// IsCacheable 默认只缓存不带工具的请求：工具调用可能依赖外部状态
func (c *MultiLevelCache) IsCacheable(req *llm.ChatRequest) bool {
	if req == nil {
		return false
	}
	return c.config.CacheTools || len(req.Tools) == 0
}

func (c *MultiLevelCache) redisKey(key string) string {
	return c.config.RedisPrefix + key
}
