package persistence

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/Lynn-1221/Agents/agent/conversation"
)

// Common errors
var (
	ErrNotFound     = errors.New("not found")
	ErrStoreClosed  = errors.New("store is closed")
	ErrInvalidInput = errors.New("invalid input")
)

// StoreType represents the type of storage backend
type StoreType string

const (
	StoreTypeMemory   StoreType = "memory"
	StoreTypeFile     StoreType = "file"
	StoreTypeRedis    StoreType = "redis"
	StoreTypeDatabase StoreType = "database"
)

// StoreConfig is the base configuration for all store implementations
type StoreConfig struct {
	// Type is the storage backend type
	Type StoreType `json:"type" yaml:"type"`

	// BaseDir is the base directory for file-based storage
	BaseDir string `json:"base_dir" yaml:"base_dir"`

	// Redis configuration (only used when Type is "redis")
	Redis RedisStoreConfig `json:"redis" yaml:"redis"`

	// TTL 快照过期时间，0 表示永不过期（仅 Redis 生效）
	TTL time.Duration `json:"ttl" yaml:"ttl"`
}

// RedisStoreConfig contains Redis-specific configuration
type RedisStoreConfig struct {
	Addr      string `json:"addr" yaml:"addr"`
	Password  string `json:"password" yaml:"password"`
	DB        int    `json:"db" yaml:"db"`
	PoolSize  int    `json:"pool_size" yaml:"pool_size"`
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix"`
}

// DefaultStoreConfig returns the default store configuration
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Type:    StoreTypeMemory,
		BaseDir: "./data/sessions",
		Redis: RedisStoreConfig{
			Addr:      "localhost:6379",
			PoolSize:  10,
			KeyPrefix: "agents:",
		},
	}
}

// Store is the base interface for all persistent stores
type Store interface {
	// Close closes the store and releases resources
	Close() error

	// Ping checks if the store is healthy
	Ping(ctx context.Context) error
}

// ListOptions 过滤 List 的结果
type ListOptions struct {
	Status conversation.Status
	// Limit 为 0 表示不限制
	Limit int
}

// SessionStore 持久化会话快照
type SessionStore interface {
	Store

	// Save 按 snapshot.ID 写入，已存在则覆盖
	Save(ctx context.Context, snap conversation.Snapshot) error

	// Load 读取快照，不存在返回 ErrNotFound
	Load(ctx context.Context, id string) (conversation.Snapshot, error)

	// List 按开始时间倒序返回快照
	List(ctx context.Context, opts ListOptions) ([]conversation.Snapshot, error)

	// Delete 删除快照，不存在返回 ErrNotFound
	Delete(ctx context.Context, id string) error
}

// filterSnapshots applies opts to snaps in place and sorts newest first.
func filterSnapshots(snaps []conversation.Snapshot, opts ListOptions) []conversation.Snapshot {
	out := snaps[:0]
	for _, s := range snaps {
		if opts.Status != "" && s.Status != opts.Status {
			continue
		}
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out
}
