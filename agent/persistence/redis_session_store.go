package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Lynn-1221/Agents/agent/conversation"
	"github.com/redis/go-redis/v9"
)

// RedisSessionStore 基于 Redis 的 SessionStore，适合分布式部署。
// 快照存为字符串键，另有一个按开始时间排序的 ZSET 作为索引。
type RedisSessionStore struct {
	client    redis.UniversalClient
	keyPrefix string
	ttl       time.Duration
	ownClient bool
}

// NewRedisSessionStore dials Redis from config and verifies the connection.
func NewRedisSessionStore(config StoreConfig) (*RedisSessionStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Redis.Addr,
		Password: config.Redis.Password,
		DB:       config.Redis.DB,
		PoolSize: config.Redis.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	store := NewRedisSessionStoreWithClient(client, config)
	store.ownClient = true
	return store, nil
}

// NewRedisSessionStoreWithClient uses an existing client. Close does not
// close a client it did not create.
func NewRedisSessionStoreWithClient(client redis.UniversalClient, config StoreConfig) *RedisSessionStore {
	keyPrefix := config.Redis.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = "agents:"
	}
	return &RedisSessionStore{
		client:    client,
		keyPrefix: keyPrefix + "session:",
		ttl:       config.TTL,
	}
}

func (s *RedisSessionStore) Close() error {
	if s.ownClient {
		return s.client.Close()
	}
	return nil
}

func (s *RedisSessionStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisSessionStore) dataKey(id string) string {
	return s.keyPrefix + "data:" + id
}

func (s *RedisSessionStore) indexKey() string {
	return s.keyPrefix + "index"
}

func (s *RedisSessionStore) Save(ctx context.Context, snap conversation.Snapshot) error {
	if snap.ID == "" {
		return ErrInvalidInput
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.dataKey(snap.ID), data, s.ttl)
	pipe.ZAdd(ctx, s.indexKey(), redis.Z{
		Score:  float64(snap.StartedAt.UnixNano()),
		Member: snap.ID,
	})
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisSessionStore) Load(ctx context.Context, id string) (conversation.Snapshot, error) {
	data, err := s.client.Get(ctx, s.dataKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return conversation.Snapshot{}, ErrNotFound
	}
	if err != nil {
		return conversation.Snapshot{}, err
	}
	return decodeSnapshot(data)
}

func (s *RedisSessionStore) List(ctx context.Context, opts ListOptions) ([]conversation.Snapshot, error) {
	ids, err := s.client.ZRevRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.dataKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	out := make([]conversation.Snapshot, 0, len(values))
	var expired []any
	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			// 数据键已过期，索引项随后清理
			expired = append(expired, ids[i])
			continue
		}
		snap, err := decodeSnapshot([]byte(str))
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	if len(expired) > 0 {
		s.client.ZRem(ctx, s.indexKey(), expired...)
	}
	return filterSnapshots(out, opts), nil
}

func (s *RedisSessionStore) Delete(ctx context.Context, id string) error {
	pipe := s.client.TxPipeline()
	del := pipe.Del(ctx, s.dataKey(id))
	pipe.ZRem(ctx, s.indexKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}
	if del.Val() == 0 {
		return ErrNotFound
	}
	return nil
}
