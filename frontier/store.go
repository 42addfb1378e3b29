package frontier

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
)

// SeenStore remembers URLs completed by earlier runs.
type SeenStore interface {
	Seen(ctx context.Context, key string) (bool, error)
	Mark(ctx context.Context, key string) error
}

// MemoryStore is a process-local SeenStore bounded by size and retention.
type MemoryStore struct {
	cache *expirable.LRU[string, struct{}]
}

// NewMemoryStore returns a store holding at most size keys for retention.
func NewMemoryStore(size int, retention time.Duration) *MemoryStore {
	if size <= 0 {
		size = 10000
	}
	return &MemoryStore{cache: expirable.NewLRU[string, struct{}](size, nil, retention)}
}

func (m *MemoryStore) Seen(_ context.Context, key string) (bool, error) {
	_, ok := m.cache.Get(key)
	return ok, nil
}

func (m *MemoryStore) Mark(_ context.Context, key string) error {
	m.cache.Add(key, struct{}{})
	return nil
}

// Len returns the number of unexpired keys.
func (m *MemoryStore) Len() int { return m.cache.Len() }

// DefaultRedisPrefix namespaces seen keys in Redis.
const DefaultRedisPrefix = "crawler:seen:"

// RedisStore persists seen keys in Redis so deduplication spans runs and
// processes. Keys expire after the retention window.
type RedisStore struct {
	client    redis.UniversalClient
	prefix    string
	retention time.Duration
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client redis.UniversalClient, prefix string, retention time.Duration) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix, retention: retention}
}

// DialRedis connects to addr, which may be host:port or a redis:// URL, and
// verifies the connection with a ping.
func DialRedis(ctx context.Context, addr string, retention time.Duration) (*RedisStore, error) {
	opts := &redis.Options{Addr: addr}
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		parsed, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		opts = parsed
	}

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", opts.Addr, err)
	}
	return NewRedisStore(client, DefaultRedisPrefix, retention), nil
}

func (r *RedisStore) key(key string) string {
	return r.prefix + HashKey(key)
}

func (r *RedisStore) Seen(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, r.key(key)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists: %w", err)
	}
	return n == 1, nil
}

func (r *RedisStore) Mark(ctx context.Context, key string) error {
	if err := r.client.Set(ctx, r.key(key), "1", r.retention).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Close releases the underlying client.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
