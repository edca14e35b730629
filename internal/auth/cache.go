package auth

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	permissionCacheKeyPrefix  = "rbac:perm:"
	defaultPermissionCacheTTL = 5 * time.Minute
)

var _ PermissionCache = (*RedisPermissionCache)(nil)

// RedisPermissionCache stores one hash per user: field MODULE:ACTION, value "1" or "0".
type RedisPermissionCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisPermissionCache wraps client. A non-positive ttl uses five minutes.
func NewRedisPermissionCache(client *redis.Client, ttl time.Duration) *RedisPermissionCache {
	if ttl <= 0 {
		ttl = defaultPermissionCacheTTL
	}
	return &RedisPermissionCache{client: client, ttl: ttl}
}

func (c *RedisPermissionCache) Lookup(ctx context.Context, userID, key string) (bool, bool, error) {
	v, err := c.client.HGet(ctx, permissionCacheKeyPrefix+userID, key).Result()
	if errors.Is(err, redis.Nil) {
		return false, false, nil
	}
	if err != nil {
		return false, false, err
	}
	return v == "1", true, nil
}

func (c *RedisPermissionCache) Store(ctx context.Context, userID, key string, allowed bool) error {
	value := "0"
	if allowed {
		value = "1"
	}
	redisKey := permissionCacheKeyPrefix + userID
	pipe := c.client.TxPipeline()
	pipe.HSet(ctx, redisKey, key, value)
	pipe.Expire(ctx, redisKey, c.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

func (c *RedisPermissionCache) Invalidate(ctx context.Context, userIDs ...string) error {
	if len(userIDs) == 0 {
		return nil
	}
	keys := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		keys = append(keys, permissionCacheKeyPrefix+id)
	}
	return c.client.Del(ctx, keys...).Err()
}

var _ PermissionCache = (*MemoryPermissionCache)(nil)

// MemoryPermissionCache is a process-local PermissionCache.
type MemoryPermissionCache struct {
	mu      sync.RWMutex
	entries map[string]map[string]bool
}

func NewMemoryPermissionCache() *MemoryPermissionCache {
	return &MemoryPermissionCache{entries: make(map[string]map[string]bool)}
}

func (c *MemoryPermissionCache) Lookup(_ context.Context, userID, key string) (bool, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	allowed, ok := c.entries[userID][key]
	return allowed, ok, nil
}

func (c *MemoryPermissionCache) Store(_ context.Context, userID, key string, allowed bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.entries[userID]
	if !ok {
		m = make(map[string]bool)
		c.entries[userID] = m
	}
	m[key] = allowed
	return nil
}

func (c *MemoryPermissionCache) Invalidate(_ context.Context, userIDs ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range userIDs {
		delete(c.entries, id)
	}
	return nil
}
