// README: Catalog caches: per-process memory and a shared Redis tier.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"trail/internal/types"
)

const catalogKeyPrefix = "catalog:task:%s"

type Cache interface {
	Get(ctx context.Context, taskID types.ID) ([]TaskLocation, bool, error)
	Set(ctx context.Context, taskID types.ID, locs []TaskLocation) error
	Delete(ctx context.Context, taskID types.ID) error
}

type MemoryCache struct {
	mu      sync.RWMutex
	entries map[types.ID][]TaskLocation
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[types.ID][]TaskLocation)}
}

func (c *MemoryCache) Get(_ context.Context, taskID types.ID) ([]TaskLocation, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	locs, ok := c.entries[taskID]
	return locs, ok, nil
}

func (c *MemoryCache) Set(_ context.Context, taskID types.ID, locs []TaskLocation) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[taskID] = locs
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, taskID types.ID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, taskID)
	return nil
}

// RedisCache shares normalized catalogs between API replicas.
type RedisCache struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewRedisCache(redis *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{redis: redis, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, taskID types.ID) ([]TaskLocation, bool, error) {
	val, err := c.redis.Get(ctx, catalogKey(taskID)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var locs []TaskLocation
	if err := json.Unmarshal(val, &locs); err != nil {
		return nil, false, fmt.Errorf("decoding cached catalog %s: %w", taskID, err)
	}
	return locs, true, nil
}

func (c *RedisCache) Set(ctx context.Context, taskID types.ID, locs []TaskLocation) error {
	data, err := json.Marshal(locs)
	if err != nil {
		return err
	}
	return c.redis.Set(ctx, catalogKey(taskID), data, c.ttl).Err()
}

func (c *RedisCache) Delete(ctx context.Context, taskID types.ID) error {
	return c.redis.Del(ctx, catalogKey(taskID)).Err()
}

func catalogKey(taskID types.ID) string {
	return fmt.Sprintf(catalogKeyPrefix, string(taskID))
}
