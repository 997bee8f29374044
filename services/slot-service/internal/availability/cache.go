package availability

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache holds recent NextAvailable answers per studio.
type Cache interface {
	Get(ctx context.Context, studioID string) (Result, bool, error)
	Set(ctx context.Context, studioID string, res Result) error
	Invalidate(ctx context.Context, studioID string) error
}

type NopCache struct{}

func (NopCache) Get(context.Context, string) (Result, bool, error) { return Result{}, false, nil }
func (NopCache) Set(context.Context, string, Result) error         { return nil }
func (NopCache) Invalidate(context.Context, string) error          { return nil }

const redisKeyPrefix = "nextavail:"

// RedisCache shares answers between replicas.
type RedisCache struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewRedisCache(rdb redis.Cmdable, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, studioID string) (Result, bool, error) {
	raw, err := c.rdb.Get(ctx, redisKeyPrefix+studioID).Bytes()
	if errors.Is(err, redis.Nil) {
		return Result{}, false, nil
	}
	if err != nil {
		return Result{}, false, err
	}
	var res Result
	if err := json.Unmarshal(raw, &res); err != nil {
		return Result{}, false, err
	}
	return res, true, nil
}

func (c *RedisCache) Set(ctx context.Context, studioID string, res Result) error {
	raw, err := json.Marshal(res)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, redisKeyPrefix+studioID, raw, c.ttl).Err()
}

func (c *RedisCache) Invalidate(ctx context.Context, studioID string) error {
	return c.rdb.Del(ctx, redisKeyPrefix+studioID).Err()
}

// MemoryCache is a per-process TTL cache for single-replica deployments.
type MemoryCache struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	res     Result
	expires time.Time
}

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{ttl: ttl, now: time.Now, entries: make(map[string]memoryEntry)}
}

func (c *MemoryCache) Get(_ context.Context, studioID string) (Result, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[studioID]
	if !ok {
		return Result{}, false, nil
	}
	if !c.now().Before(e.expires) {
		delete(c.entries, studioID)
		return Result{}, false, nil
	}
	return e.res, true, nil
}

func (c *MemoryCache) Set(_ context.Context, studioID string, res Result) error {
	if c.ttl <= 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[studioID] = memoryEntry{res: res, expires: c.now().Add(c.ttl)}
	return nil
}

func (c *MemoryCache) Invalidate(_ context.Context, studioID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, studioID)
	return nil
}
