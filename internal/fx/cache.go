package fx

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Cache stores exchange rates keyed by (from, to, day). Implementations
// must tolerate concurrent reads; writes are idempotent upserts on the
// natural key, so concurrent refreshes converge.
type Cache interface {
	Get(ctx context.Context, from, to string, day time.Time) (float64, bool, error)
	Put(ctx context.Context, from, to string, day time.Time, value float64) error
}

func cacheKey(from, to string, day time.Time) string {
	return fmt.Sprintf("%s:%s:%s", from, to, day.UTC().Format("2006-01-02"))
}

// MemoryCache is a process-local rate cache.
type MemoryCache struct {
	mu    sync.RWMutex
	rates map[string]float64
}

// NewMemoryCache creates an empty in-process cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{rates: make(map[string]float64)}
}

func (c *MemoryCache) Get(_ context.Context, from, to string, day time.Time) (float64, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.rates[cacheKey(from, to, day)]
	return v, ok, nil
}

func (c *MemoryCache) Put(_ context.Context, from, to string, day time.Time, value float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rates[cacheKey(from, to, day)] = value
	return nil
}

// RedisCache shares rates across processes. Historical daily rates never
// change, but entries still expire so a bad write cannot live forever.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache creates a Redis-backed rate cache. A non-positive ttl
// selects 30 days.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, from, to string, day time.Time) (float64, bool, error) {
	v, err := c.client.Get(ctx, "fxrate:"+cacheKey(from, to, day)).Float64()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, eris.Wrap(err, "fx: redis get")
	}
	return v, true, nil
}

func (c *RedisCache) Put(ctx context.Context, from, to string, day time.Time, value float64) error {
	if err := c.client.Set(ctx, "fxrate:"+cacheKey(from, to, day), value, c.ttl).Err(); err != nil {
		return eris.Wrap(err, "fx: redis set")
	}
	return nil
}

// Layered chains caches from fastest to most durable. Hits in a lower
// layer are written back to the layers above it.
type Layered struct {
	layers []Cache
}

// NewLayered creates a layered cache.
func NewLayered(layers ...Cache) *Layered {
	return &Layered{layers: layers}
}

func (l *Layered) Get(ctx context.Context, from, to string, day time.Time) (float64, bool, error) {
	for i, layer := range l.layers {
		v, ok, err := layer.Get(ctx, from, to, day)
		if err != nil {
			// A failing layer is a miss, not a fault.
			zap.L().Warn("fx: cache layer get failed", zap.Int("layer", i), zap.Error(err))
			continue
		}
		if !ok {
			continue
		}
		for j := 0; j < i; j++ {
			if perr := l.layers[j].Put(ctx, from, to, day, v); perr != nil {
				zap.L().Warn("fx: cache backfill failed", zap.Int("layer", j), zap.Error(perr))
			}
		}
		return v, true, nil
	}
	return 0, false, nil
}

func (l *Layered) Put(ctx context.Context, from, to string, day time.Time, value float64) error {
	var firstErr error
	for i, layer := range l.layers {
		if err := layer.Put(ctx, from, to, day, value); err != nil {
			zap.L().Warn("fx: cache layer put failed", zap.Int("layer", i), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
