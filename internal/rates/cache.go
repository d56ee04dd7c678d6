package rates

import (
	"context"
	"sync"
	"time"

	"github.com/ayo6706/saldo-exchange/internal/observability"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// LoadFunc fetches a fresh value for key.
type LoadFunc[V any] func(ctx context.Context, key string) (V, error)

type cacheEntry[V any] struct {
	value     V
	fetchedAt time.Time
}

// Cache memoises LoadFunc results for ttl. Concurrent misses for one key share
// a single load, and a failed refresh serves the last good value if there is one.
type Cache[V any] struct {
	name  string
	ttl   time.Duration
	load  LoadFunc[V]
	group singleflight.Group
	now   func() time.Time

	mu      sync.RWMutex
	entries map[string]cacheEntry[V]
}

func NewCache[V any](name string, ttl time.Duration, load LoadFunc[V]) *Cache[V] {
	return &Cache[V]{
		name:    name,
		ttl:     ttl,
		load:    load,
		now:     time.Now,
		entries: make(map[string]cacheEntry[V]),
	}
}

// Get returns a fresh cached value or loads one.
func (c *Cache[V]) Get(ctx context.Context, key string) (V, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if ok && c.now().Sub(e.fetchedAt) < c.ttl {
		observability.IncrementRateCache(c.name, "hit")
		return e.value, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		// Shared by every waiter, so one caller's cancellation must not fail the rest.
		val, err := c.load(context.WithoutCancel(ctx), key)
		if err != nil {
			return val, err
		}
		c.mu.Lock()
		c.entries[key] = cacheEntry[V]{value: val, fetchedAt: c.now()}
		c.mu.Unlock()
		return val, nil
	})
	if err != nil {
		if ok {
			observability.IncrementRateCache(c.name, "stale")
			zap.L().Warn("serving stale cache value", zap.String("cache", c.name), zap.String("key", key), zap.Error(err))
			return e.value, nil
		}
		observability.IncrementRateCache(c.name, "error")
		var zero V
		return zero, err
	}
	observability.IncrementRateCache(c.name, "miss")
	return v.(V), nil
}

// Invalidate drops key so the next Get reloads it.
func (c *Cache[V]) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}
