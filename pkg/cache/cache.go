package cache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Options configures a Cache.
type Options struct {
	TTL        time.Duration
	MaxEntries int
}

// MetricsHooks are optional callbacks for cache instrumentation.
type MetricsHooks struct {
	OnHit   func()
	OnMiss  func()
	OnStore func()
}

type entry struct {
	value     interface{}
	expiresAt time.Time
}

// Cache is a small in-process TTL cache. Concurrent loads for the same key
// are collapsed through singleflight so a cold key hits the loader once.
type Cache struct {
	mu      sync.RWMutex
	items   map[string]*entry
	opts    Options
	metrics MetricsHooks
	sf      singleflight.Group
}

// Loader fetches the value for a key on cache miss. Returning ok=false
// means the value exists transiently and must not be cached.
type Loader func(ctx context.Context) (interface{}, bool, error)

// New creates a cache with the given options and hooks.
func New(opts Options, hooks MetricsHooks) *Cache {
	return &Cache{
		items:   make(map[string]*entry),
		opts:    opts,
		metrics: hooks,
	}
}

// Get returns the cached value for key, loading it on miss.
func (c *Cache) Get(ctx context.Context, key string, loader Loader) (interface{}, error) {
	now := time.Now()
	c.mu.RLock()
	// Entries are immutable after store, so hits never write under RLock.
	if e, ok := c.items[key]; ok && now.Before(e.expiresAt) {
		c.mu.RUnlock()
		if c.metrics.OnHit != nil {
			c.metrics.OnHit()
		}
		return e.value, nil
	}
	c.mu.RUnlock()

	if c.metrics.OnMiss != nil {
		c.metrics.OnMiss()
	}

	value, err, _ := c.sf.Do(key, func() (interface{}, error) {
		// Another caller may have filled the entry while we waited.
		c.mu.RLock()
		if e, ok := c.items[key]; ok && time.Now().Before(e.expiresAt) {
			c.mu.RUnlock()
			return e.value, nil
		}
		c.mu.RUnlock()

		value, ok, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		if ok {
			c.store(key, value)
		}
		return value, nil
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Invalidate drops a single key.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
}

// Reset drops every cached entry.
func (c *Cache) Reset() {
	c.mu.Lock()
	c.items = make(map[string]*entry)
	c.mu.Unlock()
}

func (c *Cache) store(key string, value interface{}) {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.opts.MaxEntries > 0 && len(c.items) >= c.opts.MaxEntries {
		c.evictOldestLocked()
	}
	c.items[key] = &entry{
		value:     value,
		expiresAt: now.Add(c.opts.TTL),
	}
	if c.metrics.OnStore != nil {
		c.metrics.OnStore()
	}
}

// evictOldestLocked drops the entry closest to expiry, which with a fixed
// TTL is also the one stored longest ago.
func (c *Cache) evictOldestLocked() {
	var oldestKey string
	var oldest time.Time
	for key, e := range c.items {
		if oldestKey == "" || e.expiresAt.Before(oldest) {
			oldestKey = key
			oldest = e.expiresAt
		}
	}
	if oldestKey != "" {
		delete(c.items, oldestKey)
	}
}
