// Package cache provides generic, thread-safe read-mostly caches with hit/miss accounting.
package cache

import (
	"sync"
	"sync/atomic"

	fc "github.com/gofhir/codegen"
)

// Cache is a generic thread-safe map for values that are written once and
// read many times. Entries live until the cache is cleared.
type Cache[K comparable, V any] struct {
	mu    sync.RWMutex
	items map[K]V

	name    string
	metrics *fc.Metrics

	// Metrics (lock-free using atomics)
	hits   atomic.Uint64
	misses atomic.Uint64
	sets   atomic.Uint64
}

// Option configures a Cache.
type Option func(*config)

type config struct {
	name    string
	metrics *fc.Metrics
}

// WithMetrics reports hits and misses to m under the given cache name.
func WithMetrics(m *fc.Metrics, name string) Option {
	return func(c *config) {
		c.metrics = m
		c.name = name
	}
}

// New creates an empty Cache.
func New[K comparable, V any](opts ...Option) *Cache[K, V] {
	var cfg config
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Cache[K, V]{
		items:   make(map[K]V),
		name:    cfg.name,
		metrics: cfg.metrics,
	}
}

// Get retrieves a value from the cache.
// Returns the value and true if found, zero value and false otherwise.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	v, ok := c.items[key]
	c.mu.RUnlock()

	if !ok {
		c.misses.Add(1)
		c.metrics.RecordCacheMiss(c.name)
		return v, false
	}
	c.hits.Add(1)
	c.metrics.RecordCacheHit(c.name)
	return v, true
}

// Set adds or updates a value in the cache.
func (c *Cache[K, V]) Set(key K, value V) {
	c.sets.Add(1)

	c.mu.Lock()
	c.items[key] = value
	c.mu.Unlock()
}

// Len returns the current number of items in the cache.
func (c *Cache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Clear removes all items from the cache. Statistics are kept.
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[K]V)
}

// Stats holds cache statistics.
type Stats struct {
	Size    int
	Hits    uint64
	Misses  uint64
	Sets    uint64
	HitRate float64
}

// Stats returns cache statistics.
func (c *Cache[K, V]) Stats() Stats {
	size := c.Len()

	hits := c.hits.Load()
	misses := c.misses.Load()

	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return Stats{
		Size:    size,
		Hits:    hits,
		Misses:  misses,
		Sets:    c.sets.Load(),
		HitRate: hitRate,
	}
}

// GetOrSet returns the existing value for key if present.
// Otherwise it calls fn, stores the result and returns it.
// fn runs under the write lock, so it must not call back into the cache.
func (c *Cache[K, V]) GetOrSet(key K, fn func() V) V {
	if v, ok := c.Get(key); ok {
		return v
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Double-check after acquiring write lock
	if v, ok := c.items[key]; ok {
		return v
	}
	v := fn()
	c.items[key] = v
	c.sets.Add(1)
	return v
}
