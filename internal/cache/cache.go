// Package cache provides an in-memory TTL cache for configuration blobs that
// are expensive to fetch and change rarely, such as filter rulesets, name
// mappings and transformation rule text.
//
// The cache is an explicit object passed to its users. Time comes from an
// injected clock so tests can expire entries deterministically. Loads are
// never coordinated between callers: a caller that finds a missing or stale
// entry fetches it itself and replaces the entry, so no caller ever waits on
// another caller's refresh.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// DefaultTTL is used when neither the cache nor the call names a TTL.
const DefaultTTL = 5 * time.Minute

// Kind identifies what a cached configuration blob is.
type Kind string

const (
	KindFilter    Kind = "filter"
	KindNames     Kind = "names"
	KindTransform Kind = "transform"
)

// Key identifies a cached blob by its kind, the reference it was loaded from
// and the destination that asked for it.
type Key struct {
	Kind        Kind
	Ref         string
	Destination string
}

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// Cache stores values with a per-entry expiry. It is safe for concurrent use.
type Cache[K comparable, V any] struct {
	mu         sync.RWMutex
	clock      clock.Clock
	defaultTTL time.Duration
	entries    map[K]entry[V]
}

// New creates a cache. A nil clock uses wall time; a non-positive defaultTTL
// uses DefaultTTL.
func New[K comparable, V any](clk clock.Clock, defaultTTL time.Duration) *Cache[K, V] {
	if clk == nil {
		clk = clock.New()
	}
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}
	return &Cache[K, V]{
		clock:      clk,
		defaultTTL: defaultTTL,
		entries:    make(map[K]entry[V]),
	}
}

// Get returns the value for key if it exists and has not expired.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	if !ok || !c.clock.Now().Before(e.expiresAt) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Set stores value under key for ttl. A non-positive ttl uses the cache
// default.
func (c *Cache[K, V]) Set(key K, value V, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry[V]{value: value, expiresAt: c.clock.Now().Add(ttl)}
}

// GetOrLoad returns the cached value for key or calls load and caches its
// result for ttl. Load errors are returned and nothing is cached.
func (c *Cache[K, V]) GetOrLoad(ctx context.Context, key K, ttl time.Duration, load func(context.Context) (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	v, err := load(ctx)
	if err != nil {
		var zero V
		return zero, err
	}
	c.Set(key, v, ttl)
	return v, nil
}

// Delete removes key
func (c *Cache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Purge drops expired entries and returns how many were removed.
func (c *Cache[K, V]) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	removed := 0
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// Clear removes every entry
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[K]entry[V])
}

// Len counts entries, including expired ones not yet purged
func (c *Cache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// TTL returns the remaining lifetime of key, or 0 if it is absent or expired.
func (c *Cache[K, V]) TTL(key K) time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	if !ok {
		return 0
	}
	remaining := e.expiresAt.Sub(c.clock.Now())
	if remaining < 0 {
		return 0
	}
	return remaining
}
