// Package cache provides the per-VIN result cache.
package cache

import (
	"sync"
	"time"

	"github.com/golang/groupcache/lru"
)

const (
	// DefaultTTL is how long a cached entry stays readable.
	DefaultTTL = 24 * time.Hour
	// DefaultCapacity bounds the number of entries held in memory.
	DefaultCapacity = 10000
)

// Options configures a Cache.
type Options struct {
	// TTL is the read window for an entry. Default: 24h.
	TTL time.Duration
	// Capacity is the maximum number of entries; the least recently used
	// entry is evicted once it is exceeded. Default: 10000.
	Capacity int
	// Now allows test injection of time. Default: time.Now.
	Now func() time.Time
}

type entry[V any] struct {
	value    V
	storedAt time.Time
}

// Cache is a TTL-on-read memo keyed by string. Expired entries are never
// purged proactively; they are superseded by the next Set or evicted when
// capacity is reached. Safe for concurrent use.
type Cache[V any] struct {
	mu      sync.Mutex
	entries *lru.Cache
	ttl     time.Duration
	now     func() time.Time
}

// New creates a Cache with the given options.
func New[V any](opts Options) *Cache[V] {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Cache[V]{
		entries: lru.New(opts.Capacity),
		ttl:     opts.TTL,
		now:     opts.Now,
	}
}

// Get returns the value for key if present and younger than the TTL.
func (c *Cache[V]) Get(key string) (V, bool) {
	var zero V

	c.mu.Lock()
	defer c.mu.Unlock()

	raw, ok := c.entries.Get(key)
	if !ok {
		return zero, false
	}
	e := raw.(entry[V])
	if c.now().Sub(e.storedAt) >= c.ttl {
		return zero, false
	}
	return e.value, true
}

// Set stores value under key, unconditionally replacing any previous entry.
func (c *Cache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Add(key, entry[V]{value: value, storedAt: c.now()})
}

// SetAt stores value with an explicit timestamp. Used when warming the
// cache from a durable copy so the original TTL window is preserved.
func (c *Cache[V]) SetAt(key string, value V, storedAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Add(key, entry[V]{value: value, storedAt: storedAt})
}

// Len returns the number of entries held, including expired ones.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}

// TTL returns the configured read window.
func (c *Cache[V]) TTL() time.Duration {
	return c.ttl
}
