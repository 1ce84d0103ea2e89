// Package cache is a small keyed cache whose entries expire after a fixed time.
package cache

import (
	"sync"
	"time"
)

type Cache[V any] struct {
	mu      sync.Mutex
	entries map[string]entry[V]
	now     func() time.Time
}

type entry[V any] struct {
	value V
	exp   time.Time
}

func New[V any]() *Cache[V] {
	return &Cache[V]{
		entries: make(map[string]entry[V]),
		now:     time.Now,
	}
}

func (c *Cache[V]) set(key string, value V, ttl time.Duration) {
	c.clean()
	c.entries[key] = entry[V]{
		value: value,
		exp:   c.now().Add(ttl),
	}
}

// Get returns the value for key and whether it was present and unexpired.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.get(key)
}

func (c *Cache[V]) get(key string) (V, bool) {
	var val V

	e, ok := c.entries[key]
	if !ok {
		return val, false
	}

	// Present and unexpired
	if c.now().Before(e.exp) {
		return e.value, true
	}

	// Expired
	delete(c.entries, key)
	return val, false
}

// GetOrCompute returns the cached value for key, calling compute to fill it on a miss. Concurrent
// misses on the same cache wait for one another rather than computing in parallel. Errors from
// compute are returned and not cached.
func (c *Cache[V]) GetOrCompute(key string, ttl time.Duration, compute func() (V, error)) (V, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v, ok := c.get(key); ok {
		return v, nil
	}

	v, err := compute()
	if err != nil {
		var zero V
		return zero, err
	}

	c.set(key, v, ttl)
	return v, nil
}

// clean drops expired entries. The caller must hold c.mu.
func (c *Cache[V]) clean() {
	now := c.now()
	for k, e := range c.entries {
		if !now.Before(e.exp) {
			delete(c.entries, k)
		}
	}
}
