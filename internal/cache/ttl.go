// Package cache holds fetched results for a fixed time-to-live.
package cache

import (
	"sync"
	"time"
)

// Entry is a cached value together with the time it was stored
type Entry[V any] struct {
	Value    V
	StoredAt time.Time
}

// TTL is a read-through cache whose entries expire a fixed duration after they are stored.
// Entries are only ever replaced whole. Concurrent misses on the same key may both load;
// loads are idempotent reads so the duplicate work is accepted.
type TTL[V any] struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]Entry[V]
	now     func() time.Time
}

// New creates a cache with the given time-to-live
func New[V any](ttl time.Duration) *TTL[V] {
	return &TTL[V]{
		ttl:     ttl,
		entries: make(map[string]Entry[V]),
		now:     time.Now,
	}
}

// WithClock swaps the time source, for tests
func (c *TTL[V]) WithClock(now func() time.Time) *TTL[V] {
	c.now = now
	return c
}

// Get returns the entry for key if it has not expired
func (c *TTL[V]) Get(key string) (Entry[V], bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok || c.now().Sub(e.StoredAt) >= c.ttl {
		return Entry[V]{}, false
	}
	return e, true
}

// Set stores v under key, replacing any previous entry
func (c *TTL[V]) Set(key string, v V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = Entry[V]{Value: v, StoredAt: c.now()}
}

// GetOrLoad returns the cached value or calls load and caches its result.
// Failed loads are not cached.
func (c *TTL[V]) GetOrLoad(key string, load func() (V, error)) (V, bool, error) {
	if e, ok := c.Get(key); ok {
		return e.Value, true, nil
	}
	v, err := load()
	if err != nil {
		return v, false, err
	}
	c.Set(key, v)
	return v, false, nil
}

// Purge drops expired entries and returns how many were removed
func (c *TTL[V]) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	removed := 0
	for k, e := range c.entries {
		if now.Sub(e.StoredAt) >= c.ttl {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored entries, expired or not
func (c *TTL[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
