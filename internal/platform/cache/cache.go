// Package cache provides the in-process TTL cache backing the experiment
// registry. Entries are local to one instance and eventually consistent
// across instances; correctness never depends on freshness here, only on the
// persisted rows, so a fixed TTL plus explicit invalidation is enough.
package cache

import (
	"sync"
	"time"
)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

type Cache[V any] struct {
	mu      sync.RWMutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]entry[V]
	gen     uint64
}

// New builds a cache whose entries live for ttl. The TTL is injected, never a
// package constant: experiments and flags run different windows.
func New[V any](ttl time.Duration) *Cache[V] {
	return NewWithClock[V](ttl, time.Now)
}

// NewWithClock injects the clock; tests advance time without sleeping.
func NewWithClock[V any](ttl time.Duration, now func() time.Time) *Cache[V] {
	return &Cache[V]{
		ttl:     ttl,
		now:     now,
		entries: make(map[string]entry[V]),
	}
}

func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	var zero V
	if !ok {
		return zero, false
	}
	if c.now().After(e.expiresAt) {
		c.mu.Lock()
		// Re-check before dropping: the entry may have been refreshed since
		// the read lock was released.
		if cur, still := c.entries[key]; still && cur.expiresAt.Equal(e.expiresAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return zero, false
	}
	return e.value, true
}

func (c *Cache[V]) Set(key string, value V) {
	c.mu.Lock()
	c.entries[key] = entry[V]{value: value, expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()
}

// Delete is the per-entry invalidation hook: write paths call it so the
// writer never reads its own stale state back.
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.gen++
	c.mu.Unlock()
}

// ReplaceAll swaps the full entry set atomically. Readers see either the old
// cache or the new one, never a half-updated mix.
func (c *Cache[V]) ReplaceAll(values map[string]V) {
	fresh := make(map[string]entry[V], len(values))
	expires := c.now().Add(c.ttl)
	for k, v := range values {
		fresh[k] = entry[V]{value: v, expiresAt: expires}
	}
	c.mu.Lock()
	c.entries = fresh
	c.gen++
	c.mu.Unlock()
}

// Flush drops everything.
func (c *Cache[V]) Flush() {
	c.mu.Lock()
	c.entries = make(map[string]entry[V])
	c.gen++
	c.mu.Unlock()
}

func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Generation increments on every invalidation (Delete, ReplaceAll, Flush).
// Dependent caches holding derived state compare generations to decide
// whether their entries are still trustworthy.
func (c *Cache[V]) Generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gen
}
