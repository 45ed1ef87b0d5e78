// Package cache provides a fixed capacity least-recently-used map that
// keeps hit, miss and eviction statistics.
package cache

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/goliatone/go-errors"
	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// EvictionListener is notified when an entry is evicted for capacity.
// Explicit removals and Clear do not notify.
type EvictionListener[K comparable, V any] func(key K, value V)

// Option configures an LRU.
type Option[K comparable, V any] func(*LRU[K, V])

// WithEvictionListener registers a listener for capacity evictions. The
// listener runs after the cache lock is released.
func WithEvictionListener[K comparable, V any](fn EvictionListener[K, V]) Option[K, V] {
	return func(c *LRU[K, V]) {
		c.onEvict = fn
	}
}

// WithName labels the cache in metrics and log output.
func WithName[K comparable, V any](name string) Option[K, V] {
	return func(c *LRU[K, V]) {
		c.name = name
	}
}

// LRU is safe for concurrent use. Every operation that reads and then
// updates the recency list runs under one mutex; the statistics counters
// are plain atomics.
type LRU[K comparable, V any] struct {
	mu       sync.Mutex
	items    *simplelru.LRU[K, V]
	capacity int
	name     string
	onEvict  EvictionListener[K, V]

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

// New creates a cache holding at most capacity entries.
func New[K comparable, V any](capacity int, opts ...Option[K, V]) (*LRU[K, V], error) {
	if capacity <= 0 {
		return nil, errors.New(fmt.Sprintf("cache capacity must be positive, got %d", capacity), errors.CategoryBadInput).
			WithTextCode("CACHE_INVALID_CAPACITY")
	}
	items, err := simplelru.NewLRU[K, V](capacity, nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "create lru list")
	}
	c := &LRU[K, V]{
		items:    items,
		capacity: capacity,
		name:     "default",
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// MustNew is New for capacities known to be valid.
func MustNew[K comparable, V any](capacity int, opts ...Option[K, V]) *LRU[K, V] {
	c, err := New(capacity, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// Get returns the value for key and marks it most recently used.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	v, ok := c.items.Get(key)
	c.mu.Unlock()

	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return v, ok
}

// Peek returns the value for key without touching recency or statistics.
func (c *LRU[K, V]) Peek(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.items.Peek(key)
}

// Put inserts or updates key and marks it most recently used. When the
// insert grows the cache past capacity the least recently used entry is
// evicted; Put reports whether that happened.
func (c *LRU[K, V]) Put(key K, value V) bool {
	c.mu.Lock()
	var (
		victimKey K
		victimVal V
		hasVictim bool
	)
	if !c.items.Contains(key) && c.items.Len() >= c.capacity {
		victimKey, victimVal, hasVictim = c.items.GetOldest()
	}
	evicted := c.items.Add(key, value)
	c.mu.Unlock()

	if !evicted {
		return false
	}
	c.evictions.Add(1)
	if hasVictim && c.onEvict != nil {
		c.onEvict(victimKey, victimVal)
	}
	return true
}

// PutIfAbsent stores value only when key is missing and returns the value
// now held for key.
func (c *LRU[K, V]) PutIfAbsent(key K, value V) (V, bool) {
	c.mu.Lock()
	if existing, ok := c.items.Get(key); ok {
		c.mu.Unlock()
		return existing, false
	}
	var (
		victimKey K
		victimVal V
		hasVictim bool
	)
	if c.items.Len() >= c.capacity {
		victimKey, victimVal, hasVictim = c.items.GetOldest()
	}
	evicted := c.items.Add(key, value)
	c.mu.Unlock()

	if evicted {
		c.evictions.Add(1)
		if hasVictim && c.onEvict != nil {
			c.onEvict(victimKey, victimVal)
		}
	}
	return value, true
}

// Remove deletes key and reports whether it was present.
func (c *LRU[K, V]) Remove(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.items.Remove(key)
}

// Clear drops every entry. Statistics are kept.
func (c *LRU[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items.Purge()
}

// ResetStatistics zeroes the counters. Entries are kept.
func (c *LRU[K, V]) ResetStatistics() {
	c.hits.Store(0)
	c.misses.Store(0)
	c.evictions.Store(0)
}

func (c *LRU[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.items.Len()
}

// Keys returns the keys from least to most recently used.
func (c *LRU[K, V]) Keys() []K {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.items.Keys()
}

func (c *LRU[K, V]) Capacity() int { return c.capacity }

func (c *LRU[K, V]) Name() string { return c.name }

// Stats returns a snapshot of the counters and current size.
func (c *LRU[K, V]) Stats() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Size:      c.Len(),
		Capacity:  c.capacity,
	}
}
