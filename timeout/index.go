// Package timeout keeps correlated work ordered by expiry so callers can
// reclaim everything that ran out of time in one pass.
package timeout

import (
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/btree"
)

// Entry is one correlated item waiting for a response or a resource.
type Entry[K comparable, V any] struct {
	Key     K
	Value   V
	Timeout time.Duration
	Added   time.Time
	// Expires is computed once, at insertion, as Added + Timeout.
	Expires time.Time

	hash uint64
	seq  uint64
}

// Less orders entries by expiry, then by key hash, then by insertion
// sequence. Two distinct entries never compare equal.
func (e *Entry[K, V]) Less(other *Entry[K, V]) bool {
	if !e.Expires.Equal(other.Expires) {
		return e.Expires.Before(other.Expires)
	}
	if e.hash != other.hash {
		return e.hash < other.hash
	}
	return e.seq < other.seq
}

// Hasher maps a key to the tie-break hash.
type Hasher[K comparable] func(K) uint64

// DefaultHasher hashes the key's string form with xxhash.
func DefaultHasher[K comparable](key K) uint64 {
	switch k := any(key).(type) {
	case string:
		return xxhash.Sum64String(k)
	default:
		return xxhash.Sum64String(fmt.Sprint(k))
	}
}

// Option configures an Index.
type Option[K comparable, V any] func(*Index[K, V])

// WithNow replaces the wall clock used to compute expiries.
func WithNow[K comparable, V any](now func() time.Time) Option[K, V] {
	return func(ix *Index[K, V]) {
		if now != nil {
			ix.now = now
		}
	}
}

// WithHasher replaces the tie-break hash function.
func WithHasher[K comparable, V any](h Hasher[K]) Option[K, V] {
	return func(ix *Index[K, V]) {
		if h != nil {
			ix.hash = h
		}
	}
}

const btreeDegree = 32

// Index is a set of entries ordered by expiry. Insert and remove are
// logarithmic; the earliest entry is cached so peeking is constant time.
// It is safe for concurrent use.
type Index[K comparable, V any] struct {
	mu       sync.Mutex
	tree     *btree.BTreeG[*Entry[K, V]]
	byKey    map[K]*Entry[K, V]
	earliest *Entry[K, V]
	seq      uint64
	now      func() time.Time
	hash     Hasher[K]
}

// New creates an empty index.
func New[K comparable, V any](opts ...Option[K, V]) *Index[K, V] {
	ix := &Index[K, V]{
		tree: btree.NewG[*Entry[K, V]](btreeDegree, func(a, b *Entry[K, V]) bool {
			return a.Less(b)
		}),
		byKey: make(map[K]*Entry[K, V]),
		now:   time.Now,
		hash:  DefaultHasher[K],
	}
	for _, opt := range opts {
		if opt != nil {
			opt(ix)
		}
	}
	return ix
}

// Add inserts key with an expiry of now + timeout. An existing entry for
// the same key is replaced.
func (ix *Index[K, V]) Add(key K, value V, timeout time.Duration) Entry[K, V] {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if prev, ok := ix.byKey[key]; ok {
		ix.removeLocked(prev)
	}

	now := ix.now()
	ix.seq++
	e := &Entry[K, V]{
		Key:     key,
		Value:   value,
		Timeout: timeout,
		Added:   now,
		Expires: now.Add(timeout),
		hash:    ix.hash(key),
		seq:     ix.seq,
	}
	ix.tree.ReplaceOrInsert(e)
	ix.byKey[key] = e
	if ix.earliest == nil || e.Less(ix.earliest) {
		ix.earliest = e
	}
	return *e
}

// Remove deletes key and returns its entry.
func (ix *Index[K, V]) Remove(key K) (Entry[K, V], bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	e, ok := ix.byKey[key]
	if !ok {
		return Entry[K, V]{}, false
	}
	ix.removeLocked(e)
	return *e, true
}

// PeekEarliest returns the entry with the smallest expiry.
func (ix *Index[K, V]) PeekEarliest() (Entry[K, V], bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.earliest == nil {
		return Entry[K, V]{}, false
	}
	return *ix.earliest, true
}

// RemoveExpiredBefore removes every entry whose expiry is at or before now
// and returns them in expiry order. Only the expired prefix is visited.
func (ix *Index[K, V]) RemoveExpiredBefore(now time.Time) []Entry[K, V] {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	var expired []Entry[K, V]
	for {
		first, ok := ix.tree.Min()
		if !ok || first.Expires.After(now) {
			break
		}
		ix.tree.DeleteMin()
		delete(ix.byKey, first.Key)
		expired = append(expired, *first)
	}
	ix.refreshEarliestLocked()
	return expired
}

// Expired reports whether anything is due at now without removing it.
func (ix *Index[K, V]) Expired(now time.Time) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.earliest != nil && !ix.earliest.Expires.After(now)
}

func (ix *Index[K, V]) Contains(key K) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	_, ok := ix.byKey[key]
	return ok
}

func (ix *Index[K, V]) Len() int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.tree.Len()
}

// Entries returns every entry in expiry order.
func (ix *Index[K, V]) Entries() []Entry[K, V] {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	out := make([]Entry[K, V], 0, ix.tree.Len())
	ix.tree.Ascend(func(e *Entry[K, V]) bool {
		out = append(out, *e)
		return true
	})
	return out
}

// Clear removes every entry.
func (ix *Index[K, V]) Clear() {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.tree.Clear(false)
	ix.byKey = make(map[K]*Entry[K, V])
	ix.earliest = nil
}

func (ix *Index[K, V]) removeLocked(e *Entry[K, V]) {
	ix.tree.Delete(e)
	delete(ix.byKey, e.Key)
	if ix.earliest == e {
		ix.refreshEarliestLocked()
	}
}

func (ix *Index[K, V]) refreshEarliestLocked() {
	if first, ok := ix.tree.Min(); ok {
		ix.earliest = first
		return
	}
	ix.earliest = nil
}
