package timeout

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return epoch }

func keys[K comparable, V any](entries []Entry[K, V]) []K {
	out := make([]K, len(entries))
	for i, e := range entries {
		out[i] = e.Key
	}
	return out
}

func TestIndex_RemoveExpiredBeforeReturnsInExpiryOrder(t *testing.T) {
	ix := New[string, int](WithNow[string, int](fixedNow))
	ix.Add("late", 100, 100*time.Millisecond)
	ix.Add("early", 50, 50*time.Millisecond)
	ix.Add("latest", 150, 150*time.Millisecond)

	expired := ix.RemoveExpiredBefore(epoch.Add(120 * time.Millisecond))
	require.Len(t, expired, 2)
	assert.Equal(t, []string{"early", "late"}, keys(expired))
	assert.Equal(t, epoch.Add(50*time.Millisecond), expired[0].Expires)
	assert.Equal(t, 1, ix.Len())

	peek, ok := ix.PeekEarliest()
	require.True(t, ok)
	assert.Equal(t, "latest", peek.Key)
	assert.Equal(t, 150, peek.Value)
}

func TestIndex_ExpiryBoundaryIsInclusive(t *testing.T) {
	ix := New[string, int](WithNow[string, int](fixedNow))
	ix.Add("a", 1, time.Second)

	assert.Empty(t, ix.RemoveExpiredBefore(epoch.Add(time.Second-1)))
	assert.True(t, ix.Expired(epoch.Add(time.Second)))
	assert.Len(t, ix.RemoveExpiredBefore(epoch.Add(time.Second)), 1)
	assert.False(t, ix.Expired(epoch.Add(time.Hour)))
}

func TestIndex_PeekTracksMinimumAcrossRemovals(t *testing.T) {
	ix := New[string, int](WithNow[string, int](fixedNow))
	_, ok := ix.PeekEarliest()
	assert.False(t, ok)

	ix.Add("b", 2, 2*time.Second)
	ix.Add("a", 1, time.Second)
	ix.Add("c", 3, 3*time.Second)

	peek, _ := ix.PeekEarliest()
	assert.Equal(t, "a", peek.Key)

	removed, ok := ix.Remove("a")
	require.True(t, ok)
	assert.Equal(t, 1, removed.Value)

	peek, _ = ix.PeekEarliest()
	assert.Equal(t, "b", peek.Key)

	_, ok = ix.Remove("missing")
	assert.False(t, ok)
}

func TestIndex_SameExpiryEntriesAreDistinct(t *testing.T) {
	ix := New[string, int](
		WithNow[string, int](fixedNow),
		WithHasher[string, int](func(string) uint64 { return 7 }),
	)
	for i := 0; i < 10; i++ {
		ix.Add(fmt.Sprintf("k%d", i), i, time.Second)
	}
	assert.Equal(t, 10, ix.Len())

	// identical expiry and hash fall back to insertion order
	assert.Equal(t,
		[]string{"k0", "k1", "k2", "k3", "k4", "k5", "k6", "k7", "k8", "k9"},
		keys(ix.Entries()))
}

func TestIndex_AddReplacesExistingKey(t *testing.T) {
	ix := New[string, int](WithNow[string, int](fixedNow))
	ix.Add("a", 1, time.Second)
	ix.Add("b", 2, 2*time.Second)
	ix.Add("a", 10, 3*time.Second)

	assert.Equal(t, 2, ix.Len())
	assert.Equal(t, []string{"b", "a"}, keys(ix.Entries()))
	peek, _ := ix.PeekEarliest()
	assert.Equal(t, "b", peek.Key)
}

func TestIndex_ExpiryComputedAtInsertion(t *testing.T) {
	now := epoch
	ix := New[int, string](WithNow[int, string](func() time.Time { return now }))
	e := ix.Add(1, "x", time.Minute)
	assert.Equal(t, epoch, e.Added)
	assert.Equal(t, epoch.Add(time.Minute), e.Expires)

	now = now.Add(time.Hour)
	peek, _ := ix.PeekEarliest()
	assert.Equal(t, epoch.Add(time.Minute), peek.Expires)
	assert.True(t, ix.Contains(1))
}

func TestIndex_Clear(t *testing.T) {
	ix := New[string, int]()
	ix.Add("a", 1, time.Second)
	ix.Clear()
	assert.Equal(t, 0, ix.Len())
	_, ok := ix.PeekEarliest()
	assert.False(t, ok)
}

func TestIndex_ConcurrentAddRemove(t *testing.T) {
	ix := New[int, int]()
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := base*1000 + i
				ix.Add(key, i, time.Duration(i)*time.Millisecond)
				if i%2 == 0 {
					ix.Remove(key)
				}
			}
		}(w)
	}
	wg.Wait()
	assert.Equal(t, 8*100, ix.Len())

	entries := ix.Entries()
	for i := 1; i < len(entries); i++ {
		assert.False(t, entries[i].Expires.Before(entries[i-1].Expires))
	}
}

func TestDefaultHasher(t *testing.T) {
	assert.Equal(t, DefaultHasher("abc"), DefaultHasher("abc"))
	assert.NotEqual(t, DefaultHasher("abc"), DefaultHasher("abd"))
	assert.Equal(t, DefaultHasher(42), DefaultHasher(42))
}
