package cache

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	goerrors "github.com/goliatone/go-errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RejectsNonPositiveCapacity(t *testing.T) {
	_, err := New[string, int](0)
	require.Error(t, err)

	var ge *goerrors.Error
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, "CACHE_INVALID_CAPACITY", ge.TextCode)
}

func TestLRU_EvictsLeastRecentlyUsed(t *testing.T) {
	var evicted []string
	c := MustNew[string, int](3, WithEvictionListener(func(k string, _ int) {
		evicted = append(evicted, k)
	}))

	c.Put("a", 1)
	c.Put("b", 2)
	c.Put("c", 3)

	// touch a so b becomes the oldest
	_, ok := c.Get("a")
	require.True(t, ok)

	assert.True(t, c.Put("d", 4))
	assert.Equal(t, []string{"b"}, evicted)
	assert.Equal(t, int64(1), c.Stats().Evictions)
	assert.Equal(t, 3, c.Len())

	_, ok = c.Peek("b")
	assert.False(t, ok)
	assert.Equal(t, []string{"c", "a", "d"}, c.Keys())
}

func TestLRU_CapacityPlusOneInsertsEvictOnce(t *testing.T) {
	const k = 16
	c := MustNew[int, int](k)
	for i := 0; i <= k; i++ {
		c.Put(i, i)
	}
	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Evictions)
	assert.Equal(t, k, stats.Size)
	_, ok := c.Peek(0)
	assert.False(t, ok, "first inserted key should be evicted")
}

func TestLRU_UpdateDoesNotEvict(t *testing.T) {
	c := MustNew[string, int](2)
	c.Put("a", 1)
	c.Put("b", 2)
	assert.False(t, c.Put("a", 10))

	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 10, v)
	assert.Equal(t, int64(0), c.Stats().Evictions)
}

func TestLRU_HitsPlusMissesEqualsLookups(t *testing.T) {
	c := MustNew[string, int](4)
	c.Put("x", 1)

	gets := []string{"x", "y", "x", "z", "x", "y", "q"}
	for _, key := range gets {
		c.Get(key)
	}
	stats := c.Stats()
	assert.Equal(t, int64(3), stats.Hits)
	assert.Equal(t, int64(4), stats.Misses)
	assert.Equal(t, int64(len(gets)), stats.Lookups())
	assert.InDelta(t, 3.0/7.0, stats.HitRatio(), 0.0001)
}

func TestLRU_ClearKeepsStatistics(t *testing.T) {
	c := MustNew[string, int](1)
	c.Put("a", 1)
	c.Put("b", 2)
	c.Get("b")
	c.Get("a")

	c.Clear()
	stats := c.Stats()
	assert.Equal(t, 0, stats.Size)
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Evictions)
}

func TestLRU_ResetStatisticsKeepsEntries(t *testing.T) {
	c := MustNew[string, int](1)
	c.Put("a", 1)
	c.Put("b", 2)
	c.Get("b")
	c.Get("a")

	c.ResetStatistics()
	stats := c.Stats()
	assert.Equal(t, Stats{Size: 1, Capacity: 1}, stats)

	v, ok := c.Peek("b")
	require.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestLRU_Remove(t *testing.T) {
	c := MustNew[string, int](2)
	c.Put("a", 1)
	assert.True(t, c.Remove("a"))
	assert.False(t, c.Remove("a"))
	assert.Equal(t, 0, c.Len())
}

func TestLRU_PutIfAbsent(t *testing.T) {
	c := MustNew[string, int](1)
	v, stored := c.PutIfAbsent("a", 1)
	assert.True(t, stored)
	assert.Equal(t, 1, v)

	v, stored = c.PutIfAbsent("a", 2)
	assert.False(t, stored)
	assert.Equal(t, 1, v)

	_, stored = c.PutIfAbsent("b", 3)
	assert.True(t, stored)
	assert.Equal(t, int64(1), c.Stats().Evictions)
}

func TestLRU_ConcurrentAccessKeepsCountersExact(t *testing.T) {
	c := MustNew[int, int](32)
	const workers = 16
	const perWorker = 500

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func(id int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				key := (id*perWorker + i) % 64
				if _, ok := c.Get(key); !ok {
					c.Put(key, i)
				}
			}
		}(w)
	}
	wg.Wait()

	stats := c.Stats()
	assert.Equal(t, int64(workers*perWorker), stats.Lookups())
	assert.LessOrEqual(t, stats.Size, 32)
}

func TestCollector_ExposesStatistics(t *testing.T) {
	c := MustNew[string, int](1, WithName[string, int]("producers"))
	c.Put("a", 1)
	c.Put("b", 2)
	c.Get("b")
	c.Get("a")
	c.Get("c")

	collector := NewCollector("exchange", c)
	assert.Equal(t, 4, testutil.CollectAndCount(collector))

	expected := fmt.Sprintf(`
# HELP exchange_cache_hits_total Number of cache lookups that found an entry.
# TYPE exchange_cache_hits_total counter
exchange_cache_hits_total{cache="producers"} %d
# HELP exchange_cache_misses_total Number of cache lookups that found nothing.
# TYPE exchange_cache_misses_total counter
exchange_cache_misses_total{cache="producers"} %d
`, 1, 2)
	err := testutil.CollectAndCompare(collector, strings.NewReader(expected),
		"exchange_cache_hits_total", "exchange_cache_misses_total")
	assert.NoError(t, err)
}
