package clock

import (
	"sync"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu   sync.Mutex
	wall time.Time
	mono int64
}

func newFakeSource() *fakeSource {
	return &fakeSource{wall: time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeSource) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.wall
}

func (f *fakeSource) Nanotime() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mono
}

func (f *fakeSource) advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.wall = f.wall.Add(d)
	f.mono += int64(d)
}

func (f *fakeSource) setWall(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.wall = t
}

func TestMonotonic_ElapsedIgnoresWallClockJumps(t *testing.T) {
	src := newFakeSource()
	c := NewMonotonicFrom(src)

	src.advance(30 * time.Millisecond)
	first := c.Elapsed()
	assert.Equal(t, 30*time.Millisecond, first)

	// NTP step backwards by an hour
	src.setWall(src.Now().Add(-time.Hour))
	second := c.Elapsed()
	assert.GreaterOrEqual(t, second, first)

	src.advance(5 * time.Millisecond)
	third := c.Elapsed()
	assert.Equal(t, 35*time.Millisecond, third)
}

func TestMonotonic_NeverNegativeOrDecreasing(t *testing.T) {
	src := newFakeSource()
	src.mono = 1000
	c := NewMonotonicFrom(src)

	src.mono = 10
	assert.Equal(t, time.Duration(0), c.Elapsed())

	src.mono = 2000
	assert.Equal(t, time.Duration(1000), c.Elapsed())

	src.mono = 1500
	assert.Equal(t, time.Duration(1000), c.Elapsed())
}

func TestMonotonic_CreatedIsWallMinusElapsed(t *testing.T) {
	src := newFakeSource()
	start := src.Now()
	c := NewMonotonicFrom(src)

	src.advance(time.Second)
	assert.True(t, c.Created().Equal(start))
}

func TestMonotonic_SystemSource(t *testing.T) {
	c := NewMonotonic()
	prev := c.Elapsed()
	for i := 0; i < 1000; i++ {
		next := c.Elapsed()
		require.GreaterOrEqual(t, next, prev)
		prev = next
	}
	assert.False(t, c.Created().After(time.Now()))
}

func TestResettable_ResetReanchors(t *testing.T) {
	src := newFakeSource()
	c := NewResettableFrom(src)
	assert.Equal(t, Active, c.State())

	src.advance(2 * time.Second)
	assert.Equal(t, 2*time.Second, c.Elapsed())

	c.Reset()
	assert.Equal(t, time.Duration(0), c.Elapsed())
	assert.True(t, c.Created().Equal(src.Now()))
}

func TestResettable_CreatedFollowsWallClockLikeMonotonic(t *testing.T) {
	src := newFakeSource()
	start := src.Now()
	mono := NewMonotonicFrom(src)
	res := NewResettableFrom(src)

	src.advance(time.Second)
	assert.True(t, res.Created().Equal(start))

	src.setWall(src.Now().Add(-time.Hour))
	want := start.Add(-time.Hour)
	assert.True(t, mono.Created().Equal(want))
	assert.True(t, res.Created().Equal(want), "got %s", res.Created())
	assert.Equal(t, time.Second, res.Elapsed())
}

func TestResettable_ReadWhileUnsetPanics(t *testing.T) {
	c := NewResettableFrom(newFakeSource())
	c.Unset()
	assert.Equal(t, Unset, c.State())

	defer func() {
		r := recover()
		require.NotNil(t, r)
		err, ok := r.(*goerrors.Error)
		require.True(t, ok, "expected *errors.Error, got %T", r)
		assert.Equal(t, ErrCodeUnset, err.TextCode)
	}()
	c.Elapsed()
}

func TestResettable_UnsetThenResetIsUsable(t *testing.T) {
	src := newFakeSource()
	c := NewResettableFrom(src)
	c.Unset()
	c.Reset()

	src.advance(time.Millisecond)
	assert.Equal(t, time.Millisecond, c.Elapsed())
	assert.Equal(t, "active", c.State().String())
}
