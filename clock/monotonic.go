package clock

import (
	"sync/atomic"
	"time"
)

// Monotonic is a Clock anchored once at construction.
type Monotonic struct {
	source Source
	start  int64
	// last holds the largest elapsed value handed out so far; a source
	// that misbehaves can never make Elapsed go backwards.
	last atomic.Int64
}

// NewMonotonic anchors a clock on the System source.
func NewMonotonic() *Monotonic {
	return NewMonotonicFrom(System)
}

// NewMonotonicFrom anchors a clock on the given source.
func NewMonotonicFrom(source Source) *Monotonic {
	if source == nil {
		source = System
	}
	return &Monotonic{
		source: source,
		start:  source.Nanotime(),
	}
}

func (c *Monotonic) Elapsed() time.Duration {
	d := elapsedBetween(c.start, c.source.Nanotime())
	for {
		prev := c.last.Load()
		if int64(d) <= prev {
			return time.Duration(prev)
		}
		if c.last.CompareAndSwap(prev, int64(d)) {
			return d
		}
	}
}

func (c *Monotonic) Created() time.Time {
	return c.source.Now().Add(-c.Elapsed())
}
