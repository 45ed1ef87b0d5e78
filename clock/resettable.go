package clock

import (
	"sync"
	"time"

	"github.com/goliatone/go-errors"
)

// State tells whether a Resettable clock holds a valid anchor.
type State int

const (
	// Unset clocks were returned to a pool and must be Reset before use.
	Unset State = iota
	// Active clocks are anchored and can be read.
	Active
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	default:
		return "unset"
	}
}

const ErrCodeUnset = "CLOCK_UNSET"

// ErrUnset is the panic value raised when an unset clock is read.
var ErrUnset = errors.New("clock read while unset, call Reset before reuse", errors.CategoryInternal).
	WithTextCode(ErrCodeUnset)

// Resettable is a Clock that can be re-anchored and parked, which lets
// pooled exchanges reuse their clock instead of allocating a new one.
//
// Reading a parked clock is a programming error and panics with ErrUnset.
type Resettable struct {
	mu     sync.RWMutex
	source Source
	state  State
	start  int64
	last   time.Duration
}

// NewResettable returns an Active clock anchored now on the System source.
func NewResettable() *Resettable {
	return NewResettableFrom(System)
}

// NewResettableFrom returns an Active clock anchored now on source.
func NewResettableFrom(source Source) *Resettable {
	if source == nil {
		source = System
	}
	c := &Resettable{source: source}
	c.Reset()
	return c
}

// Reset re-anchors the clock to now.
func (c *Resettable) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.start = c.source.Nanotime()
	c.last = 0
	c.state = Active
}

// Unset zeroes the anchors and parks the clock.
func (c *Resettable) Unset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.start = 0
	c.last = 0
	c.state = Unset
}

func (c *Resettable) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Resettable) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mustBeActive()
	return c.elapsedLocked()
}

// Created is the wall time now minus Elapsed, like Monotonic.
func (c *Resettable) Created() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mustBeActive()
	return c.source.Now().Add(-c.elapsedLocked())
}

func (c *Resettable) elapsedLocked() time.Duration {
	d := elapsedBetween(c.start, c.source.Nanotime())
	if d < c.last {
		return c.last
	}
	c.last = d
	return d
}

func (c *Resettable) mustBeActive() {
	if c.state != Active {
		panic(ErrUnset.Clone())
	}
}
