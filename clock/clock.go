// Package clock provides the elapsed-time sources used by exchanges and
// message history. Elapsed time is always measured on the monotonic
// reading so wall clock adjustments never make it go backwards.
package clock

import "time"

// Clock measures the lifetime of a unit of work.
type Clock interface {
	// Elapsed returns the time since the clock was anchored. It never
	// decreases between calls and is never negative.
	Elapsed() time.Duration
	// Created returns the wall clock instant the clock was anchored at,
	// derived as wall now minus Elapsed.
	Created() time.Time
}

// Source supplies the two time domains a clock reads from.
type Source interface {
	// Now returns the current wall clock time.
	Now() time.Time
	// Nanotime returns a monotonic, high resolution reading in nanoseconds.
	// Only differences between two readings are meaningful.
	Nanotime() int64
}

var processStart = time.Now()

type systemSource struct{}

func (systemSource) Now() time.Time { return time.Now() }

// Nanotime is backed by the monotonic reading carried by time.Now, which
// time.Since uses when both operands have one.
func (systemSource) Nanotime() int64 { return int64(time.Since(processStart)) }

// System is the process wide Source backed by the runtime clocks.
var System Source = systemSource{}

func elapsedBetween(start, now int64) time.Duration {
	d := time.Duration(now - start)
	if d < 0 {
		return 0
	}
	return d
}
