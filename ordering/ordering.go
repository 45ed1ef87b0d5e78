// Package ordering sorts pluggable stages by declared priority.
//
// Orders are plain values, there is no shared comparator instance to
// configure. Sorting is stable so stages with the same priority keep their
// declaration order.
package ordering

import "slices"

// Prioritized is implemented by anything that declares a priority.
// Elements that do not implement it have priority 0.
type Prioritized interface {
	Priority() int
}

// Order is an immutable comparator over priorities.
type Order struct {
	sign int
}

var (
	// Ascending sorts lower priorities first.
	Ascending = Order{sign: 1}
	// Descending sorts higher priorities first.
	Descending = Order{sign: -1}
)

// Reverse returns the opposite order.
func (o Order) Reverse() Order {
	return Order{sign: -o.direction()}
}

func (o Order) direction() int {
	if o.sign < 0 {
		return -1
	}
	return 1
}

// Compare returns a negative number when a sorts before b, a positive one
// when it sorts after, and 0 when both have the same priority.
func (o Order) Compare(a, b any) int {
	pa, pb := PriorityOf(a), PriorityOf(b)
	switch {
	case pa < pb:
		return -o.direction()
	case pa > pb:
		return o.direction()
	default:
		return 0
	}
}

func (o Order) String() string {
	if o.direction() < 0 {
		return "descending"
	}
	return "ascending"
}

// PriorityOf returns v's priority, or 0 if v does not declare one.
func PriorityOf(v any) int {
	if p, ok := v.(Prioritized); ok && p != nil {
		return p.Priority()
	}
	return 0
}

// Sort stably sorts items in place.
func Sort[T any](items []T, order Order) {
	slices.SortStableFunc(items, func(a, b T) int {
		return order.Compare(a, b)
	})
}

// Sorted returns a stably sorted copy of items.
func Sorted[T any](items []T, order Order) []T {
	out := slices.Clone(items)
	Sort(out, order)
	return out
}

// WithPriority attaches a priority to an arbitrary value.
type WithPriority[T any] struct {
	Value T
	Rank  int
}

func (w WithPriority[T]) Priority() int { return w.Rank }
