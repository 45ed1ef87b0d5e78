package router

import (
	"sort"
	"strings"
	"sync"
)

// Table maps URI patterns to targets. Exact URIs win over patterns, and
// among patterns the one with the most literal segments wins.
type Table[T any] struct {
	mu        sync.RWMutex
	match     Matcher
	separator string
	exact     map[string]*Route[T]
	patterns  []*Route[T]
}

// Route is one registered pattern.
type Route[T any] struct {
	table    *Table[T]
	pattern  string
	literals int
	many     int
	Target   T
}

func (r *Route[T]) Pattern() string { return r.pattern }

// Remove unregisters r. Removing a route that was replaced does nothing.
func (r *Route[T]) Remove() {
	t := r.table
	t.mu.Lock()
	defer t.mu.Unlock()

	if cur, ok := t.exact[r.pattern]; ok && cur == r {
		delete(t.exact, r.pattern)
		return
	}
	for i, p := range t.patterns {
		if p == r {
			t.patterns = append(t.patterns[:i], t.patterns[i+1:]...)
			return
		}
	}
}

type Option func(*options)

type options struct {
	matcher   Matcher
	separator string
}

// WithMatcher replaces the matcher used for wildcard patterns.
func WithMatcher(m Matcher) Option {
	return func(o *options) {
		if m != nil {
			o.matcher = m
		}
	}
}

// WithSeparator sets the path separator. It also rebuilds the default
// matcher unless WithMatcher is given.
func WithSeparator(sep string) Option {
	return func(o *options) {
		if sep != "" {
			o.separator = sep
		}
	}
}

func NewTable[T any](opts ...Option) *Table[T] {
	o := &options{separator: "."}
	for _, opt := range opts {
		opt(o)
	}
	if o.matcher == nil {
		o.matcher = NewMatcher(MatcherOptions{Separator: o.separator})
	}
	return &Table[T]{
		match:     o.matcher,
		separator: o.separator,
		exact:     make(map[string]*Route[T]),
	}
}

// Add registers target under pattern, replacing any target already
// registered under the same pattern.
func (t *Table[T]) Add(pattern string, target T) *Route[T] {
	r := &Route[T]{table: t, pattern: pattern, Target: target}

	t.mu.Lock()
	defer t.mu.Unlock()

	if !IsPattern(pattern, t.separator) {
		t.exact[pattern] = r
		return r
	}

	_, path := SplitURI(pattern)
	for _, seg := range split(path, t.separator) {
		switch seg {
		case wildMany:
			r.many++
		case wildOne, wildAlt:
		default:
			r.literals++
		}
	}

	for i, p := range t.patterns {
		if p.pattern == pattern {
			t.patterns[i] = r
			return r
		}
	}
	t.patterns = append(t.patterns, r)
	sort.SliceStable(t.patterns, func(i, j int) bool {
		a, b := t.patterns[i], t.patterns[j]
		if a.literals != b.literals {
			return a.literals > b.literals
		}
		if a.many != b.many {
			return a.many < b.many
		}
		return a.pattern < b.pattern
	})
	return r
}

// Lookup returns the target for uri.
func (t *Table[T]) Lookup(uri string) (T, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if r, ok := t.exact[uri]; ok {
		return r.Target, true
	}
	for _, r := range t.patterns {
		if t.match(r.pattern, uri) {
			return r.Target, true
		}
	}
	var zero T
	return zero, false
}

func (t *Table[T]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.exact) + len(t.patterns)
}

// Patterns lists registered patterns, exact URIs first, in lookup order.
func (t *Table[T]) Patterns() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]string, 0, len(t.exact)+len(t.patterns))
	for uri := range t.exact {
		out = append(out, uri)
	}
	sort.Strings(out)
	for _, r := range t.patterns {
		out = append(out, r.pattern)
	}
	return out
}

func (t *Table[T]) String() string {
	return "router.Table[" + strings.Join(t.Patterns(), ", ") + "]"
}
