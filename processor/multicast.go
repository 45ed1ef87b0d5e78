package processor

import (
	"context"

	exchange "github.com/goliatone/go-exchange"
)

// Aggregator folds a finished branch back into the original exchange.
type Aggregator func(original, branch *exchange.Exchange)

// Multicast sends a copy of the exchange through each branch in turn. Copies
// share the original clock and carry its id as correlation id. The first
// failing branch stops the rest and its failure lands on the original.
type Multicast struct {
	branches  []AsyncProcessor
	aggregate Aggregator
}

type MulticastOption func(*Multicast)

// WithAggregator replaces the default, which copies the last branch result back.
func WithAggregator(a Aggregator) MulticastOption {
	return func(m *Multicast) {
		if a != nil {
			m.aggregate = a
		}
	}
}

func NewMulticast(branches []AsyncProcessor, opts ...MulticastOption) *Multicast {
	m := &Multicast{aggregate: lastResult}
	for _, b := range branches {
		if b != nil {
			m.branches = append(m.branches, b)
		}
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

func (m *Multicast) Process(ctx context.Context, ex *exchange.Exchange, cb Callback) bool {
	// every branch starts from the exchange as it arrived
	branches := make([]*exchange.Exchange, len(m.branches))
	for i := range branches {
		branch := ex.Copy()
		branch.SetProperty(exchange.PropertyCorrelationID, ex.ID())
		branch.SetProperty(exchange.PropertyMulticastIndex, i)
		branches[i] = branch
	}
	return m.run(ctx, ex, branches, 0, cb, true)
}

func (m *Multicast) run(ctx context.Context, ex *exchange.Exchange, branches []*exchange.Exchange, from int, cb Callback, sync bool) bool {
	for i := from; i < len(m.branches); i++ {
		if !continueWith(ctx, ex, i, len(m.branches)) {
			break
		}
		branch := branches[i]
		next := i + 1
		done := m.branches[i].Process(ctx, branch, CallbackFunc(func(doneSync bool) {
			if doneSync {
				return
			}
			m.merge(ex, branch)
			m.run(ctx, ex, branches, next, cb, false)
		}))
		if !done {
			return false
		}
		m.merge(ex, branch)
	}
	cb.Done(sync)
	return sync
}

func (m *Multicast) merge(original, branch *exchange.Exchange) {
	if branch.IsFailed() {
		original.SetFailure(branch.Failure())
		return
	}
	m.aggregate(original, branch)
}

func lastResult(original, branch *exchange.Exchange) {
	result := branch.Result().Copy()
	if original.Pattern().IsOutCapable() {
		original.SetOut(result)
		return
	}
	original.SetIn(result)
}
