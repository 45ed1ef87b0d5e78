package exchange

import (
	"sync"
	"sync/atomic"

	"github.com/goliatone/go-exchange/clock"
)

// Pool recycles exchanges. Pooled exchanges own a clock.Resettable which is
// unset when the exchange is returned and reset when it is handed out again,
// so a stale reference fails loudly instead of reporting a bogus age.
//
// Do not return an exchange while copies of it are still in use: copies
// share its clock.
type Pool struct {
	pool    sync.Pool
	gen     IDGenerator
	source  clock.Source
	created atomic.Int64
	reused  atomic.Int64
	put     atomic.Int64
}

type PoolOption func(*Pool)

func WithPoolIDGenerator(gen IDGenerator) PoolOption {
	return func(p *Pool) {
		if gen != nil {
			p.gen = gen
		}
	}
}

func WithPoolClockSource(source clock.Source) PoolOption {
	return func(p *Pool) {
		if source != nil {
			p.source = source
		}
	}
}

func NewPool(opts ...PoolOption) *Pool {
	p := &Pool{gen: defaultIDGenerator, source: clock.System}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Get returns a fresh exchange with a new id and a re-anchored clock.
func (p *Pool) Get(opts ...Option) *Exchange {
	ex, ok := p.pool.Get().(*Exchange)
	if !ok || ex == nil {
		p.created.Add(1)
		ex = &Exchange{clock: clock.NewResettableFrom(p.source)}
	} else {
		p.reused.Add(1)
		ex.clock.(*clock.Resettable).Reset()
	}
	ex.gen = p.gen
	ex.init(opts)
	return ex
}

// Put clears ex and makes it available to Get. Exchanges that were not
// created with a resettable clock are dropped.
func (p *Pool) Put(ex *Exchange) {
	if ex == nil {
		return
	}
	rc, ok := ex.clock.(*clock.Resettable)
	if !ok {
		return
	}
	rc.Unset()
	*ex = Exchange{clock: rc}
	p.put.Add(1)
	p.pool.Put(ex)
}

// PoolStats counts pool traffic.
type PoolStats struct {
	Created  int64
	Reused   int64
	Returned int64
}

func (p *Pool) Stats() PoolStats {
	return PoolStats{
		Created:  p.created.Load(),
		Reused:   p.reused.Load(),
		Returned: p.put.Load(),
	}
}
