// Package consumer holds the consuming side of an endpoint: a pull-style
// polling consumer and a consumer that polls a source on a schedule.
package consumer

import (
	"context"
	"errors"
	"sync"
	"time"

	exchange "github.com/goliatone/go-exchange"
	"github.com/goliatone/go-exchange/lifecycle"
	"github.com/goliatone/go-exchange/runner"
)

// DefaultQueueSize bounds the exchanges a PollingConsumer buffers.
const DefaultQueueSize = 1000

// PollingConsumer buffers exchanges offered by an endpoint until a caller
// receives them. Receiving is only allowed while the consumer runs; while it
// is suspended receivers block until it resumes.
type PollingConsumer struct {
	*lifecycle.Service

	uri    string
	queue  chan *exchange.Exchange
	logger exchange.Logger

	mu   sync.RWMutex
	gate *runner.Gate
}

type PollingOption func(*PollingConsumer)

func WithQueueSize(n int) PollingOption {
	return func(c *PollingConsumer) {
		if n > 0 {
			c.queue = make(chan *exchange.Exchange, n)
		}
	}
}

func WithPollingLogger(logger exchange.Logger) PollingOption {
	return func(c *PollingConsumer) {
		c.logger = logger
	}
}

func NewPollingConsumer(uri string, opts ...PollingOption) *PollingConsumer {
	c := &PollingConsumer{
		uri:   uri,
		queue: make(chan *exchange.Exchange, DefaultQueueSize),
		gate:  runner.NewGate(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	c.logger = exchange.WithLoggerFields(c.logger, map[string]any{"consumer": uri})
	c.Service = lifecycle.NewService("consumer:"+uri,
		lifecycle.WithLogger(c.logger),
		lifecycle.WithHooks(lifecycle.Hooks{
			Start:   c.onStart,
			Stop:    c.onStop,
			Suspend: c.onSuspend,
			Resume:  c.onResume,
		}),
	)
	return c
}

func (c *PollingConsumer) URI() string { return c.uri }

// Len is the number of buffered exchanges.
func (c *PollingConsumer) Len() int { return len(c.queue) }

// Offer buffers ex, blocking while the buffer is full.
func (c *PollingConsumer) Offer(ctx context.Context, ex *exchange.Exchange) error {
	if !c.IsRunAllowed() {
		return c.rejected("offer")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case c.queue <- ex:
		return nil
	case <-ctx.Done():
		return exchange.NewInterruptedWaitError(ex.ID(), ctx.Err())
	}
}

// Receive blocks until an exchange is available or ctx ends.
func (c *PollingConsumer) Receive(ctx context.Context) (*exchange.Exchange, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	return c.receive(ctx)
}

// ReceiveNoWait returns a buffered exchange or nil when none is ready. A
// suspended consumer returns nil.
func (c *PollingConsumer) ReceiveNoWait() (*exchange.Exchange, error) {
	if !c.IsRunAllowed() {
		return nil, c.rejected("receive")
	}
	if c.currentGate().Paused() {
		return nil, nil
	}
	select {
	case ex := <-c.queue:
		return ex, nil
	default:
		return nil, nil
	}
}

// ReceiveTimeout waits up to d for an exchange and returns nil when none
// arrives in time.
func (c *PollingConsumer) ReceiveTimeout(d time.Duration) (*exchange.Exchange, error) {
	if d <= 0 {
		return c.ReceiveNoWait()
	}
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()

	ex, err := c.receive(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		return nil, nil
	}
	return ex, err
}

func (c *PollingConsumer) receive(ctx context.Context) (*exchange.Exchange, error) {
	if !c.IsRunAllowed() {
		return nil, c.rejected("receive")
	}
	g := c.currentGate()
	if err := g.Wait(ctx); err != nil {
		return nil, err
	}
	select {
	case ex := <-c.queue:
		return ex, nil
	case <-g.Done():
		return nil, c.rejected("receive")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *PollingConsumer) currentGate() *runner.Gate {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gate
}

func (c *PollingConsumer) rejected(op string) error {
	return exchange.NewRejectedError(c.Name(), op, c.State().String())
}

func (c *PollingConsumer) onStart(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.gate.Done():
		c.gate = runner.NewGate()
	default:
	}
	return nil
}

// onStop releases blocked receivers. Buffered exchanges are kept for the
// next start.
func (c *PollingConsumer) onStop(context.Context) error {
	c.currentGate().Close(exchange.NewRejectedError(c.Name(), "receive", lifecycle.Stopping.String()))
	return nil
}

func (c *PollingConsumer) onSuspend(context.Context) error {
	c.currentGate().Pause()
	return nil
}

func (c *PollingConsumer) onResume(context.Context) error {
	c.currentGate().Resume()
	return nil
}
