package producer

import (
	"context"
	"sync"
	"sync/atomic"

	exchange "github.com/goliatone/go-exchange"
	"github.com/goliatone/go-exchange/lifecycle"
	"github.com/goliatone/go-exchange/processor"
)

// Lazy defers creating and starting the real producer until the first
// exchange arrives. It counts as started from construction.
//
// The first Process call creates and starts the delegate under a lock; later
// calls read it without locking. If creation or start fails the failure is
// recorded on that exchange and the next call tries again. Once Shutdown
// runs every later exchange is rejected.
type Lazy struct {
	endpoint Endpoint
	mu       sync.Mutex
	delegate atomic.Pointer[delegateRef]
	created  atomic.Int64
	shutdown atomic.Bool
	logger   exchange.Logger
}

type delegateRef struct {
	producer Producer
}

type LazyOption func(*Lazy)

func WithLazyLogger(logger exchange.Logger) LazyOption {
	return func(l *Lazy) {
		l.logger = logger
	}
}

func NewLazy(endpoint Endpoint, opts ...LazyOption) *Lazy {
	l := &Lazy{endpoint: endpoint}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	l.logger = exchange.WithLoggerFields(l.logger, map[string]any{"endpoint": endpoint.URI()})
	return l
}

func (l *Lazy) Process(ctx context.Context, ex *exchange.Exchange, cb processor.Callback) bool {
	p, err := l.acquire(ctx)
	if err != nil {
		ex.SetFailure(err)
		cb.Done(true)
		return true
	}
	return p.Process(ctx, ex, cb)
}

func (l *Lazy) acquire(ctx context.Context) (Producer, error) {
	if l.shutdown.Load() {
		return nil, l.rejected()
	}
	if ref := l.delegate.Load(); ref != nil {
		return ref.producer, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.shutdown.Load() {
		return nil, l.rejected()
	}
	if ref := l.delegate.Load(); ref != nil {
		return ref.producer, nil
	}

	p, err := l.endpoint.CreateProducer(ctx)
	if err != nil {
		l.logger.WithContext(ctx).Warn("create producer failed: %v", err)
		return nil, asLifecycleError(l.endpoint.URI(), "create", err)
	}
	if err := p.Start(ctx); err != nil {
		l.logger.WithContext(ctx).Warn("start producer failed: %v", err)
		if stopErr := p.Stop(ctx); stopErr != nil {
			l.logger.WithContext(ctx).Warn("stop after failed start: %v", stopErr)
		}
		return nil, asLifecycleError(l.endpoint.URI(), "start", err)
	}
	l.created.Add(1)
	l.delegate.Store(&delegateRef{producer: p})
	l.logger.WithContext(ctx).Debug("producer created on first use")
	return p, nil
}

// Delegate returns the current producer, if one has been created.
func (l *Lazy) Delegate() (Producer, bool) {
	if ref := l.delegate.Load(); ref != nil {
		return ref.producer, true
	}
	return nil, false
}

// Created counts successful delegate creations.
func (l *Lazy) Created() int64 { return l.created.Load() }

// IsSingleton reports the delegate's scoping, or the endpoint's before one exists.
func (l *Lazy) IsSingleton() bool {
	if p, ok := l.Delegate(); ok {
		return p.IsSingleton()
	}
	return l.endpoint.IsSingleton()
}

// Start starts the delegate if it exists. Without one there is nothing to do.
func (l *Lazy) Start(ctx context.Context) error {
	if p, ok := l.Delegate(); ok {
		return p.Start(ctx)
	}
	return nil
}

func (l *Lazy) Stop(ctx context.Context) error {
	if p, ok := l.Delegate(); ok {
		return p.Stop(ctx)
	}
	return nil
}

func (l *Lazy) Suspend(ctx context.Context) error {
	if p, ok := l.Delegate(); ok {
		if s, ok := p.(lifecycle.Suspendable); ok {
			return s.Suspend(ctx)
		}
	}
	return nil
}

func (l *Lazy) Resume(ctx context.Context) error {
	if p, ok := l.Delegate(); ok {
		if s, ok := p.(lifecycle.Suspendable); ok {
			return s.Resume(ctx)
		}
	}
	return nil
}

// Shutdown stops the delegate and drops it. Shutdown is final: later
// exchanges fail with a rejected error and no delegate is created again.
func (l *Lazy) Shutdown(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.shutdown.Store(true)
	ref := l.delegate.Swap(nil)
	if ref == nil {
		return nil
	}
	if s, ok := ref.producer.(interface{ Shutdown(context.Context) error }); ok {
		return s.Shutdown(ctx)
	}
	return ref.producer.Stop(ctx)
}

// IsShutdown reports whether Shutdown has run.
func (l *Lazy) IsShutdown() bool { return l.shutdown.Load() }

func (l *Lazy) rejected() error {
	return exchange.NewRejectedError("producer:"+l.endpoint.URI(), "process", lifecycle.Shutdown.String())
}

func asLifecycleError(uri, action string, err error) error {
	if exchange.IsLifecycle(err) || exchange.IsRejected(err) {
		return err
	}
	return exchange.NewLifecycleError("producer:"+uri, action, err)
}
