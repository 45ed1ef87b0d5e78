package processor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	exchange "github.com/goliatone/go-exchange"
	"github.com/goliatone/go-exchange/clock"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// WithHistory appends a history record for node before p runs and fills in
// its elapsed time when p completes.
func WithHistory(p AsyncProcessor, node exchange.NodeDescriptor) AsyncProcessor {
	return AsyncFunc(func(ctx context.Context, ex *exchange.Exchange, cb Callback) bool {
		idx := ex.AddHistory(node)
		watch := clock.NewMonotonic()
		return p.Process(ctx, ex, CallbackFunc(func(doneSync bool) {
			ex.FinishHistory(idx, watch.Elapsed())
			cb.Done(doneSync)
		}))
	})
}

// WithTracing wraps p in a span named name. The span ends when p completes
// and records the exchange failure, if any.
func WithTracing(p AsyncProcessor, tracer trace.Tracer, name string) AsyncProcessor {
	return AsyncFunc(func(ctx context.Context, ex *exchange.Exchange, cb Callback) bool {
		ctx, span := tracer.Start(ctx, name, trace.WithAttributes(
			attribute.String("exchange.id", ex.ID()),
			attribute.String("exchange.pattern", ex.Pattern().String()),
		))
		return p.Process(ctx, ex, CallbackFunc(func(doneSync bool) {
			span.SetAttributes(attribute.Bool("exchange.done_sync", doneSync))
			if err := ex.Failure(); err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			} else {
				span.SetStatus(codes.Ok, "")
			}
			span.End()
			cb.Done(doneSync)
		}))
	})
}

// WithRecover turns a panic raised on the calling goroutine into an exchange
// failure. If the callback has not run yet it is invoked synchronously.
// cb runs at most once: a completion from async work the panicking stage
// left running is dropped.
func WithRecover(p AsyncProcessor, name string, logger exchange.Logger) AsyncProcessor {
	handle := exchange.MakePanicHandler(exchange.LoggerPanicLogger(logger))
	return AsyncFunc(func(ctx context.Context, ex *exchange.Exchange, cb Callback) (done bool) {
		var called, calledSync atomic.Bool
		guarded := CallbackFunc(func(doneSync bool) {
			if !called.CompareAndSwap(false, true) {
				return
			}
			calledSync.Store(doneSync)
			cb.Done(doneSync)
		})

		panicked := true
		defer func() {
			if !panicked {
				return
			}
			if !called.CompareAndSwap(false, true) {
				done = calledSync.Load()
				return
			}
			calledSync.Store(true)
			cb.Done(true)
			done = true
		}()
		defer handle(name, ex)

		done = p.Process(ctx, ex, guarded)
		panicked = false
		return done
	})
}

// MetricsRecorder receives per-stage timings and outcomes.
type MetricsRecorder interface {
	RecordDuration(name string, duration time.Duration)
	RecordError(name string)
	RecordSuccess(name string)
}

// WithMetrics reports how long p took, measured until its callback fires.
func WithMetrics(p AsyncProcessor, name string, recorder MetricsRecorder) AsyncProcessor {
	if recorder == nil {
		return p
	}
	return AsyncFunc(func(ctx context.Context, ex *exchange.Exchange, cb Callback) bool {
		start := time.Now()
		return p.Process(ctx, ex, CallbackFunc(func(doneSync bool) {
			recorder.RecordDuration(name, time.Since(start))
			if ex.IsFailed() {
				recorder.RecordError(name)
			} else {
				recorder.RecordSuccess(name)
			}
			cb.Done(doneSync)
		}))
	})
}

// CircuitBreaker stops calling a stage after repeated failures and lets a
// single probe through once resetTimeout has passed since the last failure.
// Calls arriving while the probe is in flight are rejected.
type CircuitBreaker struct {
	mu sync.RWMutex

	stage AsyncProcessor
	probe AsyncProcessor

	failureThreshold int
	resetTimeout     time.Duration
	now              func() time.Time

	failures    int
	lastFailure time.Time
	isOpen      bool
	probing     bool
}

type CircuitBreakerOption func(*CircuitBreaker)

// WithHalfOpenProbe sets the stage run when probing a half-open circuit.
func WithHalfOpenProbe(probe AsyncProcessor) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		if probe != nil {
			cb.probe = probe
		}
	}
}

// WithBreakerClock replaces time.Now, mainly for tests.
func WithBreakerClock(now func() time.Time) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		if now != nil {
			cb.now = now
		}
	}
}

func NewCircuitBreaker(stage AsyncProcessor, failureThreshold int, resetTimeout time.Duration, opts ...CircuitBreakerOption) *CircuitBreaker {
	if failureThreshold < 1 {
		failureThreshold = 1
	}
	cb := &CircuitBreaker{
		stage:            stage,
		probe:            stage,
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		now:              time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(cb)
		}
	}
	return cb
}

func (c *CircuitBreaker) Process(ctx context.Context, ex *exchange.Exchange, cb Callback) bool {
	open, allowed := c.check()
	if !allowed {
		ex.SetFailure(exchange.CloneError(ErrCircuitOpen, "", nil, map[string]any{
			"exchange_id": ex.ID(),
			"failures":    c.Failures(),
		}))
		cb.Done(true)
		return true
	}

	target := c.stage
	if open {
		target = c.probe
	}
	return target.Process(ctx, ex, CallbackFunc(func(doneSync bool) {
		c.record(ex.Failure(), open)
		cb.Done(doneSync)
	}))
}

// IsOpen reports whether the circuit is currently rejecting calls.
func (c *CircuitBreaker) IsOpen() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isOpen
}

func (c *CircuitBreaker) Failures() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.failures
}

// check decides whether a call may run. An allowed call on an open circuit
// is the probe, and it stays the only one until record sees its outcome.
func (c *CircuitBreaker) check() (open, allowed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.isOpen {
		return false, true
	}
	if c.probing || c.now().Sub(c.lastFailure) <= c.resetTimeout {
		return true, false
	}
	c.probing = true
	return true, true
}

func (c *CircuitBreaker) record(err error, probe bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if probe {
		c.probing = false
	}
	if err == nil {
		c.failures = 0
		c.isOpen = false
		c.probing = false
		return
	}
	c.failures++
	if c.failures >= c.failureThreshold {
		c.isOpen = true
		c.lastFailure = c.now()
	}
}
