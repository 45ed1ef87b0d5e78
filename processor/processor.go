package processor

import (
	"context"
	"sync"

	exchange "github.com/goliatone/go-exchange"
)

// Callback is told when processing of an exchange has finished. doneSync is
// true when the processor finished on the calling goroutine.
type Callback interface {
	Done(doneSync bool)
}

// CallbackFunc adapts a plain function to Callback.
type CallbackFunc func(doneSync bool)

func (f CallbackFunc) Done(doneSync bool) { f(doneSync) }

// AsyncProcessor is the non-blocking stage contract.
//
// Process returns true when it finished synchronously, in which case
// cb.Done(true) has already been called. It returns false when the work
// continues elsewhere; cb.Done(false) is then called exactly once, later,
// from another goroutine. Results and failures travel on the exchange.
// Calling cb more than once is a contract violation.
type AsyncProcessor interface {
	Process(ctx context.Context, ex *exchange.Exchange, cb Callback) bool
}

// AsyncFunc adapts a plain function to AsyncProcessor.
type AsyncFunc func(ctx context.Context, ex *exchange.Exchange, cb Callback) bool

func (f AsyncFunc) Process(ctx context.Context, ex *exchange.Exchange, cb Callback) bool {
	return f(ctx, ex, cb)
}

// Processor is the synchronous stage contract.
type Processor interface {
	Execute(ctx context.Context, ex *exchange.Exchange) error
}

// Func adapts a plain function to Processor.
type Func func(ctx context.Context, ex *exchange.Exchange) error

func (f Func) Execute(ctx context.Context, ex *exchange.Exchange) error {
	return f(ctx, ex)
}

// ToAsync adapts a synchronous processor. A returned error is recorded on
// the exchange and the callback is invoked with true.
func ToAsync(p Processor) AsyncProcessor {
	if ap, ok := p.(AsyncProcessor); ok {
		return ap
	}
	return syncAdapter{p: p}
}

type syncAdapter struct {
	p Processor
}

func (a syncAdapter) Process(ctx context.Context, ex *exchange.Exchange, cb Callback) bool {
	if err := a.p.Execute(ctx, ex); err != nil {
		ex.SetFailure(err)
	}
	cb.Done(true)
	return true
}

// Process runs p and blocks until it completes, then returns the failure
// recorded on the exchange. It exists for callers that cannot continue
// asynchronously; prefer the callback form on hot paths.
//
// If ctx ends first the exchange is marked with an interrupted-wait failure
// and Process returns it. The stage may still be working on the exchange,
// so the caller must not reuse it.
func Process(ctx context.Context, p AsyncProcessor, ex *exchange.Exchange) error {
	if ctx == nil {
		ctx = context.Background()
	}
	done := make(chan struct{})
	var once sync.Once
	if p.Process(ctx, ex, CallbackFunc(func(bool) { once.Do(func() { close(done) }) })) {
		return ex.Failure()
	}
	select {
	case <-done:
		return ex.Failure()
	case <-ctx.Done():
		err := exchange.NewInterruptedWaitError(ex.ID(), ctx.Err())
		ex.SetFailure(err)
		return err
	}
}

// FutureCallback completes f with value when the exchange finishes,
// whatever its outcome. Callers inspect the exchange for failures.
func FutureCallback[T any](f *exchange.Future[T], value T) Callback {
	return CallbackFunc(func(bool) { f.Complete(value) })
}

// ProcessAsync starts p and returns at once. The future completes with ex
// when processing finishes.
func ProcessAsync(ctx context.Context, p AsyncProcessor, ex *exchange.Exchange) *exchange.Future[*exchange.Exchange] {
	f := exchange.NewFuture[*exchange.Exchange]()
	p.Process(ctx, ex, FutureCallback(f, ex))
	return f
}
