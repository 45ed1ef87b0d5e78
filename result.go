package exchange

import (
	"context"
	"sync"
)

// Future holds a value that becomes available once, later.
type Future[T any] struct {
	mu    sync.RWMutex
	done  chan struct{}
	once  sync.Once
	value T
	err   error
}

func NewFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Complete stores value. Only the first Complete or Fail takes effect.
func (f *Future[T]) Complete(value T) bool {
	return f.settle(value, nil)
}

// Fail stores err. Only the first Complete or Fail takes effect.
func (f *Future[T]) Fail(err error) bool {
	var zero T
	return f.settle(zero, err)
}

func (f *Future[T]) settle(value T, err error) bool {
	settled := false
	f.once.Do(func() {
		f.mu.Lock()
		f.value = value
		f.err = err
		f.mu.Unlock()
		close(f.done)
		settled = true
	})
	return settled
}

// Done is closed once the future settles.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Load returns the value without blocking. ok is false until the future settles.
func (f *Future[T]) Load() (value T, ok bool) {
	select {
	case <-f.done:
	default:
		return value, false
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.value, true
}

// Err returns the stored error, nil while unsettled.
func (f *Future[T]) Err() error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.err
}

// Wait blocks until the future settles or ctx is done.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-f.done:
		f.mu.RLock()
		defer f.mu.RUnlock()
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
