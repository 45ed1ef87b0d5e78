// Package runner executes a function with a timeout, a retry policy and a
// run budget. Scheduled consumers use it for every poll.
package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	exchange "github.com/goliatone/go-exchange"
	apperrors "github.com/goliatone/go-errors"
)

const (
	ErrCodeAttemptFailed = "RUN_ATTEMPT_FAILED"
	ErrCodeRunFailed     = "RUN_FAILED"
)

type Handler struct {
	mu sync.Mutex

	logger        exchange.Logger
	errorHandler  func(error)
	doneHandler   func(r *Handler)
	retryStrategy RetryStrategy
	gate          *Gate

	runs           int
	successfulRuns int
	skipped        int

	maxRuns    int
	maxRetries int
	timeout    time.Duration
	deadline   time.Time
	runOnce    bool
}

// NewHandler builds a Handler. Without options it runs once per call with no
// retries, no timeout and errors sent to the logger.
func NewHandler(opts ...Option) *Handler {
	r := &Handler{
		doneHandler:   func(*Handler) {},
		retryStrategy: NoDelayStrategy{},
	}
	for _, o := range opts {
		if o != nil {
			o(r)
		}
	}
	r.logger = exchange.NormalizeLogger(r.logger)
	if r.errorHandler == nil {
		r.errorHandler = func(err error) {
			r.logger.Error("runner error: %v", err)
		}
	}
	return r
}

// Run calls fn, retrying failures per the retry strategy. It returns the
// last error, or nil when an attempt succeeded or the run was skipped.
func (h *Handler) Run(ctx context.Context, fn func(context.Context) error) error {
	h.mu.Lock()
	if h.exhaustedLocked() {
		h.skipped++
		h.mu.Unlock()
		return nil
	}
	maxRetries := h.maxRetries
	strategy := h.retryStrategy
	h.mu.Unlock()

	ctx, cancel := h.contextWithSettings(ctx)
	defer cancel()

	var err error
	attempts := 0
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if h.gate != nil {
			if err = h.gate.Wait(ctx); err != nil {
				break
			}
		}
		attempts++
		err = fn(ctx)
		if err == nil || attempt == maxRetries {
			break
		}

		decision := DecideRetry(strategy, attempt, err)
		h.errorHandler(wrapRunError(err,
			fmt.Sprintf("attempt %d of %d failed", attempt+1, maxRetries+1),
			ErrCodeAttemptFailed,
			map[string]any{
				"attempt":      attempt + 1,
				"max_attempts": maxRetries + 1,
				"will_retry":   decision.ShouldRetry,
			}, decision.Metadata))
		if !decision.ShouldRetry {
			break
		}
		if !sleep(ctx, decision.Delay) {
			err = ctx.Err()
			break
		}
	}

	h.mu.Lock()
	h.runs++
	if err == nil {
		h.successfulRuns++
	}
	finished := h.maxRuns > 0 && h.successfulRuns >= h.maxRuns && err == nil
	h.mu.Unlock()

	if err != nil {
		err = wrapRunError(err,
			fmt.Sprintf("run failed after %d attempts", attempts),
			ErrCodeRunFailed,
			map[string]any{"attempts": attempts})
		h.errorHandler(err)
		return err
	}
	if finished {
		h.doneHandler(h)
	}
	return nil
}

// Exhausted reports whether the run budget is spent.
func (h *Handler) Exhausted() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exhaustedLocked()
}

func (h *Handler) exhaustedLocked() bool {
	if h.runOnce && h.successfulRuns >= 1 {
		return true
	}
	return h.maxRuns > 0 && h.successfulRuns >= h.maxRuns
}

// Stats returns the number of runs, successful runs and skipped runs.
func (h *Handler) Stats() (runs, successful, skipped int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.runs, h.successfulRuns, h.skipped
}

func (h *Handler) contextWithSettings(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	switch {
	case h.timeout > 0 && !h.deadline.IsZero():
		ctx, cancelTimeout := context.WithTimeout(parent, h.timeout)
		ctxDeadline, cancelDeadline := context.WithDeadline(ctx, h.deadline)
		return ctxDeadline, func() {
			cancelDeadline()
			cancelTimeout()
		}
	case h.timeout > 0:
		return context.WithTimeout(parent, h.timeout)
	case !h.deadline.IsZero():
		return context.WithDeadline(parent, h.deadline)
	default:
		return parent, func() {}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// wrapRunError keeps the text code of errors that already carry one.
func wrapRunError(err error, msg, code string, metadata ...map[string]any) *apperrors.Error {
	wrapped := apperrors.Wrap(err, apperrors.CategoryOperation, msg)
	if wrapped.TextCode == "" {
		wrapped = wrapped.WithTextCode(code)
	}
	return wrapped.WithMetadata(metadata...)
}
