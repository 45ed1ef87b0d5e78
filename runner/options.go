package runner

import (
	"time"

	exchange "github.com/goliatone/go-exchange"
)

type Option func(*Handler)

// WithTimeout bounds each Run, retries included.
func WithTimeout(t time.Duration) Option {
	return func(r *Handler) {
		r.timeout = t
	}
}

func WithDeadline(d time.Time) Option {
	return func(r *Handler) {
		r.deadline = d
	}
}

// WithRunOnce skips every Run after the first successful one.
func WithRunOnce(once bool) Option {
	return func(r *Handler) {
		r.runOnce = once
	}
}

func WithMaxRetries(max int) Option {
	return func(r *Handler) {
		if max < 0 {
			max = 0
		}
		r.maxRetries = max
	}
}

// WithMaxRuns stops running after max successful runs and fires the done handler.
func WithMaxRuns(max int) Option {
	return func(r *Handler) {
		r.maxRuns = max
	}
}

func WithErrorHandler(h func(error)) Option {
	return func(r *Handler) {
		if h == nil {
			h = func(error) {}
		}
		r.errorHandler = h
	}
}

func WithLogger(l exchange.Logger) Option {
	return func(r *Handler) {
		r.logger = l
	}
}

func WithDoneHandler(d func(*Handler)) Option {
	return func(r *Handler) {
		if d == nil {
			d = func(*Handler) {}
		}
		r.doneHandler = d
	}
}

// WithRetryStrategy sets the delay, and optionally the decision, between retries.
func WithRetryStrategy(s RetryStrategy) Option {
	return func(r *Handler) {
		if s != nil {
			r.retryStrategy = s
		}
	}
}

// WithGate makes every attempt wait while the gate is paused.
func WithGate(g *Gate) Option {
	return func(r *Handler) {
		r.gate = g
	}
}
