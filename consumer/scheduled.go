package consumer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	exchange "github.com/goliatone/go-exchange"
	"github.com/goliatone/go-exchange/lifecycle"
	"github.com/goliatone/go-exchange/processor"
	"github.com/goliatone/go-exchange/scheduler"
	apperrors "github.com/goliatone/go-errors"
)

const ErrCodePollFailed = "CONSUMER_POLL_FAILED"

// DefaultPollInterval is the schedule used when no job is configured.
const DefaultPollInterval = time.Second

// Source produces the exchanges found by one poll.
type Source interface {
	Poll(ctx context.Context) ([]*exchange.Exchange, error)
}

// SourceFunc adapts a plain function to Source.
type SourceFunc func(ctx context.Context) ([]*exchange.Exchange, error)

func (f SourceFunc) Poll(ctx context.Context) ([]*exchange.Exchange, error) { return f(ctx) }

// PollStats counts poll outcomes.
type PollStats struct {
	Polls     int64
	Skipped   int64
	Failed    int64
	Processed int64
	Errored   int64
}

// ScheduledConsumer polls a Source on a schedule and hands every exchange
// found to a processor. Each poll waits until its whole batch has finished.
// Poll errors and failed exchanges go to the exception handler.
type ScheduledConsumer struct {
	*lifecycle.Service

	uri       string
	source    Source
	target    processor.AsyncProcessor
	scheduler *scheduler.Scheduler
	job       scheduler.JobConfig
	handler   exchange.ExceptionHandler
	logger    exchange.Logger

	mu     sync.Mutex
	handle scheduler.Handle

	polls     atomic.Int64
	skipped   atomic.Int64
	failed    atomic.Int64
	processed atomic.Int64
	errored   atomic.Int64
}

type ScheduledOption func(*ScheduledConsumer)

// WithJob sets the schedule and the per-poll run policy.
func WithJob(cfg scheduler.JobConfig) ScheduledOption {
	return func(c *ScheduledConsumer) {
		c.job = cfg
	}
}

func WithExceptionHandler(h exchange.ExceptionHandler) ScheduledOption {
	return func(c *ScheduledConsumer) {
		if h != nil {
			c.handler = h
		}
	}
}

func WithScheduledLogger(logger exchange.Logger) ScheduledOption {
	return func(c *ScheduledConsumer) {
		c.logger = logger
	}
}

func NewScheduledConsumer(uri string, source Source, target processor.AsyncProcessor, s *scheduler.Scheduler, opts ...ScheduledOption) *ScheduledConsumer {
	c := &ScheduledConsumer{
		uri:       uri,
		source:    source,
		target:    target,
		scheduler: s,
		job:       scheduler.Every(DefaultPollInterval),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	c.logger = exchange.WithLoggerFields(c.logger, map[string]any{"consumer": uri})
	if c.handler == nil {
		c.handler = exchange.ExceptionHandlerFunc(func(err error) {
			c.logger.Error("consumer %s: %v", uri, err)
		})
	}
	c.Service = lifecycle.NewService("scheduled-consumer:"+uri,
		lifecycle.WithLogger(c.logger),
		lifecycle.WithStartHook(c.onStart),
		lifecycle.WithStopHook(c.onStop),
	)
	return c
}

func (c *ScheduledConsumer) URI() string { return c.uri }

// Poll runs one poll now. A consumer that is not started skips the poll
// and returns 0.
func (c *ScheduledConsumer) Poll(ctx context.Context) (int, error) {
	if c.State() != lifecycle.Started {
		c.skipped.Add(1)
		return 0, nil
	}
	c.polls.Add(1)

	batch, err := c.source.Poll(ctx)
	if err != nil {
		c.failed.Add(1)
		err = apperrors.Wrap(err, apperrors.CategoryExternal, "poll failed").
			WithTextCode(ErrCodePollFailed).
			WithMetadata(map[string]any{"consumer": c.uri})
		c.handler.Handle(err)
		return 0, err
	}

	var wg sync.WaitGroup
	for i, ex := range batch {
		if ex == nil {
			continue
		}
		ex.SetProperty(exchange.PropertyBatchIndex, i)
		ex.SetProperty(exchange.PropertyBatchSize, len(batch))
		wg.Add(1)
		c.target.Process(ctx, ex, processor.CallbackFunc(func(bool) {
			defer wg.Done()
			c.processed.Add(1)
			if ex.IsFailed() {
				c.errored.Add(1)
				exchange.ReportFailure(c.handler, ex)
			}
		}))
	}
	wg.Wait()
	return len(batch), nil
}

func (c *ScheduledConsumer) Stats() PollStats {
	return PollStats{
		Polls:     c.polls.Load(),
		Skipped:   c.skipped.Load(),
		Failed:    c.failed.Load(),
		Processed: c.processed.Load(),
		Errored:   c.errored.Load(),
	}
}

func (c *ScheduledConsumer) onStart(context.Context) error {
	h, err := c.scheduler.ScheduleCron(c.job, func(ctx context.Context) error {
		_, err := c.Poll(ctx)
		return err
	})
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.handle = h
	c.mu.Unlock()
	return nil
}

func (c *ScheduledConsumer) onStop(context.Context) error {
	c.mu.Lock()
	h := c.handle
	c.handle = nil
	c.mu.Unlock()
	if h != nil {
		h.Cancel()
	}
	return nil
}
