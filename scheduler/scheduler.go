// Package scheduler runs recurring and one-shot jobs on a cron engine.
// Each job runs through a runner.Handler, so timeouts, retries and run
// budgets apply per firing.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	exchange "github.com/goliatone/go-exchange"
	"github.com/goliatone/go-exchange/runner"
	apperrors "github.com/goliatone/go-errors"
	rcron "github.com/robfig/cron/v3"
)

// Job is the unit of scheduled work.
type Job func(ctx context.Context) error

// Scheduler wraps a robfig/cron engine.
type Scheduler struct {
	mu           sync.Mutex
	cron         *rcron.Cron
	location     *time.Location
	errorHandler func(error)
	logger       exchange.Logger
	parser       Parser
	logLevel     LogLevel
	running      bool

	nextHandleID int64
	handles      map[int64]*handle
}

func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		location: time.Local,
		parser:   DefaultParser,
		logLevel: LogLevelError,
		handles:  make(map[int64]*handle),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.logger = exchange.WithLoggerFields(s.logger, map[string]any{"component": "scheduler"})
	if s.errorHandler == nil {
		s.errorHandler = func(err error) {
			s.logger.Error("scheduled job failed: %v", err)
		}
	}
	s.cron = rcron.New(s.build()...)
	return s
}

// ScheduleCron runs job every time cfg.Expression fires.
func (s *Scheduler) ScheduleCron(cfg JobConfig, job Job) (Handle, error) {
	if cfg.Expression == "" {
		return nil, apperrors.New("cron expression cannot be empty", apperrors.CategoryBadInput).
			WithTextCode("SCHEDULER_EMPTY_EXPRESSION")
	}
	if job == nil {
		return nil, apperrors.New("scheduled job cannot be nil", apperrors.CategoryBadInput).
			WithTextCode("SCHEDULER_NIL_JOB")
	}

	h := s.newHandle()
	run := s.runnable(cfg, job, h)
	entryID, err := s.cron.AddJob(cfg.Expression, rcron.FuncJob(func() {
		if isTerminalStatus(h.Status()) {
			return
		}
		h.setStatus(StatusRunning, nil)
		err := run()
		if err != nil {
			h.setStatus(StatusFailed, err)
			return
		}
		h.setStatus(StatusIdle, nil)
	}))
	if err != nil {
		h.cancel()
		return nil, apperrors.Wrap(err, apperrors.CategoryBadInput, "invalid cron expression").
			WithTextCode("SCHEDULER_INVALID_EXPRESSION").
			WithMetadata(map[string]any{"expression": cfg.Expression})
	}
	h.entryID = int(entryID)
	s.storeHandle(h)
	return h, nil
}

// ScheduleAfter runs job once after delay.
func (s *Scheduler) ScheduleAfter(delay time.Duration, cfg JobConfig, job Job) (Handle, error) {
	if delay < 0 {
		delay = 0
	}
	return s.ScheduleAt(time.Now().Add(delay), cfg, job)
}

// ScheduleAt runs job once at the given time. It does not wait for Start.
func (s *Scheduler) ScheduleAt(at time.Time, cfg JobConfig, job Job) (Handle, error) {
	if job == nil {
		return nil, apperrors.New("scheduled job cannot be nil", apperrors.CategoryBadInput).
			WithTextCode("SCHEDULER_NIL_JOB")
	}
	h := s.newHandle()
	run := s.runnable(cfg, job, h)
	s.storeHandle(h)

	go func() {
		timer := time.NewTimer(max(time.Until(at), 0))
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-h.Done():
			return
		}
		if isTerminalStatus(h.Status()) {
			return
		}
		h.setStatus(StatusRunning, nil)
		if err := run(); err != nil {
			h.finish(StatusFailed, err)
			return
		}
		h.finish(StatusCompleted, nil)
	}()
	return h, nil
}

// Start begins firing cron jobs.
func (s *Scheduler) Start(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		s.cron.Start()
		s.running = true
	}
	return nil
}

// Stop stops firing jobs, waits for running ones up to ctx, and marks every
// live handle as stopped.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	running := s.running
	s.running = false
	handles := make([]*handle, 0, len(s.handles))
	for _, h := range s.handles {
		handles = append(handles, h)
	}
	s.handles = make(map[int64]*handle)
	s.mu.Unlock()

	var err error
	if running {
		done := s.cron.Stop()
		select {
		case <-done.Done():
		case <-ctx.Done():
			err = ctx.Err()
		}
	}
	for _, h := range handles {
		if h.entryID > 0 {
			s.cron.Remove(rcron.EntryID(h.entryID))
		}
		h.stop()
	}
	return err
}

// Len is the number of live handles.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handles)
}

func (s *Scheduler) runnable(cfg JobConfig, job Job, h *handle) func() error {
	opts := []runner.Option{
		runner.WithMaxRetries(cfg.MaxRetries),
		runner.WithDeadline(cfg.Deadline),
		runner.WithRunOnce(cfg.RunOnce),
		runner.WithErrorHandler(s.errorHandler),
		runner.WithLogger(s.logger),
		runner.WithGate(cfg.Gate),
	}
	if cfg.Timeout > 0 {
		opts = append(opts, runner.WithTimeout(cfg.Timeout))
	}
	if cfg.MaxRuns > 0 {
		opts = append(opts, runner.WithMaxRuns(cfg.MaxRuns))
	}
	if cfg.RetryStrategy != nil {
		opts = append(opts, runner.WithRetryStrategy(cfg.RetryStrategy))
	}
	r := runner.NewHandler(opts...)
	return func() error {
		if r.Exhausted() {
			h.finish(StatusCompleted, nil)
			return nil
		}
		err := r.Run(h.ctx, job)
		if err == nil && r.Exhausted() {
			h.finish(StatusCompleted, nil)
		}
		return err
	}
}

func (s *Scheduler) removeHandle(id int64) {
	h := s.removeStoredHandle(id)
	if h != nil && h.entryID > 0 {
		s.cron.Remove(rcron.EntryID(h.entryID))
	}
}

func (s *Scheduler) removeStoredHandle(id int64) *handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.handles[id]
	delete(s.handles, id)
	return h
}

func (s *Scheduler) storeHandle(h *handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handles[h.id] = h
}

func (s *Scheduler) newHandle() *handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextHandleID++
	ctx, cancel := context.WithCancel(context.Background())
	return &handle{
		scheduler: s,
		id:        s.nextHandleID,
		status:    StatusScheduled,
		done:      make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// build converts scheduler options to robfig/cron options.
func (s *Scheduler) build() []rcron.Option {
	opts := make([]rcron.Option, 0, 4)
	if s.location != nil {
		opts = append(opts, rcron.WithLocation(s.location))
	}

	switch s.parser {
	case StandardParser:
		opts = append(opts, rcron.WithParser(rcron.NewParser(
			rcron.Minute|rcron.Hour|rcron.Dom|rcron.Month|rcron.Dow|rcron.Descriptor,
		)))
	case SecondsParser:
		opts = append(opts, rcron.WithParser(rcron.NewParser(
			rcron.Second|rcron.Minute|rcron.Hour|rcron.Dom|rcron.Month|rcron.Dow|rcron.Descriptor,
		)))
	}

	opts = append(opts, rcron.WithChain(rcron.Recover(&panicReporter{handler: s.errorHandler})))
	if s.logLevel > LogLevelSilent {
		opts = append(opts, rcron.WithLogger(&cronLogger{logger: s.logger, level: s.logLevel}))
	}
	return opts
}

func (s *Scheduler) String() string {
	return fmt.Sprintf("Scheduler[%d handles]", s.Len())
}
