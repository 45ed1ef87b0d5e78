package scheduler

import (
	"fmt"
	"time"

	exchange "github.com/goliatone/go-exchange"
	"github.com/goliatone/go-exchange/runner"
)

// LogLevel controls how chatty the underlying cron engine is.
type LogLevel int

const (
	LogLevelSilent LogLevel = iota
	LogLevelError
	LogLevelInfo
	LogLevelDebug
)

// Parser selects the accepted cron expression syntax.
type Parser int

const (
	DefaultParser Parser = iota
	StandardParser
	SecondsParser
)

type Option func(*Scheduler)

func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) {
		s.location = loc
	}
}

func WithLogger(logger exchange.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

func WithLogLevel(level LogLevel) Option {
	return func(s *Scheduler) {
		s.logLevel = level
	}
}

// WithErrorHandler receives job failures and recovered job panics.
func WithErrorHandler(handler func(error)) Option {
	return func(s *Scheduler) {
		if handler != nil {
			s.errorHandler = handler
		}
	}
}

func WithParser(p Parser) Option {
	return func(s *Scheduler) {
		s.parser = p
	}
}

// JobConfig describes how a scheduled job runs.
type JobConfig struct {
	// Expression is a cron expression or descriptor such as "@every 1s".
	Expression    string
	MaxRetries    int
	Timeout       time.Duration
	Deadline      time.Time
	RunOnce       bool
	MaxRuns       int
	RetryStrategy runner.RetryStrategy
	Gate          *runner.Gate
}

// Every returns a JobConfig firing at a fixed interval.
func Every(d time.Duration) JobConfig {
	return JobConfig{Expression: fmt.Sprintf("@every %s", d)}
}

// cronLogger adapts the engine logger to robfig/cron's logger.
type cronLogger struct {
	logger exchange.Logger
	level  LogLevel
}

func (l *cronLogger) Info(msg string, keysAndValues ...any) {
	if l.level >= LogLevelInfo {
		l.logger.Debug("cron: %s %v", msg, keysAndValues)
	}
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...any) {
	if l.level >= LogLevelError {
		l.logger.Error("cron: %s %v: %v", msg, keysAndValues, err)
	}
}

// panicReporter forwards panics recovered by the cron chain to the error handler.
type panicReporter struct {
	handler func(error)
}

func (p *panicReporter) Info(string, ...any) {}

func (p *panicReporter) Error(err error, msg string, keysAndValues ...any) {
	if err == nil {
		err = fmt.Errorf("%s %v", msg, keysAndValues)
	}
	p.handler(err)
}
