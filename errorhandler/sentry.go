package errorhandler

import (
	"errors"
	"time"

	"github.com/getsentry/sentry-go"
	exchange "github.com/goliatone/go-exchange"
	apperrors "github.com/goliatone/go-errors"
)

// DefaultFlushTimeout bounds Flush.
const DefaultFlushTimeout = 2 * time.Second

// Sentry reports errors to Sentry. go-errors codes and categories become
// tags and their metadata becomes event context.
type Sentry struct {
	hub          *sentry.Hub
	tags         map[string]string
	flushTimeout time.Duration
}

type SentryOption func(*Sentry)

// WithTag adds a tag to every event.
func WithTag(key, value string) SentryOption {
	return func(s *Sentry) {
		s.tags[key] = value
	}
}

func WithFlushTimeout(d time.Duration) SentryOption {
	return func(s *Sentry) {
		if d > 0 {
			s.flushTimeout = d
		}
	}
}

// NewSentry reports through hub. A nil hub uses the current hub.
func NewSentry(hub *sentry.Hub, opts ...SentryOption) *Sentry {
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	s := &Sentry{
		hub:          hub,
		tags:         map[string]string{},
		flushTimeout: DefaultFlushTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// NewSentryClient builds a dedicated client and hub from options.
func NewSentryClient(options sentry.ClientOptions, opts ...SentryOption) (*Sentry, error) {
	client, err := sentry.NewClient(options)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CategoryExternal, "create sentry client").
			WithTextCode("SENTRY_CLIENT_FAILED")
	}
	return NewSentry(sentry.NewHub(client, sentry.NewScope()), opts...), nil
}

func (s *Sentry) Handle(err error) {
	s.capture(nil, err)
}

func (s *Sentry) HandleExchange(ex *exchange.Exchange, err error) {
	s.capture(ex, err)
}

// Flush waits for buffered events to be sent.
func (s *Sentry) Flush() bool {
	return s.hub.Flush(s.flushTimeout)
}

func (s *Sentry) capture(ex *exchange.Exchange, err error) {
	if err == nil {
		return
	}
	s.hub.WithScope(func(scope *sentry.Scope) {
		for k, v := range s.tags {
			scope.SetTag(k, v)
		}
		scope.SetLevel(sentry.LevelError)

		var ae *apperrors.Error
		if errors.As(err, &ae) {
			if ae.TextCode != "" {
				scope.SetTag("error_code", ae.TextCode)
			}
			if ae.Category != "" {
				scope.SetTag("error_category", ae.Category.String())
			}
			scope.SetLevel(levelFor(ae.Severity))
			if len(ae.Metadata) > 0 {
				scope.SetContext("error", sentry.Context(ae.Metadata))
			}
		}
		if ex != nil {
			scope.SetTag("exchange_id", ex.ID())
			scope.SetContext("exchange", sentry.Context{
				"id":         ex.ID(),
				"pattern":    ex.Pattern().String(),
				"properties": ex.Properties(),
			})
		}
		s.hub.CaptureException(err)
	})
}

func levelFor(sev apperrors.Severity) sentry.Level {
	switch {
	case sev >= apperrors.SeverityFatal:
		return sentry.LevelFatal
	case sev == apperrors.SeverityWarning:
		return sentry.LevelWarning
	default:
		return sentry.LevelError
	}
}
