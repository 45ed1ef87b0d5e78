// Package errorhandler provides sinks for errors that happen outside a
// processing call: a logging sink, a Sentry sink and a fan-out.
package errorhandler

import (
	"errors"

	exchange "github.com/goliatone/go-exchange"
	apperrors "github.com/goliatone/go-errors"
)

// Logging writes every error to a logger, with its code and category when
// it carries them.
type Logging struct {
	logger exchange.Logger
}

func NewLogging(logger exchange.Logger) *Logging {
	return &Logging{logger: exchange.WithLoggerFields(logger, map[string]any{"component": "exception-handler"})}
}

func (h *Logging) Handle(err error) {
	if err == nil {
		return
	}
	h.withFields(err, nil).Error("unhandled error: %v", err)
}

func (h *Logging) HandleExchange(ex *exchange.Exchange, err error) {
	if err == nil {
		return
	}
	h.withFields(err, ex).Error("exchange %s failed: %v", ex.ID(), err)
}

func (h *Logging) withFields(err error, ex *exchange.Exchange) exchange.Logger {
	fields := errorFields(err)
	if ex != nil {
		fields["exchange_id"] = ex.ID()
		if to, ok := ex.Property(exchange.PropertyToEndpoint); ok {
			fields["endpoint"] = to
		}
	}
	if len(fields) == 0 {
		return h.logger
	}
	return exchange.WithLoggerFields(h.logger, fields)
}

// errorFields extracts code, category and severity from a go-errors error.
func errorFields(err error) map[string]any {
	fields := map[string]any{}
	var ae *apperrors.Error
	if !errors.As(err, &ae) {
		return fields
	}
	if ae.TextCode != "" {
		fields["error_code"] = ae.TextCode
	}
	if ae.Category != "" {
		fields["error_category"] = ae.Category.String()
	}
	fields["severity"] = ae.Severity.String()
	return fields
}

// Multi fans errors out to several handlers in order.
type Multi []exchange.ExceptionHandler

func (m Multi) Handle(err error) {
	for _, h := range m {
		if h != nil {
			h.Handle(err)
		}
	}
}

func (m Multi) HandleExchange(ex *exchange.Exchange, err error) {
	for _, h := range m {
		switch hh := h.(type) {
		case nil:
		case exchange.ExchangeExceptionHandler:
			hh.HandleExchange(ex, err)
		default:
			hh.Handle(err)
		}
	}
}
