package exchange

// ExceptionHandler receives errors that have no exchange to travel on, such
// as failed polls or errors raised while stopping a service.
type ExceptionHandler interface {
	Handle(err error)
}

// ExchangeExceptionHandler is implemented by sinks that can also report the
// exchange an error was recorded on.
type ExchangeExceptionHandler interface {
	ExceptionHandler
	HandleExchange(ex *Exchange, err error)
}

// ExceptionHandlerFunc adapts a plain function to ExceptionHandler.
type ExceptionHandlerFunc func(err error)

func (f ExceptionHandlerFunc) Handle(err error) {
	if f != nil && err != nil {
		f(err)
	}
}

// ReportFailure sends the failure carried by ex to handler, with exchange
// context when the handler supports it. It does nothing when ex has not failed.
func ReportFailure(handler ExceptionHandler, ex *Exchange) {
	if handler == nil || ex == nil || ex.Failure() == nil {
		return
	}
	if h, ok := handler.(ExchangeExceptionHandler); ok {
		h.HandleExchange(ex, ex.Failure())
		return
	}
	handler.Handle(ex.Failure())
}
