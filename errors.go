package exchange

import (
	stderrors "errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	apperrors "github.com/goliatone/go-errors"
)

const (
	ErrCodeConversion      = "EXCHANGE_CONVERSION_FAILED"
	ErrCodeLifecycle       = "EXCHANGE_LIFECYCLE_FAILED"
	ErrCodeRejected        = "EXCHANGE_REJECTED"
	ErrCodeInterruptedWait = "EXCHANGE_WAIT_INTERRUPTED"
	ErrCodeTimeout         = "EXCHANGE_TIMEOUT"
	ErrCodePanic           = "EXCHANGE_PROCESSOR_PANIC"
	ErrCodeInvalidConfig   = "EXCHANGE_INVALID_CONFIG"
	ErrCodeNoRoute         = "EXCHANGE_NO_ROUTE"
)

var (
	// ErrConversion is raised when a type converter has no path to the target type.
	ErrConversion = apperrors.New("type conversion failed", apperrors.CategoryBadInput).
			WithTextCode(ErrCodeConversion)
	// ErrLifecycle is raised when a start, stop, suspend, resume or shutdown action fails.
	ErrLifecycle = apperrors.New("lifecycle action failed", apperrors.CategoryOperation).
			WithTextCode(ErrCodeLifecycle)
	// ErrRejected is raised when an operation is not allowed in the current state.
	ErrRejected = apperrors.New("operation rejected", apperrors.CategoryConflict).
			WithTextCode(ErrCodeRejected)
	// ErrInterruptedWait is recorded on an exchange whose blocking wait was interrupted.
	ErrInterruptedWait = apperrors.New("blocking wait interrupted", apperrors.CategoryOperation).
				WithTextCode(ErrCodeInterruptedWait)
	// ErrTimeout is recorded on an exchange whose correlated wait ran out of time.
	ErrTimeout = apperrors.New("wait timed out", apperrors.CategoryOperation).
			WithTextCode(ErrCodeTimeout)
	// ErrPanic is recorded on an exchange whose processor panicked.
	ErrPanic = apperrors.New("processor panicked", apperrors.CategoryInternal).
			WithTextCode(ErrCodePanic)
	// ErrInvalidConfig is returned by configuration validation.
	ErrInvalidConfig = apperrors.New("invalid configuration", apperrors.CategoryValidation).
				WithTextCode(ErrCodeInvalidConfig)
	// ErrNoRoute is returned when no endpoint is registered for a URI.
	ErrNoRoute = apperrors.New("no route for uri", apperrors.CategoryNotFound).
			WithTextCode(ErrCodeNoRoute)
)

// CloneError copies a sentinel and attaches a message, a source error and
// metadata. Sentinels are never returned directly so callers can annotate
// them freely; match them with ErrorCode or the Is helpers.
func CloneError(base *apperrors.Error, message string, source error, metadata map[string]any) *apperrors.Error {
	if base == nil {
		base = ErrRejected
	}
	err := base.Clone()
	err.Timestamp = time.Now()
	if text := strings.TrimSpace(message); text != "" {
		err.Message = text
	}
	if source != nil {
		err.Source = source
	}
	if len(metadata) > 0 {
		err = err.WithMetadata(metadata)
	}
	return err
}

// NewConversionError reports that value could not be converted to target.
func NewConversionError(value any, target reflect.Type, cause error) *apperrors.Error {
	return CloneError(ErrConversion,
		fmt.Sprintf("no conversion from %T to %s", value, typeName(target)),
		cause,
		map[string]any{
			"from": fmt.Sprintf("%T", value),
			"to":   typeName(target),
		},
	)
}

// NewLifecycleError reports that action failed on the named service.
func NewLifecycleError(service, action string, cause error) *apperrors.Error {
	return CloneError(ErrLifecycle,
		fmt.Sprintf("%s failed for %s", action, service),
		cause,
		map[string]any{
			"service": service,
			"action":  action,
		},
	)
}

// NewRejectedError reports that operation is not allowed while in state.
func NewRejectedError(service, operation, state string) *apperrors.Error {
	return CloneError(ErrRejected,
		fmt.Sprintf("%s rejected for %s in state %s", operation, service, state),
		nil,
		map[string]any{
			"service":   service,
			"operation": operation,
			"state":     state,
		},
	)
}

// NewInterruptedWaitError reports that the wait for exchangeID was interrupted.
func NewInterruptedWaitError(exchangeID string, cause error) *apperrors.Error {
	return CloneError(ErrInterruptedWait,
		fmt.Sprintf("wait for exchange %q interrupted", exchangeID),
		cause,
		map[string]any{"exchange_id": exchangeID},
	)
}

// NewTimeoutError reports that the wait for exchangeID exceeded timeout.
func NewTimeoutError(exchangeID string, timeout time.Duration) *apperrors.Error {
	return CloneError(ErrTimeout,
		fmt.Sprintf("wait for exchange %q timed out after %s", exchangeID, timeout),
		nil,
		map[string]any{
			"exchange_id": exchangeID,
			"timeout":     timeout.String(),
		},
	)
}

// NewNoRouteError reports that nothing is registered for uri.
func NewNoRouteError(uri string) *apperrors.Error {
	return CloneError(ErrNoRoute,
		fmt.Sprintf("no endpoint registered for %q", uri),
		nil,
		map[string]any{"uri": uri},
	)
}

// ErrorCode returns the text code of the first go-errors error in err's chain.
func ErrorCode(err error) string {
	var ge *apperrors.Error
	if stderrors.As(err, &ge) {
		return ge.TextCode
	}
	return ""
}

func IsConversion(err error) bool      { return ErrorCode(err) == ErrCodeConversion }
func IsLifecycle(err error) bool       { return ErrorCode(err) == ErrCodeLifecycle }
func IsRejected(err error) bool        { return ErrorCode(err) == ErrCodeRejected }
func IsInterruptedWait(err error) bool { return ErrorCode(err) == ErrCodeInterruptedWait }
func IsTimeout(err error) bool         { return ErrorCode(err) == ErrCodeTimeout }
func IsPanic(err error) bool           { return ErrorCode(err) == ErrCodePanic }
func IsNoRoute(err error) bool         { return ErrorCode(err) == ErrCodeNoRoute }

func typeName(t reflect.Type) string {
	if t == nil {
		return "<nil>"
	}
	return t.String()
}
