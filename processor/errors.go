package processor

import apperrors "github.com/goliatone/go-errors"

const (
	ErrCodeCircuitOpen       = "PROCESSOR_CIRCUIT_OPEN"
	ErrCodePipelineCancelled = "PIPELINE_CANCELLED"
)

// ErrCircuitOpen is recorded on exchanges rejected by an open circuit breaker.
var ErrCircuitOpen = apperrors.New("circuit open", apperrors.CategoryOperation).
	WithTextCode(ErrCodeCircuitOpen)
