package exchange

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"
)

// PanicLogger receives a recovered panic with a trimmed stack.
type PanicLogger func(name string, recovered any, stack []byte, fields map[string]any)

// LoggerPanicLogger reports panics through logger at error level.
func LoggerPanicLogger(logger Logger) PanicLogger {
	logger = NormalizeLogger(logger)
	return func(name string, recovered any, stack []byte, fields map[string]any) {
		WithLoggerFields(logger, fields).Error("recovered from panic in %s: %v\n%s", name, recovered, stack)
	}
}

// MakePanicHandler returns a function to defer around stage code. A panic is
// logged and recorded on ex as a failure, so the continuation still runs.
//
//	defer handle("my-stage", ex)
func MakePanicHandler(logger PanicLogger) func(name string, ex *Exchange) {
	return func(name string, ex *Exchange) {
		recovered := recover()
		if recovered == nil {
			return
		}
		stack := make([]byte, 8096)
		stack = cleanStackTrace(stack[:runtime.Stack(stack, false)])

		fields := map[string]any{"stage": name}
		if ex != nil {
			fields["exchange_id"] = ex.ID()
		}
		if logger != nil {
			logger(name, recovered, stack, fields)
		}
		if ex != nil {
			ex.SetFailure(PanicError(name, recovered))
		}
	}
}

// PanicError converts a recovered value into an error coded EXCHANGE_PROCESSOR_PANIC.
func PanicError(name string, recovered any) error {
	var source error
	if err, ok := recovered.(error); ok {
		source = err
	}
	return CloneError(ErrPanic,
		fmt.Sprintf("panic in %s: %v", name, recovered),
		source,
		map[string]any{"stage": name, "panic_type": fmt.Sprintf("%T", recovered)},
	)
}

func cleanStackTrace(stack []byte) []byte {
	lines := strings.Split(string(stack), "\n")

	panicLine := -1
	for i, line := range lines {
		if strings.Contains(line, "panic(") {
			panicLine = i
			break
		}
	}
	// drop the runtime frames up to and including panic() and its file line
	if panicLine >= 0 && panicLine+2 < len(lines) {
		lines = lines[panicLine+2:]
	}
	return []byte(strings.Join(lines, "\n"))
}

// GoroutineID parses the current goroutine id out of the runtime stack
// header. It is meant for diagnostics only.
func GoroutineID() uint64 {
	buf := make([]byte, 64)
	buf = buf[:runtime.Stack(buf, false)]
	fields := strings.Fields(strings.TrimPrefix(string(buf), "goroutine "))
	if len(fields) == 0 {
		return 0
	}
	id, _ := strconv.ParseUint(fields[0], 10, 64)
	return id
}
