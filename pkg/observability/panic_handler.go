package observability

import (
	"fmt"
	"runtime/debug"
)

// RecoverPanic logs a recovered panic with its stack. Call it deferred:
//
//	defer observability.RecoverPanic(logger, "read pump")
//
// The panic is swallowed.
func RecoverPanic(logger *Logger, where string) {
	if r := recover(); r != nil {
		logPanic(logger, where, r)
	}
}

// RecoverPanicWithCallback is RecoverPanic followed by onPanic, which runs
// only if a panic was recovered.
func RecoverPanicWithCallback(logger *Logger, where string, onPanic func(recovered interface{})) {
	if r := recover(); r != nil {
		logPanic(logger, where, r)
		if onPanic != nil {
			onPanic(r)
		}
	}
}

// PanicError converts a recovered value to an error, or nil
func PanicError(r interface{}) error {
	if r == nil {
		return nil
	}
	if err, ok := r.(error); ok {
		return fmt.Errorf("panic: %w", err)
	}
	return fmt.Errorf("panic: %v", r)
}

func logPanic(logger *Logger, where string, r interface{}) {
	if logger == nil {
		return
	}
	logger.WithFields(map[string]interface{}{
		"panic": fmt.Sprint(r),
		"stack": string(debug.Stack()),
		"where": where,
	}).Error("panic recovered")
}
