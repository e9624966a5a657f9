// Package recovery guards the core's single cooperative execution context:
// a panicking bus handler, timer callback, or host operation must not take
// the whole transmitter or receiver down with it.
package recovery

import (
	"fmt"
	"log/slog"
	"runtime/debug"
)

// RecoverWithLog recovers from a panic and logs it with the given logger.
// Defer it at the top of any function invoked indirectly through a bus
// subscription or scheduler callback.
//
// Example:
//
//	defer recovery.RecoverWithLog(logger, "receiver.dispatchFrame")
func RecoverWithLog(logger *slog.Logger, site string) {
	if r := recover(); r != nil {
		logger.Error("panic recovered",
			"site", site,
			"panic", fmt.Sprintf("%v", r),
			"stack", string(debug.Stack()))
	}
}

// Guard runs fn, recovering and logging any panic rather than letting it
// propagate. It reports whether fn completed without panicking, which
// callers use to decide whether a dispatched callback ran to completion.
func Guard(logger *slog.Logger, site string, fn func()) (completed bool) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic recovered",
				"site", site,
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()))
			completed = false
		}
	}()
	fn()
	return true
}
