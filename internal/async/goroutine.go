// Package async spawns detached goroutines behind a recovery boundary.
package async

import (
	"runtime/debug"

	"podium/internal/logging"
)

// Go runs fn on its own goroutine, absorbing panics so a detached conductor
// loop or stream feeder can never take the server down. The panic value and
// stack are logged under name.
func Go(logger logging.Logger, name string, fn func()) {
	logger = logging.OrNop(logger)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("panic in %s: %v\n%s", name, r, debug.Stack())
			}
		}()
		fn()
	}()
}
