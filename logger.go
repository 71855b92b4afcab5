package scribble

import (
	"io"
	"sync/atomic"

	"github.com/charmbracelet/log"
)

// loggerPtr stores the package default logger. Accessed atomically so
// SetLogger can race with Open calls on other goroutines.
var loggerPtr atomic.Pointer[log.Logger]

func init() {
	loggerPtr.Store(log.New(io.Discard))
}

// SetLogger configures the logger used by readers opened without an
// explicit one. By default the package produces no log output. Pass
// nil to restore the silent default.
//
// Log levels used:
//   - Debug: per-chapter render details
//   - Info: book open and lifecycle events
//   - Warn: recoverable content problems (bad images, toc entries
//     outside the spine)
//   - Error: failed renders
func SetLogger(l *log.Logger) {
	if l == nil {
		l = log.New(io.Discard)
	}
	loggerPtr.Store(l)
}

// Logger returns the current package default logger.
func Logger() *log.Logger {
	return loggerPtr.Load()
}
