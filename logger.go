package nbody

import (
	"log/slog"
	"sync"

	"github.com/gogpu/nbody/internal/logging"
)

// logger stores the active logger. Accessed atomically so that SetLogger
// can be called concurrently with logging from any goroutine.
var logger logging.Holder

var (
	openMu sync.Mutex
	open   = make(map[*Simulation]struct{})
)

// SetLogger configures the logger for nbody and the devices of all open
// simulations. By default, nbody produces no log output.
//
// SetLogger is safe for concurrent use. Pass nil to restore the silent
// default.
//
// Log levels used by nbody:
//   - [slog.LevelDebug]: per-frame detail (submissions, delta time)
//   - [slog.LevelInfo]: lifecycle events (queue families, tile size)
//   - [slog.LevelWarn]: non-fatal teardown problems
//   - [slog.LevelError]: aborted frames
//
// Example:
//
//	nbody.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	logger.Store(l)

	openMu.Lock()
	defer openMu.Unlock()
	for s := range open {
		propagateLogger(s.dev, logger.Load())
	}
}

// Logger returns the current logger used by nbody.
func Logger() *slog.Logger {
	return logger.Load()
}

// loggerSetter is implemented by devices that accept a logger.
type loggerSetter interface {
	SetLogger(*slog.Logger)
}

// propagateLogger passes the logger to a device if it implements the
// loggerSetter interface.
func propagateLogger(dev any, l *slog.Logger) {
	if ls, ok := dev.(loggerSetter); ok {
		ls.SetLogger(l)
	}
}

func track(s *Simulation) {
	openMu.Lock()
	open[s] = struct{}{}
	openMu.Unlock()
	propagateLogger(s.dev, logger.Load())
}

func untrack(s *Simulation) {
	openMu.Lock()
	delete(open, s)
	openMu.Unlock()
}
