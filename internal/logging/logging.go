// Package logging holds the shared slog plumbing of the module: a
// discarding handler and an atomically swappable logger.
package logging

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// nopHandler is a slog.Handler that silently discards all log records.
// Enabled returns false so callers skip message formatting entirely.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

// Nop returns a logger that discards all output.
func Nop() *slog.Logger { return slog.New(nopHandler{}) }

// Holder stores a logger that may be replaced while other goroutines log.
// The zero value logs nothing.
type Holder struct {
	p atomic.Pointer[slog.Logger]
}

// Load returns the current logger.
func (h *Holder) Load() *slog.Logger {
	if l := h.p.Load(); l != nil {
		return l
	}
	return Nop()
}

// Store replaces the logger. nil restores the silent default.
func (h *Holder) Store(l *slog.Logger) {
	if l == nil {
		l = Nop()
	}
	h.p.Store(l)
}
