package vortex

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/gogpu/vortex/pipeline"
	"github.com/gogpu/vortex/shader"
)

// nopHandler is a slog.Handler that silently discards all log records.
// The Enabled method returns false so the caller skips message formatting
// entirely, making disabled logging effectively zero-cost.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

// newNopLogger creates a logger that silently discards all output.
func newNopLogger() *slog.Logger { return slog.New(nopHandler{}) }

// loggerPtr stores the active logger. Accessed atomically so that
// SetLogger can be called concurrently with logging from any goroutine.
var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	loggerPtr.Store(newNopLogger())
}

// SetLogger configures the logger for vortex and its sub-packages.
// By default, vortex produces no log output.
//
// SetLogger is safe for concurrent use: it stores the new logger
// atomically. Pass nil to disable logging.
//
// Log levels used:
//   - [slog.LevelDebug]: per-variant compile and cache decisions
//   - [slog.LevelInfo]: lifecycle events (backend selected, batch done)
//   - [slog.LevelWarn]: non-fatal issues (self-validation findings,
//     bytecode release on a non-resident shader)
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = newNopLogger()
	}
	loggerPtr.Store(l)
	shader.SetLogger(l)
	pipeline.SetLogger(l)
}

// Logger returns the current logger used by vortex.
func Logger() *slog.Logger {
	return loggerPtr.Load()
}
