// Package obs holds structured logging setup and the request/turn
// instrumentation helpers used across the runtime. Grounded on the
// teacher's own logging choice, used pervasively throughout pkg/: plain
// log/slog with structured attributes, no third-party logging library.
// This is the ambient-stack logging concern this system carries regardless
// of the observability-layer Non-goal (spec.md's Non-goals exclude
// metrics/tracing surfaces, not structured logging).
package obs

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// New builds the process-wide structured logger. format is "json" or
// "text"; level is one of "debug", "info", "warn", "error".
func New(format, level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

// RequestLogger logs one inbound A2A dispatcher call.
func RequestLogger(logger *slog.Logger, method string) func(err error) {
	start := time.Now()
	return func(err error) {
		attrs := []any{"method", method, "duration_ms", time.Since(start).Milliseconds()}
		if err != nil {
			logger.Error("request failed", append(attrs, "error", err.Error())...)
			return
		}
		logger.Info("request completed", attrs...)
	}
}

// TurnLogger logs one turn executor run for a session.
func TurnLogger(logger *slog.Logger, sessionID, taskID string) func(toolCalls int, err error) {
	start := time.Now()
	return func(toolCalls int, err error) {
		attrs := []any{
			"session_id", sessionID,
			"task_id", taskID,
			"duration_ms", time.Since(start).Milliseconds(),
			"tool_calls", toolCalls,
		}
		if err != nil {
			logger.Error("turn failed", append(attrs, "error", err.Error())...)
			return
		}
		logger.Info("turn completed", attrs...)
	}
}

// ctxKey is an unexported type so context values here never collide with
// keys set by other packages.
type ctxKey struct{}

// WithLogger attaches logger to ctx.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// FromContext returns the logger attached to ctx, or slog.Default() if none.
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}
