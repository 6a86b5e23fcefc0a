// Package logging wraps log/slog with trace-ID propagation, generalized
// from the teacher's pkg/pyproc/logger.go to the dispatcher's own
// worker/request context instead of a Python-worker ID.
package logging

import (
	"context"
	"log/slog"
	"os"

	"github.com/google/uuid"
)

type traceIDKey struct{}

// Config controls how a Logger renders output.
type Config struct {
	Level        string
	Format       string
	TraceEnabled bool
}

// Logger wraps slog.Logger with trace ID support.
type Logger struct {
	*slog.Logger
	traceEnabled bool
}

// New creates a new Logger with the given configuration.
func New(cfg Config) *Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return &Logger{
		Logger:       slog.New(handler),
		traceEnabled: cfg.TraceEnabled,
	}
}

// WithTraceID stamps a fresh trace ID onto ctx, one per inbound RPC.
func WithTraceID(ctx context.Context) context.Context {
	return context.WithValue(ctx, traceIDKey{}, uuid.New().String())
}

// TraceID retrieves the trace ID stamped by WithTraceID, if any.
func TraceID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(traceIDKey{}).(string)
	return id, ok
}

func (l *Logger) InfoContext(ctx context.Context, msg string, args ...any) {
	l.Logger.InfoContext(ctx, msg, l.withTrace(ctx, args)...)
}

func (l *Logger) ErrorContext(ctx context.Context, msg string, args ...any) {
	l.Logger.ErrorContext(ctx, msg, l.withTrace(ctx, args)...)
}

func (l *Logger) WarnContext(ctx context.Context, msg string, args ...any) {
	l.Logger.WarnContext(ctx, msg, l.withTrace(ctx, args)...)
}

func (l *Logger) DebugContext(ctx context.Context, msg string, args ...any) {
	l.Logger.DebugContext(ctx, msg, l.withTrace(ctx, args)...)
}

func (l *Logger) withTrace(ctx context.Context, args []any) []any {
	if !l.traceEnabled {
		return args
	}
	if id, ok := TraceID(ctx); ok {
		return append([]any{"trace_id", id}, args...)
	}
	return args
}

// WithWorker returns a logger with a worker address attached.
func (l *Logger) WithWorker(address string) *Logger {
	return &Logger{Logger: l.Logger.With("worker_address", address), traceEnabled: l.traceEnabled}
}

// WithComponent returns a logger with a component name attached.
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{Logger: l.Logger.With("component", name), traceEnabled: l.traceEnabled}
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
