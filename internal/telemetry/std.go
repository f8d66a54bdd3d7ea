package telemetry

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// StdLogger delegates to log/slog, writing JSON lines. It backs
// KLENDATHU_TRACE diagnostics (spec.md §6): when enabled, every package-level
// default logger obtained via Default() writes to ${HOME}/.klendathu/trace.log
// instead of discarding messages.
type StdLogger struct {
	log *slog.Logger
}

// NewStdLogger constructs a Logger that writes structured JSON lines via the
// given slog.Logger.
func NewStdLogger(log *slog.Logger) Logger { return StdLogger{log: log} }

func (l StdLogger) Debug(ctx context.Context, msg string, attrs ...KV) {
	l.log.DebugContext(ctx, msg, toSlogArgs(attrs)...)
}

func (l StdLogger) Info(ctx context.Context, msg string, attrs ...KV) {
	l.log.InfoContext(ctx, msg, toSlogArgs(attrs)...)
}

func (l StdLogger) Warn(ctx context.Context, msg string, attrs ...KV) {
	l.log.WarnContext(ctx, msg, toSlogArgs(attrs)...)
}

func (l StdLogger) Error(ctx context.Context, msg string, attrs ...KV) {
	l.log.ErrorContext(ctx, msg, toSlogArgs(attrs)...)
}

func toSlogArgs(attrs []KV) []any {
	out := make([]any, 0, len(attrs)*2)
	for _, a := range attrs {
		out = append(out, a.Key, a.Value)
	}
	return out
}

var (
	defaultOnce   sync.Once
	defaultLogger Logger
	traceFile     *os.File
)

// Default returns the package-wide default logger. It is a NoopLogger unless
// KLENDATHU_TRACE is "1" or "true", in which case it writes JSON lines to
// ${HOME}/.klendathu/trace.log. Failures to open the trace file are swallowed
// and fall back to a NoopLogger, matching the cache store's best-effort,
// errors-swallowed persistence policy (spec.md §4.4).
func Default() Logger {
	defaultOnce.Do(func() {
		defaultLogger = NewNoopLogger()
		v := os.Getenv("KLENDATHU_TRACE")
		if v != "1" && v != "true" {
			return
		}
		home, err := os.UserHomeDir()
		if err != nil {
			return
		}
		dir := filepath.Join(home, ".klendathu")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return
		}
		f, err := os.OpenFile(filepath.Join(dir, "trace.log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return
		}
		traceFile = f
		handler := slog.NewJSONHandler(f, &slog.HandlerOptions{Level: slog.LevelDebug})
		defaultLogger = NewStdLogger(slog.New(handler))
	})
	return defaultLogger
}
