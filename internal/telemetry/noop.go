package telemetry

import (
	"context"
	"time"
)

// NoopLogger discards every log message. It is the default when no logger is
// configured.
type NoopLogger struct{}

// NewNoopLogger constructs a Logger that discards all log messages.
func NewNoopLogger() Logger { return NoopLogger{} }

func (NoopLogger) Debug(context.Context, string, ...KV) {}
func (NoopLogger) Info(context.Context, string, ...KV)  {}
func (NoopLogger) Warn(context.Context, string, ...KV)  {}
func (NoopLogger) Error(context.Context, string, ...KV) {}

// NoopTracer creates spans that record nothing.
type NoopTracer struct{}

// NewNoopTracer constructs a Tracer that discards all spans.
func NewNoopTracer() Tracer { return NoopTracer{} }

func (NoopTracer) Start(ctx context.Context, _ string, _ ...KV) (context.Context, Span) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) End()                  {}
func (noopSpan) AddEvent(string, ...KV) {}
func (noopSpan) SetError(error)        {}

// NoopMetrics discards every metric. It is klendathu's only Metrics
// implementation; see Metrics' doc comment.
type NoopMetrics struct{}

// NewNoopMetrics constructs a Metrics recorder that discards all metrics.
func NewNoopMetrics() Metrics { return NoopMetrics{} }

func (NoopMetrics) IncCounter(string, float64, ...string)        {}
func (NoopMetrics) RecordTimer(string, time.Duration, ...string) {}
func (NoopMetrics) RecordGauge(string, float64, ...string)       {}
