// Package telemetry provides the small logging/tracing surface shared across
// klendathu's packages. It mirrors the Logger/Metrics/Tracer shape of the
// runtime it was adapted from, scaled down to a single-process library: no
// OTEL exporter wiring, just enough structure that call sites never format
// strings by hand and a trace sink can be swapped in without touching them.
package telemetry

import (
	"context"
	"time"
)

// Logger captures structured logging used throughout klendathu. The interface
// is intentionally small so tests can supply lightweight stubs.
type Logger interface {
	Debug(ctx context.Context, msg string, attrs ...KV)
	Info(ctx context.Context, msg string, attrs ...KV)
	Warn(ctx context.Context, msg string, attrs ...KV)
	Error(ctx context.Context, msg string, attrs ...KV)
}

// Metrics exposes counter/timer/gauge helpers for runtime instrumentation,
// mirroring the teacher's Metrics shape. klendathu has no metrics backend to
// wire (see DESIGN.md), so NoopMetrics is the only implementation; the
// interface exists for ambient-stack parity with Logger and Tracer.
type Metrics interface {
	IncCounter(name string, value float64, tags ...string)
	RecordTimer(name string, duration time.Duration, tags ...string)
	RecordGauge(name string, value float64, tags ...string)
}

// Tracer abstracts span creation so callers can remain agnostic of the
// underlying tracing backend, if any.
type Tracer interface {
	Start(ctx context.Context, name string, attrs ...KV) (context.Context, Span)
}

// Span represents an in-flight trace span.
type Span interface {
	End()
	AddEvent(name string, attrs ...KV)
	SetError(err error)
}

// KV is a single structured attribute attached to a log line or span event.
type KV struct {
	Key   string
	Value any
}

// Attr constructs a KV pair. Kept short because call sites build several
// per statement.
func Attr(key string, value any) KV { return KV{Key: key, Value: value} }

// Elapsed is a convenience KV for recording a duration in milliseconds.
func Elapsed(d time.Duration) KV { return KV{Key: "elapsed_ms", Value: d.Milliseconds()} }
