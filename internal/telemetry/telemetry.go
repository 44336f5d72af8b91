// Package telemetry defines the logging and tracing abstractions used
// across agentcore (SPEC_FULL.md §4.L). Call sites depend on these small
// interfaces, never on zerolog or OpenTelemetry directly, mirroring the
// teacher's own telemetry.Logger/telemetry.Tracer split
// (runtime/agents/telemetry/telemetry.go) — only the concrete backend
// changes, from Clue to zerolog + plain OTEL.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Logger captures structured logging used throughout the runtime. The
// interface is intentionally small so tests can provide lightweight stubs
// instead of a real zerolog sink.
type Logger interface {
	Debug(ctx context.Context, msg string, keyvals ...any)
	Info(ctx context.Context, msg string, keyvals ...any)
	Warn(ctx context.Context, msg string, keyvals ...any)
	Error(ctx context.Context, msg string, keyvals ...any)
}

// Tracer abstracts span creation so runtime code stays agnostic of the
// underlying OpenTelemetry TracerProvider.
type Tracer interface {
	Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span)
	Span(ctx context.Context) Span
}

// Span represents an in-flight tracing span.
type Span interface {
	End(opts ...trace.SpanEndOption)
	AddEvent(name string, attrs ...any)
	SetStatus(code codes.Code, description string)
	RecordError(err error, opts ...trace.EventOption)
}
