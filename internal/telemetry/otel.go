package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OtelTracer implements Tracer over the global OpenTelemetry TracerProvider.
// Grounded on the teacher's ClueTracer (runtime/agents/telemetry/clue.go),
// swapping the Clue wiring for a plain otel.Tracer since this repo has no
// Clue dependency to configure it through.
type OtelTracer struct {
	tracer trace.Tracer
}

// NewOtelTracer builds a Tracer named name (conventionally the module
// path), using the process-wide TracerProvider. Configure the provider
// (e.g. via an OTLP exporter) before handlers start creating spans.
func NewOtelTracer(name string) *OtelTracer {
	return &OtelTracer{tracer: otel.Tracer(name)}
}

func (t *OtelTracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span) {
	newCtx, span := t.tracer.Start(ctx, name, opts...)
	return newCtx, otelSpan{span: span}
}

func (t *OtelTracer) Span(ctx context.Context) Span {
	return otelSpan{span: trace.SpanFromContext(ctx)}
}

type otelSpan struct {
	span trace.Span
}

func (s otelSpan) End(opts ...trace.SpanEndOption) { s.span.End(opts...) }

func (s otelSpan) AddEvent(name string, attrs ...any) {
	s.span.AddEvent(name, trace.WithAttributes(anyAttrs(attrs)...))
}

func (s otelSpan) SetStatus(code codes.Code, description string) {
	s.span.SetStatus(code, description)
}

func (s otelSpan) RecordError(err error, opts ...trace.EventOption) {
	s.span.RecordError(err, opts...)
}

// anyAttrs converts variadic key-value pairs (k1, v1, k2, v2, ...) into OTEL
// span-event attributes. Keys that aren't strings, and values of an
// unrecognized type, fall back to their fmt.Sprint representation.
func anyAttrs(keyvals []any) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	for i := 0; i < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			key = fmt.Sprint(keyvals[i])
		}
		var val any
		if i+1 < len(keyvals) {
			val = keyvals[i+1]
		}
		switch v := val.(type) {
		case string:
			attrs = append(attrs, attribute.String(key, v))
		case int:
			attrs = append(attrs, attribute.Int(key, v))
		case int64:
			attrs = append(attrs, attribute.Int64(key, v))
		case float64:
			attrs = append(attrs, attribute.Float64(key, v))
		case bool:
			attrs = append(attrs, attribute.Bool(key, v))
		default:
			attrs = append(attrs, attribute.String(key, fmt.Sprint(v)))
		}
	}
	return attrs
}
