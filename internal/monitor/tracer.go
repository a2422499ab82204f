package monitor

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/sakif/pyrelay"

// Tracer wraps the global OpenTelemetry TracerProvider. With no provider
// installed the spans are no-ops.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a Tracer.
func NewTracer() *Tracer {
	return &Tracer{tracer: otel.Tracer(tracerName)}
}

// StartSpan starts a span named "pyrelay.<name>".
func (t *Tracer) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "pyrelay."+name, trace.WithAttributes(attrs...))
}

// EndSpan records the terminal state on span and ends it. A non-empty
// faultMsg marks the span as errored.
func EndSpan(span trace.Span, state, faultMsg string) {
	span.SetAttributes(AttrState.String(state))
	if faultMsg != "" {
		span.SetStatus(codes.Error, faultMsg)
	}
	span.End()
}

// Attribute keys.
var (
	AttrExecID    = attribute.Key("pyrelay.execution.id")
	AttrSessionID = attribute.Key("pyrelay.session.id")
	AttrVariant   = attribute.Key("pyrelay.variant")
	AttrState     = attribute.Key("pyrelay.state")
	AttrCodeBytes = attribute.Key("pyrelay.code_bytes")
)
