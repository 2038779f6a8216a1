package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StartSpan creates an internal span with the given name and attributes.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// SetSpanError marks the span as errored.
func SetSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// Attribute keys for pool spans.
var (
	AttrPoolName      = attribute.Key("pulsar.pool.name")
	AttrConfigName    = attribute.Key("pulsar.config.name")
	AttrCommandID     = attribute.Key("pulsar.command.id")
	AttrHostCommandID = attribute.Key("pulsar.host_command.id")
	AttrExitCode      = attribute.Key("pulsar.exit_code")
	AttrPooled        = attribute.Key("pulsar.pooled")
)
