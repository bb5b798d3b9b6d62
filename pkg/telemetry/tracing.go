package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Uses the global OTel tracer provider.
var tracer = otel.Tracer("agentflow")

// StartSpan starts an internal span for one editor operation, such as a
// flush, a chat send or a backend call.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, "agentflow."+name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartClientSpan starts a span for an outgoing backend request.
func StartClientSpan(ctx context.Context, method, path string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "backend "+method+" "+path,
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("url.path", path),
		),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// EndSpan completes a span, recording err when non-nil.
func EndSpan(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
