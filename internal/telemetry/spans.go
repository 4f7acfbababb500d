package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "mediagen"

// StartDispatchSpan starts a span for the initial provider call.
func StartDispatchSpan(ctx context.Context, taskID, adapter string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "dispatch",
		trace.WithAttributes(
			attribute.String("task.id", taskID),
			attribute.String("adapter", adapter),
		),
	)
}

// StartPollSpan starts a span for one provider status check.
func StartPollSpan(ctx context.Context, taskID, providerTaskID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "poll.check",
		trace.WithAttributes(
			attribute.String("task.id", taskID),
			attribute.String("provider_task.id", providerTaskID),
		),
	)
}

// StartUploadSpan starts a span for an object store upload including retries.
func StartUploadSpan(ctx context.Context, key string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "upload",
		trace.WithAttributes(attribute.String("storage.key", key)),
	)
}

// EndSpan records err on span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
