package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracePipelineStage starts a span for one step of the detection
// pipeline (fetch, analyze, fingerprint, local_match,
// external_recognize, resolve, track), named and attributed the same
// way TraceExternalCall does for outbound provider calls. The returned
// context carries the span; orchestrator.timedStage does not pass it on
// to the stage it wraps, so provider-call spans are not nested under
// the stage span.
func TracePipelineStage(ctx context.Context, stage, stationID string) (context.Context, trace.Span) {
	tracer := otel.Tracer("pipeline")
	ctx, span := tracer.Start(ctx, "pipeline."+stage,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("pipeline.stage", stage),
			attribute.String("station_id", stationID),
		),
	)
	return ctx, span
}

// RecordStageResult closes out a pipeline-stage span.
func RecordStageResult(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
		return
	}
	span.SetStatus(codes.Ok, "")
	span.End()
}
