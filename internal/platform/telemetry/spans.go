package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "gradeflow"

// StartRunSpan starts a span for one orchestrated run.
func StartRunSpan(ctx context.Context, taskID, activityID string, students int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "pipeline.run",
		trace.WithAttributes(
			attribute.String("task.id", taskID),
			attribute.String("activity.id", activityID),
			attribute.Int("students", students),
		),
	)
}

// StartStageSpan starts a span for one stage of one student.
func StartStageSpan(ctx context.Context, stage, studentID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "pipeline.stage",
		trace.WithAttributes(
			attribute.String("stage", stage),
			attribute.String("student.id", studentID),
		),
	)
}

// StartLLMSpan starts a span around a retried AI call.
func StartLLMSpan(ctx context.Context, model, promptID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "llm.call",
		trace.WithAttributes(
			attribute.String("llm.model", model),
			attribute.String("llm.prompt_id", promptID),
		),
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
