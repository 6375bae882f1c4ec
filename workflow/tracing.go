package workflow

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/c360studio/legion/workflow"

// startWorkflowSpan starts a span for a workflow run.
func startWorkflowSpan(ctx context.Context, w *Instance) (context.Context, trace.Span) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "workflow.run")
	span.SetAttributes(
		attribute.String("workflow.id", w.ID),
		attribute.String("workflow.chat_id", w.ChatID),
		attribute.Int("workflow.questions", len(w.Mission.Questions)),
	)
	return ctx, span
}

// startStepSpan starts a span for one dispatched task.
func startStepSpan(ctx context.Context, step, agentName string) (context.Context, trace.Span) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "step."+step)
	span.SetAttributes(
		attribute.String("step.name", step),
		attribute.String("step.agent", agentName),
	)
	return ctx, span
}

// endSpan records the outcome and ends the span.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
