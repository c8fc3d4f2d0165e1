package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/strandhq/loom/agent"
)

// tracerName is the instrumentation scope name for loom tracing.
const tracerName = "github.com/strandhq/loom"

// Tracing returns middleware that wraps step invocation in an
// OpenTelemetry span. If no TracerProvider is configured globally, the
// default noop tracer is used and this middleware becomes a
// pass-through with zero overhead.
//
// Span attributes include: loom.run.id, loom.workflow.id, loom.step.id,
// loom.agent, loom.attempt. On error, the span status is set to
// codes.Error with the error message.
func Tracing() Middleware {
	tracer := otel.Tracer(tracerName)
	return TracingWithTracer(tracer)
}

// TracingWithTracer returns tracing middleware using the provided
// tracer. This variant allows injecting a specific TracerProvider for
// testing or when multiple providers are in use.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, inv *agent.Invocation, next Handler) error {
		ctx, span := tracer.Start(ctx, "loom.step.invoke",
			trace.WithAttributes(
				attribute.String("loom.run.id", inv.RunID.String()),
				attribute.String("loom.workflow.id", inv.WorkflowID.String()),
				attribute.String("loom.step.id", inv.StepID),
				attribute.String("loom.agent", inv.Agent.Name),
				attribute.Int("loom.attempt", inv.Attempt),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		return err
	}
}
