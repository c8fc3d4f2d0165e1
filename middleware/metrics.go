package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/strandhq/loom"
	"github.com/strandhq/loom/agent"
)

// meterName is the instrumentation scope name for loom metrics.
const meterName = "github.com/strandhq/loom"

// Metrics returns middleware that records per-step invocation metrics
// using the global OTel MeterProvider. If no MeterProvider is
// configured, noop instruments are used and this middleware becomes a
// pass-through.
//
// Instruments:
//   - loom.step.duration (Float64Histogram): invocation time in
//     seconds, with attributes: agent, step_id, status ("ok",
//     "transient", "permanent")
//   - loom.step.invocations (Int64Counter): total invocations, with
//     the same attributes
func Metrics() Middleware {
	meter := otel.Meter(meterName)
	return MetricsWithMeter(meter)
}

// MetricsWithMeter returns metrics middleware using the provided meter.
// This variant allows injecting a specific MeterProvider for testing.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// Create instruments once at middleware construction time.
	// OTel instruments are safe for concurrent use. On error, the API
	// returns noop instruments so the middleware degrades gracefully.
	duration, dErr := meter.Float64Histogram(
		"loom.step.duration",
		metric.WithDescription("Duration of step invocation in seconds"),
		metric.WithUnit("s"),
	)
	_ = dErr // noop fallback guaranteed by OTel API contract

	invocations, iErr := meter.Int64Counter(
		"loom.step.invocations",
		metric.WithDescription("Total number of step invocations"),
		metric.WithUnit("{invocation}"),
	)
	_ = iErr // noop fallback guaranteed by OTel API contract

	return func(ctx context.Context, inv *agent.Invocation, next Handler) error {
		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start).Seconds()

		status := "ok"
		if err != nil {
			status = string(loom.KindOf(err))
		}

		attrs := metric.WithAttributes(
			attribute.String("agent", inv.Agent.Name),
			attribute.String("step_id", inv.StepID),
			attribute.String("status", status),
		)

		duration.Record(ctx, elapsed, attrs)
		invocations.Add(ctx, 1, attrs)

		return err
	}
}
