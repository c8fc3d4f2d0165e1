package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/strandhq/loom/agent"
	"github.com/strandhq/loom/capability"
	"github.com/strandhq/loom/id"
	"github.com/strandhq/loom/workflow"
)

// meterName is the instrumentation scope name for loom metrics.
const meterName = "github.com/strandhq/loom"

// Metrics is a hook that records engine lifecycle metrics.
//
// Instruments:
//   - loom.runs (Int64Counter): terminal runs, by workflow and state
//   - loom.run.duration (Float64Histogram): successful run time in
//     seconds, by workflow
//   - loom.steps (Int64Counter): terminal step outcomes, by workflow
//     and state
//   - loom.step.retries (Int64Counter): retry attempts scheduled, by
//     workflow
//   - loom.trigger.fires (Int64Counter): runs created by triggers
//   - loom.trigger.skips (Int64Counter): trigger occurrences dropped,
//     by reason
//   - loom.capability.transitions (Int64Counter): health state
//     transitions, by previous and current health
//   - loom.agent.transitions (Int64Counter): agent status changes, by
//     status
type Metrics struct {
	runs           metric.Int64Counter
	runDuration    metric.Float64Histogram
	steps          metric.Int64Counter
	stepRetries    metric.Int64Counter
	triggerFires   metric.Int64Counter
	triggerSkips   metric.Int64Counter
	capTransitions metric.Int64Counter
	agtTransitions metric.Int64Counter
}

// NewMetrics builds the hook against the global MeterProvider. Without
// a configured provider the instruments are noops and the hook is a
// pass-through.
func NewMetrics() *Metrics {
	return NewMetricsWithMeter(otel.Meter(meterName))
}

// NewMetricsWithMeter builds the hook against an explicit meter.
func NewMetricsWithMeter(meter metric.Meter) *Metrics {
	m := &Metrics{}

	// On error the OTel API returns noop instruments, so each counter
	// is safe to use unconditionally.
	m.runs, _ = meter.Int64Counter( //nolint:errcheck // noop fallback
		"loom.runs",
		metric.WithDescription("Total runs reaching a terminal state"),
		metric.WithUnit("{run}"),
	)
	m.runDuration, _ = meter.Float64Histogram( //nolint:errcheck // noop fallback
		"loom.run.duration",
		metric.WithDescription("Duration of successful runs in seconds"),
		metric.WithUnit("s"),
	)
	m.steps, _ = meter.Int64Counter( //nolint:errcheck // noop fallback
		"loom.steps",
		metric.WithDescription("Total steps reaching a terminal state"),
		metric.WithUnit("{step}"),
	)
	m.stepRetries, _ = meter.Int64Counter( //nolint:errcheck // noop fallback
		"loom.step.retries",
		metric.WithDescription("Total step retry attempts scheduled"),
		metric.WithUnit("{retry}"),
	)
	m.triggerFires, _ = meter.Int64Counter( //nolint:errcheck // noop fallback
		"loom.trigger.fires",
		metric.WithDescription("Total runs created by triggers"),
		metric.WithUnit("{fire}"),
	)
	m.triggerSkips, _ = meter.Int64Counter( //nolint:errcheck // noop fallback
		"loom.trigger.skips",
		metric.WithDescription("Total trigger occurrences dropped"),
		metric.WithUnit("{skip}"),
	)
	m.capTransitions, _ = meter.Int64Counter( //nolint:errcheck // noop fallback
		"loom.capability.transitions",
		metric.WithDescription("Total capability health state transitions"),
		metric.WithUnit("{transition}"),
	)
	m.agtTransitions, _ = meter.Int64Counter( //nolint:errcheck // noop fallback
		"loom.agent.transitions",
		metric.WithDescription("Total agent status changes"),
		metric.WithUnit("{transition}"),
	)

	return m
}

// Name implements hook.Hook.
func (m *Metrics) Name() string { return "otel-metrics" }

func workflowAttr(r *workflow.Run) attribute.KeyValue {
	return attribute.String("workflow", r.WorkflowID.String())
}

// ── Run lifecycle hooks ─────────────────────────────

func (m *Metrics) OnRunSucceeded(ctx context.Context, r *workflow.Run, elapsed time.Duration) error {
	m.runs.Add(ctx, 1, metric.WithAttributes(
		workflowAttr(r),
		attribute.String("state", string(workflow.RunStateSucceeded)),
	))
	m.runDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(workflowAttr(r)))
	return nil
}

func (m *Metrics) OnRunFailed(ctx context.Context, r *workflow.Run, _ error) error {
	m.runs.Add(ctx, 1, metric.WithAttributes(
		workflowAttr(r),
		attribute.String("state", string(workflow.RunStateFailed)),
	))
	return nil
}

func (m *Metrics) OnRunCancelled(ctx context.Context, r *workflow.Run) error {
	m.runs.Add(ctx, 1, metric.WithAttributes(
		workflowAttr(r),
		attribute.String("state", string(workflow.RunStateCancelled)),
	))
	return nil
}

// ── Step lifecycle hooks ────────────────────────────

func (m *Metrics) OnStepSucceeded(ctx context.Context, r *workflow.Run, _ string, _ time.Duration) error {
	m.countStep(ctx, r, workflow.StepStateSucceeded)
	return nil
}

func (m *Metrics) OnStepFailed(ctx context.Context, r *workflow.Run, _ string, _ error) error {
	m.countStep(ctx, r, workflow.StepStateFailed)
	return nil
}

func (m *Metrics) OnStepSkipped(ctx context.Context, r *workflow.Run, _ string, _ string) error {
	m.countStep(ctx, r, workflow.StepStateSkipped)
	return nil
}

func (m *Metrics) OnStepCancelled(ctx context.Context, r *workflow.Run, _ string) error {
	m.countStep(ctx, r, workflow.StepStateCancelled)
	return nil
}

func (m *Metrics) OnStepRetrying(ctx context.Context, r *workflow.Run, _ string, _ int, _ time.Duration) error {
	m.stepRetries.Add(ctx, 1, metric.WithAttributes(workflowAttr(r)))
	return nil
}

func (m *Metrics) countStep(ctx context.Context, r *workflow.Run, state workflow.StepState) {
	m.steps.Add(ctx, 1, metric.WithAttributes(
		workflowAttr(r),
		attribute.String("state", string(state)),
	))
}

// ── Trigger and registry hooks ──────────────────────

func (m *Metrics) OnTriggerFired(ctx context.Context, _ id.TriggerID, workflowID id.WorkflowID, _ id.RunID) error {
	m.triggerFires.Add(ctx, 1, metric.WithAttributes(
		attribute.String("workflow", workflowID.String()),
	))
	return nil
}

func (m *Metrics) OnTriggerSkipped(ctx context.Context, _ id.TriggerID, workflowID id.WorkflowID, reason string) error {
	m.triggerSkips.Add(ctx, 1, metric.WithAttributes(
		attribute.String("workflow", workflowID.String()),
		attribute.String("reason", reason),
	))
	return nil
}

func (m *Metrics) OnCapabilityHealthChanged(ctx context.Context, srv *capability.Server, previous capability.Health) error {
	m.capTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("capability", srv.Name),
		attribute.String("from", string(previous)),
		attribute.String("to", string(srv.Health)),
	))
	return nil
}

func (m *Metrics) OnAgentStatusChanged(ctx context.Context, a *agent.Agent) error {
	m.agtTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("agent", a.Name),
		attribute.String("status", string(a.Status)),
	))
	return nil
}
