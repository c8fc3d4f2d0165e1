package activity

import (
	"context"
	"fmt"
	"time"

	"github.com/strandhq/loom/agent"
	"github.com/strandhq/loom/capability"
	"github.com/strandhq/loom/hook"
	"github.com/strandhq/loom/id"
	"github.com/strandhq/loom/workflow"
)

// Compile-time interface checks.
var (
	_ hook.Hook                    = (*Hook)(nil)
	_ hook.RunStarted              = (*Hook)(nil)
	_ hook.RunSucceeded            = (*Hook)(nil)
	_ hook.RunFailed               = (*Hook)(nil)
	_ hook.RunCancelled            = (*Hook)(nil)
	_ hook.StepStarted             = (*Hook)(nil)
	_ hook.StepSucceeded           = (*Hook)(nil)
	_ hook.StepFailed              = (*Hook)(nil)
	_ hook.StepSkipped             = (*Hook)(nil)
	_ hook.StepCancelled           = (*Hook)(nil)
	_ hook.StepRetrying            = (*Hook)(nil)
	_ hook.TriggerFired            = (*Hook)(nil)
	_ hook.TriggerSkipped          = (*Hook)(nil)
	_ hook.CapabilityHealthChanged = (*Hook)(nil)
	_ hook.AgentStatusChanged      = (*Hook)(nil)
)

// Hook bridges lifecycle events to the activity Recorder. Every hook
// emits one entry with severity assigned by action.
type Hook struct {
	recorder *Recorder
	enabled  map[string]bool // nil = all enabled
}

// Option configures a Hook.
type Option func(*Hook)

// WithActions restricts the hook to record only the listed actions.
// By default every action is recorded. Unknown actions are silently
// ignored.
func WithActions(actions ...string) Option {
	return func(h *Hook) {
		h.enabled = make(map[string]bool, len(actions))
		for _, a := range actions {
			h.enabled[a] = true
		}
	}
}

// NewHook creates a Hook that records through the given Recorder.
func NewHook(recorder *Recorder, opts ...Option) *Hook {
	h := &Hook{recorder: recorder}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Name implements hook.Hook.
func (h *Hook) Name() string { return "activity-recorder" }

// ── Run lifecycle hooks ─────────────────────────────

func (h *Hook) OnRunStarted(ctx context.Context, r *workflow.Run) error {
	h.record(ctx, ActionRunStarted, SeverityInfo, OutcomeSuccess,
		ResourceRun, r.ID.String(), nil,
		"workflow_id", r.WorkflowID.String(),
		"workflow_name", r.WorkflowName,
		"source", string(r.Source),
	)
	return nil
}

func (h *Hook) OnRunSucceeded(ctx context.Context, r *workflow.Run, elapsed time.Duration) error {
	h.record(ctx, ActionRunSucceeded, SeverityInfo, OutcomeSuccess,
		ResourceRun, r.ID.String(), nil,
		"workflow_id", r.WorkflowID.String(),
		"workflow_name", r.WorkflowName,
		"elapsed_ms", elapsed.Milliseconds(),
	)
	return nil
}

func (h *Hook) OnRunFailed(ctx context.Context, r *workflow.Run, runErr error) error {
	h.record(ctx, ActionRunFailed, SeverityCritical, OutcomeFailure,
		ResourceRun, r.ID.String(), runErr,
		"workflow_id", r.WorkflowID.String(),
		"workflow_name", r.WorkflowName,
	)
	return nil
}

func (h *Hook) OnRunCancelled(ctx context.Context, r *workflow.Run) error {
	h.record(ctx, ActionRunCancelled, SeverityWarning, OutcomeSuccess,
		ResourceRun, r.ID.String(), nil,
		"workflow_id", r.WorkflowID.String(),
		"workflow_name", r.WorkflowName,
	)
	return nil
}

// ── Step lifecycle hooks ────────────────────────────

func (h *Hook) OnStepStarted(ctx context.Context, r *workflow.Run, stepID string, attempt int) error {
	h.record(ctx, ActionStepStarted, SeverityInfo, OutcomeSuccess,
		ResourceRun, r.ID.String(), nil,
		"step_id", stepID,
		"attempt", attempt,
	)
	return nil
}

func (h *Hook) OnStepSucceeded(ctx context.Context, r *workflow.Run, stepID string, elapsed time.Duration) error {
	h.record(ctx, ActionStepSucceeded, SeverityInfo, OutcomeSuccess,
		ResourceRun, r.ID.String(), nil,
		"step_id", stepID,
		"elapsed_ms", elapsed.Milliseconds(),
	)
	return nil
}

func (h *Hook) OnStepFailed(ctx context.Context, r *workflow.Run, stepID string, stepErr error) error {
	h.record(ctx, ActionStepFailed, SeverityCritical, OutcomeFailure,
		ResourceRun, r.ID.String(), stepErr,
		"step_id", stepID,
	)
	return nil
}

func (h *Hook) OnStepSkipped(ctx context.Context, r *workflow.Run, stepID string, reason string) error {
	h.record(ctx, ActionStepSkipped, SeverityWarning, OutcomeSuccess,
		ResourceRun, r.ID.String(), nil,
		"step_id", stepID,
		"reason", reason,
	)
	return nil
}

func (h *Hook) OnStepCancelled(ctx context.Context, r *workflow.Run, stepID string) error {
	h.record(ctx, ActionStepCancelled, SeverityWarning, OutcomeSuccess,
		ResourceRun, r.ID.String(), nil,
		"step_id", stepID,
	)
	return nil
}

func (h *Hook) OnStepRetrying(ctx context.Context, r *workflow.Run, stepID string, attempt int, delay time.Duration) error {
	h.record(ctx, ActionStepRetrying, SeverityWarning, OutcomeFailure,
		ResourceRun, r.ID.String(), nil,
		"step_id", stepID,
		"attempt", attempt,
		"delay_ms", delay.Milliseconds(),
	)
	return nil
}

// ── Trigger hooks ───────────────────────────────────

func (h *Hook) OnTriggerFired(ctx context.Context, triggerID id.TriggerID, workflowID id.WorkflowID, runID id.RunID) error {
	h.record(ctx, ActionTriggerFired, SeverityInfo, OutcomeSuccess,
		ResourceTrigger, triggerID.String(), nil,
		"workflow_id", workflowID.String(),
		"run_id", runID.String(),
	)
	return nil
}

func (h *Hook) OnTriggerSkipped(ctx context.Context, triggerID id.TriggerID, workflowID id.WorkflowID, reason string) error {
	h.record(ctx, ActionTriggerSkipped, SeverityWarning, OutcomeSuccess,
		ResourceTrigger, triggerID.String(), nil,
		"workflow_id", workflowID.String(),
		"reason", reason,
	)
	return nil
}

// ── Registry hooks ──────────────────────────────────

func (h *Hook) OnCapabilityHealthChanged(ctx context.Context, srv *capability.Server, previous capability.Health) error {
	severity := SeverityInfo
	if srv.Health == capability.HealthUnreachable {
		severity = SeverityCritical
	} else if srv.Health == capability.HealthDegraded {
		severity = SeverityWarning
	}
	h.record(ctx, ActionCapabilityHealth, severity, OutcomeSuccess,
		ResourceCapability, srv.ID.String(), nil,
		"name", srv.Name,
		"health", string(srv.Health),
		"previous", string(previous),
	)
	return nil
}

func (h *Hook) OnAgentStatusChanged(ctx context.Context, a *agent.Agent) error {
	h.record(ctx, ActionAgentState, SeverityInfo, OutcomeSuccess,
		ResourceAgent, a.ID.String(), nil,
		"name", a.Name,
		"status", string(a.Status),
	)
	return nil
}

// ── Internal helpers ────────────────────────────────

// record builds and appends an entry if the action is enabled. The
// kvPairs argument is a list of key-value pairs added to Metadata.
func (h *Hook) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID string,
	err error,
	kvPairs ...any,
) {
	if h.enabled != nil && !h.enabled[action] {
		return
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	h.recorder.Record(ctx, &Entry{
		Action:     action,
		Resource:   resource,
		ResourceID: resourceID,
		Severity:   severity,
		Outcome:    outcome,
		Reason:     reason,
		Metadata:   meta,
	})
}
