package hook

import (
	"context"
	"time"

	"github.com/strandhq/loom/agent"
	"github.com/strandhq/loom/capability"
	"github.com/strandhq/loom/id"
	"github.com/strandhq/loom/workflow"
)

// Hook is the base interface all hooks must implement.
type Hook interface {
	// Name returns a unique human-readable name for the hook.
	Name() string
}

// ──────────────────────────────────────────────────
// Run lifecycle hooks
// ──────────────────────────────────────────────────

// RunStarted is called when a worker begins executing a run.
type RunStarted interface {
	OnRunStarted(ctx context.Context, r *workflow.Run) error
}

// RunSucceeded is called after a run finishes successfully.
type RunSucceeded interface {
	OnRunSucceeded(ctx context.Context, r *workflow.Run, elapsed time.Duration) error
}

// RunFailed is called when a run fails terminally.
type RunFailed interface {
	OnRunFailed(ctx context.Context, r *workflow.Run, err error) error
}

// RunCancelled is called when a run reaches the cancelled state.
type RunCancelled interface {
	OnRunCancelled(ctx context.Context, r *workflow.Run) error
}

// ──────────────────────────────────────────────────
// Step lifecycle hooks
// ──────────────────────────────────────────────────

// StepStarted is called when a step attempt is dispatched.
type StepStarted interface {
	OnStepStarted(ctx context.Context, r *workflow.Run, stepID string, attempt int) error
}

// StepSucceeded is called after a step completes successfully.
type StepSucceeded interface {
	OnStepSucceeded(ctx context.Context, r *workflow.Run, stepID string, elapsed time.Duration) error
}

// StepFailed is called when a step fails terminally (no more retries).
type StepFailed interface {
	OnStepFailed(ctx context.Context, r *workflow.Run, stepID string, err error) error
}

// StepSkipped is called when a step is skipped because a non-optional
// dependency failed.
type StepSkipped interface {
	OnStepSkipped(ctx context.Context, r *workflow.Run, stepID string, reason string) error
}

// StepCancelled is called when a pending or in-flight step is cancelled
// along with its run.
type StepCancelled interface {
	OnStepCancelled(ctx context.Context, r *workflow.Run, stepID string) error
}

// StepRetrying is called when a step fails transiently and is scheduled
// for another attempt.
type StepRetrying interface {
	OnStepRetrying(ctx context.Context, r *workflow.Run, stepID string, attempt int, delay time.Duration) error
}

// ──────────────────────────────────────────────────
// Trigger, registry, and lifecycle hooks
// ──────────────────────────────────────────────────

// TriggerFired is called when a trigger occurrence creates a run.
type TriggerFired interface {
	OnTriggerFired(ctx context.Context, triggerID id.TriggerID, workflowID id.WorkflowID, runID id.RunID) error
}

// TriggerSkipped is called when a trigger occurrence is dropped, e.g.
// by the skip-if-busy policy.
type TriggerSkipped interface {
	OnTriggerSkipped(ctx context.Context, triggerID id.TriggerID, workflowID id.WorkflowID, reason string) error
}

// CapabilityHealthChanged is called when a probe moves a capability
// server between health states.
type CapabilityHealthChanged interface {
	OnCapabilityHealthChanged(ctx context.Context, srv *capability.Server, previous capability.Health) error
}

// AgentStatusChanged is called when an agent is activated or
// deactivated.
type AgentStatusChanged interface {
	OnAgentStatusChanged(ctx context.Context, a *agent.Agent) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
