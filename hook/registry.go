package hook

import (
	"context"
	"log/slog"
	"time"

	"github.com/strandhq/loom/agent"
	"github.com/strandhq/loom/capability"
	"github.com/strandhq/loom/id"
	"github.com/strandhq/loom/workflow"
)

// Named entry types pair a hook implementation with the hook name
// captured at registration time. This avoids type-asserting back to
// Hook inside the emit methods.
type runStartedEntry struct {
	name string
	hook RunStarted
}

type runSucceededEntry struct {
	name string
	hook RunSucceeded
}

type runFailedEntry struct {
	name string
	hook RunFailed
}

type runCancelledEntry struct {
	name string
	hook RunCancelled
}

type stepStartedEntry struct {
	name string
	hook StepStarted
}

type stepSucceededEntry struct {
	name string
	hook StepSucceeded
}

type stepFailedEntry struct {
	name string
	hook StepFailed
}

type stepSkippedEntry struct {
	name string
	hook StepSkipped
}

type stepCancelledEntry struct {
	name string
	hook StepCancelled
}

type stepRetryingEntry struct {
	name string
	hook StepRetrying
}

type triggerFiredEntry struct {
	name string
	hook TriggerFired
}

type triggerSkippedEntry struct {
	name string
	hook TriggerSkipped
}

type capabilityHealthEntry struct {
	name string
	hook CapabilityHealthChanged
}

type agentStatusEntry struct {
	name string
	hook AgentStatusChanged
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered hooks and dispatches lifecycle events to
// them. It type-caches hooks at registration time so emit calls iterate
// only over hooks that implement the relevant event.
type Registry struct {
	hooks  []Hook
	logger *slog.Logger

	// Type-cached slices for each lifecycle event.
	runStarted       []runStartedEntry
	runSucceeded     []runSucceededEntry
	runFailed        []runFailedEntry
	runCancelled     []runCancelledEntry
	stepStarted      []stepStartedEntry
	stepSucceeded    []stepSucceededEntry
	stepFailed       []stepFailedEntry
	stepSkipped      []stepSkippedEntry
	stepCancelled    []stepCancelledEntry
	stepRetrying     []stepRetryingEntry
	triggerFired     []triggerFiredEntry
	triggerSkipped   []triggerSkippedEntry
	capabilityHealth []capabilityHealthEntry
	agentStatus      []agentStatusEntry
	shutdown         []shutdownEntry
}

// NewRegistry creates a hook registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger}
}

// Register adds a hook and type-asserts it into all applicable event
// caches. Hooks are notified in registration order.
func (r *Registry) Register(h Hook) {
	r.hooks = append(r.hooks, h)
	name := h.Name()

	if v, ok := h.(RunStarted); ok {
		r.runStarted = append(r.runStarted, runStartedEntry{name, v})
	}
	if v, ok := h.(RunSucceeded); ok {
		r.runSucceeded = append(r.runSucceeded, runSucceededEntry{name, v})
	}
	if v, ok := h.(RunFailed); ok {
		r.runFailed = append(r.runFailed, runFailedEntry{name, v})
	}
	if v, ok := h.(RunCancelled); ok {
		r.runCancelled = append(r.runCancelled, runCancelledEntry{name, v})
	}
	if v, ok := h.(StepStarted); ok {
		r.stepStarted = append(r.stepStarted, stepStartedEntry{name, v})
	}
	if v, ok := h.(StepSucceeded); ok {
		r.stepSucceeded = append(r.stepSucceeded, stepSucceededEntry{name, v})
	}
	if v, ok := h.(StepFailed); ok {
		r.stepFailed = append(r.stepFailed, stepFailedEntry{name, v})
	}
	if v, ok := h.(StepSkipped); ok {
		r.stepSkipped = append(r.stepSkipped, stepSkippedEntry{name, v})
	}
	if v, ok := h.(StepCancelled); ok {
		r.stepCancelled = append(r.stepCancelled, stepCancelledEntry{name, v})
	}
	if v, ok := h.(StepRetrying); ok {
		r.stepRetrying = append(r.stepRetrying, stepRetryingEntry{name, v})
	}
	if v, ok := h.(TriggerFired); ok {
		r.triggerFired = append(r.triggerFired, triggerFiredEntry{name, v})
	}
	if v, ok := h.(TriggerSkipped); ok {
		r.triggerSkipped = append(r.triggerSkipped, triggerSkippedEntry{name, v})
	}
	if v, ok := h.(CapabilityHealthChanged); ok {
		r.capabilityHealth = append(r.capabilityHealth, capabilityHealthEntry{name, v})
	}
	if v, ok := h.(AgentStatusChanged); ok {
		r.agentStatus = append(r.agentStatus, agentStatusEntry{name, v})
	}
	if v, ok := h.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, v})
	}
}

// Hooks returns all registered hooks.
func (r *Registry) Hooks() []Hook { return r.hooks }

// ──────────────────────────────────────────────────
// Run event emitters
// ──────────────────────────────────────────────────

// EmitRunStarted notifies all hooks that implement RunStarted.
func (r *Registry) EmitRunStarted(ctx context.Context, run *workflow.Run) {
	for _, e := range r.runStarted {
		if err := e.hook.OnRunStarted(ctx, run); err != nil {
			r.logHookError("OnRunStarted", e.name, err)
		}
	}
}

// EmitRunSucceeded notifies all hooks that implement RunSucceeded.
func (r *Registry) EmitRunSucceeded(ctx context.Context, run *workflow.Run, elapsed time.Duration) {
	for _, e := range r.runSucceeded {
		if err := e.hook.OnRunSucceeded(ctx, run, elapsed); err != nil {
			r.logHookError("OnRunSucceeded", e.name, err)
		}
	}
}

// EmitRunFailed notifies all hooks that implement RunFailed.
func (r *Registry) EmitRunFailed(ctx context.Context, run *workflow.Run, runErr error) {
	for _, e := range r.runFailed {
		if err := e.hook.OnRunFailed(ctx, run, runErr); err != nil {
			r.logHookError("OnRunFailed", e.name, err)
		}
	}
}

// EmitRunCancelled notifies all hooks that implement RunCancelled.
func (r *Registry) EmitRunCancelled(ctx context.Context, run *workflow.Run) {
	for _, e := range r.runCancelled {
		if err := e.hook.OnRunCancelled(ctx, run); err != nil {
			r.logHookError("OnRunCancelled", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Step event emitters
// ──────────────────────────────────────────────────

// EmitStepStarted notifies all hooks that implement StepStarted.
func (r *Registry) EmitStepStarted(ctx context.Context, run *workflow.Run, stepID string, attempt int) {
	for _, e := range r.stepStarted {
		if err := e.hook.OnStepStarted(ctx, run, stepID, attempt); err != nil {
			r.logHookError("OnStepStarted", e.name, err)
		}
	}
}

// EmitStepSucceeded notifies all hooks that implement StepSucceeded.
func (r *Registry) EmitStepSucceeded(ctx context.Context, run *workflow.Run, stepID string, elapsed time.Duration) {
	for _, e := range r.stepSucceeded {
		if err := e.hook.OnStepSucceeded(ctx, run, stepID, elapsed); err != nil {
			r.logHookError("OnStepSucceeded", e.name, err)
		}
	}
}

// EmitStepFailed notifies all hooks that implement StepFailed.
func (r *Registry) EmitStepFailed(ctx context.Context, run *workflow.Run, stepID string, stepErr error) {
	for _, e := range r.stepFailed {
		if err := e.hook.OnStepFailed(ctx, run, stepID, stepErr); err != nil {
			r.logHookError("OnStepFailed", e.name, err)
		}
	}
}

// EmitStepSkipped notifies all hooks that implement StepSkipped.
func (r *Registry) EmitStepSkipped(ctx context.Context, run *workflow.Run, stepID string, reason string) {
	for _, e := range r.stepSkipped {
		if err := e.hook.OnStepSkipped(ctx, run, stepID, reason); err != nil {
			r.logHookError("OnStepSkipped", e.name, err)
		}
	}
}

// EmitStepCancelled notifies all hooks that implement StepCancelled.
func (r *Registry) EmitStepCancelled(ctx context.Context, run *workflow.Run, stepID string) {
	for _, e := range r.stepCancelled {
		if err := e.hook.OnStepCancelled(ctx, run, stepID); err != nil {
			r.logHookError("OnStepCancelled", e.name, err)
		}
	}
}

// EmitStepRetrying notifies all hooks that implement StepRetrying.
func (r *Registry) EmitStepRetrying(ctx context.Context, run *workflow.Run, stepID string, attempt int, delay time.Duration) {
	for _, e := range r.stepRetrying {
		if err := e.hook.OnStepRetrying(ctx, run, stepID, attempt, delay); err != nil {
			r.logHookError("OnStepRetrying", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Trigger, registry, and lifecycle emitters
// ──────────────────────────────────────────────────

// EmitTriggerFired notifies all hooks that implement TriggerFired.
func (r *Registry) EmitTriggerFired(ctx context.Context, triggerID id.TriggerID, workflowID id.WorkflowID, runID id.RunID) {
	for _, e := range r.triggerFired {
		if err := e.hook.OnTriggerFired(ctx, triggerID, workflowID, runID); err != nil {
			r.logHookError("OnTriggerFired", e.name, err)
		}
	}
}

// EmitTriggerSkipped notifies all hooks that implement TriggerSkipped.
func (r *Registry) EmitTriggerSkipped(ctx context.Context, triggerID id.TriggerID, workflowID id.WorkflowID, reason string) {
	for _, e := range r.triggerSkipped {
		if err := e.hook.OnTriggerSkipped(ctx, triggerID, workflowID, reason); err != nil {
			r.logHookError("OnTriggerSkipped", e.name, err)
		}
	}
}

// EmitCapabilityHealthChanged notifies all hooks that implement
// CapabilityHealthChanged.
func (r *Registry) EmitCapabilityHealthChanged(ctx context.Context, srv *capability.Server, previous capability.Health) {
	for _, e := range r.capabilityHealth {
		if err := e.hook.OnCapabilityHealthChanged(ctx, srv, previous); err != nil {
			r.logHookError("OnCapabilityHealthChanged", e.name, err)
		}
	}
}

// EmitAgentStatusChanged notifies all hooks that implement
// AgentStatusChanged.
func (r *Registry) EmitAgentStatusChanged(ctx context.Context, a *agent.Agent) {
	for _, e := range r.agentStatus {
		if err := e.hook.OnAgentStatusChanged(ctx, a); err != nil {
			r.logHookError("OnAgentStatusChanged", e.name, err)
		}
	}
}

// EmitShutdown notifies all hooks that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Errors from hooks are never propagated; they must not block the
// execution pipeline.
func (r *Registry) logHookError(event, hookName string, err error) {
	r.logger.Warn("lifecycle hook error",
		slog.String("event", event),
		slog.String("hook", hookName),
		slog.String("error", err.Error()),
	)
}
