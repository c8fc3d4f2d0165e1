package activity

import (
	"github.com/strandhq/loom"
	"github.com/strandhq/loom/id"
)

// Actions. Each constant corresponds to one lifecycle hook and becomes
// the Action field of the recorded entry.
const (
	ActionRunStarted   = "run.started"
	ActionRunSucceeded = "run.succeeded"
	ActionRunFailed    = "run.failed"
	ActionRunCancelled = "run.cancelled"

	ActionStepStarted   = "step.started"
	ActionStepSucceeded = "step.succeeded"
	ActionStepFailed    = "step.failed"
	ActionStepSkipped   = "step.skipped"
	ActionStepCancelled = "step.cancelled"
	ActionStepRetrying  = "step.retrying"

	ActionTriggerFired   = "trigger.fired"
	ActionTriggerSkipped = "trigger.skipped"

	ActionCapabilityHealth = "capability.health"
	ActionAgentState       = "agent.state"
)

// Resource types used as the Resource field of entries.
const (
	ResourceRun        = "run"
	ResourceTrigger    = "trigger"
	ResourceCapability = "capability"
	ResourceAgent      = "agent"
)

// Severity levels.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Entry is one appended activity record.
type Entry struct {
	loom.Entity

	ID id.ActivityID `json:"id"`

	// What happened.
	Action   string `json:"action"`
	Resource string `json:"resource"`

	// ResourceID identifies the affected entity.
	ResourceID string `json:"resource_id,omitempty"`

	Severity string `json:"severity"`
	Outcome  string `json:"outcome"`

	// Reason carries the error message for failure outcomes.
	Reason string `json:"reason,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty"`
}

// AllActions returns every action the hook can record.
func AllActions() []string {
	return []string{
		ActionRunStarted,
		ActionRunSucceeded,
		ActionRunFailed,
		ActionRunCancelled,
		ActionStepStarted,
		ActionStepSucceeded,
		ActionStepFailed,
		ActionStepSkipped,
		ActionStepCancelled,
		ActionStepRetrying,
		ActionTriggerFired,
		ActionTriggerSkipped,
		ActionCapabilityHealth,
		ActionAgentState,
	}
}
