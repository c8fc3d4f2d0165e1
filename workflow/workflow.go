package workflow

import (
	"encoding/json"
	"time"

	"github.com/strandhq/loom"
	"github.com/strandhq/loom/id"
)

// Status is the lifecycle state of a workflow definition.
type Status string

const (
	// StatusInactive workflows can be edited freely and never run.
	StatusInactive Status = "inactive"

	// StatusActive workflows accept triggers and manual runs.
	StatusActive Status = "active"

	// StatusPaused workflows refuse new runs but keep their triggers
	// and validated references, so resuming needs no re-validation.
	StatusPaused Status = "paused"
)

// BusyPolicy decides what happens when a trigger fires for a
// non-concurrent workflow that already has an active run.
type BusyPolicy string

const (
	// BusyQueue creates a pending run that starts once the active run
	// finishes.
	BusyQueue BusyPolicy = "queue"

	// BusySkip drops the trigger occurrence and records the skip.
	BusySkip BusyPolicy = "skip"
)

// Step is one node in a workflow's execution graph.
type Step struct {
	// ID is the step's identifier, unique within the workflow.
	ID string `json:"id"`

	// Name is a human-readable label.
	Name string `json:"name"`

	// AgentID is the agent invoked by this step.
	AgentID id.AgentID `json:"agent_id"`

	// CapabilityID optionally binds the step to a capability server.
	// When set, the server's health gates dispatch.
	CapabilityID id.CapabilityID `json:"capability_id,omitempty"`

	// DependsOn lists step IDs that must reach a terminal state before
	// this step is dispatched.
	DependsOn []string `json:"depends_on,omitempty"`

	// Optional steps do not fail the run or skip their dependents when
	// they fail.
	Optional bool `json:"optional,omitempty"`

	// MaxRetries is the transient-fault retry budget for this step.
	// Zero uses the engine default; a negative value disables retries.
	MaxRetries int `json:"max_retries,omitempty"`

	// Timeout bounds a single invocation attempt. Zero means no
	// step-level timeout.
	Timeout time.Duration `json:"timeout,omitempty"`

	// Input is opaque step configuration passed to the agent.
	Input json.RawMessage `json:"input,omitempty"`
}

// Workflow is a durable workflow definition.
type Workflow struct {
	loom.Entity

	ID          id.WorkflowID `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Status      Status        `json:"status"`
	Steps       []Step        `json:"steps"`

	// Concurrent marks the workflow safe for overlapping runs. When
	// false the engine enforces a single active run at a time.
	Concurrent bool `json:"concurrent,omitempty"`

	// OnBusy applies to non-concurrent workflows whose trigger fires
	// while a run is active. Empty defaults to BusyQueue.
	OnBusy BusyPolicy `json:"on_busy,omitempty"`

	// StepConcurrency caps concurrently dispatched steps per run.
	// Zero uses the engine default.
	StepConcurrency int `json:"step_concurrency,omitempty"`

	// Looped marks the step graph as an explicit loop construct.
	// Back edges are then permitted and ignored for dispatch ordering.
	Looped bool `json:"looped,omitempty"`
}

// Active reports whether the workflow accepts new runs.
func (w *Workflow) Active() bool { return w.Status == StatusActive }

// StepByID returns the step with the given ID, or nil.
func (w *Workflow) StepByID(stepID string) *Step {
	for i := range w.Steps {
		if w.Steps[i].ID == stepID {
			return &w.Steps[i]
		}
	}
	return nil
}

// BusyPolicyOrDefault returns the configured busy policy, defaulting
// to BusyQueue.
func (w *Workflow) BusyPolicyOrDefault() BusyPolicy {
	if w.OnBusy == "" {
		return BusyQueue
	}
	return w.OnBusy
}
