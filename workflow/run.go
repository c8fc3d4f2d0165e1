package workflow

import (
	"encoding/json"
	"time"

	"github.com/strandhq/loom"
	"github.com/strandhq/loom/id"
)

// RunState represents the lifecycle state of a workflow run.
type RunState string

const (
	// RunStatePending means the run is queued and waiting for a worker.
	RunStatePending RunState = "pending"
	// RunStateRunning means the run is currently executing.
	RunStateRunning RunState = "running"
	// RunStateSucceeded means every non-optional step succeeded or was
	// skipped by design.
	RunStateSucceeded RunState = "succeeded"
	// RunStateFailed means a non-optional step failed terminally.
	RunStateFailed RunState = "failed"
	// RunStateCancelled means the run was cancelled before finishing.
	RunStateCancelled RunState = "cancelled"
)

// Terminal reports whether the state is final. Terminal runs never
// transition again.
func (s RunState) Terminal() bool {
	switch s {
	case RunStateSucceeded, RunStateFailed, RunStateCancelled:
		return true
	default:
		return false
	}
}

// StepState represents the lifecycle state of one step within a run.
type StepState string

const (
	StepStatePending   StepState = "pending"
	StepStateRunning   StepState = "running"
	StepStateSucceeded StepState = "succeeded"
	StepStateFailed    StepState = "failed"
	// StepStateSkipped means a non-optional dependency failed, so the
	// step was never dispatched.
	StepStateSkipped StepState = "skipped"
	// StepStateCancelled means the run was cancelled while the step was
	// pending or in flight.
	StepStateCancelled StepState = "cancelled"
)

// Terminal reports whether the step state is final.
func (s StepState) Terminal() bool {
	switch s {
	case StepStateSucceeded, StepStateFailed, StepStateSkipped, StepStateCancelled:
		return true
	default:
		return false
	}
}

// Source identifies what started a run.
type Source string

const (
	SourceManual    Source = "manual"
	SourceScheduled Source = "scheduled"
	SourceEvent     Source = "event"
)

// StepOutcome records the result of one step within a run.
type StepOutcome struct {
	StepID    string          `json:"step_id"`
	State     StepState       `json:"state"`
	Attempts  int             `json:"attempts"`
	Output    json.RawMessage `json:"output,omitempty"`
	Error     string          `json:"error,omitempty"`
	FaultKind loom.FaultKind  `json:"fault_kind,omitempty"`
	StartedAt *time.Time      `json:"started_at,omitempty"`
	EndedAt   *time.Time      `json:"ended_at,omitempty"`
}

// Run represents a single execution of a workflow. Steps is a snapshot
// of the definition taken at creation time; later edits to the workflow
// never affect a run in flight.
type Run struct {
	loom.Entity

	ID           id.RunID        `json:"id"`
	WorkflowID   id.WorkflowID   `json:"workflow_id"`
	WorkflowName string          `json:"workflow_name"`
	TriggerID    id.TriggerID    `json:"trigger_id,omitempty"`
	Source       Source          `json:"source"`
	State        RunState        `json:"state"`
	Steps        []Step          `json:"steps"`
	Outcomes     []StepOutcome   `json:"outcomes,omitempty"`
	Input        json.RawMessage `json:"input,omitempty"`
	Error        string          `json:"error,omitempty"`

	// Concurrent and related fields are copied from the workflow at
	// creation so the executor never re-reads the definition.
	Concurrent      bool `json:"concurrent,omitempty"`
	StepConcurrency int  `json:"step_concurrency,omitempty"`
	Looped          bool `json:"looped,omitempty"`

	// CancelRequested is set by CancelRun and observed cooperatively
	// at step boundaries.
	CancelRequested bool `json:"cancel_requested,omitempty"`

	ClaimedBy   id.WorkerID `json:"claimed_by,omitempty"`
	HeartbeatAt *time.Time  `json:"heartbeat_at,omitempty"`
	RunAt       time.Time   `json:"run_at"`
	StartedAt   *time.Time  `json:"started_at,omitempty"`
	EndedAt     *time.Time  `json:"ended_at,omitempty"`
}

// NewRun snapshots a workflow into a pending run.
func NewRun(wf *Workflow, source Source, input json.RawMessage) *Run {
	steps := make([]Step, len(wf.Steps))
	copy(steps, wf.Steps)

	return &Run{
		Entity:          loom.NewEntity(),
		ID:              id.NewRunID(),
		WorkflowID:      wf.ID,
		WorkflowName:    wf.Name,
		Source:          source,
		State:           RunStatePending,
		Steps:           steps,
		Input:           input,
		Concurrent:      wf.Concurrent,
		StepConcurrency: wf.StepConcurrency,
		Looped:          wf.Looped,
		RunAt:           time.Now().UTC(),
	}
}

// Outcome returns the recorded outcome for a step, or nil.
func (r *Run) Outcome(stepID string) *StepOutcome {
	for i := range r.Outcomes {
		if r.Outcomes[i].StepID == stepID {
			return &r.Outcomes[i]
		}
	}
	return nil
}

// SetOutcome inserts or replaces the outcome for a step.
func (r *Run) SetOutcome(o StepOutcome) {
	for i := range r.Outcomes {
		if r.Outcomes[i].StepID == o.StepID {
			r.Outcomes[i] = o
			return
		}
	}
	r.Outcomes = append(r.Outcomes, o)
}

// StepByID returns the snapshotted step with the given ID, or nil.
func (r *Run) StepByID(stepID string) *Step {
	for i := range r.Steps {
		if r.Steps[i].ID == stepID {
			return &r.Steps[i]
		}
	}
	return nil
}
