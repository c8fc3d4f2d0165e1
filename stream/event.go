package stream

import (
	"encoding/json"
	"time"
)

// EventType identifies the kind of lifecycle event.
type EventType string

const (
	// Run events.
	EventRunStarted   EventType = "run.started"
	EventRunSucceeded EventType = "run.succeeded"
	EventRunFailed    EventType = "run.failed"
	EventRunCancelled EventType = "run.cancelled"

	// Step events.
	EventStepStarted   EventType = "step.started"
	EventStepSucceeded EventType = "step.succeeded"
	EventStepFailed    EventType = "step.failed"
	EventStepSkipped   EventType = "step.skipped"
	EventStepCancelled EventType = "step.cancelled"
	EventStepRetrying  EventType = "step.retrying"

	// Trigger events.
	EventTriggerFired   EventType = "trigger.fired"
	EventTriggerSkipped EventType = "trigger.skipped"

	// Registry events.
	EventCapabilityHealth EventType = "capability.health"
	EventAgentState       EventType = "agent.state"

	// EventStreamGap is synthesized when a slow subscriber's buffer
	// overflowed and older events were dropped.
	EventStreamGap EventType = "stream.gap"
)

// Event is the envelope sent to subscribers on a topic channel.
// Field names follow the wire format consumed by dashboard clients.
type Event struct {
	// Type identifies the lifecycle event.
	Type EventType `json:"type"`

	// RunID is set on run, step, and trigger.fired events.
	RunID string `json:"runId,omitempty"`

	// WorkflowID is set on every event that belongs to a workflow.
	WorkflowID string `json:"workflowId,omitempty"`

	// StepID is set on step events.
	StepID string `json:"stepId,omitempty"`

	// State is the entity state after the transition, e.g. "running"
	// or "degraded".
	State string `json:"state,omitempty"`

	// Timestamp is when the event was emitted.
	Timestamp time.Time `json:"timestamp"`

	// Payload is the event-specific body.
	Payload json.RawMessage `json:"payload,omitempty"`
}

// RunPayload is the payload for run lifecycle events.
type RunPayload struct {
	WorkflowName string `json:"workflowName,omitempty"`
	Source       string `json:"source,omitempty"`
	ElapsedMs    int64  `json:"elapsedMs,omitempty"`
	Error        string `json:"error,omitempty"`
}

// StepPayload is the payload for step lifecycle events.
type StepPayload struct {
	Attempt   int    `json:"attempt,omitempty"`
	ElapsedMs int64  `json:"elapsedMs,omitempty"`
	DelayMs   int64  `json:"delayMs,omitempty"`
	Error     string `json:"error,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// TriggerPayload is the payload for trigger lifecycle events.
type TriggerPayload struct {
	TriggerID string `json:"triggerId"`
	Reason    string `json:"reason,omitempty"`
}

// CapabilityPayload is the payload for capability health events.
type CapabilityPayload struct {
	CapabilityID string `json:"capabilityId"`
	Name         string `json:"name"`
	Health       string `json:"health"`
	Previous     string `json:"previous"`
}

// AgentPayload is the payload for agent state events.
type AgentPayload struct {
	AgentID string `json:"agentId"`
	Name    string `json:"name"`
	Status  string `json:"status"`
}

// GapPayload is the payload for stream.gap events.
type GapPayload struct {
	// Dropped is the number of events evicted since the last clean
	// delivery when the gap was injected.
	Dropped int64 `json:"dropped"`
}
