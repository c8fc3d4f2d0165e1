package agent

import (
	"encoding/json"

	"github.com/strandhq/loom"
	"github.com/strandhq/loom/id"
)

// Status is the lifecycle state of an agent.
type Status string

const (
	// StatusActive agents accept step invocations.
	StatusActive Status = "active"

	// StatusInactive agents are kept for history but refuse dispatch.
	StatusInactive Status = "inactive"

	// StatusError agents were demoted after repeated invocation
	// failures. Like inactive agents they refuse dispatch, but the
	// status survives as a signal until an operator reactivates them.
	StatusError Status = "error"
)

// Agent is a registered executable unit. Steps reference agents by ID;
// the engine refuses to dispatch to inactive or missing agents.
type Agent struct {
	loom.Entity

	ID          id.AgentID `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Status      Status     `json:"status"`

	// Endpoint is the invocation URL used by HTTPInvoker.
	Endpoint string `json:"endpoint"`

	// CapabilityIDs lists the capability servers this agent is bound
	// to. Bindings to unreachable servers are flagged, not rejected.
	CapabilityIDs []id.CapabilityID `json:"capability_ids,omitempty"`

	// Config is opaque agent configuration.
	Config json.RawMessage `json:"config,omitempty"`
}

// Active reports whether the agent accepts invocations.
func (a *Agent) Active() bool { return a.Status == StatusActive }
