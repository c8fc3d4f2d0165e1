package capability

import (
	"time"

	"github.com/strandhq/loom"
	"github.com/strandhq/loom/id"
)

// Health is the probe-maintained availability state of a capability
// server.
type Health string

const (
	// HealthUnknown applies before the first probe completes.
	HealthUnknown Health = "unknown"

	// HealthHealthy servers responded to the latest probe.
	HealthHealthy Health = "healthy"

	// HealthDegraded servers failed one or two consecutive probes.
	// Steps bound to them still dispatch; failures are retried.
	HealthDegraded Health = "degraded"

	// HealthUnreachable servers failed three or more consecutive
	// probes. Steps bound to them fail permanently at dispatch.
	HealthUnreachable Health = "unreachable"
)

// unreachableAfter is the consecutive-failure threshold that demotes a
// server to unreachable.
const unreachableAfter = 3

// Tool describes one tool exposed by a capability server.
type Tool struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Server is a registered capability server.
type Server struct {
	loom.Entity

	ID       id.CapabilityID `json:"id"`
	Name     string          `json:"name"`
	Endpoint string          `json:"endpoint"`
	Health   Health          `json:"health"`

	// ConsecutiveFailures counts probe failures since the last success.
	ConsecutiveFailures int `json:"consecutive_failures,omitempty"`

	// Tools is the tool list reported by the last successful probe.
	Tools []Tool `json:"tools,omitempty"`

	LastProbeAt *time.Time `json:"last_probe_at,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
}

// Reachable reports whether steps bound to this server may dispatch.
// Degraded servers remain dispatchable; their failures retry.
func (s *Server) Reachable() bool {
	return s.Health == HealthHealthy || s.Health == HealthDegraded || s.Health == HealthUnknown
}
