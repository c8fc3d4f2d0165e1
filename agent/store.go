package agent

import (
	"context"

	"github.com/strandhq/loom/id"
)

// ListOpts filters agent listings. Zero values mean "no filter".
type ListOpts struct {
	Status Status
	Limit  int
	Offset int
}

// Store is the persistence interface for agents.
type Store interface {
	CreateAgent(ctx context.Context, a *Agent) error
	GetAgent(ctx context.Context, agentID id.AgentID) (*Agent, error)
	UpdateAgent(ctx context.Context, a *Agent) error
	ListAgents(ctx context.Context, opts ListOpts) ([]*Agent, error)
}
