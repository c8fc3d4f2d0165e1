package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/strandhq/loom"
	"github.com/strandhq/loom/id"
)

// CapabilityChecker reports whether a capability server is registered
// and reachable. Implemented by capability.Registry.
type CapabilityChecker interface {
	ResolveRegistered(ctx context.Context, capabilityID id.CapabilityID) (reachable bool, err error)
}

// StatusListener is notified when an agent's status changes.
// Implemented by the hook registry adapter.
type StatusListener interface {
	AgentStatusChanged(ctx context.Context, a *Agent)
}

// Registry manages agent lifecycle and resolves agent references for
// workflow activation and step dispatch.
type Registry struct {
	store    Store
	caps     CapabilityChecker
	listener StatusListener
	logger   *slog.Logger
}

// NewRegistry creates an agent registry. caps may be nil; capability
// binding checks are then skipped.
func NewRegistry(store Store, caps CapabilityChecker, logger *slog.Logger) *Registry {
	return &Registry{store: store, caps: caps, logger: logger}
}

// SetStatusListener wires status-change notifications (called by
// engine.Build).
func (r *Registry) SetStatusListener(l StatusListener) { r.listener = l }

// Create registers a new agent. Bindings to unreachable capability
// servers are flagged as warnings; bindings to unknown servers fail.
func (r *Registry) Create(ctx context.Context, a *Agent) ([]string, error) {
	if a.Name == "" {
		return nil, &loom.ValidationError{Field: "name", Reason: "agent name is required"}
	}
	if a.ID.IsNil() {
		a.ID = id.NewAgentID()
	}
	if a.Status == "" {
		a.Status = StatusActive
	}
	a.Entity = loom.NewEntity()

	warnings, err := r.checkBindings(ctx, a)
	if err != nil {
		return nil, err
	}
	if err := r.store.CreateAgent(ctx, a); err != nil {
		return nil, err
	}
	r.logger.Info("agent registered",
		slog.String("agent_id", a.ID.String()),
		slog.String("name", a.Name),
	)
	return warnings, nil
}

// Get fetches an agent.
func (r *Registry) Get(ctx context.Context, agentID id.AgentID) (*Agent, error) {
	return r.store.GetAgent(ctx, agentID)
}

// List returns agents matching opts.
func (r *Registry) List(ctx context.Context, opts ListOpts) ([]*Agent, error) {
	return r.store.ListAgents(ctx, opts)
}

// Update replaces an agent's mutable fields. Status is preserved; use
// Activate/Deactivate to change it.
func (r *Registry) Update(ctx context.Context, a *Agent) ([]string, error) {
	current, err := r.store.GetAgent(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	warnings, err := r.checkBindings(ctx, a)
	if err != nil {
		return nil, err
	}
	a.Status = current.Status
	a.CreatedAt = current.CreatedAt
	a.Touch()
	if err := r.store.UpdateAgent(ctx, a); err != nil {
		return nil, err
	}
	return warnings, nil
}

// Activate marks an agent active.
func (r *Registry) Activate(ctx context.Context, agentID id.AgentID) error {
	return r.setStatus(ctx, agentID, StatusActive)
}

// Deactivate marks an agent inactive. Steps bound to it fail
// permanently at dispatch until it is reactivated.
func (r *Registry) Deactivate(ctx context.Context, agentID id.AgentID) error {
	return r.setStatus(ctx, agentID, StatusInactive)
}

// MarkError demotes an agent to the error status, refusing further
// dispatch until it is explicitly reactivated. Hosts call this from a
// hook or their own health checks when an agent endpoint keeps
// failing.
func (r *Registry) MarkError(ctx context.Context, agentID id.AgentID) error {
	return r.setStatus(ctx, agentID, StatusError)
}

func (r *Registry) setStatus(ctx context.Context, agentID id.AgentID, status Status) error {
	a, err := r.store.GetAgent(ctx, agentID)
	if err != nil {
		return err
	}
	if a.Status == status {
		return nil
	}
	a.Status = status
	a.Touch()
	if err := r.store.UpdateAgent(ctx, a); err != nil {
		return err
	}
	r.logger.Info("agent status changed",
		slog.String("agent_id", agentID.String()),
		slog.String("status", string(status)),
	)
	if r.listener != nil {
		r.listener.AgentStatusChanged(ctx, a)
	}
	return nil
}

// ResolveActive returns nil when the agent exists and is active.
// Implements workflow.AgentResolver.
func (r *Registry) ResolveActive(ctx context.Context, agentID id.AgentID) error {
	a, err := r.store.GetAgent(ctx, agentID)
	if err != nil {
		return err
	}
	if !a.Active() {
		return loom.ErrAgentInactive
	}
	return nil
}

// checkBindings verifies the agent's capability bindings. Unknown
// servers are errors; unreachable ones produce warnings.
func (r *Registry) checkBindings(ctx context.Context, a *Agent) ([]string, error) {
	if r.caps == nil {
		return nil, nil
	}
	var warnings []string
	for _, capID := range a.CapabilityIDs {
		reachable, err := r.caps.ResolveRegistered(ctx, capID)
		if err != nil {
			return nil, fmt.Errorf("agent %s: capability %s: %w", a.Name, capID, err)
		}
		if !reachable {
			warnings = append(warnings, fmt.Sprintf(
				"capability server %s is currently unreachable", capID))
		}
	}
	return warnings, nil
}
