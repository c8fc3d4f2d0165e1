package capability

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/strandhq/loom"
	"github.com/strandhq/loom/id"
)

// ReferenceChecker reports whether a capability server is referenced by
// any active workflow. Wired by the engine over the workflow store.
type ReferenceChecker interface {
	CapabilityInUse(ctx context.Context, capabilityID id.CapabilityID) (bool, error)
}

// HealthListener is notified when a probe changes a server's health.
// Implemented by the hook registry adapter.
type HealthListener interface {
	CapabilityHealthChanged(ctx context.Context, srv *Server, previous Health)
}

// Registry manages capability server registration and health.
type Registry struct {
	store    Store
	prober   Prober
	refs     ReferenceChecker
	listener HealthListener
	logger   *slog.Logger

	probeTimeout time.Duration
}

// NewRegistry creates a capability registry. prober may be nil when
// probing is handled externally (tests).
func NewRegistry(store Store, prober Prober, probeTimeout time.Duration, logger *slog.Logger) *Registry {
	if probeTimeout <= 0 {
		probeTimeout = 3 * time.Second
	}
	return &Registry{store: store, prober: prober, probeTimeout: probeTimeout, logger: logger}
}

// SetReferenceChecker wires the active-workflow reference check used by
// Deregister (called by engine.Build).
func (r *Registry) SetReferenceChecker(rc ReferenceChecker) { r.refs = rc }

// SetHealthListener wires health-transition notifications (called by
// engine.Build).
func (r *Registry) SetHealthListener(l HealthListener) { r.listener = l }

// Register adds a capability server and runs an initial probe. A second
// registration for the same endpoint fails with
// loom.ErrDuplicateCapability.
func (r *Registry) Register(ctx context.Context, srv *Server) error {
	if srv.Name == "" {
		return &loom.ValidationError{Field: "name", Reason: "capability server name is required"}
	}
	if srv.Endpoint == "" {
		return &loom.ValidationError{Field: "endpoint", Reason: "capability server endpoint is required"}
	}

	existing, err := r.store.GetCapabilityByEndpoint(ctx, srv.Endpoint)
	if err != nil && !errors.Is(err, loom.ErrCapabilityNotFound) {
		return err
	}
	if existing != nil {
		return loom.ErrDuplicateCapability
	}

	if srv.ID.IsNil() {
		srv.ID = id.NewCapabilityID()
	}
	srv.Health = HealthUnknown
	srv.Entity = loom.NewEntity()

	if err := r.store.CreateCapability(ctx, srv); err != nil {
		return err
	}
	r.logger.Info("capability server registered",
		slog.String("capability_id", srv.ID.String()),
		slog.String("endpoint", srv.Endpoint),
	)

	// First probe runs inline so the server has a health verdict as
	// soon as registration returns. Fold the probed record back into
	// the caller's value so it carries the verdict and tool list too.
	if r.prober != nil {
		probed, err := r.Probe(ctx, srv.ID)
		if err != nil {
			return err
		}
		*srv = *probed
	}
	return nil
}

// Deregister removes a capability server. Removal is refused while an
// active workflow references the server.
func (r *Registry) Deregister(ctx context.Context, capabilityID id.CapabilityID) error {
	if _, err := r.store.GetCapability(ctx, capabilityID); err != nil {
		return err
	}
	if r.refs != nil {
		inUse, err := r.refs.CapabilityInUse(ctx, capabilityID)
		if err != nil {
			return err
		}
		if inUse {
			return loom.ErrCapabilityReferenced
		}
	}
	if err := r.store.DeleteCapability(ctx, capabilityID); err != nil {
		return err
	}
	r.logger.Info("capability server deregistered",
		slog.String("capability_id", capabilityID.String()),
	)
	return nil
}

// Get fetches a capability server.
func (r *Registry) Get(ctx context.Context, capabilityID id.CapabilityID) (*Server, error) {
	return r.store.GetCapability(ctx, capabilityID)
}

// List returns capability servers matching opts.
func (r *Registry) List(ctx context.Context, opts ListOpts) ([]*Server, error) {
	return r.store.ListCapabilities(ctx, opts)
}

// ResolveRegistered reports whether the server exists and whether it is
// currently dispatchable. Implements the resolver interfaces in the
// workflow and agent packages.
func (r *Registry) ResolveRegistered(ctx context.Context, capabilityID id.CapabilityID) (bool, error) {
	srv, err := r.store.GetCapability(ctx, capabilityID)
	if err != nil {
		return false, err
	}
	return srv.Reachable(), nil
}

// Probe runs one health probe against the server and applies the
// result. Returns the updated server.
func (r *Registry) Probe(ctx context.Context, capabilityID id.CapabilityID) (*Server, error) {
	srv, err := r.store.GetCapability(ctx, capabilityID)
	if err != nil {
		return nil, err
	}

	probeCtx, cancel := context.WithTimeout(ctx, r.probeTimeout)
	tools, probeErr := r.prober.Probe(probeCtx, srv)
	cancel()

	if err := r.applyProbe(ctx, srv, tools, probeErr); err != nil {
		return nil, err
	}
	return srv, nil
}

// applyProbe folds one probe result into the server's health state.
//
// Transitions: a success resets the failure counter and restores
// healthy. A failure increments the counter; below the threshold the
// server is degraded, at or above it the server is unreachable.
func (r *Registry) applyProbe(ctx context.Context, srv *Server, tools []Tool, probeErr error) error {
	previous := srv.Health
	now := time.Now().UTC()
	srv.LastProbeAt = &now

	if probeErr == nil {
		srv.ConsecutiveFailures = 0
		srv.Health = HealthHealthy
		srv.Tools = tools
		srv.LastError = ""
	} else {
		srv.ConsecutiveFailures++
		srv.LastError = probeErr.Error()
		if srv.ConsecutiveFailures >= unreachableAfter {
			srv.Health = HealthUnreachable
		} else {
			srv.Health = HealthDegraded
		}
	}
	srv.Touch()

	if err := r.store.UpdateCapability(ctx, srv); err != nil {
		return err
	}

	if srv.Health != previous {
		r.logger.Info("capability health changed",
			slog.String("capability_id", srv.ID.String()),
			slog.String("from", string(previous)),
			slog.String("to", string(srv.Health)),
		)
		if r.listener != nil {
			r.listener.CapabilityHealthChanged(ctx, srv, previous)
		}
	}
	return nil
}
