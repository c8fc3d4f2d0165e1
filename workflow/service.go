package workflow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/strandhq/loom"
	"github.com/strandhq/loom/id"
)

// AgentResolver reports whether an agent exists and is active.
// Implemented by agent.Registry.
type AgentResolver interface {
	ResolveActive(ctx context.Context, agentID id.AgentID) error
}

// CapabilityResolver reports whether a capability server is registered
// and whether it is currently reachable. Implemented by
// capability.Registry.
type CapabilityResolver interface {
	ResolveRegistered(ctx context.Context, capabilityID id.CapabilityID) (reachable bool, err error)
}

// Service manages workflow definitions: create, update, activate,
// deactivate. Activation re-validates the step graph and resolves every
// agent and capability reference.
type Service struct {
	store  Store
	agents AgentResolver
	caps   CapabilityResolver
	logger *slog.Logger
}

// NewService creates a workflow definition service.
func NewService(store Store, agents AgentResolver, caps CapabilityResolver, logger *slog.Logger) *Service {
	return &Service{store: store, agents: agents, caps: caps, logger: logger}
}

// Create validates the definition's structure and persists it inactive.
// A nil ID is assigned.
func (s *Service) Create(ctx context.Context, wf *Workflow) error {
	if err := Validate(wf); err != nil {
		return err
	}
	if wf.ID.IsNil() {
		wf.ID = id.NewWorkflowID()
	}
	if wf.Status == "" {
		wf.Status = StatusInactive
	}
	wf.Entity = loom.NewEntity()

	if err := s.store.CreateWorkflow(ctx, wf); err != nil {
		return err
	}
	s.logger.Info("workflow created",
		slog.String("workflow_id", wf.ID.String()),
		slog.String("name", wf.Name),
	)
	return nil
}

// Get fetches a workflow definition.
func (s *Service) Get(ctx context.Context, workflowID id.WorkflowID) (*Workflow, error) {
	return s.store.GetWorkflow(ctx, workflowID)
}

// List returns workflow definitions matching opts.
func (s *Service) List(ctx context.Context, opts ListOpts) ([]*Workflow, error) {
	return s.store.ListWorkflows(ctx, opts)
}

// Update replaces a definition. In-flight runs are unaffected: they
// execute the snapshot taken at creation. Active workflows are
// re-validated so an edit cannot leave a broken graph live.
func (s *Service) Update(ctx context.Context, wf *Workflow) error {
	current, err := s.store.GetWorkflow(ctx, wf.ID)
	if err != nil {
		return err
	}
	if err := Validate(wf); err != nil {
		return err
	}
	if current.Status == StatusActive {
		if _, err := s.resolveReferences(ctx, wf); err != nil {
			return err
		}
	}
	wf.Status = current.Status
	wf.CreatedAt = current.CreatedAt
	wf.Touch()
	return s.store.UpdateWorkflow(ctx, wf)
}

// Activate validates the graph and resolves every agent and capability
// reference, then marks the workflow active. Steps bound to a
// registered but unreachable capability server do not block activation;
// they are returned as warnings for the caller to surface.
func (s *Service) Activate(ctx context.Context, workflowID id.WorkflowID) ([]string, error) {
	wf, err := s.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if err := Validate(wf); err != nil {
		return nil, err
	}
	warnings, err := s.resolveReferences(ctx, wf)
	if err != nil {
		return nil, err
	}

	wf.Status = StatusActive
	wf.Touch()
	if err := s.store.UpdateWorkflow(ctx, wf); err != nil {
		return nil, err
	}
	s.logger.Info("workflow activated", slog.String("workflow_id", wf.ID.String()))
	for _, w := range warnings {
		s.logger.Warn("workflow activated with warning",
			slog.String("workflow_id", wf.ID.String()),
			slog.String("warning", w),
		)
	}
	return warnings, nil
}

// Deactivate marks the workflow inactive. Running runs continue;
// triggers and manual starts are refused until reactivation.
func (s *Service) Deactivate(ctx context.Context, workflowID id.WorkflowID) error {
	wf, err := s.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return err
	}
	wf.Status = StatusInactive
	wf.Touch()
	if err := s.store.UpdateWorkflow(ctx, wf); err != nil {
		return err
	}
	s.logger.Info("workflow deactivated", slog.String("workflow_id", wf.ID.String()))
	return nil
}

// Pause suspends an active workflow. Running runs finish; new runs are
// refused until Resume.
func (s *Service) Pause(ctx context.Context, workflowID id.WorkflowID) error {
	return s.setStatus(ctx, workflowID, StatusActive, StatusPaused, "workflow paused")
}

// Resume returns a paused workflow to active. References were resolved
// at activation and re-checked on every update, so no re-validation
// happens here.
func (s *Service) Resume(ctx context.Context, workflowID id.WorkflowID) error {
	return s.setStatus(ctx, workflowID, StatusPaused, StatusActive, "workflow resumed")
}

func (s *Service) setStatus(ctx context.Context, workflowID id.WorkflowID, from, to Status, msg string) error {
	wf, err := s.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return err
	}
	if wf.Status != from {
		return fmt.Errorf("%w: workflow is %s", loom.ErrInvalidState, wf.Status)
	}
	wf.Status = to
	wf.Touch()
	if err := s.store.UpdateWorkflow(ctx, wf); err != nil {
		return err
	}
	s.logger.Info(msg, slog.String("workflow_id", wf.ID.String()))
	return nil
}

// resolveReferences checks that every step's agent is active and every
// bound capability server is registered. Unreachable servers produce
// warnings, not errors.
func (s *Service) resolveReferences(ctx context.Context, wf *Workflow) ([]string, error) {
	var warnings []string
	for i := range wf.Steps {
		step := &wf.Steps[i]
		if step.AgentID.IsNil() {
			return nil, &loom.ValidationError{Field: "steps." + step.ID, Reason: "step has no agent"}
		}
		if err := s.agents.ResolveActive(ctx, step.AgentID); err != nil {
			return nil, &loom.ValidationError{
				Field:  "steps." + step.ID,
				Reason: fmt.Sprintf("agent %s: %v", step.AgentID, err),
			}
		}
		if step.CapabilityID.IsNil() {
			continue
		}
		reachable, err := s.caps.ResolveRegistered(ctx, step.CapabilityID)
		if err != nil {
			return nil, &loom.ValidationError{
				Field:  "steps." + step.ID,
				Reason: fmt.Sprintf("capability %s: %v", step.CapabilityID, err),
			}
		}
		if !reachable {
			warnings = append(warnings, fmt.Sprintf(
				"step %s: capability server %s is currently unreachable", step.ID, step.CapabilityID))
		}
	}
	return warnings, nil
}
