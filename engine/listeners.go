package engine

import (
	"context"

	"github.com/strandhq/loom/agent"
	"github.com/strandhq/loom/capability"
	"github.com/strandhq/loom/hook"
	"github.com/strandhq/loom/id"
	"github.com/strandhq/loom/workflow"
)

// healthListener adapts the hook registry to capability.HealthListener.
type healthListener struct {
	hooks *hook.Registry
}

func (l healthListener) CapabilityHealthChanged(ctx context.Context, srv *capability.Server, previous capability.Health) {
	l.hooks.EmitCapabilityHealthChanged(ctx, srv, previous)
}

// statusListener adapts the hook registry to agent.StatusListener.
type statusListener struct {
	hooks *hook.Registry
}

func (l statusListener) AgentStatusChanged(ctx context.Context, a *agent.Agent) {
	l.hooks.EmitAgentStatusChanged(ctx, a)
}

// workflowRefs implements capability.ReferenceChecker by scanning the
// steps of every active workflow for a binding to the server.
type workflowRefs struct {
	store workflow.Store
}

func (r workflowRefs) CapabilityInUse(ctx context.Context, capabilityID id.CapabilityID) (bool, error) {
	wfs, err := r.store.ListWorkflows(ctx, workflow.ListOpts{Status: workflow.StatusActive})
	if err != nil {
		return false, err
	}
	want := capabilityID.String()
	for _, wf := range wfs {
		for i := range wf.Steps {
			if wf.Steps[i].CapabilityID.String() == want {
				return true, nil
			}
		}
	}
	return false, nil
}
