// Package memory provides a fully in-memory store backend. Safe for
// concurrent access. Intended for unit testing and development.
package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/strandhq/loom"
	"github.com/strandhq/loom/activity"
	"github.com/strandhq/loom/agent"
	"github.com/strandhq/loom/capability"
	"github.com/strandhq/loom/id"
	"github.com/strandhq/loom/trigger"
	"github.com/strandhq/loom/workflow"
)

// Ensure Store implements store.Store at compile time.
// We can't import store here (import cycle), so we verify each subsystem.
var (
	_ workflow.Store   = (*Store)(nil)
	_ agent.Store      = (*Store)(nil)
	_ capability.Store = (*Store)(nil)
	_ trigger.Store    = (*Store)(nil)
	_ activity.Store   = (*Store)(nil)
)

// Store is a fully in-memory implementation of store.Store.
type Store struct {
	mu sync.RWMutex

	workflows    map[string]*workflow.Workflow
	runs         map[string]*workflow.Run
	agents       map[string]*agent.Agent
	capabilities map[string]*capability.Server
	triggers     map[string]*trigger.Trigger
	activities   []*activity.Entry

	// claims holds the per-workflow exclusivity claim for
	// non-concurrent workflows: workflow ID → run ID.
	claims map[string]id.RunID
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		workflows:    make(map[string]*workflow.Workflow),
		runs:         make(map[string]*workflow.Run),
		agents:       make(map[string]*agent.Agent),
		capabilities: make(map[string]*capability.Server),
		triggers:     make(map[string]*trigger.Trigger),
		claims:       make(map[string]id.RunID),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle: Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Workflow Store: definitions
// ──────────────────────────────────────────────────

func (m *Store) CreateWorkflow(_ context.Context, wf *workflow.Workflow) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := wf.ID.String()
	if _, exists := m.workflows[key]; exists {
		return loom.ErrWorkflowExists
	}
	m.workflows[key] = cloneWorkflow(wf)
	return nil
}

func (m *Store) GetWorkflow(_ context.Context, workflowID id.WorkflowID) (*workflow.Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	wf, ok := m.workflows[workflowID.String()]
	if !ok {
		return nil, loom.ErrWorkflowNotFound
	}
	return cloneWorkflow(wf), nil
}

func (m *Store) UpdateWorkflow(_ context.Context, wf *workflow.Workflow) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := wf.ID.String()
	if _, ok := m.workflows[key]; !ok {
		return loom.ErrWorkflowNotFound
	}
	m.workflows[key] = cloneWorkflow(wf)
	return nil
}

func (m *Store) ListWorkflows(_ context.Context, opts workflow.ListOpts) ([]*workflow.Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*workflow.Workflow, 0, len(m.workflows))
	for _, wf := range m.workflows {
		if opts.Status != "" && wf.Status != opts.Status {
			continue
		}
		out = append(out, cloneWorkflow(wf))
	}
	sort.Slice(out, func(i, k int) bool {
		if !out[i].CreatedAt.Equal(out[k].CreatedAt) {
			return out[i].CreatedAt.Before(out[k].CreatedAt)
		}
		return out[i].ID.String() < out[k].ID.String()
	})
	return page(out, opts.Offset, opts.Limit), nil
}

// ──────────────────────────────────────────────────
// Workflow Store: runs
// ──────────────────────────────────────────────────

func (m *Store) CreateRun(_ context.Context, run *workflow.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := run.ID.String()
	if _, exists := m.runs[key]; exists {
		return loom.ErrRunConflict
	}
	m.runs[key] = cloneRun(run)
	return nil
}

func (m *Store) GetRun(_ context.Context, runID id.RunID) (*workflow.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	run, ok := m.runs[runID.String()]
	if !ok {
		return nil, loom.ErrRunNotFound
	}
	return cloneRun(run), nil
}

func (m *Store) UpdateRun(_ context.Context, run *workflow.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := run.ID.String()
	current, ok := m.runs[key]
	if !ok {
		return loom.ErrRunNotFound
	}
	// Terminal states are final. A full-row write from a stale view
	// must not resurrect a finished run.
	if current.State.Terminal() {
		return loom.ErrRunTerminal
	}
	// A cancel request is one-way for the life of a run. A full-row
	// update from the executor must not erase a flag set concurrently
	// by RequestCancel.
	if current.CancelRequested {
		run.CancelRequested = true
	}
	m.runs[key] = cloneRun(run)
	return nil
}

func (m *Store) RequestCancel(_ context.Context, runID id.RunID) (*workflow.Run, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	run, ok := m.runs[runID.String()]
	if !ok {
		return nil, false, loom.ErrRunNotFound
	}
	if run.State.Terminal() {
		return cloneRun(run), false, nil
	}

	run.CancelRequested = true
	finalized := false
	if run.State == workflow.RunStatePending {
		now := time.Now().UTC()
		run.State = workflow.RunStateCancelled
		run.EndedAt = &now
		for i := range run.Steps {
			stepID := run.Steps[i].ID
			// Outcomes carried over a requeue stay as they finished.
			if o := run.Outcome(stepID); o != nil && o.State.Terminal() {
				continue
			}
			run.SetOutcome(workflow.StepOutcome{StepID: stepID, State: workflow.StepStateCancelled})
		}
		finalized = true
	}
	run.Touch()
	return cloneRun(run), finalized, nil
}

func (m *Store) ListRuns(_ context.Context, opts workflow.RunListOpts) ([]*workflow.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := m.filterRuns(opts)
	// Newest first: run history surfaces lead with recent activity.
	sort.Slice(out, func(i, k int) bool {
		if !out[i].CreatedAt.Equal(out[k].CreatedAt) {
			return out[i].CreatedAt.After(out[k].CreatedAt)
		}
		return out[i].ID.String() < out[k].ID.String()
	})
	return page(out, opts.Offset, opts.Limit), nil
}

func (m *Store) CountRuns(_ context.Context, opts workflow.RunListOpts) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.filterRuns(opts)), nil
}

// filterRuns returns copies of runs matching opts, ignoring paging.
// Callers must hold at least the read lock.
func (m *Store) filterRuns(opts workflow.RunListOpts) []*workflow.Run {
	out := make([]*workflow.Run, 0, len(m.runs))
	for _, run := range m.runs {
		if !opts.WorkflowID.IsNil() && run.WorkflowID != opts.WorkflowID {
			continue
		}
		if opts.State != "" && run.State != opts.State {
			continue
		}
		out = append(out, cloneRun(run))
	}
	return out
}

func (m *Store) PendingRuns(_ context.Context, limit int) ([]*workflow.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := time.Now().UTC()
	out := make([]*workflow.Run, 0, limit)
	for _, run := range m.runs {
		if run.State != workflow.RunStatePending {
			continue
		}
		if run.RunAt.After(now) {
			continue
		}
		out = append(out, cloneRun(run))
	}
	sort.Slice(out, func(i, k int) bool {
		if !out[i].RunAt.Equal(out[k].RunAt) {
			return out[i].RunAt.Before(out[k].RunAt)
		}
		return out[i].ID.String() < out[k].ID.String()
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Store) BeginRun(_ context.Context, runID id.RunID, workerID id.WorkerID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	run, ok := m.runs[runID.String()]
	if !ok {
		return false, loom.ErrRunNotFound
	}
	if run.State != workflow.RunStatePending {
		return false, nil
	}

	now := time.Now().UTC()
	run.State = workflow.RunStateRunning
	run.ClaimedBy = workerID
	run.StartedAt = &now
	run.HeartbeatAt = &now
	run.Touch()
	return true, nil
}

func (m *Store) HeartbeatRun(_ context.Context, runID id.RunID, workerID id.WorkerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	run, ok := m.runs[runID.String()]
	if !ok {
		return loom.ErrRunNotFound
	}
	if run.State != workflow.RunStateRunning || run.ClaimedBy != workerID {
		return loom.ErrRunConflict
	}
	now := time.Now().UTC()
	run.HeartbeatAt = &now
	return nil
}

func (m *Store) AcquireWorkflowClaim(_ context.Context, workflowID id.WorkflowID, runID id.RunID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := workflowID.String()
	if held, ok := m.claims[key]; ok && held != runID {
		return false, nil
	}
	m.claims[key] = runID
	return true, nil
}

func (m *Store) ReleaseWorkflowClaim(_ context.Context, workflowID id.WorkflowID, runID id.RunID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := workflowID.String()
	if held, ok := m.claims[key]; ok && held == runID {
		delete(m.claims, key)
	}
	return nil
}

func (m *Store) HasActiveRun(_ context.Context, workflowID id.WorkflowID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, run := range m.runs {
		if run.WorkflowID != workflowID {
			continue
		}
		if run.State == workflow.RunStatePending || run.State == workflow.RunStateRunning {
			return true, nil
		}
	}
	return false, nil
}

func (m *Store) StaleRuns(_ context.Context, cutoff time.Time) ([]*workflow.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*workflow.Run
	for _, run := range m.runs {
		if run.State != workflow.RunStateRunning {
			continue
		}
		if run.HeartbeatAt == nil || run.HeartbeatAt.After(cutoff) {
			continue
		}
		out = append(out, cloneRun(run))
	}
	return out, nil
}

func (m *Store) RequeueRun(_ context.Context, runID id.RunID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	run, ok := m.runs[runID.String()]
	if !ok {
		return loom.ErrRunNotFound
	}
	if run.State.Terminal() {
		return loom.ErrRunTerminal
	}
	run.State = workflow.RunStatePending
	run.ClaimedBy = id.WorkerID{}
	run.StartedAt = nil
	run.HeartbeatAt = nil
	run.Touch()
	return nil
}

// ──────────────────────────────────────────────────
// Agent Store
// ──────────────────────────────────────────────────

func (m *Store) CreateAgent(_ context.Context, a *agent.Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.agents[a.ID.String()] = cloneAgent(a)
	return nil
}

func (m *Store) GetAgent(_ context.Context, agentID id.AgentID) (*agent.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.agents[agentID.String()]
	if !ok {
		return nil, loom.ErrAgentNotFound
	}
	return cloneAgent(a), nil
}

func (m *Store) UpdateAgent(_ context.Context, a *agent.Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := a.ID.String()
	if _, ok := m.agents[key]; !ok {
		return loom.ErrAgentNotFound
	}
	m.agents[key] = cloneAgent(a)
	return nil
}

func (m *Store) ListAgents(_ context.Context, opts agent.ListOpts) ([]*agent.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*agent.Agent, 0, len(m.agents))
	for _, a := range m.agents {
		if opts.Status != "" && a.Status != opts.Status {
			continue
		}
		out = append(out, cloneAgent(a))
	}
	sort.Slice(out, func(i, k int) bool {
		if !out[i].CreatedAt.Equal(out[k].CreatedAt) {
			return out[i].CreatedAt.Before(out[k].CreatedAt)
		}
		return out[i].ID.String() < out[k].ID.String()
	})
	return page(out, opts.Offset, opts.Limit), nil
}

// ──────────────────────────────────────────────────
// Capability Store
// ──────────────────────────────────────────────────

func (m *Store) CreateCapability(_ context.Context, srv *capability.Server) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.capabilities {
		if existing.Endpoint == srv.Endpoint {
			return loom.ErrDuplicateCapability
		}
	}
	m.capabilities[srv.ID.String()] = cloneServer(srv)
	return nil
}

func (m *Store) GetCapability(_ context.Context, capabilityID id.CapabilityID) (*capability.Server, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	srv, ok := m.capabilities[capabilityID.String()]
	if !ok {
		return nil, loom.ErrCapabilityNotFound
	}
	return cloneServer(srv), nil
}

func (m *Store) GetCapabilityByEndpoint(_ context.Context, endpoint string) (*capability.Server, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, srv := range m.capabilities {
		if srv.Endpoint == endpoint {
			return cloneServer(srv), nil
		}
	}
	return nil, loom.ErrCapabilityNotFound
}

func (m *Store) UpdateCapability(_ context.Context, srv *capability.Server) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := srv.ID.String()
	if _, ok := m.capabilities[key]; !ok {
		return loom.ErrCapabilityNotFound
	}
	m.capabilities[key] = cloneServer(srv)
	return nil
}

func (m *Store) DeleteCapability(_ context.Context, capabilityID id.CapabilityID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := capabilityID.String()
	if _, ok := m.capabilities[key]; !ok {
		return loom.ErrCapabilityNotFound
	}
	delete(m.capabilities, key)
	return nil
}

func (m *Store) ListCapabilities(_ context.Context, opts capability.ListOpts) ([]*capability.Server, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*capability.Server, 0, len(m.capabilities))
	for _, srv := range m.capabilities {
		if opts.Health != "" && srv.Health != opts.Health {
			continue
		}
		out = append(out, cloneServer(srv))
	}
	sort.Slice(out, func(i, k int) bool {
		if !out[i].CreatedAt.Equal(out[k].CreatedAt) {
			return out[i].CreatedAt.Before(out[k].CreatedAt)
		}
		return out[i].ID.String() < out[k].ID.String()
	})
	return page(out, opts.Offset, opts.Limit), nil
}

// ──────────────────────────────────────────────────
// Trigger Store
// ──────────────────────────────────────────────────

func (m *Store) CreateTrigger(_ context.Context, t *trigger.Trigger) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := t.ID.String()
	if _, exists := m.triggers[key]; exists {
		return loom.ErrDuplicateTrigger
	}
	cp := *t
	m.triggers[key] = &cp
	return nil
}

func (m *Store) GetTrigger(_ context.Context, triggerID id.TriggerID) (*trigger.Trigger, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.triggers[triggerID.String()]
	if !ok {
		return nil, loom.ErrTriggerNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *Store) UpdateTrigger(_ context.Context, t *trigger.Trigger) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := t.ID.String()
	if _, ok := m.triggers[key]; !ok {
		return loom.ErrTriggerNotFound
	}
	cp := *t
	m.triggers[key] = &cp
	return nil
}

func (m *Store) DeleteTrigger(_ context.Context, triggerID id.TriggerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := triggerID.String()
	if _, ok := m.triggers[key]; !ok {
		return loom.ErrTriggerNotFound
	}
	delete(m.triggers, key)
	return nil
}

func (m *Store) ListTriggers(_ context.Context, opts trigger.ListOpts) ([]*trigger.Trigger, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*trigger.Trigger, 0, len(m.triggers))
	for _, t := range m.triggers {
		if !opts.WorkflowID.IsNil() && t.WorkflowID != opts.WorkflowID {
			continue
		}
		if opts.Kind != "" && t.Kind != opts.Kind {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, k int) bool {
		if !out[i].CreatedAt.Equal(out[k].CreatedAt) {
			return out[i].CreatedAt.Before(out[k].CreatedAt)
		}
		return out[i].ID.String() < out[k].ID.String()
	})
	return page(out, opts.Offset, opts.Limit), nil
}

// ──────────────────────────────────────────────────
// Activity Store
// ──────────────────────────────────────────────────

func (m *Store) AppendActivity(_ context.Context, e *activity.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *e
	m.activities = append(m.activities, &cp)
	return nil
}

// ListActivities returns matching entries, newest first.
func (m *Store) ListActivities(_ context.Context, opts activity.ListOpts) ([]*activity.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*activity.Entry, 0, len(m.activities))
	for i := len(m.activities) - 1; i >= 0; i-- {
		e := m.activities[i]
		if opts.Resource != "" && e.Resource != opts.Resource {
			continue
		}
		if opts.ResourceID != "" && e.ResourceID != opts.ResourceID {
			continue
		}
		if opts.Action != "" && e.Action != opts.Action {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	return page(out, opts.Offset, opts.Limit), nil
}

// The clone helpers deep-copy the slice fields, so neither in-place
// mutation of a returned entity nor a caller's later writes through a
// retained pointer can touch store state. Shallow struct copies are
// not enough: the slice headers would still alias the stored backing
// arrays.

func cloneWorkflow(wf *workflow.Workflow) *workflow.Workflow {
	cp := *wf
	cp.Steps = cloneSteps(wf.Steps)
	return &cp
}

func cloneRun(run *workflow.Run) *workflow.Run {
	cp := *run
	cp.Steps = cloneSteps(run.Steps)
	cp.Outcomes = slices.Clone(run.Outcomes)
	return &cp
}

func cloneSteps(steps []workflow.Step) []workflow.Step {
	out := slices.Clone(steps)
	for i := range out {
		out[i].DependsOn = slices.Clone(out[i].DependsOn)
	}
	return out
}

func cloneAgent(a *agent.Agent) *agent.Agent {
	cp := *a
	cp.CapabilityIDs = slices.Clone(a.CapabilityIDs)
	return &cp
}

func cloneServer(srv *capability.Server) *capability.Server {
	cp := *srv
	cp.Tools = slices.Clone(srv.Tools)
	return &cp
}

// page applies offset/limit paging to a sorted slice.
func page[T any](in []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(in) {
			return nil
		}
		in = in[offset:]
	}
	if limit > 0 && len(in) > limit {
		in = in[:limit]
	}
	return in
}
