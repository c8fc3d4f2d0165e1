//go:build integration

package postgres_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	pgmodule "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/strandhq/loom"
	"github.com/strandhq/loom/activity"
	"github.com/strandhq/loom/agent"
	"github.com/strandhq/loom/capability"
	"github.com/strandhq/loom/id"
	"github.com/strandhq/loom/store/postgres"
	"github.com/strandhq/loom/trigger"
	"github.com/strandhq/loom/workflow"
)

// setupTestStore creates a Postgres container and returns a migrated Store.
func setupTestStore(t *testing.T) *postgres.Store {
	t.Helper()

	ctx := context.Background()

	container, err := pgmodule.Run(ctx,
		"postgres:16-alpine",
		pgmodule.WithDatabase("loom_test"),
		pgmodule.WithUsername("test"),
		pgmodule.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if termErr := container.Terminate(ctx); termErr != nil {
			t.Logf("terminate container: %v", termErr)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("get connection string: %v", err)
	}

	store, err := postgres.New(ctx, connStr, postgres.WithLogger(slog.Default()))
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})

	if migErr := store.Migrate(ctx); migErr != nil {
		t.Fatalf("migrate: %v", migErr)
	}

	return store
}

func testWorkflow(name string) *workflow.Workflow {
	return &workflow.Workflow{
		Entity: loom.NewEntity(),
		ID:     id.NewWorkflowID(),
		Name:   name,
		Status: workflow.StatusActive,
		Steps: []workflow.Step{
			{ID: "fetch", Name: "Fetch", AgentID: id.NewAgentID()},
			{ID: "send", Name: "Send", AgentID: id.NewAgentID(), DependsOn: []string{"fetch"}},
		},
	}
}

func TestStore_Ping(t *testing.T) {
	s := setupTestStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("ping failed: %v", err)
	}
}

func TestStore_MigrateIdempotent(t *testing.T) {
	s := setupTestStore(t)
	// Second migrate should be a no-op.
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("second migrate failed: %v", err)
	}
}

func TestWorkflowStore_CreateGetUpdate(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	wf := testWorkflow("order-pipeline")
	if err := s.CreateWorkflow(ctx, wf); err != nil {
		t.Fatalf("create: %v", err)
	}

	if dupErr := s.CreateWorkflow(ctx, wf); !errors.Is(dupErr, loom.ErrWorkflowExists) {
		t.Fatalf("expected ErrWorkflowExists, got: %v", dupErr)
	}

	got, err := s.GetWorkflow(ctx, wf.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "order-pipeline" {
		t.Fatalf("expected order-pipeline, got %s", got.Name)
	}
	if len(got.Steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(got.Steps))
	}
	if got.Steps[1].DependsOn[0] != "fetch" {
		t.Fatalf("expected dependency fetch, got %v", got.Steps[1].DependsOn)
	}

	got.Status = workflow.StatusInactive
	if err = s.UpdateWorkflow(ctx, got); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err = s.GetWorkflow(ctx, wf.ID)
	if err != nil {
		t.Fatalf("get after update: %v", err)
	}
	if got.Status != workflow.StatusInactive {
		t.Fatalf("expected inactive, got %s", got.Status)
	}

	_, getErr := s.GetWorkflow(ctx, id.NewWorkflowID())
	if !errors.Is(getErr, loom.ErrWorkflowNotFound) {
		t.Fatalf("expected ErrWorkflowNotFound, got: %v", getErr)
	}
}

func TestWorkflowStore_ListByStatus(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		wf := testWorkflow(fmt.Sprintf("wf-%d", i))
		if i == 2 {
			wf.Status = workflow.StatusInactive
		}
		if err := s.CreateWorkflow(ctx, wf); err != nil {
			t.Fatalf("create wf-%d: %v", i, err)
		}
	}

	active, err := s.ListWorkflows(ctx, workflow.ListOpts{Status: workflow.StatusActive})
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("expected 2 active, got %d", len(active))
	}
}

func TestRunStore_CreateGetUpdate(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	wf := testWorkflow("run-wf")
	run := workflow.NewRun(wf, workflow.SourceManual, []byte(`{"order":"123"}`))

	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatalf("create run: %v", err)
	}

	got, err := s.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got.State != workflow.RunStatePending {
		t.Fatalf("expected pending, got %s", got.State)
	}
	if string(got.Input) != `{"order":"123"}` {
		t.Fatalf("unexpected input: %s", got.Input)
	}

	got.State = workflow.RunStateSucceeded
	now := time.Now().UTC()
	got.EndedAt = &now
	got.SetOutcome(workflow.StepOutcome{StepID: "fetch", State: workflow.StepStateSucceeded, Attempts: 1})

	if err = s.UpdateRun(ctx, got); err != nil {
		t.Fatalf("update run: %v", err)
	}

	got, err = s.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("get after update: %v", err)
	}
	if got.State != workflow.RunStateSucceeded {
		t.Fatalf("expected succeeded, got %s", got.State)
	}
	if got.Outcome("fetch") == nil {
		t.Fatal("expected fetch outcome to persist")
	}
}

func TestRunStore_UpdateRunRefusesTerminalOverwrite(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	wf := testWorkflow("terminal-wf")
	run := workflow.NewRun(wf, workflow.SourceManual, nil)
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatalf("create run: %v", err)
	}

	stale, err := s.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}

	finished, _ := s.GetRun(ctx, run.ID)
	finished.State = workflow.RunStateSucceeded
	if err := s.UpdateRun(ctx, finished); err != nil {
		t.Fatalf("finalize run: %v", err)
	}

	stale.State = workflow.RunStateRunning
	if err := s.UpdateRun(ctx, stale); !errors.Is(err, loom.ErrRunTerminal) {
		t.Fatalf("stale overwrite = %v, want ErrRunTerminal", err)
	}
	got, _ := s.GetRun(ctx, run.ID)
	if got.State != workflow.RunStateSucceeded {
		t.Fatalf("state = %s, terminal run was rewritten", got.State)
	}
}

func TestRunStore_RequestCancel(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	wf := testWorkflow("cancel-wf")
	pending := workflow.NewRun(wf, workflow.SourceManual, nil)
	if err := s.CreateRun(ctx, pending); err != nil {
		t.Fatalf("create run: %v", err)
	}

	got, finalized, err := s.RequestCancel(ctx, pending.ID)
	if err != nil {
		t.Fatalf("request cancel: %v", err)
	}
	if !finalized {
		t.Fatal("pending run not finalized by cancel")
	}
	if got.State != workflow.RunStateCancelled || !got.CancelRequested {
		t.Fatalf("state = %s, cancel_requested = %v", got.State, got.CancelRequested)
	}
	if o := got.Outcome("fetch"); o == nil || o.State != workflow.StepStateCancelled {
		t.Fatalf("fetch outcome = %+v, want cancelled", o)
	}

	// A second request reports nothing to finalize.
	_, finalized, err = s.RequestCancel(ctx, pending.ID)
	if err != nil {
		t.Fatalf("second request cancel: %v", err)
	}
	if finalized {
		t.Fatal("terminal run reported as finalized again")
	}

	// A running run only gets the flag, and the flag outlives a
	// full-row write from a view taken before the request.
	running := workflow.NewRun(wf, workflow.SourceManual, nil)
	if err := s.CreateRun(ctx, running); err != nil {
		t.Fatalf("create run: %v", err)
	}
	if ok, err := s.BeginRun(ctx, running.ID, id.NewWorkerID()); err != nil || !ok {
		t.Fatalf("begin run: ok=%v err=%v", ok, err)
	}
	stale, err := s.GetRun(ctx, running.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}

	got, finalized, err = s.RequestCancel(ctx, running.ID)
	if err != nil {
		t.Fatalf("request cancel: %v", err)
	}
	if finalized {
		t.Fatal("running run finalized by cancel request")
	}
	if got.State != workflow.RunStateRunning || !got.CancelRequested {
		t.Fatalf("state = %s, cancel_requested = %v", got.State, got.CancelRequested)
	}

	if err := s.UpdateRun(ctx, stale); err != nil {
		t.Fatalf("update run: %v", err)
	}
	after, _ := s.GetRun(ctx, running.ID)
	if !after.CancelRequested {
		t.Fatal("full-row update erased the cancel flag")
	}

	if _, _, err := s.RequestCancel(ctx, id.NewRunID()); !errors.Is(err, loom.ErrRunNotFound) {
		t.Fatalf("unknown run = %v, want ErrRunNotFound", err)
	}
}

func TestRunStore_PendingRunsDueAndOrdered(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	wf := testWorkflow("pending-wf")

	early := workflow.NewRun(wf, workflow.SourceManual, nil)
	early.RunAt = time.Now().UTC().Add(-2 * time.Minute)
	late := workflow.NewRun(wf, workflow.SourceManual, nil)
	late.RunAt = time.Now().UTC().Add(-1 * time.Minute)
	future := workflow.NewRun(wf, workflow.SourceManual, nil)
	future.RunAt = time.Now().UTC().Add(1 * time.Hour)

	for _, r := range []*workflow.Run{late, future, early} {
		if err := s.CreateRun(ctx, r); err != nil {
			t.Fatalf("create run: %v", err)
		}
	}

	due, err := s.PendingRuns(ctx, 10)
	if err != nil {
		t.Fatalf("pending runs: %v", err)
	}
	if len(due) != 2 {
		t.Fatalf("expected 2 due runs, got %d", len(due))
	}
	if due[0].ID.String() != early.ID.String() {
		t.Fatalf("expected oldest run first, got %s", due[0].ID)
	}
}

func TestRunStore_BeginRunClaimsOnce(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	wf := testWorkflow("claim-wf")
	run := workflow.NewRun(wf, workflow.SourceManual, nil)
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatalf("create run: %v", err)
	}

	worker1 := id.NewWorkerID()
	worker2 := id.NewWorkerID()

	ok, err := s.BeginRun(ctx, run.ID, worker1)
	if err != nil {
		t.Fatalf("begin by worker1: %v", err)
	}
	if !ok {
		t.Fatal("expected worker1 to claim")
	}

	ok, err = s.BeginRun(ctx, run.ID, worker2)
	if err != nil {
		t.Fatalf("begin by worker2: %v", err)
	}
	if ok {
		t.Fatal("expected worker2 claim to fail")
	}

	got, err := s.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != workflow.RunStateRunning {
		t.Fatalf("expected running, got %s", got.State)
	}
	if got.ClaimedBy.String() != worker1.String() {
		t.Fatalf("expected claim by worker1, got %s", got.ClaimedBy)
	}
	if got.StartedAt == nil || got.HeartbeatAt == nil {
		t.Fatal("expected started_at and heartbeat_at to be set")
	}

	_, beginErr := s.BeginRun(ctx, id.NewRunID(), worker1)
	if !errors.Is(beginErr, loom.ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got: %v", beginErr)
	}
}

func TestRunStore_HeartbeatRejectsWrongWorker(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	wf := testWorkflow("hb-wf")
	run := workflow.NewRun(wf, workflow.SourceManual, nil)
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatalf("create run: %v", err)
	}

	worker := id.NewWorkerID()
	if _, err := s.BeginRun(ctx, run.ID, worker); err != nil {
		t.Fatalf("begin: %v", err)
	}

	if err := s.HeartbeatRun(ctx, run.ID, worker); err != nil {
		t.Fatalf("heartbeat by claimer: %v", err)
	}

	if err := s.HeartbeatRun(ctx, run.ID, id.NewWorkerID()); !errors.Is(err, loom.ErrRunConflict) {
		t.Fatalf("expected ErrRunConflict, got: %v", err)
	}

	if err := s.HeartbeatRun(ctx, id.NewRunID(), worker); !errors.Is(err, loom.ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got: %v", err)
	}
}

func TestRunStore_WorkflowClaimExclusive(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	workflowID := id.NewWorkflowID()
	run1 := id.NewRunID()
	run2 := id.NewRunID()

	ok, err := s.AcquireWorkflowClaim(ctx, workflowID, run1)
	if err != nil {
		t.Fatalf("acquire by run1: %v", err)
	}
	if !ok {
		t.Fatal("expected run1 to acquire")
	}

	// Re-acquire by the holder is idempotent.
	ok, err = s.AcquireWorkflowClaim(ctx, workflowID, run1)
	if err != nil {
		t.Fatalf("re-acquire by run1: %v", err)
	}
	if !ok {
		t.Fatal("expected holder re-acquire to succeed")
	}

	ok, err = s.AcquireWorkflowClaim(ctx, workflowID, run2)
	if err != nil {
		t.Fatalf("acquire by run2: %v", err)
	}
	if ok {
		t.Fatal("expected run2 acquire to fail")
	}

	// Release by a non-holder is a no-op.
	if err = s.ReleaseWorkflowClaim(ctx, workflowID, run2); err != nil {
		t.Fatalf("release by run2: %v", err)
	}
	ok, err = s.AcquireWorkflowClaim(ctx, workflowID, run2)
	if err != nil {
		t.Fatalf("acquire after no-op release: %v", err)
	}
	if ok {
		t.Fatal("expected claim still held by run1")
	}

	if err = s.ReleaseWorkflowClaim(ctx, workflowID, run1); err != nil {
		t.Fatalf("release by run1: %v", err)
	}
	ok, err = s.AcquireWorkflowClaim(ctx, workflowID, run2)
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	if !ok {
		t.Fatal("expected run2 to acquire after release")
	}
}

func TestRunStore_StaleRunsAndRequeue(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	wf := testWorkflow("stale-wf")
	run := workflow.NewRun(wf, workflow.SourceManual, nil)
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatalf("create run: %v", err)
	}

	worker := id.NewWorkerID()
	if _, err := s.BeginRun(ctx, run.ID, worker); err != nil {
		t.Fatalf("begin: %v", err)
	}

	// Fresh heartbeat is not stale.
	stale, err := s.StaleRuns(ctx, time.Now().UTC().Add(-time.Minute))
	if err != nil {
		t.Fatalf("stale runs: %v", err)
	}
	if len(stale) != 0 {
		t.Fatalf("expected 0 stale, got %d", len(stale))
	}

	// A cutoff in the future makes the run stale.
	stale, err = s.StaleRuns(ctx, time.Now().UTC().Add(time.Minute))
	if err != nil {
		t.Fatalf("stale runs: %v", err)
	}
	if len(stale) != 1 {
		t.Fatalf("expected 1 stale, got %d", len(stale))
	}

	if err = s.RequeueRun(ctx, run.ID); err != nil {
		t.Fatalf("requeue: %v", err)
	}

	got, err := s.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != workflow.RunStatePending {
		t.Fatalf("expected pending after requeue, got %s", got.State)
	}
	if !got.ClaimedBy.IsNil() {
		t.Fatalf("expected claim cleared, got %s", got.ClaimedBy)
	}
	if got.StartedAt != nil || got.HeartbeatAt != nil {
		t.Fatal("expected started_at and heartbeat_at cleared")
	}

	// Terminal runs cannot be requeued.
	got.State = workflow.RunStateSucceeded
	if err = s.UpdateRun(ctx, got); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err = s.RequeueRun(ctx, run.ID); !errors.Is(err, loom.ErrRunTerminal) {
		t.Fatalf("expected ErrRunTerminal, got: %v", err)
	}
}

func TestRunStore_HasActiveRunAndCount(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	wf := testWorkflow("active-wf")

	active, err := s.HasActiveRun(ctx, wf.ID)
	if err != nil {
		t.Fatalf("has active: %v", err)
	}
	if active {
		t.Fatal("expected no active run")
	}

	run := workflow.NewRun(wf, workflow.SourceManual, nil)
	if err = s.CreateRun(ctx, run); err != nil {
		t.Fatalf("create run: %v", err)
	}

	active, err = s.HasActiveRun(ctx, wf.ID)
	if err != nil {
		t.Fatalf("has active: %v", err)
	}
	if !active {
		t.Fatal("expected active run")
	}

	count, err := s.CountRuns(ctx, workflow.RunListOpts{WorkflowID: wf.ID})
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1, got %d", count)
	}
}

func TestAgentStore_CRUD(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	a := &agent.Agent{
		Entity:        loom.NewEntity(),
		ID:            id.NewAgentID(),
		Name:          "mailer",
		Status:        agent.StatusActive,
		Endpoint:      "http://mailer.internal/invoke",
		CapabilityIDs: []id.CapabilityID{id.NewCapabilityID()},
		Config:        []byte(`{"from":"noreply@example.com"}`),
	}

	if err := s.CreateAgent(ctx, a); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := s.GetAgent(ctx, a.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "mailer" {
		t.Fatalf("expected mailer, got %s", got.Name)
	}
	if len(got.CapabilityIDs) != 1 {
		t.Fatalf("expected 1 capability binding, got %d", len(got.CapabilityIDs))
	}

	got.Status = agent.StatusInactive
	if err = s.UpdateAgent(ctx, got); err != nil {
		t.Fatalf("update: %v", err)
	}

	inactive, err := s.ListAgents(ctx, agent.ListOpts{Status: agent.StatusInactive})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(inactive) != 1 {
		t.Fatalf("expected 1 inactive, got %d", len(inactive))
	}

	_, getErr := s.GetAgent(ctx, id.NewAgentID())
	if !errors.Is(getErr, loom.ErrAgentNotFound) {
		t.Fatalf("expected ErrAgentNotFound, got: %v", getErr)
	}
}

func TestCapabilityStore_EndpointUnique(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	srv := &capability.Server{
		Entity:   loom.NewEntity(),
		ID:       id.NewCapabilityID(),
		Name:     "search",
		Endpoint: "http://search.internal/mcp",
		Health:   capability.HealthUnknown,
	}
	if err := s.CreateCapability(ctx, srv); err != nil {
		t.Fatalf("create: %v", err)
	}

	dup := &capability.Server{
		Entity:   loom.NewEntity(),
		ID:       id.NewCapabilityID(),
		Name:     "search-2",
		Endpoint: "http://search.internal/mcp",
		Health:   capability.HealthUnknown,
	}
	if err := s.CreateCapability(ctx, dup); !errors.Is(err, loom.ErrDuplicateCapability) {
		t.Fatalf("expected ErrDuplicateCapability, got: %v", err)
	}

	got, err := s.GetCapabilityByEndpoint(ctx, "http://search.internal/mcp")
	if err != nil {
		t.Fatalf("get by endpoint: %v", err)
	}
	if got.ID.String() != srv.ID.String() {
		t.Fatalf("expected %s, got %s", srv.ID, got.ID)
	}

	got.Health = capability.HealthHealthy
	got.Tools = []capability.Tool{{Name: "search_web"}}
	now := time.Now().UTC()
	got.LastProbeAt = &now
	if err = s.UpdateCapability(ctx, got); err != nil {
		t.Fatalf("update: %v", err)
	}

	healthy, err := s.ListCapabilities(ctx, capability.ListOpts{Health: capability.HealthHealthy})
	if err != nil {
		t.Fatalf("list healthy: %v", err)
	}
	if len(healthy) != 1 {
		t.Fatalf("expected 1 healthy, got %d", len(healthy))
	}
	if len(healthy[0].Tools) != 1 || healthy[0].Tools[0].Name != "search_web" {
		t.Fatalf("expected tool search_web, got %v", healthy[0].Tools)
	}

	if err = s.DeleteCapability(ctx, srv.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err = s.DeleteCapability(ctx, srv.ID); !errors.Is(err, loom.ErrCapabilityNotFound) {
		t.Fatalf("expected ErrCapabilityNotFound, got: %v", err)
	}
}

func TestTriggerStore_CRUDAndFilters(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	workflowID := id.NewWorkflowID()

	cronTrig := &trigger.Trigger{
		Entity:     loom.NewEntity(),
		ID:         id.NewTriggerID(),
		WorkflowID: workflowID,
		Name:       "nightly",
		Kind:       trigger.KindCron,
		Enabled:    true,
		Schedule:   "0 2 * * *",
	}
	eventTrig := &trigger.Trigger{
		Entity:       loom.NewEntity(),
		ID:           id.NewTriggerID(),
		WorkflowID:   id.NewWorkflowID(),
		Name:         "on-order",
		Kind:         trigger.KindEvent,
		Enabled:      true,
		EventPattern: "order.*",
	}

	for _, tr := range []*trigger.Trigger{cronTrig, eventTrig} {
		if err := s.CreateTrigger(ctx, tr); err != nil {
			t.Fatalf("create %s: %v", tr.Name, err)
		}
	}

	if err := s.CreateTrigger(ctx, cronTrig); !errors.Is(err, loom.ErrDuplicateTrigger) {
		t.Fatalf("expected ErrDuplicateTrigger, got: %v", err)
	}

	byWorkflow, err := s.ListTriggers(ctx, trigger.ListOpts{WorkflowID: workflowID})
	if err != nil {
		t.Fatalf("list by workflow: %v", err)
	}
	if len(byWorkflow) != 1 || byWorkflow[0].Name != "nightly" {
		t.Fatalf("expected nightly only, got %d", len(byWorkflow))
	}

	events, err := s.ListTriggers(ctx, trigger.ListOpts{Kind: trigger.KindEvent})
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 1 || events[0].Name != "on-order" {
		t.Fatalf("expected on-order only, got %d", len(events))
	}

	now := time.Now().UTC()
	cronTrig.LastFiredAt = &now
	if err = s.UpdateTrigger(ctx, cronTrig); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err := s.GetTrigger(ctx, cronTrig.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.LastFiredAt == nil {
		t.Fatal("expected last_fired_at to be set")
	}

	if err = s.DeleteTrigger(ctx, eventTrig.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err = s.GetTrigger(ctx, eventTrig.ID); !errors.Is(err, loom.ErrTriggerNotFound) {
		t.Fatalf("expected ErrTriggerNotFound, got: %v", err)
	}
}

func TestActivityStore_NewestFirstWithFilters(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	runID := id.NewRunID()
	base := time.Now().UTC()
	for i := 0; i < 3; i++ {
		e := &activity.Entry{
			Entity: loom.Entity{
				CreatedAt: base.Add(time.Duration(i) * time.Second),
				UpdatedAt: base.Add(time.Duration(i) * time.Second),
			},
			ID:         id.NewActivityID(),
			Action:     activity.ActionStepSucceeded,
			Resource:   activity.ResourceRun,
			ResourceID: runID.String(),
			Severity:   activity.SeverityInfo,
			Outcome:    activity.OutcomeSuccess,
			Metadata:   map[string]any{"step_id": fmt.Sprintf("step-%d", i)},
		}
		if err := s.AppendActivity(ctx, e); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	entries, err := s.ListActivities(ctx, activity.ListOpts{
		Resource:   activity.ResourceRun,
		ResourceID: runID.String(),
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3, got %d", len(entries))
	}
	if entries[0].Metadata["step_id"] != "step-2" {
		t.Fatalf("expected newest first, got %v", entries[0].Metadata["step_id"])
	}

	limited, err := s.ListActivities(ctx, activity.ListOpts{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("list paged: %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("expected 1, got %d", len(limited))
	}

	none, err := s.ListActivities(ctx, activity.ListOpts{Action: activity.ActionRunFailed})
	if err != nil {
		t.Fatalf("list filtered: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("expected 0, got %d", len(none))
	}
}
