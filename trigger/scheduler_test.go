package trigger_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/strandhq/loom"
	"github.com/strandhq/loom/id"
	"github.com/strandhq/loom/trigger"
	"github.com/strandhq/loom/workflow"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeTriggerStore struct {
	mu       sync.Mutex
	triggers map[id.TriggerID]*trigger.Trigger
}

func newFakeTriggerStore() *fakeTriggerStore {
	return &fakeTriggerStore{triggers: make(map[id.TriggerID]*trigger.Trigger)}
}

func (s *fakeTriggerStore) CreateTrigger(_ context.Context, t *trigger.Trigger) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.triggers[t.ID] = &cp
	return nil
}

func (s *fakeTriggerStore) GetTrigger(_ context.Context, triggerID id.TriggerID) (*trigger.Trigger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.triggers[triggerID]
	if !ok {
		return nil, loom.ErrTriggerNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *fakeTriggerStore) UpdateTrigger(_ context.Context, t *trigger.Trigger) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.triggers[t.ID]; !ok {
		return loom.ErrTriggerNotFound
	}
	cp := *t
	s.triggers[t.ID] = &cp
	return nil
}

func (s *fakeTriggerStore) DeleteTrigger(_ context.Context, triggerID id.TriggerID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.triggers, triggerID)
	return nil
}

func (s *fakeTriggerStore) ListTriggers(_ context.Context, opts trigger.ListOpts) ([]*trigger.Trigger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*trigger.Trigger
	for _, t := range s.triggers {
		if opts.Kind != "" && t.Kind != opts.Kind {
			continue
		}
		if !opts.WorkflowID.IsNil() && t.WorkflowID != opts.WorkflowID {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	return out, nil
}

type fakeWorkflowSource struct {
	mu   sync.Mutex
	wf   *workflow.Workflow
	busy bool
}

func (s *fakeWorkflowSource) GetWorkflow(_ context.Context, workflowID id.WorkflowID) (*workflow.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.wf == nil || s.wf.ID != workflowID {
		return nil, loom.ErrWorkflowNotFound
	}
	cp := *s.wf
	return &cp, nil
}

func (s *fakeWorkflowSource) HasActiveRun(_ context.Context, _ id.WorkflowID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy, nil
}

type emitRecorder struct {
	mu      sync.Mutex
	fired   []id.RunID
	skipped []string
}

func (r *emitRecorder) EmitTriggerFired(_ context.Context, _ id.TriggerID, _ id.WorkflowID, runID id.RunID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fired = append(r.fired, runID)
}

func (r *emitRecorder) EmitTriggerSkipped(_ context.Context, _ id.TriggerID, _ id.WorkflowID, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.skipped = append(r.skipped, reason)
}

type schedulerFixture struct {
	store   *fakeTriggerStore
	source  *fakeWorkflowSource
	emitter *emitRecorder
	sched   *trigger.Scheduler
	started int
	mu      sync.Mutex
}

func newFixture(t *testing.T, wf *workflow.Workflow) *schedulerFixture {
	t.Helper()
	f := &schedulerFixture{
		store:   newFakeTriggerStore(),
		source:  &fakeWorkflowSource{wf: wf},
		emitter: &emitRecorder{},
	}
	start := func(_ context.Context, _ id.WorkflowID, _ workflow.Source, _ json.RawMessage, _ id.TriggerID) (id.RunID, error) {
		f.mu.Lock()
		f.started++
		f.mu.Unlock()
		return id.NewRunID(), nil
	}
	f.sched = trigger.NewScheduler(f.store, f.source, start, f.emitter, testLogger())
	return f
}

func activeWorkflow() *workflow.Workflow {
	return &workflow.Workflow{
		ID:     id.NewWorkflowID(),
		Name:   "scheduled",
		Status: workflow.StatusActive,
		Steps:  []workflow.Step{{ID: "a", AgentID: id.NewAgentID()}},
	}
}

func dueCronTrigger(wfID id.WorkflowID) *trigger.Trigger {
	past := time.Now().UTC().Add(-time.Minute)
	return &trigger.Trigger{
		ID:         id.NewTriggerID(),
		WorkflowID: wfID,
		Name:       "every-minute",
		Kind:       trigger.KindCron,
		Schedule:   "* * * * *",
		Enabled:    true,
		NextFireAt: &past,
	}
}

func TestTickFiresDueCronTrigger(t *testing.T) {
	t.Parallel()

	wf := activeWorkflow()
	f := newFixture(t, wf)
	trg := dueCronTrigger(wf.ID)
	_ = f.store.CreateTrigger(context.Background(), trg)

	f.sched.Tick(context.Background())

	if f.started != 1 {
		t.Fatalf("started = %d, want 1", f.started)
	}
	if len(f.emitter.fired) != 1 {
		t.Errorf("fired events = %d, want 1", len(f.emitter.fired))
	}

	// NextFireAt must have advanced past now (no backfill).
	updated, _ := f.store.GetTrigger(context.Background(), trg.ID)
	if updated.NextFireAt == nil || !updated.NextFireAt.After(time.Now().UTC().Add(-time.Second)) {
		t.Errorf("NextFireAt = %v, want advanced from wall clock", updated.NextFireAt)
	}
	if updated.LastFiredAt == nil {
		t.Error("LastFiredAt not recorded")
	}
}

func TestTickSchedulesForwardWithoutBackfill(t *testing.T) {
	t.Parallel()

	wf := activeWorkflow()
	f := newFixture(t, wf)
	trg := dueCronTrigger(wf.ID)
	trg.NextFireAt = nil // fresh trigger, never scheduled
	_ = f.store.CreateTrigger(context.Background(), trg)

	f.sched.Tick(context.Background())

	// First tick only schedules; it must not fire.
	if f.started != 0 {
		t.Fatalf("started = %d, want 0 on scheduling tick", f.started)
	}
	updated, _ := f.store.GetTrigger(context.Background(), trg.ID)
	if updated.NextFireAt == nil {
		t.Fatal("NextFireAt not initialized")
	}
}

func TestTickIgnoresDisabledTriggers(t *testing.T) {
	t.Parallel()

	wf := activeWorkflow()
	f := newFixture(t, wf)
	trg := dueCronTrigger(wf.ID)
	trg.Enabled = false
	_ = f.store.CreateTrigger(context.Background(), trg)

	f.sched.Tick(context.Background())

	if f.started != 0 {
		t.Errorf("started = %d, want 0", f.started)
	}
}

func TestSkipIfBusyPolicy(t *testing.T) {
	t.Parallel()

	wf := activeWorkflow()
	wf.OnBusy = workflow.BusySkip
	f := newFixture(t, wf)
	f.source.busy = true
	_ = f.store.CreateTrigger(context.Background(), dueCronTrigger(wf.ID))

	f.sched.Tick(context.Background())

	if f.started != 0 {
		t.Fatalf("started = %d, want 0 (busy, skip policy)", f.started)
	}
	if len(f.emitter.skipped) != 1 || f.emitter.skipped[0] != "workflow busy" {
		t.Errorf("skipped = %v, want [workflow busy]", f.emitter.skipped)
	}

	// Once the workflow frees up, the next due occurrence fires.
	f.source.busy = false
	trgs, _ := f.store.ListTriggers(context.Background(), trigger.ListOpts{})
	past := time.Now().UTC().Add(-time.Second)
	trgs[0].NextFireAt = &past
	_ = f.store.UpdateTrigger(context.Background(), trgs[0])

	f.sched.Tick(context.Background())
	if f.started != 1 {
		t.Errorf("started = %d, want 1 after workflow freed", f.started)
	}
}

func TestQueuePolicyStartsRunWhileBusy(t *testing.T) {
	t.Parallel()

	wf := activeWorkflow()
	wf.OnBusy = workflow.BusyQueue
	f := newFixture(t, wf)
	f.source.busy = true
	_ = f.store.CreateTrigger(context.Background(), dueCronTrigger(wf.ID))

	f.sched.Tick(context.Background())

	// Queue policy creates the pending run; the pool starts it later.
	if f.started != 1 {
		t.Errorf("started = %d, want 1 (queued)", f.started)
	}
	if len(f.emitter.skipped) != 0 {
		t.Errorf("skipped = %v, want none", f.emitter.skipped)
	}
}

func TestInactiveWorkflowSkips(t *testing.T) {
	t.Parallel()

	wf := activeWorkflow()
	wf.Status = workflow.StatusInactive
	f := newFixture(t, wf)
	_ = f.store.CreateTrigger(context.Background(), dueCronTrigger(wf.ID))

	f.sched.Tick(context.Background())

	if f.started != 0 {
		t.Errorf("started = %d, want 0", f.started)
	}
	if len(f.emitter.skipped) != 1 || f.emitter.skipped[0] != "workflow inactive" {
		t.Errorf("skipped = %v, want [workflow inactive]", f.emitter.skipped)
	}
}

func TestFireEventMatchesPatterns(t *testing.T) {
	t.Parallel()

	wf := activeWorkflow()
	f := newFixture(t, wf)

	exact := &trigger.Trigger{
		ID: id.NewTriggerID(), WorkflowID: wf.ID, Name: "exact",
		Kind: trigger.KindEvent, EventPattern: "order.created", Enabled: true,
	}
	prefix := &trigger.Trigger{
		ID: id.NewTriggerID(), WorkflowID: wf.ID, Name: "prefix",
		Kind: trigger.KindEvent, EventPattern: "order.*", Enabled: true,
	}
	other := &trigger.Trigger{
		ID: id.NewTriggerID(), WorkflowID: wf.ID, Name: "other",
		Kind: trigger.KindEvent, EventPattern: "invoice.paid", Enabled: true,
	}
	for _, trg := range []*trigger.Trigger{exact, prefix, other} {
		_ = f.store.CreateTrigger(context.Background(), trg)
	}

	runs, err := f.sched.FireEvent(context.Background(), "order.created", nil)
	if err != nil {
		t.Fatalf("FireEvent failed: %v", err)
	}
	if len(runs) != 2 {
		t.Errorf("runs = %d, want 2 (exact + prefix)", len(runs))
	}
}

func TestFireEventRateLimited(t *testing.T) {
	t.Parallel()

	wf := activeWorkflow()
	f := newFixture(t, wf)
	trg := &trigger.Trigger{
		ID: id.NewTriggerID(), WorkflowID: wf.ID, Name: "limited",
		Kind: trigger.KindEvent, EventPattern: "burst.*", Enabled: true,
		RatePerMinute: 2,
	}
	_ = f.store.CreateTrigger(context.Background(), trg)

	for i := 0; i < 5; i++ {
		_, _ = f.sched.FireEvent(context.Background(), "burst.hit", nil)
	}

	// Burst capacity is RatePerMinute; the rest are skipped.
	if f.started != 2 {
		t.Errorf("started = %d, want 2", f.started)
	}
	f.emitter.mu.Lock()
	defer f.emitter.mu.Unlock()
	if len(f.emitter.skipped) != 3 {
		t.Errorf("skipped = %v, want 3 rate-limited skips", f.emitter.skipped)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	wfID := id.NewWorkflowID()
	tests := []struct {
		name    string
		trg     trigger.Trigger
		wantErr bool
	}{
		{"valid cron", trigger.Trigger{Name: "c", WorkflowID: wfID, Kind: trigger.KindCron, Schedule: "*/5 * * * *"}, false},
		{"valid descriptor", trigger.Trigger{Name: "c", WorkflowID: wfID, Kind: trigger.KindCron, Schedule: "@every 30s"}, false},
		{"valid event", trigger.Trigger{Name: "e", WorkflowID: wfID, Kind: trigger.KindEvent, EventPattern: "x.y"}, false},
		{"bad schedule", trigger.Trigger{Name: "c", WorkflowID: wfID, Kind: trigger.KindCron, Schedule: "not-cron"}, true},
		{"missing schedule", trigger.Trigger{Name: "c", WorkflowID: wfID, Kind: trigger.KindCron}, true},
		{"missing pattern", trigger.Trigger{Name: "e", WorkflowID: wfID, Kind: trigger.KindEvent}, true},
		{"missing name", trigger.Trigger{WorkflowID: wfID, Kind: trigger.KindCron, Schedule: "* * * * *"}, true},
		{"missing workflow", trigger.Trigger{Name: "c", Kind: trigger.KindCron, Schedule: "* * * * *"}, true},
		{"unknown kind", trigger.Trigger{Name: "k", WorkflowID: wfID, Kind: "webhook"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := trigger.Validate(&tt.trg)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMatches(t *testing.T) {
	t.Parallel()

	tests := []struct {
		pattern string
		event   string
		want    bool
	}{
		{"order.created", "order.created", true},
		{"order.created", "order.deleted", false},
		{"order.*", "order.created", true},
		{"order.*", "orders.created", false},
		{"order.*", "order", false},
	}
	for _, tt := range tests {
		trg := trigger.Trigger{Kind: trigger.KindEvent, EventPattern: tt.pattern}
		if got := trg.Matches(tt.event); got != tt.want {
			t.Errorf("Matches(%q, %q) = %v, want %v", tt.pattern, tt.event, got, tt.want)
		}
	}
}
