package trigger

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"github.com/strandhq/loom/id"
	"github.com/strandhq/loom/workflow"
)

// StartRunFunc is the callback the scheduler uses to create runs.
// This breaks the import cycle: the engine provides the implementation.
type StartRunFunc func(ctx context.Context, workflowID id.WorkflowID, source workflow.Source, input json.RawMessage, triggerID id.TriggerID) (id.RunID, error)

// WorkflowSource is the slice of the workflow store the scheduler
// needs: definition lookup and the busy check.
type WorkflowSource interface {
	GetWorkflow(ctx context.Context, workflowID id.WorkflowID) (*workflow.Workflow, error)
	HasActiveRun(ctx context.Context, workflowID id.WorkflowID) (bool, error)
}

// Emitter emits trigger lifecycle events.
// hook.Registry satisfies this interface.
type Emitter interface {
	EmitTriggerFired(ctx context.Context, triggerID id.TriggerID, workflowID id.WorkflowID, runID id.RunID)
	EmitTriggerSkipped(ctx context.Context, triggerID id.TriggerID, workflowID id.WorkflowID, reason string)
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithTickInterval sets how often the scheduler checks for due
// triggers.
func WithTickInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.tickInterval = d }
}

// Scheduler fires cron triggers on a tick loop and routes published
// events to event triggers.
type Scheduler struct {
	store     Store
	workflows WorkflowSource
	start     StartRunFunc
	emitter   Emitter
	logger    *slog.Logger

	tickInterval time.Duration

	// parsed caches compiled cron expressions.
	parsedMu sync.RWMutex
	parsed   map[string]cronlib.Schedule

	// limiters holds the per-trigger event rate limiters.
	limiterMu sync.Mutex
	limiters  map[id.TriggerID]*rate.Limiter

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewScheduler creates a Scheduler.
func NewScheduler(
	store Store,
	workflows WorkflowSource,
	start StartRunFunc,
	emitter Emitter,
	logger *slog.Logger,
	opts ...SchedulerOption,
) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		store:        store,
		workflows:    workflows,
		start:        start,
		emitter:      emitter,
		logger:       logger,
		tickInterval: 1 * time.Second,
		parsed:       make(map[string]cronlib.Schedule),
		limiters:     make(map[id.TriggerID]*rate.Limiter),
		stopCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the tick loop.
func (s *Scheduler) Start(_ context.Context) error {
	s.wg.Add(1)
	go s.tickLoop()
	s.logger.Info("trigger scheduler started",
		slog.Duration("tick_interval", s.tickInterval),
	)
	return nil
}

// Stop signals the scheduler to stop and waits for the loop to finish.
func (s *Scheduler) Stop(_ context.Context) error {
	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("trigger scheduler stopped")
	return nil
}

func (s *Scheduler) tickLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.Tick(context.Background())
		}
	}
}

// Tick processes due cron triggers once. Exported for tests and for
// hosts that drive the clock themselves.
func (s *Scheduler) Tick(ctx context.Context) {
	triggers, err := s.store.ListTriggers(ctx, ListOpts{Kind: KindCron})
	if err != nil {
		s.logger.Error("list triggers error", slog.String("error", err.Error()))
		return
	}

	now := time.Now().UTC()
	for _, t := range triggers {
		if !t.Enabled {
			continue
		}
		if t.NextFireAt == nil {
			// First sighting: schedule forward from now. Occurrences
			// missed while the process was down are not backfilled.
			s.advance(ctx, t, now)
			continue
		}
		if t.NextFireAt.After(now) {
			continue
		}
		s.fire(ctx, t, now)
	}
}

// FireEvent routes a published event to every matching event trigger.
// It returns the IDs of the runs created.
func (s *Scheduler) FireEvent(ctx context.Context, eventName string, payload json.RawMessage) ([]id.RunID, error) {
	triggers, err := s.store.ListTriggers(ctx, ListOpts{Kind: KindEvent})
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	var runs []id.RunID
	for _, t := range triggers {
		if !t.Enabled || !t.Matches(eventName) {
			continue
		}
		if !s.allow(t) {
			s.emitter.EmitTriggerSkipped(ctx, t.ID, t.WorkflowID, "rate limited")
			continue
		}
		input := t.Input
		if payload != nil {
			input = payload
		}
		if runID, fired := s.startRun(ctx, t, input, now); fired {
			runs = append(runs, runID)
		}
	}
	return runs, nil
}

// fire handles one due cron occurrence, then advances NextFireAt from
// the wall clock.
func (s *Scheduler) fire(ctx context.Context, t *Trigger, now time.Time) {
	s.startRun(ctx, t, t.Input, now)
	s.advance(ctx, t, now)
}

// startRun applies the workflow's busy policy and creates the run.
// The bool reports whether a run was created.
func (s *Scheduler) startRun(ctx context.Context, t *Trigger, input json.RawMessage, now time.Time) (id.RunID, bool) {
	wf, err := s.workflows.GetWorkflow(ctx, t.WorkflowID)
	if err != nil {
		s.logger.Error("trigger workflow lookup failed",
			slog.String("trigger_id", t.ID.String()),
			slog.String("error", err.Error()),
		)
		return id.Nil, false
	}
	if !wf.Active() {
		s.emitter.EmitTriggerSkipped(ctx, t.ID, t.WorkflowID, "workflow inactive")
		return id.Nil, false
	}

	if !wf.Concurrent && wf.BusyPolicyOrDefault() == workflow.BusySkip {
		busy, err := s.workflows.HasActiveRun(ctx, wf.ID)
		if err != nil {
			s.logger.Error("active run check failed",
				slog.String("workflow_id", wf.ID.String()),
				slog.String("error", err.Error()),
			)
			return id.Nil, false
		}
		if busy {
			s.emitter.EmitTriggerSkipped(ctx, t.ID, t.WorkflowID, "workflow busy")
			s.logger.Info("trigger occurrence skipped",
				slog.String("trigger", t.Name),
				slog.String("workflow_id", wf.ID.String()),
			)
			return id.Nil, false
		}
	}

	source := workflow.SourceScheduled
	if t.Kind == KindEvent {
		source = workflow.SourceEvent
	}
	runID, err := s.start(ctx, wf.ID, source, input, t.ID)
	if err != nil {
		s.logger.Error("trigger run creation failed",
			slog.String("trigger", t.Name),
			slog.String("error", err.Error()),
		)
		return id.Nil, false
	}

	t.LastFiredAt = &now
	t.Touch()
	if err := s.store.UpdateTrigger(ctx, t); err != nil {
		s.logger.Error("trigger update failed",
			slog.String("trigger_id", t.ID.String()),
			slog.String("error", err.Error()),
		)
	}

	s.emitter.EmitTriggerFired(ctx, t.ID, wf.ID, runID)
	s.logger.Info("trigger fired",
		slog.String("trigger", t.Name),
		slog.String("workflow_id", wf.ID.String()),
		slog.String("run_id", runID.String()),
	)
	return runID, true
}

// advance computes the next fire time from the wall clock and persists
// it.
func (s *Scheduler) advance(ctx context.Context, t *Trigger, now time.Time) {
	sched, err := s.getOrParseSchedule(t.Schedule)
	if err != nil {
		s.logger.Error("parse trigger schedule error",
			slog.String("trigger", t.Name),
			slog.String("schedule", t.Schedule),
			slog.String("error", err.Error()),
		)
		return
	}
	next := sched.Next(now)
	t.NextFireAt = &next
	t.Touch()
	if err := s.store.UpdateTrigger(ctx, t); err != nil {
		s.logger.Error("trigger next fire update failed",
			slog.String("trigger_id", t.ID.String()),
			slog.String("error", err.Error()),
		)
	}
}

// allow checks the trigger's event rate limit.
func (s *Scheduler) allow(t *Trigger) bool {
	if t.RatePerMinute <= 0 {
		return true
	}
	s.limiterMu.Lock()
	lim, ok := s.limiters[t.ID]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(float64(t.RatePerMinute)/60.0), t.RatePerMinute)
		s.limiters[t.ID] = lim
	}
	s.limiterMu.Unlock()
	return lim.Allow()
}

// getOrParseSchedule caches parsed cron expressions.
func (s *Scheduler) getOrParseSchedule(expr string) (cronlib.Schedule, error) {
	s.parsedMu.RLock()
	sched, ok := s.parsed[expr]
	s.parsedMu.RUnlock()
	if ok {
		return sched, nil
	}

	sched, err := ParseSchedule(expr)
	if err != nil {
		return nil, err
	}

	s.parsedMu.Lock()
	s.parsed[expr] = sched
	s.parsedMu.Unlock()
	return sched, nil
}
