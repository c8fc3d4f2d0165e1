package engine

import (
	"context"
	"encoding/json"

	"github.com/strandhq/loom"
	"github.com/strandhq/loom/activity"
	"github.com/strandhq/loom/agent"
	"github.com/strandhq/loom/backoff"
	"github.com/strandhq/loom/capability"
	"github.com/strandhq/loom/hook"
	"github.com/strandhq/loom/id"
	"github.com/strandhq/loom/middleware"
	"github.com/strandhq/loom/store"
	"github.com/strandhq/loom/stream"
	"github.com/strandhq/loom/trigger"
	"github.com/strandhq/loom/workflow"
)

// Engine is the assembled orchestration runtime. It exposes run
// control (trigger, cancel, fire events) and the subsystem services
// the api and ws packages mount.
type Engine struct {
	cfg    loom.Config
	store  store.Store
	hooks  *hook.Registry
	hub    *stream.Hub
	rec    *activity.Recorder
	pool   *Pool
	exec   *Executor
	sched  *trigger.Scheduler
	mon    *capability.Monitor
	wfs    *workflow.Service
	agents *agent.Registry
	caps   *capability.Registry
}

// Option configures engine assembly.
type Option func(*options)

type options struct {
	invoker    agent.Invoker
	prober     capability.Prober
	strategy   backoff.Strategy
	middleware []middleware.Middleware
	hooks      []hook.Hook
}

// WithInvoker replaces the default HTTP invoker.
func WithInvoker(inv agent.Invoker) Option {
	return func(o *options) { o.invoker = inv }
}

// WithProber replaces the default MCP health prober.
func WithProber(p capability.Prober) Option {
	return func(o *options) { o.prober = p }
}

// WithBackoff replaces the default retry backoff strategy.
func WithBackoff(s backoff.Strategy) Option {
	return func(o *options) { o.strategy = s }
}

// WithMiddleware replaces the default invocation middleware stack.
// The first middleware is the outermost wrapper.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(o *options) { o.middleware = mws }
}

// WithHooks registers additional lifecycle hooks alongside the
// broadcast hub and the activity recorder.
func WithHooks(hs ...hook.Hook) Option {
	return func(o *options) { o.hooks = hs }
}

// Build assembles the engine over the conductor's store and registers
// the worker pool, trigger scheduler, and capability monitor as the
// conductor's background runners. The conductor's store must implement
// store.Store.
func Build(c *loom.Conductor, opts ...Option) (*Engine, error) {
	st, ok := c.Store().(store.Store)
	if st == nil || !ok {
		return nil, loom.ErrNoStore
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	cfg := c.Config()
	logger := c.Logger()

	if o.invoker == nil {
		o.invoker = agent.NewHTTPInvoker(nil)
	}
	if o.prober == nil {
		o.prober = capability.NewMCPProber("loom", "1.0.0")
	}
	if o.strategy == nil {
		o.strategy = backoff.DefaultStrategy()
	}
	if o.middleware == nil {
		o.middleware = []middleware.Middleware{
			middleware.Recover(logger),
			middleware.Logging(logger),
			middleware.Tracing(),
			middleware.Metrics(),
			middleware.Timeout(logger),
		}
	}

	hooks := hook.NewRegistry(logger)
	hub := stream.NewHub(logger, stream.WithBufferSize(cfg.SubscriberBuffer))
	hooks.Register(hub)

	rec := activity.NewRecorder(st, logger)
	hooks.Register(activity.NewHook(rec))

	for _, h := range o.hooks {
		hooks.Register(h)
	}

	caps := capability.NewRegistry(st, o.prober, cfg.ProbeTimeout, logger)
	caps.SetHealthListener(healthListener{hooks: hooks})
	caps.SetReferenceChecker(workflowRefs{store: st})

	agents := agent.NewRegistry(st, caps, logger)
	agents.SetStatusListener(statusListener{hooks: hooks})

	wfs := workflow.NewService(st, agents, caps, logger)

	exec := NewExecutor(st, st, st, o.invoker, o.middleware, o.strategy, hooks, cfg, logger)
	pool := NewPool(st, exec, cfg, logger)
	mon := capability.NewMonitor(caps, cfg.ProbeInterval, logger)

	e := &Engine{
		cfg:    cfg,
		store:  st,
		hooks:  hooks,
		hub:    hub,
		rec:    rec,
		pool:   pool,
		exec:   exec,
		mon:    mon,
		wfs:    wfs,
		agents: agents,
		caps:   caps,
	}
	e.sched = trigger.NewScheduler(st, st, e.startRun, hooks, logger,
		trigger.WithTickInterval(cfg.SchedulerTick))

	c.SetHooks(hooks)
	c.AddRunner(pool)
	c.AddRunner(e.sched)
	c.AddRunner(mon)
	return e, nil
}

// Workflows returns the workflow definition service.
func (e *Engine) Workflows() *workflow.Service { return e.wfs }

// Agents returns the agent registry.
func (e *Engine) Agents() *agent.Registry { return e.agents }

// Capabilities returns the capability server registry.
func (e *Engine) Capabilities() *capability.Registry { return e.caps }

// Hub returns the broadcast hub for stream subscriptions.
func (e *Engine) Hub() *stream.Hub { return e.hub }

// Hooks returns the lifecycle hook registry.
func (e *Engine) Hooks() *hook.Registry { return e.hooks }

// Activities returns the activity recorder.
func (e *Engine) Activities() *activity.Recorder { return e.rec }

// Pool returns the worker pool.
func (e *Engine) Pool() *Pool { return e.pool }

// TriggerRun manually starts a run of an active workflow.
func (e *Engine) TriggerRun(ctx context.Context, workflowID id.WorkflowID, input json.RawMessage) (id.RunID, error) {
	return e.startRun(ctx, workflowID, workflow.SourceManual, input, id.Nil)
}

// startRun snapshots the workflow into a pending run. Also used by the
// trigger scheduler as its trigger.StartRunFunc.
func (e *Engine) startRun(ctx context.Context, workflowID id.WorkflowID, source workflow.Source, input json.RawMessage, triggerID id.TriggerID) (id.RunID, error) {
	wf, err := e.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return id.Nil, err
	}
	if !wf.Active() {
		return id.Nil, loom.ErrWorkflowInactive
	}

	run := workflow.NewRun(wf, source, input)
	run.TriggerID = triggerID
	if err := e.store.CreateRun(ctx, run); err != nil {
		return id.Nil, err
	}
	return run.ID, nil
}

// FireEvent routes a named event to every matching event trigger and
// returns the runs it started.
func (e *Engine) FireEvent(ctx context.Context, eventName string, payload json.RawMessage) ([]id.RunID, error) {
	return e.sched.FireEvent(ctx, eventName, payload)
}

// GetRun fetches a run.
func (e *Engine) GetRun(ctx context.Context, runID id.RunID) (*workflow.Run, error) {
	return e.store.GetRun(ctx, runID)
}

// ListRuns returns runs matching opts, newest first.
func (e *Engine) ListRuns(ctx context.Context, opts workflow.RunListOpts) ([]*workflow.Run, error) {
	return e.store.ListRuns(ctx, opts)
}

// CancelRun requests cancellation of a run. Pending runs cancel
// immediately; running runs observe the request within the executor's
// cancel poll and abandon still-running steps after the grace period.
// Cancelling a terminal run is a no-op.
//
// The flag write and the pending finalization both happen inside the
// store under a state guard, so a cancel racing an executor finalize
// can never rewrite a terminal run from a stale view.
func (e *Engine) CancelRun(ctx context.Context, runID id.RunID) error {
	run, finalized, err := e.store.RequestCancel(ctx, runID)
	if err != nil {
		return err
	}
	if !finalized {
		return nil
	}
	for _, o := range run.Outcomes {
		if o.State == workflow.StepStateCancelled {
			e.hooks.EmitStepCancelled(ctx, run, o.StepID)
		}
	}
	e.hooks.EmitRunCancelled(ctx, run)
	return nil
}

// CreateTrigger validates and persists a trigger.
func (e *Engine) CreateTrigger(ctx context.Context, t *trigger.Trigger) error {
	if err := trigger.Validate(t); err != nil {
		return err
	}
	if _, err := e.store.GetWorkflow(ctx, t.WorkflowID); err != nil {
		return err
	}
	if t.ID.IsNil() {
		t.ID = id.NewTriggerID()
	}
	t.Entity = loom.NewEntity()
	return e.store.CreateTrigger(ctx, t)
}

// GetTrigger fetches a trigger.
func (e *Engine) GetTrigger(ctx context.Context, triggerID id.TriggerID) (*trigger.Trigger, error) {
	return e.store.GetTrigger(ctx, triggerID)
}

// UpdateTrigger validates and replaces a trigger. A schedule change
// takes effect on the next tick; NextFireAt is recomputed from zero.
func (e *Engine) UpdateTrigger(ctx context.Context, t *trigger.Trigger) error {
	if err := trigger.Validate(t); err != nil {
		return err
	}
	current, err := e.store.GetTrigger(ctx, t.ID)
	if err != nil {
		return err
	}
	t.CreatedAt = current.CreatedAt
	if t.Schedule != current.Schedule {
		t.NextFireAt = nil
	}
	t.Touch()
	return e.store.UpdateTrigger(ctx, t)
}

// DeleteTrigger removes a trigger.
func (e *Engine) DeleteTrigger(ctx context.Context, triggerID id.TriggerID) error {
	return e.store.DeleteTrigger(ctx, triggerID)
}

// ListTriggers returns triggers matching opts.
func (e *Engine) ListTriggers(ctx context.Context, opts trigger.ListOpts) ([]*trigger.Trigger, error) {
	return e.store.ListTriggers(ctx, opts)
}

// Stats aggregates run counts by state with broadcast hub metrics.
type Stats struct {
	Runs map[workflow.RunState]int `json:"runs"`
	Hub  stream.HubStats           `json:"hub"`
}

// Stats returns engine statistics.
func (e *Engine) Stats(ctx context.Context) (*Stats, error) {
	states := []workflow.RunState{
		workflow.RunStatePending,
		workflow.RunStateRunning,
		workflow.RunStateSucceeded,
		workflow.RunStateFailed,
		workflow.RunStateCancelled,
	}
	runs := make(map[workflow.RunState]int, len(states))
	for _, state := range states {
		n, err := e.store.CountRuns(ctx, workflow.RunListOpts{State: state})
		if err != nil {
			return nil, err
		}
		runs[state] = n
	}
	return &Stats{Runs: runs, Hub: e.hub.Stats()}, nil
}
