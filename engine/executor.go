package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/strandhq/loom"
	"github.com/strandhq/loom/agent"
	"github.com/strandhq/loom/backoff"
	"github.com/strandhq/loom/capability"
	"github.com/strandhq/loom/hook"
	"github.com/strandhq/loom/middleware"
	"github.com/strandhq/loom/workflow"
)

// stepResult is what a step worker reports back to the run scheduler.
type stepResult struct {
	stepID  string
	outcome workflow.StepOutcome
	err     error
}

// Executor runs one claimed run to completion: it dispatches ready
// steps through the middleware chain with bounded concurrency, retries
// transient faults with backoff, and skips the dependents of failed
// steps. Cancellation is observed at step boundaries and on a poll, so
// a hung step cannot blind the run to a cancel request; once the grace
// period expires, still-running steps are abandoned.
type Executor struct {
	store   workflow.Store
	agents  agent.Store
	caps    capability.Store
	invoker agent.Invoker
	chain   middleware.Middleware
	backoff backoff.Strategy
	hooks   *hook.Registry
	cfg     loom.Config
	logger  *slog.Logger
}

// NewExecutor creates an Executor. mws are applied outermost-first
// around every invocation attempt.
func NewExecutor(
	store workflow.Store,
	agents agent.Store,
	caps capability.Store,
	invoker agent.Invoker,
	mws []middleware.Middleware,
	strategy backoff.Strategy,
	hooks *hook.Registry,
	cfg loom.Config,
	logger *slog.Logger,
) *Executor {
	if strategy == nil {
		strategy = backoff.DefaultStrategy()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		store:   store,
		agents:  agents,
		caps:    caps,
		invoker: invoker,
		chain:   middleware.Chain(mws...),
		backoff: strategy,
		hooks:   hooks,
		cfg:     cfg,
		logger:  logger,
	}
}

// Execute drives a run that has already been claimed (state running)
// to a terminal state. When ctx is cancelled without a cancel request
// on the run itself (worker shutdown), the run is left running for the
// stale-claim requeue to recover.
func (e *Executor) Execute(ctx context.Context, run *workflow.Run) {
	graph, err := workflow.NewGraph(run.Steps, run.Looped)
	if err != nil {
		e.finalizeFailed(ctx, run, err)
		return
	}

	e.hooks.EmitRunStarted(ctx, run)

	limit := run.StepConcurrency
	if limit <= 0 {
		limit = e.cfg.StepConcurrency
	}
	if limit <= 0 {
		limit = 1
	}
	sem := semaphore.NewWeighted(int64(limit))

	stepCtx, cancelSteps := context.WithCancel(ctx)
	defer cancelSteps()

	indegree := graph.Indegree()
	terminal := make(map[string]workflow.StepState, graph.Len())
	// Buffered so a worker abandoned after the grace period can still
	// deliver its result and exit.
	results := make(chan stepResult, graph.Len())
	inFlight := 0
	var failure error
	cancelled := false
	abandoned := false
	var graceTimer *time.Timer
	var graceExpired <-chan time.Time

	checkCancel := func() {
		if cancelled || !e.cancelRequested(ctx, run) {
			return
		}
		cancelled = true
		// In-flight attempts get a grace period before their contexts
		// are cut and the run is finalized without them.
		graceTimer = time.NewTimer(e.cfg.CancelGrace)
		graceExpired = graceTimer.C
	}

	dispatch := func(stepID string) {
		step := run.StepByID(stepID)
		inFlight++
		go func() {
			if acqErr := sem.Acquire(stepCtx, 1); acqErr != nil {
				results <- cancelledResult(stepID)
				return
			}
			defer sem.Release(1)
			results <- e.runStep(stepCtx, run, step)
		}()
	}

	// Honor step outcomes from a previous claim: succeeded steps are
	// not re-executed after a stale-run requeue.
	for _, o := range run.Outcomes {
		if o.State == workflow.StepStateSucceeded {
			terminal[o.StepID] = o.State
		}
	}
	release := func(stepID string) []string {
		var ready []string
		for _, dep := range graph.Dependents(stepID) {
			indegree[dep]--
			if indegree[dep] == 0 {
				if _, done := terminal[dep]; !done {
					ready = append(ready, dep)
				}
			}
		}
		return ready
	}
	var initial []string
	for _, stepID := range graph.Order() {
		if terminal[stepID] == workflow.StepStateSucceeded {
			initial = append(initial, release(stepID)...)
		}
	}
	for _, stepID := range graph.Roots() {
		if _, done := terminal[stepID]; !done {
			initial = append(initial, stepID)
		}
	}
	// A cancel requested before the claim was picked up skips dispatch
	// entirely.
	checkCancel()
	if !cancelled {
		for _, stepID := range initial {
			dispatch(stepID)
		}
	}

	skip := func(failedStep string, cause error) {
		for _, dep := range graph.TransitiveDependents(failedStep) {
			if _, done := terminal[dep]; done {
				continue
			}
			terminal[dep] = workflow.StepStateSkipped
			reason := fmt.Sprintf("dependency %s failed", failedStep)
			run.SetOutcome(workflow.StepOutcome{
				StepID: dep,
				State:  workflow.StepStateSkipped,
				Error:  reason,
			})
			e.hooks.EmitStepSkipped(ctx, run, dep, reason)
		}
		if failure == nil {
			failure = cause
		}
	}

	pollEvery := e.cfg.CancelPollInterval
	if pollEvery <= 0 {
		pollEvery = 1 * time.Second
	}
	poll := time.NewTicker(pollEvery)
	defer poll.Stop()

	for inFlight > 0 && !abandoned {
		select {
		case res := <-results:
			inFlight--
			terminal[res.stepID] = res.outcome.State
			run.SetOutcome(res.outcome)
			e.persist(ctx, run)

			// Observe cancellation before releasing dependents so no
			// new step dispatches past the boundary.
			checkCancel()

			step := run.StepByID(res.stepID)
			switch res.outcome.State {
			case workflow.StepStateSucceeded:
				if !cancelled {
					for _, ready := range release(res.stepID) {
						dispatch(ready)
					}
				}
			case workflow.StepStateFailed:
				if step != nil && step.Optional {
					// Optional failures neither fail the run nor block
					// dependents.
					if !cancelled {
						for _, ready := range release(res.stepID) {
							dispatch(ready)
						}
					}
				} else {
					skip(res.stepID, res.err)
					e.persist(ctx, run)
				}
			case workflow.StepStateCancelled:
				cancelled = true
			}

		case <-poll.C:
			// A step that never returns must not stop the run from
			// seeing a cancel request.
			checkCancel()

		case <-graceExpired:
			// Grace ran out with steps still in flight. Cut their
			// contexts and finalize without them; their late results
			// land in the buffer and are dropped.
			cancelSteps()
			abandoned = true
		}
	}
	if graceTimer != nil {
		graceTimer.Stop()
	}

	if ctx.Err() != nil && !run.CancelRequested {
		// Worker shutdown, not a user cancel. Leave the run claimed;
		// the stale-run sweep returns it to pending.
		e.logger.Warn("run execution interrupted",
			slog.String("run_id", run.ID.String()),
		)
		return
	}

	if cancelled {
		for _, stepID := range graph.Order() {
			if _, done := terminal[stepID]; done {
				continue
			}
			terminal[stepID] = workflow.StepStateCancelled
			run.SetOutcome(workflow.StepOutcome{
				StepID: stepID,
				State:  workflow.StepStateCancelled,
			})
			e.hooks.EmitStepCancelled(ctx, run, stepID)
		}
		e.finalizeCancelled(ctx, run)
		return
	}
	if failure != nil {
		e.finalizeFailed(ctx, run, failure)
		return
	}
	e.finalizeSucceeded(ctx, run)
}

// runStep executes one step: dispatch gates, then up to retries+1
// invocation attempts through the middleware chain.
func (e *Executor) runStep(ctx context.Context, run *workflow.Run, step *workflow.Step) stepResult {
	started := time.Now().UTC()

	if ctx.Err() != nil {
		return cancelledResult(step.ID)
	}

	// Dispatch gates. A missing or inactive agent and an unregistered
	// or unreachable capability server all fail permanently without an
	// invocation attempt. Degraded servers dispatch normally.
	a, err := e.agents.GetAgent(ctx, step.AgentID)
	if err != nil {
		return e.failStep(ctx, run, step.ID, started, 0, loom.Permanent(err))
	}
	if !a.Active() {
		return e.failStep(ctx, run, step.ID, started, 0,
			loom.Permanent(fmt.Errorf("agent %s: %w", a.Name, loom.ErrAgentInactive)))
	}
	if !step.CapabilityID.IsNil() {
		srv, capErr := e.caps.GetCapability(ctx, step.CapabilityID)
		if capErr != nil {
			return e.failStep(ctx, run, step.ID, started, 0, loom.Permanent(capErr))
		}
		if !srv.Reachable() {
			return e.failStep(ctx, run, step.ID, started, 0,
				loom.Permanent(fmt.Errorf("capability server %s is unreachable", srv.Name)))
		}
	}

	retries := step.MaxRetries
	if retries == 0 {
		retries = e.cfg.MaxStepRetries
	}
	if retries < 0 {
		retries = 0
	}

	var lastErr error
	for attempt := 1; attempt <= retries+1; attempt++ {
		e.hooks.EmitStepStarted(ctx, run, step.ID, attempt)

		inv := &agent.Invocation{
			RunID:        run.ID,
			WorkflowID:   run.WorkflowID,
			StepID:       step.ID,
			Agent:        a,
			CapabilityID: step.CapabilityID,
			Input:        step.Input,
			Attempt:      attempt,
			Timeout:      step.Timeout,
		}

		var output json.RawMessage
		attemptStart := time.Now()
		invokeErr := e.chain(ctx, inv, func(hctx context.Context) error {
			out, err := e.invoker.Invoke(hctx, inv)
			output = out
			return err
		})
		if invokeErr == nil {
			ended := time.Now().UTC()
			e.hooks.EmitStepSucceeded(ctx, run, step.ID, time.Since(attemptStart))
			return stepResult{
				stepID: step.ID,
				outcome: workflow.StepOutcome{
					StepID:    step.ID,
					State:     workflow.StepStateSucceeded,
					Attempts:  attempt,
					Output:    output,
					StartedAt: &started,
					EndedAt:   &ended,
				},
			}
		}

		lastErr = invokeErr
		if ctx.Err() != nil {
			return cancelledResult(step.ID)
		}
		if !loom.IsTransient(invokeErr) || attempt == retries+1 {
			return e.failStep(ctx, run, step.ID, started, attempt, lastErr)
		}

		delay := e.backoff.Delay(attempt)
		e.hooks.EmitStepRetrying(ctx, run, step.ID, attempt+1, delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return cancelledResult(step.ID)
		}
	}
	// Unreachable; the loop always returns.
	return e.failStep(ctx, run, step.ID, started, retries+1, lastErr)
}

func (e *Executor) failStep(ctx context.Context, run *workflow.Run, stepID string, started time.Time, attempts int, err error) stepResult {
	ended := time.Now().UTC()
	e.hooks.EmitStepFailed(ctx, run, stepID, err)
	return stepResult{
		stepID: stepID,
		err:    err,
		outcome: workflow.StepOutcome{
			StepID:    stepID,
			State:     workflow.StepStateFailed,
			Attempts:  attempts,
			Error:     err.Error(),
			FaultKind: loom.KindOf(err),
			StartedAt: &started,
			EndedAt:   &ended,
		},
	}
}

func cancelledResult(stepID string) stepResult {
	return stepResult{
		stepID: stepID,
		outcome: workflow.StepOutcome{
			StepID: stepID,
			State:  workflow.StepStateCancelled,
		},
	}
}

// cancelRequested re-reads the run's cancel flag from the store. Store
// errors are logged and treated as "not cancelled" so a flaky backend
// cannot abort healthy runs.
func (e *Executor) cancelRequested(ctx context.Context, run *workflow.Run) bool {
	if run.CancelRequested {
		return true
	}
	current, err := e.store.GetRun(ctx, run.ID)
	if err != nil {
		e.logger.Error("cancel check failed",
			slog.String("run_id", run.ID.String()),
			slog.String("error", err.Error()),
		)
		return false
	}
	run.CancelRequested = current.CancelRequested
	return run.CancelRequested
}

func (e *Executor) persist(ctx context.Context, run *workflow.Run) {
	if err := e.store.UpdateRun(ctx, run); err != nil {
		e.logger.Error("run update failed",
			slog.String("run_id", run.ID.String()),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Executor) finalizeSucceeded(ctx context.Context, run *workflow.Run) {
	now := time.Now().UTC()
	run.State = workflow.RunStateSucceeded
	run.EndedAt = &now
	e.persist(ctx, run)

	elapsed := time.Duration(0)
	if run.StartedAt != nil {
		elapsed = now.Sub(*run.StartedAt)
	}
	e.hooks.EmitRunSucceeded(ctx, run, elapsed)
}

func (e *Executor) finalizeFailed(ctx context.Context, run *workflow.Run, cause error) {
	now := time.Now().UTC()
	run.State = workflow.RunStateFailed
	run.Error = cause.Error()
	run.EndedAt = &now
	e.persist(ctx, run)
	e.hooks.EmitRunFailed(ctx, run, cause)
}

func (e *Executor) finalizeCancelled(ctx context.Context, run *workflow.Run) {
	now := time.Now().UTC()
	run.State = workflow.RunStateCancelled
	run.EndedAt = &now
	e.persist(ctx, run)
	e.hooks.EmitRunCancelled(ctx, run)
}
