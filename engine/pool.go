package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/strandhq/loom"
	"github.com/strandhq/loom/id"
	"github.com/strandhq/loom/workflow"
)

// Pool polls the store for due pending runs, claims them with an
// atomic state transition, and executes them with bounded concurrency.
// Claimed runs heartbeat; runs whose worker died are swept back to
// pending by the stale-run check.
type Pool struct {
	store    workflow.Store
	executor *Executor
	cfg      loom.Config
	logger   *slog.Logger

	workerID id.WorkerID
	sem      *semaphore.Weighted

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewPool creates a worker pool over the store.
func NewPool(store workflow.Store, executor *Executor, cfg loom.Config, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Pool{
		store:    store,
		executor: executor,
		cfg:      cfg,
		logger:   logger,
		workerID: id.NewWorkerID(),
		sem:      semaphore.NewWeighted(int64(concurrency)),
	}
}

// WorkerID returns this pool's worker identity.
func (p *Pool) WorkerID() id.WorkerID { return p.workerID }

// Start launches the poll loop. It returns immediately.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return nil
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p.cancel = cancel
	p.done = make(chan struct{})

	go p.loop(loopCtx)
	p.logger.Info("worker pool started",
		slog.String("worker_id", p.workerID.String()),
		slog.Int("concurrency", p.cfg.Concurrency),
	)
	return nil
}

// Stop halts polling and waits for in-flight runs up to the context
// deadline. Runs still executing when the deadline hits are abandoned;
// the stale-run sweep requeues them.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel = nil
	p.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	finished := make(chan struct{})
	go func() {
		<-done
		p.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		p.logger.Info("worker pool stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) loop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.requeueStale(ctx)
			p.dispatchPending(ctx)
		}
	}
}

// requeueStale returns runs with expired claims to pending.
func (p *Pool) requeueStale(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-p.cfg.StaleRunThreshold)
	stale, err := p.store.StaleRuns(ctx, cutoff)
	if err != nil {
		p.logger.Error("stale run sweep failed", slog.String("error", err.Error()))
		return
	}
	for _, run := range stale {
		if err := p.store.RequeueRun(ctx, run.ID); err != nil {
			if !errors.Is(err, loom.ErrRunTerminal) && !errors.Is(err, loom.ErrRunNotFound) {
				p.logger.Error("stale run requeue failed",
					slog.String("run_id", run.ID.String()),
					slog.String("error", err.Error()),
				)
			}
			continue
		}
		p.logger.Warn("requeued stale run",
			slog.String("run_id", run.ID.String()),
			slog.String("abandoned_by", run.ClaimedBy.String()),
		)
	}
}

// dispatchPending claims due pending runs up to the concurrency limit.
func (p *Pool) dispatchPending(ctx context.Context) {
	pending, err := p.store.PendingRuns(ctx, p.cfg.Concurrency)
	if err != nil {
		p.logger.Error("pending run poll failed", slog.String("error", err.Error()))
		return
	}

	for _, run := range pending {
		if ctx.Err() != nil {
			return
		}
		if !p.sem.TryAcquire(1) {
			return
		}
		if !p.claim(ctx, run) {
			p.sem.Release(1)
			continue
		}

		p.wg.Add(1)
		go p.runOne(ctx, run)
	}
}

// claim takes the per-workflow exclusivity claim for non-concurrent
// workflows, then atomically transitions the run to running. A lost
// race leaves the run for whichever worker won it.
func (p *Pool) claim(ctx context.Context, run *workflow.Run) bool {
	claimedWorkflow := false
	if !run.Concurrent {
		ok, err := p.store.AcquireWorkflowClaim(ctx, run.WorkflowID, run.ID)
		if err != nil {
			p.logger.Error("workflow claim failed",
				slog.String("run_id", run.ID.String()),
				slog.String("error", err.Error()),
			)
			return false
		}
		if !ok {
			return false
		}
		claimedWorkflow = true
	}

	began, err := p.store.BeginRun(ctx, run.ID, p.workerID)
	if err != nil || !began {
		if claimedWorkflow {
			if relErr := p.store.ReleaseWorkflowClaim(ctx, run.WorkflowID, run.ID); relErr != nil {
				p.logger.Error("workflow claim release failed",
					slog.String("run_id", run.ID.String()),
					slog.String("error", relErr.Error()),
				)
			}
		}
		if err != nil && !errors.Is(err, loom.ErrRunNotFound) {
			p.logger.Error("run claim failed",
				slog.String("run_id", run.ID.String()),
				slog.String("error", err.Error()),
			)
		}
		return false
	}

	now := time.Now().UTC()
	run.State = workflow.RunStateRunning
	run.ClaimedBy = p.workerID
	run.StartedAt = &now
	run.HeartbeatAt = &now
	return true
}

// runOne executes a claimed run with a heartbeat loop alongside it.
func (p *Pool) runOne(ctx context.Context, run *workflow.Run) {
	defer p.wg.Done()
	defer p.sem.Release(1)
	if !run.Concurrent {
		defer func() {
			if err := p.store.ReleaseWorkflowClaim(context.WithoutCancel(ctx), run.WorkflowID, run.ID); err != nil {
				p.logger.Error("workflow claim release failed",
					slog.String("run_id", run.ID.String()),
					slog.String("error", err.Error()),
				)
			}
		}()
	}

	execCtx, cancelExec := context.WithCancel(ctx)
	defer cancelExec()

	hbDone := make(chan struct{})
	go func() {
		defer close(hbDone)
		p.heartbeat(execCtx, run.ID, cancelExec)
	}()

	p.executor.Execute(execCtx, run)
	cancelExec()
	<-hbDone
}

// heartbeat refreshes the run's claim until ctx is cancelled. Losing
// the claim (another worker requeued and re-claimed the run) cancels
// execution via lost.
func (p *Pool) heartbeat(ctx context.Context, runID id.RunID, lost context.CancelFunc) {
	ticker := time.NewTicker(p.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := p.store.HeartbeatRun(ctx, runID, p.workerID)
			if err == nil {
				continue
			}
			if errors.Is(err, loom.ErrRunConflict) || errors.Is(err, loom.ErrRunNotFound) {
				p.logger.Warn("run claim lost",
					slog.String("run_id", runID.String()),
				)
				lost()
				return
			}
			p.logger.Error("run heartbeat failed",
				slog.String("run_id", runID.String()),
				slog.String("error", err.Error()),
			)
		}
	}
}
