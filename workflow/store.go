package workflow

import (
	"context"
	"time"

	"github.com/strandhq/loom/id"
)

// ListOpts filters workflow listings. Zero values mean "no filter".
type ListOpts struct {
	Status Status
	Limit  int
	Offset int
}

// RunListOpts filters run listings. Zero values mean "no filter".
type RunListOpts struct {
	WorkflowID id.WorkflowID
	State      RunState
	Limit      int
	Offset     int
}

// Store is the persistence interface for workflow definitions and runs.
// A single backend implements this alongside the other subsystem stores.
type Store interface {
	// Definitions.
	CreateWorkflow(ctx context.Context, wf *Workflow) error
	GetWorkflow(ctx context.Context, workflowID id.WorkflowID) (*Workflow, error)
	UpdateWorkflow(ctx context.Context, wf *Workflow) error
	ListWorkflows(ctx context.Context, opts ListOpts) ([]*Workflow, error)

	// Runs.
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, runID id.RunID) (*Run, error)
	ListRuns(ctx context.Context, opts RunListOpts) ([]*Run, error)
	CountRuns(ctx context.Context, opts RunListOpts) (int, error)

	// UpdateRun replaces a run's row. Terminal runs are immutable;
	// writing over one fails with loom.ErrRunTerminal. A cancel request
	// already recorded on the row survives the write.
	UpdateRun(ctx context.Context, run *Run) error

	// RequestCancel marks the run for cancellation unless it is already
	// terminal. A run still pending is finalized to cancelled in the
	// same guarded write; finalized reports whether this call did so,
	// letting the caller emit the cancellation hooks exactly once.
	RequestCancel(ctx context.Context, runID id.RunID) (run *Run, finalized bool, err error)

	// PendingRuns returns up to limit runs in RunStatePending whose
	// RunAt is due, oldest first. It does not claim them.
	PendingRuns(ctx context.Context, limit int) ([]*Run, error)

	// BeginRun atomically transitions a pending run to running and
	// records the claiming worker. It returns false when another
	// worker won the race or the run is no longer pending.
	BeginRun(ctx context.Context, runID id.RunID, workerID id.WorkerID) (bool, error)

	// HeartbeatRun refreshes the claim heartbeat for a running run.
	HeartbeatRun(ctx context.Context, runID id.RunID, workerID id.WorkerID) error

	// AcquireWorkflowClaim takes the per-workflow exclusivity claim for
	// non-concurrent workflows. It returns false when another run
	// already holds the claim.
	AcquireWorkflowClaim(ctx context.Context, workflowID id.WorkflowID, runID id.RunID) (bool, error)

	// ReleaseWorkflowClaim releases the exclusivity claim if runID
	// holds it.
	ReleaseWorkflowClaim(ctx context.Context, workflowID id.WorkflowID, runID id.RunID) error

	// HasActiveRun reports whether the workflow has a pending or
	// running run.
	HasActiveRun(ctx context.Context, workflowID id.WorkflowID) (bool, error)

	// StaleRuns returns running runs whose heartbeat is older than
	// cutoff. The pool requeues them.
	StaleRuns(ctx context.Context, cutoff time.Time) ([]*Run, error)

	// RequeueRun returns a running run to pending and clears its claim.
	RequeueRun(ctx context.Context, runID id.RunID) error
}
