package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/strandhq/loom"
	"github.com/strandhq/loom/id"
	"github.com/strandhq/loom/workflow"
)

// terminalStates is the SQL set used to keep terminal runs immutable.
const terminalStates = `('succeeded', 'failed', 'cancelled')`

func (s *Store) CreateWorkflow(ctx context.Context, wf *workflow.Workflow) error {
	steps, err := marshalJSON(wf.Steps)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO loom_workflows (id, name, description, status, steps,
			concurrent, on_busy, step_concurrency, looped, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		wf.ID.String(), wf.Name, wf.Description, wf.Status, steps,
		wf.Concurrent, wf.OnBusy, wf.StepConcurrency, wf.Looped,
		wf.CreatedAt, wf.UpdatedAt,
	)
	if isDuplicateKey(err) {
		return loom.ErrWorkflowExists
	}
	return err
}

func (s *Store) GetWorkflow(ctx context.Context, workflowID id.WorkflowID) (*workflow.Workflow, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+workflowColumns+` FROM loom_workflows WHERE id = $1`,
		workflowID.String(),
	)
	wf, err := scanWorkflow(row)
	if isNoRows(err) {
		return nil, loom.ErrWorkflowNotFound
	}
	return wf, err
}

func (s *Store) UpdateWorkflow(ctx context.Context, wf *workflow.Workflow) error {
	steps, err := marshalJSON(wf.Steps)
	if err != nil {
		return err
	}
	wf.Touch()

	tag, err := s.pool.Exec(ctx, `
		UPDATE loom_workflows
		SET name = $2, description = $3, status = $4, steps = $5,
			concurrent = $6, on_busy = $7, step_concurrency = $8,
			looped = $9, updated_at = $10
		WHERE id = $1`,
		wf.ID.String(), wf.Name, wf.Description, wf.Status, steps,
		wf.Concurrent, wf.OnBusy, wf.StepConcurrency, wf.Looped,
		wf.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return loom.ErrWorkflowNotFound
	}
	return nil
}

func (s *Store) ListWorkflows(ctx context.Context, opts workflow.ListOpts) ([]*workflow.Workflow, error) {
	query := `SELECT ` + workflowColumns + ` FROM loom_workflows`
	args := []any{}
	if opts.Status != "" {
		args = append(args, opts.Status)
		query += ` WHERE status = $1`
	}
	query += ` ORDER BY created_at ASC, id ASC` + limitOffset(opts.Limit, opts.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*workflow.Workflow
	for rows.Next() {
		wf, scanErr := scanWorkflow(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		out = append(out, wf)
	}
	return out, rows.Err()
}

func (s *Store) CreateRun(ctx context.Context, run *workflow.Run) error {
	steps, err := marshalJSON(run.Steps)
	if err != nil {
		return err
	}
	outcomes, err := marshalJSON(run.Outcomes)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO loom_runs (id, workflow_id, workflow_name, trigger_id,
			source, state, steps, outcomes, input, error, concurrent,
			step_concurrency, looped, cancel_requested, claimed_by,
			heartbeat_at, run_at, started_at, ended_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20, $21)`,
		run.ID.String(), run.WorkflowID.String(), run.WorkflowName,
		run.TriggerID.String(), run.Source, run.State, steps, outcomes,
		[]byte(run.Input), run.Error, run.Concurrent, run.StepConcurrency,
		run.Looped, run.CancelRequested, run.ClaimedBy.String(),
		run.HeartbeatAt, run.RunAt, run.StartedAt, run.EndedAt,
		run.CreatedAt, run.UpdatedAt,
	)
	if isDuplicateKey(err) {
		return loom.ErrRunConflict
	}
	return err
}

func (s *Store) GetRun(ctx context.Context, runID id.RunID) (*workflow.Run, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM loom_runs WHERE id = $1`,
		runID.String(),
	)
	run, err := scanRun(row)
	if isNoRows(err) {
		return nil, loom.ErrRunNotFound
	}
	return run, err
}

func (s *Store) UpdateRun(ctx context.Context, run *workflow.Run) error {
	steps, err := marshalJSON(run.Steps)
	if err != nil {
		return err
	}
	outcomes, err := marshalJSON(run.Outcomes)
	if err != nil {
		return err
	}
	run.Touch()

	// Terminal rows never match: a full-row write from a stale view
	// must not resurrect a finished run.
	tag, err := s.pool.Exec(ctx, `
		UPDATE loom_runs
		SET state = $2, steps = $3, outcomes = $4, error = $5,
			cancel_requested = cancel_requested OR $6, claimed_by = $7, heartbeat_at = $8,
			run_at = $9, started_at = $10, ended_at = $11, updated_at = $12
		WHERE id = $1 AND state NOT IN `+terminalStates,
		run.ID.String(), run.State, steps, outcomes, run.Error,
		run.CancelRequested, run.ClaimedBy.String(), run.HeartbeatAt,
		run.RunAt, run.StartedAt, run.EndedAt, run.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	err = s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM loom_runs WHERE id = $1)`,
		run.ID.String(),
	).Scan(&exists)
	if err != nil {
		return err
	}
	if !exists {
		return loom.ErrRunNotFound
	}
	return loom.ErrRunTerminal
}

func (s *Store) RequestCancel(ctx context.Context, runID id.RunID) (*workflow.Run, bool, error) {
	var (
		run       *workflow.Run
		finalized bool
	)
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx,
			`SELECT `+runColumns+` FROM loom_runs WHERE id = $1 FOR UPDATE`,
			runID.String(),
		)
		r, err := scanRun(row)
		if isNoRows(err) {
			return loom.ErrRunNotFound
		}
		if err != nil {
			return err
		}
		run = r
		if run.State.Terminal() {
			return nil
		}

		run.CancelRequested = true
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

		outcomes, err := marshalJSON(run.Outcomes)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			UPDATE loom_runs
			SET state = $2, outcomes = $3, cancel_requested = TRUE,
				ended_at = $4, updated_at = $5
			WHERE id = $1`,
			runID.String(), run.State, outcomes, run.EndedAt, run.UpdatedAt,
		)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return run, finalized, nil
}

func (s *Store) ListRuns(ctx context.Context, opts workflow.RunListOpts) ([]*workflow.Run, error) {
	where, args := runFilter(opts)
	query := `SELECT ` + runColumns + ` FROM loom_runs` + where +
		` ORDER BY created_at DESC, id DESC` + limitOffset(opts.Limit, opts.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*workflow.Run
	for rows.Next() {
		run, scanErr := scanRun(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func (s *Store) CountRuns(ctx context.Context, opts workflow.RunListOpts) (int, error) {
	where, args := runFilter(opts)

	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM loom_runs`+where, args...).Scan(&count)
	return count, err
}

func (s *Store) PendingRuns(ctx context.Context, limit int) ([]*workflow.Run, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+runColumns+` FROM loom_runs
		WHERE state = 'pending' AND run_at <= NOW()
		ORDER BY run_at ASC
		LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*workflow.Run
	for rows.Next() {
		run, scanErr := scanRun(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func (s *Store) BeginRun(ctx context.Context, runID id.RunID, workerID id.WorkerID) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE loom_runs
		SET state = 'running', claimed_by = $2, started_at = NOW(),
			heartbeat_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND state = 'pending'`,
		runID.String(), workerID.String(),
	)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	// Lost the race or the run is gone. Distinguish the two.
	var exists bool
	err = s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM loom_runs WHERE id = $1)`,
		runID.String(),
	).Scan(&exists)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, loom.ErrRunNotFound
	}
	return false, nil
}

func (s *Store) HeartbeatRun(ctx context.Context, runID id.RunID, workerID id.WorkerID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE loom_runs
		SET heartbeat_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND claimed_by = $2 AND state = 'running'`,
		runID.String(), workerID.String(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	err = s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM loom_runs WHERE id = $1)`,
		runID.String(),
	).Scan(&exists)
	if err != nil {
		return err
	}
	if !exists {
		return loom.ErrRunNotFound
	}
	return loom.ErrRunConflict
}

func (s *Store) AcquireWorkflowClaim(ctx context.Context, workflowID id.WorkflowID, runID id.RunID) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO loom_workflow_claims (workflow_id, run_id)
		VALUES ($1, $2)
		ON CONFLICT (workflow_id) DO NOTHING`,
		workflowID.String(), runID.String(),
	)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	// Claim exists; acquisition is idempotent for the holder.
	var holder string
	err = s.pool.QueryRow(ctx,
		`SELECT run_id FROM loom_workflow_claims WHERE workflow_id = $1`,
		workflowID.String(),
	).Scan(&holder)
	if isNoRows(err) {
		// Released between the insert and the read; treat as contended
		// and let the caller retry on the next poll.
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return holder == runID.String(), nil
}

func (s *Store) ReleaseWorkflowClaim(ctx context.Context, workflowID id.WorkflowID, runID id.RunID) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM loom_workflow_claims
		WHERE workflow_id = $1 AND run_id = $2`,
		workflowID.String(), runID.String(),
	)
	return err
}

func (s *Store) HasActiveRun(ctx context.Context, workflowID id.WorkflowID) (bool, error) {
	var active bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM loom_runs
			WHERE workflow_id = $1 AND state IN ('pending', 'running')
		)`,
		workflowID.String(),
	).Scan(&active)
	return active, err
}

func (s *Store) StaleRuns(ctx context.Context, cutoff time.Time) ([]*workflow.Run, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+runColumns+` FROM loom_runs
		WHERE state = 'running' AND heartbeat_at <= $1
		ORDER BY heartbeat_at ASC`,
		cutoff,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*workflow.Run
	for rows.Next() {
		run, scanErr := scanRun(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func (s *Store) RequeueRun(ctx context.Context, runID id.RunID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE loom_runs
		SET state = 'pending', claimed_by = '', started_at = NULL,
			heartbeat_at = NULL, updated_at = NOW()
		WHERE id = $1 AND state IN ('pending', 'running')`,
		runID.String(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	err = s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM loom_runs WHERE id = $1)`,
		runID.String(),
	).Scan(&exists)
	if err != nil {
		return err
	}
	if !exists {
		return loom.ErrRunNotFound
	}
	return loom.ErrRunTerminal
}

// runFilter builds the WHERE clause shared by ListRuns and CountRuns.
func runFilter(opts workflow.RunListOpts) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if !opts.WorkflowID.IsNil() {
		args = append(args, opts.WorkflowID.String())
		conds = append(conds, fmt.Sprintf("workflow_id = $%d", len(args)))
	}
	if opts.State != "" {
		args = append(args, opts.State)
		conds = append(conds, fmt.Sprintf("state = $%d", len(args)))
	}
	if len(conds) == 0 {
		return "", nil
	}
	where := " WHERE " + conds[0]
	for _, c := range conds[1:] {
		where += " AND " + c
	}
	return where, args
}

// limitOffset renders LIMIT/OFFSET clauses. Non-positive limits mean
// no limit.
func limitOffset(limit, offset int) string {
	var clause string
	if limit > 0 {
		clause += fmt.Sprintf(" LIMIT %d", limit)
	}
	if offset > 0 {
		clause += fmt.Sprintf(" OFFSET %d", offset)
	}
	return clause
}
