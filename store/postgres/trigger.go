package postgres

import (
	"context"
	"fmt"

	"github.com/strandhq/loom"
	"github.com/strandhq/loom/id"
	"github.com/strandhq/loom/trigger"
)

func (s *Store) CreateTrigger(ctx context.Context, t *trigger.Trigger) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO loom_triggers (id, workflow_id, name, kind, enabled,
			schedule, event_pattern, rate_per_minute, input, last_fired_at,
			next_fire_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		t.ID.String(), t.WorkflowID.String(), t.Name, t.Kind, t.Enabled,
		t.Schedule, t.EventPattern, t.RatePerMinute, []byte(t.Input),
		t.LastFiredAt, t.NextFireAt, t.CreatedAt, t.UpdatedAt,
	)
	if isDuplicateKey(err) {
		return loom.ErrDuplicateTrigger
	}
	return err
}

func (s *Store) GetTrigger(ctx context.Context, triggerID id.TriggerID) (*trigger.Trigger, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+triggerColumns+` FROM loom_triggers WHERE id = $1`,
		triggerID.String(),
	)
	t, err := scanTrigger(row)
	if isNoRows(err) {
		return nil, loom.ErrTriggerNotFound
	}
	return t, err
}

func (s *Store) UpdateTrigger(ctx context.Context, t *trigger.Trigger) error {
	t.Touch()

	tag, err := s.pool.Exec(ctx, `
		UPDATE loom_triggers
		SET workflow_id = $2, name = $3, kind = $4, enabled = $5,
			schedule = $6, event_pattern = $7, rate_per_minute = $8,
			input = $9, last_fired_at = $10, next_fire_at = $11,
			updated_at = $12
		WHERE id = $1`,
		t.ID.String(), t.WorkflowID.String(), t.Name, t.Kind, t.Enabled,
		t.Schedule, t.EventPattern, t.RatePerMinute, []byte(t.Input),
		t.LastFiredAt, t.NextFireAt, t.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return loom.ErrTriggerNotFound
	}
	return nil
}

func (s *Store) DeleteTrigger(ctx context.Context, triggerID id.TriggerID) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM loom_triggers WHERE id = $1`,
		triggerID.String(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return loom.ErrTriggerNotFound
	}
	return nil
}

func (s *Store) ListTriggers(ctx context.Context, opts trigger.ListOpts) ([]*trigger.Trigger, error) {
	var (
		conds []string
		args  []any
	)
	if !opts.WorkflowID.IsNil() {
		args = append(args, opts.WorkflowID.String())
		conds = append(conds, fmt.Sprintf("workflow_id = $%d", len(args)))
	}
	if opts.Kind != "" {
		args = append(args, opts.Kind)
		conds = append(conds, fmt.Sprintf("kind = $%d", len(args)))
	}

	query := `SELECT ` + triggerColumns + ` FROM loom_triggers`
	if len(conds) > 0 {
		query += " WHERE " + conds[0]
		for _, c := range conds[1:] {
			query += " AND " + c
		}
	}
	query += ` ORDER BY created_at ASC, id ASC` + limitOffset(opts.Limit, opts.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*trigger.Trigger
	for rows.Next() {
		t, scanErr := scanTrigger(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
