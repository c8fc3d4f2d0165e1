package postgres

import (
	"context"
	"fmt"

	"github.com/strandhq/loom/activity"
)

func (s *Store) AppendActivity(ctx context.Context, e *activity.Entry) error {
	meta, err := marshalJSON(e.Metadata)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO loom_activities (id, action, resource, resource_id,
			severity, outcome, reason, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		e.ID.String(), e.Action, e.Resource, e.ResourceID, e.Severity,
		e.Outcome, e.Reason, meta, e.CreatedAt, e.UpdatedAt,
	)
	return err
}

func (s *Store) ListActivities(ctx context.Context, opts activity.ListOpts) ([]*activity.Entry, error) {
	var (
		conds []string
		args  []any
	)
	if opts.Resource != "" {
		args = append(args, opts.Resource)
		conds = append(conds, fmt.Sprintf("resource = $%d", len(args)))
	}
	if opts.ResourceID != "" {
		args = append(args, opts.ResourceID)
		conds = append(conds, fmt.Sprintf("resource_id = $%d", len(args)))
	}
	if opts.Action != "" {
		args = append(args, opts.Action)
		conds = append(conds, fmt.Sprintf("action = $%d", len(args)))
	}

	query := `SELECT ` + activityColumns + ` FROM loom_activities`
	if len(conds) > 0 {
		query += " WHERE " + conds[0]
		for _, c := range conds[1:] {
			query += " AND " + c
		}
	}
	query += ` ORDER BY created_at DESC, id DESC` + limitOffset(opts.Limit, opts.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*activity.Entry
	for rows.Next() {
		e, scanErr := scanActivity(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
