package postgres

import (
	"context"

	"github.com/strandhq/loom"
	"github.com/strandhq/loom/agent"
	"github.com/strandhq/loom/id"
)

func (s *Store) CreateAgent(ctx context.Context, a *agent.Agent) error {
	capIDs, err := marshalJSON(a.CapabilityIDs)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO loom_agents (id, name, description, status, endpoint,
			capability_ids, config, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.ID.String(), a.Name, a.Description, a.Status, a.Endpoint,
		capIDs, []byte(a.Config), a.CreatedAt, a.UpdatedAt,
	)
	return err
}

func (s *Store) GetAgent(ctx context.Context, agentID id.AgentID) (*agent.Agent, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+agentColumns+` FROM loom_agents WHERE id = $1`,
		agentID.String(),
	)
	a, err := scanAgent(row)
	if isNoRows(err) {
		return nil, loom.ErrAgentNotFound
	}
	return a, err
}

func (s *Store) UpdateAgent(ctx context.Context, a *agent.Agent) error {
	capIDs, err := marshalJSON(a.CapabilityIDs)
	if err != nil {
		return err
	}
	a.Touch()

	tag, err := s.pool.Exec(ctx, `
		UPDATE loom_agents
		SET name = $2, description = $3, status = $4, endpoint = $5,
			capability_ids = $6, config = $7, updated_at = $8
		WHERE id = $1`,
		a.ID.String(), a.Name, a.Description, a.Status, a.Endpoint,
		capIDs, []byte(a.Config), a.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return loom.ErrAgentNotFound
	}
	return nil
}

func (s *Store) ListAgents(ctx context.Context, opts agent.ListOpts) ([]*agent.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM loom_agents`
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

	var out []*agent.Agent
	for rows.Next() {
		a, scanErr := scanAgent(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
