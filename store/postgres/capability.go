package postgres

import (
	"context"

	"github.com/strandhq/loom"
	"github.com/strandhq/loom/capability"
	"github.com/strandhq/loom/id"
)

func (s *Store) CreateCapability(ctx context.Context, srv *capability.Server) error {
	tools, err := marshalJSON(srv.Tools)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO loom_capabilities (id, name, endpoint, health,
			consecutive_failures, tools, last_probe_at, last_error,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		srv.ID.String(), srv.Name, srv.Endpoint, srv.Health,
		srv.ConsecutiveFailures, tools, srv.LastProbeAt, srv.LastError,
		srv.CreatedAt, srv.UpdatedAt,
	)
	if isDuplicateKey(err) {
		return loom.ErrDuplicateCapability
	}
	return err
}

func (s *Store) GetCapability(ctx context.Context, capabilityID id.CapabilityID) (*capability.Server, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+capabilityColumns+` FROM loom_capabilities WHERE id = $1`,
		capabilityID.String(),
	)
	srv, err := scanCapability(row)
	if isNoRows(err) {
		return nil, loom.ErrCapabilityNotFound
	}
	return srv, err
}

func (s *Store) GetCapabilityByEndpoint(ctx context.Context, endpoint string) (*capability.Server, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+capabilityColumns+` FROM loom_capabilities WHERE endpoint = $1`,
		endpoint,
	)
	srv, err := scanCapability(row)
	if isNoRows(err) {
		return nil, loom.ErrCapabilityNotFound
	}
	return srv, err
}

func (s *Store) UpdateCapability(ctx context.Context, srv *capability.Server) error {
	tools, err := marshalJSON(srv.Tools)
	if err != nil {
		return err
	}
	srv.Touch()

	tag, err := s.pool.Exec(ctx, `
		UPDATE loom_capabilities
		SET name = $2, endpoint = $3, health = $4,
			consecutive_failures = $5, tools = $6, last_probe_at = $7,
			last_error = $8, updated_at = $9
		WHERE id = $1`,
		srv.ID.String(), srv.Name, srv.Endpoint, srv.Health,
		srv.ConsecutiveFailures, tools, srv.LastProbeAt, srv.LastError,
		srv.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return loom.ErrCapabilityNotFound
	}
	return nil
}

func (s *Store) DeleteCapability(ctx context.Context, capabilityID id.CapabilityID) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM loom_capabilities WHERE id = $1`,
		capabilityID.String(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return loom.ErrCapabilityNotFound
	}
	return nil
}

func (s *Store) ListCapabilities(ctx context.Context, opts capability.ListOpts) ([]*capability.Server, error) {
	query := `SELECT ` + capabilityColumns + ` FROM loom_capabilities`
	args := []any{}
	if opts.Health != "" {
		args = append(args, opts.Health)
		query += ` WHERE health = $1`
	}
	query += ` ORDER BY created_at ASC, id ASC` + limitOffset(opts.Limit, opts.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*capability.Server
	for rows.Next() {
		srv, scanErr := scanCapability(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		out = append(out, srv)
	}
	return out, rows.Err()
}
