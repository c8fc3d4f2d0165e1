package postgres

import (
	"encoding/json"

	"github.com/strandhq/loom/activity"
	"github.com/strandhq/loom/agent"
	"github.com/strandhq/loom/capability"
	"github.com/strandhq/loom/trigger"
	"github.com/strandhq/loom/workflow"
)

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

const workflowColumns = `id, name, description, status, steps, concurrent,
	on_busy, step_concurrency, looped, created_at, updated_at`

func scanWorkflow(row rowScanner) (*workflow.Workflow, error) {
	var (
		wf    workflow.Workflow
		steps []byte
	)
	err := row.Scan(
		&wf.ID, &wf.Name, &wf.Description, &wf.Status, &steps,
		&wf.Concurrent, &wf.OnBusy, &wf.StepConcurrency, &wf.Looped,
		&wf.CreatedAt, &wf.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := unmarshalJSON(steps, &wf.Steps); err != nil {
		return nil, err
	}
	return &wf, nil
}

const runColumns = `id, workflow_id, workflow_name, trigger_id, source, state,
	steps, outcomes, input, error, concurrent, step_concurrency, looped,
	cancel_requested, claimed_by, heartbeat_at, run_at, started_at, ended_at,
	created_at, updated_at`

func scanRun(row rowScanner) (*workflow.Run, error) {
	var (
		r        workflow.Run
		steps    []byte
		outcomes []byte
		input    []byte
	)
	err := row.Scan(
		&r.ID, &r.WorkflowID, &r.WorkflowName, &r.TriggerID, &r.Source,
		&r.State, &steps, &outcomes, &input, &r.Error, &r.Concurrent,
		&r.StepConcurrency, &r.Looped, &r.CancelRequested, &r.ClaimedBy,
		&r.HeartbeatAt, &r.RunAt, &r.StartedAt, &r.EndedAt,
		&r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := unmarshalJSON(steps, &r.Steps); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(outcomes, &r.Outcomes); err != nil {
		return nil, err
	}
	if len(input) > 0 {
		r.Input = json.RawMessage(input)
	}
	return &r, nil
}

const agentColumns = `id, name, description, status, endpoint,
	capability_ids, config, created_at, updated_at`

func scanAgent(row rowScanner) (*agent.Agent, error) {
	var (
		a      agent.Agent
		capIDs []byte
		config []byte
	)
	err := row.Scan(
		&a.ID, &a.Name, &a.Description, &a.Status, &a.Endpoint,
		&capIDs, &config, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := unmarshalJSON(capIDs, &a.CapabilityIDs); err != nil {
		return nil, err
	}
	if len(config) > 0 {
		a.Config = json.RawMessage(config)
	}
	return &a, nil
}

const capabilityColumns = `id, name, endpoint, health, consecutive_failures,
	tools, last_probe_at, last_error, created_at, updated_at`

func scanCapability(row rowScanner) (*capability.Server, error) {
	var (
		srv   capability.Server
		tools []byte
	)
	err := row.Scan(
		&srv.ID, &srv.Name, &srv.Endpoint, &srv.Health,
		&srv.ConsecutiveFailures, &tools, &srv.LastProbeAt,
		&srv.LastError, &srv.CreatedAt, &srv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := unmarshalJSON(tools, &srv.Tools); err != nil {
		return nil, err
	}
	return &srv, nil
}

const triggerColumns = `id, workflow_id, name, kind, enabled, schedule,
	event_pattern, rate_per_minute, input, last_fired_at, next_fire_at,
	created_at, updated_at`

func scanTrigger(row rowScanner) (*trigger.Trigger, error) {
	var (
		t     trigger.Trigger
		input []byte
	)
	err := row.Scan(
		&t.ID, &t.WorkflowID, &t.Name, &t.Kind, &t.Enabled, &t.Schedule,
		&t.EventPattern, &t.RatePerMinute, &input, &t.LastFiredAt,
		&t.NextFireAt, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(input) > 0 {
		t.Input = json.RawMessage(input)
	}
	return &t, nil
}

const activityColumns = `id, action, resource, resource_id, severity,
	outcome, reason, metadata, created_at, updated_at`

func scanActivity(row rowScanner) (*activity.Entry, error) {
	var (
		e    activity.Entry
		meta []byte
	)
	err := row.Scan(
		&e.ID, &e.Action, &e.Resource, &e.ResourceID, &e.Severity,
		&e.Outcome, &e.Reason, &meta, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := unmarshalJSON(meta, &e.Metadata); err != nil {
		return nil, err
	}
	return &e, nil
}
