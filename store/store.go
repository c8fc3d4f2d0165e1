// Package store defines the aggregate persistence interface. Each
// subsystem (workflow, agent, capability, trigger, activity) defines
// its own store interface; the composite Store composes them all.
// Backends: Postgres and Memory.
package store

import (
	"context"

	"github.com/strandhq/loom/activity"
	"github.com/strandhq/loom/agent"
	"github.com/strandhq/loom/capability"
	"github.com/strandhq/loom/trigger"
	"github.com/strandhq/loom/workflow"
)

// Store is the aggregate persistence interface.
// Each subsystem store is a composable interface; a single backend
// implements all of them.
type Store interface {
	workflow.Store
	agent.Store
	capability.Store
	trigger.Store
	activity.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks database connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
