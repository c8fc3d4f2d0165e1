package trigger

import (
	"context"

	"github.com/strandhq/loom/id"
)

// ListOpts filters trigger listings. Zero values mean "no filter".
type ListOpts struct {
	WorkflowID id.WorkflowID
	Kind       Kind
	Limit      int
	Offset     int
}

// Store is the persistence interface for triggers.
type Store interface {
	CreateTrigger(ctx context.Context, t *Trigger) error
	GetTrigger(ctx context.Context, triggerID id.TriggerID) (*Trigger, error)
	UpdateTrigger(ctx context.Context, t *Trigger) error
	DeleteTrigger(ctx context.Context, triggerID id.TriggerID) error
	ListTriggers(ctx context.Context, opts ListOpts) ([]*Trigger, error)
}
