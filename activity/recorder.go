package activity

import (
	"context"
	"log/slog"

	"github.com/strandhq/loom"
	"github.com/strandhq/loom/id"
)

// Recorder appends entries to the activity store. Record never fails
// the caller.
type Recorder struct {
	store  Store
	logger *slog.Logger
}

// NewRecorder creates a Recorder over the given store.
func NewRecorder(store Store, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: store, logger: logger}
}

// Record persists an entry. Persistence errors are logged and
// swallowed so that recording never aborts the operation that emitted
// the entry.
func (r *Recorder) Record(ctx context.Context, e *Entry) {
	if e.ID.IsNil() {
		e.ID = id.NewActivityID()
	}
	if e.CreatedAt.IsZero() {
		e.Entity = loom.NewEntity()
	}
	if err := r.store.AppendActivity(ctx, e); err != nil {
		r.logger.Warn("activity record failed",
			slog.String("action", e.Action),
			slog.String("resource_id", e.ResourceID),
			slog.String("error", err.Error()),
		)
	}
}

// List returns recorded entries matching the filter.
func (r *Recorder) List(ctx context.Context, opts ListOpts) ([]*Entry, error) {
	return r.store.ListActivities(ctx, opts)
}
