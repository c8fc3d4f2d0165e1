package activity

import "context"

// ListOpts filters activity listings. Zero values mean "no filter".
type ListOpts struct {
	Resource   string
	ResourceID string
	Action     string
	Limit      int
	Offset     int
}

// Store is the persistence interface for the activity log.
type Store interface {
	AppendActivity(ctx context.Context, e *Entry) error
	ListActivities(ctx context.Context, opts ListOpts) ([]*Entry, error)
}
