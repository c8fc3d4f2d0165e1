package capability

import (
	"context"

	"github.com/strandhq/loom/id"
)

// ListOpts filters capability server listings. Zero values mean "no
// filter".
type ListOpts struct {
	Health Health
	Limit  int
	Offset int
}

// Store is the persistence interface for capability servers.
type Store interface {
	CreateCapability(ctx context.Context, srv *Server) error
	GetCapability(ctx context.Context, capabilityID id.CapabilityID) (*Server, error)

	// GetCapabilityByEndpoint returns the server registered at the
	// given endpoint, or loom.ErrCapabilityNotFound.
	GetCapabilityByEndpoint(ctx context.Context, endpoint string) (*Server, error)

	UpdateCapability(ctx context.Context, srv *Server) error
	DeleteCapability(ctx context.Context, capabilityID id.CapabilityID) error
	ListCapabilities(ctx context.Context, opts ListOpts) ([]*Server, error)
}
