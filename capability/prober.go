package capability

import "context"

// Prober checks whether a capability server is alive and returns its
// current tool list. A nil error means the server answered.
type Prober interface {
	Probe(ctx context.Context, srv *Server) ([]Tool, error)
}

// ProberFunc adapts a function to the Prober interface.
type ProberFunc func(ctx context.Context, srv *Server) ([]Tool, error)

// Probe calls f.
func (f ProberFunc) Probe(ctx context.Context, srv *Server) ([]Tool, error) {
	return f(ctx, srv)
}
