package capability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// maxConcurrentProbes caps how many servers one tick probes at once.
const maxConcurrentProbes = 4

// Monitor runs the fixed-interval health probe loop over every
// registered capability server.
type Monitor struct {
	registry *Registry
	interval time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewMonitor creates a health monitor over the registry.
func NewMonitor(registry *Registry, interval time.Duration, logger *slog.Logger) *Monitor {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Monitor{registry: registry, interval: interval, logger: logger}
}

// Start launches the probe loop. It returns immediately.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return nil
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.cancel = cancel
	m.done = make(chan struct{})

	go m.loop(loopCtx)
	return nil
}

// Stop halts the probe loop and waits for the in-flight tick.
func (m *Monitor) Stop(ctx context.Context) error {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel = nil
	m.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Monitor) loop(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

// tick probes every registered server, a bounded number at a time.
func (m *Monitor) tick(ctx context.Context) {
	servers, err := m.registry.List(ctx, ListOpts{})
	if err != nil {
		m.logger.Error("capability monitor list failed", slog.String("error", err.Error()))
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentProbes)
	for _, srv := range servers {
		g.Go(func() error {
			if _, err := m.registry.Probe(gctx, srv.ID); err != nil {
				// Store errors only; probe failures are folded into
				// health state, not returned.
				m.logger.Error("capability probe bookkeeping failed",
					slog.String("capability_id", srv.ID.String()),
					slog.String("error", err.Error()),
				)
			}
			return nil
		})
	}
	_ = g.Wait()
}
