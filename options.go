package loom

import (
	"context"
	"log/slog"
	"time"
)

// Option configures a Conductor.
type Option func(*Conductor) error

// Storer is the minimal store interface held by the Conductor.
// It covers lifecycle operations only. The full composite interface
// (store.Store) is used in subsystem layers that don't create import
// cycles. Implementations satisfy store.Store which embeds all
// subsystem stores.
type Storer interface {
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// runner is an internal interface for a background component lifecycle
// (worker pool, trigger scheduler, capability monitor).
type runner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// hookEmitter is an internal interface for lifecycle hook shutdown.
type hookEmitter interface {
	EmitShutdown(ctx context.Context)
}

// Conductor is the central coordinator for workflow execution, trigger
// scheduling, capability health monitoring, and event broadcasting.
//
// Create one with New() and functional options. The Conductor holds
// references to subsystem components via internal interfaces to avoid
// import cycles. Use engine.Build() to wire everything together.
type Conductor struct {
	config  Config
	logger  *slog.Logger
	store   Storer
	hooks   hookEmitter
	runners []runner

	// started tracks whether Start has been called.
	started bool
}

// New creates a new Conductor with the given options.
func New(opts ...Option) (*Conductor, error) {
	c := &Conductor{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Logger returns the conductor's logger.
func (c *Conductor) Logger() *slog.Logger { return c.logger }

// Store returns the conductor's store.
func (c *Conductor) Store() Storer { return c.store }

// Config returns a copy of the conductor's configuration.
func (c *Conductor) Config() Config { return c.config }

// AddRunner registers a background component to be started and stopped
// with the conductor (called by engine.Build).
func (c *Conductor) AddRunner(r runner) { c.runners = append(c.runners, r) }

// SetHooks sets the hook emitter (called by engine.Build).
func (c *Conductor) SetHooks(h hookEmitter) { c.hooks = h }

// Start begins run processing, trigger scheduling, and health probing.
func (c *Conductor) Start(ctx context.Context) error {
	if len(c.runners) == 0 {
		return ErrNoStore
	}
	for _, r := range c.runners {
		if err := r.Start(ctx); err != nil {
			return err
		}
	}
	c.started = true
	return nil
}

// Stop gracefully shuts down the conductor. Runners stop in reverse
// start order so the pool drains before the scheduler is gone.
func (c *Conductor) Stop(ctx context.Context) error {
	if c.started {
		for i := len(c.runners) - 1; i >= 0; i-- {
			if err := c.runners[i].Stop(ctx); err != nil {
				c.logger.Error("runner stop error", slog.String("error", err.Error()))
			}
		}
	}
	if c.hooks != nil {
		c.hooks.EmitShutdown(ctx)
	}
	if c.store != nil {
		return c.store.Close()
	}
	return nil
}

// WithConcurrency sets the maximum number of concurrently executed runs.
func WithConcurrency(n int) Option {
	return func(c *Conductor) error {
		c.config.Concurrency = n
		return nil
	}
}

// WithStepConcurrency sets the default per-run step dispatch cap.
func WithStepConcurrency(n int) Option {
	return func(c *Conductor) error {
		c.config.StepConcurrency = n
		return nil
	}
}

// WithMaxStepRetries sets the default transient-fault retry budget.
func WithMaxStepRetries(n int) Option {
	return func(c *Conductor) error {
		c.config.MaxStepRetries = n
		return nil
	}
}

// WithLogger sets the structured logger for the conductor.
func WithLogger(l *slog.Logger) Option {
	return func(c *Conductor) error {
		c.logger = l
		return nil
	}
}

// WithStore sets the persistence backend for the conductor.
// The store must implement Storer at minimum; typically it will be a
// store.Store which embeds all subsystem store interfaces.
func WithStore(s Storer) Option {
	return func(c *Conductor) error {
		c.store = s
		return nil
	}
}

// WithProbeInterval sets how often capability servers are health-probed.
func WithProbeInterval(d time.Duration) Option {
	return func(c *Conductor) error {
		c.config.ProbeInterval = d
		return nil
	}
}

// WithConfig replaces the whole configuration. Later options still
// override individual fields.
func WithConfig(cfg Config) Option {
	return func(c *Conductor) error {
		c.config = cfg
		return nil
	}
}
