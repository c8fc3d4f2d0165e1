package loom

import "time"

// Config holds configuration for the Conductor.
type Config struct {
	// Concurrency is the maximum number of runs executed concurrently
	// by one worker pool.
	Concurrency int

	// StepConcurrency is the default cap on concurrently dispatched
	// steps within a single run. Workflows may override it.
	StepConcurrency int

	// MaxStepRetries is the default retry budget for a step that fails
	// with a transient fault. A step is attempted at most
	// MaxStepRetries+1 times.
	MaxStepRetries int

	// PollInterval is how often the pool polls for pending runs.
	PollInterval time.Duration

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration

	// CancelGrace is how long a cancelled run waits for in-flight step
	// invocations before abandoning them.
	CancelGrace time.Duration

	// CancelPollInterval is how often a running executor re-reads the
	// cancel flag while steps are in flight.
	CancelPollInterval time.Duration

	// HeartbeatInterval is how often claimed runs send heartbeats.
	HeartbeatInterval time.Duration

	// StaleRunThreshold is how long before a claimed run without a
	// heartbeat is released back to pending.
	StaleRunThreshold time.Duration

	// ProbeInterval is how often capability servers are health-probed.
	ProbeInterval time.Duration

	// ProbeTimeout bounds a single health probe.
	ProbeTimeout time.Duration

	// SchedulerTick is the trigger scheduler's clock resolution.
	SchedulerTick time.Duration

	// SubscriberBuffer is the per-subscriber event buffer size on the
	// broadcast hub.
	SubscriberBuffer int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:        10,
		StepConcurrency:    4,
		MaxStepRetries:     3,
		PollInterval:       1 * time.Second,
		ShutdownTimeout:    30 * time.Second,
		CancelGrace:        5 * time.Second,
		CancelPollInterval: 1 * time.Second,
		HeartbeatInterval:  10 * time.Second,
		StaleRunThreshold:  30 * time.Second,
		ProbeInterval:      15 * time.Second,
		ProbeTimeout:       3 * time.Second,
		SchedulerTick:      1 * time.Second,
		SubscriberBuffer:   256,
	}
}
