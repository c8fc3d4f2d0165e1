package loom

import (
	"errors"
	"fmt"
)

var (
	// Store errors.
	ErrNoStore         = errors.New("loom: no store configured")
	ErrStoreClosed     = errors.New("loom: store closed")
	ErrMigrationFailed = errors.New("loom: migration failed")

	// Not found errors.
	ErrWorkflowNotFound   = errors.New("loom: workflow not found")
	ErrRunNotFound        = errors.New("loom: run not found")
	ErrAgentNotFound      = errors.New("loom: agent not found")
	ErrCapabilityNotFound = errors.New("loom: capability server not found")
	ErrTriggerNotFound    = errors.New("loom: trigger not found")

	// Conflict errors.
	ErrWorkflowExists       = errors.New("loom: workflow already exists")
	ErrDuplicateCapability  = errors.New("loom: capability server already registered")
	ErrDuplicateTrigger     = errors.New("loom: duplicate trigger")
	ErrRunConflict          = errors.New("loom: workflow already has an active run")
	ErrCapabilityReferenced = errors.New("loom: capability server is referenced by an active workflow")

	// State errors.
	ErrWorkflowInactive   = errors.New("loom: workflow is not active")
	ErrAgentInactive      = errors.New("loom: agent is not active")
	ErrRunTerminal        = errors.New("loom: run is in a terminal state")
	ErrInvalidState       = errors.New("loom: invalid state transition")
	ErrMaxRetriesExceeded = errors.New("loom: max retries exceeded")
)

// ValidationError describes a workflow definition that failed graph
// validation. Field identifies the offending step or edge.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("loom: invalid workflow: %s: %s", e.Field, e.Reason)
}

// FaultKind classifies a step failure for retry purposes.
type FaultKind string

const (
	// FaultTransient marks failures that may succeed on retry
	// (timeouts, degraded capability servers, flaky transports).
	FaultTransient FaultKind = "transient"

	// FaultPermanent marks failures that retrying cannot fix
	// (missing agents, unreachable capability servers, panics,
	// rejected inputs).
	FaultPermanent FaultKind = "permanent"
)

// Fault wraps a step invocation error with its retry classification.
// Errors without a Fault wrapper are treated as permanent.
type Fault struct {
	Kind FaultKind
	Err  error
}

func (f *Fault) Error() string {
	return fmt.Sprintf("%s: %v", f.Kind, f.Err)
}

func (f *Fault) Unwrap() error { return f.Err }

// Transient wraps err as a retryable fault.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &Fault{Kind: FaultTransient, Err: err}
}

// Permanent wraps err as a non-retryable fault.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &Fault{Kind: FaultPermanent, Err: err}
}

// KindOf returns the retry classification of err. Unclassified errors
// are permanent.
func KindOf(err error) FaultKind {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	return FaultPermanent
}

// IsTransient reports whether err is classified as retryable.
func IsTransient(err error) bool {
	return KindOf(err) == FaultTransient
}
