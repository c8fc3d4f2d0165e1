// Package hook defines the lifecycle hook system for Loom.
// Hooks are notified of lifecycle events (run started, step failed,
// trigger fired, capability health changed, ...) and can react to
// them, such as broadcasting, activity recording, and metrics.
//
// Each lifecycle event is a separate interface so hooks opt in only
// to the events they care about.
package hook
