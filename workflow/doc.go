// Package workflow defines workflow definitions as directed step graphs,
// runs with per-step outcomes, graph validation, and the store interface
// used to persist them.
//
// A Workflow is a named set of Steps. Each step binds an agent (and
// optionally a capability server) and declares the steps it depends on.
// Activating a workflow validates the graph: step IDs must be unique,
// dependency references must resolve, and the graph must be acyclic
// unless the workflow is explicitly marked as a loop construct.
//
// A Run snapshots the step graph at creation time, so definition edits
// never affect an in-flight run.
package workflow
