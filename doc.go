// Package loom provides a composable workflow orchestration and real-time
// synchronization engine for Go. It offers a capability-server registry with
// continuous health probing, an agent registry, durable workflow definitions
// with DAG execution, cron and event triggers, and a broadcast hub that fans
// execution state out to connected observers.
//
// Loom is designed as a library, not a service. Import it, configure a
// store, register agents and capability servers, define workflows as step
// graphs, and mount the HTTP/WebSocket surfaces from the api and ws packages
// if the host needs them.
//
// # Quick Start
//
//	c, err := loom.New(
//	    loom.WithStore(memory.New()),
//	    loom.WithConcurrency(8),
//	)
//
// # Architecture
//
// Loom follows a composable store pattern where each subsystem (workflow,
// agent, capability, trigger, activity) defines its own store interface.
// A single backend implements all of them.
//
// All entity IDs use TypeID: type-prefixed, K-sortable, UUIDv7-based,
// compile-time safe identifiers.
package loom
