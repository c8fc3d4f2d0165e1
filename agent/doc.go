// Package agent defines the agent registry and the invocation transport
// used by the execution engine.
//
// Agents are the executable units bound to workflow steps. The Registry
// manages their lifecycle (create, update, activate, deactivate) and
// resolves agent references during workflow activation and step
// dispatch. The Invoker interface abstracts how a step invocation
// reaches an agent; HTTPInvoker ships as the default transport.
package agent
