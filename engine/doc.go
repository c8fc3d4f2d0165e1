// Package engine wires the Loom subsystems into a running whole: the
// worker pool that claims pending runs, the DAG executor that dispatches
// steps through the middleware chain, the trigger scheduler, the
// capability health monitor, and the broadcast hub.
//
// Build takes a configured loom.Conductor and a store and assembles
// everything:
//
//	c, _ := loom.New(loom.WithStore(memory.New()))
//	eng, err := engine.Build(c)
//	if err != nil { ... }
//	_ = c.Start(ctx)
//	runID, _ := eng.TriggerRun(ctx, workflowID, nil)
package engine
