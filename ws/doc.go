// Package ws exposes the broadcast hub over WebSocket.
//
// The server speaks a small JSON frame protocol: clients subscribe to
// topics (run:<id>, workflow:<id>, firehose), optionally narrowed to a
// set of event types, and receive lifecycle events as they happen.
// Ping/pong frames keep idle connections alive; connections that stay
// silent past the idle timeout are closed.
//
// Mount the server on any mux:
//
//	srv := ws.NewServer(engine.Hub(), logger)
//	mux.Handle("/ws", srv)
//
// The package also ships a minimal client for the same protocol:
//
//	c, err := ws.Dial(ctx, "ws://host/ws")
//	if err != nil { ... }
//	defer c.Close()
//	if err := c.Subscribe(ctx, stream.RunTopic(runID)); err != nil { ... }
//	for evt := range c.Events() {
//	    fmt.Println(evt.Type, evt.RunID)
//	}
package ws
