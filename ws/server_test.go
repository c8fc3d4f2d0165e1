package ws_test

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/strandhq/loom/id"
	"github.com/strandhq/loom/stream"
	"github.com/strandhq/loom/workflow"
	"github.com/strandhq/loom/ws"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testRun() *workflow.Run {
	return &workflow.Run{
		ID:           id.NewRunID(),
		WorkflowID:   id.NewWorkflowID(),
		WorkflowName: "sync-accounts",
		Source:       workflow.SourceManual,
		State:        workflow.RunStateRunning,
	}
}

type testEnv struct {
	hub    *stream.Hub
	server *ws.Server
	url    string
}

func newTestEnv(t *testing.T, opts ...ws.ServerOption) *testEnv {
	t.Helper()

	hub := stream.NewHub(testLogger())
	srv := ws.NewServer(hub, testLogger(), opts...)
	httpSrv := httptest.NewServer(srv)
	t.Cleanup(func() {
		srv.Close()
		httpSrv.Close()
	})

	return &testEnv{
		hub:    hub,
		server: srv,
		url:    "ws" + strings.TrimPrefix(httpSrv.URL, "http"),
	}
}

func dial(t *testing.T, env *testEnv) *ws.Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	c, err := ws.Dial(ctx, env.url, ws.WithClientLogger(testLogger()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func recvEvent(t *testing.T, c *ws.Client) *stream.Event {
	t.Helper()
	select {
	case evt, ok := <-c.Events():
		if !ok {
			t.Fatal("events channel closed")
		}
		return evt
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return nil
}

func TestServerDeliversSubscribedEvents(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	c := dial(t, env)
	ctx := context.Background()

	run := testRun()
	if err := c.Subscribe(ctx, stream.RunTopic(run.ID.String())); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := env.hub.OnRunStarted(ctx, run); err != nil {
		t.Fatalf("publish: %v", err)
	}

	evt := recvEvent(t, c)
	if evt.Type != stream.EventRunStarted {
		t.Fatalf("expected run.started, got %s", evt.Type)
	}
	if evt.RunID != run.ID.String() {
		t.Fatalf("expected run %s, got %s", run.ID, evt.RunID)
	}
}

func TestServerScopesDeliveryToTopic(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	c := dial(t, env)
	ctx := context.Background()

	watched := testRun()
	other := testRun()
	if err := c.Subscribe(ctx, stream.RunTopic(watched.ID.String())); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := env.hub.OnRunStarted(ctx, other); err != nil {
		t.Fatalf("publish other: %v", err)
	}
	if err := env.hub.OnRunStarted(ctx, watched); err != nil {
		t.Fatalf("publish watched: %v", err)
	}

	evt := recvEvent(t, c)
	if evt.RunID != watched.ID.String() {
		t.Fatalf("received event for unsubscribed run %s", evt.RunID)
	}
}

func TestServerEventTypeFilter(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	c := dial(t, env)
	ctx := context.Background()

	run := testRun()
	topics := []string{stream.RunTopic(run.ID.String())}
	err := c.SubscribeTypes(ctx, topics, []string{string(stream.EventRunSucceeded)})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := env.hub.OnRunStarted(ctx, run); err != nil {
		t.Fatalf("publish started: %v", err)
	}
	if err := env.hub.OnRunSucceeded(ctx, run, time.Second); err != nil {
		t.Fatalf("publish succeeded: %v", err)
	}

	evt := recvEvent(t, c)
	if evt.Type != stream.EventRunSucceeded {
		t.Fatalf("filter leaked event type %s", evt.Type)
	}
}

func TestServerRejectsInvalidTopic(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	c := dial(t, env)
	ctx := context.Background()

	err := c.Subscribe(ctx, "bogus-topic-with-no-entity")
	if err == nil {
		t.Fatal("expected subscribe to an invalid topic to fail")
	}
	if !strings.Contains(err.Error(), "invalid topic") {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestServerUnsubscribeStopsDelivery(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	c := dial(t, env)
	ctx := context.Background()

	run := testRun()
	topic := stream.RunTopic(run.ID.String())
	if err := c.Subscribe(ctx, topic); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := c.Unsubscribe(ctx, topic); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}

	if err := env.hub.OnRunStarted(ctx, run); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case evt, ok := <-c.Events():
		if ok {
			t.Fatalf("received event %s after unsubscribe", evt.Type)
		}
	case <-time.After(200 * time.Millisecond):
	}
}

func TestServerPingPong(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	c := dial(t, env)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}
}

func TestServerClosesIdleConnections(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, ws.WithIdleTimeout(200*time.Millisecond))
	c := dial(t, env)
	_ = c

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if env.server.ConnectionCount() == 0 {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("idle connection was not closed, %d still open", env.server.ConnectionCount())
}
