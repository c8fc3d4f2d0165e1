package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/strandhq/loom/id"
	"github.com/strandhq/loom/workflow"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testRun(t *testing.T) *workflow.Run {
	t.Helper()
	wf := &workflow.Workflow{
		ID:   id.NewWorkflowID(),
		Name: "nightly-report",
		Steps: []workflow.Step{
			{ID: "fetch", Name: "Fetch"},
			{ID: "render", Name: "Render", DependsOn: []string{"fetch"}},
		},
	}
	return workflow.NewRun(wf, workflow.SourceManual, nil)
}

// receive reads one event or fails the test after a timeout.
func receive(t *testing.T, sub *Subscriber) *Event {
	t.Helper()
	select {
	case evt, ok := <-sub.C():
		if !ok {
			t.Fatal("subscriber channel closed")
		}
		return evt
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestHubDeliversRunEventToRunTopic(t *testing.T) {
	t.Parallel()

	hub := NewHub(testLogger())
	r := testRun(t)
	r.State = workflow.RunStateRunning

	sub := hub.Subscribe("conn-1", RunTopic(r.ID.String()))

	if err := hub.OnRunStarted(context.Background(), r); err != nil {
		t.Fatalf("OnRunStarted: %v", err)
	}

	evt := receive(t, sub)
	if evt.Type != EventRunStarted {
		t.Errorf("type = %q, want %q", evt.Type, EventRunStarted)
	}
	if evt.RunID != r.ID.String() {
		t.Errorf("runId = %q, want %q", evt.RunID, r.ID.String())
	}
	if evt.WorkflowID != r.WorkflowID.String() {
		t.Errorf("workflowId = %q, want %q", evt.WorkflowID, r.WorkflowID.String())
	}
	if evt.State != "running" {
		t.Errorf("state = %q, want running", evt.State)
	}

	var payload RunPayload
	if err := json.Unmarshal(evt.Payload, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.WorkflowName != "nightly-report" {
		t.Errorf("workflowName = %q", payload.WorkflowName)
	}
}

func TestHubFirehoseSeesAllEvents(t *testing.T) {
	t.Parallel()

	hub := NewHub(testLogger())
	sub := hub.Subscribe("firehose-watcher", TopicFirehose)
	r := testRun(t)

	if err := hub.OnStepStarted(context.Background(), r, "fetch", 1); err != nil {
		t.Fatalf("OnStepStarted: %v", err)
	}
	if err := hub.OnStepSucceeded(context.Background(), r, "fetch", 120*time.Millisecond); err != nil {
		t.Fatalf("OnStepSucceeded: %v", err)
	}

	first := receive(t, sub)
	if first.Type != EventStepStarted || first.StepID != "fetch" {
		t.Errorf("first = %q/%q, want step.started/fetch", first.Type, first.StepID)
	}
	second := receive(t, sub)
	if second.Type != EventStepSucceeded {
		t.Errorf("second = %q, want step.succeeded", second.Type)
	}
	var payload StepPayload
	if err := json.Unmarshal(second.Payload, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.ElapsedMs != 120 {
		t.Errorf("elapsedMs = %d, want 120", payload.ElapsedMs)
	}
}

func TestHubBroadcastDeduplicates(t *testing.T) {
	t.Parallel()

	hub := NewHub(testLogger())
	r := testRun(t)

	// Subscribed to three topics the same event resolves to.
	sub := hub.Subscribe("conn-1",
		TopicFirehose,
		RunTopic(r.ID.String()),
		WorkflowTopic(r.WorkflowID.String()),
	)

	if err := hub.OnRunStarted(context.Background(), r); err != nil {
		t.Fatalf("OnRunStarted: %v", err)
	}

	receive(t, sub)
	select {
	case evt := <-sub.C():
		t.Fatalf("duplicate delivery: %q", evt.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubRunFailedCarriesError(t *testing.T) {
	t.Parallel()

	hub := NewHub(testLogger())
	r := testRun(t)
	r.State = workflow.RunStateFailed
	sub := hub.Subscribe("conn-1", RunTopic(r.ID.String()))

	if err := hub.OnRunFailed(context.Background(), r, errors.New("step render failed")); err != nil {
		t.Fatalf("OnRunFailed: %v", err)
	}

	evt := receive(t, sub)
	if evt.Type != EventRunFailed {
		t.Fatalf("type = %q", evt.Type)
	}
	var payload RunPayload
	if err := json.Unmarshal(evt.Payload, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.Error != "step render failed" {
		t.Errorf("error = %q", payload.Error)
	}
}

func TestHubTriggerEvents(t *testing.T) {
	t.Parallel()

	hub := NewHub(testLogger())
	sub := hub.Subscribe("conn-1", TopicFirehose)

	triggerID := id.NewTriggerID()
	workflowID := id.NewWorkflowID()
	runID := id.NewRunID()

	if err := hub.OnTriggerFired(context.Background(), triggerID, workflowID, runID); err != nil {
		t.Fatalf("OnTriggerFired: %v", err)
	}
	if err := hub.OnTriggerSkipped(context.Background(), triggerID, workflowID, "workflow busy"); err != nil {
		t.Fatalf("OnTriggerSkipped: %v", err)
	}

	fired := receive(t, sub)
	if fired.Type != EventTriggerFired || fired.RunID != runID.String() {
		t.Errorf("fired = %q/%q", fired.Type, fired.RunID)
	}

	skipped := receive(t, sub)
	if skipped.Type != EventTriggerSkipped {
		t.Fatalf("type = %q", skipped.Type)
	}
	var payload TriggerPayload
	if err := json.Unmarshal(skipped.Payload, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.Reason != "workflow busy" {
		t.Errorf("reason = %q", payload.Reason)
	}
}

func TestSubscriberOverflowInjectsSingleGap(t *testing.T) {
	t.Parallel()

	sub := NewSubscriber("slow", 4)
	r := testRun(t)

	for i := 0; i < 20; i++ {
		evt := &Event{
			Type:      EventStepSucceeded,
			RunID:     r.ID.String(),
			StepID:    fmt.Sprintf("step-%d", i),
			Timestamp: time.Now().UTC(),
		}
		sub.send(evt)
	}

	var drained []*Event
	for {
		select {
		case evt := <-sub.C():
			drained = append(drained, evt)
			continue
		default:
		}
		break
	}

	if len(drained) != 4 {
		t.Fatalf("drained %d events, want 4 (buffer size)", len(drained))
	}

	gaps := 0
	for _, evt := range drained {
		if evt.Type == EventStreamGap {
			gaps++
		}
	}
	if gaps != 1 {
		t.Fatalf("gap events = %d, want exactly 1", gaps)
	}

	// The newest events survive eviction, in publish order.
	last := drained[len(drained)-1]
	if last.StepID != "step-19" {
		t.Errorf("last event = %q, want step-19", last.StepID)
	}
	if sub.Dropped() == 0 {
		t.Error("Dropped() = 0, want > 0")
	}
}

func TestSubscriberGapResetsAfterCleanDelivery(t *testing.T) {
	t.Parallel()

	sub := NewSubscriber("slow", 2)

	push := func(n int) {
		for i := 0; i < n; i++ {
			sub.send(&Event{Type: EventRunStarted, Timestamp: time.Now().UTC()})
		}
	}
	drainCountGaps := func() int {
		gaps := 0
		for {
			select {
			case evt := <-sub.C():
				if evt.Type == EventStreamGap {
					gaps++
				}
				continue
			default:
			}
			return gaps
		}
	}

	push(6)
	if gaps := drainCountGaps(); gaps != 1 {
		t.Fatalf("first burst gaps = %d, want 1", gaps)
	}

	// Clean delivery resets the marker, so a second overflow burst
	// produces a second gap.
	push(1)
	if evt := receive(t, sub); evt.Type != EventRunStarted {
		t.Fatalf("clean delivery type = %q", evt.Type)
	}

	push(6)
	if gaps := drainCountGaps(); gaps != 1 {
		t.Fatalf("second burst gaps = %d, want 1", gaps)
	}
}

func TestSubscriberFilter(t *testing.T) {
	t.Parallel()

	hub := NewHub(testLogger())
	sub := hub.Subscribe("conn-1", TopicFirehose)
	sub.SetFilter(func(evt *Event) bool {
		return strings.HasPrefix(string(evt.Type), "run.")
	})

	r := testRun(t)
	if err := hub.OnStepStarted(context.Background(), r, "fetch", 1); err != nil {
		t.Fatalf("OnStepStarted: %v", err)
	}
	if err := hub.OnRunStarted(context.Background(), r); err != nil {
		t.Fatalf("OnRunStarted: %v", err)
	}

	evt := receive(t, sub)
	if evt.Type != EventRunStarted {
		t.Errorf("type = %q, want run.started (step event filtered)", evt.Type)
	}
}

func TestSubscriberFilterSwapDuringPublish(t *testing.T) {
	t.Parallel()

	hub := NewHub(testLogger())
	sub := hub.Subscribe("conn-1", TopicFirehose)
	r := testRun(t)

	runsOnly := func(evt *Event) bool {
		return strings.HasPrefix(string(evt.Type), "run.")
	}

	// Swap the filter while events are being published; the race
	// detector flags any unsynchronized access.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			sub.SetFilter(runsOnly)
			sub.SetFilter(nil)
		}
	}()

	for i := 0; i < 200; i++ {
		if err := hub.OnRunStarted(context.Background(), r); err != nil {
			t.Fatalf("OnRunStarted: %v", err)
		}
		select {
		case <-sub.C():
		default:
		}
	}
	<-done
}

func TestHubRemoveSubscriberClosesChannel(t *testing.T) {
	t.Parallel()

	hub := NewHub(testLogger())
	sub := hub.Subscribe("conn-1", TopicFirehose)

	hub.RemoveSubscriber("conn-1")

	select {
	case _, ok := <-sub.C():
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed")
	}

	if _, ok := hub.GetSubscriber("conn-1"); ok {
		t.Error("subscriber still registered after removal")
	}
}

func TestHubShutdownClosesAllSubscribers(t *testing.T) {
	t.Parallel()

	hub := NewHub(testLogger())
	a := hub.Subscribe("a", TopicFirehose)
	b := hub.Subscribe("b", TopicFirehose)

	if err := hub.OnShutdown(context.Background()); err != nil {
		t.Fatalf("OnShutdown: %v", err)
	}

	for _, sub := range []*Subscriber{a, b} {
		if _, ok := <-sub.C(); ok {
			t.Error("subscriber channel still open after shutdown")
		}
	}
}

func TestHubStats(t *testing.T) {
	t.Parallel()

	hub := NewHub(testLogger())
	hub.Subscribe("a", TopicFirehose)
	hub.Subscribe("b", TopicFirehose, WorkflowTopic("wf_x"))

	r := testRun(t)
	if err := hub.OnRunStarted(context.Background(), r); err != nil {
		t.Fatalf("OnRunStarted: %v", err)
	}

	stats := hub.Stats()
	if stats.SubscriberCount != 2 {
		t.Errorf("SubscriberCount = %d, want 2", stats.SubscriberCount)
	}
	if stats.TopicCount != 2 {
		t.Errorf("TopicCount = %d, want 2", stats.TopicCount)
	}
	if stats.TotalPublished != 2 {
		t.Errorf("TotalPublished = %d, want 2", stats.TotalPublished)
	}
}

func TestEventWireFieldNames(t *testing.T) {
	t.Parallel()

	evt := &Event{
		Type:       EventStepFailed,
		RunID:      "wfrun_x",
		WorkflowID: "wf_y",
		StepID:     "render",
		State:      "failed",
		Timestamp:  time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		Payload:    json.RawMessage(`{"error":"boom"}`),
	}
	data, err := json.Marshal(evt)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, key := range []string{`"type"`, `"runId"`, `"workflowId"`, `"stepId"`, `"state"`, `"timestamp"`, `"payload"`} {
		if !strings.Contains(string(data), key) {
			t.Errorf("wire format missing %s: %s", key, data)
		}
	}
}

func TestResolveTopics(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		evt  *Event
		want []string
	}{
		{
			name: "run event",
			evt:  &Event{Type: EventRunStarted, RunID: "wfrun_a", WorkflowID: "wf_b"},
			want: []string{TopicFirehose, "run:wfrun_a", "workflow:wf_b"},
		},
		{
			name: "capability event",
			evt:  &Event{Type: EventCapabilityHealth},
			want: []string{TopicFirehose},
		},
		{
			name: "trigger skip without run",
			evt:  &Event{Type: EventTriggerSkipped, WorkflowID: "wf_b"},
			want: []string{TopicFirehose, "workflow:wf_b"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := resolveTopics(tt.evt)
			if len(got) != len(tt.want) {
				t.Fatalf("topics = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("topics[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestValidateTopic(t *testing.T) {
	t.Parallel()

	tests := []struct {
		topic   string
		wantErr bool
	}{
		{TopicFirehose, false},
		{"run:wfrun_abc", false},
		{"workflow:wf_abc", false},
		{"run:", true},
		{"queue:default", true},
		{"bogus", true},
		{"", true},
	}

	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			t.Parallel()
			err := ValidateTopic(tt.topic)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateTopic(%q) error = %v, wantErr %v", tt.topic, err, tt.wantErr)
			}
		})
	}
}
