package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/strandhq/loom/agent"
	"github.com/strandhq/loom/capability"
	"github.com/strandhq/loom/hook"
	"github.com/strandhq/loom/id"
	"github.com/strandhq/loom/workflow"
)

// Compile-time interface checks.
var (
	_ hook.Hook                    = (*Hub)(nil)
	_ hook.RunStarted              = (*Hub)(nil)
	_ hook.RunSucceeded            = (*Hub)(nil)
	_ hook.RunFailed               = (*Hub)(nil)
	_ hook.RunCancelled            = (*Hub)(nil)
	_ hook.StepStarted             = (*Hub)(nil)
	_ hook.StepSucceeded           = (*Hub)(nil)
	_ hook.StepFailed              = (*Hub)(nil)
	_ hook.StepSkipped             = (*Hub)(nil)
	_ hook.StepCancelled           = (*Hub)(nil)
	_ hook.StepRetrying            = (*Hub)(nil)
	_ hook.TriggerFired            = (*Hub)(nil)
	_ hook.TriggerSkipped          = (*Hub)(nil)
	_ hook.CapabilityHealthChanged = (*Hub)(nil)
	_ hook.AgentStatusChanged      = (*Hub)(nil)
	_ hook.Shutdown                = (*Hub)(nil)
)

// DefaultBufferSize is the default per-subscriber event buffer.
const DefaultBufferSize = 256

// Hub is the real-time broadcast hub. It implements the hook event
// interfaces to receive lifecycle callbacks and fans them out to
// subscribers via topic-based pub/sub.
type Hub struct {
	topics *TopicRegistry
	logger *slog.Logger

	// Subscriber management.
	subscribers sync.Map // subscriberID → *Subscriber

	// forward, when set, republishes local events to other nodes.
	forwardMu sync.RWMutex
	forward   func(*Event)

	// Metrics.
	totalPublished atomic.Int64

	// Config.
	bufferSize int
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithBufferSize sets the per-subscriber event buffer size.
func WithBufferSize(size int) HubOption {
	return func(h *Hub) { h.bufferSize = size }
}

// NewHub creates a new broadcast hub.
func NewHub(logger *slog.Logger, opts ...HubOption) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		topics:     NewTopicRegistry(),
		logger:     logger,
		bufferSize: DefaultBufferSize,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Name implements hook.Hook.
func (h *Hub) Name() string { return "stream-hub" }

// Topics returns the topic registry for external use (e.g. the
// WebSocket server).
func (h *Hub) Topics() *TopicRegistry { return h.topics }

// Subscribe creates a new subscriber on the given topics.
func (h *Hub) Subscribe(subscriberID string, topics ...string) *Subscriber {
	sub := NewSubscriber(subscriberID, h.bufferSize)
	h.subscribers.Store(subscriberID, sub)
	for _, topic := range topics {
		h.topics.Subscribe(topic, sub)
	}
	return sub
}

// SubscribeTo adds an existing subscriber to additional topics.
func (h *Hub) SubscribeTo(subscriberID string, topics ...string) {
	val, ok := h.subscribers.Load(subscriberID)
	if !ok {
		return
	}
	sub := val.(*Subscriber) //nolint:errcheck // sync.Map always stores *Subscriber
	for _, topic := range topics {
		h.topics.Subscribe(topic, sub)
	}
}

// Unsubscribe removes a subscriber from specific topics.
func (h *Hub) Unsubscribe(subscriberID string, topics ...string) {
	for _, topic := range topics {
		h.topics.Unsubscribe(topic, subscriberID)
	}
}

// RemoveSubscriber removes a subscriber from all topics and closes it.
func (h *Hub) RemoveSubscriber(subscriberID string) {
	h.topics.UnsubscribeAll(subscriberID)
	if val, ok := h.subscribers.LoadAndDelete(subscriberID); ok {
		val.(*Subscriber).Close() //nolint:errcheck // sync.Map always stores *Subscriber
	}
}

// GetSubscriber returns a subscriber by ID.
func (h *Hub) GetSubscriber(subscriberID string) (*Subscriber, bool) {
	val, ok := h.subscribers.Load(subscriberID)
	if !ok {
		return nil, false
	}
	return val.(*Subscriber), true //nolint:errcheck // sync.Map always stores *Subscriber
}

// Stats returns hub statistics.
func (h *Hub) Stats() HubStats {
	count := 0
	var dropped int64
	h.subscribers.Range(func(_, value any) bool {
		count++
		dropped += value.(*Subscriber).Dropped() //nolint:errcheck // sync.Map always stores *Subscriber
		return true
	})
	return HubStats{
		TopicCount:      h.topics.TopicCount(),
		SubscriberCount: count,
		TotalPublished:  h.totalPublished.Load(),
		TotalDropped:    dropped,
	}
}

// HubStats contains hub metrics.
type HubStats struct {
	TopicCount      int   `json:"topic_count"`
	SubscriberCount int   `json:"subscriber_count"`
	TotalPublished  int64 `json:"total_published"`
	TotalDropped    int64 `json:"total_dropped"`
}

// SetForwarder installs a callback that receives every locally
// published event, used by the Redis bridge to fan events out to
// other nodes. Pass nil to remove.
func (h *Hub) SetForwarder(fn func(*Event)) {
	h.forwardMu.Lock()
	h.forward = fn
	h.forwardMu.Unlock()
}

// publish broadcasts an event to all matching topics and forwards it
// to the bridge when one is installed.
func (h *Hub) publish(evt *Event) {
	h.publishLocal(evt)

	h.forwardMu.RLock()
	fwd := h.forward
	h.forwardMu.RUnlock()
	if fwd != nil {
		fwd(evt)
	}
}

// publishLocal broadcasts to local subscribers only. The Redis bridge
// calls this for events arriving from other nodes so they are not
// forwarded back out.
func (h *Hub) publishLocal(evt *Event) {
	topics := resolveTopics(evt)
	delivered := h.topics.Broadcast(topics, evt)
	h.totalPublished.Add(int64(delivered))
}

// mustMarshal marshals a payload to JSON, panicking on error
// (programming error).
func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic("stream: marshal event payload: " + err.Error())
	}
	return data
}

func runEvent(t EventType, r *workflow.Run, payload RunPayload) *Event {
	payload.WorkflowName = r.WorkflowName
	payload.Source = string(r.Source)
	return &Event{
		Type:       t,
		RunID:      r.ID.String(),
		WorkflowID: r.WorkflowID.String(),
		State:      string(r.State),
		Timestamp:  time.Now().UTC(),
		Payload:    mustMarshal(payload),
	}
}

func stepEvent(t EventType, r *workflow.Run, stepID string, state workflow.StepState, payload StepPayload) *Event {
	return &Event{
		Type:       t,
		RunID:      r.ID.String(),
		WorkflowID: r.WorkflowID.String(),
		StepID:     stepID,
		State:      string(state),
		Timestamp:  time.Now().UTC(),
		Payload:    mustMarshal(payload),
	}
}

// ── Run lifecycle hooks ─────────────────────────────

func (h *Hub) OnRunStarted(_ context.Context, r *workflow.Run) error {
	h.publish(runEvent(EventRunStarted, r, RunPayload{}))
	return nil
}

func (h *Hub) OnRunSucceeded(_ context.Context, r *workflow.Run, elapsed time.Duration) error {
	h.publish(runEvent(EventRunSucceeded, r, RunPayload{ElapsedMs: elapsed.Milliseconds()}))
	return nil
}

func (h *Hub) OnRunFailed(_ context.Context, r *workflow.Run, runErr error) error {
	h.publish(runEvent(EventRunFailed, r, RunPayload{Error: runErr.Error()}))
	return nil
}

func (h *Hub) OnRunCancelled(_ context.Context, r *workflow.Run) error {
	h.publish(runEvent(EventRunCancelled, r, RunPayload{}))
	return nil
}

// ── Step lifecycle hooks ────────────────────────────

func (h *Hub) OnStepStarted(_ context.Context, r *workflow.Run, stepID string, attempt int) error {
	h.publish(stepEvent(EventStepStarted, r, stepID, workflow.StepStateRunning, StepPayload{Attempt: attempt}))
	return nil
}

func (h *Hub) OnStepSucceeded(_ context.Context, r *workflow.Run, stepID string, elapsed time.Duration) error {
	h.publish(stepEvent(EventStepSucceeded, r, stepID, workflow.StepStateSucceeded, StepPayload{ElapsedMs: elapsed.Milliseconds()}))
	return nil
}

func (h *Hub) OnStepFailed(_ context.Context, r *workflow.Run, stepID string, stepErr error) error {
	h.publish(stepEvent(EventStepFailed, r, stepID, workflow.StepStateFailed, StepPayload{Error: stepErr.Error()}))
	return nil
}

func (h *Hub) OnStepSkipped(_ context.Context, r *workflow.Run, stepID string, reason string) error {
	h.publish(stepEvent(EventStepSkipped, r, stepID, workflow.StepStateSkipped, StepPayload{Reason: reason}))
	return nil
}

func (h *Hub) OnStepCancelled(_ context.Context, r *workflow.Run, stepID string) error {
	h.publish(stepEvent(EventStepCancelled, r, stepID, workflow.StepStateCancelled, StepPayload{}))
	return nil
}

func (h *Hub) OnStepRetrying(_ context.Context, r *workflow.Run, stepID string, attempt int, delay time.Duration) error {
	h.publish(stepEvent(EventStepRetrying, r, stepID, workflow.StepStatePending, StepPayload{
		Attempt: attempt,
		DelayMs: delay.Milliseconds(),
	}))
	return nil
}

// ── Trigger hooks ───────────────────────────────────

func (h *Hub) OnTriggerFired(_ context.Context, triggerID id.TriggerID, workflowID id.WorkflowID, runID id.RunID) error {
	h.publish(&Event{
		Type:       EventTriggerFired,
		RunID:      runID.String(),
		WorkflowID: workflowID.String(),
		State:      "fired",
		Timestamp:  time.Now().UTC(),
		Payload:    mustMarshal(TriggerPayload{TriggerID: triggerID.String()}),
	})
	return nil
}

func (h *Hub) OnTriggerSkipped(_ context.Context, triggerID id.TriggerID, workflowID id.WorkflowID, reason string) error {
	h.publish(&Event{
		Type:       EventTriggerSkipped,
		WorkflowID: workflowID.String(),
		State:      "skipped",
		Timestamp:  time.Now().UTC(),
		Payload:    mustMarshal(TriggerPayload{TriggerID: triggerID.String(), Reason: reason}),
	})
	return nil
}

// ── Registry hooks ──────────────────────────────────

func (h *Hub) OnCapabilityHealthChanged(_ context.Context, srv *capability.Server, previous capability.Health) error {
	h.publish(&Event{
		Type:      EventCapabilityHealth,
		State:     string(srv.Health),
		Timestamp: time.Now().UTC(),
		Payload: mustMarshal(CapabilityPayload{
			CapabilityID: srv.ID.String(),
			Name:         srv.Name,
			Health:       string(srv.Health),
			Previous:     string(previous),
		}),
	})
	return nil
}

func (h *Hub) OnAgentStatusChanged(_ context.Context, a *agent.Agent) error {
	h.publish(&Event{
		Type:      EventAgentState,
		State:     string(a.Status),
		Timestamp: time.Now().UTC(),
		Payload: mustMarshal(AgentPayload{
			AgentID: a.ID.String(),
			Name:    a.Name,
			Status:  string(a.Status),
		}),
	})
	return nil
}

// ── Shutdown ────────────────────────────────────────

func (h *Hub) OnShutdown(_ context.Context) error {
	h.subscribers.Range(func(key, value any) bool {
		sub := value.(*Subscriber) //nolint:errcheck // sync.Map always stores *Subscriber
		sub.Close()
		h.subscribers.Delete(key)
		return true
	})
	h.logger.Info("stream hub shut down")
	return nil
}
