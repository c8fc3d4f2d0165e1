package stream

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Subscriber receives events from topics it is subscribed to.
//
// Delivery is lossy under backpressure: when the buffered channel is
// full, the oldest buffered events are evicted to make room and a
// single stream.gap marker is injected per overflow burst. The gapped
// flag resets on the next clean delivery, so a consumer that catches
// up sees at most one gap per time it fell behind.
type Subscriber struct {
	// id uniquely identifies this subscriber.
	id string

	// ch is the buffered channel events are sent on. Only send (under
	// mu) writes to it, so eviction and re-insertion cannot race with
	// other producers.
	ch chan *Event

	// mu serializes sends, preserving publish order per subscriber.
	mu sync.Mutex

	// gapped is true while the subscriber is inside an overflow burst
	// and a gap marker is already buffered.
	gapped bool

	// dropped counts events evicted due to overflow.
	dropped atomic.Int64

	// topics tracks which topics this subscriber is on.
	topics   map[string]struct{}
	topicsMu sync.RWMutex

	// filter is an optional predicate, read and written under mu. If
	// set, only events matching the filter are delivered.
	filter func(*Event) bool

	// closed prevents double-close of the channel.
	closed atomic.Bool
}

// minBufferSize is the smallest usable buffer: overflow handling needs
// room for a gap marker alongside the incoming event.
const minBufferSize = 2

// NewSubscriber creates a subscriber with the given buffer size.
func NewSubscriber(id string, bufferSize int) *Subscriber {
	if bufferSize < minBufferSize {
		bufferSize = minBufferSize
	}
	return &Subscriber{
		id:     id,
		ch:     make(chan *Event, bufferSize),
		topics: make(map[string]struct{}),
	}
}

// ID returns the subscriber identifier.
func (s *Subscriber) ID() string { return s.id }

// C returns the read-only event channel.
func (s *Subscriber) C() <-chan *Event { return s.ch }

// Dropped returns the number of events evicted due to overflow.
func (s *Subscriber) Dropped() int64 {
	return s.dropped.Load()
}

// SetFilter sets an optional event filter predicate. Safe to call
// while events are being published.
func (s *Subscriber) SetFilter(fn func(*Event) bool) {
	s.mu.Lock()
	s.filter = fn
	s.mu.Unlock()
}

// addTopic records that this subscriber is on the given topic.
func (s *Subscriber) addTopic(topic string) {
	s.topicsMu.Lock()
	s.topics[topic] = struct{}{}
	s.topicsMu.Unlock()
}

// removeTopic removes a topic from the subscriber's tracked set.
func (s *Subscriber) removeTopic(topic string) {
	s.topicsMu.Lock()
	delete(s.topics, topic)
	s.topicsMu.Unlock()
}

// Topics returns a copy of all subscribed topic names.
func (s *Subscriber) Topics() []string {
	s.topicsMu.RLock()
	defer s.topicsMu.RUnlock()
	out := make([]string, 0, len(s.topics))
	for t := range s.topics {
		out = append(out, t)
	}
	return out
}

// send delivers an event to the subscriber, evicting the oldest
// buffered events if the buffer is full. Returns false if the event
// was not delivered (closed or filter mismatch).
func (s *Subscriber) send(evt *Event) bool {
	if s.closed.Load() {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return false
	}
	if s.filter != nil && !s.filter(evt) {
		return false
	}

	select {
	case s.ch <- evt:
		s.gapped = false
		return true
	default:
	}

	// Buffer full. Evict the two oldest entries so both a gap marker
	// and the incoming event fit. The consumer only ever removes from
	// ch, so after eviction the sends below cannot block.
	s.evictOldest(2)
	if !s.gapped {
		s.ch <- s.gapEvent(evt)
		s.gapped = true
	}
	s.ch <- evt
	return true
}

// evictOldest removes up to n buffered events. Evicting a buffered gap
// marker clears the gapped flag so the next overflow injects a new one.
func (s *Subscriber) evictOldest(n int) {
	for i := 0; i < n; i++ {
		select {
		case old := <-s.ch:
			s.dropped.Add(1)
			if old.Type == EventStreamGap {
				s.gapped = false
			}
		default:
			return
		}
	}
}

// gapEvent builds the synthetic overflow marker. It carries the run
// and workflow IDs of the event that triggered the overflow so scoped
// consumers can attribute the loss.
func (s *Subscriber) gapEvent(cause *Event) *Event {
	payload, _ := json.Marshal(GapPayload{Dropped: s.dropped.Load()})
	return &Event{
		Type:       EventStreamGap,
		RunID:      cause.RunID,
		WorkflowID: cause.WorkflowID,
		Timestamp:  time.Now().UTC(),
		Payload:    payload,
	}
}

// Close closes the subscriber channel. Safe to call multiple times.
func (s *Subscriber) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.CompareAndSwap(false, true) {
		close(s.ch)
	}
}
