package stream

import (
	"fmt"
	"strings"
	"sync"
)

// Subscribers attach to topics:
//
//	run:<runID>            one run's events
//	workflow:<workflowID>  every run of one workflow
//	firehose               everything
const TopicFirehose = "firehose"

const (
	entityRun      = "run"
	entityWorkflow = "workflow"
)

// RunTopic builds the topic name for one run.
func RunTopic(runID string) string { return entityRun + ":" + runID }

// WorkflowTopic builds the topic name for one workflow.
func WorkflowTopic(workflowID string) string { return entityWorkflow + ":" + workflowID }

// TopicRegistry tracks which subscribers listen on which topics. Safe
// for concurrent use.
type TopicRegistry struct {
	mu sync.RWMutex
	// membership is topic → subscriberID → subscriber. A topic with no
	// members is removed from the map entirely.
	membership map[string]map[string]*Subscriber
}

// NewTopicRegistry creates an empty registry.
func NewTopicRegistry() *TopicRegistry {
	return &TopicRegistry{membership: map[string]map[string]*Subscriber{}}
}

// Subscribe attaches sub to topic, creating the topic on first use.
func (tr *TopicRegistry) Subscribe(topic string, sub *Subscriber) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	members := tr.membership[topic]
	if members == nil {
		members = map[string]*Subscriber{}
		tr.membership[topic] = members
	}
	members[sub.ID()] = sub
	sub.addTopic(topic)
}

// Unsubscribe detaches one subscriber from one topic.
func (tr *TopicRegistry) Unsubscribe(topic, subscriberID string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.detach(topic, subscriberID)
}

// UnsubscribeAll detaches a subscriber from every topic it is on.
func (tr *TopicRegistry) UnsubscribeAll(subscriberID string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	for topic := range tr.membership {
		tr.detach(topic, subscriberID)
	}
}

// detach removes one membership entry and garbage-collects the topic.
// Callers hold the write lock.
func (tr *TopicRegistry) detach(topic, subscriberID string) {
	members := tr.membership[topic]
	sub, ok := members[subscriberID]
	if !ok {
		return
	}
	sub.removeTopic(topic)
	delete(members, subscriberID)
	if len(members) == 0 {
		delete(tr.membership, topic)
	}
}

// Broadcast delivers an event once to every subscriber on any of the
// listed topics and reports how many accepted it. Sends happen outside
// the lock so a slow subscriber cannot stall subscription changes.
func (tr *TopicRegistry) Broadcast(topics []string, evt *Event) int {
	tr.mu.RLock()
	targets := map[string]*Subscriber{}
	for _, topic := range topics {
		for subscriberID, sub := range tr.membership[topic] {
			targets[subscriberID] = sub
		}
	}
	tr.mu.RUnlock()

	delivered := 0
	for _, sub := range targets {
		if sub.send(evt) {
			delivered++
		}
	}
	return delivered
}

// Publish delivers an event to one topic's subscribers.
func (tr *TopicRegistry) Publish(topic string, evt *Event) int {
	return tr.Broadcast([]string{topic}, evt)
}

// TopicCount returns the number of topics with at least one subscriber.
func (tr *TopicRegistry) TopicCount() int {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return len(tr.membership)
}

// SubscriberCount returns how many subscribers a topic has.
func (tr *TopicRegistry) SubscriberCount(topic string) int {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return len(tr.membership[topic])
}

// resolveTopics lists every topic an event belongs on. The firehose
// carries everything; the run and workflow topics apply when the event
// names those entities.
func resolveTopics(evt *Event) []string {
	out := make([]string, 1, 3)
	out[0] = TopicFirehose
	if evt.RunID != "" {
		out = append(out, RunTopic(evt.RunID))
	}
	if evt.WorkflowID != "" {
		out = append(out, WorkflowTopic(evt.WorkflowID))
	}
	return out
}

// ParseTopicEntity splits "run:wfrun_abc" into ("run", "wfrun_abc").
// Global topics like "firehose" yield ("", "").
func ParseTopicEntity(topic string) (entityType, entityID string) {
	before, after, found := strings.Cut(topic, ":")
	if !found {
		return "", ""
	}
	return before, after
}

// ValidateTopic rejects topic names the hub will never publish to.
func ValidateTopic(topic string) error {
	if topic == TopicFirehose {
		return nil
	}
	entityType, entityID := ParseTopicEntity(topic)
	if entityID == "" {
		return fmt.Errorf("stream: invalid topic %q", topic)
	}
	if entityType != entityRun && entityType != entityWorkflow {
		return fmt.Errorf("stream: unknown topic entity type %q", entityType)
	}
	return nil
}
