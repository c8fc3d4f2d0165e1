package ws

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/strandhq/loom/stream"
)

// FrameType identifies the kind of protocol frame.
type FrameType string

const (
	// FrameSubscribe asks the server to add the connection to topics.
	FrameSubscribe FrameType = "subscribe"

	// FrameUnsubscribe removes the connection from topics.
	FrameUnsubscribe FrameType = "unsubscribe"

	// FrameAck confirms a subscribe or unsubscribe request.
	FrameAck FrameType = "ack"

	// FrameErr reports a protocol error. CorrelID names the offending
	// frame when it carried an ID.
	FrameErr FrameType = "error"

	// FrameEvent carries one hub event to the client.
	FrameEvent FrameType = "event"

	// FramePing and FramePong are the application-level heartbeat.
	FramePing FrameType = "ping"
	FramePong FrameType = "pong"
)

// Frame is the wire envelope exchanged over the WebSocket. All frames
// are JSON text messages.
type Frame struct {
	Type FrameType `json:"type"`

	// ID correlates requests with acks; set by the client.
	ID string `json:"id,omitempty"`

	// CorrelID echoes the request ID on ack, error, and pong frames.
	CorrelID string `json:"correlId,omitempty"`

	// Topics names the topics for subscribe/unsubscribe, and echoes the
	// accepted set on acks.
	Topics []string `json:"topics,omitempty"`

	// EventTypes optionally narrows a subscription to specific event
	// types. Gap markers are always delivered.
	EventTypes []string `json:"eventTypes,omitempty"`

	// Event is the payload of event frames.
	Event *stream.Event `json:"event,omitempty"`

	// Error is the message on error frames.
	Error string `json:"error,omitempty"`

	Timestamp time.Time `json:"timestamp,omitempty"`
}

// generateFrameID returns a random correlation ID.
func generateFrameID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "frame-" + hex.EncodeToString([]byte(time.Now().Format("150405.000000")))
	}
	return hex.EncodeToString(b[:])
}

func errorFrame(correlID, msg string) *Frame {
	return &Frame{
		Type:      FrameErr,
		CorrelID:  correlID,
		Error:     msg,
		Timestamp: time.Now().UTC(),
	}
}

func ackFrame(correlID string, topics []string) *Frame {
	return &Frame{
		Type:      FrameAck,
		CorrelID:  correlID,
		Topics:    topics,
		Timestamp: time.Now().UTC(),
	}
}
