package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/strandhq/loom/stream"
)

// Client is a minimal client for the frame protocol. It delivers
// events on a single channel; requests (subscribe, unsubscribe, ping)
// are correlated with their acks by frame ID.
type Client struct {
	url    string
	logger *slog.Logger

	conn   net.Conn
	mu     sync.Mutex
	closed atomic.Bool

	// pending correlates frame IDs with response channels.
	pending sync.Map // frameID → chan *Frame

	events chan *stream.Event
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithClientLogger sets the client's logger.
func WithClientLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// Dial connects to a frame-protocol server and starts the read loop.
func Dial(ctx context.Context, url string, opts ...ClientOption) (*Client, error) {
	c := &Client{
		url:    url,
		logger: slog.Default(),
		events: make(chan *stream.Event, stream.DefaultBufferSize),
	}
	for _, opt := range opts {
		opt(c)
	}

	conn, _, _, err := ws.Dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("ws: dial %s: %w", url, err)
	}
	c.conn = conn

	go c.readLoop()
	return c, nil
}

// Events returns the channel event frames are delivered on. It is
// closed when the connection drops or Close is called.
func (c *Client) Events() <-chan *stream.Event { return c.events }

// Subscribe adds the connection to topics and waits for the ack.
func (c *Client) Subscribe(ctx context.Context, topics ...string) error {
	return c.subscribeFiltered(ctx, topics, nil)
}

// SubscribeTypes adds the connection to topics narrowed to the given
// event types.
func (c *Client) SubscribeTypes(ctx context.Context, topics []string, eventTypes []string) error {
	return c.subscribeFiltered(ctx, topics, eventTypes)
}

func (c *Client) subscribeFiltered(ctx context.Context, topics, eventTypes []string) error {
	_, err := c.request(ctx, &Frame{
		Type:       FrameSubscribe,
		Topics:     topics,
		EventTypes: eventTypes,
	})
	return err
}

// Unsubscribe removes the connection from topics and waits for the ack.
func (c *Client) Unsubscribe(ctx context.Context, topics ...string) error {
	_, err := c.request(ctx, &Frame{Type: FrameUnsubscribe, Topics: topics})
	return err
}

// Ping sends a heartbeat and waits for the pong.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.request(ctx, &Frame{Type: FramePing})
	return err
}

// request sends a frame and waits for the correlated ack, pong, or
// error frame.
func (c *Client) request(ctx context.Context, frame *Frame) (*Frame, error) {
	if c.closed.Load() {
		return nil, fmt.Errorf("ws: client closed")
	}
	frame.ID = generateFrameID()
	frame.Timestamp = time.Now().UTC()

	respCh := make(chan *Frame, 1)
	c.pending.Store(frame.ID, respCh)
	defer c.pending.Delete(frame.ID)

	if err := c.writeFrame(frame); err != nil {
		return nil, err
	}

	select {
	case resp := <-respCh:
		if resp.Type == FrameErr {
			return nil, fmt.Errorf("ws: server error: %s", resp.Error)
		}
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// readLoop reads frames and routes them to the events channel or a
// pending request.
func (c *Client) readLoop() {
	defer close(c.events)

	for {
		data, err := wsutil.ReadServerText(c.conn)
		if err != nil {
			if !c.closed.Load() {
				c.logger.Warn("websocket read error", slog.String("error", err.Error()))
			}
			return
		}

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.logger.Warn("invalid frame from server", slog.String("error", err.Error()))
			continue
		}

		switch frame.Type {
		case FrameEvent:
			if frame.Event == nil {
				continue
			}
			select {
			case c.events <- frame.Event:
			default:
				// Slow consumer; the hub already marks gaps server-side.
			}
		case FrameAck, FramePong, FrameErr:
			if val, ok := c.pending.Load(frame.CorrelID); ok {
				ch := val.(chan *Frame) //nolint:errcheck // pending always stores chan *Frame
				select {
				case ch <- &frame:
				default:
				}
			}
		}
	}
}

func (c *Client) writeFrame(frame *Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("ws: marshal frame: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return wsutil.WriteClientText(c.conn, data)
}

// Close closes the connection. The events channel is closed when the
// read loop observes the closed connection.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.conn.Close()
}
