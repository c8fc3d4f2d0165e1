package ws

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/strandhq/loom/id"
	"github.com/strandhq/loom/stream"
)

// DefaultIdleTimeout is how long a connection may stay silent before
// the server closes it. Clients keep connections alive with ping
// frames.
const DefaultIdleTimeout = 90 * time.Second

// Server upgrades HTTP requests to WebSocket connections and bridges
// them to the broadcast hub. It implements http.Handler.
type Server struct {
	hub         *stream.Hub
	logger      *slog.Logger
	conns       *connManager
	idleTimeout time.Duration
	stopIdle    chan struct{}
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithIdleTimeout overrides the idle connection timeout.
func WithIdleTimeout(d time.Duration) ServerOption {
	return func(s *Server) { s.idleTimeout = d }
}

// NewServer creates a WebSocket server over the hub and starts its
// idle-connection sweeper.
func NewServer(hub *stream.Hub, logger *slog.Logger, opts ...ServerOption) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		hub:         hub,
		logger:      logger,
		conns:       newConnManager(),
		idleTimeout: DefaultIdleTimeout,
		stopIdle:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.sweepIdle()
	return s
}

// ConnectionCount returns the number of live connections.
func (s *Server) ConnectionCount() int { return s.conns.count() }

// Close closes every live connection and stops the idle sweeper.
func (s *Server) Close() {
	close(s.stopIdle)
	s.conns.closeAll()
}

// sweepIdle periodically closes connections that have been silent for
// longer than the idle timeout.
func (s *Server) sweepIdle() {
	interval := s.idleTimeout / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopIdle:
			return
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-s.idleTimeout)
			if n := s.conns.closeIdle(cutoff); n > 0 {
				s.logger.Info("closed idle websocket connections", slog.Int("count", n))
			}
		}
	}
}

// ServeHTTP upgrades the request and serves the frame protocol until
// the connection drops.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	netConn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	go s.serve(newConn(id.NewSubscriptionID().String(), netConn))
}

func (s *Server) serve(c *conn) {
	s.conns.add(c)
	sub := s.hub.Subscribe(c.id)
	s.logger.Info("websocket connected", slog.String("conn_id", c.id))

	defer func() {
		s.hub.RemoveSubscriber(c.id)
		s.conns.remove(c.id)
		c.close()
		s.logger.Info("websocket disconnected", slog.String("conn_id", c.id))
	}()

	go s.forwardEvents(c, sub)

	for {
		data, err := wsutil.ReadClientText(c.netConn)
		if err != nil {
			return
		}
		c.touch()

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			if writeErr := c.writeFrame(errorFrame("", "invalid frame: "+err.Error())); writeErr != nil {
				return
			}
			continue
		}
		if err := s.handleFrame(c, &frame); err != nil {
			return
		}
	}
}

// handleFrame processes one client frame. A returned error means the
// connection is unusable.
func (s *Server) handleFrame(c *conn, frame *Frame) error {
	switch frame.Type {
	case FramePing:
		return c.writeFrame(&Frame{
			Type:      FramePong,
			CorrelID:  frame.ID,
			Timestamp: time.Now().UTC(),
		})

	case FrameSubscribe:
		if len(frame.Topics) == 0 {
			return c.writeFrame(errorFrame(frame.ID, "subscribe requires at least one topic"))
		}
		for _, topic := range frame.Topics {
			if err := stream.ValidateTopic(topic); err != nil {
				return c.writeFrame(errorFrame(frame.ID, err.Error()))
			}
		}
		if len(frame.EventTypes) > 0 {
			s.setTypeFilter(c.id, frame.EventTypes)
		}
		s.hub.SubscribeTo(c.id, frame.Topics...)
		return c.writeFrame(ackFrame(frame.ID, frame.Topics))

	case FrameUnsubscribe:
		if len(frame.Topics) == 0 {
			return c.writeFrame(errorFrame(frame.ID, "unsubscribe requires at least one topic"))
		}
		s.hub.Unsubscribe(c.id, frame.Topics...)
		return c.writeFrame(ackFrame(frame.ID, frame.Topics))

	default:
		return c.writeFrame(errorFrame(frame.ID, "unknown frame type "+string(frame.Type)))
	}
}

// setTypeFilter narrows a connection's subscription to the given event
// types. Gap markers always pass so the client can detect loss.
func (s *Server) setTypeFilter(connID string, types []string) {
	sub, ok := s.hub.GetSubscriber(connID)
	if !ok {
		return
	}
	allowed := slices.Clone(types)
	sub.SetFilter(func(evt *stream.Event) bool {
		if evt.Type == stream.EventStreamGap {
			return true
		}
		return slices.Contains(allowed, string(evt.Type))
	})
}

// forwardEvents drains the hub subscriber into the connection. A write
// failure closes the connection, which also ends the read loop.
func (s *Server) forwardEvents(c *conn, sub *stream.Subscriber) {
	for evt := range sub.C() {
		if err := c.writeFrame(&Frame{
			Type:      FrameEvent,
			Event:     evt,
			Timestamp: time.Now().UTC(),
		}); err != nil {
			c.close()
			return
		}
	}
}
