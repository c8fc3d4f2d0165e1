package ws

import (
	"encoding/json"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws/wsutil"
)

// conn is the server-side state for one WebSocket connection.
type conn struct {
	id      string
	netConn net.Conn

	// writeMu serializes frame writes between the read loop's replies
	// and the event forwarder.
	writeMu sync.Mutex

	// lastSeen is updated on every frame received from the client.
	mu       sync.Mutex
	lastSeen time.Time

	closed sync.Once
}

func newConn(id string, nc net.Conn) *conn {
	return &conn{
		id:       id,
		netConn:  nc,
		lastSeen: time.Now().UTC(),
	}
}

// touch records client activity for the idle-timeout check.
func (c *conn) touch() {
	c.mu.Lock()
	c.lastSeen = time.Now().UTC()
	c.mu.Unlock()
}

// idleSince returns the time of the last client frame.
func (c *conn) idleSince() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeen
}

// writeFrame JSON-encodes and sends a frame as a text message.
func (c *conn) writeFrame(f *Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsutil.WriteServerText(c.netConn, data)
}

// close shuts the underlying connection down once.
func (c *conn) close() {
	c.closed.Do(func() {
		_ = c.netConn.Close()
	})
}

// connManager tracks live connections so the server can enforce idle
// timeouts and close everything on shutdown.
type connManager struct {
	mu    sync.Mutex
	conns map[string]*conn
}

func newConnManager() *connManager {
	return &connManager{conns: make(map[string]*conn)}
}

func (m *connManager) add(c *conn) {
	m.mu.Lock()
	m.conns[c.id] = c
	m.mu.Unlock()
}

func (m *connManager) remove(id string) {
	m.mu.Lock()
	delete(m.conns, id)
	m.mu.Unlock()
}

func (m *connManager) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns)
}

// closeIdle closes connections whose last activity predates cutoff and
// returns how many were closed.
func (m *connManager) closeIdle(cutoff time.Time) int {
	m.mu.Lock()
	var idle []*conn
	for _, c := range m.conns {
		if c.idleSince().Before(cutoff) {
			idle = append(idle, c)
		}
	}
	m.mu.Unlock()

	for _, c := range idle {
		c.close()
	}
	return len(idle)
}

// closeAll closes every live connection.
func (m *connManager) closeAll() {
	m.mu.Lock()
	conns := make([]*conn, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.conns = make(map[string]*conn)
	m.mu.Unlock()

	for _, c := range conns {
		c.close()
	}
}
