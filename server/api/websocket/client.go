package websocket

import (
	"sync"

	"github.com/gorilla/websocket"
)

// client wraps a single connected WebSocket with a bounded outbound queue. send never blocks
// the hub's dispatch loop: once the queue is full, the oldest buffered line is discarded to
// make room for the new one.
type client struct {
	conn     *websocket.Conn
	outbound chan string
	done     chan struct{}

	mu     sync.Mutex
	closed bool
}

func newClient(conn *websocket.Conn) *client {
	return &client{
		conn:     conn,
		outbound: make(chan string, DefaultClientQueueSize),
		done:     make(chan struct{}),
	}
}

func (c *client) send(line string) {
	select {
	case c.outbound <- line:
		return
	default:
	}
	// outbound is full: drop the oldest queued line and retry once. There's an inherent race
	// with writePump draining outbound concurrently, but losing at most one extra line to that
	// race is harmless for a best-effort log firehose.
	select {
	case <-c.outbound:
	default:
	}
	select {
	case c.outbound <- line:
	default:
	}
}

func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.done)
	c.conn.Close()
}
