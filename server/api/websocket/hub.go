// Package websocket broadcasts formatted log lines to any number of connected WebSocket
// clients: a log firehose rather than a per-job stream, so it sits beside the SSE-based job
// event API rather than duplicating it.
package websocket

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/faceforge/orchestrator/common/logger"
	"github.com/faceforge/orchestrator/common/util"
	"github.com/faceforge/orchestrator/server/services/event"
)

// DefaultClientQueueSize is how many formatted log lines a slow client may lag behind by
// before the oldest queued line is dropped to make room for the newest.
const DefaultClientQueueSize = 100

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub subscribes to the event bus's log events process-wide and fans formatted lines out to
// every connected WebSocket client. Unlike EventBus's per-subscriber "drop the newest event on
// overflow" policy, a lagging client here has its oldest buffered line evicted instead, so a
// client that reconnects after a stall sees the most recent activity rather than stale history.
type Hub struct {
	log logger.Log
	bus *event.EventBus

	register   chan *client
	unregister chan *client
	clients    map[*client]struct{}

	service *util.StatefulService
}

func NewHub(logFactory logger.LogFactory, bus *event.EventBus) *Hub {
	return &Hub{
		log:        logFactory("WebSocket"),
		bus:        bus,
		register:   make(chan *client),
		unregister: make(chan *client),
		clients:    make(map[*client]struct{}),
	}
}

// Start subscribes to the bus and begins running the hub's dispatch loop in the background.
func (h *Hub) Start(ctx context.Context) {
	h.service = util.NewStatefulService(ctx, h.log, h.run)
	h.service.Start()
}

// Stop halts the dispatch loop and disconnects every client.
func (h *Hub) Stop() {
	if h.service != nil {
		h.service.Stop()
	}
}

func (h *Hub) run() {
	ctx := h.service.Ctx()
	sub := h.bus.SubscribeGlobal()
	defer h.bus.Unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				c.close()
			}
			return
		case c := <-h.register:
			h.clients[c] = struct{}{}
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				c.close()
			}
		case evt, ok := <-sub.C:
			if !ok {
				return
			}
			if evt.Type != event.EventTypeLog {
				continue
			}
			line := formatLogLine(evt)
			for c := range h.clients {
				c.send(line)
			}
		}
	}
}

func formatLogLine(evt event.JobEvent) string {
	return fmt.Sprintf("%s - %s - %s",
		evt.Timestamp.Format("2006-01-02T15:04:05.000Z07:00"), evt.Level, evt.Message)
}

// ServeHTTP upgrades the connection and registers it as a log subscriber for its lifetime. The
// connection accepts no client-to-server messages; its read pump exists only to drive the
// control-frame (ping/pong/close) handling gorilla/websocket requires.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warnf("error upgrading websocket connection: %v", err)
		return
	}
	c := newClient(conn)
	h.register <- c
	go h.writePump(c)
	go h.readPump(c)
}

func (h *Hub) readPump(c *client) {
	defer func() {
		// The hub may already have shut down (ctx.Done in run), in which case nothing reads
		// from unregister anymore; c.done is closed in that case so this never blocks forever.
		select {
		case h.unregister <- c:
		case <-c.done:
		}
	}()
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case line, ok := <-c.outbound:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
