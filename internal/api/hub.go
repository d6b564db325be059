package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

// sendBuffer is the per-client outbound queue depth. A client that falls
// this far behind gets dropped rather than stalling everyone else.
const sendBuffer = 64

// newUpgrader creates a WebSocket upgrader. When allowAllOrigins is false,
// only same-origin requests are accepted (Origin header must match Host).
func newUpgrader(allowAllOrigins bool) websocket.Upgrader {
	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			if allowAllOrigins {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true // non-browser clients don't send Origin
			}
			return strings.Contains(origin, r.Host)
		},
	}
}

// client is one connected annotation client. Writes go through the send
// channel; a single writer goroutine owns the connection's write side.
// tasks is the set of task ids the client has requested, guarded by hub.mu.
type client struct {
	conn  *websocket.Conn
	send  chan []byte
	tasks map[string]struct{}
}

// envelope is the wire format for every outbound event.
type envelope struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// Hub is the connection registry and broadcast substrate. Delivery is
// best-effort and fire-and-forget: enqueueing never blocks, and clients
// whose queue is full are disconnected.
type Hub struct {
	mu       sync.RWMutex
	clients  map[*client]bool
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger, allowAllOrigins bool) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:  make(map[*client]bool),
		upgrader: newUpgrader(allowAllOrigins),
		logger:   logger.With("component", "api.Hub"),
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[c] {
		delete(h.clients, c)
		close(c.send)
	}
}

// subscribe records the client's interest in a task. Broadcasts for a task
// reach only clients that requested it.
func (h *Hub) subscribe(c *client, taskID string) {
	h.mu.Lock()
	c.tasks[taskID] = struct{}{}
	h.mu.Unlock()
}

// BroadcastTask delivers an event to every client interested in taskID.
func (h *Hub) BroadcastTask(taskID, event string, data interface{}) {
	msg, err := json.Marshal(envelope{Event: event, Data: data})
	if err != nil {
		h.logger.Error("failed to marshal broadcast", "event", event, "error", err)
		return
	}

	// Enqueue under RLock; collect clients that are too far behind and
	// disconnect them under the write lock afterwards.
	h.mu.RLock()
	var dead []*client
	for c := range h.clients {
		if _, interested := c.tasks[taskID]; !interested {
			continue
		}
		select {
		case c.send <- msg:
		default:
			dead = append(dead, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range dead {
		h.logger.Warn("dropping slow client", "remote", c.conn.RemoteAddr())
		h.unregister(c)
		_ = c.conn.Close()
	}
}

// reply enqueues an event for a single client only.
func (h *Hub) reply(c *client, event string, data interface{}) {
	msg, err := json.Marshal(envelope{Event: event, Data: data})
	if err != nil {
		h.logger.Error("failed to marshal reply", "event", event, "error", err)
		return
	}
	// Membership check under RLock: send and close are mutually excluded
	// through the hub lock, so this can never write to a closed channel.
	full := false
	h.mu.RLock()
	if h.clients[c] {
		select {
		case c.send <- msg:
		default:
			full = true
		}
	}
	h.mu.RUnlock()

	if full {
		h.logger.Warn("dropping slow client", "remote", c.conn.RemoteAddr())
		h.unregister(c)
		_ = c.conn.Close()
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects all clients.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		_ = c.conn.Close()
		delete(h.clients, c)
	}
}

// writePump drains the client's send queue onto the connection. It exits
// when the queue is closed by unregister or Close.
func (c *client) writePump() {
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			break
		}
	}
	_ = c.conn.Close()
}
