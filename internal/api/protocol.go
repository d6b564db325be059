package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/traceboard/traceboard/internal/trace"
)

// inboundEvent is the wire format for client events. Fields are a union
// over all event types; each handler checks the ones it needs.
type inboundEvent struct {
	Event    string `json:"event"`
	TaskID   string `json:"task_id"`
	TraceID  string `json:"trace_id"`
	Username string `json:"username"`
	Text     string `json:"text"`
	Vote     *int   `json:"vote"`
}

// Protocol validates inbound client events, mutates the trace store and
// emits replies and broadcasts through the hub. One instance serves all
// connections; per-connection state lives on the client.
type Protocol struct {
	hub    *Hub
	store  *trace.Store
	logger *slog.Logger
}

// NewProtocol creates the protocol handler.
func NewProtocol(hub *Hub, store *trace.Store, logger *slog.Logger) *Protocol {
	if logger == nil {
		logger = slog.Default()
	}
	return &Protocol{
		hub:    hub,
		store:  store,
		logger: logger.With("component", "api.Protocol"),
	}
}

// HandleWebSocket upgrades the connection, acks it and runs the read loop
// until the client goes away. A dropped connection just deregisters; there
// is no session resumption, a reconnecting client re-requests its traces.
func (p *Protocol) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := p.hub.upgrader.Upgrade(w, r, nil)
	if err != nil {
		p.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	c := &client{
		conn:  conn,
		send:  make(chan []byte, sendBuffer),
		tasks: make(map[string]struct{}),
	}
	p.hub.register(c)
	go c.writePump()

	p.logger.Info("client connected", "remote", conn.RemoteAddr())
	p.hub.reply(c, "connection_ack", map[string]string{"message": "Connected to server"})

	defer func() {
		p.hub.unregister(c)
		_ = conn.Close()
		p.logger.Info("client disconnected", "remote", conn.RemoteAddr())
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var ev inboundEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			p.logger.Warn("unparseable client event", "remote", conn.RemoteAddr(), "error", err)
			continue
		}

		switch ev.Event {
		case "request_traces":
			p.handleRequestTraces(c, ev)
		case "add_trace":
			p.handleAddTrace(c, ev)
		case "vote_trace":
			p.handleVoteTrace(c, ev)
		default:
			p.logger.Warn("unknown client event", "event", ev.Event, "remote", conn.RemoteAddr())
		}
	}
}

// handleRequestTraces replies with the task's current trace list and marks
// the client as interested in that task. A missing task_id is logged and
// ignored, matching the protocol contract (no reply).
func (p *Protocol) handleRequestTraces(c *client, ev inboundEvent) {
	if ev.TaskID == "" {
		p.logger.Warn("request_traces without task_id", "remote", c.conn.RemoteAddr())
		return
	}

	p.hub.subscribe(c, ev.TaskID)
	traces := p.store.GetTraces(ev.TaskID)
	p.hub.reply(c, "initial_traces", map[string]interface{}{
		"task_id": ev.TaskID,
		"traces":  traces,
	})
}

// handleAddTrace appends a new trace and broadcasts the full record. The
// store persists before the broadcast goes out.
func (p *Protocol) handleAddTrace(c *client, ev inboundEvent) {
	t, err := p.store.AddTrace(ev.TaskID, ev.Username, ev.Text)
	if err != nil {
		p.logger.Warn("add_trace rejected", "remote", c.conn.RemoteAddr(), "error", err)
		p.hub.reply(c, "trace_error", map[string]string{"message": "Missing task_id or text for adding trace."})
		return
	}

	p.hub.BroadcastTask(t.TaskID, "new_trace", t)
	p.logger.Info("added trace", "trace_id", t.ID, "task_id", t.TaskID, "username", t.Username)
}

// handleVoteTrace applies a vote. Validation failures and unknown trace ids
// go back to the offending client only; an idempotent repeat vote produces
// no save and no broadcast at all.
func (p *Protocol) handleVoteTrace(c *client, ev inboundEvent) {
	if ev.Vote == nil || ev.Username == "" || ev.TraceID == "" {
		p.logger.Warn("invalid vote_trace payload", "remote", c.conn.RemoteAddr())
		p.hub.reply(c, "trace_error", map[string]string{"message": "Invalid vote data."})
		return
	}

	res, err := p.store.ApplyVote(ev.TraceID, ev.Username, *ev.Vote)
	switch {
	case errors.Is(err, trace.ErrNotFound):
		p.hub.reply(c, "trace_error", map[string]string{"message": "Trace ID " + ev.TraceID + " not found."})
		return
	case errors.Is(err, trace.ErrValidation):
		p.hub.reply(c, "trace_error", map[string]string{"message": "Invalid vote data."})
		return
	case err != nil:
		p.logger.Error("vote failed", "trace_id", ev.TraceID, "error", err)
		p.hub.reply(c, "trace_error", map[string]string{"message": "Vote failed."})
		return
	}

	if !res.Changed {
		p.logger.Debug("repeat vote ignored", "trace_id", ev.TraceID, "username", ev.Username)
		return
	}

	p.hub.BroadcastTask(res.TaskID, "trace_updated", res)
	p.logger.Info("vote applied", "trace_id", res.TraceID, "task_id", res.TaskID, "score", res.Score)
}
