// Package ws implements the supplemental /debug/events live feed (not in
// the distilled spec, recovered from original_source's websocket_handler
// and added per SPEC_FULL.md's supplemental-features list): a small
// gorilla/websocket hub broadcasting cache-directory changes and
// camera-restart requests to connected debug clients.
package ws

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/yujun2647/watchdogd/internal/wdlog"
)

// Event is one broadcast message. ID lets a client dedupe an event it
// may see twice across a reconnect.
type Event struct {
	ID   string    `json:"id"`
	Kind string    `json:"kind"`
	At   time.Time `json:"at"`
	Data any       `json:"data,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type client struct {
	ch chan Event
}

// Hub fans Event values out to every connected client.
type Hub struct {
	mu      sync.Mutex
	clients map[string]*client
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[string]*client)}
}

// Broadcast sends ev to every currently connected client, stamping an ID
// if the caller left one unset. Slow clients are dropped from delivery
// for this event rather than blocking the sender (mirrors the
// pipeline's own force-put philosophy).
func (h *Hub) Broadcast(ev Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.clients {
		select {
		case c.ch <- ev:
		default:
		}
	}
}

// ServeHTTP upgrades the request to a websocket and streams events until
// the client disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := wdlog.Stage("ws")
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("ws: upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	id := uuid.NewString()
	c := &client{ch: make(chan Event, 32)}
	h.mu.Lock()
	h.clients[id] = c
	h.mu.Unlock()
	log.Debug("ws: client connected", "client_id", id)
	defer func() {
		h.mu.Lock()
		delete(h.clients, id)
		h.mu.Unlock()
		log.Debug("ws: client disconnected", "client_id", id)
	}()

	go h.readPump(conn)

	for ev := range c.ch {
		data, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}

// readPump drains and discards client messages so pong/close control
// frames are still processed, and exits when the client disconnects. It
// does not close ch; ServeHTTP returns when its next write to the closed
// connection fails.
func (h *Hub) readPump(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
