// Package opsstream is an internal, read-only WebSocket tail of
// platform events (turns processed, escalations raised, follow-ups
// sent, debounce drains) for operators watching a tenant live — not the
// agent UI the spec explicitly excludes, which would let an operator
// issue commands back. This is broadcast-only. Grounded on the
// teacher's internal/gateway/server.go Server/Client hub shape
// (upgrader, registerClient/unregisterClient, BroadcastEvent), trimmed
// to drop every RPC method router and HTTP API surface that shape
// carried for agent control.
package opsstream

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// Event is one line of the operational tail.
type Event struct {
	Tenant  string `json:"tenant"`
	Kind    string `json:"kind"` // turn_processed, escalation_created, followup_sent, debounce_drained
	Payload any    `json:"payload"`
}

// Hub upgrades operator connections and fans out Events to all of them.
type Hub struct {
	upgrader websocket.Upgrader
	mu       sync.RWMutex
	clients  map[string]*Client
}

func NewHub(checkOrigin func(*http.Request) bool) *Hub {
	h := &Hub{clients: make(map[string]*Client)}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     checkOrigin,
	}
	return h
}

// ServeHTTP upgrades the request and registers the connection until it
// disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	client := newClient(conn)
	h.register(client)
	defer func() {
		h.unregister(client)
		client.close()
	}()

	client.run(r.Context())
}

// Broadcast fans an event out to every connected operator. A client whose
// outbound buffer is full misses the event rather than blocking the
// publisher; a client is removed only when its connection closes.
func (h *Hub) Broadcast(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		c.send(ev)
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.id] = c
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c.id)
}
