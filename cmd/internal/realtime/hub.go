package realtime

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	v1 "mcadmin/shared/contracts/realtime/v1"
)

// Hub tracks connected clients and fans server-wide events out to them.
//
// Register/Unregister are safe under concurrent Broadcast, and Broadcast
// never blocks: a full client queue drops the envelope.
type Hub struct {
	log *slog.Logger

	mu      sync.RWMutex
	clients map[string]*Client
}

// NewHub constructs a Hub instance.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:     log,
		clients: make(map[string]*Client),
	}
}

// Register adds a client.
func (h *Hub) Register(c *Client) {
	if c == nil || c.ConnID == "" {
		return
	}

	h.mu.Lock()
	h.clients[c.ConnID] = c
	n := len(h.clients)
	h.mu.Unlock()

	h.log.Info("ws.client.register", "conn_id", c.ConnID, "clients", n)
}

// Unregister removes a client and then signals its shutdown.
func (h *Hub) Unregister(connID string) {
	if connID == "" {
		return
	}

	h.mu.Lock()
	c := h.clients[connID]
	delete(h.clients, connID)
	h.mu.Unlock()

	// Close after removal so no broadcaster holds a client being torn down.
	if c != nil {
		c.Close()
	}
	h.log.Info("ws.client.unregister", "conn_id", connID)
}

// Count returns the number of registered clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast offers env to every authorized client and returns how many queued it.
func (h *Hub) Broadcast(env v1.Envelope) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for _, c := range h.clients {
		if c == nil || !c.Authorized() {
			continue
		}
		if c.Offer(env) {
			n++
		}
	}
	return n
}

// PublishServerUpdate broadcasts a server_update envelope.
func (h *Hub) PublishServerUpdate(p v1.ServerUpdatePayload) {
	raw, err := json.Marshal(p)
	if err != nil {
		h.log.Error("ws.server_update.marshal_fail", "err", err)
		return
	}
	n := h.Broadcast(newEnvelope(v1.TypeServerUpdate, raw, time.Now().UTC()))
	h.log.Debug("ws.server_update", "action", p.Action, "server_id", p.ServerID, "delivered", n)
}
