package websocket

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// Message is a real-time event delivered to a user's connected devices.
type Message struct {
	Type  string         `json:"type"`
	ID    int64          `json:"id,omitempty"`
	Extra map[string]any `json:"extra,omitempty"`
}

// Hub maintains active WebSocket clients keyed by user so events can be
// routed to exactly the users they concern.
type Hub struct {
	mu      sync.RWMutex
	clients map[int64]map[*Client]struct{}
	logger  *slog.Logger
}

// NewHub creates a new Hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[int64]map[*Client]struct{}),
		logger:  logger,
	}
}

// Register adds a client to the hub under its user id.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	set, ok := h.clients[c.userID]
	if !ok {
		set = make(map[*Client]struct{})
		h.clients[c.userID] = set
	}
	set[c] = struct{}{}
	h.mu.Unlock()
}

// Unregister removes a client from the hub and closes its send channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if set, ok := h.clients[c.userID]; ok {
		if _, ok := set[c]; ok {
			delete(set, c)
			close(c.send)
		}
		if len(set) == 0 {
			delete(h.clients, c.userID)
		}
	}
	h.mu.Unlock()
}

// SendToUser delivers a message to all of one user's connected devices.
func (h *Hub) SendToUser(userID int64, msg Message) {
	h.SendToUsers([]int64{userID}, msg)
}

// SendToUsers delivers a message to every connected device of each user in
// the set. Users with no open connection are skipped.
func (h *Hub) SendToUsers(userIDs []int64, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal ws message", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, id := range userIDs {
		for c := range h.clients[id] {
			select {
			case c.send <- data:
			default:
				// Client buffer full — drop message to avoid blocking
			}
		}
	}
}

// ClientCount returns the number of connected clients across all users.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.clients {
		n += len(set)
	}
	return n
}
