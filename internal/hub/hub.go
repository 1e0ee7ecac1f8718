package hub

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

// Event types streamed to clients.
const (
	EventView = "view"
)

// Event represents a real-time event to be sent to clients.
type Event struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// Client represents a single client connection of a user.
// It's essentially a channel that the SSE handler will listen to.
type Client chan []byte

// Hub tracks the open streams of every user. A user may hold several, one per tab.
type Hub struct {
	users  map[string]map[Client]bool
	mu     sync.RWMutex
	logger *zap.Logger
}

// NewHub creates a new Hub.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		users:  make(map[string]map[Client]bool),
		logger: logger,
	}
}

// Subscribe registers a client for a user.
func (h *Hub) Subscribe(userID string, client Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.users[userID]; !ok {
		h.users[userID] = make(map[Client]bool)
	}
	h.users[userID][client] = true
}

// Unsubscribe removes a client and closes its channel.
func (h *Hub) Unsubscribe(userID string, client Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if clients, ok := h.users[userID]; ok {
		if _, ok := clients[client]; ok {
			delete(clients, client)
			close(client) // Close the channel to signal the SSE handler to stop.
			if len(clients) == 0 {
				delete(h.users, userID)
			}
		}
	}
}

// Clients reports how many streams userID has open.
func (h *Hub) Clients(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID])
}

// Send delivers an event to one client of a user. Each stream runs its own reconciliation
// session, so views are addressed per client rather than per user.
func (h *Hub) Send(userID string, client Client, event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if !h.users[userID][client] {
		return
	}
	messageBytes, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("Failed to encode hub event", zap.String("type", event.Type), zap.Error(err))
		return
	}
	// Use a non-blocking send to prevent a slow client from blocking the session.
	select {
	case client <- messageBytes:
	default:
		// The next view supersedes this one.
	}
}
