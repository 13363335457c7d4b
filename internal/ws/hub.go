// Package ws is the websocket surface: one connection per (user, chat)
// view, fed by the event bus and feeding commands into the delivery
// machine.
package ws

import (
	"sync"

	"github.com/synsocial/chatsync/internal/domain"
	"github.com/synsocial/chatsync/internal/events"
)

// Frame is the outbound wire envelope.
type Frame struct {
	Type   string               `json:"type"` // snapshot, message, typing, status, error
	Event  *events.MessageEvent `json:"event,omitempty"`
	Typing *domain.TypingSignal `json:"typing,omitempty"`
	Status string               `json:"status,omitempty"`
	Typers []string             `json:"typers,omitempty"`
	Online []string             `json:"online,omitempty"`
	Error  string               `json:"error,omitempty"`
}

// Hub tracks live connections per chat room.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*Connection]bool // chatID -> connections
}

func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[*Connection]bool)}
}

func (h *Hub) Register(chatID string, c *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.rooms[chatID]; !ok {
		h.rooms[chatID] = make(map[*Connection]bool)
	}
	h.rooms[chatID][c] = true
}

func (h *Hub) Unregister(chatID string, c *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if members, ok := h.rooms[chatID]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, chatID)
		}
	}
}

// RoomSize reports how many connections are on the chat.
func (h *Hub) RoomSize(chatID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[chatID])
}

// Broadcast sends the frame to every connection in the room. A
// non-empty onlyUser restricts delivery to that user's devices, which
// is how per-viewer deletions stay per-viewer.
func (h *Hub) Broadcast(chatID string, f Frame, onlyUser string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[chatID] {
		if onlyUser != "" && c.userID != onlyUser {
			continue
		}
		c.Send(f)
	}
}
