package ws

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/driftlab/driftmsg/internal/server/models"
)

// Hub tracks live sessions, per-conversation room membership and per-user
// presence. A user may hold several sessions; presence flips on the first
// connection and the last disconnect.
type Hub struct {
	clients map[*Client]bool
	byUser  map[string]map[*Client]bool // user id -> sessions
	rooms   map[string]map[*Client]bool // conversation id -> members

	Register   chan *Client
	Unregister chan *Client
	mu         sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		byUser:     make(map[string]map[*Client]bool),
		rooms:      make(map[string]map[*Client]bool),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.Register:
			h.mu.Lock()
			h.clients[client] = true
			if h.byUser[client.UserID] == nil {
				h.byUser[client.UserID] = make(map[*Client]bool)
			}
			first := len(h.byUser[client.UserID]) == 0
			h.byUser[client.UserID][client] = true
			h.mu.Unlock()

			if first {
				h.broadcastStatus(client.UserID, "online")
			}

		case client := <-h.Unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; !ok {
				h.mu.Unlock()
				continue
			}
			delete(h.clients, client)
			delete(h.byUser[client.UserID], client)
			last := len(h.byUser[client.UserID]) == 0
			if last {
				delete(h.byUser, client.UserID)
			}
			for _, members := range h.rooms {
				delete(members, client)
			}
			close(client.Send)
			h.mu.Unlock()

			if last {
				h.broadcastStatus(client.UserID, "offline")
			}
		}
	}
}

// JoinRoom is idempotent; joining twice is a no-op.
func (h *Hub) JoinRoom(conversationID string, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[conversationID] == nil {
		h.rooms[conversationID] = make(map[*Client]bool)
	}
	h.rooms[conversationID][client] = true
}

func (h *Hub) LeaveRoom(conversationID string, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if members := h.rooms[conversationID]; members != nil {
		delete(members, client)
		if len(members) == 0 {
			delete(h.rooms, conversationID)
		}
	}
}

// SendToUser delivers to every live session of a user.
func (h *Hub) SendToUser(userID string, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.byUser[userID] {
		select {
		case client.Send <- data:
		default:
		}
	}
}

// BroadcastRoom delivers to every room member except the sender.
func (h *Hub) BroadcastRoom(conversationID string, except *Client, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.rooms[conversationID] {
		if client == except {
			continue
		}
		select {
		case client.Send <- data:
		default:
		}
	}
}

func (h *Hub) broadcastStatus(userID, status string) {
	data := MarshalEvent("userStatus", models.UserStatusPayload{
		UserID: userID,
		Status: status,
	})

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		if client.UserID == userID {
			continue
		}
		select {
		case client.Send <- data:
		default:
		}
	}
}

// MarshalEvent wraps a payload in the wire envelope.
func MarshalEvent(eventType string, payload interface{}) []byte {
	raw, err := json.Marshal(payload)
	if err != nil {
		log.Printf("Marshal %s payload: %v", eventType, err)
		return nil
	}
	data, _ := json.Marshal(models.WSEvent{Type: eventType, Payload: raw})
	return data
}
