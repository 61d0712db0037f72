package hub

import (
	"encoding/json"
	"log"
	"sync"
)

type Scope struct {
	OfficeID string
	WindowID string
}

type Client struct {
	ID    string
	Send  chan []byte
	Scope Scope
}

type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

type SubscribeMessage struct {
	Action   string `json:"action"`
	OfficeID string `json:"office_id"`
	WindowID string `json:"window_id"`
}

func New() *Hub {
	return &Hub{clients: make(map[string]*Client)}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, client.ID)
	close(client.Send)
}

func (h *Hub) UpdateScope(client *Client, scope Scope) {
	h.mu.Lock()
	defer h.mu.Unlock()
	client.Scope = scope
}

func (h *Hub) Broadcast(payload []byte, meta Scope) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		if !match(client.Scope, meta) {
			continue
		}
		select {
		case client.Send <- payload:
		default:
			log.Printf("drop message for client %s", client.ID)
		}
	}
}

func match(scope Scope, meta Scope) bool {
	if scope.OfficeID != "" && meta.OfficeID != scope.OfficeID {
		return false
	}
	if scope.WindowID != "" && meta.WindowID != "" && meta.WindowID != scope.WindowID {
		return false
	}
	return true
}

func ParseSubscribe(data []byte) (SubscribeMessage, bool) {
	var msg SubscribeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return SubscribeMessage{}, false
	}
	if msg.Action != "subscribe" && msg.Action != "unsubscribe" {
		return SubscribeMessage{}, false
	}
	return msg, true
}
