package chat

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/ashik1291/customer-support-live-chat-system/logger"
	"github.com/ashik1291/customer-support-live-chat-system/module/chat/model"
)

// Frame is the envelope pushed to every websocket subscriber.
type Frame struct {
	Type    string      `json:"type"` // lifecycle | message | queue
	Payload interface{} `json:"payload"`
}

// Hub fans conversation events out to the websocket clients watching each
// conversation. It plugs into the notifier as a listener, so every push
// happens in transition order.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*Client]struct{}
}

func NewHub() *Hub {
	return &Hub{rooms: map[string]map[*Client]struct{}{}}
}

func (h *Hub) Join(conversationID string, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[conversationID]
	if !ok {
		room = map[*Client]struct{}{}
		h.rooms[conversationID] = room
	}
	room[client] = struct{}{}
}

func (h *Hub) Leave(conversationID string, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[conversationID]
	if !ok {
		return
	}
	delete(room, client)
	if len(room) == 0 {
		delete(h.rooms, conversationID)
	}
}

// OnLifecycleEvent implements service.LifecycleListener.
func (h *Hub) OnLifecycleEvent(_ context.Context, event model.LifecycleEvent) {
	h.broadcast(event.ConversationID, Frame{Type: "lifecycle", Payload: event})
}

// OnMessageEvent implements service.MessageListener.
func (h *Hub) OnMessageEvent(_ context.Context, event model.MessageEvent) {
	h.broadcast(event.ConversationID, Frame{Type: "message", Payload: event})
}

func (h *Hub) broadcast(conversationID string, frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		logger.Errorf("[hub] marshal frame for %s failed: %v", conversationID, err)
		return
	}

	h.mu.RLock()
	clients := make([]*Client, 0, len(h.rooms[conversationID]))
	for client := range h.rooms[conversationID] {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		client.Send(data)
	}
}
