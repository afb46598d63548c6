// Package ws fans chat events out to websocket subscribers.
package ws

import (
	"context"
	"encoding/json"

	"persona/backend/internal/models"
	"persona/backend/pkg/logger"
	"persona/backend/pkg/metrics"

	"github.com/google/uuid"
)

// Event types
const (
	EventMessageCreated = "message.created"
	EventMessageDeleted = "message.deleted"
)

// Event is pushed to every subscriber of a chat
type Event struct {
	Type      string          `json:"type"`
	ChatID    uuid.UUID       `json:"chat_id"`
	Message   *models.Message `json:"message,omitempty"`
	MessageID *uuid.UUID      `json:"message_id,omitempty"`
}

type envelope struct {
	chatID  uuid.UUID
	payload []byte
}

// Hub owns the subscriber set. Only Run touches it.
type Hub struct {
	clients    map[uuid.UUID]map[*Client]struct{}
	broadcast  chan envelope
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	log        *logger.Logger
}

func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		clients:    make(map[uuid.UUID]map[*Client]struct{}),
		broadcast:  make(chan envelope, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		log:        log.WithComponent("ws_hub"),
	}
}

// Run processes registrations and broadcasts until ctx is done
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			for _, set := range h.clients {
				for client := range set {
					h.remove(client)
				}
			}
			return

		case client := <-h.register:
			set, ok := h.clients[client.chatID]
			if !ok {
				set = make(map[*Client]struct{})
				h.clients[client.chatID] = set
			}
			set[client] = struct{}{}
			metrics.WebsocketClients.Inc()
			h.log.Debug("Client registered", "chat_id", client.chatID, "user_id", client.userID)

		case client := <-h.unregister:
			h.remove(client)

		case msg := <-h.broadcast:
			for client := range h.clients[msg.chatID] {
				select {
				case client.send <- msg.payload:
				default:
					h.log.Warn("Dropping slow client", "chat_id", msg.chatID, "user_id", client.userID)
					h.remove(client)
				}
			}
		}
	}
}

func (h *Hub) subscribe(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) unsubscribe(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

func (h *Hub) remove(client *Client) {
	set, ok := h.clients[client.chatID]
	if !ok {
		return
	}
	if _, ok := set[client]; !ok {
		return
	}
	delete(set, client)
	if len(set) == 0 {
		delete(h.clients, client.chatID)
	}
	close(client.send)
	metrics.WebsocketClients.Dec()
}

// Publish queues an event for the chat's subscribers. It never blocks the
// caller; events are dropped when the hub is saturated.
func (h *Hub) Publish(chatID uuid.UUID, event Event) {
	event.ChatID = chatID
	payload, err := json.Marshal(event)
	if err != nil {
		h.log.LogError(err, "Failed to encode event", "type", event.Type)
		return
	}
	select {
	case h.broadcast <- envelope{chatID: chatID, payload: payload}:
	default:
		h.log.Warn("Event dropped, hub saturated", "chat_id", chatID, "type", event.Type)
	}
}
