// Package stream pushes live engine and task events to WebSocket
// subscribers. Events addressed to a subscriber id go only to clients
// that claimed it; everything else is broadcast.
package stream

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Event is the wire shape of every message pushed to clients.
type Event struct {
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// Hub owns the set of connected WebSocket clients and routes events to
// them. Sends never block: a client with a full buffer drops the event.
type Hub struct {
	mu       sync.RWMutex
	clients  map[*Client]struct{}
	logger   *zap.SugaredLogger
	upgrader websocket.Upgrader
}

// NewHub creates an empty hub.
func NewHub(logger *zap.SugaredLogger) *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		logger:  logger.Named("stream"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// ServeWS upgrades an HTTP request to a WebSocket connection and runs
// the client's pumps until it disconnects.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warnw("WebSocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		hub:  h,
		conn: conn,
		send: make(chan Event, 256),
		id:   uuid.New().String()[:8],
	}

	h.mu.Lock()
	h.clients[client] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()

	h.logger.Infow("Client connected", "client_id", client.id, "clients", count)

	go client.writePump()
	go client.readPump()
}

// Broadcast sends an event to every connected client. Returns the
// number of clients that accepted it (buffer not full).
func (h *Hub) Broadcast(eventType string, payload interface{}) int {
	return h.deliver("", eventType, payload)
}

// Publish sends an event to the clients that claimed the given
// subscriber id. When no client has claimed it the event is broadcast
// instead, so events outlive the subscriber that requested them.
func (h *Hub) Publish(subscriberID, eventType string, payload interface{}) int {
	if subscriberID == "" {
		return h.deliver("", eventType, payload)
	}

	sent := h.deliver(subscriberID, eventType, payload)
	if sent == 0 {
		return h.deliver("", eventType, payload)
	}
	return sent
}

// deliver fans the event out. An empty subscriberID matches every
// client.
func (h *Hub) deliver(subscriberID, eventType string, payload interface{}) int {
	event := Event{
		Type:      eventType,
		Payload:   payload,
		Timestamp: time.Now().Unix(),
	}

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		if subscriberID == "" || client.subscriber() == subscriberID {
			targets = append(targets, client)
		}
	}
	h.mu.RUnlock()

	sent := 0
	for _, client := range targets {
		select {
		case client.send <- event:
			sent++
		default:
			// Buffer full - drop rather than block the producer
		}
	}

	h.logger.Debugw("Delivered event",
		"event", eventType, "subscriber_id", subscriberID, "clients", sent)
	return sent
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Shutdown disconnects every client.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.clients = make(map[*Client]struct{})
	h.mu.Unlock()

	for _, client := range clients {
		client.close()
	}
}

// remove unregisters a client after its read pump exits.
func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	_, present := h.clients[client]
	delete(h.clients, client)
	count := len(h.clients)
	h.mu.Unlock()

	if present {
		client.close()
		h.logger.Infow("Client disconnected", "client_id", client.id, "clients", count)
	}
}
