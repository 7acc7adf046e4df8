package stream

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocket timeout constants following Gorilla best practices
// See: https://github.com/gorilla/websocket/blob/master/examples/chat/client.go
const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = 54 * time.Second

	// Maximum message size allowed from peer
	maxMessageSize = 64 * 1024
)

// Client is one WebSocket subscriber connection.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan Event
	id   string

	mu           sync.Mutex
	subscriberID string
	closeOnce    sync.Once
}

// inboundMessage is what clients may send: a subscription claim or a
// ping.
type inboundMessage struct {
	Type         string `json:"type"`
	SubscriberID string `json:"subscriberId,omitempty"`
}

// subscriber returns the subscriber id this client has claimed, if any.
func (c *Client) subscriber() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscriberID
}

// readPump consumes inbound messages until the connection drops.
func (c *Client) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
				websocket.CloseNoStatusReceived,
			) {
				c.hub.logger.Warnw("WebSocket read error",
					"client_id", c.id, "error", err)
			}
			return
		}

		var msg inboundMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.hub.logger.Warnw("JSON unmarshal error",
				"client_id", c.id, "error", err)
			continue
		}

		switch msg.Type {
		case "subscribe":
			c.mu.Lock()
			c.subscriberID = msg.SubscriberID
			c.mu.Unlock()
			c.hub.logger.Debugw("Client claimed subscriber id",
				"client_id", c.id, "subscriber_id", msg.SubscriberID)
		case "ping":
			// Deadline refresh handled by the pong handler
		default:
			c.hub.logger.Debugw("Unknown message type",
				"type", msg.Type, "client_id", c.id)
		}
	}
}

// writePump pushes queued events and keepalive pings to the peer.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case event, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(event); err != nil {
				c.hub.logger.Debugw("Event write error",
					"client_id", c.id, "error", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// close safely closes the send channel. Idempotent.
func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}
