// Package realtime pushes integrity alerts to connected operator consoles.
package realtime

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

const (
	// PingInterval and PongWait are used for heartbeat, in seconds.
	PingInterval = 30
	PongWait     = 60
)

// Subscriber delivers events published by any instance.
type Subscriber interface {
	Subscribe(handler func(event string, payload []byte)) (cancel func(), err error)
}

// Hub holds the operator connections of this instance. The Redis subscription is open
// only while at least one client is connected.
type Hub struct {
	clients map[string]*Client
	cancel  func()
	mu      sync.RWMutex
	logger  *zap.Logger
	sub     Subscriber
}

// NewHub creates a new WebSocket hub. sub may be nil for local-only delivery.
func NewHub(logger *zap.Logger, sub Subscriber) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients: make(map[string]*Client),
		logger:  logger,
		sub:     sub,
	}
}

// Register adds a client. The first client opens the Redis subscription.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	if len(h.clients) == 0 && h.sub != nil && h.cancel == nil {
		cancel, err := h.sub.Subscribe(func(event string, payload []byte) {
			h.Broadcast(event, json.RawMessage(payload))
		})
		if err != nil {
			h.logger.Warn("alert subscription failed", zap.Error(err))
		} else {
			h.cancel = cancel
		}
	}
	h.clients[c.ID] = c
	count := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("operator connected", zap.String("client_id", c.ID), zap.String("admin_id", c.AdminID), zap.Int("clients", count))
}

// Unregister removes a client. The last client closes the Redis subscription.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c.ID]; ok {
		delete(h.clients, c.ID)
		close(c.send)
	}
	if len(h.clients) == 0 && h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
	h.mu.Unlock()
	h.logger.Debug("operator disconnected", zap.String("client_id", c.ID))
}

// Broadcast sends a message to every local client. Slow clients miss messages.
func (h *Hub) Broadcast(event string, payload interface{}) {
	var data []byte
	switch v := payload.(type) {
	case []byte:
		data = v
	case json.RawMessage:
		data = v
	default:
		var err error
		if data, err = json.Marshal(payload); err != nil {
			return
		}
	}
	msg := WSMessage{Event: event, Data: data}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		select {
		case c.send <- msg:
		default:
		}
	}
}

// ClientCount returns the number of connected operators on this instance.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
