package server

import (
	"sync"

	"hr-realtime/internal/events"
	"hr-realtime/internal/metrics"

	"go.uber.org/zap"
)

const maxConnectionsPerUser = 10

// Hub maintains the set of active clients, indexed by connection and by user.
// It is the Sender used by presence and signaling.
type Hub struct {
	mu      sync.RWMutex
	conns   map[string]*Client
	users   map[string]map[string]*Client
	metrics *metrics.Metrics
	logger  *WebSocketLogger
}

// NewHub creates a new Hub
func NewHub(l *WebSocketLogger) *Hub {
	return &Hub{
		conns:  make(map[string]*Client),
		users:  make(map[string]map[string]*Client),
		logger: l,
	}
}

// WithMetrics attaches connection collectors.
func (h *Hub) WithMetrics(m *metrics.Metrics) *Hub {
	h.metrics = m
	return h
}

// Register adds a client. When the user already holds the maximum number of
// connections the oldest one is returned so the caller can close it.
func (h *Hub) Register(client *Client) (evicted *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	userClients := h.users[client.userID]
	if userClients == nil {
		userClients = make(map[string]*Client)
		h.users[client.userID] = userClients
	}

	if len(userClients) >= maxConnectionsPerUser {
		for _, c := range userClients {
			if evicted == nil || c.connectedAt.Before(evicted.connectedAt) {
				evicted = c
			}
		}
		h.logger.Warn("max connections per user reached", client.userID, evicted.id)
	}

	userClients[client.id] = client
	h.conns[client.id] = client
	h.metrics.ConnectionOpened()
	return evicted
}

// Unregister removes a client. It reports false when the client was not
// registered, so disconnect cleanup runs once.
func (h *Hub) Unregister(client *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[client.id]; !ok {
		return false
	}
	delete(h.conns, client.id)
	if userClients, ok := h.users[client.userID]; ok {
		delete(userClients, client.id)
		if len(userClients) == 0 {
			delete(h.users, client.userID)
		}
	}
	h.metrics.ConnectionClosed()
	return true
}

// SendToUser delivers env to every connection of userID and returns how many
// accepted it.
func (h *Hub) SendToUser(userID string, env events.Envelope) int {
	return h.SendToUserExcept(userID, "", env)
}

// SendToUserExcept is SendToUser skipping one connection.
func (h *Hub) SendToUserExcept(userID, exceptConnID string, env events.Envelope) int {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.users[userID]))
	for id, c := range h.users[userID] {
		if id != exceptConnID {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	delivered := 0
	for _, c := range targets {
		if c.Send(env) {
			delivered++
		}
	}
	return delivered
}

// SendToConnection delivers env to a single connection.
func (h *Hub) SendToConnection(connID string, env events.Envelope) bool {
	h.mu.RLock()
	c, ok := h.conns[connID]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	return c.Send(env)
}

// Connected reports whether a connection is still registered.
func (h *Hub) Connected(connID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.conns[connID]
	return ok
}

// Count returns the number of registered connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Stop closes every client. Their read pumps then run disconnect cleanup.
func (h *Hub) Stop() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.conns))
	for _, c := range h.conns {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.Close()
	}
	h.logger.logger.Info("hub stopped", zap.Int("clients", len(clients)))
}
