package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Hub fans admin events out to connected websocket clients
type Hub struct {
	mu          sync.RWMutex
	connections map[string]*Connection
	dropped     int64
}

// Connection represents a WebSocket connection
type Connection struct {
	ID        string
	ClientID  string
	CreatedAt time.Time
	LastSeen  time.Time
	Active    bool
	Events    chan *Event
}

// Event represents a WebSocket event
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{
		connections: make(map[string]*Connection),
	}
}

// CreateConnection registers a new connection
func (h *Hub) CreateConnection(clientID string) *Connection {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := time.Now()
	conn := &Connection{
		ID:        uuid.New().String(),
		ClientID:  clientID,
		CreatedAt: now,
		LastSeen:  now,
		Active:    true,
		Events:    make(chan *Event, 100),
	}
	h.connections[conn.ID] = conn
	return conn
}

// Touch marks a connection as seen
func (h *Hub) Touch(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conn, ok := h.connections[connID]; ok {
		conn.LastSeen = time.Now()
	}
}

// BroadcastEvent sends an event to all active connections. Slow consumers
// lose the event instead of blocking the sender.
func (h *Hub) BroadcastEvent(event *Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, conn := range h.connections {
		if !conn.Active {
			continue
		}
		select {
		case conn.Events <- event:
		default:
			h.dropped++
		}
	}
}

// CloseConnection closes a WebSocket connection
func (h *Hub) CloseConnection(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conn, ok := h.connections[connID]; ok {
		conn.Active = false
		close(conn.Events)
		delete(h.connections, connID)
	}
}

// Count returns the number of registered connections
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.connections)
}

// GetConnectionStats returns statistics about connections
func (h *Hub) GetConnectionStats() map[string]interface{} {
	h.mu.RLock()
	defer h.mu.RUnlock()

	active := 0
	for _, conn := range h.connections {
		if conn.Active {
			active++
		}
	}
	return map[string]interface{}{
		"total_connections":  len(h.connections),
		"active_connections": active,
		"dropped_events":     h.dropped,
	}
}

// CleanupInactiveConnections removes connections idle for longer than maxIdle
func (h *Hub) CleanupInactiveConnections(maxIdle time.Duration) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := time.Now()
	removed := 0
	for id, conn := range h.connections {
		if !conn.Active || now.Sub(conn.LastSeen) > maxIdle {
			conn.Active = false
			close(conn.Events)
			delete(h.connections, id)
			removed++
		}
	}
	return removed
}

// StartCleanupRoutine runs CleanupInactiveConnections until ctx is done
func (h *Hub) StartCleanupRoutine(ctx context.Context, interval, maxIdle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.CleanupInactiveConnections(maxIdle)
		}
	}
}
