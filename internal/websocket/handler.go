package websocket

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/FlooooowY/SteelMount-Script-Shield/internal/logger"
	"github.com/gorilla/websocket"
)

const (
	writeWait    = 10 * time.Second
	pingInterval = 30 * time.Second
)

// Handler upgrades HTTP requests to the live event feed
type Handler struct {
	hub      *Hub
	upgrader websocket.Upgrader
}

// NewHandler creates a feed handler. Authentication happens before it.
func NewHandler(hub *Hub) *Handler {
	return &Handler{
		hub: hub,
		upgrader: websocket.Upgrader{
			// admin key is already checked by the router
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// ServeHTTP implements http.Handler
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := logger.Component("websocket")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	wsConn := h.hub.CreateConnection(r.RemoteAddr)
	defer h.hub.CloseConnection(wsConn.ID)

	hello := &Event{
		ID:        fmt.Sprintf("conn_%d", time.Now().UnixNano()),
		Type:      "connection_established",
		Data:      map[string]interface{}{"connection_id": wsConn.ID},
		Timestamp: time.Now(),
	}
	if err := sendEvent(conn, hello); err != nil {
		log.WithError(err).Warn("Failed to send hello")
		return
	}

	done := make(chan struct{})

	// Client messages only keep the connection alive
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.WithError(err).Debug("WebSocket read error")
				}
				return
			}
			h.hub.Touch(wsConn.ID)
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-wsConn.Events:
			if !ok {
				return
			}
			if err := sendEvent(conn, event); err != nil {
				log.WithError(err).Debug("Failed to send event")
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func sendEvent(conn *websocket.Conn, event *Event) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}
