package notify

import (
	"context"

	"github.com/FlooooowY/SteelMount-Script-Shield/internal/domain"
	"github.com/FlooooowY/SteelMount-Script-Shield/internal/websocket"
	"github.com/google/uuid"
)

// WebsocketChannel forwards events to the admin live feed
type WebsocketChannel struct {
	hub *websocket.Hub
}

// NewWebsocketChannel creates a channel over hub
func NewWebsocketChannel(hub *websocket.Hub) *WebsocketChannel {
	return &WebsocketChannel{hub: hub}
}

// GetName implements Channel
func (c *WebsocketChannel) GetName() string {
	return "websocket"
}

// Send implements Channel
func (c *WebsocketChannel) Send(ctx context.Context, event domain.Event) error {
	c.hub.BroadcastEvent(&websocket.Event{
		ID:   uuid.New().String(),
		Type: string(event.Type),
		Data: map[string]interface{}{
			"identity": event.Identity,
			"tool":     event.ToolName,
			"reason":   event.Reason,
			"banId":    event.BanID,
			"actor":    event.Actor,
			"executor": event.Executor,
		},
		Timestamp: event.Timestamp,
	})
	return nil
}
