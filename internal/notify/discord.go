package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/FlooooowY/SteelMount-Script-Shield/internal/domain"
)

// Embed colors
const (
	colorGreen  = 0x2ecc71
	colorOrange = 0xe67e22
	colorRed    = 0xe74c3c
	colorBlue   = 0x3498db
)

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordEmbed struct {
	Title     string         `json:"title"`
	Color     int            `json:"color"`
	Fields    []discordField `json:"fields,omitempty"`
	Timestamp string         `json:"timestamp"`
}

type discordMessage struct {
	Username string         `json:"username"`
	Embeds   []discordEmbed `json:"embeds"`
}

// DiscordChannel posts events to a Discord-style webhook
type DiscordChannel struct {
	url    string
	client *http.Client
}

// NewDiscordChannel creates a webhook channel
func NewDiscordChannel(url string, client *http.Client) *DiscordChannel {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &DiscordChannel{url: url, client: client}
}

// GetName implements Channel
func (c *DiscordChannel) GetName() string {
	return "discord"
}

// Send implements Channel
func (c *DiscordChannel) Send(ctx context.Context, event domain.Event) error {
	body, err := json.Marshal(discordMessage{
		Username: "Script Shield",
		Embeds:   []discordEmbed{buildEmbed(event)},
	})
	if err != nil {
		return fmt.Errorf("failed to encode webhook: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post webhook: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func buildEmbed(e domain.Event) discordEmbed {
	embed := discordEmbed{Timestamp: e.Timestamp.UTC().Format(time.RFC3339)}

	switch e.Type {
	case domain.EventExecution:
		embed.Title, embed.Color = "Script Executed", colorGreen
	case domain.EventSuspiciousActivity:
		embed.Title, embed.Color = "Suspicious Activity", colorOrange
	case domain.EventBanIssued:
		embed.Title, embed.Color = "User Banned", colorRed
	case domain.EventServerStart:
		embed.Title, embed.Color = "Server Started", colorBlue
	default:
		embed.Title, embed.Color = string(e.Type), colorBlue
	}

	add := func(name, value string) {
		if value != "" {
			embed.Fields = append(embed.Fields, discordField{Name: name, Value: value, Inline: true})
		}
	}
	add("User ID", e.Identity.IdentityID)
	add("HWID", e.Identity.DeviceID)
	add("Place ID", e.Identity.PlaceContext)
	add("IP", e.Identity.NetworkAddress)
	add("Executor", e.Executor)
	add("Tool", e.ToolName)
	add("Reason", e.Reason)
	add("Ban ID", e.BanID)
	add("By", e.Actor)
	return embed
}
