package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/FlooooowY/SteelMount-Script-Shield/internal/domain"
	"github.com/FlooooowY/SteelMount-Script-Shield/internal/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingChannel struct {
	mu     sync.Mutex
	events []domain.Event
	err    error
}

func (c *recordingChannel) Send(ctx context.Context, e domain.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	return c.err
}

func (c *recordingChannel) GetName() string { return "recording" }

type blockingChannel struct{}

func (blockingChannel) Send(ctx context.Context, e domain.Event) error {
	<-ctx.Done()
	return ctx.Err()
}

func (blockingChannel) GetName() string { return "blocking" }

func TestDispatcher_FansOut(t *testing.T) {
	d := NewDispatcher(time.Second)
	a, b := &recordingChannel{}, &recordingChannel{err: errors.New("down")}
	d.AddChannel(a)
	d.AddChannel(b)

	d.Emit(domain.Event{Type: domain.EventExecution})
	d.Emit(domain.Event{Type: domain.EventBanIssued})
	require.NoError(t, d.Wait(context.Background()))

	assert.Len(t, a.events, 2)
	assert.Len(t, b.events, 2)
	assert.False(t, a.events[0].Timestamp.IsZero())

	stats := d.GetStats()
	assert.Equal(t, int64(2), stats["total_events"])
	assert.Equal(t, int64(2), stats["failures"].(map[string]int64)["recording"])
}

func TestDispatcher_SendTimeout(t *testing.T) {
	d := NewDispatcher(50 * time.Millisecond)
	d.AddChannel(blockingChannel{})

	start := time.Now()
	d.Emit(domain.Event{Type: domain.EventServerStart})
	assert.Less(t, time.Since(start), 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, d.Wait(ctx))
}

func TestDiscordChannel_Send(t *testing.T) {
	var got discordMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	ch := NewDiscordChannel(srv.URL, nil)
	err := ch.Send(context.Background(), domain.Event{
		Type:      domain.EventBanIssued,
		Identity:  domain.Identity{IdentityID: "42", DeviceID: "hw"},
		BanID:     "ABCD",
		Actor:     "Admin",
		Timestamp: time.Unix(1_700_000_000, 0),
	})
	require.NoError(t, err)

	require.Len(t, got.Embeds, 1)
	assert.Equal(t, "User Banned", got.Embeds[0].Title)
	assert.Contains(t, got.Embeds[0].Fields, discordField{Name: "Ban ID", Value: "ABCD", Inline: true})
}

func TestDiscordChannel_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := NewDiscordChannel(srv.URL, nil).Send(context.Background(), domain.Event{Type: domain.EventExecution})
	assert.Error(t, err)
}

func TestWebsocketChannel_Send(t *testing.T) {
	hub := websocket.NewHub()
	conn := hub.CreateConnection("admin")

	ch := NewWebsocketChannel(hub)
	require.NoError(t, ch.Send(context.Background(), domain.Event{Type: domain.EventSuspiciousActivity, ToolName: "Dex"}))

	ev := <-conn.Events
	assert.Equal(t, "suspicious_activity", ev.Type)
	assert.Equal(t, "Dex", ev.Data["tool"])
}
