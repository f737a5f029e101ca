package websocket

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub_BroadcastAndClose(t *testing.T) {
	hub := NewHub()
	a := hub.CreateConnection("a")
	b := hub.CreateConnection("b")

	hub.BroadcastEvent(&Event{Type: "ban_issued"})
	assert.Equal(t, "ban_issued", (<-a.Events).Type)
	assert.Equal(t, "ban_issued", (<-b.Events).Type)

	hub.CloseConnection(a.ID)
	_, open := <-a.Events
	assert.False(t, open)
	assert.Equal(t, 1, hub.Count())

	assert.Equal(t, 1, hub.CleanupInactiveConnections(-time.Second))
	assert.Zero(t, hub.Count())
}

func TestHub_SlowConsumerDropsEvents(t *testing.T) {
	hub := NewHub()
	hub.CreateConnection("slow")

	for i := 0; i < 150; i++ {
		hub.BroadcastEvent(&Event{Type: "x"})
	}
	assert.Equal(t, int64(50), hub.GetConnectionStats()["dropped_events"])
}

func TestHandler_StreamsEvents(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(NewHandler(hub))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var hello Event
	require.NoError(t, conn.ReadJSON(&hello))
	assert.Equal(t, "connection_established", hello.Type)
	require.Equal(t, 1, hub.Count())

	hub.BroadcastEvent(&Event{Type: "execution", Data: map[string]interface{}{"userId": "42"}})

	var got Event
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, "execution", got.Type)
	assert.Equal(t, "42", got.Data["userId"])
}
