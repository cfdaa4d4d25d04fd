package wsfeed

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"scalpguard/internal/kv"
)

func TestHub_BroadcastsPositionOpenedEventToConnectedClient(t *testing.T) {
	hub := NewHub()
	bus := kv.NewBus()
	stop := make(chan struct{})
	defer close(stop)
	hub.Run(bus, stop)

	srv := httptest.NewServer(hub)
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// give the hub's register goroutine a moment to process registration
	time.Sleep(20 * time.Millisecond)
	bus.Publish(kv.ChannelPositionOpened, map[string]string{"ticket": "t-1"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	require.Equal(t, MsgPositionOpened, msg.Type)

	var payload map[string]string
	require.NoError(t, json.Unmarshal(msg.Data, &payload))
	require.Equal(t, "t-1", payload["ticket"])
}

func TestHub_DisconnectRemovesClientWithoutPanicking(t *testing.T) {
	hub := NewHub()
	bus := kv.NewBus()
	stop := make(chan struct{})
	defer close(stop)
	hub.Run(bus, stop)

	srv := httptest.NewServer(hub)
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	conn.Close()

	time.Sleep(20 * time.Millisecond)
	bus.Publish(kv.ChannelDropDetected, map[string]string{"level": "severe"})
}
