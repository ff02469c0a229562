package broadcaster

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/01121922383osama/BackendSurvival/internal/models"
)

func setupHub(t *testing.T) (*Hub, *httptest.Server, string) {
	hub := NewHub(zap.NewNop())
	server := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	t.Cleanup(server.Close)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	return hub, server, wsURL
}

func dialObserver(t *testing.T, wsURL string) *websocket.Conn {
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func testEvent(deviceID string) models.BroadcastEvent {
	return models.BroadcastEvent{
		Type:     "device_update",
		DeviceID: deviceID,
		Data: map[string]interface{}{
			"hasAlert":    true,
			"isConnected": true,
		},
		Timestamp: time.Now(),
	}
}

func TestHub_BroadcastReachesAllObservers(t *testing.T) {
	hub, _, wsURL := setupHub(t)

	conn1 := dialObserver(t, wsURL)
	conn2 := dialObserver(t, wsURL)

	require.Eventually(t, func() bool {
		return hub.ObserverCount() == 2
	}, time.Second, time.Millisecond)

	hub.Broadcast(testEvent("ABC123"))

	for _, conn := range []*websocket.Conn{conn1, conn2} {
		conn.SetReadDeadline(time.Now().Add(time.Second))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)

		var event map[string]interface{}
		require.NoError(t, json.Unmarshal(data, &event))
		assert.Equal(t, "device_update", event["type"])
		assert.Equal(t, "ABC123", event["deviceId"])

		payload := event["data"].(map[string]interface{})
		assert.Equal(t, true, payload["hasAlert"])
	}
}

func TestHub_EventsDeliveredInOrderPerObserver(t *testing.T) {
	hub, _, wsURL := setupHub(t)
	conn := dialObserver(t, wsURL)

	require.Eventually(t, func() bool {
		return hub.ObserverCount() == 1
	}, time.Second, time.Millisecond)

	hub.Broadcast(testEvent("DEV1"))
	hub.Broadcast(testEvent("DEV2"))
	hub.Broadcast(testEvent("DEV3"))

	var got []string
	for i := 0; i < 3; i++ {
		conn.SetReadDeadline(time.Now().Add(time.Second))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)

		var event map[string]interface{}
		require.NoError(t, json.Unmarshal(data, &event))
		got = append(got, event["deviceId"].(string))
	}

	assert.Equal(t, []string{"DEV1", "DEV2", "DEV3"}, got)
}

func TestHub_ClosedObserverIsRemoved(t *testing.T) {
	hub, _, wsURL := setupHub(t)

	conn1 := dialObserver(t, wsURL)
	conn2 := dialObserver(t, wsURL)

	require.Eventually(t, func() bool {
		return hub.ObserverCount() == 2
	}, time.Second, time.Millisecond)

	conn1.Close()

	// readPump 感知关闭后将其移除，不影响其余观察者
	require.Eventually(t, func() bool {
		return hub.ObserverCount() == 1
	}, time.Second, time.Millisecond)

	hub.Broadcast(testEvent("ABC123"))

	conn2.SetReadDeadline(time.Now().Add(time.Second))
	_, data, err := conn2.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(data), "ABC123")
}

func TestHub_NoObservers_BroadcastIsNoop(t *testing.T) {
	hub := NewHub(zap.NewNop())

	assert.NotPanics(t, func() {
		hub.Broadcast(testEvent("ABC123"))
	})
	assert.Equal(t, 0, hub.ObserverCount())
}
