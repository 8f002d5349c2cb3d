package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/mapgen/internal/common"
	"github.com/ternarybob/mapgen/internal/interfaces"
	"github.com/ternarybob/mapgen/internal/models"
	"github.com/ternarybob/mapgen/internal/relay"
)

type wireMessage struct {
	Type    string      `json:"type"`
	Content interface{} `json:"content"`
}

func newMonitorServer(t *testing.T) (*relay.Registry, string) {
	t.Helper()
	logger := arbor.NewLogger()
	registry := relay.NewRegistry(logger)
	handler := NewMonitorHandler(registry, &common.RelayConfig{PollInterval: 20 * time.Millisecond, PingTimeout: 5 * time.Second}, logger)

	server := httptest.NewServer(http.HandlerFunc(handler.HandleWebSocket))
	t.Cleanup(server.Close)

	return registry, "ws" + strings.TrimPrefix(server.URL, "http")
}

func dialMonitor(t *testing.T, url string) (*websocket.Conn, string) {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var hello wireMessage
	require.NoError(t, conn.ReadJSON(&hello))
	require.Equal(t, relay.TypeSocketID, hello.Type)

	id, ok := hello.Content.(string)
	require.True(t, ok)
	return conn, id
}

func TestMonitor_AssignsChannelAndRelaysStatus(t *testing.T) {
	registry, url := newMonitorServer(t)
	conn, id := dialMonitor(t, url)

	assert.True(t, common.IsHexToken(id))
	assert.Equal(t, 1, registry.Len())

	require.NoError(t, registry.Send(models.StatusUpdate{
		RequestID: "r1",
		ChannelID: id,
		Stage:     models.StageDownloadingHillshade,
		Status:    models.NewProgressStatus("Downloading hillshade files...", 25),
	}))
	require.NoError(t, registry.Send(models.StatusUpdate{RequestID: "r1", ChannelID: id, Stage: models.StageComplete}))

	var progress wireMessage
	require.NoError(t, conn.ReadJSON(&progress))
	assert.Equal(t, relay.TypeStatus, progress.Type)
	content, ok := progress.Content.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "Downloading hillshade files...", content["status"])
	assert.EqualValues(t, 25, content["progress"])

	var done wireMessage
	require.NoError(t, conn.ReadJSON(&done))
	assert.Equal(t, relay.TypeStatus, done.Type)
	assert.Equal(t, relay.ContentComplete, done.Content)
}

func TestMonitor_PingPong(t *testing.T) {
	_, url := newMonitorServer(t)
	conn, _ := dialMonitor(t, url)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("PING")))

	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "PONG", string(data))
}

func TestMonitor_DisconnectClosesChannel(t *testing.T) {
	registry, url := newMonitorServer(t)
	conn, id := dialMonitor(t, url)
	require.Equal(t, 1, registry.Len())

	require.NoError(t, conn.Close())

	assert.Eventually(t, func() bool { return registry.Len() == 0 }, 5*time.Second, 10*time.Millisecond)
	assert.ErrorIs(t, registry.Publish(id, relay.Message{Type: relay.TypeStatus, Content: "late"}), interfaces.ErrChannelNotFound)

	// Late updates for the closed channel are dropped quietly
	assert.NoError(t, registry.Send(models.StatusUpdate{RequestID: "r1", ChannelID: id, Stage: models.StageSaving}))
}

func TestMonitor_ConnectionsAreIndependent(t *testing.T) {
	registry, url := newMonitorServer(t)
	connA, idA := dialMonitor(t, url)
	_, idB := dialMonitor(t, url)
	assert.NotEqual(t, idA, idB)
	assert.Equal(t, 2, registry.Len())

	require.NoError(t, registry.Send(models.StatusUpdate{RequestID: "r1", ChannelID: idA, Stage: models.StageFailed}))

	var msg wireMessage
	require.NoError(t, connA.ReadJSON(&msg))
	assert.Equal(t, relay.TypeError, msg.Type)
	assert.Equal(t, relay.ContentError, msg.Content)
}
