// -----------------------------------------------------------------------
// Monitor WebSocket - live job status for the map client
// -----------------------------------------------------------------------

package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/mapgen/internal/common"
	"github.com/ternarybob/mapgen/internal/relay"
)

const (
	pingMessage  = "PING"
	pongMessage  = "PONG"
	writeTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // The map client may be served from another origin
	},
}

// MonitorHandler gives each connection its own relay channel. The first
// message carries the channel id, which the client posts as socketID.
type MonitorHandler struct {
	registry *relay.Registry
	config   *common.RelayConfig
	logger   arbor.ILogger
}

func NewMonitorHandler(registry *relay.Registry, config *common.RelayConfig, logger arbor.ILogger) *MonitorHandler {
	return &MonitorHandler{
		registry: registry,
		config:   config,
		logger:   logger,
	}
}

// monitorConn serialises writes; the forwarder and the reader both write
type monitorConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *monitorConn) write(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(messageType, data)
}

func (c *monitorConn) writeJSON(m relay.Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return c.write(websocket.TextMessage, data)
}

// HandleWebSocket handles GET /monitor/
func (h *MonitorHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	ch := h.registry.Open()
	mc := &monitorConn{conn: conn}
	logger := h.logger.WithCorrelationId(ch.ID())

	ctx, cancel := context.WithCancel(context.Background())
	forwarderDone := make(chan struct{})

	defer func() {
		cancel()
		h.registry.Close(ch.ID())
		conn.Close()
		<-forwarderDone
		logger.Debug().Int("open_channels", h.registry.Len()).Msg("Monitor client disconnected")
	}()

	if err := mc.writeJSON(relay.SocketIDMessage(ch.ID())); err != nil {
		logger.Warn().Err(err).Msg("Failed to send socket id")
		close(forwarderDone)
		return
	}

	common.SafeGo(logger, "monitorForward", func() {
		defer close(forwarderDone)
		h.forward(ctx, ch, mc, logger)
	})

	h.extendDeadline(conn)
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug().Err(err).Msg("WebSocket read ended")
			}
			return
		}
		h.extendDeadline(conn)

		if messageType == websocket.TextMessage && strings.TrimSpace(string(data)) == pingMessage {
			if err := mc.write(websocket.TextMessage, []byte(pongMessage)); err != nil {
				logger.Debug().Err(err).Msg("Failed to answer ping")
				return
			}
		}
	}
}

// forward writes channel messages to the client until the channel or connection ends
func (h *MonitorHandler) forward(ctx context.Context, ch *relay.Channel, mc *monitorConn, logger arbor.ILogger) {
	for {
		m, err := ch.Next(ctx, h.pollInterval())
		if err != nil {
			return
		}
		if err := mc.writeJSON(m); err != nil {
			logger.Debug().Err(err).Str("type", m.Type).Msg("Failed to write to monitor client")
			// Unblocks the reader so the handler cleans up
			mc.conn.Close()
			return
		}
	}
}

func (h *MonitorHandler) pollInterval() time.Duration {
	if h.config != nil && h.config.PollInterval > 0 {
		return h.config.PollInterval
	}
	return 250 * time.Millisecond
}

// extendDeadline drops clients that stop pinging
func (h *MonitorHandler) extendDeadline(conn *websocket.Conn) {
	if h.config != nil && h.config.PingTimeout > 0 {
		conn.SetReadDeadline(time.Now().Add(h.config.PingTimeout))
	}
}
