package handlers

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/quantfidential/trading-ecosystem/metrics-gateway-go/internal/domain/ports"
	"github.com/quantfidential/trading-ecosystem/metrics-gateway-go/internal/services"
)

// StreamHandler upgrades /streams/... requests to WebSockets and bridges each
// one to its broadcast channel.
type StreamHandler struct {
	subscriber   ports.Subscriber
	baseAddress  string
	writeTimeout time.Duration
	upgrader     websocket.Upgrader
	metrics      ports.MetricsPort
	logger       *logrus.Logger

	mu      sync.Mutex
	bridges map[string]*services.BroadcastBridge
}

func NewStreamHandler(
	subscriber ports.Subscriber,
	baseAddress string,
	writeTimeout time.Duration,
	metrics ports.MetricsPort,
	logger *logrus.Logger,
) *StreamHandler {
	return &StreamHandler{
		subscriber:   subscriber,
		baseAddress:  baseAddress,
		writeTimeout: writeTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		metrics: metrics,
		logger:  logger,
		bridges: make(map[string]*services.BroadcastBridge),
	}
}

// Stream subscribes before upgrading, so a subscription failure is answered
// with a plain 500 and no socket is ever opened.
func (h *StreamHandler) Stream(c *gin.Context) {
	path := c.Request.URL.Path

	bridge, err := services.OpenBroadcastBridge(c.Request.Context(), h.subscriber, h.baseAddress, path, h.metrics, h.logger)
	if err != nil {
		h.metrics.IncCounter(ports.MetricStreamsOpened, map[string]string{"outcome": "refused"})
		h.logger.WithError(err).WithField("path", path).Error("Failed to open stream")
		_ = c.Error(err)
		c.String(http.StatusInternalServerError, err.Error())
		return
	}
	defer bridge.Close()

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already writes to the response
		h.metrics.IncCounter(ports.MetricStreamsOpened, map[string]string{"outcome": "upgrade_failed"})
		h.logger.WithError(err).WithField("path", path).Debug("WebSocket upgrade failed")
		return
	}

	socket := &wsSocket{conn: conn, writeTimeout: h.writeTimeout}
	if err := bridge.Stream(socket); err != nil {
		_ = conn.Close()
		return
	}

	h.track(bridge)
	defer h.untrack(bridge)

	h.metrics.IncCounter(ports.MetricStreamsOpened, map[string]string{"outcome": "ok"})
	h.metrics.AddGauge(ports.MetricStreamsActive, 1, nil)
	defer h.metrics.AddGauge(ports.MetricStreamsActive, -1, nil)

	h.logger.WithFields(logrus.Fields{
		"stream_id": bridge.ID(),
		"channel":   bridge.Channel(),
		"remote":    c.Request.RemoteAddr,
	}).Info("Stream connected")

	// Client frames are ignored; reading only detects the close.
	for {
		if _, _, err := conn.NextReader(); err != nil {
			break
		}
	}
}

// Active returns the number of connected streams.
func (h *StreamHandler) Active() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.bridges)
}

// Close disconnects every active stream. http.Server.Shutdown does not touch
// hijacked connections, so this is called alongside it.
func (h *StreamHandler) Close() {
	h.mu.Lock()
	bridges := make([]*services.BroadcastBridge, 0, len(h.bridges))
	for _, b := range h.bridges {
		bridges = append(bridges, b)
	}
	h.mu.Unlock()

	for _, b := range bridges {
		_ = b.Close()
	}
	if len(bridges) > 0 {
		h.logger.WithField("streams", len(bridges)).Info("Closed active streams")
	}
}

func (h *StreamHandler) track(b *services.BroadcastBridge) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.bridges[b.ID()] = b
}

func (h *StreamHandler) untrack(b *services.BroadcastBridge) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.bridges, b.ID())
}

// wsSocket adapts a gorilla connection to services.TextSocket.
type wsSocket struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
}

func (s *wsSocket) WriteText(data []byte) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *wsSocket) Close() error {
	_ = s.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(s.writeTimeout),
	)
	return s.conn.Close()
}
