package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/quantfidential/trading-ecosystem/metrics-gateway-go/internal/domain/model"
	"github.com/quantfidential/trading-ecosystem/metrics-gateway-go/internal/domain/ports"
)

// MetricsReader is what the metrics API needs from the service layer.
type MetricsReader interface {
	Sources(ctx context.Context) (*model.Object, error)
	Metric(ctx context.Context, metricType, name string) (json.RawMessage, bool, error)
}

// MetricsHandler serves the provider-backed metrics API and the gateway's own
// Prometheus endpoint. Provider failures are answered with 500 and the bare
// error message as body.
type MetricsHandler struct {
	reader      MetricsReader
	metricsPort ports.MetricsPort
	logger      *logrus.Logger
}

func NewMetricsHandler(reader MetricsReader, metricsPort ports.MetricsPort, logger *logrus.Logger) *MetricsHandler {
	return &MetricsHandler{
		reader:      reader,
		metricsPort: metricsPort,
		logger:      logger,
	}
}

// Sources answers GET /api/metrics/sources with
// {"meters": [...], "histograms": [...]}.
func (h *MetricsHandler) Sources(c *gin.Context) {
	sources, err := h.reader.Sources(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	h.respondJSON(c, sources)
}

// Metric answers GET /api/metrics/:type/:name with the named member of the
// provider response, or null when it is absent.
func (h *MetricsHandler) Metric(c *gin.Context) {
	metricType := c.Param("type")
	name := c.Param("name")

	value, ok, err := h.reader.Metric(c.Request.Context(), metricType, name)
	if err != nil {
		h.fail(c, err)
		return
	}
	if !ok {
		value = json.RawMessage("null")
	}
	c.Data(http.StatusOK, "application/json", value)
}

// Prometheus serves the gateway's own metrics in the format the adapter chooses.
func (h *MetricsHandler) Prometheus(c *gin.Context) {
	h.metricsPort.GetHTTPHandler().ServeHTTP(c.Writer, c.Request)
}

func (h *MetricsHandler) respondJSON(c *gin.Context, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json", body)
}

func (h *MetricsHandler) fail(c *gin.Context, err error) {
	h.logger.WithError(err).WithField("path", c.Request.URL.Path).Error("Metrics request failed")
	_ = c.Error(err)
	c.String(http.StatusInternalServerError, err.Error())
}
