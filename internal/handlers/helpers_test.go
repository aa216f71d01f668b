//go:build unit

package handlers_test

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"sync"
	"testing/fstest"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/quantfidential/trading-ecosystem/metrics-gateway-go/internal/domain/model"
	"github.com/quantfidential/trading-ecosystem/metrics-gateway-go/internal/handlers"
	"github.com/quantfidential/trading-ecosystem/metrics-gateway-go/internal/infrastructure"
	"github.com/quantfidential/trading-ecosystem/metrics-gateway-go/internal/infrastructure/observability"
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel) // Reduce noise in tests
	return logger
}

func newTestMetrics() *observability.PrometheusMetricsAdapter {
	return observability.NewPrometheusMetricsAdapter(map[string]string{
		"service":  "metrics-gateway",
		"instance": "metrics-gateway",
		"version":  "1.0.0",
	})
}

// stubReader returns canned service results.
type stubReader struct {
	sources *model.Object
	value   json.RawMessage
	found   bool
	err     error

	mu         sync.Mutex
	metricType string
	name       string
}

func (s *stubReader) Sources(ctx context.Context) (*model.Object, error) {
	return s.sources, s.err
}

func (s *stubReader) Metric(ctx context.Context, metricType, name string) (json.RawMessage, bool, error) {
	s.mu.Lock()
	s.metricType, s.name = metricType, name
	s.mu.Unlock()
	return s.value, s.found, s.err
}

// spyFS records every file opened through it.
type spyFS struct {
	fs.FS

	mu     sync.Mutex
	opened []string
}

func (s *spyFS) Open(name string) (fs.File, error) {
	s.mu.Lock()
	s.opened = append(s.opened, name)
	s.mu.Unlock()
	return s.FS.Open(name)
}

func (s *spyFS) openCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.opened)
}

func newWebFS() *spyFS {
	return &spyFS{FS: fstest.MapFS{
		"index.html":    {Data: []byte("<html>dashboard</html>")},
		"js/app.js":     {Data: []byte("console.log('app')")},
		"css/style.css": {Data: []byte("body{}")},
	}}
}

type downPinger struct{}

func (downPinger) Ping(ctx context.Context) error { return errors.New("redis: connection refused") }

type testGateway struct {
	bus     *infrastructure.MemoryBus
	reader  *stubReader
	files   *spyFS
	metrics *observability.PrometheusMetricsAdapter
	streams *handlers.StreamHandler
	engine  *gin.Engine
}

func newTestGateway(reader *stubReader) *testGateway {
	gin.SetMode(gin.TestMode)

	logger := newTestLogger()
	bus := infrastructure.NewMemoryBus(logger)
	metrics := newTestMetrics()
	files := newWebFS()
	streams := handlers.NewStreamHandler(bus, "metrics.broadcast", time.Second, metrics, logger)

	router := &handlers.Router{
		Health:      handlers.NewHealthHandler("metrics-gateway", "1.0.0", bus, logger),
		Metrics:     handlers.NewMetricsHandler(reader, metrics, logger),
		Streams:     streams,
		Static:      handlers.NewStaticHandler(files, logger),
		MetricsPort: metrics,
		Logger:      logger,
	}

	return &testGateway{
		bus:     bus,
		reader:  reader,
		files:   files,
		metrics: metrics,
		streams: streams,
		engine:  router.Engine(),
	}
}
