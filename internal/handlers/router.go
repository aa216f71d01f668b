package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/quantfidential/trading-ecosystem/metrics-gateway-go/internal/domain/ports"
	"github.com/quantfidential/trading-ecosystem/metrics-gateway-go/internal/infrastructure/observability"
	"github.com/quantfidential/trading-ecosystem/metrics-gateway-go/internal/services"
)

// Router bundles the handlers the gateway routes to.
type Router struct {
	Health      *HealthHandler
	Metrics     *MetricsHandler
	Streams     *StreamHandler
	Static      *StaticHandler
	MetricsPort ports.MetricsPort
	Logger      *logrus.Logger
}

// Engine builds the gin engine:
//
//	GET /api/metrics/sources      merged meters and histograms field lists
//	GET /api/metrics/:type/:name  one metric from the provider
//	GET /streams/*path            WebSocket stream of a broadcast channel
//	GET /api/v1/health, /ready    liveness and readiness
//	GET /metrics                  gateway metrics
//
// Anything else is a static file.
func (r *Router) Engine() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(observability.REDMetricsMiddleware(r.MetricsPort))
	router.Use(observability.LoggingMiddleware(r.Logger))

	api := router.Group("/api/metrics")
	{
		api.GET("/sources", r.Metrics.Sources)
		api.GET("/:type/:name", r.Metrics.Metric)
	}

	router.GET(services.StreamPrefix+"/*path", r.Streams.Stream)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/health", r.Health.Health)
		v1.GET("/ready", r.Health.Ready)
	}

	router.GET("/metrics", r.Metrics.Prometheus)

	router.NoRoute(r.Static.Serve)

	return router
}
