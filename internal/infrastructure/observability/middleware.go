package observability

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/quantfidential/trading-ecosystem/metrics-gateway-go/internal/domain/ports"
)

// REDMetricsMiddleware creates Gin middleware for RED pattern metrics
// RED: Rate (http_requests_total), Errors (http_request_errors_total), Duration (http_request_duration_seconds)
//
// Labels: method, route, code (low cardinality). Requests that fall through
// to static files share the route "static", and stream upgrades are labelled
// by their route pattern.
func REDMetricsMiddleware(metricsPort ports.MetricsPort) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()

		labels := map[string]string{
			"method": c.Request.Method,
			"route":  routeLabel(c),
			"code":   strconv.Itoa(c.Writer.Status()),
		}

		metricsPort.IncCounter(ports.MetricHTTPRequests, labels)
		metricsPort.ObserveHistogram(ports.MetricHTTPRequestDuration, duration, labels)
		if c.Writer.Status() >= 400 {
			metricsPort.IncCounter(ports.MetricHTTPRequestErrors, labels)
		}
	}
}

func routeLabel(c *gin.Context) string {
	if route := c.FullPath(); route != "" {
		return route
	}
	if c.Request.Method == "GET" && !strings.HasPrefix(c.Request.URL.Path, "/api/") {
		return "static"
	}
	return "unknown"
}

// LoggingMiddleware logs one line per request with logrus.
func LoggingMiddleware(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		fields := logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"code":     c.Writer.Status(),
			"duration": time.Since(start),
		}
		if len(c.Errors) > 0 {
			fields["error"] = c.Errors.String()
		}

		entry := logger.WithFields(fields)
		switch {
		case c.Writer.Status() >= 500:
			entry.Warn("Request failed")
		default:
			entry.Debug("Request completed")
		}
	}
}
