package ports

import "net/http"

// MetricsPort records the gateway's own operational metrics. It is unrelated
// to the provider metrics the gateway serves; it is what /metrics exposes.
type MetricsPort interface {
	// IncCounter increments a counter metric
	// labels: key-value pairs (e.g., {"method": "GET", "route": "/api/metrics/sources", "code": "200"})
	IncCounter(name string, labels map[string]string)

	// AddGauge adds delta to a gauge metric (negative to decrease)
	AddGauge(name string, delta float64, labels map[string]string)

	// ObserveHistogram records a value in a histogram metric
	ObserveHistogram(name string, value float64, labels map[string]string)

	// SetGauge sets a gauge metric to a specific value
	SetGauge(name string, value float64, labels map[string]string)

	// GetHTTPHandler returns an http.Handler that serves the metrics endpoint
	GetHTTPHandler() http.Handler
}

// Gateway metric names.
const (
	MetricHTTPRequests        = "http_requests_total"
	MetricHTTPRequestDuration = "http_request_duration_seconds"
	MetricHTTPRequestErrors   = "http_request_errors_total"
	MetricProviderQueries     = "provider_queries_total"
	MetricProviderDuration    = "provider_query_duration_seconds"
	MetricStreamsActive       = "streams_active"
	MetricStreamsOpened       = "streams_opened_total"
	MetricStreamFrames        = "stream_frames_total"
	MetricBusReady            = "service_dependency_ready"
	MetricGRPCRequests        = "grpc_requests_total"
	MetricGRPCRequestDuration = "grpc_request_duration_seconds"
)

// MetricsLabels defines standard labels used across all metrics
// These should have LOW CARDINALITY to avoid metric explosion
type MetricsLabels struct {
	// Constant labels (set once at startup)
	Service  string
	Instance string
	Version  string
}

// ConstantLabels returns only the non-empty constant labels.
func (l *MetricsLabels) ConstantLabels() map[string]string {
	labels := make(map[string]string, 3)
	if l.Service != "" {
		labels["service"] = l.Service
	}
	if l.Instance != "" {
		labels["instance"] = l.Instance
	}
	if l.Version != "" {
		labels["version"] = l.Version
	}
	return labels
}
