package observability

import (
	"net/http"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/quantfidential/trading-ecosystem/metrics-gateway-go/internal/domain/ports"
)

// Compile-time check that PrometheusMetricsAdapter implements MetricsPort
var _ ports.MetricsPort = (*PrometheusMetricsAdapter)(nil)

var helpText = map[string]string{
	ports.MetricHTTPRequests:        "Total HTTP requests handled by the gateway.",
	ports.MetricHTTPRequestDuration: "HTTP request duration in seconds.",
	ports.MetricHTTPRequestErrors:   "HTTP requests answered with a 4xx or 5xx status.",
	ports.MetricProviderQueries:     "Metrics provider queries by action and outcome.",
	ports.MetricProviderDuration:    "Metrics provider query duration in seconds.",
	ports.MetricStreamsActive:       "Currently open stream bridges.",
	ports.MetricStreamsOpened:       "Stream bridges opened or refused, by outcome.",
	ports.MetricStreamFrames:        "Text frames forwarded to stream clients.",
	ports.MetricBusReady:            "Whether a dependency answered its last health check (1) or not (0).",
	ports.MetricGRPCRequests:        "Unary gRPC requests by method and status code.",
	ports.MetricGRPCRequestDuration: "Unary gRPC request duration in seconds.",
}

// PrometheusMetricsAdapter implements the MetricsPort using Prometheus client library.
// Its registry doubles as the metrics source the embedded provider serves.
type PrometheusMetricsAdapter struct {
	registry *prometheus.Registry

	// Metric collectors (lazy-initialized)
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
	gauges     map[string]*prometheus.GaugeVec

	mu sync.RWMutex

	// Constant labels applied to all metrics
	constantLabels map[string]string
}

// NewPrometheusMetricsAdapter creates a new Prometheus metrics adapter
// constantLabels: labels applied to all metrics (service, instance, version)
func NewPrometheusMetricsAdapter(constantLabels map[string]string) *PrometheusMetricsAdapter {
	registry := prometheus.NewRegistry()

	// Register default Go runtime metrics
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return &PrometheusMetricsAdapter{
		registry:       registry,
		counters:       make(map[string]*prometheus.CounterVec),
		histograms:     make(map[string]*prometheus.HistogramVec),
		gauges:         make(map[string]*prometheus.GaugeVec),
		constantLabels: constantLabels,
	}
}

// Registry exposes the underlying registry, e.g. as a prometheus.Gatherer.
func (a *PrometheusMetricsAdapter) Registry() *prometheus.Registry {
	return a.registry
}

func (a *PrometheusMetricsAdapter) IncCounter(name string, labels map[string]string) {
	a.counterVec(name, labels).With(a.variableLabels(labels)).Inc()
}

func (a *PrometheusMetricsAdapter) ObserveHistogram(name string, value float64, labels map[string]string) {
	a.histogramVec(name, labels).With(a.variableLabels(labels)).Observe(value)
}

func (a *PrometheusMetricsAdapter) SetGauge(name string, value float64, labels map[string]string) {
	a.gaugeVec(name, labels).With(a.variableLabels(labels)).Set(value)
}

func (a *PrometheusMetricsAdapter) AddGauge(name string, delta float64, labels map[string]string) {
	a.gaugeVec(name, labels).With(a.variableLabels(labels)).Add(delta)
}

// GetHTTPHandler returns the Prometheus HTTP handler for /metrics endpoint
func (a *PrometheusMetricsAdapter) GetHTTPHandler() http.Handler {
	return promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

func (a *PrometheusMetricsAdapter) counterVec(name string, labels map[string]string) *prometheus.CounterVec {
	a.mu.RLock()
	counter, exists := a.counters[name]
	a.mu.RUnlock()
	if exists {
		return counter
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	// Double-check after acquiring write lock
	if counter, exists := a.counters[name]; exists {
		return counter
	}

	counter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        name,
			Help:        help(name),
			ConstLabels: prometheus.Labels(a.constantLabels),
		},
		a.labelNames(labels),
	)
	a.registry.MustRegister(counter)
	a.counters[name] = counter
	return counter
}

func (a *PrometheusMetricsAdapter) histogramVec(name string, labels map[string]string) *prometheus.HistogramVec {
	a.mu.RLock()
	histogram, exists := a.histograms[name]
	a.mu.RUnlock()
	if exists {
		return histogram
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if histogram, exists := a.histograms[name]; exists {
		return histogram
	}

	// Buckets: 5ms, 10ms, 25ms, 50ms, 100ms, 250ms, 500ms, 1s, 2.5s, 5s, 10s
	histogram = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:        name,
			Help:        help(name),
			ConstLabels: prometheus.Labels(a.constantLabels),
			Buckets:     []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		a.labelNames(labels),
	)
	a.registry.MustRegister(histogram)
	a.histograms[name] = histogram
	return histogram
}

func (a *PrometheusMetricsAdapter) gaugeVec(name string, labels map[string]string) *prometheus.GaugeVec {
	a.mu.RLock()
	gauge, exists := a.gauges[name]
	a.mu.RUnlock()
	if exists {
		return gauge
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if gauge, exists := a.gauges[name]; exists {
		return gauge
	}

	gauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name:        name,
			Help:        help(name),
			ConstLabels: prometheus.Labels(a.constantLabels),
		},
		a.labelNames(labels),
	)
	a.registry.MustRegister(gauge)
	a.gauges[name] = gauge
	return gauge
}

func help(name string) string {
	if text, ok := helpText[name]; ok {
		return text
	}
	return name
}

// labelNames returns the sorted variable label names, skipping any that are
// already constant labels.
func (a *PrometheusMetricsAdapter) labelNames(labels map[string]string) []string {
	names := make([]string, 0, len(labels))
	for key := range labels {
		if _, constant := a.constantLabels[key]; constant {
			continue
		}
		names = append(names, key)
	}
	sort.Strings(names)
	return names
}

func (a *PrometheusMetricsAdapter) variableLabels(labels map[string]string) prometheus.Labels {
	out := make(prometheus.Labels, len(labels))
	for key, value := range labels {
		if _, constant := a.constantLabels[key]; constant {
			continue
		}
		out[key] = value
	}
	return out
}
