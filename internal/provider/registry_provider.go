package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/sirupsen/logrus"

	"github.com/quantfidential/trading-ecosystem/metrics-gateway-go/internal/domain/model"
	"github.com/quantfidential/trading-ecosystem/metrics-gateway-go/internal/domain/ports"
	"github.com/quantfidential/trading-ecosystem/metrics-gateway-go/internal/infrastructure"
)

// Actions lists every metrics action the provider answers, in snapshot order.
var Actions = []string{model.ActionMeters, model.ActionHistograms, model.ActionGauges}

// UnknownActionError is returned for a request whose action has no snapshot.
type UnknownActionError struct {
	Action string
}

func (e *UnknownActionError) Error() string {
	return fmt.Sprintf("unknown metrics action %q", e.Action)
}

// RegistryProvider answers MetricsRequests on the metrics address with
// snapshots of a Prometheus registry:
//   - meters: counters as {"count": n}
//   - histograms: histograms and summaries with count, sum and mean
//   - gauges: gauges and untyped metrics as {"value": v}
//
// Every snapshot carries "status": "ok".
type RegistryProvider struct {
	gatherer   prometheus.Gatherer
	server     *infrastructure.RequestReply
	address    string
	dropLabels map[string]bool
	logger     *logrus.Logger

	mu  sync.Mutex
	sub ports.Subscription
}

// NewRegistryProvider creates a provider over gatherer. Labels named in
// dropLabels (typically the constant service labels) are left out of metric
// names.
func NewRegistryProvider(
	gatherer prometheus.Gatherer,
	server *infrastructure.RequestReply,
	address string,
	dropLabels []string,
	logger *logrus.Logger,
) *RegistryProvider {
	drop := make(map[string]bool, len(dropLabels))
	for _, name := range dropLabels {
		drop[name] = true
	}
	return &RegistryProvider{
		gatherer:   gatherer,
		server:     server,
		address:    address,
		dropLabels: drop,
		logger:     logger,
	}
}

// Start begins answering requests on the metrics address until ctx ends or
// Stop is called.
func (p *RegistryProvider) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.sub != nil {
		return fmt.Errorf("metrics provider already serving %s", p.address)
	}

	sub, err := p.server.Serve(ctx, p.address, p.Handle)
	if err != nil {
		return fmt.Errorf("failed to start metrics provider: %w", err)
	}
	p.sub = sub

	p.logger.WithField("address", p.address).Info("Metrics provider started")
	return nil
}

func (p *RegistryProvider) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.sub == nil {
		return nil
	}
	err := p.sub.Unsubscribe()
	p.sub = nil

	p.logger.WithField("address", p.address).Info("Metrics provider stopped")
	return err
}

// Handle decodes one MetricsRequest and answers it with a snapshot.
func (p *RegistryProvider) Handle(ctx context.Context, body []byte) ([]byte, error) {
	var req model.MetricsRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("invalid metrics request: %w", err)
	}

	snapshot, err := p.Snapshot(req.Action)
	if err != nil {
		return nil, err
	}
	return json.Marshal(snapshot)
}

// Snapshot gathers the registry and returns the metrics for action, keyed by
// metric name.
func (p *RegistryProvider) Snapshot(action string) (*model.Object, error) {
	var include func(dto.MetricType) bool
	switch action {
	case model.ActionMeters:
		include = func(t dto.MetricType) bool { return t == dto.MetricType_COUNTER }
	case model.ActionHistograms:
		include = func(t dto.MetricType) bool {
			return t == dto.MetricType_HISTOGRAM || t == dto.MetricType_GAUGE_HISTOGRAM || t == dto.MetricType_SUMMARY
		}
	case model.ActionGauges:
		include = func(t dto.MetricType) bool { return t == dto.MetricType_GAUGE || t == dto.MetricType_UNTYPED }
	default:
		return nil, &UnknownActionError{Action: action}
	}

	families, err := p.gatherer.Gather()
	if err != nil && len(families) == 0 {
		return nil, fmt.Errorf("failed to gather metrics: %w", err)
	}
	if err != nil {
		// Gather returns what it could collect alongside the error
		p.logger.WithError(err).Warn("Partial metrics gather")
	}

	snapshot := model.NewObject(len(families) + 1)
	if err := snapshot.SetValue(model.StatusField, "ok"); err != nil {
		return nil, err
	}

	for _, mf := range families {
		if !include(mf.GetType()) {
			continue
		}
		for _, m := range mf.GetMetric() {
			if err := snapshot.SetValue(p.metricName(mf, m), metricValue(mf.GetType(), m)); err != nil {
				return nil, fmt.Errorf("failed to encode %s: %w", mf.GetName(), err)
			}
		}
	}
	return snapshot, nil
}

// metricName is the family name followed by the values of its variable
// labels, dot separated: http_requests_total.200.GET.api_metrics_sources.
// Names must fit a single path segment of /api/metrics/:type/:name and
// /streams/<type>/<name>, so label values never carry a slash.
func (p *RegistryProvider) metricName(mf *dto.MetricFamily, m *dto.Metric) string {
	parts := []string{mf.GetName()}
	for _, lp := range m.GetLabel() {
		if p.dropLabels[lp.GetName()] {
			continue
		}
		parts = append(parts, nameSegment(lp.GetValue()))
	}
	return strings.Join(parts, ".")
}

// nameSegment turns a label value into a slash free name segment.
func nameSegment(value string) string {
	value = strings.ReplaceAll(strings.Trim(value, "/"), "/", "_")
	if value == "" {
		return "_"
	}
	return value
}

func metricValue(t dto.MetricType, m *dto.Metric) map[string]any {
	switch t {
	case dto.MetricType_COUNTER:
		return map[string]any{"count": finite(m.GetCounter().GetValue())}

	case dto.MetricType_HISTOGRAM, dto.MetricType_GAUGE_HISTOGRAM:
		h := m.GetHistogram()
		count := h.GetSampleCount()
		if count == 0 && h.GetSampleCountFloat() > 0 {
			count = uint64(h.GetSampleCountFloat())
		}
		buckets := make(map[string]any, len(h.GetBucket()))
		for _, b := range h.GetBucket() {
			buckets[strconv.FormatFloat(b.GetUpperBound(), 'g', -1, 64)] = b.GetCumulativeCount()
		}
		return map[string]any{
			"count":   count,
			"sum":     finite(h.GetSampleSum()),
			"mean":    mean(h.GetSampleSum(), count),
			"buckets": buckets,
		}

	case dto.MetricType_SUMMARY:
		s := m.GetSummary()
		quantiles := make(map[string]any, len(s.GetQuantile()))
		for _, q := range s.GetQuantile() {
			quantiles[strconv.FormatFloat(q.GetQuantile(), 'g', -1, 64)] = finite(q.GetValue())
		}
		return map[string]any{
			"count":     s.GetSampleCount(),
			"sum":       finite(s.GetSampleSum()),
			"mean":      mean(s.GetSampleSum(), s.GetSampleCount()),
			"quantiles": quantiles,
		}

	case dto.MetricType_GAUGE:
		return map[string]any{"value": finite(m.GetGauge().GetValue())}

	default:
		return map[string]any{"value": finite(m.GetUntyped().GetValue())}
	}
}

func mean(sum float64, count uint64) any {
	if count == 0 {
		return 0.0
	}
	return finite(sum / float64(count))
}

// finite maps NaN and infinities, which JSON cannot carry, to null.
func finite(v float64) any {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return v
}
