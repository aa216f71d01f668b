package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/quantfidential/trading-ecosystem/metrics-gateway-go/internal/domain/model"
	"github.com/quantfidential/trading-ecosystem/metrics-gateway-go/internal/domain/ports"
)

// QueryResult is the eventual outcome of QueryAsync.
type QueryResult struct {
	Response *model.Object
	Err      error
}

// MetricsQuerier asks the provider for one family of metrics.
type MetricsQuerier interface {
	Query(ctx context.Context, req model.MetricsRequest) (*model.Object, error)
	QueryAsync(ctx context.Context, req model.MetricsRequest) <-chan QueryResult
}

// MetricsQueryClient sends MetricsRequests to the provider address. It makes
// exactly one provider call per query and never retries.
type MetricsQueryClient struct {
	requester ports.Requester
	address   string
	timeout   time.Duration
	metrics   ports.MetricsPort
	logger    *logrus.Logger
}

func NewMetricsQueryClient(
	requester ports.Requester,
	address string,
	timeout time.Duration,
	metrics ports.MetricsPort,
	logger *logrus.Logger,
) *MetricsQueryClient {
	return &MetricsQueryClient{
		requester: requester,
		address:   address,
		timeout:   timeout,
		metrics:   metrics,
		logger:    logger,
	}
}

// Query blocks until the provider answers, the client timeout expires or ctx
// ends. Every failure is a *ProviderError.
func (c *MetricsQueryClient) Query(ctx context.Context, req model.MetricsRequest) (*model.Object, error) {
	if req.Action == "" {
		return nil, &ProviderError{Message: "metrics request action must not be empty"}
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(req)
	if err != nil {
		return nil, &ProviderError{Action: req.Action, Message: err.Error(), Err: err}
	}

	reply, err := c.requester.Request(ctx, c.address, body)
	if err != nil {
		c.record(req.Action, "error", start)
		return nil, newProviderError(req.Action, c.timeout, err)
	}

	response, err := model.ParseObject(reply)
	if err != nil {
		c.record(req.Action, "malformed", start)
		return nil, &ProviderError{
			Action:  req.Action,
			Message: fmt.Sprintf("malformed response from metrics provider for %q: %v", req.Action, err),
			Err:     err,
		}
	}

	c.record(req.Action, "ok", start)
	c.logger.WithFields(logrus.Fields{
		"action": req.Action,
		"fields": response.Len(),
	}).Debug("Metrics provider answered")

	return response, nil
}

// QueryAsync starts Query on its own goroutine. The returned channel is
// buffered and receives exactly one result, so it is safe to abandon.
func (c *MetricsQueryClient) QueryAsync(ctx context.Context, req model.MetricsRequest) <-chan QueryResult {
	result := make(chan QueryResult, 1)
	go func() {
		response, err := c.Query(ctx, req)
		result <- QueryResult{Response: response, Err: err}
	}()
	return result
}

func (c *MetricsQueryClient) record(action, outcome string, start time.Time) {
	// action comes from the request path; keep the label set bounded
	switch action {
	case model.ActionMeters, model.ActionHistograms, model.ActionGauges:
	default:
		action = "other"
	}
	labels := map[string]string{"action": action, "outcome": outcome}
	c.metrics.IncCounter(ports.MetricProviderQueries, labels)
	c.metrics.ObserveHistogram(ports.MetricProviderDuration, time.Since(start).Seconds(), map[string]string{"action": action})
}
