package services

import (
	"context"
	"encoding/json"

	"github.com/sirupsen/logrus"

	"github.com/quantfidential/trading-ecosystem/metrics-gateway-go/internal/domain/model"
)

// ExtractFields lists every top-level member of obj except the reserved
// status field, in member order, under the given source name. obj is not
// modified.
func ExtractFields(obj *model.Object, source string) model.FieldList {
	names := make([]string, 0, obj.Len())
	for _, name := range obj.Names() {
		if name == model.StatusField {
			continue
		}
		names = append(names, name)
	}
	return model.FieldList{Source: source, Names: names}
}

// MetricsService answers the gateway's metrics API from the provider.
type MetricsService struct {
	querier MetricsQuerier
	logger  *logrus.Logger
}

func NewMetricsService(querier MetricsQuerier, logger *logrus.Logger) *MetricsService {
	return &MetricsService{
		querier: querier,
		logger:  logger,
	}
}

// Sources queries meters and histograms concurrently and returns
// {"meters": [...], "histograms": [...]} once both have answered. The first
// failure is returned straight away; the other query keeps running on its own
// and its result is dropped.
func (s *MetricsService) Sources(ctx context.Context) (*model.Object, error) {
	// Not tied to the caller: a slow query must outlive an early return.
	queryCtx := context.WithoutCancel(ctx)

	meters := s.querier.QueryAsync(queryCtx, model.MetersRequest)
	histograms := s.querier.QueryAsync(queryCtx, model.HistogramsRequest)

	var meterFields, histogramFields *model.FieldList
	for meterFields == nil || histogramFields == nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case r := <-meters:
			if r.Err != nil {
				return nil, r.Err
			}
			fields := ExtractFields(r.Response, model.ActionMeters)
			meterFields = &fields
			meters = nil
		case r := <-histograms:
			if r.Err != nil {
				return nil, r.Err
			}
			fields := ExtractFields(r.Response, model.ActionHistograms)
			histogramFields = &fields
			histograms = nil
		}
	}

	return meterFields.Object().Merge(histogramFields.Object()), nil
}

// Metric returns the member name of the provider response for metricType.
// A missing member is reported with ok == false and no error.
func (s *MetricsService) Metric(ctx context.Context, metricType, name string) (value json.RawMessage, ok bool, err error) {
	response, err := s.querier.Query(ctx, model.NewMetricsRequest(metricType))
	if err != nil {
		return nil, false, err
	}

	// status is never a metric
	if name != model.StatusField {
		value, ok = response.Get(name)
	}
	if !ok {
		s.logger.WithFields(logrus.Fields{
			"type": metricType,
			"name": name,
		}).Debug("Metric not present in provider response")
	}
	return value, ok, nil
}
