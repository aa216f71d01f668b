package model

import "encoding/json"

// StatusField is the reserved member every provider response carries. It is
// never a metric.
const StatusField = "status"

const (
	ActionMeters     = "meters"
	ActionHistograms = "histograms"
	ActionGauges     = "gauges"
)

// MetricsRequest asks the provider for one family of metrics.
type MetricsRequest struct {
	Action string `json:"action"`
}

var (
	MetersRequest     = MetricsRequest{Action: ActionMeters}
	HistogramsRequest = MetricsRequest{Action: ActionHistograms}
)

// NewMetricsRequest builds a request for a dynamic metric type.
func NewMetricsRequest(action string) MetricsRequest {
	return MetricsRequest{Action: action}
}

// FieldList is the ordered list of metric names reported by one source,
// keyed by the source name when encoded.
type FieldList struct {
	Source string
	Names  []string
}

// Object wraps the list as {"<source>": [names...]}.
func (l FieldList) Object() *Object {
	names := l.Names
	if names == nil {
		names = []string{}
	}
	raw, _ := json.Marshal(names)

	obj := NewObject(1)
	obj.Set(l.Source, raw)
	return obj
}
