//go:build unit

package handlers_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/quantfidential/trading-ecosystem/metrics-gateway-go/internal/domain/model"
	"github.com/quantfidential/trading-ecosystem/metrics-gateway-go/internal/services"
)

func get(gw *testGateway, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	gw.engine.ServeHTTP(w, req)
	return w
}

func TestMetricsHandler_Sources(t *testing.T) {
	t.Run("returns_merged_sources_as_json", func(t *testing.T) {
		// Given: A service that merged both sources
		sources, _ := model.ParseObject([]byte(`{"meters":["a","b"],"histograms":["c"]}`))
		gw := newTestGateway(&stubReader{sources: sources})

		// When: GET /api/metrics/sources
		w := get(gw, "/api/metrics/sources")

		// Then: 200 with the object in order
		if w.Code != http.StatusOK {
			t.Fatalf("Expected status 200, got %d", w.Code)
		}
		if ct := w.Header().Get("Content-Type"); ct != "application/json" {
			t.Errorf("Expected application/json, got %s", ct)
		}
		if body := w.Body.String(); body != `{"meters":["a","b"],"histograms":["c"]}` {
			t.Errorf("Unexpected body %s", body)
		}
	})

	t.Run("failure_is_500_with_bare_message", func(t *testing.T) {
		gw := newTestGateway(&stubReader{err: &services.ProviderError{Action: "meters", Message: "no handlers for address metrics"}})

		w := get(gw, "/api/metrics/sources")

		if w.Code != http.StatusInternalServerError {
			t.Fatalf("Expected status 500, got %d", w.Code)
		}
		if body := w.Body.String(); body != "no handlers for address metrics" {
			t.Errorf("Expected bare message, got %q", body)
		}
	})
}

func TestMetricsHandler_Metric(t *testing.T) {
	t.Run("returns_metric_value", func(t *testing.T) {
		// Given: A provider holding histograms.latency
		reader := &stubReader{value: json.RawMessage(`{"count":9}`), found: true}
		gw := newTestGateway(reader)

		// When: GET /api/metrics/histograms/latency
		w := get(gw, "/api/metrics/histograms/latency")

		// Then: The value is the body and the path parameters reached the service
		if w.Code != http.StatusOK {
			t.Fatalf("Expected status 200, got %d", w.Code)
		}
		if body := w.Body.String(); body != `{"count":9}` {
			t.Errorf("Unexpected body %s", body)
		}
		if reader.metricType != "histograms" || reader.name != "latency" {
			t.Errorf("Expected histograms/latency, got %s/%s", reader.metricType, reader.name)
		}
	})

	t.Run("absent_metric_is_null", func(t *testing.T) {
		gw := newTestGateway(&stubReader{found: false})

		w := get(gw, "/api/metrics/histograms/x")

		if w.Code != http.StatusOK {
			t.Fatalf("Expected status 200, got %d", w.Code)
		}
		if body := w.Body.String(); body != "null" {
			t.Errorf("Expected null, got %q", body)
		}
	})

	t.Run("provider_error_is_500", func(t *testing.T) {
		gw := newTestGateway(&stubReader{err: &services.ProviderError{Action: "timers", Message: `unknown metrics action "timers"`}})

		w := get(gw, "/api/metrics/timers/x")

		if w.Code != http.StatusInternalServerError {
			t.Fatalf("Expected status 500, got %d", w.Code)
		}
		if body := w.Body.String(); body != `unknown metrics action "timers"` {
			t.Errorf("Unexpected body %q", body)
		}
	})
}

func TestMetricsHandler_Prometheus(t *testing.T) {
	t.Run("exposes_prometheus_metrics_through_port", func(t *testing.T) {
		// Given: A gateway with the Prometheus adapter
		gw := newTestGateway(&stubReader{})

		// When: A GET request is made to /metrics
		w := get(gw, "/metrics")

		// Then: Runtime metrics in text format
		if w.Code != http.StatusOK {
			t.Fatalf("Expected status 200 OK, got %d", w.Code)
		}
		if ct := w.Header().Get("Content-Type"); !strings.Contains(ct, "text/plain") {
			t.Errorf("Expected Content-Type to contain 'text/plain', got '%s'", ct)
		}
		body := w.Body.String()
		for _, metric := range []string{"# HELP go_goroutines", "# TYPE go_goroutines gauge", "process_cpu_seconds_total"} {
			if !strings.Contains(body, metric) {
				t.Errorf("Expected response to contain '%s', but it was not found", metric)
			}
		}
	})

	t.Run("records_api_requests", func(t *testing.T) {
		sources, _ := model.ParseObject([]byte(`{"meters":[],"histograms":[]}`))
		gw := newTestGateway(&stubReader{sources: sources})

		get(gw, "/api/metrics/sources")
		w := get(gw, "/metrics")

		if !strings.Contains(w.Body.String(), `route="/api/metrics/sources"`) {
			t.Error("Expected RED metrics for the sources route")
		}
	})
}
