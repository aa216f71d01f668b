//go:build unit

package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"reflect"
	"testing"
	"time"

	"github.com/quantfidential/trading-ecosystem/metrics-gateway-go/internal/domain/model"
	"github.com/quantfidential/trading-ecosystem/metrics-gateway-go/internal/infrastructure"
)

func TestExtractFields(t *testing.T) {
	t.Run("lists_every_field_except_status", func(t *testing.T) {
		obj, _ := model.ParseObject([]byte(`{"requests":{"count":1},"status":"ok","errors":{"count":0}}`))

		list := ExtractFields(obj, "meters")

		if list.Source != "meters" {
			t.Errorf("Expected source meters, got %s", list.Source)
		}
		if !reflect.DeepEqual(list.Names, []string{"requests", "errors"}) {
			t.Errorf("Expected [requests errors], got %v", list.Names)
		}
	})

	t.Run("status_only_yields_empty_list", func(t *testing.T) {
		obj, _ := model.ParseObject([]byte(`{"status":"ok"}`))

		list := ExtractFields(obj, "histograms")

		if list.Names == nil || len(list.Names) != 0 {
			t.Errorf("Expected empty non-nil list, got %#v", list.Names)
		}
		data, _ := json.Marshal(list.Object())
		if string(data) != `{"histograms":[]}` {
			t.Errorf("Expected empty array encoding, got %s", data)
		}
	})

	t.Run("does_not_modify_input", func(t *testing.T) {
		obj, _ := model.ParseObject([]byte(`{"status":"ok","a":1}`))
		before, _ := json.Marshal(obj)

		ExtractFields(obj, "meters")

		after, _ := json.Marshal(obj)
		if string(before) != string(after) {
			t.Errorf("Input changed from %s to %s", before, after)
		}
	})

	t.Run("holds_for_random_objects", func(t *testing.T) {
		rng := rand.New(rand.NewSource(42))
		for i := 0; i < 200; i++ {
			// Given: A random object, sometimes with a status field
			obj := model.NewObject(0)
			want := map[string]bool{}
			n := rng.Intn(12)
			for j := 0; j < n; j++ {
				name := fmt.Sprintf("metric-%d", rng.Intn(20))
				obj.Set(name, json.RawMessage(`1`))
				want[name] = true
			}
			if rng.Intn(2) == 0 {
				obj.Set(model.StatusField, json.RawMessage(`"ok"`))
			}

			// When: Extracting fields
			list := ExtractFields(obj, "meters")

			// Then: Every non-status key appears exactly once, status never
			seen := map[string]int{}
			for _, name := range list.Names {
				seen[name]++
			}
			if seen[model.StatusField] != 0 {
				t.Fatalf("status must never be listed: %v", list.Names)
			}
			for name := range want {
				if seen[name] != 1 {
					t.Fatalf("Expected %s exactly once, got %d in %v", name, seen[name], list.Names)
				}
			}
			if len(list.Names) != len(want) {
				t.Fatalf("Expected %d names, got %v", len(want), list.Names)
			}
		}
	})
}

func newSourcesFixture() (*fakeRequester, *MetricsService) {
	requester := newFakeRequester()
	requester.reply("meters", `{"status":"ok","requests":{"count":3},"errors":{"count":1}}`, nil)
	requester.reply("histograms", `{"latency":{"count":9},"status":"ok"}`, nil)
	client := NewMetricsQueryClient(requester, "metrics", 2*time.Second, newTestMetrics(), newTestLogger())
	return requester, NewMetricsService(client, newTestLogger())
}

func runSources(service *MetricsService) <-chan QueryResult {
	done := make(chan QueryResult, 1)
	go func() {
		obj, err := service.Sources(context.Background())
		done <- QueryResult{Response: obj, Err: err}
	}()
	return done
}

func TestMetricsService_Sources(t *testing.T) {
	const want = `{"meters":["requests","errors"],"histograms":["latency"]}`

	for _, order := range [][]string{{"meters", "histograms"}, {"histograms", "meters"}} {
		order := order
		t.Run(fmt.Sprintf("merges_when_%s_arrives_first", order[0]), func(t *testing.T) {
			// Given: Both provider queries held back
			requester, service := newSourcesFixture()
			gates := map[string]chan struct{}{
				"meters":     requester.gate("meters"),
				"histograms": requester.gate("histograms"),
			}

			// When: Sources runs and the replies are released in order
			done := runSources(service)
			waitFor(t, "both queries in flight", func() bool { return requester.callCount() == 2 })
			close(gates[order[0]])
			time.Sleep(20 * time.Millisecond)
			close(gates[order[1]])

			// Then: The merged output is the same for either order
			select {
			case r := <-done:
				if r.Err != nil {
					t.Fatalf("Expected no error, got %v", r.Err)
				}
				data, _ := json.Marshal(r.Response)
				if string(data) != want {
					t.Errorf("Expected %s, got %s", want, data)
				}
			case <-time.After(2 * time.Second):
				t.Fatal("Timed out waiting for Sources")
			}
		})
	}

	t.Run("fails_with_first_error_without_waiting", func(t *testing.T) {
		// Given: meters fails at once, histograms is still pending
		requester, service := newSourcesFixture()
		requester.reply("meters", "", &infrastructure.RemoteError{Message: "meters registry unavailable"})
		histogramsGate := requester.gate("histograms")

		// When: Sources runs
		done := runSources(service)

		// Then: It fails with the meters error before histograms answers
		select {
		case r := <-done:
			var providerErr *ProviderError
			if !errors.As(r.Err, &providerErr) {
				t.Fatalf("Expected ProviderError, got %v", r.Err)
			}
			if r.Err.Error() != "meters registry unavailable" {
				t.Errorf("Expected meters error, got %q", r.Err.Error())
			}
		case <-time.After(time.Second):
			t.Fatal("Sources waited for the pending query")
		}

		// And: The late histograms result is dropped without blocking or panicking
		close(histogramsGate)
		waitFor(t, "late query to finish", func() bool { return requester.completedCount() == 2 })
	})

	t.Run("late_failure_after_reported_failure_is_ignored", func(t *testing.T) {
		requester, service := newSourcesFixture()
		requester.reply("histograms", "", errors.New("histograms exploded"))
		requester.reply("meters", "", errors.New("meters exploded"))
		metersGate := requester.gate("meters")

		done := runSources(service)

		r := <-done
		if r.Err == nil || r.Err.Error() != "histograms exploded" {
			t.Fatalf("Expected histograms error, got %v", r.Err)
		}

		close(metersGate)
		waitFor(t, "late query to finish", func() bool { return requester.completedCount() == 2 })
	})

	t.Run("dispatches_both_queries_before_either_resolves", func(t *testing.T) {
		requester, service := newSourcesFixture()
		metersGate := requester.gate("meters")
		histogramsGate := requester.gate("histograms")

		done := runSources(service)

		waitFor(t, "both queries in flight", func() bool { return requester.callCount() == 2 })
		close(metersGate)
		close(histogramsGate)
		if r := <-done; r.Err != nil {
			t.Fatalf("Expected no error, got %v", r.Err)
		}
	})

	t.Run("empty_sources_produce_empty_arrays", func(t *testing.T) {
		requester, service := newSourcesFixture()
		requester.reply("meters", `{"status":"ok"}`, nil)
		requester.reply("histograms", `{"status":"ok"}`, nil)

		r := <-runSources(service)
		if r.Err != nil {
			t.Fatalf("Expected no error, got %v", r.Err)
		}
		data, _ := json.Marshal(r.Response)
		if string(data) != `{"meters":[],"histograms":[]}` {
			t.Errorf("Unexpected output %s", data)
		}
	})
}

func TestMetricsService_Metric(t *testing.T) {
	newService := func() (*fakeRequester, *MetricsService) {
		requester := newFakeRequester()
		requester.reply("histograms", `{"status":"ok","latency":{"count":9,"sum":1.5}}`, nil)
		client := NewMetricsQueryClient(requester, "metrics", time.Second, newTestMetrics(), newTestLogger())
		return requester, NewMetricsService(client, newTestLogger())
	}

	t.Run("returns_value_at_name", func(t *testing.T) {
		_, service := newService()

		value, ok, err := service.Metric(context.Background(), "histograms", "latency")

		if err != nil || !ok {
			t.Fatalf("Expected value, got ok=%v err=%v", ok, err)
		}
		if string(value) != `{"count":9,"sum":1.5}` {
			t.Errorf("Unexpected value %s", value)
		}
	})

	t.Run("missing_name_is_absent_not_error", func(t *testing.T) {
		_, service := newService()

		value, ok, err := service.Metric(context.Background(), "histograms", "x")

		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if ok || value != nil {
			t.Errorf("Expected absence, got ok=%v value=%s", ok, value)
		}
	})

	t.Run("status_is_never_a_metric", func(t *testing.T) {
		_, service := newService()

		_, ok, err := service.Metric(context.Background(), "histograms", "status")

		if err != nil || ok {
			t.Errorf("Expected status to be absent, got ok=%v err=%v", ok, err)
		}
	})

	t.Run("provider_failure_is_error", func(t *testing.T) {
		requester, service := newService()
		requester.reply("gauges", "", &infrastructure.RemoteError{Message: "gauges unavailable"})

		_, _, err := service.Metric(context.Background(), "gauges", "heap")

		var providerErr *ProviderError
		if !errors.As(err, &providerErr) {
			t.Fatalf("Expected ProviderError, got %v", err)
		}
	})
}
