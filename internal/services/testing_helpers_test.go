//go:build unit

package services

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/quantfidential/trading-ecosystem/metrics-gateway-go/internal/domain/model"
	"github.com/quantfidential/trading-ecosystem/metrics-gateway-go/internal/infrastructure/observability"
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel) // Reduce noise in tests
	return logger
}

func newTestMetrics() *observability.PrometheusMetricsAdapter {
	return observability.NewPrometheusMetricsAdapter(map[string]string{"service": "metrics-gateway"})
}

type fakeReply struct {
	body string
	err  error
}

// fakeRequester answers by request action. An action with a gate blocks
// until the gate is closed.
type fakeRequester struct {
	mu        sync.Mutex
	replies   map[string]fakeReply
	gates     map[string]chan struct{}
	calls     []string
	completed int
}

func newFakeRequester() *fakeRequester {
	return &fakeRequester{
		replies: make(map[string]fakeReply),
		gates:   make(map[string]chan struct{}),
	}
}

func (f *fakeRequester) reply(action, body string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies[action] = fakeReply{body: body, err: err}
}

func (f *fakeRequester) gate(action string) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	g := make(chan struct{})
	f.gates[action] = g
	return g
}

func (f *fakeRequester) Request(ctx context.Context, address string, body []byte) ([]byte, error) {
	var req model.MetricsRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.calls = append(f.calls, req.Action)
	gate := f.gates[req.Action]
	reply := f.replies[req.Action]
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.completed++
		f.mu.Unlock()
	}()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if reply.err != nil {
		return nil, reply.err
	}
	return []byte(reply.body), nil
}

func (f *fakeRequester) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeRequester) completedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.completed
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
