package provider

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/quantfidential/trading-ecosystem/metrics-gateway-go/internal/domain/model"
	"github.com/quantfidential/trading-ecosystem/metrics-gateway-go/internal/domain/ports"
)

// Snapshotter produces the current metrics for one action.
type Snapshotter interface {
	Snapshot(action string) (*model.Object, error)
}

// Broadcaster periodically publishes provider snapshots so stream clients
// receive live updates. Each tick publishes the whole snapshot of an action
// on <base>.<action> and every metric on <base>.<action>.<name>.
type Broadcaster struct {
	source      Snapshotter
	publisher   ports.Publisher
	baseAddress string
	interval    time.Duration
	logger      *logrus.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
}

func NewBroadcaster(
	source Snapshotter,
	publisher ports.Publisher,
	baseAddress string,
	interval time.Duration,
	logger *logrus.Logger,
) *Broadcaster {
	return &Broadcaster{
		source:      source,
		publisher:   publisher,
		baseAddress: baseAddress,
		interval:    interval,
		logger:      logger,
	}
}

// Start runs the broadcast loop until ctx ends or Stop is called.
func (b *Broadcaster) Start(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cancel != nil {
		return
	}
	ctx, b.cancel = context.WithCancel(ctx)
	b.stopped = make(chan struct{})

	go b.loop(ctx, b.stopped)

	b.logger.WithFields(logrus.Fields{
		"base_address": b.baseAddress,
		"interval":     b.interval,
	}).Info("Metrics broadcaster started")
}

// Stop ends the loop and waits for an in-flight tick to finish.
func (b *Broadcaster) Stop() {
	b.mu.Lock()
	cancel, stopped := b.cancel, b.stopped
	b.cancel = nil
	b.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-stopped

	b.logger.Info("Metrics broadcaster stopped")
}

func (b *Broadcaster) loop(ctx context.Context, stopped chan struct{}) {
	defer close(stopped)

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := b.BroadcastOnce(ctx); err != nil && ctx.Err() == nil {
				b.logger.WithError(err).Warn("Metrics broadcast failed")
			}

		case <-ctx.Done():
			return
		}
	}
}

// BroadcastOnce publishes one round of snapshots and returns the number of
// messages published. It stops at the first failure.
func (b *Broadcaster) BroadcastOnce(ctx context.Context) (int, error) {
	published := 0
	for _, action := range Actions {
		snapshot, err := b.source.Snapshot(action)
		if err != nil {
			return published, err
		}

		base := b.baseAddress + "." + action
		body, err := json.Marshal(snapshot)
		if err != nil {
			return published, err
		}
		if _, err := b.publisher.Publish(ctx, base, body); err != nil {
			return published, err
		}
		published++

		for _, field := range snapshot.Fields() {
			if field.Name == model.StatusField {
				continue
			}
			if _, err := b.publisher.Publish(ctx, base+"."+field.Name, field.Value); err != nil {
				return published, err
			}
			published++
		}
	}

	b.logger.WithField("messages", published).Debug("Metrics broadcast published")
	return published, nil
}
