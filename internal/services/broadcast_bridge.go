package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/quantfidential/trading-ecosystem/metrics-gateway-go/internal/domain/ports"
)

// StreamPrefix is the path prefix of every stream endpoint.
const StreamPrefix = "/streams"

var errBridgeClosed = errors.New("broadcast bridge closed")

// BroadcastChannelName maps a stream path onto its pub/sub channel:
// "/streams/jvm/gc" with base "metrics.broadcast" is "metrics.broadcast.jvm.gc".
func BroadcastChannelName(baseAddress, path string) string {
	return baseAddress + strings.ReplaceAll(strings.TrimPrefix(path, StreamPrefix), "/", ".")
}

// TextSocket is the client side of a stream.
type TextSocket interface {
	WriteText(data []byte) error
	Close() error
}

// BroadcastBridge forwards every message published on one channel to one
// socket as a text frame. It owns the subscription and releases it exactly
// once, on Close.
type BroadcastBridge struct {
	id      string
	channel string
	sub     ports.Subscription
	metrics ports.MetricsPort
	logger  *logrus.Logger

	mu     sync.Mutex
	socket TextSocket
	closed bool

	closeOnce sync.Once
	closeErr  error
	done      chan struct{}
}

// OpenBroadcastBridge subscribes to the channel derived from path. Nothing
// is forwarded until Stream attaches a socket. An error means no subscription
// was opened.
func OpenBroadcastBridge(
	ctx context.Context,
	subscriber ports.Subscriber,
	baseAddress string,
	path string,
	metrics ports.MetricsPort,
	logger *logrus.Logger,
) (*BroadcastBridge, error) {
	channel := BroadcastChannelName(baseAddress, path)

	sub, err := subscriber.Subscribe(ctx, channel)
	if err != nil {
		return nil, fmt.Errorf("open broadcast bridge on %s: %w", channel, err)
	}

	b := &BroadcastBridge{
		id:      uuid.NewString(),
		channel: channel,
		sub:     sub,
		metrics: metrics,
		logger:  logger,
		done:    make(chan struct{}),
	}

	logger.WithFields(logrus.Fields{
		"stream_id": b.id,
		"channel":   channel,
	}).Info("Broadcast bridge opened")

	return b, nil
}

func (b *BroadcastBridge) ID() string      { return b.id }
func (b *BroadcastBridge) Channel() string { return b.channel }

// Done is closed when the bridge has been closed.
func (b *BroadcastBridge) Done() <-chan struct{} { return b.done }

// Released reports whether the subscription has been released.
func (b *BroadcastBridge) Released() bool { return b.sub.Released() }

// Stream attaches socket and starts forwarding on a new goroutine.
func (b *BroadcastBridge) Stream(socket TextSocket) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return errBridgeClosed
	}
	if b.socket != nil {
		return errors.New("broadcast bridge already streaming")
	}
	b.socket = socket

	go b.forward()
	return nil
}

func (b *BroadcastBridge) forward() {
	for {
		select {
		case <-b.done:
			return
		case msg := <-b.sub.Messages():
			if err := b.write(msg.Body); err != nil {
				if !errors.Is(err, errBridgeClosed) {
					b.logger.WithError(err).WithField("stream_id", b.id).Warn("Failed to write stream frame")
				}
				b.Close()
				return
			}
		}
	}
}

func (b *BroadcastBridge) write(body []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return errBridgeClosed
	}
	if err := b.socket.WriteText(body); err != nil {
		return err
	}
	b.metrics.IncCounter(ports.MetricStreamFrames, nil)
	return nil
}

// Close releases the subscription and closes the socket. Once Close returns
// no further frame is written. Calling Close again is a no-op.
func (b *BroadcastBridge) Close() error {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.closed = true
		socket := b.socket
		b.mu.Unlock()

		close(b.done)
		b.closeErr = b.sub.Unsubscribe()
		if socket != nil {
			_ = socket.Close()
		}

		b.logger.WithFields(logrus.Fields{
			"stream_id": b.id,
			"channel":   b.channel,
		}).Info("Broadcast bridge closed")
	})
	return b.closeErr
}
