package infrastructure

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/quantfidential/trading-ecosystem/metrics-gateway-go/internal/domain/ports"
)

// ErrBusClosed is returned by operations on a bus after Close.
var ErrBusClosed = errors.New("message bus closed")

const defaultSubscriptionBuffer = 256

// Compile-time check that MemoryBus implements PubSub
var _ ports.PubSub = (*MemoryBus)(nil)

// MemoryBus is an in-process PubSub. It backs single-instance deployments
// and tests, and is the fallback when Redis is unreachable.
type MemoryBus struct {
	logger     *logrus.Logger
	bufferSize int

	mu     sync.RWMutex
	subs   map[string]map[*memorySubscription]struct{}
	closed bool
}

func NewMemoryBus(logger *logrus.Logger) *MemoryBus {
	return &MemoryBus{
		logger:     logger,
		bufferSize: defaultSubscriptionBuffer,
		subs:       make(map[string]map[*memorySubscription]struct{}),
	}
}

// Publish delivers body to every live subscriber of channel, blocking while a
// subscriber's buffer is full.
func (b *MemoryBus) Publish(ctx context.Context, channel string, body []byte) (int64, error) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return 0, ErrBusClosed
	}
	targets := make([]*memorySubscription, 0, len(b.subs[channel]))
	for s := range b.subs[channel] {
		targets = append(targets, s)
	}
	b.mu.RUnlock()

	payload := make([]byte, len(body))
	copy(payload, body)
	msg := ports.Message{Channel: channel, Body: payload}

	var delivered int64
	for _, s := range targets {
		select {
		case <-s.done:
			continue
		default:
		}

		select {
		case s.messages <- msg:
			delivered++
		case <-s.done:
		case <-ctx.Done():
			return delivered, ctx.Err()
		}
	}
	return delivered, nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, channel string) (ports.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBusClosed
	}

	s := &memorySubscription{
		bus:      b,
		channel:  channel,
		messages: make(chan ports.Message, b.bufferSize),
		done:     make(chan struct{}),
	}
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[*memorySubscription]struct{})
	}
	b.subs[channel][s] = struct{}{}

	b.logger.WithField("channel", channel).Debug("Memory bus subscription opened")
	return s, nil
}

// Subscribers returns the number of live subscriptions on channel.
func (b *MemoryBus) Subscribers(channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[channel])
}

func (b *MemoryBus) Ping(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBusClosed
	}
	return ctx.Err()
}

// Close releases every open subscription.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	var all []*memorySubscription
	for _, set := range b.subs {
		for s := range set {
			all = append(all, s)
		}
	}
	b.mu.Unlock()

	for _, s := range all {
		s.Unsubscribe()
	}
	return nil
}

func (b *MemoryBus) remove(s *memorySubscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	set := b.subs[s.channel]
	delete(set, s)
	if len(set) == 0 {
		delete(b.subs, s.channel)
	}
}

type memorySubscription struct {
	bus      *MemoryBus
	channel  string
	messages chan ports.Message
	done     chan struct{}
	once     sync.Once
}

func (s *memorySubscription) Channel() string                { return s.channel }
func (s *memorySubscription) Messages() <-chan ports.Message { return s.messages }
func (s *memorySubscription) Done() <-chan struct{}          { return s.done }

func (s *memorySubscription) Unsubscribe() error {
	s.once.Do(func() {
		close(s.done)
		s.bus.remove(s)
		s.bus.logger.WithField("channel", s.channel).Debug("Memory bus subscription released")
	})
	return nil
}

func (s *memorySubscription) Released() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}
