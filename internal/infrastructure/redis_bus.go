package infrastructure

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/quantfidential/trading-ecosystem/metrics-gateway-go/internal/domain/ports"
)

// RedisClient interface for mocking
type RedisClient interface {
	Ping(ctx context.Context) *redis.StatusCmd
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Subscribe(ctx context.Context, channels ...string) *redis.PubSub
	Close() error
}

// Compile-time check that RedisBus implements PubSub
var _ ports.PubSub = (*RedisBus)(nil)

// RedisBus carries broadcasts and provider requests over Redis PUBLISH /
// SUBSCRIBE, so any process connected to the same Redis can publish metric
// updates or answer metrics requests.
type RedisBus struct {
	redisClient RedisClient
	logger      *logrus.Logger
	bufferSize  int
}

// NewRedisBus connects to redisURL. The connection is lazy; call Ping to
// find out whether Redis is actually reachable.
func NewRedisBus(redisURL string, logger *logrus.Logger) (*RedisBus, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewRedisBusWithClient(redis.NewClient(opt), logger), nil
}

func NewRedisBusWithClient(client RedisClient, logger *logrus.Logger) *RedisBus {
	return &RedisBus{
		redisClient: client,
		logger:      logger,
		bufferSize:  defaultSubscriptionBuffer,
	}
}

func (b *RedisBus) Publish(ctx context.Context, channel string, body []byte) (int64, error) {
	receivers, err := b.redisClient.Publish(ctx, channel, body).Result()
	if err != nil {
		return 0, fmt.Errorf("publish to %s: %w", channel, err)
	}
	return receivers, nil
}

// Subscribe waits for Redis to confirm the subscription before returning, so
// a failure here means no message will ever be delivered.
func (b *RedisBus) Subscribe(ctx context.Context, channel string) (ports.Subscription, error) {
	pubsub := b.redisClient.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe to %s: %w", channel, err)
	}

	s := &redisSubscription{
		pubsub:   pubsub,
		channel:  channel,
		messages: make(chan ports.Message, b.bufferSize),
		done:     make(chan struct{}),
		logger:   b.logger,
	}
	go s.pump(pubsub.Channel())

	b.logger.WithField("channel", channel).Debug("Redis subscription opened")
	return s, nil
}

func (b *RedisBus) Ping(ctx context.Context) error {
	return b.redisClient.Ping(ctx).Err()
}

func (b *RedisBus) Close() error {
	return b.redisClient.Close()
}

type redisSubscription struct {
	pubsub   *redis.PubSub
	channel  string
	messages chan ports.Message
	done     chan struct{}
	once     sync.Once
	logger   *logrus.Logger
}

func (s *redisSubscription) pump(in <-chan *redis.Message) {
	for {
		select {
		case <-s.done:
			return
		case m, ok := <-in:
			if !ok {
				return
			}
			select {
			case s.messages <- ports.Message{Channel: m.Channel, Body: []byte(m.Payload)}:
			case <-s.done:
				return
			}
		}
	}
}

func (s *redisSubscription) Channel() string                { return s.channel }
func (s *redisSubscription) Messages() <-chan ports.Message { return s.messages }
func (s *redisSubscription) Done() <-chan struct{}          { return s.done }

func (s *redisSubscription) Unsubscribe() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.pubsub.Close()
		s.logger.WithField("channel", s.channel).Debug("Redis subscription released")
	})
	return err
}

func (s *redisSubscription) Released() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}
