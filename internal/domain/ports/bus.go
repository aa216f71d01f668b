package ports

import "context"

// Message is one payload delivered on a pub/sub channel.
type Message struct {
	Channel string
	Body    []byte
}

// Subscription is a handle on one channel subscription. It is owned by
// whoever opened it and must be released exactly once; further calls to
// Unsubscribe are no-ops.
type Subscription interface {
	// Channel is the name the subscription was opened on.
	Channel() string

	// Messages delivers payloads in publish order. The channel is never
	// closed; stop reading once Unsubscribe has been called.
	Messages() <-chan Message

	// Done is closed once the subscription has been released.
	Done() <-chan struct{}

	// Unsubscribe releases the subscription. Safe to call more than once.
	Unsubscribe() error

	// Released reports whether Unsubscribe has run.
	Released() bool
}

// Subscriber opens subscriptions on named channels.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string) (Subscription, error)
}

// Publisher fans a payload out to every current subscriber of a channel and
// returns how many received it.
type Publisher interface {
	Publish(ctx context.Context, channel string, body []byte) (int64, error)
}

// PubSub is the publish/subscribe primitive shared by the gateway, the
// provider and the request/reply layer.
type PubSub interface {
	Publisher
	Subscriber

	// Ping checks that the backing transport is reachable.
	Ping(ctx context.Context) error

	Close() error
}

// Requester sends a request to an address and waits for a single reply.
type Requester interface {
	Request(ctx context.Context, address string, body []byte) ([]byte, error)
}
