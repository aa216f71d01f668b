package infrastructure

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/quantfidential/trading-ecosystem/metrics-gateway-go/internal/domain/ports"
)

// ErrNoHandlers is returned when nothing is subscribed to a request address.
var ErrNoHandlers = errors.New("no handlers")

// RemoteError carries the failure message a responder sent back.
type RemoteError struct {
	Address string
	Message string
}

func (e *RemoteError) Error() string {
	return e.Message
}

// HandlerFunc answers one request body with a reply body.
type HandlerFunc func(ctx context.Context, body []byte) ([]byte, error)

type requestEnvelope struct {
	ID      string          `json:"id"`
	ReplyTo string          `json:"reply_to"`
	Body    json.RawMessage `json:"body"`
}

type replyEnvelope struct {
	ID    string          `json:"id"`
	Body  json.RawMessage `json:"body,omitempty"`
	Error string          `json:"error,omitempty"`
}

// Compile-time check that RequestReply implements Requester
var _ ports.Requester = (*RequestReply)(nil)

// RequestReply layers point-to-point request/reply on a PubSub. Each request
// opens a private reply channel "<address>.reply.<uuid>" for the duration of
// the call.
type RequestReply struct {
	bus    ports.PubSub
	logger *logrus.Logger
}

func NewRequestReply(bus ports.PubSub, logger *logrus.Logger) *RequestReply {
	return &RequestReply{
		bus:    bus,
		logger: logger,
	}
}

// Request publishes body to address and waits for the first reply or for ctx
// to end. body must be valid JSON.
func (r *RequestReply) Request(ctx context.Context, address string, body []byte) ([]byte, error) {
	id := uuid.NewString()
	replyTo := fmt.Sprintf("%s.reply.%s", address, id)

	sub, err := r.bus.Subscribe(ctx, replyTo)
	if err != nil {
		return nil, fmt.Errorf("open reply channel: %w", err)
	}
	defer sub.Unsubscribe()

	payload, err := json.Marshal(requestEnvelope{ID: id, ReplyTo: replyTo, Body: body})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	receivers, err := r.bus.Publish(ctx, address, payload)
	if err != nil {
		return nil, err
	}
	if receivers == 0 {
		return nil, fmt.Errorf("%w for address %s", ErrNoHandlers, address)
	}

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case msg := <-sub.Messages():
			var reply replyEnvelope
			if err := json.Unmarshal(msg.Body, &reply); err != nil {
				return nil, fmt.Errorf("decode reply: %w", err)
			}
			if reply.ID != id {
				continue
			}
			if reply.Error != "" {
				return nil, &RemoteError{Address: address, Message: reply.Error}
			}
			return reply.Body, nil
		}
	}
}

// Serve answers requests published on address with handler until the returned
// subscription is released or ctx ends. Each request is handled on its own
// goroutine.
func (r *RequestReply) Serve(ctx context.Context, address string, handler HandlerFunc) (ports.Subscription, error) {
	sub, err := r.bus.Subscribe(ctx, address)
	if err != nil {
		return nil, err
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				sub.Unsubscribe()
				return
			case <-sub.Done():
				return
			case msg := <-sub.Messages():
				var req requestEnvelope
				if err := json.Unmarshal(msg.Body, &req); err != nil || req.ReplyTo == "" {
					r.logger.WithField("address", address).Warn("Dropping malformed request")
					continue
				}
				go r.reply(ctx, address, req, handler)
			}
		}
	}()

	r.logger.WithField("address", address).Info("Serving requests")
	return sub, nil
}

func (r *RequestReply) reply(ctx context.Context, address string, req requestEnvelope, handler HandlerFunc) {
	reply := replyEnvelope{ID: req.ID}

	body, err := handler(ctx, req.Body)
	if err != nil {
		reply.Error = err.Error()
	} else {
		reply.Body = body
	}

	payload, err := json.Marshal(reply)
	if err != nil {
		r.logger.WithError(err).WithField("address", address).Error("Failed to encode reply")
		return
	}

	if _, err := r.bus.Publish(ctx, req.ReplyTo, payload); err != nil {
		r.logger.WithError(err).WithFields(logrus.Fields{
			"address":  address,
			"reply_to": req.ReplyTo,
		}).Warn("Failed to publish reply")
	}
}
