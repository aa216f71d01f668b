package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/quantfidential/trading-ecosystem/metrics-gateway-go/internal/infrastructure"
)

// ProviderError reports that the metrics provider could not answer a query.
// Message is meant for the HTTP caller and is returned as is.
type ProviderError struct {
	Action  string
	Message string
	Err     error
}

func (e *ProviderError) Error() string {
	return e.Message
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

func newProviderError(action string, timeout time.Duration, err error) *ProviderError {
	var remote *infrastructure.RemoteError
	var message string
	switch {
	case errors.As(err, &remote):
		message = remote.Message
	case errors.Is(err, context.DeadlineExceeded):
		message = fmt.Sprintf("timed out after %s waiting for metrics provider (action %q)", timeout, action)
	default:
		message = err.Error()
	}
	return &ProviderError{Action: action, Message: message, Err: err}
}
