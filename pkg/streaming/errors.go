package streaming

import (
	"errors"
	"fmt"
)

var (
	// ErrSubscriptionFailed indicates the physical subscription for a topic could not be opened.
	ErrSubscriptionFailed = errors.New("subscription failed")

	// ErrNotInitialized indicates the multiplexer was used before Initialize or after Dispose.
	ErrNotInitialized = errors.New("multiplexer not initialized")

	// ErrConnectionClosed indicates a frame was written to a closed connection.
	ErrConnectionClosed = errors.New("connection closed")
)

// SubscriptionError wraps a failed physical subscribe.
type SubscriptionError struct {
	Topic string
	Err   error
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("subscribe to topic %s failed: %v", e.Topic, e.Err)
}

func (e *SubscriptionError) Unwrap() error {
	return e.Err
}

// Is matches ErrSubscriptionFailed as well as the wrapped error.
func (e *SubscriptionError) Is(target error) bool {
	return target == ErrSubscriptionFailed || errors.Is(e.Err, target)
}

// IsSubscriptionError reports whether err is a failed physical subscribe.
func IsSubscriptionError(err error) bool {
	return errors.Is(err, ErrSubscriptionFailed)
}
