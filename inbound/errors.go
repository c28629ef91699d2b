package inbound

import (
	"errors"
	"fmt"
)

var ErrDestroyed = errors.New("inbound: adapter destroyed")

// ListenerExecutionFailedError wraps a handler failure. The adapter keeps
// running; the message is left to broker redelivery.
type ListenerExecutionFailedError struct {
	Destination string
	MessageID   string
	Err         error
}

func (e *ListenerExecutionFailedError) Error() string {
	return fmt.Sprintf("inbound: listener failed for message %s from %s: %v", e.MessageID, e.Destination, e.Err)
}

func (e *ListenerExecutionFailedError) Unwrap() error { return e.Err }
