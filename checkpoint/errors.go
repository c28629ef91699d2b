package checkpoint

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnsupportedOperation = errors.New("checkpoint: operation not supported")
	ErrPartitionNotOwned    = errors.New("checkpoint: partition not owned")
	ErrLockNotHeld          = errors.New("checkpoint: lock not held")
)

// UnsupportedOperationError is returned when a broker family has no
// primitive for the requested checkpoint granularity.
type UnsupportedOperationError struct {
	Broker string
	Op     string
}

func (e *UnsupportedOperationError) Error() string {
	return fmt.Sprintf("checkpoint: %s is not supported for %s", e.Op, e.Broker)
}

func (e *UnsupportedOperationError) Is(target error) bool {
	return target == ErrUnsupportedOperation
}

// Error is a checkpoint the broker rejected or failed.
type Error struct {
	Destination string
	PartitionID string
	MessageID   string
	LockToken   string
	Err         error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("checkpoint ")
	b.WriteString(e.Destination)
	if e.PartitionID != "" {
		b.WriteString(" partition=")
		b.WriteString(e.PartitionID)
	}
	if e.MessageID != "" {
		b.WriteString(" message=")
		b.WriteString(e.MessageID)
	}
	if e.LockToken != "" {
		b.WriteString(" lock=")
		b.WriteString(e.LockToken)
	}
	b.WriteString(": ")
	b.WriteString(e.Err.Error())
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }
