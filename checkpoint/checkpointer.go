// Package checkpoint tracks which delivered messages have been processed
// and acknowledges them back to the broker.
//
// Brokers fall into three families. Partitioned streams advance a cursor
// per partition (PartitionCheckpointer), lock-token queues complete each
// leased message (LockTokenCheckpointer), and plain queues have no
// checkpoint primitive at all (Unsupported). Every operation returns a
// *future.Future; unsupported operations return one that has already
// failed.
package checkpoint

import (
	"context"
	"fmt"

	"ackflow/future"
	"ackflow/message"
)

// Family is the checkpoint capability of a broker.
type Family int

const (
	Unsupported Family = iota
	PartitionCursor
	LockToken
)

func (f Family) String() string {
	switch f {
	case Unsupported:
		return "unsupported"
	case PartitionCursor:
		return "partition-cursor"
	case LockToken:
		return "lock-token"
	default:
		return fmt.Sprintf("Family(%d)", int(f))
	}
}

// Position is a cursor within one partition. Ref carries whatever the
// broker SDK needs to commit it.
type Position struct {
	Offset int64
	Ref    any
}

// Lock is the broker handle of one leased message.
type Lock struct {
	Token string
	Ref   any
}

// Checkpointer acknowledges delivered messages.
type Checkpointer interface {
	// Checkpoint acknowledges everything this checkpointer knows about.
	Checkpoint(ctx context.Context) *future.Future
	// CheckpointMessage acknowledges a single message.
	CheckpointMessage(ctx context.Context, m *message.Message) *future.Future
	Family() Family
}

// From returns the checkpointer the inbound adapter attached to m.
func From(m *message.Message) (Checkpointer, bool) {
	v, ok := m.Header(message.HeaderCheckpointer)
	if !ok {
		return nil, false
	}
	cp, ok := v.(Checkpointer)
	return cp, ok
}

// PositionOf reads the partition and position headers of m.
func PositionOf(m *message.Message) (string, Position, bool) {
	id := m.Headers().String(message.HeaderPartitionID)
	v, ok := m.Header(message.HeaderPosition)
	if id == "" || !ok {
		return "", Position{}, false
	}
	pos, ok := v.(Position)
	return id, pos, ok
}
