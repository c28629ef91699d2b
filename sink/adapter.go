// Package sink is the send side of a broker binding.
package sink

import (
	"context"
	"errors"

	"ackflow/destination"
	"ackflow/message"
)

var (
	// ErrTooLarge is returned by Batch.Add when the item does not fit.
	ErrTooLarge = errors.New("sink: message does not fit in batch")
	// ErrBatchNotSupported is returned by producers without a native batch.
	ErrBatchNotSupported = errors.New("sink: batch send not supported")
)

// PartitionHint targets a partition or session. Zero value means the
// broker chooses.
type PartitionHint struct {
	PartitionID  string
	PartitionKey string
	SessionID    string
}

func (h PartitionHint) IsZero() bool { return h == PartitionHint{} }

// HintFromMessage reads the partition headers of m.
func HintFromMessage(m *message.Message) PartitionHint {
	h := m.Headers()
	return PartitionHint{
		PartitionID:  h.String(message.HeaderPartitionID),
		PartitionKey: h.String(message.HeaderPartitionKey),
		SessionID:    h.String(message.HeaderSessionID),
	}
}

// Producer sends wire messages. Send returns once the broker acknowledged.
type Producer[W any] interface {
	Send(ctx context.Context, d destination.Destination, w W, hint PartitionHint) error
	Close(ctx context.Context) error
}

// Batcher is implemented by producers with a native batch envelope.
type Batcher[W any] interface {
	NewBatch(ctx context.Context, d destination.Destination, hint PartitionHint) (Batch[W], error)
}

// Batch is bounded by the broker's maximum batch size.
type Batch[W any] interface {
	Add(w W) error
	Len() int
	MaxBytes() int64
	Send(ctx context.Context) error
}
