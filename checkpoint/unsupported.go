package checkpoint

import (
	"context"

	"ackflow/future"
	"ackflow/message"
)

// UnsupportedCheckpointer is the checkpointer of brokers without a
// checkpoint primitive. Both operations return a future that has already
// failed with an *UnsupportedOperationError.
type UnsupportedCheckpointer struct {
	Broker string
}

func (u UnsupportedCheckpointer) Family() Family { return Unsupported }

func (u UnsupportedCheckpointer) Checkpoint(context.Context) *future.Future {
	return future.Failed(&UnsupportedOperationError{Broker: u.Broker, Op: "checkpoint"})
}

func (u UnsupportedCheckpointer) CheckpointMessage(context.Context, *message.Message) *future.Future {
	return future.Failed(&UnsupportedOperationError{Broker: u.Broker, Op: "per-message checkpoint"})
}
