// Package source is the receive side of a broker binding. A binding is
// either push based (Subscriber) or pull based (Poller); the inbound
// adapter drives both.
package source

import (
	"context"

	"ackflow/checkpoint"
	"ackflow/destination"
)

// Record is one received broker message. PartitionID and Position are
// set by partitioned brokers, Lock by lock-token brokers.
type Record[W any] struct {
	Wire        W
	PartitionID string
	Position    checkpoint.Position
	Lock        checkpoint.Lock
}

// Source is implemented by every binding.
type Source[W any] interface {
	Destination() destination.Destination
	Family() checkpoint.Family
	Close(ctx context.Context) error
}

// Listener receives callbacks from a Subscriber. Callbacks for different
// partitions may run concurrently.
type Listener[W any] interface {
	PartitionOpened(ctx context.Context, pc *checkpoint.PartitionContext)
	// PartitionClosed passes the same context given to PartitionOpened.
	PartitionClosed(ctx context.Context, pc *checkpoint.PartitionContext)
	Receive(ctx context.Context, r Record[W]) error
}

// Subscription is an active registration with the broker client.
type Subscription interface {
	// Stop deregisters and waits for running callbacks to return.
	Stop(ctx context.Context) error
}

// Subscriber is a push-based source.
type Subscriber[W any] interface {
	Source[W]
	Subscribe(ctx context.Context, l Listener[W]) (Subscription, error)
}

// Poller is a pull-based source. Poll fetches one round of messages and
// hands each to deliver before returning.
type Poller[W any] interface {
	Source[W]
	Poll(ctx context.Context, deliver func(ctx context.Context, r Record[W]) error) error
}

// SubscriptionFunc adapts a stop function to Subscription.
type SubscriptionFunc func(ctx context.Context) error

func (f SubscriptionFunc) Stop(ctx context.Context) error { return f(ctx) }
