// Package memory sends to the in-process broker.
package memory

import (
	"context"
	"fmt"

	"ackflow/destination"
	"ackflow/internal/memory"
	"ackflow/sink"
)

const DefaultMaxBatchBytes = 1 << 20

// HubProducer appends events to hubs of a broker.
type HubProducer struct {
	broker        *memory.Broker
	partitions    int
	maxBatchBytes int64
}

func NewHubProducer(b *memory.Broker, partitions int, maxBatchBytes int64) *HubProducer {
	if maxBatchBytes <= 0 {
		maxBatchBytes = DefaultMaxBatchBytes
	}
	return &HubProducer{broker: b, partitions: partitions, maxBatchBytes: maxBatchBytes}
}

// Provision creates the hub when it does not exist.
func (p *HubProducer) Provision(_ context.Context, d destination.Destination) error {
	p.broker.Hub(d.Name, p.partitions)
	return nil
}

func (p *HubProducer) hub(d destination.Destination) (*memory.Hub, error) {
	h, ok := p.broker.LookupHub(d.Name)
	if !ok {
		return nil, fmt.Errorf("memory: hub %q does not exist", d.Name)
	}
	return h, nil
}

func (p *HubProducer) Send(_ context.Context, d destination.Destination, e memory.Event, hint sink.PartitionHint) error {
	h, err := p.hub(d)
	if err != nil {
		return err
	}
	key := hint.PartitionKey
	if key == "" {
		key = e.PartitionKey
	}
	_, err = h.Append(hint.PartitionID, key, e)
	return err
}

func (p *HubProducer) NewBatch(_ context.Context, d destination.Destination, hint sink.PartitionHint) (sink.Batch[memory.Event], error) {
	h, err := p.hub(d)
	if err != nil {
		return nil, err
	}
	return &hubBatch{hub: h, hint: hint, max: p.maxBatchBytes}, nil
}

func (p *HubProducer) Close(context.Context) error { return nil }

type hubBatch struct {
	hub    *memory.Hub
	hint   sink.PartitionHint
	max    int64
	size   int64
	events []memory.Event
}

func (b *hubBatch) Add(e memory.Event) error {
	if b.size+e.Size() > b.max {
		return sink.ErrTooLarge
	}
	b.size += e.Size()
	b.events = append(b.events, e)
	return nil
}

func (b *hubBatch) Len() int        { return len(b.events) }
func (b *hubBatch) MaxBytes() int64 { return b.max }

// Send appends the events to a single partition.
func (b *hubBatch) Send(context.Context) error {
	partition := b.hint.PartitionID
	for _, e := range b.events {
		out, err := b.hub.Append(partition, b.hint.PartitionKey, e)
		if err != nil {
			return err
		}
		partition = out.Partition
	}
	return nil
}

// QueueProducer enqueues to queues of a broker. It has no batch support.
type QueueProducer struct {
	broker *memory.Broker
}

func NewQueueProducer(b *memory.Broker) *QueueProducer { return &QueueProducer{broker: b} }

func (p *QueueProducer) Provision(_ context.Context, d destination.Destination) error {
	p.broker.Queue(d.Name)
	return nil
}

func (p *QueueProducer) Send(_ context.Context, d destination.Destination, e memory.Event, _ sink.PartitionHint) error {
	q, ok := p.broker.LookupQueue(d.Name)
	if !ok {
		return fmt.Errorf("memory: queue %q does not exist", d.Name)
	}
	q.Enqueue(e)
	return nil
}

func (p *QueueProducer) Close(context.Context) error { return nil }
