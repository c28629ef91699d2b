// Package memory binds the in-process broker: hubs are push sources with
// partition checkpoints, queues are polled without checkpoint support.
package memory

import (
	"context"
	"sync"
	"time"

	"ackflow/checkpoint"
	"ackflow/destination"
	"ackflow/internal/memory"
	"ackflow/source"
)

const readBatch = 64

// HubSource consumes every partition of a hub for one consumer group,
// resuming after the group's last checkpoint.
type HubSource struct {
	hub  *memory.Hub
	dest destination.Destination
}

func NewHubSource(hub *memory.Hub, group string) *HubSource {
	return &HubSource{hub: hub, dest: destination.Destination{Name: hub.Name(), Group: group}}
}

func (s *HubSource) Destination() destination.Destination { return s.dest }
func (s *HubSource) Family() checkpoint.Family            { return checkpoint.PartitionCursor }
func (s *HubSource) Close(context.Context) error          { return nil }

func (s *HubSource) Subscribe(ctx context.Context, l source.Listener[memory.Event]) (source.Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	for _, id := range s.hub.Partitions() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.consume(ctx, id, l)
		}()
	}
	return source.SubscriptionFunc(func(context.Context) error {
		cancel()
		wg.Wait()
		return nil
	}), nil
}

func (s *HubSource) consume(ctx context.Context, id string, l source.Listener[memory.Event]) {
	group := s.dest.Group
	pc := checkpoint.NewPartitionContext(id, group, checkpoint.CommitterFunc(
		func(_ context.Context, pos checkpoint.Position) error {
			return s.hub.Commit(group, id, pos.Offset)
		}))
	l.PartitionOpened(ctx, pc)
	defer l.PartitionClosed(context.WithoutCancel(ctx), pc)

	var next int64
	if off, ok := s.hub.Committed(group, id); ok {
		next = off + 1
	}
	for {
		changed := s.hub.Changed()
		events, err := s.hub.Read(id, next, readBatch)
		if err != nil {
			return
		}
		for _, e := range events {
			if ctx.Err() != nil {
				return
			}
			_ = l.Receive(ctx, source.Record[memory.Event]{
				Wire:        e,
				PartitionID: id,
				Position:    checkpoint.Position{Offset: e.Offset, Ref: e},
			})
			next = e.Offset + 1
		}
		if len(events) == readBatch {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-changed:
		}
	}
}

// QueueSource polls a queue. Messages are deleted after successful
// delivery; failed ones reappear once their visibility expires.
type QueueSource struct {
	queue      *memory.Queue
	maxPerPoll int
	visibility time.Duration
}

func NewQueueSource(q *memory.Queue, maxPerPoll int, visibility time.Duration) *QueueSource {
	if maxPerPoll < 1 {
		maxPerPoll = 1
	}
	if visibility <= 0 {
		visibility = 30 * time.Second
	}
	return &QueueSource{queue: q, maxPerPoll: maxPerPoll, visibility: visibility}
}

func (s *QueueSource) Destination() destination.Destination {
	return destination.Destination{Name: s.queue.Name()}
}
func (s *QueueSource) Family() checkpoint.Family   { return checkpoint.Unsupported }
func (s *QueueSource) Close(context.Context) error { return nil }

func (s *QueueSource) Poll(ctx context.Context, deliver func(context.Context, source.Record[memory.Event]) error) error {
	for _, d := range s.queue.Dequeue(s.maxPerPoll, s.visibility) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := deliver(ctx, source.Record[memory.Event]{Wire: d.Event}); err != nil {
			continue
		}
		s.queue.Delete(d.Receipt)
	}
	return nil
}
