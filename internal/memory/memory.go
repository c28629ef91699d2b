// Package memory is an in-process broker: partitioned hubs that record
// consumer-group checkpoints, and plain queues with visibility timeouts.
// It backs the memory binding and tests.
package memory

import (
	"errors"
	"fmt"
	"sync"
)

var ErrUnknownPartition = errors.New("memory: unknown partition")

// Event is the wire type of the memory binding.
type Event struct {
	ID           string
	ContentType  string
	ReplyTo      string
	PartitionKey string
	Properties   map[string]any
	Body         []byte

	// Set by the broker.
	Partition string
	Offset    int64
}

// Size approximates the encoded size of e.
func (e Event) Size() int64 {
	n := len(e.ID) + len(e.ContentType) + len(e.ReplyTo) + len(e.PartitionKey) + len(e.Body)
	for k, v := range e.Properties {
		n += len(k) + len(fmt.Sprint(v))
	}
	return int64(n)
}

// Broker holds named hubs and queues.
type Broker struct {
	mu     sync.Mutex
	hubs   map[string]*Hub
	queues map[string]*Queue
}

func NewBroker() *Broker {
	return &Broker{hubs: make(map[string]*Hub), queues: make(map[string]*Queue)}
}

// Hub returns the hub called name, creating it with the given partition
// count when missing.
func (b *Broker) Hub(name string, partitions int) *Hub {
	b.mu.Lock()
	defer b.mu.Unlock()
	if h, ok := b.hubs[name]; ok {
		return h
	}
	h := NewHub(name, partitions)
	b.hubs[name] = h
	return h
}

// LookupHub returns an existing hub.
func (b *Broker) LookupHub(name string) (*Hub, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	h, ok := b.hubs[name]
	return h, ok
}

func (b *Broker) Queue(name string) *Queue {
	b.mu.Lock()
	defer b.mu.Unlock()
	if q, ok := b.queues[name]; ok {
		return q
	}
	q := NewQueue(name)
	b.queues[name] = q
	return q
}

func (b *Broker) LookupQueue(name string) (*Queue, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[name]
	return q, ok
}
