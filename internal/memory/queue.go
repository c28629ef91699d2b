package memory

import (
	"strconv"
	"sync"
	"time"
)

// Dequeued is a queue message leased until its visibility expires.
type Dequeued struct {
	Event
	Receipt      string
	DequeueCount int
}

type queued struct {
	ev           Event
	id           int64
	receipt      int64
	visibleAt    time.Time
	dequeueCount int
}

// Queue is a FIFO queue with receive-then-delete semantics.
type Queue struct {
	name string
	now  func() time.Time

	mu      sync.Mutex
	items   []*queued
	seq     int64
	deleted int
}

func NewQueue(name string) *Queue {
	return &Queue{name: name, now: time.Now}
}

func (q *Queue) Name() string { return q.name }

func (q *Queue) Enqueue(e Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	if e.ID == "" {
		e.ID = strconv.FormatInt(q.seq, 10)
	}
	q.items = append(q.items, &queued{ev: e, id: q.seq})
}

// Dequeue leases up to max visible messages for visibility.
func (q *Queue) Dequeue(max int, visibility time.Duration) []Dequeued {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	var out []Dequeued
	for _, it := range q.items {
		if len(out) == max {
			break
		}
		if it.visibleAt.After(now) {
			continue
		}
		q.seq++
		it.receipt = q.seq
		it.visibleAt = now.Add(visibility)
		it.dequeueCount++
		out = append(out, Dequeued{
			Event:        it.ev,
			Receipt:      strconv.FormatInt(it.id, 10) + ":" + strconv.FormatInt(it.receipt, 10),
			DequeueCount: it.dequeueCount,
		})
	}
	return out
}

// Delete removes a leased message. A stale receipt is ignored.
func (q *Queue) Delete(receipt string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, it := range q.items {
		if strconv.FormatInt(it.id, 10)+":"+strconv.FormatInt(it.receipt, 10) == receipt {
			q.items = append(q.items[:i], q.items[i+1:]...)
			q.deleted++
			return true
		}
	}
	return false
}

// Len returns the number of messages not deleted yet.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Deleted returns how many messages were deleted.
func (q *Queue) Deleted() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.deleted
}
