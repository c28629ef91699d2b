package checkpoint

import (
	"context"
	"slices"
	"sync"

	"ackflow/future"
	"ackflow/message"
)

// Committer persists a partition cursor at the broker.
type Committer interface {
	Commit(ctx context.Context, pos Position) error
}

// CommitterFunc adapts a function to Committer.
type CommitterFunc func(ctx context.Context, pos Position) error

func (f CommitterFunc) Commit(ctx context.Context, pos Position) error { return f(ctx, pos) }

// PartitionContext is one owned partition of a destination and consumer
// group. Commits are serialized and never move the cursor backwards.
type PartitionContext struct {
	id        string
	group     string
	committer Committer

	trackMu sync.Mutex
	latest  Position
	tracked bool

	commitMu  sync.Mutex
	committed int64
	hasCommit bool

	queueMu  sync.Mutex
	queue    []commitTask
	draining bool
}

type commitTask struct {
	fn       func() error
	complete func(error)
}

func NewPartitionContext(id, group string, c Committer) *PartitionContext {
	return &PartitionContext{id: id, group: group, committer: c}
}

func (p *PartitionContext) ID() string    { return p.id }
func (p *PartitionContext) Group() string { return p.group }

// Track records pos as delivered. Older positions are ignored.
func (p *PartitionContext) Track(pos Position) {
	p.trackMu.Lock()
	defer p.trackMu.Unlock()
	if p.tracked && pos.Offset < p.latest.Offset {
		return
	}
	p.latest, p.tracked = pos, true
}

// Latest returns the highest tracked position.
func (p *PartitionContext) Latest() (Position, bool) {
	p.trackMu.Lock()
	defer p.trackMu.Unlock()
	return p.latest, p.tracked
}

// Committed returns the last offset the broker accepted.
func (p *PartitionContext) Committed() (int64, bool) {
	p.commitMu.Lock()
	defer p.commitMu.Unlock()
	return p.committed, p.hasCommit
}

// Commit persists pos. A position at or below the committed offset
// succeeds without reaching the broker.
func (p *PartitionContext) Commit(ctx context.Context, pos Position) error {
	p.commitMu.Lock()
	defer p.commitMu.Unlock()
	if p.hasCommit && pos.Offset <= p.committed {
		return nil
	}
	if err := p.committer.Commit(ctx, pos); err != nil {
		return err
	}
	p.committed, p.hasCommit = pos.Offset, true
	return nil
}

// serial runs fn on exec after every earlier task queued on p has
// finished. Tasks for one partition complete in submission order.
func (p *PartitionContext) serial(exec future.Executor, fn func() error) *future.Future {
	f, complete := future.New()
	p.queueMu.Lock()
	p.queue = append(p.queue, commitTask{fn: fn, complete: complete})
	if p.draining {
		p.queueMu.Unlock()
		return f
	}
	p.draining = true
	p.queueMu.Unlock()

	if err := exec.Submit(p.drain); err != nil {
		p.queueMu.Lock()
		rejected := p.queue
		p.queue, p.draining = nil, false
		p.queueMu.Unlock()
		for _, t := range rejected {
			t.complete(err)
		}
	}
	return f
}

func (p *PartitionContext) drain() {
	for {
		p.queueMu.Lock()
		if len(p.queue) == 0 {
			p.draining = false
			p.queueMu.Unlock()
			return
		}
		t := p.queue[0]
		p.queue = p.queue[1:]
		p.queueMu.Unlock()
		t.complete(t.fn())
	}
}

// PartitionCheckpointer aggregates the partitions currently owned by one
// subscription. Partition callbacks may arrive more than once, so adding
// and removing are idempotent.
type PartitionCheckpointer struct {
	destination string
	exec        future.Executor
	parts       sync.Map // partition id -> *PartitionContext
}

// NewPartitionCheckpointer runs commits on exec; nil means goroutines.
// Commits of one partition are queued and never hold more than one
// executor slot.
func NewPartitionCheckpointer(destination string, exec future.Executor) *PartitionCheckpointer {
	if exec == nil {
		exec = future.Goroutine
	}
	return &PartitionCheckpointer{destination: destination, exec: exec}
}

func (c *PartitionCheckpointer) Family() Family { return PartitionCursor }

// AddPartition registers pc for its partition id. Adding the context
// that is already registered is a no-op; a different context for the
// same id replaces the old one, since a reopened partition commits
// through its new client. It reports whether pc was stored.
func (c *PartitionCheckpointer) AddPartition(pc *PartitionContext) bool {
	for {
		v, loaded := c.parts.LoadOrStore(pc.ID(), pc)
		if !loaded {
			return true
		}
		if v.(*PartitionContext) == pc {
			return false
		}
		if c.parts.CompareAndSwap(pc.ID(), v, pc) {
			return true
		}
	}
}

// RemovePartition drops pc if it is still the registered context for
// its partition. A close for a context that was since replaced, or was
// never added, is ignored.
func (c *PartitionCheckpointer) RemovePartition(pc *PartitionContext) bool {
	return c.parts.CompareAndDelete(pc.ID(), pc)
}

func (c *PartitionCheckpointer) Partition(id string) (*PartitionContext, bool) {
	v, ok := c.parts.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*PartitionContext), true
}

// Partitions returns the owned partition ids in sorted order.
func (c *PartitionCheckpointer) Partitions() []string {
	var ids []string
	c.parts.Range(func(k, _ any) bool {
		ids = append(ids, k.(string))
		return true
	})
	slices.Sort(ids)
	return ids
}

func (c *PartitionCheckpointer) Len() int {
	n := 0
	c.parts.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// CheckpointAt commits one partition at pos.
func (c *PartitionCheckpointer) CheckpointAt(ctx context.Context, partitionID string, pos Position) *future.Future {
	pc, ok := c.Partition(partitionID)
	if !ok {
		return future.Failed(&Error{Destination: c.destination, PartitionID: partitionID, Err: ErrPartitionNotOwned})
	}
	return c.commit(ctx, pc, pos)
}

func (c *PartitionCheckpointer) commit(ctx context.Context, pc *PartitionContext, pos Position) *future.Future {
	return pc.serial(c.exec, func() error {
		if err := pc.Commit(ctx, pos); err != nil {
			return &Error{Destination: c.destination, PartitionID: pc.ID(), Err: err}
		}
		return nil
	})
}

// Checkpoint commits every owned partition at its latest tracked
// position. All partitions are attempted; the first failure is reported.
func (c *PartitionCheckpointer) Checkpoint(ctx context.Context) *future.Future {
	var fs []*future.Future
	for _, id := range c.Partitions() {
		pc, ok := c.Partition(id)
		if !ok {
			continue
		}
		pos, ok := pc.Latest()
		if !ok {
			continue
		}
		fs = append(fs, c.commit(ctx, pc, pos))
	}
	return future.Join(fs...)
}

// CheckpointMessage always fails: partitioned streams checkpoint by
// cursor, not by message.
func (c *PartitionCheckpointer) CheckpointMessage(context.Context, *message.Message) *future.Future {
	return future.Failed(&UnsupportedOperationError{Broker: c.destination, Op: "per-message checkpoint"})
}
