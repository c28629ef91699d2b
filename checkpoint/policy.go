package checkpoint

import (
	"context"
	"sync"

	"ackflow/future"
	"ackflow/message"
)

type cursorCheckpointer interface {
	CheckpointAt(ctx context.Context, partitionID string, pos Position) *future.Future
}

type tokenCheckpointer interface {
	CheckpointToken(ctx context.Context, token string) *future.Future
}

// Policy decides, for every delivered message, whether a checkpoint is
// issued now, after a batch fills up, or never.
type Policy struct {
	cfg Config
	cp  Checkpointer

	mu      sync.Mutex
	counts  map[string]int
	pending map[string][]string // batch key -> buffered lock tokens
}

// NewPolicy validates cfg against the checkpointer's family. Brokers
// without checkpoint support only accept Manual.
func NewPolicy(cfg Config, cp Checkpointer) (*Policy, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cp.Family() == Unsupported && cfg.Mode != Manual {
		return nil, &UnsupportedOperationError{Broker: brokerOf(cp), Op: cfg.Mode.String() + " checkpoint mode"}
	}
	return &Policy{
		cfg:     cfg,
		cp:      cp,
		counts:  make(map[string]int),
		pending: make(map[string][]string),
	}, nil
}

func brokerOf(cp Checkpointer) string {
	if u, ok := cp.(UnsupportedCheckpointer); ok {
		return u.Broker
	}
	return cp.Family().String()
}

func (p *Policy) Config() Config { return p.cfg }

// Delivered is called after the handler processed m. It returns the
// checkpoint it issued, or nil.
func (p *Policy) Delivered(ctx context.Context, m *message.Message) *future.Future {
	switch p.cfg.Mode {
	case Record:
		return p.record(ctx, m)
	case Batch:
		return p.batch(ctx, m)
	default:
		return nil
	}
}

func (p *Policy) record(ctx context.Context, m *message.Message) *future.Future {
	return Delivered(ctx, p.cp, m)
}

// Delivered checkpoints m alone: its own position on a partitioned
// broker, its lock on a lock-token broker.
func Delivered(ctx context.Context, cp Checkpointer, m *message.Message) *future.Future {
	if cp.Family() != PartitionCursor {
		return cp.CheckpointMessage(ctx, m)
	}
	if cc, ok := cp.(cursorCheckpointer); ok {
		if id, pos, ok := PositionOf(m); ok {
			return cc.CheckpointAt(ctx, id, pos)
		}
	}
	return cp.Checkpoint(ctx)
}

func (p *Policy) batchKey(m *message.Message) string {
	h := m.Headers()
	if p.cp.Family() == PartitionCursor {
		if id := h.String(message.HeaderPartitionID); id != "" {
			return id
		}
	}
	return h.String(message.HeaderDestination)
}

func (p *Policy) batch(ctx context.Context, m *message.Message) *future.Future {
	key := p.batchKey(m)

	p.mu.Lock()
	p.counts[key]++
	if p.cp.Family() == LockToken {
		p.pending[key] = append(p.pending[key], m.Headers().String(message.HeaderLockToken))
	}
	if p.counts[key] < p.cfg.BatchCount {
		p.mu.Unlock()
		return nil
	}
	p.counts[key] = 0
	tokens := p.pending[key]
	delete(p.pending, key)
	p.mu.Unlock()

	if p.cp.Family() == PartitionCursor {
		return p.record(ctx, m)
	}
	tc, ok := p.cp.(tokenCheckpointer)
	if !ok {
		return p.cp.Checkpoint(ctx)
	}
	fs := make([]*future.Future, 0, len(tokens))
	for _, tok := range tokens {
		fs = append(fs, tc.CheckpointToken(ctx, tok))
	}
	return future.Join(fs...)
}

// Pending returns how many messages were delivered for key since its
// last batch checkpoint.
func (p *Policy) Pending(key string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counts[key]
}

// Reset discards the batch state of key, e.g. when its partition closes.
func (p *Policy) Reset(key string) {
	p.mu.Lock()
	delete(p.counts, key)
	delete(p.pending, key)
	p.mu.Unlock()
}
