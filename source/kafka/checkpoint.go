package kafka

import (
	"context"
	"sync/atomic"
	"time"

	"ackflow/checkpoint"

	"github.com/IBM/sarama"
)

// commitGate decides when marked offsets are flushed to the broker.
// Marking is cheap and happens on every checkpoint; the synchronous
// Commit is throttled to one per interval across all partitions.
type commitGate struct {
	everyNS int64
	lastNS  atomic.Int64
	now     func() time.Time
}

func newCommitGate(every time.Duration) *commitGate {
	return &commitGate{everyNS: every.Nanoseconds(), now: time.Now}
}

func (g *commitGate) due() bool {
	now := g.now().UnixNano()
	last := g.lastNS.Load()
	if last+g.everyNS > now {
		return false
	}
	return g.lastNS.CompareAndSwap(last, now)
}

// sessionCommitter commits one claimed partition through its group
// session. Kafka's committed offset is the next offset to read.
type sessionCommitter struct {
	sess      sarama.ConsumerGroupSession
	topic     string
	partition int32
	gate      *commitGate
}

func (c *sessionCommitter) Commit(ctx context.Context, pos checkpoint.Position) error {
	if err := c.sess.Context().Err(); err != nil {
		return err
	}
	c.sess.MarkOffset(c.topic, c.partition, pos.Offset+1, "")
	if c.gate.due() {
		c.sess.Commit()
	}
	return nil
}
