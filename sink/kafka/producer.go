// Package kafka produces to Kafka topics with a sarama SyncProducer.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"ackflow/destination"
	"ackflow/internal/saramautil"
	"ackflow/sink"

	"github.com/IBM/sarama"
)

// explicitPartition marks a message whose Partition was chosen by the
// caller.
type explicitPartition struct{}

// hintPartitioner honours an explicit partition and otherwise hashes the
// key (random for keyless messages).
type hintPartitioner struct {
	hash sarama.Partitioner
}

func newHintPartitioner(topic string) sarama.Partitioner {
	return &hintPartitioner{hash: sarama.NewHashPartitioner(topic)}
}

func (p *hintPartitioner) Partition(msg *sarama.ProducerMessage, n int32) (int32, error) {
	if _, ok := msg.Metadata.(explicitPartition); ok {
		if msg.Partition < 0 || msg.Partition >= n {
			return -1, sarama.ErrInvalidPartition
		}
		return msg.Partition, nil
	}
	return p.hash.Partition(msg, n)
}

func (p *hintPartitioner) RequiresConsistency() bool { return true }

type Producer struct {
	cfg      Config
	p        sarama.SyncProducer
	newAdmin func() (sarama.ClusterAdmin, error)
}

func New(cfg Config) (*Producer, error) {
	applyDefaults(&cfg)
	sc, err := saramautil.NewConfig(cfg.Client)
	if err != nil {
		return nil, err
	}
	sc.Producer.RequiredAcks = sarama.RequiredAcks(cfg.Acks)
	sc.Producer.Return.Successes = true
	sc.Producer.MaxMessageBytes = cfg.MaxMessageBytes
	sc.Producer.Partitioner = newHintPartitioner

	p, err := sarama.NewSyncProducer(cfg.Brokers, sc)
	if err != nil {
		return nil, err
	}
	return newProducer(cfg, p, func() (sarama.ClusterAdmin, error) {
		return sarama.NewClusterAdmin(cfg.Brokers, sc)
	}), nil
}

func newProducer(cfg Config, p sarama.SyncProducer, admin func() (sarama.ClusterAdmin, error)) *Producer {
	return &Producer{cfg: cfg, p: p, newAdmin: admin}
}

func (p *Producer) Provision(_ context.Context, d destination.Destination) error {
	admin, err := p.newAdmin()
	if err != nil {
		return err
	}
	defer admin.Close()
	return saramautil.EnsureTopic(admin, p.cfg.Client, d.Name)
}

// prepare copies pm so the caller's message is never mutated.
func prepare(d destination.Destination, pm *sarama.ProducerMessage, hint sink.PartitionHint) (*sarama.ProducerMessage, error) {
	out := *pm
	out.Topic = d.Name
	key := hint.PartitionKey
	if key == "" {
		key = hint.SessionID
	}
	if key != "" {
		out.Key = sarama.StringEncoder(key)
	}
	if hint.PartitionID != "" {
		n, err := strconv.ParseInt(hint.PartitionID, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("kafka: partition id %q: %w", hint.PartitionID, err)
		}
		out.Partition = int32(n)
		out.Metadata = explicitPartition{}
	}
	return &out, nil
}

func (p *Producer) Send(_ context.Context, d destination.Destination, pm *sarama.ProducerMessage, hint sink.PartitionHint) error {
	msg, err := prepare(d, pm, hint)
	if err != nil {
		return err
	}
	_, _, err = p.p.SendMessage(msg)
	return err
}

func (p *Producer) NewBatch(_ context.Context, d destination.Destination, hint sink.PartitionHint) (sink.Batch[*sarama.ProducerMessage], error) {
	return &batch{p: p.p, d: d, hint: hint, max: int64(p.cfg.MaxMessageBytes)}, nil
}

func (p *Producer) Close(context.Context) error { return p.p.Close() }

// batch is bounded by the producer's MaxMessageBytes, the largest request
// sarama will build.
type batch struct {
	p    sarama.SyncProducer
	d    destination.Destination
	hint sink.PartitionHint
	max  int64
	size int64
	msgs []*sarama.ProducerMessage
}

func (b *batch) Add(pm *sarama.ProducerMessage) error {
	msg, err := prepare(b.d, pm, b.hint)
	if err != nil {
		return err
	}
	n := int64(msg.ByteSize(2))
	if b.size+n > b.max {
		return sink.ErrTooLarge
	}
	b.size += n
	b.msgs = append(b.msgs, msg)
	return nil
}

func (b *batch) Len() int        { return len(b.msgs) }
func (b *batch) MaxBytes() int64 { return b.max }

func (b *batch) Send(context.Context) error {
	err := b.p.SendMessages(b.msgs)
	var perrs sarama.ProducerErrors
	if errors.As(err, &perrs) && len(perrs) > 0 {
		return fmt.Errorf("kafka: %d of %d messages failed: %w", len(perrs), len(b.msgs), perrs[0].Err)
	}
	return err
}
