// Package servicebus sends to Service Bus queues and topics, one sender
// per entity.
package servicebus

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"ackflow/destination"
	"ackflow/internal/config"
	"ackflow/internal/sbutil"
	"ackflow/sink"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus/admin"
)

const DefaultMaxBatchBytes = 256 << 10

type Config struct {
	ConnectionString string `koanf:"connection_string"`
	EntityType       string `koanf:"entity_type"` // queue|topic (default queue)
	MaxBatchBytes    uint64 `koanf:"max_batch_bytes"`
}

// LoadConfig merges YAML with env-vars (prefix `ACKFLOW_SERVICEBUS_SINK__`).
func LoadConfig(path string) (Config, error) {
	var cfg Config
	err := config.Load(path, config.EnvPrefix("servicebus_sink"), &cfg)
	return cfg, err
}

type messageBatch interface {
	AddMessage(m *azservicebus.Message, opts *azservicebus.AddMessageOptions) error
	NumMessages() int32
}

type sender interface {
	SendMessage(ctx context.Context, m *azservicebus.Message) error
	NewBatch(ctx context.Context, maxBytes uint64) (messageBatch, error)
	SendBatch(ctx context.Context, b messageBatch) error
	Close(ctx context.Context) error
}

type sdkSender struct {
	s *azservicebus.Sender
}

func (s sdkSender) SendMessage(ctx context.Context, m *azservicebus.Message) error {
	return s.s.SendMessage(ctx, m, nil)
}

func (s sdkSender) NewBatch(ctx context.Context, maxBytes uint64) (messageBatch, error) {
	return s.s.NewMessageBatch(ctx, &azservicebus.MessageBatchOptions{MaxBytes: maxBytes})
}

func (s sdkSender) SendBatch(ctx context.Context, b messageBatch) error {
	return s.s.SendMessageBatch(ctx, b.(*azservicebus.MessageBatch), nil)
}

func (s sdkSender) Close(ctx context.Context) error { return s.s.Close(ctx) }

type Producer struct {
	cfg       Config
	newSender func(entity string) (sender, error)
	admin     func() (sbutil.Admin, error)
	close     func(ctx context.Context) error

	mu      sync.Mutex
	senders map[string]sender
}

func New(cfg Config) (*Producer, error) {
	if cfg.ConnectionString == "" {
		return nil, errors.New("servicebus: connection_string is required")
	}
	client, err := azservicebus.NewClientFromConnectionString(cfg.ConnectionString, nil)
	if err != nil {
		return nil, err
	}
	p := newProducer(cfg, func(entity string) (sender, error) {
		s, err := client.NewSender(entity, nil)
		if err != nil {
			return nil, err
		}
		return sdkSender{s}, nil
	})
	p.admin = func() (sbutil.Admin, error) {
		return admin.NewClientFromConnectionString(cfg.ConnectionString, nil)
	}
	p.close = client.Close
	return p, nil
}

func newProducer(cfg Config, newSender func(string) (sender, error)) *Producer {
	return &Producer{cfg: cfg, newSender: newSender, senders: make(map[string]sender)}
}

func (p *Producer) sender(entity string) (sender, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.senders[entity]; ok {
		return s, nil
	}
	s, err := p.newSender(entity)
	if err != nil {
		return nil, fmt.Errorf("servicebus: sender for %s: %w", entity, err)
	}
	p.senders[entity] = s
	return s, nil
}

func (p *Producer) Provision(ctx context.Context, d destination.Destination) error {
	if p.admin == nil {
		return nil
	}
	a, err := p.admin()
	if err != nil {
		return err
	}
	if p.cfg.EntityType == "topic" {
		return sbutil.EnsureTopic(ctx, a, d.Name)
	}
	return sbutil.EnsureQueue(ctx, a, d.Name)
}

// withHint returns m routed by hint. Service Bus requires the partition
// key of a session message to equal its session id. Partition ids have no
// Service Bus equivalent and are ignored.
func withHint(m *azservicebus.Message, hint sink.PartitionHint) *azservicebus.Message {
	out := *m
	switch {
	case hint.SessionID != "":
		out.SessionID = to.Ptr(hint.SessionID)
		out.PartitionKey = to.Ptr(hint.SessionID)
	case hint.PartitionKey != "":
		out.PartitionKey = to.Ptr(hint.PartitionKey)
	}
	return &out
}

func (p *Producer) Send(ctx context.Context, d destination.Destination, m *azservicebus.Message, hint sink.PartitionHint) error {
	s, err := p.sender(d.Name)
	if err != nil {
		return err
	}
	return s.SendMessage(ctx, withHint(m, hint))
}

func (p *Producer) NewBatch(ctx context.Context, d destination.Destination, hint sink.PartitionHint) (sink.Batch[*azservicebus.Message], error) {
	s, err := p.sender(d.Name)
	if err != nil {
		return nil, err
	}
	limit := p.cfg.MaxBatchBytes
	if limit == 0 {
		limit = DefaultMaxBatchBytes
	}
	mb, err := s.NewBatch(ctx, limit)
	if err != nil {
		return nil, err
	}
	return &batch{s: s, mb: mb, hint: hint, max: int64(limit)}, nil
}

func (p *Producer) Close(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var errs []error
	for entity, s := range p.senders {
		errs = append(errs, s.Close(ctx))
		delete(p.senders, entity)
	}
	if p.close != nil {
		errs = append(errs, p.close(ctx))
	}
	return errors.Join(errs...)
}

type batch struct {
	s    sender
	mb   messageBatch
	hint sink.PartitionHint
	max  int64
}

func (b *batch) Add(m *azservicebus.Message) error {
	err := b.mb.AddMessage(withHint(m, b.hint), nil)
	if errors.Is(err, azservicebus.ErrMessageTooLarge) {
		return fmt.Errorf("%w: %w", sink.ErrTooLarge, err)
	}
	return err
}

func (b *batch) Len() int                       { return int(b.mb.NumMessages()) }
func (b *batch) MaxBytes() int64                { return b.max }
func (b *batch) Send(ctx context.Context) error { return b.s.SendBatch(ctx, b.mb) }
