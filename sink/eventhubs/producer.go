// Package eventhubs sends events with azeventhubs producer clients, one
// client per event hub.
package eventhubs

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"ackflow/destination"
	"ackflow/internal/config"
	"ackflow/sink"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azeventhubs"
)

// DefaultMaxBatchBytes is reported when the service chooses the batch size.
const DefaultMaxBatchBytes = 1 << 20

type Config struct {
	ConnectionString string `koanf:"connection_string"`
	MaxBatchBytes    uint64 `koanf:"max_batch_bytes"`
}

// LoadConfig merges YAML with env-vars (prefix `ACKFLOW_EVENTHUBS_SINK__`).
func LoadConfig(path string) (Config, error) {
	var cfg Config
	err := config.Load(path, config.EnvPrefix("eventhubs_sink"), &cfg)
	return cfg, err
}

type eventBatch interface {
	AddEventData(e *azeventhubs.EventData, opts *azeventhubs.AddEventDataOptions) error
	NumEvents() int32
}

type client interface {
	NewBatch(ctx context.Context, opts *azeventhubs.EventDataBatchOptions) (eventBatch, error)
	SendBatch(ctx context.Context, b eventBatch) error
	Check(ctx context.Context) error
	Close(ctx context.Context) error
}

type producerClient struct {
	pc *azeventhubs.ProducerClient
}

func (c producerClient) NewBatch(ctx context.Context, opts *azeventhubs.EventDataBatchOptions) (eventBatch, error) {
	return c.pc.NewEventDataBatch(ctx, opts)
}

func (c producerClient) SendBatch(ctx context.Context, b eventBatch) error {
	return c.pc.SendEventDataBatch(ctx, b.(*azeventhubs.EventDataBatch), nil)
}

func (c producerClient) Check(ctx context.Context) error {
	_, err := c.pc.GetEventHubProperties(ctx, nil)
	return err
}

func (c producerClient) Close(ctx context.Context) error { return c.pc.Close(ctx) }

type Producer struct {
	cfg       Config
	newClient func(eventHub string) (client, error)

	mu      sync.Mutex
	clients map[string]client
}

func New(cfg Config) (*Producer, error) {
	if cfg.ConnectionString == "" {
		return nil, errors.New("eventhubs: connection_string is required")
	}
	return newProducer(cfg, func(hub string) (client, error) {
		pc, err := azeventhubs.NewProducerClientFromConnectionString(cfg.ConnectionString, hub, nil)
		if err != nil {
			return nil, err
		}
		return producerClient{pc}, nil
	}), nil
}

func newProducer(cfg Config, newClient func(string) (client, error)) *Producer {
	return &Producer{cfg: cfg, newClient: newClient, clients: make(map[string]client)}
}

func (p *Producer) client(hub string) (client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.clients[hub]; ok {
		return c, nil
	}
	c, err := p.newClient(hub)
	if err != nil {
		return nil, fmt.Errorf("eventhubs: producer for %s: %w", hub, err)
	}
	p.clients[hub] = c
	return c, nil
}

// Provision checks that the event hub exists. Event hubs cannot be
// created through the data plane.
func (p *Producer) Provision(ctx context.Context, d destination.Destination) error {
	c, err := p.client(d.Name)
	if err != nil {
		return err
	}
	return c.Check(ctx)
}

func (p *Producer) batchOptions(hint sink.PartitionHint) *azeventhubs.EventDataBatchOptions {
	o := &azeventhubs.EventDataBatchOptions{MaxBytes: p.cfg.MaxBatchBytes}
	switch {
	case hint.PartitionID != "":
		o.PartitionID = to.Ptr(hint.PartitionID)
	case hint.PartitionKey != "":
		o.PartitionKey = to.Ptr(hint.PartitionKey)
	case hint.SessionID != "":
		o.PartitionKey = to.Ptr(hint.SessionID)
	}
	return o
}

func (p *Producer) Send(ctx context.Context, d destination.Destination, e *azeventhubs.EventData, hint sink.PartitionHint) error {
	b, err := p.NewBatch(ctx, d, hint)
	if err != nil {
		return err
	}
	if err := b.Add(e); err != nil {
		return err
	}
	return b.Send(ctx)
}

func (p *Producer) NewBatch(ctx context.Context, d destination.Destination, hint sink.PartitionHint) (sink.Batch[*azeventhubs.EventData], error) {
	c, err := p.client(d.Name)
	if err != nil {
		return nil, err
	}
	eb, err := c.NewBatch(ctx, p.batchOptions(hint))
	if err != nil {
		return nil, err
	}
	limit := int64(p.cfg.MaxBatchBytes)
	if limit == 0 {
		limit = DefaultMaxBatchBytes
	}
	return &batch{c: c, eb: eb, max: limit}, nil
}

func (p *Producer) Close(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var errs []error
	for hub, c := range p.clients {
		errs = append(errs, c.Close(ctx))
		delete(p.clients, hub)
	}
	return errors.Join(errs...)
}

type batch struct {
	c   client
	eb  eventBatch
	max int64
}

func (b *batch) Add(e *azeventhubs.EventData) error {
	err := b.eb.AddEventData(e, nil)
	if errors.Is(err, azeventhubs.ErrEventDataTooLarge) {
		return fmt.Errorf("%w: %w", sink.ErrTooLarge, err)
	}
	return err
}

func (b *batch) Len() int                       { return int(b.eb.NumEvents()) }
func (b *batch) MaxBytes() int64                { return b.max }
func (b *batch) Send(ctx context.Context) error { return b.c.SendBatch(ctx, b.eb) }
