// Package storagequeue enqueues to Azure Storage queues. Queues have no
// batch envelope, so batch sends fail with sink.ErrBatchNotSupported.
package storagequeue

import (
	"context"
	"errors"
	"sync"
	"time"

	"ackflow/destination"
	"ackflow/internal/config"
	"ackflow/sink"
	srcsq "ackflow/source/storagequeue"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
)

type Config struct {
	ConnectionString string        `koanf:"connection_string"`
	MessageTTL       time.Duration `koanf:"message_ttl"` // 0 keeps the service default (7 days)
}

// LoadConfig merges YAML with env-vars (prefix `ACKFLOW_STORAGEQUEUE_SINK__`).
func LoadConfig(path string) (Config, error) {
	var cfg Config
	err := config.Load(path, config.EnvPrefix("storagequeue_sink"), &cfg)
	return cfg, err
}

type queueClient interface {
	Create(ctx context.Context, o *azqueue.CreateOptions) (azqueue.CreateResponse, error)
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
}

type Producer struct {
	cfg      Config
	newQueue func(name string) queueClient

	mu     sync.Mutex
	queues map[string]queueClient
}

func New(cfg Config) (*Producer, error) {
	if cfg.ConnectionString == "" {
		return nil, errors.New("storagequeue: connection_string is required")
	}
	svc, err := azqueue.NewServiceClientFromConnectionString(cfg.ConnectionString, nil)
	if err != nil {
		return nil, err
	}
	return newProducer(cfg, func(name string) queueClient { return svc.NewQueueClient(name) }), nil
}

func newProducer(cfg Config, newQueue func(string) queueClient) *Producer {
	return &Producer{cfg: cfg, newQueue: newQueue, queues: make(map[string]queueClient)}
}

func (p *Producer) queue(name string) queueClient {
	p.mu.Lock()
	defer p.mu.Unlock()
	q, ok := p.queues[name]
	if !ok {
		q = p.newQueue(name)
		p.queues[name] = q
	}
	return q
}

func (p *Producer) Provision(ctx context.Context, d destination.Destination) error {
	return srcsq.CreateQueue(ctx, p.queue(d.Name))
}

// Send enqueues text. Partition hints do not apply to storage queues.
func (p *Producer) Send(ctx context.Context, d destination.Destination, text string, _ sink.PartitionHint) error {
	var o *azqueue.EnqueueMessageOptions
	if p.cfg.MessageTTL > 0 {
		o = &azqueue.EnqueueMessageOptions{TimeToLive: to.Ptr(int32(p.cfg.MessageTTL / time.Second))}
	}
	_, err := p.queue(d.Name).EnqueueMessage(ctx, text, o)
	return err
}

func (p *Producer) Close(context.Context) error { return nil }
