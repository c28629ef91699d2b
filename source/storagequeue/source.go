// Package storagequeue polls an Azure Storage queue. The queue has no
// checkpoint primitive: a message is deleted once the handler accepted it
// and becomes visible again when the handler failed.
package storagequeue

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"ackflow/checkpoint"
	"ackflow/destination"
	"ackflow/internal/config"
	"ackflow/source"
	"ackflow/telemetry"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue/queueerror"
)

type Config struct {
	ConnectionString  string        `koanf:"connection_string"`
	Queue             string        `koanf:"queue"`
	MaxMessages       int32         `koanf:"max_messages"`       // 1..32
	VisibilityTimeout time.Duration `koanf:"visibility_timeout"` // lease of a dequeued message
}

// LoadConfig merges YAML with env-vars (prefix `ACKFLOW_STORAGEQUEUE__`).
func LoadConfig(path string) (Config, error) {
	var cfg Config
	if err := config.Load(path, config.EnvPrefix("storagequeue"), &cfg); err != nil {
		return cfg, err
	}
	applyDefaults(&cfg)
	return cfg, nil
}

func applyDefaults(c *Config) {
	if c.MaxMessages == 0 {
		c.MaxMessages = 32
	}
	if c.VisibilityTimeout == 0 {
		c.VisibilityTimeout = 30 * time.Second
	}
}

// queueClient is the part of *azqueue.QueueClient the source uses.
type queueClient interface {
	Create(ctx context.Context, o *azqueue.CreateOptions) (azqueue.CreateResponse, error)
	DequeueMessages(ctx context.Context, o *azqueue.DequeueMessagesOptions) (azqueue.DequeueMessagesResponse, error)
	DeleteMessage(ctx context.Context, messageID, popReceipt string, o *azqueue.DeleteMessageOptions) (azqueue.DeleteMessageResponse, error)
}

type Option func(*Source)

// WithObserver logs through the observer's logger.
func WithObserver(obs *telemetry.Observer) Option {
	return func(s *Source) { s.log = obs.Logger() }
}

type Source struct {
	cfg Config
	q   queueClient
	log *slog.Logger
}

func New(cfg Config, opts ...Option) (*Source, error) {
	applyDefaults(&cfg)
	if cfg.ConnectionString == "" || cfg.Queue == "" {
		return nil, errors.New("storagequeue: connection_string and queue are required")
	}
	q, err := azqueue.NewQueueClientFromConnectionString(cfg.ConnectionString, cfg.Queue, nil)
	if err != nil {
		return nil, err
	}
	return newSource(cfg, q, opts...), nil
}

func newSource(cfg Config, q queueClient, opts ...Option) *Source {
	s := &Source{cfg: cfg, q: q, log: telemetry.Nop().Logger()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Source) Destination() destination.Destination {
	return destination.Destination{Name: s.cfg.Queue}
}

func (s *Source) Family() checkpoint.Family { return checkpoint.Unsupported }

func (s *Source) Provision(ctx context.Context, _ destination.Destination) error {
	return CreateQueue(ctx, s.q)
}

// CreateQueue creates the queue; an existing queue is not an error.
func CreateQueue(ctx context.Context, q interface {
	Create(context.Context, *azqueue.CreateOptions) (azqueue.CreateResponse, error)
}) error {
	_, err := q.Create(ctx, nil)
	if queueerror.HasCode(err, queueerror.QueueAlreadyExists) {
		return nil
	}
	return err
}

// Poll dequeues one round and deletes every message deliver accepted.
// Remaining messages of the round are left to their visibility timeout
// once ctx is cancelled.
func (s *Source) Poll(ctx context.Context, deliver func(context.Context, source.Record[*azqueue.DequeuedMessage]) error) error {
	resp, err := s.q.DequeueMessages(ctx, &azqueue.DequeueMessagesOptions{
		NumberOfMessages:  to.Ptr(s.cfg.MaxMessages),
		VisibilityTimeout: to.Ptr(int32(s.cfg.VisibilityTimeout / time.Second)),
	})
	if err != nil {
		return err
	}
	for _, m := range resp.Messages {
		if ctx.Err() != nil {
			return nil
		}
		if m == nil || m.MessageID == nil || m.PopReceipt == nil {
			continue
		}
		if err := deliver(ctx, source.Record[*azqueue.DequeuedMessage]{Wire: m}); err != nil {
			continue
		}
		if _, err := s.q.DeleteMessage(context.WithoutCancel(ctx), *m.MessageID, *m.PopReceipt, nil); err != nil {
			s.log.Warn("storagequeue delete failed",
				telemetry.DestinationAttr(s.cfg.Queue),
				telemetry.MessageIDAttr(*m.MessageID),
				telemetry.ErrAttr(err))
		}
	}
	return nil
}

func (s *Source) Close(context.Context) error { return nil }
