// Package rabbitmq consumes a RabbitMQ queue with manual acknowledgements.
// The delivery tag is the lock; acking it is the checkpoint. Deliveries the
// handler rejected are nacked: requeued the first time, dead-lettered
// after a redelivery.
package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"

	"ackflow/checkpoint"
	"ackflow/destination"
	"ackflow/internal/config"
	"ackflow/source"
	"ackflow/telemetry"

	amqp "github.com/rabbitmq/amqp091-go"
)

type Config struct {
	URL         string `koanf:"url"`
	Queue       string `koanf:"queue"`
	ConsumerTag string `koanf:"consumer_tag"`
	Prefetch    int    `koanf:"prefetch"`
	Durable     bool   `koanf:"durable"`
}

// LoadConfig merges YAML with env-vars (prefix `ACKFLOW_RABBITMQ__`).
func LoadConfig(path string) (Config, error) {
	cfg := Config{Durable: true}
	if err := config.Load(path, config.EnvPrefix("rabbitmq"), &cfg); err != nil {
		return cfg, err
	}
	applyDefaults(&cfg)
	return cfg, nil
}

func applyDefaults(c *Config) {
	if c.Prefetch == 0 {
		c.Prefetch = 50
	}
	if c.ConsumerTag == "" {
		c.ConsumerTag = "ackflow"
	}
}

// channel is the part of *amqp.Channel the source uses.
type channel interface {
	Qos(prefetchCount, prefetchSize int, global bool) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	ConsumeWithContext(ctx context.Context, queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Close() error
}

type Option func(*Source)

// WithObserver logs through the observer's logger.
func WithObserver(obs *telemetry.Observer) Option {
	return func(s *Source) { s.log = obs.Logger() }
}

type Source struct {
	cfg  Config
	log  *slog.Logger
	dial func() (channel, io.Closer, error)

	mu   sync.Mutex
	ch   channel
	conn io.Closer
}

func New(cfg Config, opts ...Option) (*Source, error) {
	applyDefaults(&cfg)
	if cfg.URL == "" || cfg.Queue == "" {
		return nil, errors.New("rabbitmq: url and queue are required")
	}
	s := &Source{
		cfg: cfg,
		log: telemetry.Nop().Logger(),
		dial: func() (channel, io.Closer, error) {
			conn, err := amqp.Dial(cfg.URL)
			if err != nil {
				return nil, nil, err
			}
			ch, err := conn.Channel()
			if err != nil {
				_ = conn.Close()
				return nil, nil, err
			}
			return ch, conn, nil
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Source) channel() (channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ch == nil {
		ch, conn, err := s.dial()
		if err != nil {
			return nil, fmt.Errorf("rabbitmq: dial: %w", err)
		}
		s.ch, s.conn = ch, conn
	}
	return s.ch, nil
}

func (s *Source) Destination() destination.Destination {
	return destination.Destination{Name: s.cfg.Queue}
}

func (s *Source) Family() checkpoint.Family { return checkpoint.LockToken }

func (s *Source) Provision(_ context.Context, d destination.Destination) error {
	ch, err := s.channel()
	if err != nil {
		return err
	}
	_, err = ch.QueueDeclare(d.Name, s.cfg.Durable, false, false, false, nil)
	return err
}

// Complete acks the delivery held by l.
func (s *Source) Complete(_ context.Context, l checkpoint.Lock) error {
	d, ok := l.Ref.(amqp.Delivery)
	if !ok {
		return fmt.Errorf("rabbitmq: lock %s carries no delivery", l.Token)
	}
	return d.Ack(false)
}

func (s *Source) Subscribe(ctx context.Context, l source.Listener[amqp.Delivery]) (source.Subscription, error) {
	ch, err := s.channel()
	if err != nil {
		return nil, err
	}
	if err := ch.Qos(s.cfg.Prefetch, 0, false); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	deliveries, err := ch.ConsumeWithContext(ctx, s.cfg.Queue, s.cfg.ConsumerTag, false, false, false, false, nil)
	if err != nil {
		cancel()
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					if ctx.Err() == nil {
						s.log.Warn("rabbitmq delivery channel closed", telemetry.DestinationAttr(s.cfg.Queue))
					}
					return
				}
				s.deliver(ctx, l, d)
			}
		}
	}()
	return source.SubscriptionFunc(func(stopCtx context.Context) error {
		cancel()
		select {
		case <-done:
			return nil
		case <-stopCtx.Done():
			return stopCtx.Err()
		}
	}), nil
}

func (s *Source) deliver(ctx context.Context, l source.Listener[amqp.Delivery], d amqp.Delivery) {
	err := l.Receive(ctx, source.Record[amqp.Delivery]{
		Wire: d,
		Lock: checkpoint.Lock{Token: strconv.FormatUint(d.DeliveryTag, 10), Ref: d},
	})
	if err == nil {
		return
	}
	if nerr := d.Nack(false, !d.Redelivered); nerr != nil {
		s.log.Warn("rabbitmq nack failed",
			telemetry.DestinationAttr(s.cfg.Queue),
			slog.Uint64("delivery_tag", d.DeliveryTag),
			telemetry.ErrAttr(nerr))
	}
}

func (s *Source) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ch == nil {
		return nil
	}
	err := errors.Join(s.ch.Close(), s.conn.Close())
	s.ch, s.conn = nil, nil
	return err
}
