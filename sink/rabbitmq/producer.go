// Package rabbitmq publishes to RabbitMQ. Without an exchange the
// destination is a queue on the default exchange; with one, the
// destination is the routing key.
package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"ackflow/destination"
	"ackflow/internal/config"
	"ackflow/sink"

	amqp "github.com/rabbitmq/amqp091-go"
)

type Config struct {
	URL          string `koanf:"url"`
	Exchange     string `koanf:"exchange"`
	ExchangeKind string `koanf:"exchange_kind"` // topic|direct|fanout (default topic)
	Mandatory    bool   `koanf:"mandatory"`
}

// LoadConfig merges YAML with env-vars (prefix `ACKFLOW_RABBITMQ_SINK__`).
func LoadConfig(path string) (Config, error) {
	var cfg Config
	err := config.Load(path, config.EnvPrefix("rabbitmq_sink"), &cfg)
	if cfg.ExchangeKind == "" {
		cfg.ExchangeKind = amqp.ExchangeTopic
	}
	return cfg, err
}

type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	Close() error
}

type Producer struct {
	cfg  Config
	dial func() (channel, io.Closer, error)

	mu   sync.Mutex
	ch   channel
	conn io.Closer
}

func New(cfg Config) (*Producer, error) {
	if cfg.URL == "" {
		return nil, errors.New("rabbitmq: url is required")
	}
	if cfg.ExchangeKind == "" {
		cfg.ExchangeKind = amqp.ExchangeTopic
	}
	return &Producer{cfg: cfg, dial: func() (channel, io.Closer, error) {
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
	}}, nil
}

func (p *Producer) channel() (channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == nil {
		ch, conn, err := p.dial()
		if err != nil {
			return nil, fmt.Errorf("rabbitmq: dial: %w", err)
		}
		p.ch, p.conn = ch, conn
	}
	return p.ch, nil
}

// Provision declares the exchange, or the destination queue when
// publishing to the default exchange.
func (p *Producer) Provision(_ context.Context, d destination.Destination) error {
	ch, err := p.channel()
	if err != nil {
		return err
	}
	if p.cfg.Exchange != "" {
		return ch.ExchangeDeclare(p.cfg.Exchange, p.cfg.ExchangeKind, true, false, false, false, nil)
	}
	_, err = ch.QueueDeclare(d.Name, true, false, false, false, nil)
	return err
}

// Send publishes one message. Partition hints have no AMQP equivalent; the
// partition key already travels as a header.
func (p *Producer) Send(ctx context.Context, d destination.Destination, msg amqp.Publishing, _ sink.PartitionHint) error {
	ch, err := p.channel()
	if err != nil {
		return err
	}
	return ch.PublishWithContext(ctx, p.cfg.Exchange, d.Name, p.cfg.Mandatory, false, msg)
}

func (p *Producer) Close(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == nil {
		return nil
	}
	err := errors.Join(p.ch.Close(), p.conn.Close())
	p.ch, p.conn = nil, nil
	return err
}
