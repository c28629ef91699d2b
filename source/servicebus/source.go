// Package servicebus receives from a Service Bus queue or subscription in
// peek-lock mode. Every message is a lock; completing the lock is the
// checkpoint.
package servicebus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"ackflow/checkpoint"
	"ackflow/destination"
	"ackflow/internal/sbutil"
	"ackflow/source"
	"ackflow/telemetry"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus/admin"
	"github.com/google/uuid"
)

// receiver is the part of *azservicebus.Receiver the source uses.
type receiver interface {
	ReceiveMessages(ctx context.Context, n int, opts *azservicebus.ReceiveMessagesOptions) ([]*azservicebus.ReceivedMessage, error)
	CompleteMessage(ctx context.Context, m *azservicebus.ReceivedMessage, opts *azservicebus.CompleteMessageOptions) error
	Close(ctx context.Context) error
}

type Option func(*Source)

// WithObserver logs through the observer's logger.
func WithObserver(obs *telemetry.Observer) Option {
	return func(s *Source) { s.log = obs.Logger() }
}

type Source struct {
	cfg Config
	log *slog.Logger

	newReceiver func() (receiver, error)
	admin       func() (sbutil.Admin, error)
	closeClient func(ctx context.Context) error

	mu   sync.Mutex
	recv receiver
}

func New(cfg Config, opts ...Option) (*Source, error) {
	applyDefaults(&cfg)
	if cfg.ConnectionString == "" {
		return nil, errors.New("servicebus: connection_string is required")
	}
	if (cfg.Queue == "") == (cfg.Topic == "") || (cfg.Topic != "" && cfg.Subscription == "") {
		return nil, errors.New("servicebus: set either queue or topic and subscription")
	}
	client, err := azservicebus.NewClientFromConnectionString(cfg.ConnectionString, nil)
	if err != nil {
		return nil, err
	}
	ropts := &azservicebus.ReceiverOptions{ReceiveMode: azservicebus.ReceiveModePeekLock}
	s := &Source{
		cfg: cfg,
		log: telemetry.Nop().Logger(),
		newReceiver: func() (receiver, error) {
			if cfg.Queue != "" {
				return client.NewReceiverForQueue(cfg.Queue, ropts)
			}
			return client.NewReceiverForSubscription(cfg.Topic, cfg.Subscription, ropts)
		},
		admin: func() (sbutil.Admin, error) {
			return admin.NewClientFromConnectionString(cfg.ConnectionString, nil)
		},
		closeClient: client.Close,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Source) Destination() destination.Destination {
	if s.cfg.Queue != "" {
		return destination.Destination{Name: s.cfg.Queue}
	}
	return destination.Destination{Name: s.cfg.Topic, Group: s.cfg.Subscription}
}

func (s *Source) Family() checkpoint.Family { return checkpoint.LockToken }

func (s *Source) Provision(ctx context.Context, d destination.Destination) error {
	a, err := s.admin()
	if err != nil {
		return err
	}
	if d.Group == "" {
		return sbutil.EnsureQueue(ctx, a, d.Name)
	}
	return sbutil.EnsureSubscription(ctx, a, d.Name, d.Group)
}

func (s *Source) receiver() (receiver, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recv == nil {
		r, err := s.newReceiver()
		if err != nil {
			return nil, err
		}
		s.recv = r
	}
	return s.recv, nil
}

// Complete settles the lock of a delivered message.
func (s *Source) Complete(ctx context.Context, l checkpoint.Lock) error {
	m, ok := l.Ref.(*azservicebus.ReceivedMessage)
	if !ok {
		return fmt.Errorf("servicebus: lock %s carries no message", l.Token)
	}
	r, err := s.receiver()
	if err != nil {
		return err
	}
	return r.CompleteMessage(ctx, m, nil)
}

func (s *Source) Subscribe(ctx context.Context, l source.Listener[*azservicebus.ReceivedMessage]) (source.Subscription, error) {
	r, err := s.receiver()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.receiveLoop(ctx, r, l)
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

func (s *Source) receiveLoop(ctx context.Context, r receiver, l source.Listener[*azservicebus.ReceivedMessage]) {
	dest := s.Destination().String()
	for {
		msgs, err := r.ReceiveMessages(ctx, s.cfg.MaxMessages, nil)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			s.log.Warn("servicebus receive failed", telemetry.DestinationAttr(dest), telemetry.ErrAttr(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.cfg.RetryDelay):
			}
			continue
		}
		for _, m := range msgs {
			err := l.Receive(ctx, source.Record[*azservicebus.ReceivedMessage]{
				Wire: m,
				Lock: checkpoint.Lock{Token: uuid.UUID(m.LockToken).String(), Ref: m},
			})
			if err != nil {
				s.log.Debug("servicebus message not processed",
					telemetry.DestinationAttr(dest),
					telemetry.MessageIDAttr(m.MessageID),
					telemetry.ErrAttr(err))
			}
		}
	}
}

// Close releases the receiver and the client. Locks still held are
// released by the broker when they expire.
func (s *Source) Close(ctx context.Context) error {
	s.mu.Lock()
	r := s.recv
	s.recv = nil
	s.mu.Unlock()
	var err error
	if r != nil {
		err = r.Close(ctx)
	}
	if s.closeClient != nil {
		err = errors.Join(err, s.closeClient(ctx))
	}
	return err
}
