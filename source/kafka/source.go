// Package kafka consumes a topic through a sarama consumer group. Each
// claimed partition is a partition context; claim start and end map to
// partition open and close.
package kafka

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"

	"ackflow/checkpoint"
	"ackflow/destination"
	"ackflow/internal/saramautil"
	"ackflow/source"
	"ackflow/telemetry"

	"github.com/IBM/sarama"
)

type Option func(*Source)

// WithObserver logs through the observer's logger.
func WithObserver(obs *telemetry.Observer) Option {
	return func(s *Source) { s.log = obs.Logger() }
}

// Source implements source.Subscriber for one topic and consumer group.
type Source struct {
	cfg Config
	sc  *sarama.Config
	log *slog.Logger

	newGroup func() (sarama.ConsumerGroup, error)
	newAdmin func() (sarama.ClusterAdmin, error)

	mu    sync.Mutex
	group sarama.ConsumerGroup
}

// New prepares the consumer. No connection is made until Subscribe.
func New(cfg Config, opts ...Option) (*Source, error) {
	applyDefaults(&cfg)
	if cfg.Topic == "" || cfg.GroupID == "" {
		return nil, errors.New("kafka: topic and group_id are required")
	}
	sc, err := saramautil.NewConfig(cfg.Client)
	if err != nil {
		return nil, err
	}
	sc.Consumer.Return.Errors = true
	switch cfg.StartFrom {
	case "oldest":
		sc.Consumer.Offsets.Initial = sarama.OffsetOldest
	default:
		sc.Consumer.Offsets.Initial = sarama.OffsetNewest
	}

	s := &Source{cfg: cfg, sc: sc, log: telemetry.Nop().Logger()}
	s.newGroup = func() (sarama.ConsumerGroup, error) {
		return sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, sc)
	}
	s.newAdmin = func() (sarama.ClusterAdmin, error) {
		return sarama.NewClusterAdmin(cfg.Brokers, sc)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Source) Destination() destination.Destination {
	return destination.Destination{Name: s.cfg.Topic, Group: s.cfg.GroupID}
}

func (s *Source) Family() checkpoint.Family { return checkpoint.PartitionCursor }

// Provision validates the topic, creating it when create_topics is set.
func (s *Source) Provision(_ context.Context, d destination.Destination) error {
	admin, err := s.newAdmin()
	if err != nil {
		return err
	}
	defer admin.Close()
	return saramautil.EnsureTopic(admin, s.cfg.Client, d.Name)
}

func (s *Source) Subscribe(ctx context.Context, l source.Listener[*sarama.ConsumerMessage]) (source.Subscription, error) {
	group, err := s.newGroup()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.group = group
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	bp := NewController(s.cfg.BackPressure.Capacity, max(s.cfg.BackPressure.Capacity/10, 1), s.cfg.BackPressure.CheckInt)
	h := &groupHandler{
		topic:    s.cfg.Topic,
		groupID:  s.cfg.GroupID,
		listener: l,
		bp:       bp,
		gate:     newCommitGate(s.cfg.Checkpoint.CommitInt),
		log:      s.log,
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for err := range group.Errors() {
			s.log.Warn("kafka consumer group error", telemetry.DestinationAttr(s.cfg.Topic), telemetry.ErrAttr(err))
		}
	}()
	go func() {
		defer wg.Done()
		for {
			if err := group.Consume(ctx, []string{s.cfg.Topic}, h); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				s.log.Error("kafka consume failed", telemetry.DestinationAttr(s.cfg.Topic), telemetry.ErrAttr(err))
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	return source.SubscriptionFunc(func(context.Context) error {
		cancel()
		bp.Close()
		err := group.Close()
		wg.Wait()
		return err
	}), nil
}

func (s *Source) Close(context.Context) error { return nil }

type groupHandler struct {
	topic    string
	groupID  string
	listener source.Listener[*sarama.ConsumerMessage]
	bp       *Controller
	gate     *commitGate
	log      *slog.Logger
}

func (*groupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (*groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := sess.Context()
	id := strconv.Itoa(int(claim.Partition()))
	pc := checkpoint.NewPartitionContext(id, h.groupID, &sessionCommitter{
		sess:      sess,
		topic:     claim.Topic(),
		partition: claim.Partition(),
		gate:      h.gate,
	})
	h.listener.PartitionOpened(ctx, pc)
	defer h.listener.PartitionClosed(context.WithoutCancel(ctx), pc)

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := h.bp.Acquire(ctx); err != nil {
				return nil
			}
			err := h.listener.Receive(ctx, source.Record[*sarama.ConsumerMessage]{
				Wire:        msg,
				PartitionID: id,
				Position:    checkpoint.Position{Offset: msg.Offset, Ref: msg},
			})
			if err != nil {
				h.log.Debug("kafka record not processed",
					telemetry.DestinationAttr(msg.Topic),
					telemetry.PartitionAttr(id),
					slog.Int64("offset", msg.Offset),
					telemetry.ErrAttr(err))
			}
		}
	}
}
