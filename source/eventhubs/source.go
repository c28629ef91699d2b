// Package eventhubs consumes an event hub through an azeventhubs Processor.
// Partition ownership is balanced through a blob checkpoint store; every
// owned partition is a partition context and losing ownership closes it.
package eventhubs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"ackflow/checkpoint"
	"ackflow/destination"
	"ackflow/source"
	"ackflow/telemetry"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azeventhubs"
	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azeventhubs/checkpoints"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
	"github.com/sourcegraph/conc"
)

// partitionClient is the part of *azeventhubs.ProcessorPartitionClient the
// source uses.
type partitionClient interface {
	PartitionID() string
	ReceiveEvents(ctx context.Context, count int, opts *azeventhubs.ReceiveEventsOptions) ([]*azeventhubs.ReceivedEventData, error)
	UpdateCheckpoint(ctx context.Context, e *azeventhubs.ReceivedEventData, opts *azeventhubs.UpdateCheckpointOptions) error
	Close(ctx context.Context) error
}

// dispatcher hands out partition clients as the processor claims
// partitions. Next returns nil once the processor stopped.
type dispatcher interface {
	Run(ctx context.Context) error
	Next(ctx context.Context) partitionClient
}

type processorDispatcher struct {
	p *azeventhubs.Processor
}

func (d processorDispatcher) Run(ctx context.Context) error { return d.p.Run(ctx) }

func (d processorDispatcher) Next(ctx context.Context) partitionClient {
	pc := d.p.NextPartitionClient(ctx)
	if pc == nil {
		return nil
	}
	return pc
}

type Option func(*Source)

// WithObserver logs through the observer's logger.
func WithObserver(obs *telemetry.Observer) Option {
	return func(s *Source) { s.log = obs.Logger() }
}

type Source struct {
	cfg Config
	log *slog.Logger

	// A processor can only run once, so every Subscribe builds a new one.
	newDispatcher   func() (dispatcher, error)
	createContainer func(ctx context.Context) error
	close           func(ctx context.Context) error
}

func New(cfg Config, opts ...Option) (*Source, error) {
	applyDefaults(&cfg)
	if cfg.ConnectionString == "" || cfg.EventHub == "" {
		return nil, errors.New("eventhubs: connection_string and event_hub are required")
	}
	if cfg.CheckpointStore.ConnectionString == "" || cfg.CheckpointStore.Container == "" {
		return nil, errors.New("eventhubs: checkpoint_store is required")
	}

	cc, err := container.NewClientFromConnectionString(cfg.CheckpointStore.ConnectionString, cfg.CheckpointStore.Container, nil)
	if err != nil {
		return nil, fmt.Errorf("eventhubs: checkpoint container: %w", err)
	}
	store, err := checkpoints.NewBlobStore(cc, nil)
	if err != nil {
		return nil, fmt.Errorf("eventhubs: checkpoint store: %w", err)
	}
	consumer, err := azeventhubs.NewConsumerClientFromConnectionString(cfg.ConnectionString, cfg.EventHub, cfg.ConsumerGroup, nil)
	if err != nil {
		return nil, err
	}

	popts := processorOptions(cfg)
	s := &Source{
		cfg: cfg,
		log: telemetry.Nop().Logger(),
		newDispatcher: func() (dispatcher, error) {
			p, err := azeventhubs.NewProcessor(consumer, store, popts)
			if err != nil {
				return nil, err
			}
			return processorDispatcher{p}, nil
		},
		createContainer: func(ctx context.Context) error {
			_, err := cc.Create(ctx, nil)
			return err
		},
		close: consumer.Close,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func processorOptions(cfg Config) *azeventhubs.ProcessorOptions {
	start := azeventhubs.StartPosition{Latest: to.Ptr(true)}
	if cfg.StartFrom == "earliest" {
		start = azeventhubs.StartPosition{Earliest: to.Ptr(true)}
	}
	strategy := azeventhubs.ProcessorStrategyBalanced
	if cfg.Strategy == "greedy" {
		strategy = azeventhubs.ProcessorStrategyGreedy
	}
	return &azeventhubs.ProcessorOptions{
		LoadBalancingStrategy: strategy,
		UpdateInterval:        cfg.UpdateInterval,
		StartPositions:        azeventhubs.StartPositions{Default: start},
	}
}

func (s *Source) Destination() destination.Destination {
	return destination.Destination{Name: s.cfg.EventHub, Group: s.cfg.ConsumerGroup}
}

func (s *Source) Family() checkpoint.Family { return checkpoint.PartitionCursor }

// Provision creates the checkpoint container. The event hub itself is
// managed outside the data plane.
func (s *Source) Provision(ctx context.Context, _ destination.Destination) error {
	err := s.createContainer(ctx)
	if bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
		return nil
	}
	return err
}

func (s *Source) Subscribe(ctx context.Context, l source.Listener[*azeventhubs.ReceivedEventData]) (source.Subscription, error) {
	d, err := s.newDispatcher()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)

	var wg conc.WaitGroup
	wg.Go(func() {
		if err := d.Run(ctx); err != nil && ctx.Err() == nil {
			s.log.Error("eventhubs processor stopped", telemetry.DestinationAttr(s.cfg.EventHub), telemetry.ErrAttr(err))
		}
	})
	wg.Go(func() {
		for {
			pc := d.Next(ctx)
			if pc == nil {
				return
			}
			wg.Go(func() { s.consume(ctx, pc, l) })
		}
	})

	return source.SubscriptionFunc(func(stopCtx context.Context) error {
		cancel()
		done := make(chan struct{})
		go func() {
			defer close(done)
			wg.Wait()
		}()
		select {
		case <-done:
			return nil
		case <-stopCtx.Done():
			return stopCtx.Err()
		}
	}), nil
}

func (s *Source) consume(ctx context.Context, pc partitionClient, l source.Listener[*azeventhubs.ReceivedEventData]) {
	id := pc.PartitionID()
	defer func() {
		if err := pc.Close(context.WithoutCancel(ctx)); err != nil {
			s.log.Debug("eventhubs partition client close", telemetry.PartitionAttr(id), telemetry.ErrAttr(err))
		}
	}()

	pctx := checkpoint.NewPartitionContext(id, s.cfg.ConsumerGroup, checkpoint.CommitterFunc(
		func(ctx context.Context, pos checkpoint.Position) error {
			e, ok := pos.Ref.(*azeventhubs.ReceivedEventData)
			if !ok {
				return fmt.Errorf("eventhubs: position %d carries no event", pos.Offset)
			}
			return pc.UpdateCheckpoint(ctx, e, nil)
		}))
	l.PartitionOpened(ctx, pctx)
	defer l.PartitionClosed(context.WithoutCancel(ctx), pctx)

	for {
		rctx, cancel := context.WithTimeout(ctx, s.cfg.ReceiveTimeout)
		events, err := pc.ReceiveEvents(rctx, s.cfg.BatchSize, nil)
		cancel()
		if ctx.Err() != nil {
			return
		}
		if err != nil && !errors.Is(err, context.DeadlineExceeded) {
			if ownershipLost(err) {
				s.log.Info("eventhubs partition ownership lost",
					telemetry.PartitionAttr(id),
					telemetry.ConsumerGroupAttr(s.cfg.ConsumerGroup))
			} else {
				s.log.Warn("eventhubs receive failed", telemetry.PartitionAttr(id), telemetry.ErrAttr(err))
			}
			return
		}
		for _, e := range events {
			err := l.Receive(ctx, source.Record[*azeventhubs.ReceivedEventData]{
				Wire:        e,
				PartitionID: id,
				Position:    checkpoint.Position{Offset: e.SequenceNumber, Ref: e},
			})
			if err != nil {
				s.log.Debug("eventhubs event not processed",
					telemetry.PartitionAttr(id),
					slog.Int64("sequence_number", e.SequenceNumber),
					telemetry.ErrAttr(err))
			}
		}
	}
}

func ownershipLost(err error) bool {
	var ehErr *azeventhubs.Error
	return errors.As(err, &ehErr) && ehErr.Code == azeventhubs.ErrorCodeOwnershipLost
}

func (s *Source) Close(ctx context.Context) error { return s.close(ctx) }
