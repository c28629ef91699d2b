// Package inbound delivers broker messages to an application handler and
// checkpoints them according to a checkpoint.Policy.
package inbound

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"ackflow/checkpoint"
	"ackflow/convert"
	"ackflow/destination"
	"ackflow/message"
	"ackflow/source"
	"ackflow/telemetry"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type State int

const (
	Created State = iota
	Running
	Stopped
	Destroyed
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	case Destroyed:
		return "destroyed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Adapter binds one source to one handler. The checkpoint mode is fixed
// at construction.
type Adapter[W any] struct {
	src     source.Source[W]
	conv    convert.Inbound[W]
	handler Handler
	opts    options

	cp     checkpoint.Checkpointer
	parts  *checkpoint.PartitionCheckpointer
	locks  *checkpoint.LockTokenCheckpointer
	policy *checkpoint.Policy

	mu     sync.Mutex
	state  State
	sub    source.Subscription
	cancel context.CancelFunc
	done   chan struct{}
}

// New builds an adapter for src. src must be a source.Subscriber or a
// source.Poller; lock-token sources must also implement
// checkpoint.Completer.
func New[W any](src source.Source[W], conv convert.Inbound[W], handler Handler, opts ...Option) (*Adapter[W], error) {
	o := defaults()
	for _, opt := range opts {
		opt(&o)
	}
	if o.onError == nil {
		o.onError = func(ctx context.Context, err error) {
			o.obs.Logger().ErrorContext(ctx, "inbound delivery failed", telemetry.ErrAttr(err))
		}
	}

	a := &Adapter[W]{src: src, conv: conv, handler: handler, opts: o}
	switch src.(type) {
	case source.Subscriber[W], source.Poller[W]:
	default:
		return nil, fmt.Errorf("inbound: %T is neither a subscriber nor a poller", src)
	}

	dest := src.Destination()
	switch src.Family() {
	case checkpoint.PartitionCursor:
		a.parts = checkpoint.NewPartitionCheckpointer(dest.String(), o.exec)
		a.cp = a.parts
	case checkpoint.LockToken:
		c, ok := src.(checkpoint.Completer)
		if !ok {
			return nil, fmt.Errorf("inbound: lock-token source %T cannot complete locks", src)
		}
		a.locks = checkpoint.NewLockTokenCheckpointer(dest.String(), c, o.exec)
		a.cp = a.locks
	default:
		a.cp = checkpoint.UnsupportedCheckpointer{Broker: dest.String()}
	}

	policy, err := checkpoint.NewPolicy(o.checkpoint, a.cp)
	if err != nil {
		return nil, err
	}
	a.policy = policy
	return a, nil
}

func (a *Adapter[W]) Checkpointer() checkpoint.Checkpointer { return a.cp }

func (a *Adapter[W]) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Adapter[W]) IsRunning() bool { return a.State() == Running }

// Start provisions the destination and begins receiving. It is a no-op
// while running.
func (a *Adapter[W]) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch a.state {
	case Running:
		return nil
	case Destroyed:
		return ErrDestroyed
	}

	dest := a.src.Destination()
	if p, ok := a.src.(destination.Provisioner); ok {
		if err := destination.Provision(ctx, p, dest); err != nil {
			return err
		}
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	switch s := a.src.(type) {
	case source.Subscriber[W]:
		sub, err := s.Subscribe(runCtx, listener[W]{a})
		if err != nil {
			cancel()
			return fmt.Errorf("inbound: subscribe %s: %w", dest, err)
		}
		a.sub = sub
	case source.Poller[W]:
		a.done = make(chan struct{})
		go a.pollLoop(runCtx, s, a.done)
	}

	a.cancel = cancel
	a.state = Running
	a.opts.obs.Logger().InfoContext(ctx, "inbound adapter started",
		telemetry.DestinationAttr(dest.String()),
		telemetry.ModeAttr(a.policy.Config().Mode.String()),
	)
	return nil
}

// pollLoop polls at a fixed delay: the interval starts after a round
// finished.
func (a *Adapter[W]) pollLoop(ctx context.Context, p source.Poller[W], done chan<- struct{}) {
	defer close(done)
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		if err := p.Poll(ctx, a.receive); err != nil && ctx.Err() == nil {
			a.opts.obs.Logger().WarnContext(ctx, "poll failed",
				telemetry.DestinationAttr(p.Destination().String()),
				telemetry.ErrAttr(err),
			)
		}
		timer.Reset(a.opts.pollInterval)
	}
}

// Stop deregisters from the broker. When Stop returns no receive is in
// progress and none will start. Checkpoints already issued keep running.
func (a *Adapter[W]) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stopLocked(ctx)
}

func (a *Adapter[W]) stopLocked(ctx context.Context) error {
	if a.state != Running {
		return nil
	}
	var err error
	if a.sub != nil {
		err = a.sub.Stop(ctx)
		a.sub = nil
	}
	a.cancel()
	if a.done != nil {
		select {
		case <-a.done:
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		}
		a.done = nil
	}
	a.state = Stopped
	a.opts.obs.Logger().InfoContext(ctx, "inbound adapter stopped",
		telemetry.DestinationAttr(a.src.Destination().String()))
	return err
}

// Destroy stops the adapter and closes the source. The adapter cannot be
// started again.
func (a *Adapter[W]) Destroy(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == Destroyed {
		return nil
	}
	err := a.stopLocked(ctx)
	a.state = Destroyed
	return errors.Join(err, a.src.Close(ctx))
}

func (a *Adapter[W]) receive(ctx context.Context, r source.Record[W]) error {
	dest := a.src.Destination()
	obs := a.opts.obs

	msg, err := a.conv.ToMessage(r.Wire, a.opts.target)
	if err != nil {
		obs.Delivered(dest.String(), err)
		a.opts.onError(ctx, err)
		return err
	}

	b := message.FromMessage(msg).
		Header(message.HeaderCheckpointer, a.cp).
		HeaderIfAbsent(message.HeaderDestination, dest.Name)
	if dest.Group != "" {
		b.HeaderIfAbsent(message.HeaderConsumerGroup, dest.Group)
	}
	if r.PartitionID != "" {
		b.Header(message.HeaderPartitionID, r.PartitionID).
			Header(message.HeaderPosition, r.Position)
	}
	if a.locks != nil {
		b.Header(message.HeaderLockToken, r.Lock.Token)
	}
	msg = b.Build()

	switch {
	case a.parts != nil && r.PartitionID != "":
		if pc, ok := a.parts.Partition(r.PartitionID); ok {
			pc.Track(r.Position)
		}
	case a.locks != nil:
		a.locks.Hold(msg.ID(), r.Lock)
	}

	ctx, span := obs.Start(ctx, "inbound.Receive", trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.destination.name", dest.Name),
			attribute.String("messaging.message.id", msg.ID()),
		))
	defer span.End()
	if r.PartitionID != "" {
		span.SetAttributes(attribute.String("messaging.destination.partition.id", r.PartitionID))
	}

	if err := a.handler(ctx, msg); err != nil {
		if a.locks != nil {
			a.locks.Forget(r.Lock.Token)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		obs.Delivered(dest.String(), err)
		obs.ListenerFailed(dest.String())
		lerr := &ListenerExecutionFailedError{Destination: dest.String(), MessageID: msg.ID(), Err: err}
		a.opts.onError(ctx, lerr)
		return lerr
	}
	obs.Delivered(dest.String(), nil)

	f := a.policy.Delivered(context.WithoutCancel(ctx), msg)
	if f == nil {
		return nil
	}
	id := msg.ID()
	f.Then(func(err error) {
		obs.Checkpointed(dest.String(), err)
		if err != nil {
			obs.Logger().Warn("checkpoint failed",
				telemetry.DestinationAttr(dest.String()),
				telemetry.MessageIDAttr(id),
				telemetry.ErrAttr(err),
			)
			return
		}
		obs.Logger().Debug("checkpointed",
			telemetry.DestinationAttr(dest.String()),
			telemetry.MessageIDAttr(id),
		)
	})
	return nil
}

type listener[W any] struct {
	a *Adapter[W]
}

func (l listener[W]) PartitionOpened(ctx context.Context, pc *checkpoint.PartitionContext) {
	if l.a.parts == nil {
		return
	}
	added := l.a.parts.AddPartition(pc)
	l.a.opts.obs.Logger().InfoContext(ctx, "partition opened",
		telemetry.DestinationAttr(l.a.src.Destination().String()),
		telemetry.PartitionAttr(pc.ID()),
		telemetry.ConsumerGroupAttr(pc.Group()),
		slog.Bool("added", added),
	)
}

func (l listener[W]) PartitionClosed(ctx context.Context, pc *checkpoint.PartitionContext) {
	if l.a.parts == nil {
		return
	}
	removed := l.a.parts.RemovePartition(pc)
	if removed {
		l.a.policy.Reset(pc.ID())
	}
	l.a.opts.obs.Logger().InfoContext(ctx, "partition closed",
		telemetry.DestinationAttr(l.a.src.Destination().String()),
		telemetry.PartitionAttr(pc.ID()),
		slog.Bool("removed", removed),
	)
}

func (l listener[W]) Receive(ctx context.Context, r source.Record[W]) error {
	return l.a.receive(ctx, r)
}
