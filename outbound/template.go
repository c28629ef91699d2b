// Package outbound sends messages through a broker producer and reports
// the result as a future.
package outbound

import (
	"context"
	"errors"
	"fmt"

	"ackflow/convert"
	"ackflow/destination"
	"ackflow/future"
	"ackflow/message"
	"ackflow/sink"
	"ackflow/telemetry"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OversizedBatchError reports the first message that did not fit in the
// broker batch. Nothing of the batch was sent.
type OversizedBatchError struct {
	Destination string
	Index       int
	MaxBytes    int64
}

func (e *OversizedBatchError) Error() string {
	return fmt.Sprintf("outbound: batch for %s exceeds %d bytes at message %d", e.Destination, e.MaxBytes, e.Index)
}

func (e *OversizedBatchError) Unwrap() error { return sink.ErrTooLarge }

type options struct {
	obs           *telemetry.Observer
	exec          future.Executor
	fireAndForget bool
}

type Option func(*options)

func WithObserver(obs *telemetry.Observer) Option {
	return func(o *options) { o.obs = obs }
}

// WithExecutor sets where sends run. The default starts a goroutine per send.
func WithExecutor(e future.Executor) Option {
	return func(o *options) { o.exec = e }
}

// FireAndForget completes send futures once the send was submitted.
// Broker failures are only logged and counted.
func FireAndForget() Option {
	return func(o *options) { o.fireAndForget = true }
}

type Template[W any] struct {
	prod sink.Producer[W]
	conv convert.Outbound[W]
	opts options
}

func New[W any](p sink.Producer[W], conv convert.Outbound[W], opts ...Option) *Template[W] {
	o := options{obs: telemetry.Nop(), exec: future.Goroutine}
	for _, opt := range opts {
		opt(&o)
	}
	return &Template[W]{prod: p, conv: conv, opts: o}
}

// SendAsync sends msg, targeting the partition or session named in its
// headers.
func (t *Template[W]) SendAsync(ctx context.Context, d destination.Destination, msg *message.Message) *future.Future {
	return t.SendToPartitionAsync(ctx, d, msg, sink.HintFromMessage(msg))
}

func (t *Template[W]) SendToPartitionAsync(ctx context.Context, d destination.Destination, msg *message.Message, hint sink.PartitionHint) *future.Future {
	w, err := t.conv.FromMessage(msg)
	if err != nil {
		t.opts.obs.Sent(d.String(), err)
		return future.Failed(err)
	}
	return t.submit(ctx, d, 1, func(ctx context.Context) error {
		return t.prod.Send(ctx, d, w, hint)
	})
}

// SendBatchAsync sends msgs in one broker batch. Messages share the batch
// partition when they all carry the same hint; otherwise the broker
// chooses.
func (t *Template[W]) SendBatchAsync(ctx context.Context, d destination.Destination, msgs []*message.Message) *future.Future {
	if len(msgs) == 0 {
		return future.Completed()
	}
	batcher, ok := t.prod.(sink.Batcher[W])
	if !ok {
		return future.Failed(fmt.Errorf("outbound: %s: %w", d, sink.ErrBatchNotSupported))
	}

	wires := make([]W, 0, len(msgs))
	hint := sink.HintFromMessage(msgs[0])
	for _, m := range msgs {
		w, err := t.conv.FromMessage(m)
		if err != nil {
			t.opts.obs.Sent(d.String(), err)
			return future.Failed(err)
		}
		wires = append(wires, w)
		if sink.HintFromMessage(m) != hint {
			hint = sink.PartitionHint{}
		}
	}

	return t.submit(ctx, d, len(wires), func(ctx context.Context) error {
		batch, err := batcher.NewBatch(ctx, d, hint)
		if err != nil {
			return err
		}
		for i, w := range wires {
			if err := batch.Add(w); err != nil {
				if errors.Is(err, sink.ErrTooLarge) {
					return &OversizedBatchError{Destination: d.String(), Index: i, MaxBytes: batch.MaxBytes()}
				}
				return err
			}
		}
		return batch.Send(ctx)
	})
}

func (t *Template[W]) submit(ctx context.Context, d destination.Destination, n int, send func(context.Context) error) *future.Future {
	obs := t.opts.obs
	sendCtx := ctx
	if t.opts.fireAndForget {
		sendCtx = context.WithoutCancel(ctx)
	}
	f := future.Go(t.opts.exec, func() error {
		ctx, span := obs.Start(sendCtx, "outbound.Send", trace.WithSpanKind(trace.SpanKindProducer),
			trace.WithAttributes(
				attribute.String("messaging.destination.name", d.Name),
				attribute.Int("messaging.batch.message_count", n),
			))
		defer span.End()

		err := send(ctx)
		obs.Sent(d.String(), err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return err
	})
	if !t.opts.fireAndForget {
		return f
	}
	f.Then(func(err error) {
		if err != nil {
			obs.Logger().Warn("fire-and-forget send failed",
				telemetry.DestinationAttr(d.String()), telemetry.ErrAttr(err))
		}
	})
	return future.Completed()
}

// Provision creates or validates d when the producer supports it.
func (t *Template[W]) Provision(ctx context.Context, d destination.Destination) error {
	p, ok := t.prod.(destination.Provisioner)
	if !ok {
		return nil
	}
	return destination.Provision(ctx, p, d)
}

func (t *Template[W]) Close(ctx context.Context) error { return t.prod.Close(ctx) }
