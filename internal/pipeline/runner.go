package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"ackflow/checkpoint"
	"ackflow/destination"
	"ackflow/future"
	"ackflow/message"
	"ackflow/sink"
	"ackflow/telemetry"
)

type route struct {
	kind string
	out  Outbound
	// dest.Name is empty when the sink reuses the source destination name.
	dest          destination.Destination
	keepPartition bool
}

// Runner relays every message of one inbound adapter to N sinks.
type Runner struct {
	in     Inbound
	routes []route
	mode   checkpoint.Mode
	obs    *telemetry.Observer
	pool   *future.Pool

	mu      sync.Mutex
	started bool
	closed  bool
}

func newRunner(obs *telemetry.Observer, mode checkpoint.Mode) *Runner {
	if obs == nil {
		obs = telemetry.Nop()
	}
	return &Runner{obs: obs, mode: mode}
}

func (r *Runner) addSink(kind string, out Outbound, dest string, keepPartition bool) {
	r.routes = append(r.routes, route{
		kind:          kind,
		out:           out,
		dest:          destination.Destination{Name: dest},
		keepPartition: keepPartition,
	})
}

// relay is the inbound handler. It returns once every sink acknowledged
// or one failed. With manual checkpointing the message is checkpointed
// only after all sinks acknowledged it.
func (r *Runner) relay(ctx context.Context, m *message.Message) error {
	base := sink.HintFromMessage(m)
	fs := make([]*future.Future, 0, len(r.routes))
	for _, rt := range r.routes {
		d := rt.dest
		if d.Name == "" {
			d.Name = m.Headers().String(message.HeaderDestination)
		}
		hint := base
		if !rt.keepPartition {
			hint.PartitionID = ""
		}
		fs = append(fs, rt.out.SendToPartitionAsync(ctx, d, m, hint))
	}
	if err := future.Join(fs...).Wait(ctx); err != nil {
		return fmt.Errorf("relay %s: %w", m.ID(), err)
	}

	if r.mode != checkpoint.Manual {
		return nil
	}
	cp, ok := checkpoint.From(m)
	if !ok || cp.Family() == checkpoint.Unsupported {
		return nil
	}
	id := m.ID()
	checkpoint.Delivered(context.WithoutCancel(ctx), cp, m).Then(func(err error) {
		if err != nil {
			r.obs.Logger().Warn("end-to-end checkpoint failed",
				telemetry.MessageIDAttr(id), telemetry.ErrAttr(err))
		}
	})
	return nil
}

// Start provisions the sinks with a fixed destination, then starts the
// inbound adapter.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errors.New("runner: closed")
	}
	if r.in == nil {
		return errors.New("runner: no source configured")
	}
	if !r.started {
		for _, rt := range r.routes {
			if rt.dest.Name == "" {
				continue
			}
			if err := rt.out.Provision(ctx, rt.dest); err != nil {
				return fmt.Errorf("sink %s: %w", rt.kind, err)
			}
		}
		r.started = true
	}
	return r.in.Start(ctx)
}

func (r *Runner) Stop(ctx context.Context) error { return r.in.Stop(ctx) }

func (r *Runner) IsRunning() bool { return r.in != nil && r.in.IsRunning() }

// Checkpointer is the source's checkpointer, for manual checkpoint calls.
func (r *Runner) Checkpointer() checkpoint.Checkpointer { return r.in.Checkpointer() }

// Close destroys the inbound adapter and closes every sink.
func (r *Runner) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	var errs []error
	if r.in != nil {
		errs = append(errs, r.in.Destroy(ctx))
	}
	for _, rt := range r.routes {
		if err := rt.out.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("sink %s: %w", rt.kind, err))
		}
	}
	if r.pool != nil {
		r.pool.Release()
	}
	return errors.Join(errs...)
}
