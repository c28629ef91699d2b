// Package pipeline compiles a pipeline file into a Runner: one inbound
// adapter relaying to N outbound templates.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"time"

	"ackflow/checkpoint"
	"ackflow/convert"
	"ackflow/future"
	"ackflow/inbound"
	"ackflow/internal/config"
	"ackflow/internal/memory"
	"ackflow/outbound"
	"ackflow/telemetry"
)

type Option func(*Env)

func WithObserver(o *telemetry.Observer) Option {
	return func(e *Env) { e.Obs = o }
}

// WithMemoryBroker shares b between memory sources and sinks.
func WithMemoryBroker(b *memory.Broker) Option {
	return func(e *Env) { e.Memory = b }
}

// WithStdout redirects the stdout sink.
func WithStdout(w io.Writer) Option {
	return func(e *Env) { e.Stdout = w }
}

func Compile(path string, opts ...Option) (*Runner, error) {
	f, err := config.LoadPipelineSpec(path)
	if err != nil {
		return nil, err
	}
	env := Env{Obs: telemetry.Nop(), Debug: f.Debug}
	for _, opt := range opts {
		opt(&env)
	}
	if env.Memory == nil {
		env.Memory = memory.NewBroker()
	}

	mode, err := checkpoint.ParseMode(f.Source.Checkpoint.Mode)
	if err != nil {
		return nil, err
	}
	target, err := convert.ParseTarget(f.Source.Payload)
	if err != nil {
		return nil, err
	}

	r := newRunner(env.Obs, mode)
	for i, s := range f.Sinks {
		mk, err := sinkFactory(s.Kind)
		if err != nil {
			return nil, closeOnErr(r, err)
		}
		sopts := []outbound.Option{outbound.WithObserver(env.Obs)}
		if s.FireAndForget {
			sopts = append(sopts, outbound.FireAndForget())
		}
		out, err := mk(env, s, sopts)
		if err != nil {
			return nil, closeOnErr(r, fmt.Errorf("sink %d (%s): %w", i, s.Kind, err))
		}
		r.addSink(s.Kind, out, s.Destination, s.KeepPartition)
	}

	iopts := []inbound.Option{
		inbound.WithCheckpoint(checkpoint.Config{Mode: mode, BatchCount: f.Source.Checkpoint.BatchCount}),
		inbound.WithTarget(target),
		inbound.WithObserver(env.Obs),
	}
	if f.Source.PollMS > 0 {
		iopts = append(iopts, inbound.WithPollInterval(time.Duration(f.Source.PollMS)*time.Millisecond))
	}
	if f.Source.Workers > 0 {
		pool, err := future.NewPool(f.Source.Workers)
		if err != nil {
			return nil, closeOnErr(r, err)
		}
		r.pool = pool
		iopts = append(iopts, inbound.WithExecutor(pool))
	}

	mk, err := sourceFactory(f.Source.Kind)
	if err != nil {
		return nil, closeOnErr(r, err)
	}
	in, err := mk(env, f.Source, r.relay, iopts)
	if err != nil {
		return nil, closeOnErr(r, fmt.Errorf("source %s: %w", f.Source.Kind, err))
	}
	r.in = in
	return r, nil
}

func closeOnErr(r *Runner, err error) error {
	_ = r.Close(context.Background())
	return err
}
