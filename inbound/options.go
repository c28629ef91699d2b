package inbound

import (
	"context"
	"time"

	"ackflow/checkpoint"
	"ackflow/convert"
	"ackflow/future"
	"ackflow/message"
	"ackflow/telemetry"
)

const DefaultPollInterval = time.Second

// Handler processes one message. A non-nil error marks the delivery
// failed; no checkpoint is issued for it.
type Handler func(ctx context.Context, m *message.Message) error

// AsyncHandler adapts a handler that completes through a future. The
// adapter waits for the future before applying the checkpoint policy.
func AsyncHandler(fn func(ctx context.Context, m *message.Message) *future.Future) Handler {
	return func(ctx context.Context, m *message.Message) error {
		return fn(ctx, m).Wait(ctx)
	}
}

// ErrorHandler receives conversion and listener failures.
type ErrorHandler func(ctx context.Context, err error)

type options struct {
	checkpoint   checkpoint.Config
	target       convert.Target
	obs          *telemetry.Observer
	exec         future.Executor
	onError      ErrorHandler
	pollInterval time.Duration
}

type Option func(*options)

func WithCheckpoint(cfg checkpoint.Config) Option {
	return func(o *options) { o.checkpoint = cfg }
}

// WithTarget selects the payload type handed to the handler.
func WithTarget(t convert.Target) Option {
	return func(o *options) { o.target = t }
}

func WithObserver(obs *telemetry.Observer) Option {
	return func(o *options) { o.obs = obs }
}

// WithExecutor sets where checkpoint calls run.
func WithExecutor(e future.Executor) Option {
	return func(o *options) { o.exec = e }
}

func WithErrorHandler(h ErrorHandler) Option {
	return func(o *options) { o.onError = h }
}

// WithPollInterval sets the delay between two polls of a pull source.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) { o.pollInterval = d }
}

func defaults() options {
	return options{
		target:       convert.Bytes,
		obs:          telemetry.Nop(),
		exec:         future.Goroutine,
		pollInterval: DefaultPollInterval,
	}
}
