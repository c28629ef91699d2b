// Package telemetry carries the logger, tracer and counters an adapter
// reports through. An Observer is passed in explicitly; nothing here is
// process global.
package telemetry

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const instrumentation = "ackflow"

const (
	ResultOK    = "ok"
	ResultError = "error"
)

type Observer struct {
	log    *slog.Logger
	tracer trace.Tracer

	delivered   *prometheus.CounterVec
	checkpoints *prometheus.CounterVec
	failures    *prometheus.CounterVec
	sent        *prometheus.CounterVec
}

// NewObserver builds an Observer. A nil logger discards, a nil registerer
// leaves the counters unregistered and a nil provider uses the otel
// global provider.
func NewObserver(log *slog.Logger, reg prometheus.Registerer, tp trace.TracerProvider) (*Observer, error) {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	o := &Observer{
		log:    log,
		tracer: tp.Tracer(instrumentation),
		delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ackflow_messages_delivered_total",
			Help: "Messages handed to the application handler.",
		}, []string{"destination", "result"}),
		checkpoints: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ackflow_checkpoints_total",
			Help: "Checkpoints issued by the inbound adapter.",
		}, []string{"destination", "result"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ackflow_listener_failures_total",
			Help: "Messages the application handler failed.",
		}, []string{"destination"}),
		sent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ackflow_messages_sent_total",
			Help: "Messages sent by outbound templates.",
		}, []string{"destination", "result"}),
	}
	if reg == nil {
		return o, nil
	}
	var err error
	for _, c := range []**prometheus.CounterVec{&o.delivered, &o.checkpoints, &o.failures, &o.sent} {
		if *c, err = register(reg, *c); err != nil {
			return nil, err
		}
	}
	return o, nil
}

func register(reg prometheus.Registerer, c *prometheus.CounterVec) (*prometheus.CounterVec, error) {
	err := reg.Register(c)
	if err == nil {
		return c, nil
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
			return existing, nil
		}
	}
	return nil, err
}

// Nop returns an Observer that discards everything.
func Nop() *Observer {
	o, _ := NewObserver(nil, nil, noop.NewTracerProvider())
	return o
}

func (o *Observer) Logger() *slog.Logger { return o.log }

// Start opens a span named name.
func (o *Observer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return o.tracer.Start(ctx, name, opts...)
}

func result(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultOK
}

func (o *Observer) Delivered(dest string, err error) {
	o.delivered.WithLabelValues(dest, result(err)).Inc()
}

func (o *Observer) Checkpointed(dest string, err error) {
	o.checkpoints.WithLabelValues(dest, result(err)).Inc()
}

func (o *Observer) ListenerFailed(dest string) {
	o.failures.WithLabelValues(dest).Inc()
}

func (o *Observer) Sent(dest string, err error) {
	o.sent.WithLabelValues(dest, result(err)).Inc()
}
