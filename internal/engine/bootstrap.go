package engine

import (
	"context"
	"fmt"

	"ackflow/internal/logging"
	"ackflow/internal/pipeline"
	"ackflow/internal/transport"
	"ackflow/telemetry"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Bootstrap wires logging, metrics, the gRPC server and the pipeline, and
// starts the pipeline. Extra options go to pipeline.Compile.
func Bootstrap(ctx context.Context, cfg Config, opts ...pipeline.Option) (*Engine, error) {
	log := logging.Configure(logging.FromEnv(logging.Options{Level: cfg.Log.Level, JSON: cfg.Log.JSON}))

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	obs, err := telemetry.NewObserver(log, reg, nil)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	// 1. transport server
	srv, err := transport.StartServer(fmt.Sprintf(":%d", cfg.GRPCPort))
	if err != nil {
		return nil, fmt.Errorf("transport: %w", err)
	}

	// 2. pipeline runner
	runner, err := pipeline.Compile(cfg.Pipeline, append([]pipeline.Option{pipeline.WithObserver(obs)}, opts...)...)
	if err != nil {
		srv.Stop()
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	if err := runner.Start(ctx); err != nil {
		_ = runner.Close(context.WithoutCancel(ctx))
		srv.Stop()
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	srv.SetServing(true)
	log.InfoContext(ctx, "engine started",
		"grpc_addr", srv.Addr().String(), "pipeline", cfg.Pipeline)

	return &Engine{
		cfg:       cfg,
		log:       log,
		reg:       reg,
		transport: srv,
		runner:    runner,
	}, nil
}
