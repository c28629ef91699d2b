package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"ackflow/internal/pipeline"
	"ackflow/internal/transport"
	"ackflow/telemetry"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sourcegraph/conc"
)

const shutdownTimeout = 30 * time.Second

type Engine struct {
	cfg       Config
	log       *slog.Logger
	reg       *prometheus.Registry
	transport *transport.Server
	runner    *pipeline.Runner
}

func (e *Engine) Addr() net.Addr { return e.transport.Addr() }

// Run serves until ctx is done, then stops the pipeline and the server.
func (e *Engine) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg conc.WaitGroup
	serveErr := make(chan error, 1)
	wg.Go(func() { serveErr <- e.transport.Serve() })
	if e.cfg.MetricsPort > 0 {
		wg.Go(func() {
			addr := fmt.Sprintf(":%d", e.cfg.MetricsPort)
			if err := telemetry.Expose(runCtx, addr, e.reg); err != nil {
				e.log.Error("metrics endpoint failed", telemetry.ErrAttr(err))
			}
		})
	}

	var err error
	select {
	case <-ctx.Done():
	case err = <-serveErr:
	}

	e.transport.SetServing(false)
	stopCtx, stop := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer stop()
	closeErr := e.runner.Close(stopCtx)
	e.transport.Stop()
	cancel()
	wg.Wait()
	e.log.Info("engine stopped")
	return errors.Join(err, closeErr)
}
