package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ackflow/internal/engine"
	"ackflow/internal/logging"
	"ackflow/internal/transport"
	"ackflow/telemetry"

	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func main() {
	cfgPath := flag.String("config", "engine.yml", "engine config file")
	probe := flag.String("probe", "", "check the pipeline health of the engine at host:port and exit")
	flag.Parse()

	if *probe != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		st, err := transport.Probe(ctx, *probe, transport.PipelineService)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
		fmt.Println(st)
		if st != healthpb.HealthCheckResponse_SERVING {
			os.Exit(1)
		}
		return
	}

	log := logging.InitFromEnv()
	cfg, err := engine.LoadConfig(*cfgPath)
	if err != nil {
		log.Error("config", telemetry.ErrAttr(err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	e, err := engine.Bootstrap(ctx, cfg)
	if err != nil {
		log.Error("bootstrap", telemetry.ErrAttr(err))
		os.Exit(1)
	}
	if err := e.Run(ctx); err != nil {
		logging.L().Error("engine", telemetry.ErrAttr(err))
		os.Exit(1)
	}
}
