package engine

import (
	"ackflow/internal/config"
)

type LogCfg struct {
	Level string `koanf:"level"`
	JSON  bool   `koanf:"json"`
}

type Config struct {
	GRPCPort int `koanf:"grpc_port"`
	// MetricsPort <= 0 disables /metrics.
	MetricsPort int    `koanf:"metrics_port"`
	Pipeline    string `koanf:"pipeline"`
	Log         LogCfg `koanf:"log"`
}

func DefaultConfig() Config {
	return Config{GRPCPort: 7070, MetricsPort: 9100, Pipeline: "pipeline.yml"}
}

// LoadConfig overlays the YAML at path and ACKFLOW_ENGINE__ variables on
// DefaultConfig. A missing file yields the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if err := config.Load(path, config.EnvPrefix("engine"), &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
