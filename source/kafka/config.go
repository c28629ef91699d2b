package kafka

import (
	"time"

	"ackflow/internal/config"
	"ackflow/internal/saramautil"
)

type BackPressureCfg struct {
	Capacity int64         `koanf:"capacity"`       // max records delivered per refill window
	CheckInt time.Duration `koanf:"check_interval"` // refill tick
}

type CheckpointCfg struct {
	CommitInt time.Duration `koanf:"commit_interval"` // flush cadence
}

type Config struct {
	saramautil.Client `koanf:",squash"`

	Topic     string `koanf:"topic"`
	GroupID   string `koanf:"group_id"`
	StartFrom string `koanf:"start_from"` // oldest|newest (default newest)

	BackPressure BackPressureCfg `koanf:"backpressure"`
	Checkpoint   CheckpointCfg   `koanf:"checkpoint"`
}

// LoadConfig merges YAML (if present) with env-vars
// (prefix `ACKFLOW_KAFKA__`, delimiter `__`).
func LoadConfig(path string) (Config, error) {
	var cfg Config
	if err := config.Load(path, config.EnvPrefix("kafka"), &cfg); err != nil {
		return cfg, err
	}
	applyDefaults(&cfg)
	return cfg, nil
}

func applyDefaults(c *Config) {
	c.Client.ApplyDefaults()
	if c.BackPressure.Capacity == 0 {
		c.BackPressure.Capacity = 30_000
	}
	if c.BackPressure.CheckInt == 0 {
		c.BackPressure.CheckInt = 100 * time.Millisecond
	}
	if c.Checkpoint.CommitInt == 0 {
		c.Checkpoint.CommitInt = 5 * time.Second
	}
	if c.StartFrom == "" {
		c.StartFrom = "newest"
	}
}
