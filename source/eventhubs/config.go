package eventhubs

import (
	"time"

	"ackflow/internal/config"
)

type CheckpointStoreCfg struct {
	ConnectionString string `koanf:"connection_string"`
	Container        string `koanf:"container"`
}

type Config struct {
	ConnectionString string `koanf:"connection_string"`
	EventHub         string `koanf:"event_hub"`
	ConsumerGroup    string `koanf:"consumer_group"`

	CheckpointStore CheckpointStoreCfg `koanf:"checkpoint_store"`

	StartFrom      string        `koanf:"start_from"` // earliest|latest (default latest)
	Strategy       string        `koanf:"strategy"`   // balanced|greedy
	BatchSize      int           `koanf:"batch_size"`
	ReceiveTimeout time.Duration `koanf:"receive_timeout"`
	UpdateInterval time.Duration `koanf:"update_interval"` // load balancing cadence
}

// LoadConfig merges YAML with env-vars (prefix `ACKFLOW_EVENTHUBS__`).
func LoadConfig(path string) (Config, error) {
	var cfg Config
	if err := config.Load(path, config.EnvPrefix("eventhubs"), &cfg); err != nil {
		return cfg, err
	}
	applyDefaults(&cfg)
	return cfg, nil
}

func applyDefaults(c *Config) {
	if c.ConsumerGroup == "" {
		c.ConsumerGroup = "$Default"
	}
	if c.StartFrom == "" {
		c.StartFrom = "latest"
	}
	if c.Strategy == "" {
		c.Strategy = "balanced"
	}
	if c.BatchSize == 0 {
		c.BatchSize = 100
	}
	if c.ReceiveTimeout == 0 {
		c.ReceiveTimeout = 10 * time.Second
	}
	if c.UpdateInterval == 0 {
		c.UpdateInterval = 10 * time.Second
	}
}
