package servicebus

import (
	"time"

	"ackflow/internal/config"
)

// Config selects either a queue or a topic subscription.
type Config struct {
	ConnectionString string `koanf:"connection_string"`
	Queue            string `koanf:"queue"`
	Topic            string `koanf:"topic"`
	Subscription     string `koanf:"subscription"`

	MaxMessages int           `koanf:"max_messages"` // per receive call
	RetryDelay  time.Duration `koanf:"retry_delay"`  // after a failed receive
}

// LoadConfig merges YAML with env-vars (prefix `ACKFLOW_SERVICEBUS__`).
func LoadConfig(path string) (Config, error) {
	var cfg Config
	if err := config.Load(path, config.EnvPrefix("servicebus"), &cfg); err != nil {
		return cfg, err
	}
	applyDefaults(&cfg)
	return cfg, nil
}

func applyDefaults(c *Config) {
	if c.MaxMessages == 0 {
		c.MaxMessages = 10
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = time.Second
	}
}
