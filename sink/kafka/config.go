package kafka

import (
	"ackflow/internal/config"
	"ackflow/internal/saramautil"
)

type Config struct {
	saramautil.Client `koanf:",squash"`

	Acks            int16 `koanf:"required_acks"` // 0,1,-1
	MaxMessageBytes int   `koanf:"max_message_bytes"`
}

// LoadConfig reads the sink config (env prefix `ACKFLOW_KAFKA_SINK__`).
func LoadConfig(path string) (Config, error) {
	var cfg Config
	if err := config.Load(path, config.EnvPrefix("kafka_sink"), &cfg); err != nil {
		return cfg, err
	}
	applyDefaults(&cfg)
	return cfg, nil
}

func applyDefaults(c *Config) {
	c.Client.ApplyDefaults()
	if c.Acks == 0 {
		c.Acks = int16(-1)
	}
	if c.MaxMessageBytes == 0 {
		c.MaxMessageBytes = 1_000_000
	}
}
