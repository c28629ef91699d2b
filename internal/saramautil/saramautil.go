// Package saramautil holds the sarama client settings shared by the
// Kafka source and sink.
package saramautil

import (
	"errors"
	"fmt"

	"github.com/IBM/sarama"
)

// Client is embedded (squashed) into the Kafka binding configs.
type Client struct {
	Brokers  []string `koanf:"brokers"`
	Version  string   `koanf:"version"`
	ClientID string   `koanf:"client_id"`
	TLSEn    bool     `koanf:"tls_enabled"`
	SASLUser string   `koanf:"sasl_user"`
	SASLPass string   `koanf:"sasl_pass"`

	CreateTopics      bool  `koanf:"create_topics"`
	Partitions        int32 `koanf:"partitions"`
	ReplicationFactor int16 `koanf:"replication_factor"`
}

func (c *Client) ApplyDefaults() {
	if c.Version == "" {
		c.Version = sarama.DefaultVersion.String()
	}
	if c.ClientID == "" {
		c.ClientID = "ackflow"
	}
	if c.Partitions == 0 {
		c.Partitions = 1
	}
	if c.ReplicationFactor == 0 {
		c.ReplicationFactor = 1
	}
}

// NewConfig builds the base sarama config.
func NewConfig(c Client) (*sarama.Config, error) {
	ver, err := sarama.ParseKafkaVersion(c.Version)
	if err != nil {
		return nil, err
	}
	sc := sarama.NewConfig()
	sc.Version = ver
	sc.ClientID = c.ClientID
	if c.TLSEn {
		sc.Net.TLS.Enable = true
	}
	if c.SASLUser != "" {
		sc.Net.SASL.Enable = true
		sc.Net.SASL.User, sc.Net.SASL.Password = c.SASLUser, c.SASLPass
	}
	return sc, nil
}

var ErrTopicMissing = errors.New("kafka: topic does not exist")

// EnsureTopic validates that topic exists, creating it when c allows.
func EnsureTopic(admin sarama.ClusterAdmin, c Client, topic string) error {
	metas, err := admin.DescribeTopics([]string{topic})
	if err != nil {
		return err
	}
	for _, m := range metas {
		if m.Name != topic {
			continue
		}
		switch {
		case m.Err == sarama.ErrNoError:
			return nil
		case !errors.Is(m.Err, sarama.ErrUnknownTopicOrPartition):
			return m.Err
		}
	}
	if !c.CreateTopics {
		return fmt.Errorf("%w: %s", ErrTopicMissing, topic)
	}
	err = admin.CreateTopic(topic, &sarama.TopicDetail{
		NumPartitions:     c.Partitions,
		ReplicationFactor: c.ReplicationFactor,
	}, false)
	if errors.Is(err, sarama.ErrTopicAlreadyExists) {
		return nil
	}
	return err
}
