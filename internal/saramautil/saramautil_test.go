package saramautil

import (
	"testing"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAdmin implements the two admin calls topic provisioning needs.
type fakeAdmin struct {
	sarama.ClusterAdmin
	topics  map[string]bool
	created []string
}

func (f *fakeAdmin) DescribeTopics(names []string) ([]*sarama.TopicMetadata, error) {
	var out []*sarama.TopicMetadata
	for _, n := range names {
		m := &sarama.TopicMetadata{Name: n}
		if !f.topics[n] {
			m.Err = sarama.ErrUnknownTopicOrPartition
		}
		out = append(out, m)
	}
	return out, nil
}

func (f *fakeAdmin) CreateTopic(topic string, _ *sarama.TopicDetail, _ bool) error {
	f.created = append(f.created, topic)
	return nil
}

func TestEnsureTopic(t *testing.T) {
	admin := &fakeAdmin{topics: map[string]bool{"orders": true}}

	require.NoError(t, EnsureTopic(admin, Client{}, "orders"))
	require.ErrorIs(t, EnsureTopic(admin, Client{}, "audit"), ErrTopicMissing)

	c := Client{CreateTopics: true}
	c.ApplyDefaults()
	require.NoError(t, EnsureTopic(admin, c, "audit"))
	assert.Equal(t, []string{"audit"}, admin.created)
}

func TestNewConfig(t *testing.T) {
	c := Client{SASLUser: "u", SASLPass: "p"}
	c.ApplyDefaults()
	sc, err := NewConfig(c)
	require.NoError(t, err)
	assert.True(t, sc.Net.SASL.Enable)
	assert.Equal(t, "ackflow", sc.ClientID)

	_, err = NewConfig(Client{Version: "not-a-version"})
	require.Error(t, err)
}
