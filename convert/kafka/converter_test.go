package kafka

import (
	"testing"
	"time"

	"ackflow/convert"
	"ackflow/message"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func consumed(pm *sarama.ProducerMessage) *sarama.ConsumerMessage {
	value, _ := pm.Value.Encode()
	var key []byte
	if pm.Key != nil {
		key, _ = pm.Key.Encode()
	}
	cm := &sarama.ConsumerMessage{Value: value, Key: key, Timestamp: pm.Timestamp}
	for i := range pm.Headers {
		cm.Headers = append(cm.Headers, &pm.Headers[i])
	}
	return cm
}

func TestConverter_RoundTrip(t *testing.T) {
	c := Converter{}
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	in := message.NewBuilder([]byte{0, 1, 2}).
		ID("opaque-id").
		ContentType("application/octet-stream").
		ReplyTo("replies").
		Header(message.HeaderPartitionKey, "customer-1").
		Header(message.HeaderTimestamp, ts).
		Header("tenant", "acme").
		Header("attempt", 3).
		Build()

	pm, err := c.FromMessage(in)
	require.NoError(t, err)
	out, err := c.ToMessage(consumed(pm), convert.Bytes)
	require.NoError(t, err)

	assert.Equal(t, []byte{0, 1, 2}, out.Payload())
	assert.Equal(t, "opaque-id", out.ID())
	assert.Equal(t, "application/octet-stream", out.ContentType())
	assert.Equal(t, "replies", out.ReplyTo())
	assert.Equal(t, "customer-1", out.Headers().String(message.HeaderPartitionKey))
	assert.Equal(t, "acme", out.Headers().String("tenant"))
	assert.Equal(t, "3", out.Headers().String("attempt"))
	v, _ := out.Header(message.HeaderTimestamp)
	assert.Equal(t, ts, v)
}

func TestConverter_StringPayload(t *testing.T) {
	pm, err := Converter{}.FromMessage(message.NewBuilder("hi").Build())
	require.NoError(t, err)
	out, err := Converter{}.ToMessage(consumed(pm), convert.String)
	require.NoError(t, err)
	assert.Equal(t, "hi", out.Payload())
}

func TestConverter_HeaderCannotSpoofCheckpointer(t *testing.T) {
	r := &sarama.ConsumerMessage{
		Value:   []byte("x"),
		Headers: []*sarama.RecordHeader{{Key: []byte(message.HeaderCheckpointer), Value: []byte("evil")}},
	}
	m, err := Converter{}.ToMessage(r, convert.Bytes)
	require.NoError(t, err)
	_, ok := m.Header(message.HeaderCheckpointer)
	assert.False(t, ok)
}
