package eventhubs

import (
	"testing"
	"time"

	"ackflow/convert"
	"ackflow/message"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azeventhubs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConverter_RoundTrip(t *testing.T) {
	in := message.NewBuilder("hello").
		ID("evt-1").
		ContentType("text/plain").
		ReplyTo("replies").
		Header(HeaderCorrelationID, "corr-9").
		Header("tenant", "acme").
		Build()

	ed, err := Converter{}.FromMessage(in)
	require.NoError(t, err)
	assert.Equal(t, "evt-1", *ed.MessageID)
	assert.Equal(t, "corr-9", ed.CorrelationID)
	assert.NotContains(t, ed.Properties, HeaderCorrelationID)

	enq := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	out, err := Converter{}.ToMessage(&azeventhubs.ReceivedEventData{
		EventData:    *ed,
		EnqueuedTime: &enq,
		PartitionKey: to.Ptr("customer-1"),
	}, convert.String)
	require.NoError(t, err)

	assert.Equal(t, "hello", out.Payload())
	assert.Equal(t, "evt-1", out.ID())
	assert.Equal(t, "text/plain", out.ContentType())
	assert.Equal(t, "replies", out.ReplyTo())
	assert.Equal(t, "acme", out.Headers().String("tenant"))
	assert.Equal(t, "customer-1", out.Headers().String(message.HeaderPartitionKey))
	ts, _ := out.Header(message.HeaderTimestamp)
	assert.Equal(t, enq, ts)
}

func TestConverter_ReservedPropertiesIgnored(t *testing.T) {
	out, err := Converter{}.ToMessage(&azeventhubs.ReceivedEventData{
		EventData: azeventhubs.EventData{
			Body:        []byte("x"),
			MessageID:   to.Ptr("real"),
			ContentType: to.Ptr("%%bad"),
			Properties:  map[string]any{message.HeaderID: "spoofed", message.HeaderPartitionID: "7"},
		},
	}, convert.Bytes)
	require.NoError(t, err)

	assert.Equal(t, "real", out.ID())
	assert.Empty(t, out.ContentType())
	_, ok := out.Header(message.HeaderPartitionID)
	assert.False(t, ok)
}
