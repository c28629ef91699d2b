package eventhubs

import (
	"context"
	"errors"
	"testing"

	conveh "ackflow/convert/eventhubs"
	"ackflow/destination"
	"ackflow/future"
	"ackflow/message"
	"ackflow/outbound"
	"ackflow/sink"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azeventhubs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBatch struct {
	opts   *azeventhubs.EventDataBatchOptions
	events []*azeventhubs.EventData
	room   int
}

func (b *fakeBatch) AddEventData(e *azeventhubs.EventData, _ *azeventhubs.AddEventDataOptions) error {
	if len(b.events) == b.room {
		return azeventhubs.ErrEventDataTooLarge
	}
	b.events = append(b.events, e)
	return nil
}

func (b *fakeBatch) NumEvents() int32 { return int32(len(b.events)) }

type fakeClient struct {
	hub     string
	room    int
	sent    []*fakeBatch
	checked bool
	closed  bool
}

func (c *fakeClient) NewBatch(_ context.Context, o *azeventhubs.EventDataBatchOptions) (eventBatch, error) {
	return &fakeBatch{opts: o, room: c.room}, nil
}

func (c *fakeClient) SendBatch(_ context.Context, b eventBatch) error {
	c.sent = append(c.sent, b.(*fakeBatch))
	return nil
}

func (c *fakeClient) Check(context.Context) error {
	c.checked = true
	return nil
}

func (c *fakeClient) Close(context.Context) error {
	c.closed = true
	return nil
}

type clients map[string]*fakeClient

func (cs clients) factory(room int) func(string) (client, error) {
	return func(hub string) (client, error) {
		c := &fakeClient{hub: hub, room: room}
		cs[hub] = c
		return c, nil
	}
}

var telemetryHub = destination.Destination{Name: "telemetry"}

func TestProducer_SendUsesPartitionHint(t *testing.T) {
	cs := clients{}
	p := newProducer(Config{}, cs.factory(10))
	tpl := outbound.New[*azeventhubs.EventData](p, conveh.Converter{}, outbound.WithExecutor(future.Inline))

	m := message.NewBuilder("reading").Build()
	require.NoError(t, tpl.SendToPartitionAsync(context.Background(), telemetryHub, m, sink.PartitionHint{PartitionID: "3"}).Err())
	require.NoError(t, tpl.SendAsync(context.Background(), telemetryHub, m.With(message.HeaderPartitionKey, "device-7")).Err())

	c := cs["telemetry"]
	require.Len(t, c.sent, 2)
	assert.Equal(t, "3", *c.sent[0].opts.PartitionID)
	assert.Nil(t, c.sent[0].opts.PartitionKey)
	assert.Equal(t, "device-7", *c.sent[1].opts.PartitionKey)
	assert.Equal(t, m.ID(), *c.sent[1].events[0].MessageID)
}

func TestProducer_BatchTooLarge(t *testing.T) {
	cs := clients{}
	p := newProducer(Config{MaxBatchBytes: 2048}, cs.factory(1))
	tpl := outbound.New[*azeventhubs.EventData](p, conveh.Converter{}, outbound.WithExecutor(future.Inline))

	err := tpl.SendBatchAsync(context.Background(), telemetryHub, []*message.Message{
		message.NewBuilder("a").Build(),
		message.NewBuilder("b").Build(),
	}).Err()

	var oe *outbound.OversizedBatchError
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, 1, oe.Index)
	assert.EqualValues(t, 2048, oe.MaxBytes)
	assert.Empty(t, cs["telemetry"].sent)
}

func TestProducer_ClientPerHub(t *testing.T) {
	cs := clients{}
	p := newProducer(Config{}, cs.factory(10))

	require.NoError(t, p.Provision(context.Background(), telemetryHub))
	require.NoError(t, p.Send(context.Background(), destination.Destination{Name: "audit"}, &azeventhubs.EventData{}, sink.PartitionHint{SessionID: "s"}))
	require.NoError(t, p.Send(context.Background(), telemetryHub, &azeventhubs.EventData{}, sink.PartitionHint{}))

	require.Len(t, cs, 2)
	assert.True(t, cs["telemetry"].checked)
	assert.Equal(t, "s", *cs["audit"].sent[0].opts.PartitionKey)

	require.NoError(t, p.Close(context.Background()))
	assert.True(t, cs["telemetry"].closed)
	assert.True(t, cs["audit"].closed)
}

func TestProducer_ClientFactoryFailure(t *testing.T) {
	boom := errors.New("bad connection string")
	p := newProducer(Config{}, func(string) (client, error) { return nil, boom })
	require.ErrorIs(t, p.Send(context.Background(), telemetryHub, &azeventhubs.EventData{}, sink.PartitionHint{}), boom)
}

func TestBatchAdd_MapsTooLarge(t *testing.T) {
	b := &batch{eb: &fakeBatch{room: 0}, max: DefaultMaxBatchBytes}
	err := b.Add(&azeventhubs.EventData{})
	require.ErrorIs(t, err, sink.ErrTooLarge)
	require.ErrorIs(t, err, azeventhubs.ErrEventDataTooLarge)
}
