package eventhubs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"ackflow/checkpoint"
	conveh "ackflow/convert/eventhubs"
	"ackflow/destination"
	"ackflow/future"
	"ackflow/inbound"
	"ackflow/message"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azeventhubs"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePartition struct {
	id string

	mu          sync.Mutex
	batches     [][]*azeventhubs.ReceivedEventData
	endErr      error
	checkpoints []int64
	closed      bool
}

func (p *fakePartition) PartitionID() string { return p.id }

func (p *fakePartition) ReceiveEvents(ctx context.Context, _ int, _ *azeventhubs.ReceiveEventsOptions) ([]*azeventhubs.ReceivedEventData, error) {
	p.mu.Lock()
	if len(p.batches) > 0 {
		b := p.batches[0]
		p.batches = p.batches[1:]
		p.mu.Unlock()
		return b, nil
	}
	end := p.endErr
	p.mu.Unlock()
	if end != nil {
		return nil, end
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func (p *fakePartition) UpdateCheckpoint(_ context.Context, e *azeventhubs.ReceivedEventData, _ *azeventhubs.UpdateCheckpointOptions) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.checkpoints = append(p.checkpoints, e.SequenceNumber)
	return nil
}

func (p *fakePartition) Close(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePartition) state() ([]int64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int64(nil), p.checkpoints...), p.closed
}

type fakeDispatcher struct {
	parts chan partitionClient
}

func (d *fakeDispatcher) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (d *fakeDispatcher) Next(ctx context.Context) partitionClient {
	select {
	case pc := <-d.parts:
		return pc
	case <-ctx.Done():
		return nil
	}
}

func event(seq int64, body string) *azeventhubs.ReceivedEventData {
	return &azeventhubs.ReceivedEventData{
		EventData:      azeventhubs.EventData{Body: []byte(body), MessageID: to.Ptr(body)},
		SequenceNumber: seq,
	}
}

func testSource(d dispatcher) *Source {
	cfg := Config{EventHub: "orders"}
	applyDefaults(&cfg)
	cfg.ReceiveTimeout = 20 * time.Millisecond
	return &Source{
		cfg:           cfg,
		log:           slog.New(slog.NewTextHandler(io.Discard, nil)),
		newDispatcher: func() (dispatcher, error) { return d, nil },
		close:         func(context.Context) error { return nil },
	}
}

func TestSource_RecordModeCheckpointsOwnedPartitions(t *testing.T) {
	lost := &azeventhubs.Error{Code: azeventhubs.ErrorCodeOwnershipLost}
	p0 := &fakePartition{id: "0", batches: [][]*azeventhubs.ReceivedEventData{{event(10, "a"), event(11, "b")}}, endErr: lost}
	p1 := &fakePartition{id: "1", batches: [][]*azeventhubs.ReceivedEventData{{event(3, "c")}}, endErr: lost}
	d := &fakeDispatcher{parts: make(chan partitionClient, 2)}
	d.parts <- p0
	d.parts <- p1

	var (
		mu   sync.Mutex
		seen []string
	)
	a, err := inbound.New[*azeventhubs.ReceivedEventData](testSource(d), conveh.Converter{},
		func(_ context.Context, m *message.Message) error {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, m.Headers().String(message.HeaderPartitionID)+":"+m.ID())
			return nil
		},
		inbound.WithCheckpoint(checkpoint.Config{Mode: checkpoint.Record}),
		inbound.WithExecutor(future.Inline))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, a.Start(ctx))
	require.Eventually(t, func() bool {
		_, c0 := p0.state()
		_, c1 := p1.state()
		return c0 && c1
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, a.Stop(ctx))

	cp0, _ := p0.state()
	cp1, _ := p1.state()
	assert.Equal(t, []int64{10, 11}, cp0)
	assert.Equal(t, []int64{3}, cp1)
	assert.ElementsMatch(t, []string{"0:a", "0:b", "1:c"}, seen)
	assert.Zero(t, a.Checkpointer().(*checkpoint.PartitionCheckpointer).Len())
}

func TestSource_StopClosesIdlePartitions(t *testing.T) {
	p := &fakePartition{id: "0"}
	d := &fakeDispatcher{parts: make(chan partitionClient, 1)}
	d.parts <- p

	src := testSource(d)
	a, err := inbound.New[*azeventhubs.ReceivedEventData](src, conveh.Converter{},
		func(context.Context, *message.Message) error { return nil })
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, a.Start(ctx))
	require.Eventually(t, func() bool {
		return a.Checkpointer().(*checkpoint.PartitionCheckpointer).Len() == 1
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, a.Stop(ctx))

	_, closed := p.state()
	assert.True(t, closed)
}

func TestSource_Provision(t *testing.T) {
	src := testSource(nil)
	src.createContainer = func(context.Context) error {
		return &azcore.ResponseError{ErrorCode: string(bloberror.ContainerAlreadyExists)}
	}
	require.NoError(t, src.Provision(context.Background(), destination.Destination{Name: "orders"}))

	boom := errors.New("forbidden")
	src.createContainer = func(context.Context) error { return boom }
	require.ErrorIs(t, src.Provision(context.Background(), destination.Destination{Name: "orders"}), boom)
}

func TestProcessorOptions(t *testing.T) {
	cfg := Config{StartFrom: "earliest", Strategy: "greedy"}
	applyDefaults(&cfg)
	o := processorOptions(cfg)

	assert.Equal(t, azeventhubs.ProcessorStrategyGreedy, o.LoadBalancingStrategy)
	require.NotNil(t, o.StartPositions.Default.Earliest)
	assert.True(t, *o.StartPositions.Default.Earliest)
	assert.Equal(t, 10*time.Second, o.UpdateInterval)
}

func TestNew_RequiresCheckpointStore(t *testing.T) {
	_, err := New(Config{ConnectionString: "Endpoint=sb://x/;SharedAccessKeyName=k;SharedAccessKey=v", EventHub: "orders"})
	require.Error(t, err)
}

func TestOwnershipLost(t *testing.T) {
	assert.True(t, ownershipLost(&azeventhubs.Error{Code: azeventhubs.ErrorCodeOwnershipLost}))
	assert.False(t, ownershipLost(&azeventhubs.Error{Code: azeventhubs.ErrorCodeConnectionLost}))
	assert.False(t, ownershipLost(errors.New("x")))
}
