package servicebus

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"ackflow/checkpoint"
	convsb "ackflow/convert/servicebus"
	"ackflow/destination"
	"ackflow/future"
	"ackflow/inbound"
	"ackflow/internal/sbutil"
	"ackflow/message"
	"ackflow/telemetry"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus/admin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReceiver struct {
	mu        sync.Mutex
	batches   [][]*azservicebus.ReceivedMessage
	failOnce  error
	completed []string
	closed    bool
}

func (r *fakeReceiver) ReceiveMessages(ctx context.Context, _ int, _ *azservicebus.ReceiveMessagesOptions) ([]*azservicebus.ReceivedMessage, error) {
	r.mu.Lock()
	if err := r.failOnce; err != nil {
		r.failOnce = nil
		r.mu.Unlock()
		return nil, err
	}
	if len(r.batches) > 0 {
		b := r.batches[0]
		r.batches = r.batches[1:]
		r.mu.Unlock()
		return b, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return nil, ctx.Err()
}

func (r *fakeReceiver) CompleteMessage(_ context.Context, m *azservicebus.ReceivedMessage, _ *azservicebus.CompleteMessageOptions) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed = append(r.completed, m.MessageID)
	return nil
}

func (r *fakeReceiver) Close(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *fakeReceiver) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.completed...)
}

func msg(id string) *azservicebus.ReceivedMessage {
	return &azservicebus.ReceivedMessage{MessageID: id, Body: []byte(id), LockToken: uuid.New()}
}

func testSource(cfg Config, r receiver) *Source {
	applyDefaults(&cfg)
	cfg.RetryDelay = time.Millisecond
	return &Source{
		cfg:         cfg,
		log:         telemetry.Nop().Logger(),
		newReceiver: func() (receiver, error) { return r, nil },
	}
}

func TestSource_RecordCompletesSuccessfulDeliveries(t *testing.T) {
	r := &fakeReceiver{
		failOnce: errors.New("link detached"),
		batches:  [][]*azservicebus.ReceivedMessage{{msg("a"), msg("poison")}, {msg("b")}},
	}
	src := testSource(Config{Queue: "orders"}, r)

	a, err := inbound.New[*azservicebus.ReceivedMessage](src, convsb.Converter{},
		func(_ context.Context, m *message.Message) error {
			if m.ID() == "poison" {
				return errors.New("cannot handle")
			}
			return nil
		},
		inbound.WithExecutor(future.Inline),
		inbound.WithErrorHandler(func(context.Context, error) {}))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, a.Start(ctx))
	require.Eventually(t, func() bool { return len(r.snapshot()) == 2 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, a.Destroy(ctx))

	assert.Equal(t, []string{"a", "b"}, r.snapshot())
	assert.Zero(t, a.Checkpointer().(*checkpoint.LockTokenCheckpointer).Held())
	assert.True(t, r.closed)
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestSource_LogsThroughObserver(t *testing.T) {
	out := &lockedBuffer{}
	obs, err := telemetry.NewObserver(slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: slog.LevelDebug})), nil, nil)
	require.NoError(t, err)

	r := &fakeReceiver{
		failOnce: errors.New("link detached"),
		batches:  [][]*azservicebus.ReceivedMessage{{msg("poison")}},
	}
	src := testSource(Config{Queue: "orders"}, r)
	WithObserver(obs)(src)

	a, err := inbound.New[*azservicebus.ReceivedMessage](src, convsb.Converter{},
		func(context.Context, *message.Message) error { return errors.New("cannot handle") },
		inbound.WithExecutor(future.Inline),
		inbound.WithErrorHandler(func(context.Context, error) {}))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, a.Start(ctx))
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), `"message_id":"poison"`)
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, a.Destroy(ctx))

	logs := out.String()
	assert.Contains(t, logs, `"msg":"servicebus receive failed"`)
	assert.Contains(t, logs, `"destination":"orders"`)
	assert.Contains(t, logs, `"error":"link detached"`)
	assert.Contains(t, logs, `"msg":"servicebus message not processed"`)
}

func TestSource_BatchCompletesEveryBMessages(t *testing.T) {
	r := &fakeReceiver{batches: [][]*azservicebus.ReceivedMessage{{msg("1"), msg("2"), msg("3")}}}
	src := testSource(Config{Topic: "events", Subscription: "billing"}, r)

	delivered := make(chan struct{}, 3)
	a, err := inbound.New[*azservicebus.ReceivedMessage](src, convsb.Converter{},
		func(context.Context, *message.Message) error {
			delivered <- struct{}{}
			return nil
		},
		inbound.WithCheckpoint(checkpoint.Config{Mode: checkpoint.Batch, BatchCount: 2}),
		inbound.WithExecutor(future.Inline))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, a.Start(ctx))
	for range 3 {
		<-delivered
	}
	require.NoError(t, a.Stop(ctx))

	assert.Equal(t, []string{"1", "2"}, r.snapshot())
	assert.Equal(t, 1, a.Checkpointer().(*checkpoint.LockTokenCheckpointer).Held())
}

func TestSource_CompleteRequiresMessage(t *testing.T) {
	src := testSource(Config{Queue: "orders"}, &fakeReceiver{})
	require.Error(t, src.Complete(context.Background(), checkpoint.Lock{Token: "t"}))
}

type provisionAdmin struct {
	sbutil.Admin
	queues []string
}

func (p *provisionAdmin) GetQueue(context.Context, string, *admin.GetQueueOptions) (*admin.GetQueueResponse, error) {
	return nil, nil
}

func (p *provisionAdmin) CreateQueue(_ context.Context, name string, _ *admin.CreateQueueOptions) (admin.CreateQueueResponse, error) {
	p.queues = append(p.queues, name)
	return admin.CreateQueueResponse{QueueName: name}, nil
}

func TestSource_ProvisionQueue(t *testing.T) {
	src := testSource(Config{Queue: "orders"}, &fakeReceiver{})
	pa := &provisionAdmin{}
	src.admin = func() (sbutil.Admin, error) { return pa, nil }

	require.NoError(t, src.Provision(context.Background(), src.Destination()))
	assert.Equal(t, []string{"orders"}, pa.queues)
}

func TestSource_Destination(t *testing.T) {
	assert.Equal(t, destination.Destination{Name: "events", Group: "billing"},
		testSource(Config{Topic: "events", Subscription: "billing"}, nil).Destination())
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{ConnectionString: "Endpoint=sb://x/", Queue: "q", Topic: "t"})
	require.Error(t, err)
	_, err = New(Config{ConnectionString: "Endpoint=sb://x/", Topic: "t"})
	require.Error(t, err)
}
