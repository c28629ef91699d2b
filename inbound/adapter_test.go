package inbound

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ackflow/checkpoint"
	"ackflow/convert"
	"ackflow/destination"
	"ackflow/future"
	"ackflow/message"
	"ackflow/source"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stringConverter struct{}

func (stringConverter) ToMessage(w string, _ convert.Target) (*message.Message, error) {
	if w == "bad" {
		return nil, &convert.ConversionError{Op: "decode", Err: errors.New("bad payload")}
	}
	return message.NewBuilder(w).ID("id-" + w).Build(), nil
}

type commitLog struct {
	mu      sync.Mutex
	commits []string
}

func (c *commitLog) committer(partition string) checkpoint.Committer {
	return checkpoint.CommitterFunc(func(_ context.Context, pos checkpoint.Position) error {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.commits = append(c.commits, partition+"@"+strconv.FormatInt(pos.Offset, 10))
		return nil
	})
}

func (c *commitLog) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.commits...)
}

// partitionedSource opens every partition and delivers one message to each
// on its own goroutine, like a broker-managed callback pool.
type partitionedSource struct {
	partitions []string
	log        *commitLog
	closed     atomic.Bool
	wg         sync.WaitGroup
}

func (s *partitionedSource) Destination() destination.Destination {
	return destination.Destination{Name: "orders", Group: "billing"}
}
func (s *partitionedSource) Family() checkpoint.Family { return checkpoint.PartitionCursor }
func (s *partitionedSource) Close(context.Context) error {
	s.closed.Store(true)
	return nil
}

func (s *partitionedSource) Subscribe(ctx context.Context, l source.Listener[string]) (source.Subscription, error) {
	for _, id := range s.partitions {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			l.PartitionOpened(ctx, checkpoint.NewPartitionContext(id, "billing", s.log.committer(id)))
			_ = l.Receive(ctx, source.Record[string]{Wire: "m" + id, PartitionID: id, Position: checkpoint.Position{Offset: 1}})
		}()
	}
	return source.SubscriptionFunc(func(context.Context) error {
		s.wg.Wait()
		return nil
	}), nil
}

func TestAdapter_RecordModeCheckpointsEveryPartition(t *testing.T) {
	log := &commitLog{}
	src := &partitionedSource{partitions: []string{"0", "1", "2"}, log: log}

	var handled atomic.Int32
	a, err := New[string](src, stringConverter{}, func(_ context.Context, m *message.Message) error {
		cp, ok := checkpoint.From(m)
		if assert.True(t, ok) {
			assert.Equal(t, checkpoint.PartitionCursor, cp.Family())
		}
		assert.Equal(t, "billing", m.Headers().String(message.HeaderConsumerGroup))
		handled.Add(1)
		return nil
	}, WithCheckpoint(checkpoint.Config{Mode: checkpoint.Record}))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, a.Start(ctx))
	require.True(t, a.IsRunning())

	require.Eventually(t, func() bool { return len(log.snapshot()) == 3 }, 2*time.Second, 5*time.Millisecond)
	assert.ElementsMatch(t, []string{"0@1", "1@1", "2@1"}, log.snapshot())
	assert.EqualValues(t, 3, handled.Load())

	require.NoError(t, a.Stop(ctx))
	assert.False(t, a.IsRunning())
	assert.Equal(t, Stopped, a.State())

	require.NoError(t, a.Destroy(ctx))
	assert.True(t, src.closed.Load())
	require.ErrorIs(t, a.Start(ctx), ErrDestroyed)
}

func TestAdapter_StartIsIdempotent(t *testing.T) {
	src := &partitionedSource{log: &commitLog{}}
	a, err := New[string](src, stringConverter{}, func(context.Context, *message.Message) error { return nil })
	require.NoError(t, err)

	require.NoError(t, a.Start(context.Background()))
	require.NoError(t, a.Start(context.Background()))
	require.NoError(t, a.Stop(context.Background()))
	require.NoError(t, a.Stop(context.Background()))
	assert.Equal(t, Stopped, a.State())
}

// queueSource is a pull source without checkpoint support.
type queueSource struct {
	mu        sync.Mutex
	pending   []string
	polls     atomic.Int64
	deleted   []string
	provision error
}

func (q *queueSource) Destination() destination.Destination {
	return destination.Destination{Name: "jobs"}
}
func (q *queueSource) Family() checkpoint.Family   { return checkpoint.Unsupported }
func (q *queueSource) Close(context.Context) error { return nil }
func (q *queueSource) Provision(context.Context, destination.Destination) error {
	return q.provision
}

func (q *queueSource) Poll(ctx context.Context, deliver func(context.Context, source.Record[string]) error) error {
	q.polls.Add(1)
	q.mu.Lock()
	batch := q.pending
	q.pending = nil
	q.mu.Unlock()
	for _, w := range batch {
		if err := deliver(ctx, source.Record[string]{Wire: w}); err != nil {
			continue
		}
		q.mu.Lock()
		q.deleted = append(q.deleted, w)
		q.mu.Unlock()
	}
	return nil
}

func (q *queueSource) deletedSnapshot() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.deleted...)
}

func TestAdapter_UnsupportedCheckpointFailsAtCallTime(t *testing.T) {
	q := &queueSource{pending: []string{"a"}}

	var (
		mu   sync.Mutex
		errs []error
	)
	a, err := New[string](q, stringConverter{}, func(ctx context.Context, m *message.Message) error {
		cp, ok := checkpoint.From(m)
		if !assert.True(t, ok) {
			return nil
		}

		f := cp.Checkpoint(ctx)
		mu.Lock()
		defer mu.Unlock()
		if f.IsDone() {
			errs = append(errs, f.Err())
		}
		return nil
	}, WithCheckpoint(checkpoint.Config{Mode: checkpoint.Manual}), WithPollInterval(time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))
	t.Cleanup(func() { _ = a.Destroy(context.Background()) })

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(errs) == 1
	}, 2*time.Second, time.Millisecond)
	require.ErrorIs(t, errs[0], checkpoint.ErrUnsupportedOperation)
	assert.Equal(t, []string{"a"}, q.deletedSnapshot())
}

func TestNew_RejectsAutoModesWithoutCheckpointSupport(t *testing.T) {
	_, err := New[string](&queueSource{}, stringConverter{}, func(context.Context, *message.Message) error { return nil })
	require.ErrorIs(t, err, checkpoint.ErrUnsupportedOperation)
}

func TestAdapter_StopHaltsPolling(t *testing.T) {
	q := &queueSource{}
	a, err := New[string](q, stringConverter{}, func(context.Context, *message.Message) error { return nil },
		WithCheckpoint(checkpoint.Config{Mode: checkpoint.Manual}), WithPollInterval(time.Millisecond))
	require.NoError(t, err)

	require.NoError(t, a.Start(context.Background()))
	require.Eventually(t, func() bool { return q.polls.Load() > 3 }, 2*time.Second, time.Millisecond)
	require.NoError(t, a.Stop(context.Background()))

	after := q.polls.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, q.polls.Load())
}

func TestAdapter_ListenerFailureIsWrappedAndAdapterKeepsRunning(t *testing.T) {
	q := &queueSource{pending: []string{"boom", "ok", "bad"}}
	cause := errors.New("handler exploded")

	errCh := make(chan error, 4)
	a, err := New[string](q, stringConverter{}, func(_ context.Context, m *message.Message) error {
		if m.Payload() == "boom" {
			return cause
		}
		return nil
	},
		WithCheckpoint(checkpoint.Config{Mode: checkpoint.Manual}),
		WithPollInterval(time.Millisecond),
		WithErrorHandler(func(_ context.Context, err error) { errCh <- err }),
	)
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))
	t.Cleanup(func() { _ = a.Destroy(context.Background()) })

	first := <-errCh
	var lerr *ListenerExecutionFailedError
	require.ErrorAs(t, first, &lerr)
	require.ErrorIs(t, first, cause)
	assert.Equal(t, "id-boom", lerr.MessageID)

	second := <-errCh
	var cerr *convert.ConversionError
	require.ErrorAs(t, second, &cerr)

	require.Eventually(t, func() bool { return len(q.deletedSnapshot()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, []string{"ok"}, q.deletedSnapshot())
	assert.True(t, a.IsRunning())
}

func TestAdapter_ProvisioningFailureAbortsStart(t *testing.T) {
	q := &queueSource{provision: errors.New("queue missing")}
	a, err := New[string](q, stringConverter{}, func(context.Context, *message.Message) error { return nil },
		WithCheckpoint(checkpoint.Config{Mode: checkpoint.Manual}))
	require.NoError(t, err)

	err = a.Start(context.Background())
	var perr *destination.ProvisioningError
	require.ErrorAs(t, err, &perr)
	assert.False(t, a.IsRunning())
	assert.Zero(t, q.polls.Load())
}

// lockSource pushes records with locks and completes them.
type lockSource struct {
	records   []source.Record[string]
	mu        sync.Mutex
	completed []string
}

func (s *lockSource) Destination() destination.Destination {
	return destination.Destination{Name: "topic", Group: "sub"}
}
func (s *lockSource) Family() checkpoint.Family   { return checkpoint.LockToken }
func (s *lockSource) Close(context.Context) error { return nil }
func (s *lockSource) Complete(_ context.Context, l checkpoint.Lock) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed = append(s.completed, l.Token)
	return nil
}

func (s *lockSource) Subscribe(ctx context.Context, l source.Listener[string]) (source.Subscription, error) {
	for _, r := range s.records {
		_ = l.Receive(ctx, r)
	}
	return source.SubscriptionFunc(func(context.Context) error { return nil }), nil
}

func TestAdapter_LockTokenRecord(t *testing.T) {
	src := &lockSource{records: []source.Record[string]{
		{Wire: "a", Lock: checkpoint.Lock{Token: "la"}},
		{Wire: "fail", Lock: checkpoint.Lock{Token: "lf"}},
		{Wire: "b", Lock: checkpoint.Lock{Token: "lb"}},
	}}
	a, err := New[string](src, stringConverter{}, func(_ context.Context, m *message.Message) error {
		if m.Payload() == "fail" {
			return errors.New("nope")
		}
		return nil
	}, WithExecutor(future.Inline), WithErrorHandler(func(context.Context, error) {}))
	require.NoError(t, err)

	require.NoError(t, a.Start(context.Background()))
	require.NoError(t, a.Destroy(context.Background()))

	src.mu.Lock()
	defer src.mu.Unlock()
	assert.Equal(t, []string{"la", "lb"}, src.completed)
	assert.Zero(t, a.Checkpointer().(*checkpoint.LockTokenCheckpointer).Held())
}

func TestAdapter_ManualPartitionCheckpoint(t *testing.T) {
	log := &commitLog{}
	src := &partitionedSource{partitions: []string{"0"}, log: log}

	done := make(chan error, 1)
	a, err := New[string](src, stringConverter{}, func(ctx context.Context, m *message.Message) error {
		cp, _ := checkpoint.From(m)
		done <- cp.Checkpoint(ctx).Wait(ctx)
		return nil
	}, WithCheckpoint(checkpoint.Config{Mode: checkpoint.Manual}), WithExecutor(future.Inline))
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))
	t.Cleanup(func() { _ = a.Destroy(context.Background()) })

	require.NoError(t, <-done)
	assert.Equal(t, []string{"0@1"}, log.snapshot())
}

// drivenSource hands its listener to the test, which plays the broker.
type drivenSource struct {
	mu  sync.Mutex
	ctx context.Context
	l   source.Listener[string]
}

func (s *drivenSource) Destination() destination.Destination {
	return destination.Destination{Name: "orders", Group: "billing"}
}
func (s *drivenSource) Family() checkpoint.Family   { return checkpoint.PartitionCursor }
func (s *drivenSource) Close(context.Context) error { return nil }

func (s *drivenSource) Subscribe(ctx context.Context, l source.Listener[string]) (source.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctx, s.l = ctx, l
	return source.SubscriptionFunc(func(context.Context) error { return nil }), nil
}

func (s *drivenSource) deliver(t *testing.T, partition string, offset int64) {
	t.Helper()
	s.mu.Lock()
	ctx, l := s.ctx, s.l
	s.mu.Unlock()
	w := partition + "-" + strconv.FormatInt(offset, 10)
	require.NoError(t, l.Receive(ctx, source.Record[string]{
		Wire:        w,
		PartitionID: partition,
		Position:    checkpoint.Position{Offset: offset},
	}))
}

func startDriven(t *testing.T, opts ...Option) (*Adapter[string], *drivenSource) {
	t.Helper()
	src := &drivenSource{}
	a, err := New[string](src, stringConverter{}, func(context.Context, *message.Message) error { return nil }, opts...)
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))
	t.Cleanup(func() { _ = a.Destroy(context.Background()) })
	return a, src
}

func TestAdapter_StaleCloseKeepsReopenedPartition(t *testing.T) {
	stale, fresh := &commitLog{}, &commitLog{}
	a, src := startDriven(t, WithCheckpoint(checkpoint.Config{Mode: checkpoint.Record}), WithExecutor(future.Inline))
	parts := a.Checkpointer().(*checkpoint.PartitionCheckpointer)

	old := checkpoint.NewPartitionContext("3", "billing", stale.committer("3"))
	reopened := checkpoint.NewPartitionContext("3", "billing", fresh.committer("3"))
	src.l.PartitionOpened(src.ctx, old)
	src.l.PartitionOpened(src.ctx, reopened)
	src.l.PartitionClosed(src.ctx, old)
	require.Equal(t, []string{"3"}, parts.Partitions())

	src.deliver(t, "3", 9)
	assert.Empty(t, stale.snapshot())
	assert.Equal(t, []string{"3@9"}, fresh.snapshot())

	src.l.PartitionClosed(src.ctx, reopened)
	assert.Zero(t, parts.Len())
}

func TestAdapter_DuplicateOpenThenSingleClose(t *testing.T) {
	log := &commitLog{}
	a, src := startDriven(t, WithCheckpoint(checkpoint.Config{Mode: checkpoint.Batch, BatchCount: 2}), WithExecutor(future.Inline))
	parts := a.Checkpointer().(*checkpoint.PartitionCheckpointer)

	pc := checkpoint.NewPartitionContext("0", "billing", log.committer("0"))
	src.l.PartitionOpened(src.ctx, pc)
	src.l.PartitionOpened(src.ctx, pc)
	require.Equal(t, 1, parts.Len())

	src.deliver(t, "0", 1)
	src.l.PartitionClosed(src.ctx, pc)
	assert.Zero(t, parts.Len())

	// batch progress of a closed partition does not carry over
	src.l.PartitionOpened(src.ctx, pc)
	src.deliver(t, "0", 2)
	assert.Empty(t, log.snapshot())
	src.deliver(t, "0", 3)
	assert.Equal(t, []string{"0@3"}, log.snapshot())
}

func TestAdapter_BatchModeCommitsEveryBatchCount(t *testing.T) {
	log := &commitLog{}
	_, src := startDriven(t, WithCheckpoint(checkpoint.Config{Mode: checkpoint.Batch, BatchCount: 3}), WithExecutor(future.Inline))
	src.l.PartitionOpened(src.ctx, checkpoint.NewPartitionContext("0", "billing", log.committer("0")))

	src.deliver(t, "0", 1)
	src.deliver(t, "0", 2)
	assert.Empty(t, log.snapshot())

	src.deliver(t, "0", 3)
	assert.Equal(t, []string{"0@3"}, log.snapshot())

	src.deliver(t, "0", 4)
	src.deliver(t, "0", 5)
	assert.Equal(t, []string{"0@3"}, log.snapshot())
	src.deliver(t, "0", 6)
	assert.Equal(t, []string{"0@3", "0@6"}, log.snapshot())
}

func TestAdapter_RecordModeCommitsInDeliveryOrder(t *testing.T) {
	log := &commitLog{}
	_, src := startDriven(t, WithCheckpoint(checkpoint.Config{Mode: checkpoint.Record}))
	src.l.PartitionOpened(src.ctx, checkpoint.NewPartitionContext("0", "billing", log.committer("0")))

	const n = 200
	want := make([]string, 0, n)
	for off := int64(1); off <= n; off++ {
		src.deliver(t, "0", off)
		want = append(want, "0@"+strconv.FormatInt(off, 10))
	}

	require.Eventually(t, func() bool { return len(log.snapshot()) == n }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, want, log.snapshot())
}

func TestAdapter_LockTokenBatchWithRepeatedMessageID(t *testing.T) {
	src := &lockSource{records: []source.Record[string]{
		{Wire: "dup", Lock: checkpoint.Lock{Token: "la"}},
		{Wire: "dup", Lock: checkpoint.Lock{Token: "lb"}},
	}}
	a, err := New[string](src, stringConverter{}, func(context.Context, *message.Message) error { return nil },
		WithCheckpoint(checkpoint.Config{Mode: checkpoint.Batch, BatchCount: 2}), WithExecutor(future.Inline))
	require.NoError(t, err)

	require.NoError(t, a.Start(context.Background()))
	require.NoError(t, a.Destroy(context.Background()))

	src.mu.Lock()
	defer src.mu.Unlock()
	assert.ElementsMatch(t, []string{"la", "lb"}, src.completed)
	assert.Zero(t, a.Checkpointer().(*checkpoint.LockTokenCheckpointer).Held())
}
