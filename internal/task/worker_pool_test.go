package task

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/phrazzld/carsync-api/internal/platform/logger"
	"github.com/phrazzld/carsync-api/internal/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBroker(t *testing.T) *queue.MemoryBroker {
	t.Helper()
	b := queue.NewMemoryBroker(queue.DefaultTopology("", time.Minute), 16, logger.Discard())
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func startPool(t *testing.T, b *queue.MemoryBroker, workers int, h queue.Handler) *ConsumerPool {
	t.Helper()
	pool := NewConsumerPool(b, logger.Discard())
	require.NoError(t, pool.Subscribe(Subscription{Queue: queue.SyncQueue, Workers: workers, Handler: h}))
	require.NoError(t, pool.Start())
	t.Cleanup(pool.Stop)
	return pool
}

type call struct {
	body        string
	redelivered bool
}

func TestConsumerPoolProcessesDeliveries(t *testing.T) {
	t.Parallel()

	b := newTestBroker(t)
	calls := make(chan call, 10)
	startPool(t, b, 3, func(_ context.Context, d *queue.Delivery) error {
		calls <- call{body: string(d.Body), redelivered: d.Redelivered}
		return nil
	})

	ctx := context.Background()
	for _, id := range []string{"V1", "V2", "V3", "V4"} {
		require.NoError(t, b.Publish(ctx, queue.SyncRoutingKey, []byte(id)))
	}

	seen := map[string]bool{}
	for i := 0; i < 4; i++ {
		select {
		case c := <-calls:
			assert.False(t, c.redelivered)
			seen[c.body] = true
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for handler")
		}
	}
	assert.Len(t, seen, 4)
	assert.Equal(t, 0, b.Pending(queue.SyncQueue))
}

func TestConsumerPoolRequeuesFailureOnce(t *testing.T) {
	t.Parallel()

	b := newTestBroker(t)
	calls := make(chan call, 10)
	var failures atomic.Int32
	pool := NewConsumerPool(b, logger.Discard())
	pool.SetErrorHandler(func(*queue.Delivery, error) { failures.Add(1) })
	require.NoError(t, pool.Subscribe(Subscription{
		Queue:   queue.SyncQueue,
		Workers: 1,
		Handler: func(_ context.Context, d *queue.Delivery) error {
			calls <- call{body: string(d.Body), redelivered: d.Redelivered}
			return errors.New("store unavailable")
		},
	}))
	require.NoError(t, pool.Start())
	t.Cleanup(pool.Stop)

	require.NoError(t, b.Publish(context.Background(), queue.SyncRoutingKey, []byte("V1")))

	first := <-calls
	assert.False(t, first.redelivered)
	select {
	case second := <-calls:
		assert.True(t, second.redelivered)
	case <-time.After(2 * time.Second):
		t.Fatal("failed delivery was not requeued")
	}

	select {
	case c := <-calls:
		t.Fatalf("redelivered failure was requeued again: %+v", c)
	case <-time.After(100 * time.Millisecond):
	}
	assert.Eventually(t, func() bool { return failures.Load() == 2 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, b.Pending(queue.SyncQueue))
}

func TestConsumerPoolRecoversPanics(t *testing.T) {
	t.Parallel()

	b := newTestBroker(t)
	var calls atomic.Int32
	startPool(t, b, 1, func(context.Context, *queue.Delivery) error {
		calls.Add(1)
		panic("nil map")
	})

	require.NoError(t, b.Publish(context.Background(), queue.SyncRoutingKey, []byte("V1")))
	assert.Eventually(t, func() bool { return calls.Load() == 2 }, 2*time.Second, 10*time.Millisecond)
}

func TestConsumerPoolStopCancelsHandlers(t *testing.T) {
	t.Parallel()

	b := newTestBroker(t)
	started := make(chan struct{})
	canceled := make(chan error, 1)
	pool := NewConsumerPool(b, logger.Discard())
	require.NoError(t, pool.Subscribe(Subscription{
		Queue:   queue.SyncQueue,
		Workers: 1,
		Handler: func(ctx context.Context, _ *queue.Delivery) error {
			close(started)
			<-ctx.Done()
			canceled <- ctx.Err()
			return ctx.Err()
		},
	}))
	require.NoError(t, pool.Start())
	require.NoError(t, b.Publish(context.Background(), queue.SyncRoutingKey, []byte("V1")))

	<-started
	pool.Stop()
	assert.ErrorIs(t, <-canceled, context.Canceled)
	// The interrupted delivery goes back for another consumer.
	assert.Eventually(t, func() bool { return b.Pending(queue.SyncQueue) == 1 }, time.Second, 10*time.Millisecond)
}

func TestConsumerPoolSubscriptionErrors(t *testing.T) {
	t.Parallel()

	b := newTestBroker(t)
	noop := func(context.Context, *queue.Delivery) error { return nil }

	pool := NewConsumerPool(b, logger.Discard())
	assert.Error(t, pool.Subscribe(Subscription{Queue: queue.SyncQueue, Workers: 1}))

	require.NoError(t, pool.Subscribe(Subscription{Queue: "missing", Workers: 0, Handler: noop}))
	err := pool.Start()
	assert.ErrorIs(t, err, queue.ErrUnknownQueue)

	started := NewConsumerPool(b, logger.Discard())
	require.NoError(t, started.Start())
	t.Cleanup(started.Stop)
	assert.ErrorIs(t, started.Subscribe(Subscription{Queue: queue.SyncQueue, Handler: noop}), ErrPoolStarted)
	assert.ErrorIs(t, started.Start(), ErrPoolStarted)
}
