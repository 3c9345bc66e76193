package buffer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/acmistream/errors"
	"github.com/c360/acmistream/metric"
)

func TestQueue_FIFO(t *testing.T) {
	q, err := NewQueue[int](4)
	require.NoError(t, err)

	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		require.NoError(t, q.Write(ctx, i))
	}
	assert.Equal(t, 3, q.Size())
	assert.Equal(t, 4, q.Capacity())

	for i := 1; i <= 3; i++ {
		got, ok := q.Read(ctx)
		require.True(t, ok)
		assert.Equal(t, i, got)
	}

	_, ok := q.TryRead()
	assert.False(t, ok)
	assert.Equal(t, int64(3), q.Stats().Writes())
	assert.Equal(t, int64(3), q.Stats().Reads())
	assert.Equal(t, int64(3), q.Stats().MaxSize())
}

func TestQueue_RejectWhenFull(t *testing.T) {
	q, err := NewQueue[string](1, WithOverflowPolicy[string](Reject))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, q.Write(ctx, "a"))

	err = q.Write(ctx, "b")
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrQueueFull)
	assert.True(t, errors.IsTransient(err))
	assert.Equal(t, int64(1), q.Stats().Overflows())

	got, ok := q.TryRead()
	require.True(t, ok)
	assert.Equal(t, "a", got, "rejected write must not displace queued items")
}

func TestQueue_BlockUntilSpace(t *testing.T) {
	q, err := NewQueue[int](1)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, q.Write(ctx, 1))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, q.Write(ctx, 2))
	}()

	time.Sleep(20 * time.Millisecond)
	got, ok := q.Read(ctx)
	require.True(t, ok)
	assert.Equal(t, 1, got)

	wg.Wait()
	got, ok = q.Read(ctx)
	require.True(t, ok)
	assert.Equal(t, 2, got)
	assert.Greater(t, q.Stats().BlockedTime(), time.Duration(0))
}

func TestQueue_BlockedWriteHonoursContext(t *testing.T) {
	q, err := NewQueue[int](1)
	require.NoError(t, err)
	require.NoError(t, q.Write(context.Background(), 1))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err = q.Write(ctx, 2)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, q.Size())
}

func TestQueue_CloseDrains(t *testing.T) {
	q, err := NewQueue[int](4)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, q.Write(ctx, 7))
	require.NoError(t, q.Write(ctx, 8))
	require.NoError(t, q.Close())
	require.NoError(t, q.Close())

	assert.ErrorIs(t, q.Write(ctx, 9), errors.ErrAlreadyStopped)

	got, ok := q.Read(ctx)
	require.True(t, ok)
	assert.Equal(t, 7, got)
	got, ok = q.Read(ctx)
	require.True(t, ok)
	assert.Equal(t, 8, got)

	_, ok = q.Read(ctx)
	assert.False(t, ok, "closed and drained queue must report no item")
}

func TestQueue_ReadHonoursContext(t *testing.T) {
	q, err := NewQueue[int](1)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, ok := q.Read(ctx)
	assert.False(t, ok)
}

func TestQueue_Metrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()

	q, err := NewQueue[int](2, WithMetrics[int](registry, "test_queue"))
	require.NoError(t, err)
	require.NoError(t, q.Write(context.Background(), 1))

	_, err = NewQueue[int](2, WithMetrics[int](registry, "test_queue"))
	assert.Error(t, err, "registering the same prefix twice must fail")
}

func TestOverflowPolicy_String(t *testing.T) {
	assert.Equal(t, "Block", Block.String())
	assert.Equal(t, "Reject", Reject.String())
	assert.Equal(t, "Unknown", OverflowPolicy(42).String())
}
