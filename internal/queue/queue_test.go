package queue_test

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/Aidin1998/amlwatch/internal/queue"
	"github.com/Aidin1998/amlwatch/pkg/errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryQueue_FIFO(t *testing.T) {
	ctx := context.Background()
	q := queue.NewMemoryQueue(4)

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, q.Enqueue(ctx, id))
	}
	assert.Equal(t, 3, q.Len())
	for _, want := range []string{"a", "b", "c"} {
		got, err := q.Dequeue(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestMemoryQueue_Full(t *testing.T) {
	ctx := context.Background()
	q := queue.NewMemoryQueue(1)
	require.NoError(t, q.Enqueue(ctx, "a"))
	assert.True(t, errors.Is(q.Enqueue(ctx, "b"), queue.ErrFull))
}

func TestMemoryQueue_CloseUnblocksDequeue(t *testing.T) {
	q := queue.NewMemoryQueue(1)
	errCh := make(chan error, 1)
	go func() {
		_, err := q.Dequeue(context.Background())
		errCh <- err
	}()

	require.NoError(t, q.Close())
	require.NoError(t, q.Close())
	select {
	case err := <-errCh:
		assert.True(t, errors.Is(err, queue.ErrClosed))
	case <-time.After(time.Second):
		t.Fatal("dequeue did not return after close")
	}
	assert.True(t, errors.Is(q.Enqueue(context.Background(), "x"), queue.ErrClosed))
}

func TestMemoryQueue_ContextCancel(t *testing.T) {
	q := queue.NewMemoryQueue(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := q.Dequeue(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// Requires a reachable Redis; set AMLWATCH_TEST_REDIS_ADDR to run.
func TestRedisQueue(t *testing.T) {
	addr := os.Getenv("AMLWATCH_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("AMLWATCH_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	ctx := context.Background()
	key := "amlwatch:test:" + uuid.NewString()
	defer client.Del(ctx, key)

	q := queue.NewRedisQueue(client, key)
	require.NoError(t, q.Enqueue(ctx, "first"))
	require.NoError(t, q.Enqueue(ctx, "second"))

	got, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "first", got)
	got, err = q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "second", got)

	require.NoError(t, q.Close())
	_, err = q.Dequeue(ctx)
	assert.True(t, errors.Is(err, queue.ErrClosed))
}

func TestRedisQueue_ConcurrentClose(t *testing.T) {
	// Close and a closed queue never reach the server
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()
	q := queue.NewRedisQueue(client, "")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NotPanics(t, func() { _ = q.Close() })
		}()
	}
	wg.Wait()

	ctx := context.Background()
	assert.True(t, errors.Is(q.Enqueue(ctx, "late"), queue.ErrClosed))
	_, err := q.Dequeue(ctx)
	assert.True(t, errors.Is(err, queue.ErrClosed))
}
