package queue

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Runs against a real server when REDIS_TEST_URL is set.
func TestRedisQueueRoundTrip(t *testing.T) {
	url := os.Getenv("REDIS_TEST_URL")
	if url == "" {
		t.Skip("REDIS_TEST_URL not set")
	}
	ctx := context.Background()
	prefix := "test:" + uuid.NewString()
	q, err := NewRedisQueue(ctx, RedisOptions{
		URL:           url,
		Key:           prefix + ":webhook",
		DeadLetterKey: prefix + ":dead",
		LockKey:       prefix + ":lock",
		LockTTL:       300 * time.Millisecond,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	defer q.Close()
	defer q.client.Del(ctx, prefix+":webhook", prefix+":dead")

	t0 := time.Now()
	require.NoError(t, q.Enqueue(ctx, event("b", t0.Add(time.Second))))
	require.NoError(t, q.Enqueue(ctx, event("a", t0)))

	entries, err := q.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "a", entries[0].Event.ID)

	require.NoError(t, q.Ack(ctx, entries[:1]))
	require.NoError(t, q.DeadLetter(ctx, entries[1:]))
	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Zero(t, depth)

	lockCtx, release, err := q.Acquire(ctx)
	require.NoError(t, err)
	// held well past its ttl while the holder is alive
	time.Sleep(time.Second)
	_, _, err = q.Acquire(ctx)
	assert.ErrorIs(t, err, ErrNotLeader)
	assert.NoError(t, lockCtx.Err())
	release()

	_, release, err = q.Acquire(ctx)
	require.NoError(t, err)
	release()
}
