package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/listing-monitor/internal/entity"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestClient(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func newTestQueue(t *testing.T) (*QueueRepoImpl, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	q := NewQueueRepo(newTestClient(t), "test:queue:",
		entity.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 10 * time.Second}, time.Minute)
	q.now = clock.now
	return q, clock
}

func enqueuePage(t *testing.T, q *QueueRepoImpl, scanID int64, page, priority int) string {
	t.Helper()
	id, err := q.Enqueue(context.Background(), &entity.ScanJob{
		ScanID:   scanID,
		Target:   entity.Target{Kind: entity.TargetPage, Page: page, URL: "https://market.example/listings?page=1"},
		Priority: priority,
	})
	require.NoError(t, err)
	return id
}

func TestQueueRoundTripAndPriority(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	low := enqueuePage(t, q, 1, 1, 1)
	low2 := enqueuePage(t, q, 1, 2, 1)
	high := enqueuePage(t, q, 1, 3, 7)

	job, err := q.Dequeue(ctx, "w1")
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, high, job.JobID)
	assert.Equal(t, 3, job.Target.Page)
	assert.Equal(t, 7, job.Priority)
	assert.Equal(t, 1, job.AttemptCount)
	assert.Equal(t, int64(1), job.ScanID)
	assert.Equal(t, "w1", job.WorkerToken)

	job, err = q.Dequeue(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, low, job.JobID)
	job, err = q.Dequeue(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, low2, job.JobID)

	job, err = q.Dequeue(ctx, "w1")
	require.NoError(t, err)
	assert.Nil(t, job)

	require.NoError(t, q.Ack(ctx, high))
	assert.ErrorIs(t, q.Ack(ctx, high), entity.ErrJobNotActive)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, entity.QueueStats{Active: 2, Completed: 1}, stats)
}

func TestQueueRetryBackoffAndExhaustion(t *testing.T) {
	q, clock := newTestQueue(t)
	ctx := context.Background()
	id := enqueuePage(t, q, 1, 1, 0)

	for attempt := 1; attempt <= 3; attempt++ {
		job, err := q.Dequeue(ctx, "w")
		require.NoError(t, err)
		require.NotNil(t, job, "attempt %d", attempt)
		assert.Equal(t, attempt, job.AttemptCount)

		outcome, err := q.Fail(ctx, id, "timeout")
		require.NoError(t, err)
		if attempt < 3 {
			assert.Equal(t, entity.FailRetried, outcome)
			// Not due before the backoff elapsed.
			job, err = q.Dequeue(ctx, "w")
			require.NoError(t, err)
			assert.Nil(t, job)
			clock.advance(time.Duration(1<<(attempt-1)) * time.Second)
		} else {
			assert.Equal(t, entity.FailExhausted, outcome)
		}
	}

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, entity.QueueStats{Failed: 1}, stats)

	_, err = q.Fail(ctx, id, "again")
	assert.ErrorIs(t, err, entity.ErrJobNotActive)
}

func TestQueueRecoverStalledAndRelease(t *testing.T) {
	q, clock := newTestQueue(t)
	ctx := context.Background()
	id := enqueuePage(t, q, 1, 1, 0)

	_, err := q.Dequeue(ctx, "crashed")
	require.NoError(t, err)

	n, err := q.RecoverStalled(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	clock.advance(2 * time.Minute)
	n, err = q.RecoverStalled(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	job, err := q.Dequeue(ctx, "w2")
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, 2, job.AttemptCount)

	require.NoError(t, q.Release(ctx, id))
	job, err = q.Dequeue(ctx, "w3")
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, 2, job.AttemptCount, "release does not count an attempt")
}

func TestQueuePurgeAndAbandon(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()
	claimed := enqueuePage(t, q, 1, 1, 9)
	enqueuePage(t, q, 1, 2, 0)
	enqueuePage(t, q, 1, 3, 0)
	other := enqueuePage(t, q, 2, 1, 0)

	job, err := q.Dequeue(ctx, "w")
	require.NoError(t, err)
	require.Equal(t, claimed, job.JobID)

	n, err := q.Purge(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, q.Abandon(ctx, claimed, "scan cancelled"))
	assert.ErrorIs(t, q.Abandon(ctx, claimed, "again"), entity.ErrJobNotActive)

	job, err = q.Dequeue(ctx, "w")
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, other, job.JobID)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, entity.QueueStats{Active: 1, Failed: 1}, stats)
}
