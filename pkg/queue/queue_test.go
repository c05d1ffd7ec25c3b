package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMiniRedis(t *testing.T) (*miniredis.Miniredis, *Queue) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, NewQueue(client, 0, nil)
}

type payload struct {
	AssetID string `json:"asset_id"`
}

func TestQueue_EnqueueDequeue(t *testing.T) {
	mr, q := setupMiniRedis(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, JobTypeReconcileRetry, payload{AssetID: "a1"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	list, err := mr.List(QueueReconcile)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	job, err := q.Dequeue(ctx, 0)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, id, job.ID)
	assert.Equal(t, JobTypeReconcileRetry, job.Type)
	assert.Zero(t, job.Attempt)
	var p payload
	require.NoError(t, json.Unmarshal(job.Payload, &p))
	assert.Equal(t, "a1", p.AssetID)
}

func TestQueue_MalformedEntryIsSkipped(t *testing.T) {
	mr, q := setupMiniRedis(t)
	_, err := mr.RPush(QueueReconcile, "not json")
	require.NoError(t, err)

	job, err := q.Dequeue(context.Background(), 0)
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestQueue_RetryThenDeadLetter(t *testing.T) {
	mr, q := setupMiniRedis(t)
	ctx := context.Background()
	_, err := q.Enqueue(ctx, JobTypeReconcileRetry, payload{AssetID: "a1"})
	require.NoError(t, err)

	cause := errors.New("connection reset")
	for attempt := 1; attempt < MaxRetries; attempt++ {
		job, err := q.Dequeue(ctx, 0)
		require.NoError(t, err)
		require.NotNil(t, job)
		require.NoError(t, q.Retry(ctx, job, cause))
		assert.Equal(t, attempt, job.Attempt)
	}

	job, err := q.Dequeue(ctx, 0)
	require.NoError(t, err)
	require.NotNil(t, job)
	require.NoError(t, q.Retry(ctx, job, cause))

	pending, dead, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)
	assert.Equal(t, int64(1), dead)

	raw, err := mr.Lpop(QueueDLQ)
	require.NoError(t, err)
	var parked Job
	require.NoError(t, json.Unmarshal([]byte(raw), &parked))
	assert.Equal(t, MaxRetries, parked.Attempt)
	assert.Equal(t, "connection reset", parked.LastError)
}

func TestQueue_CustomRetryLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	q := NewQueue(client, 1, nil)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, JobTypeReconcileRetry, payload{AssetID: "a1"})
	require.NoError(t, err)
	job, err := q.Dequeue(ctx, 0)
	require.NoError(t, err)
	require.NoError(t, q.Retry(ctx, job, nil))

	_, dead, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), dead)
}
