package workers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/docstream/internal/broker"
	"github.com/nikhilbhutani/docstream/internal/queue"
)

func setup(t *testing.T) (*redis.Client, *SweepWorker) {
	t.Helper()
	m := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	for _, stream := range []string{"summary-responses", "qa-responses"} {
		require.NoError(t, client.XAdd(ctx, &redis.XAddArgs{Stream: stream, ID: "1000-0", Values: map[string]any{"data": "{}"}}).Err())
	}
	return client, NewSweepWorker(broker.NewRedisBroker(client), time.Minute)
}

func TestSweepTaskThroughRegistry(t *testing.T) {
	client, w := setup(t)
	registry := queue.NewHandlersRegistry()
	registry.Register(queue.TypeResponsesSweep, w)

	err := registry.Mux().ProcessTask(context.Background(), asynq.NewTask(queue.TypeResponsesSweep, nil))
	require.NoError(t, err)
	assert.Zero(t, client.XLen(context.Background(), "summary-responses").Val())
	assert.Zero(t, client.XLen(context.Background(), "qa-responses").Val())
}

func TestSweepTaskForOneKind(t *testing.T) {
	client, w := setup(t)

	err := w.ProcessTask(context.Background(), asynq.NewTask(queue.TypeResponsesSweep, []byte(`{"kinds":["answer-question"]}`)))
	require.NoError(t, err)
	assert.Equal(t, int64(1), client.XLen(context.Background(), "summary-responses").Val())
	assert.Zero(t, client.XLen(context.Background(), "qa-responses").Val())
}

func TestSweepTaskBadPayloadIsNotRetried(t *testing.T) {
	_, w := setup(t)

	err := w.ProcessTask(context.Background(), asynq.NewTask(queue.TypeResponsesSweep, []byte(`{"kinds":["translate"]}`)))
	require.Error(t, err)
	assert.True(t, errors.Is(err, asynq.SkipRetry))

	err = w.ProcessTask(context.Background(), asynq.NewTask(queue.TypeResponsesSweep, []byte(`not json`)))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}
