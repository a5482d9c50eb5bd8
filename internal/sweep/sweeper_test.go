package sweep

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/docstream/internal/broker"
	"github.com/nikhilbhutani/docstream/internal/envelope"
)

func TestSweepRemovesOnlyOldResponses(t *testing.T) {
	m := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	defer client.Close()
	ctx := context.Background()

	old := time.Now().Add(-time.Hour).UnixMilli()
	for i := 0; i < 7; i++ {
		for _, stream := range []string{"summary-responses", "qa-responses"} {
			require.NoError(t, client.XAdd(ctx, &redis.XAddArgs{
				Stream: stream,
				ID:     fmt.Sprintf("%d-%d", old, i),
				Values: map[string]any{"data": "{}"},
			}).Err())
		}
	}
	require.NoError(t, client.XAdd(ctx, &redis.XAddArgs{Stream: "summary-responses", Values: map[string]any{"data": "{}"}}).Err())

	s := NewSweeper(broker.NewRedisBroker(client), 10*time.Minute)
	s.batch = 3

	n, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(14), n)

	left, err := client.XLen(ctx, "summary-responses").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), left)
	left, err = client.XLen(ctx, "qa-responses").Result()
	require.NoError(t, err)
	assert.Zero(t, left)
}

func TestSweepOnlyListedKinds(t *testing.T) {
	m := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	defer client.Close()
	ctx := context.Background()

	for _, stream := range []string{"summary-responses", "qa-responses"} {
		require.NoError(t, client.XAdd(ctx, &redis.XAddArgs{Stream: stream, ID: "1000-0", Values: map[string]any{"data": "{}"}}).Err())
	}

	n, err := NewSweeper(broker.NewRedisBroker(client), time.Minute, envelope.KindAnswerQuestion).Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, int64(1), client.XLen(ctx, "summary-responses").Val())
}

type brokenStream struct {
	broker.Broker
	fail string
	hits map[string]int
}

func (b *brokenStream) DeleteBefore(_ context.Context, stream string, _ time.Time, _ int64) (int64, error) {
	b.hits[stream]++
	if stream == b.fail {
		return 0, errors.New("READONLY")
	}
	return 2, nil
}

func TestSweepContinuesPastFailingStream(t *testing.T) {
	b := &brokenStream{fail: "summary-responses", hits: map[string]int{}}
	n, err := NewSweeper(b, time.Minute).Sweep(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "summary-responses")
	assert.Equal(t, int64(2), n)
	assert.Equal(t, 1, b.hits["qa-responses"])
}
