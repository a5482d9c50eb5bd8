package broker

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBroker(t *testing.T) (*RedisBroker, *miniredis.Miniredis) {
	t.Helper()
	m := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisBroker(client), m
}

func TestEnsureGroupIsIdempotentAndKeepsCursor(t *testing.T) {
	b, _ := newTestBroker(t)
	ctx := context.Background()

	require.NoError(t, b.EnsureGroup(ctx, "jobs", "workers"))
	require.NoError(t, b.EnsureGroup(ctx, "jobs", "workers"))

	first, err := b.Append(ctx, "jobs", []byte(`{"n":1}`))
	require.NoError(t, err)
	second, err := b.Append(ctx, "jobs", []byte(`{"n":2}`))
	require.NoError(t, err)

	got, err := b.ReadGroup(ctx, "jobs", "workers", "c1", 1, 10*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, first, got[0].ID)

	require.NoError(t, b.EnsureGroup(ctx, "jobs", "workers"))

	got, err = b.ReadGroup(ctx, "jobs", "workers", "c1", 1, 10*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, second, got[0].ID, "recreating the group must not rewind delivery")
}

func TestEnsureGroupStartsAtBeginningOfHistory(t *testing.T) {
	b, _ := newTestBroker(t)
	ctx := context.Background()

	id, err := b.Append(ctx, "jobs", []byte("early"))
	require.NoError(t, err)
	require.NoError(t, b.EnsureGroup(ctx, "jobs", "workers"))

	got, err := b.ReadGroup(ctx, "jobs", "workers", "c1", 10, 10*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, id, got[0].ID)
	assert.Equal(t, []byte("early"), got[0].Payload)
}

func TestReadGroupTimesOutEmpty(t *testing.T) {
	b, _ := newTestBroker(t)
	ctx := context.Background()
	require.NoError(t, b.EnsureGroup(ctx, "jobs", "workers"))

	got, err := b.ReadGroup(ctx, "jobs", "workers", "c1", 1, 20*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestAckClearsPending(t *testing.T) {
	b, _ := newTestBroker(t)
	ctx := context.Background()
	require.NoError(t, b.EnsureGroup(ctx, "jobs", "workers"))

	id, err := b.Append(ctx, "jobs", []byte("x"))
	require.NoError(t, err)
	_, err = b.ReadGroup(ctx, "jobs", "workers", "c1", 1, 10*time.Millisecond)
	require.NoError(t, err)

	pending, err := b.ReadPending(ctx, "jobs", "workers", "c1", StartOfHistory, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, id, pending[0].ID)

	require.NoError(t, b.Ack(ctx, "jobs", "workers", id))
	require.NoError(t, b.Ack(ctx, "jobs", "workers", id), "ack is idempotent")

	pending, err = b.ReadPending(ctx, "jobs", "workers", "c1", StartOfHistory, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestScanFromDoesNotConsume(t *testing.T) {
	b, _ := newTestBroker(t)
	ctx := context.Background()

	var ids []string
	for _, p := range []string{"a", "b", "c"} {
		id, err := b.Append(ctx, "responses", []byte(p))
		require.NoError(t, err)
		ids = append(ids, id)
	}

	for i := 0; i < 2; i++ {
		got, err := b.ScanFrom(ctx, "responses", StartOfHistory, 10, 0)
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, ids[0], got[0].ID)
	}

	got, err := b.ScanFrom(ctx, "responses", ids[0], 10, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, []byte("b"), got[0].Payload)

	got, err = b.ScanFrom(ctx, "responses", ids[2], 10, 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestScanFromBlocksUntilAppend(t *testing.T) {
	b, _ := newTestBroker(t)
	ctx := context.Background()

	go func() {
		time.Sleep(30 * time.Millisecond)
		_, _ = b.Append(ctx, "responses", []byte("late"))
	}()

	got, err := b.ScanFrom(ctx, "responses", StartOfHistory, 10, 2*time.Second)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, []byte("late"), got[0].Payload)
}

func TestDelete(t *testing.T) {
	b, _ := newTestBroker(t)
	ctx := context.Background()

	id, err := b.Append(ctx, "responses", []byte("x"))
	require.NoError(t, err)
	require.NoError(t, b.Delete(ctx, "responses", id))

	got, err := b.ScanFrom(ctx, "responses", StartOfHistory, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDeleteBefore(t *testing.T) {
	b, _ := newTestBroker(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := b.Append(ctx, "responses", []byte("x"))
		require.NoError(t, err)
	}

	n, err := b.DeleteBefore(ctx, "responses", time.Now().Add(-time.Hour), 100)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = b.DeleteBefore(ctx, "responses", time.Now().Add(time.Hour), 100)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestClaimMovesIdleEntries(t *testing.T) {
	b, _ := newTestBroker(t)
	ctx := context.Background()
	require.NoError(t, b.EnsureGroup(ctx, "jobs", "workers"))

	id, err := b.Append(ctx, "jobs", []byte("stuck"))
	require.NoError(t, err)
	_, err = b.ReadGroup(ctx, "jobs", "workers", "dead", 1, 10*time.Millisecond)
	require.NoError(t, err)

	claimed, _, err := b.Claim(ctx, "jobs", "workers", "alive", 0, "", 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, id, claimed[0].ID)

	pending, err := b.ReadPending(ctx, "jobs", "workers", "alive", StartOfHistory, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestBlockArg(t *testing.T) {
	assert.Equal(t, time.Duration(-1), blockArg(0))
	assert.Equal(t, time.Duration(-1), blockArg(-time.Second))
	assert.Equal(t, time.Millisecond, blockArg(time.Microsecond))
	assert.Equal(t, time.Second, blockArg(time.Second))
}
