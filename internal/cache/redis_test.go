package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheRoundTrip(t *testing.T) {
	m := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	defer client.Close()
	c := NewCache(client, "docstream:")
	ctx := context.Background()

	var got string
	assert.ErrorIs(t, c.Get(ctx, "doc1", &got), ErrMiss)

	require.NoError(t, c.Set(ctx, "doc1", "hello world", time.Minute))
	assert.True(t, m.Exists("docstream:doc1"))
	require.NoError(t, c.Get(ctx, "doc1", &got))
	assert.Equal(t, "hello world", got)

	m.FastForward(2 * time.Minute)
	assert.ErrorIs(t, c.Get(ctx, "doc1", &got), ErrMiss)

	require.NoError(t, c.Set(ctx, "doc2", 42, 0))
	require.NoError(t, c.Delete(ctx, "doc2"))
	var n int
	assert.ErrorIs(t, c.Get(ctx, "doc2", &n), ErrMiss)
}
