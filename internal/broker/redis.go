package broker

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nikhilbhutani/docstream/internal/config"
	"github.com/nikhilbhutani/docstream/internal/envelope"
)

type RedisBroker struct {
	client *redis.Client
}

func NewRedisBroker(client *redis.Client) *RedisBroker {
	return &RedisBroker{client: client}
}

// NewClient builds the go-redis client shared by the broker and the cache.
// Context deadlines are applied to socket reads so a cancelled waiter does not
// stay parked inside a blocking XREAD.
func NewClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:                  cfg.Addr(),
		Password:              cfg.Password,
		DB:                    cfg.DB,
		ContextTimeoutEnabled: true,
	})
}

func (b *RedisBroker) EnsureGroup(ctx context.Context, stream, group string) error {
	err := b.client.XGroupCreateMkStream(ctx, stream, group, StartOfHistory).Err()
	if err != nil && !IsGroupExists(err) {
		return fmt.Errorf("create group %s on %s: %w", group, stream, err)
	}
	return nil
}

func (b *RedisBroker) Append(ctx context.Context, stream string, payload []byte) (string, error) {
	id, err := b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{envelope.Field: payload},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd %s: %w", stream, err)
	}
	return id, nil
}

func (b *RedisBroker) ReadGroup(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]Entry, error) {
	streams, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    count,
		Block:    blockArg(block),
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("xreadgroup %s/%s: %w", stream, group, err)
	}
	return entriesFromStreams(streams), nil
}

func (b *RedisBroker) ReadPending(ctx context.Context, stream, group, consumer, after string, count int64) ([]Entry, error) {
	streams, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, after},
		Count:    count,
		Block:    -1,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read pending %s/%s: %w", stream, group, err)
	}
	return entriesFromStreams(streams), nil
}

func (b *RedisBroker) Ack(ctx context.Context, stream, group string, ids ...string) error {
	if err := b.client.XAck(ctx, stream, group, ids...).Err(); err != nil {
		return fmt.Errorf("xack %s/%s: %w", stream, group, err)
	}
	return nil
}

func (b *RedisBroker) ScanFrom(ctx context.Context, stream, cursor string, count int64, block time.Duration) ([]Entry, error) {
	if cursor == "" {
		cursor = StartOfHistory
	}
	streams, err := b.client.XRead(ctx, &redis.XReadArgs{
		Streams: []string{stream, cursor},
		Count:   count,
		Block:   blockArg(block),
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("xread %s: %w", stream, err)
	}
	return entriesFromStreams(streams), nil
}

func (b *RedisBroker) Delete(ctx context.Context, stream string, ids ...string) error {
	if err := b.client.XDel(ctx, stream, ids...).Err(); err != nil {
		return fmt.Errorf("xdel %s: %w", stream, err)
	}
	return nil
}

func (b *RedisBroker) Claim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, start string, count int64) ([]Entry, string, error) {
	if start == "" {
		start = "0-0"
	}
	msgs, next, err := b.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   stream,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Start:    start,
		Count:    count,
	}).Result()
	if err != nil {
		return nil, "", fmt.Errorf("xautoclaim %s/%s: %w", stream, group, err)
	}
	return entriesFromMessages(msgs), next, nil
}

func (b *RedisBroker) DeleteBefore(ctx context.Context, stream string, cutoff time.Time, count int64) (int64, error) {
	ms := cutoff.UnixMilli() - 1
	if ms < 0 {
		return 0, nil
	}
	end := fmt.Sprintf("%d-%d", ms, uint64(math.MaxUint64))

	msgs, err := b.client.XRangeN(ctx, stream, "-", end, count).Result()
	if err != nil {
		return 0, fmt.Errorf("xrange %s: %w", stream, err)
	}
	if len(msgs) == 0 {
		return 0, nil
	}

	ids := make([]string, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	n, err := b.client.XDel(ctx, stream, ids...).Result()
	if err != nil {
		return 0, fmt.Errorf("xdel %s: %w", stream, err)
	}
	return n, nil
}

func (b *RedisBroker) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// IsGroupExists reports whether err is Redis' BUSYGROUP reply.
func IsGroupExists(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}

// IsNoGroup reports whether err says the stream or the group is missing, as
// happens after the broker lost its data.
func IsNoGroup(err error) bool {
	return err != nil && strings.Contains(err.Error(), "NOGROUP")
}

// blockArg maps a non-positive block to "do not block"; go-redis sends
// BLOCK 0, which means forever, for a zero duration.
func blockArg(block time.Duration) time.Duration {
	if block <= 0 {
		return -1
	}
	if block < time.Millisecond {
		return time.Millisecond
	}
	return block
}

func entriesFromStreams(streams []redis.XStream) []Entry {
	var entries []Entry
	for _, s := range streams {
		entries = append(entries, entriesFromMessages(s.Messages)...)
	}
	return entries
}

func entriesFromMessages(msgs []redis.XMessage) []Entry {
	entries := make([]Entry, 0, len(msgs))
	for _, m := range msgs {
		e := Entry{ID: m.ID}
		switch v := m.Values[envelope.Field].(type) {
		case string:
			e.Payload = []byte(v)
		case []byte:
			e.Payload = v
		}
		entries = append(entries, e)
	}
	return entries
}
