// Package broker wraps an append-only log with consumer groups. It is the only
// package that talks to Redis Streams directly.
package broker

import (
	"context"
	"time"
)

// Entry is one item on a stream. Payload is nil when the entry carries no
// envelope field, which callers treat as undecodable.
type Entry struct {
	ID      string
	Payload []byte
}

// StartOfHistory is the cursor that precedes every entry on a stream.
const StartOfHistory = "0"

// Broker is the log abstraction used by the publisher, the waiter and the
// worker loops. Implementations must be safe for concurrent use.
type Broker interface {
	// EnsureGroup creates the stream and the group positioned at the start of
	// history. An existing group is left untouched.
	EnsureGroup(ctx context.Context, stream, group string) error
	Append(ctx context.Context, stream string, payload []byte) (string, error)
	// ReadGroup returns entries never delivered to any member of the group,
	// blocking up to block for new ones. It returns an empty slice on timeout.
	ReadGroup(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]Entry, error)
	// ReadPending returns entries after the given id that were delivered to
	// consumer and are still unacknowledged.
	ReadPending(ctx context.Context, stream, group, consumer, after string, count int64) ([]Entry, error)
	Ack(ctx context.Context, stream, group string, ids ...string) error
	// ScanFrom reads entries strictly after cursor without touching any group
	// state.
	ScanFrom(ctx context.Context, stream, cursor string, count int64, block time.Duration) ([]Entry, error)
	Delete(ctx context.Context, stream string, ids ...string) error
	// Claim transfers entries pending longer than minIdle on any consumer of
	// the group to consumer. It returns the claimed entries and the cursor for
	// the next call ("0-0" once the pending list is exhausted).
	Claim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, start string, count int64) ([]Entry, string, error)
	// DeleteBefore removes up to count entries appended before cutoff.
	DeleteBefore(ctx context.Context, stream string, cutoff time.Time, count int64) (int64, error)
	Ping(ctx context.Context) error
}
