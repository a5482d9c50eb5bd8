// Package sweep removes responses nobody collected. A response stays on its
// stream until the waiting caller deletes it; callers that timed out or went
// away leave theirs behind.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nikhilbhutani/docstream/internal/broker"
	"github.com/nikhilbhutani/docstream/internal/envelope"
)

const defaultBatch = 500

type Sweeper struct {
	broker broker.Broker
	ttl    time.Duration
	kinds  []envelope.Kind
	batch  int64
	now    func() time.Time
}

// NewSweeper deletes responses older than ttl from the response streams of
// kinds, or of every kind when none are given.
func NewSweeper(b broker.Broker, ttl time.Duration, kinds ...envelope.Kind) *Sweeper {
	if len(kinds) == 0 {
		kinds = envelope.Kinds()
	}
	return &Sweeper{
		broker: b,
		ttl:    ttl,
		kinds:  kinds,
		batch:  defaultBatch,
		now:    time.Now,
	}
}

// Sweep returns the number of responses removed. A failing stream does not
// stop the others.
func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.ttl)

	var total int64
	var errs []error
	for _, kind := range s.kinds {
		stream := kind.ResponseStream()
		n, err := s.sweepStream(ctx, stream, cutoff)
		total += n
		if err != nil {
			errs = append(errs, fmt.Errorf("sweep %s: %w", stream, err))
			continue
		}
		if n > 0 {
			slog.Info("swept orphaned responses", "stream", stream, "count", n)
		}
	}
	return total, errors.Join(errs...)
}

func (s *Sweeper) sweepStream(ctx context.Context, stream string, cutoff time.Time) (int64, error) {
	var total int64
	for {
		n, err := s.broker.DeleteBefore(ctx, stream, cutoff, s.batch)
		total += n
		if err != nil {
			return total, err
		}
		if n < s.batch {
			return total, nil
		}
	}
}
