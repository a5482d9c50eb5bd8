package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nikhilbhutani/docstream/internal/broker"
	"github.com/nikhilbhutani/docstream/internal/envelope"
)

const (
	defaultScanBlock    = time.Second
	defaultScanBatch    = 100
	defaultPollInterval = 100 * time.Millisecond
)

// Waiter polls a response stream for the envelope carrying one request id.
// A Waiter holds no per-call state and is safe for concurrent use.
type Waiter struct {
	broker       broker.Broker
	block        time.Duration
	batch        int64
	pollInterval time.Duration
	logger       *slog.Logger
}

type WaiterOption func(*Waiter)

// WithScanBlock bounds how long a single scan may block on the broker.
func WithScanBlock(d time.Duration) WaiterOption {
	return func(w *Waiter) { w.block = d }
}

func WithScanBatch(n int) WaiterOption {
	return func(w *Waiter) {
		if n > 0 {
			w.batch = int64(n)
		}
	}
}

func WithPollInterval(d time.Duration) WaiterOption {
	return func(w *Waiter) { w.pollInterval = d }
}

func WithWaiterLogger(l *slog.Logger) WaiterOption {
	return func(w *Waiter) { w.logger = l }
}

func NewWaiter(b broker.Broker, opts ...WaiterOption) *Waiter {
	w := &Waiter{
		broker:       b,
		block:        defaultScanBlock,
		batch:        defaultScanBatch,
		pollInterval: defaultPollInterval,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Wait blocks until a response for requestID appears on the kind's response
// stream, the timeout elapses, or ctx is done. The matching entry is deleted
// before returning; a failed delete does not invalidate the match.
//
// The scan cursor only moves forward. Responses are append-only, so an entry
// that did not match once never will, and each cycle reads only what was
// appended since the previous one.
func (w *Waiter) Wait(ctx context.Context, kind envelope.Kind, requestID string, timeout time.Duration) (*envelope.Response, error) {
	stream := kind.ResponseStream()
	start := time.Now()
	cursor := broker.StartOfHistory

	for {
		remaining := timeout - time.Since(start)
		if remaining <= 0 {
			return nil, fmt.Errorf("%w: %s after %s", ErrRequestTimeout, requestID, timeout)
		}
		if err := ctx.Err(); err != nil {
			return nil, contextError(requestID, err)
		}

		entries, err := w.broker.ScanFrom(ctx, stream, cursor, w.batch, min(w.block, remaining))
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, contextError(requestID, ctxErr)
			}
			w.logger.Warn("response scan failed", "stream", stream, "request_id", requestID, "error", err)
		}

		for _, e := range entries {
			cursor = e.ID
			if e.Payload == nil {
				continue
			}
			resp, err := envelope.DecodeResponse(e.Payload)
			if err != nil {
				w.logger.Debug("skipping undecodable response", "stream", stream, "entry_id", e.ID, "error", err)
				continue
			}
			if resp.RequestID != requestID {
				continue
			}

			if err := w.broker.Delete(context.WithoutCancel(ctx), stream, e.ID); err != nil {
				w.logger.Warn("failed to delete matched response", "stream", stream, "entry_id", e.ID, "error", err)
			}
			return resp, nil
		}

		// A full batch means there is more history to page through right away.
		if err == nil && int64(len(entries)) >= w.batch {
			continue
		}

		pause := min(w.pollInterval, timeout-time.Since(start))
		if pause > 0 {
			if err := sleepContext(ctx, pause); err != nil {
				return nil, contextError(requestID, err)
			}
		}
	}
}

func contextError(requestID string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %w", ErrRequestTimeout, requestID, err)
	}
	return err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
