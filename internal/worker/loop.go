package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/nikhilbhutani/docstream/internal/broker"
	"github.com/nikhilbhutani/docstream/internal/envelope"
)

const (
	defaultBlock      = 2 * time.Second
	defaultCount      = 1
	defaultRetryDelay = time.Second
	pendingBatch      = 10
)

// Handler processes one request. Returning an error leaves the entry pending.
type Handler interface {
	Handle(ctx context.Context, req *envelope.Request) error
}

type HandlerFunc func(ctx context.Context, req *envelope.Request) error

func (f HandlerFunc) Handle(ctx context.Context, req *envelope.Request) error {
	return f(ctx, req)
}

type Loop struct {
	broker   broker.Broker
	kind     envelope.Kind
	consumer string
	handler  Handler

	block      time.Duration
	count      int64
	retryDelay time.Duration

	reclaimIdle     time.Duration
	reclaimInterval time.Duration

	logger *slog.Logger
}

type Option func(*Loop)

// WithBlock sets how long one group read waits for new entries.
func WithBlock(d time.Duration) Option {
	return func(l *Loop) { l.block = d }
}

func WithCount(n int) Option {
	return func(l *Loop) {
		if n > 0 {
			l.count = int64(n)
		}
	}
}

// WithRetryDelay sets the fixed pause after a failed broker call.
func WithRetryDelay(d time.Duration) Option {
	return func(l *Loop) { l.retryDelay = d }
}

func WithLogger(logger *slog.Logger) Option {
	return func(l *Loop) { l.logger = logger }
}

// WithReclaim makes the loop take over entries that have been pending on any
// consumer of the group for longer than minIdle, checking every interval.
// It is off by default: without it, an entry left by a consumer that never
// comes back stays pending until someone intervenes.
//
// minIdle must exceed the longest a handler can run. A live sibling still
// working on an entry, or this loop's own failed entries, are claimed like
// any other once idle that long, and the request is then handled twice.
func WithReclaim(minIdle, interval time.Duration) Option {
	return func(l *Loop) {
		l.reclaimIdle = minIdle
		l.reclaimInterval = interval
	}
}

func NewLoop(b broker.Broker, kind envelope.Kind, consumer string, h Handler, opts ...Option) *Loop {
	l := &Loop{
		broker:     b,
		kind:       kind,
		consumer:   consumer,
		handler:    h,
		block:      defaultBlock,
		count:      defaultCount,
		retryDelay: defaultRetryDelay,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With(
		"stream", kind.RequestStream(),
		"group", kind.Group(),
		"consumer", consumer,
	)
	return l
}

// DefaultConsumerName is unique per process. Deployments that want pending
// entries redelivered after a restart should configure a stable name instead.
func DefaultConsumerName(kind envelope.Kind) string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	return fmt.Sprintf("%s-worker-%s-%d", kind, host, os.Getpid())
}

// Run consumes the kind's request stream until ctx is cancelled. Broker and
// handler failures never end the loop.
func (l *Loop) Run(ctx context.Context) error {
	if !l.kind.Valid() {
		return fmt.Errorf("unknown work kind %q", l.kind)
	}
	if l.handler == nil {
		return errors.New("worker loop needs a handler")
	}
	if l.consumer == "" {
		return errors.New("worker loop needs a consumer name")
	}

	if !l.ensureGroup(ctx) {
		return nil
	}

	l.logger.Info("worker loop started")
	l.drainPending(ctx)

	var lastReclaim time.Time
	for {
		if ctx.Err() != nil {
			l.logger.Info("worker loop stopped")
			return nil
		}

		if l.reclaimIdle > 0 && time.Since(lastReclaim) >= l.reclaimInterval {
			l.reclaim(ctx)
			lastReclaim = time.Now()
		}

		entries, err := l.broker.ReadGroup(ctx, l.kind.RequestStream(), l.kind.Group(), l.consumer, l.count, l.block)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			l.logger.Error("failed to read requests", "error", err)
			if broker.IsNoGroup(err) {
				l.ensureGroup(ctx)
			}
			sleep(ctx, l.retryDelay)
			continue
		}

		for _, e := range entries {
			l.process(ctx, e)
		}
	}
}

// ensureGroup retries until the group exists or ctx is done.
func (l *Loop) ensureGroup(ctx context.Context) bool {
	for {
		err := l.broker.EnsureGroup(ctx, l.kind.RequestStream(), l.kind.Group())
		if err == nil {
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		l.logger.Error("failed to ensure consumer group", "error", err)
		if !sleep(ctx, l.retryDelay) {
			return false
		}
	}
}

// drainPending replays entries already delivered to this consumer name but
// never acknowledged, which is how work survives a restart.
func (l *Loop) drainPending(ctx context.Context) {
	cursor := broker.StartOfHistory
	for ctx.Err() == nil {
		entries, err := l.broker.ReadPending(ctx, l.kind.RequestStream(), l.kind.Group(), l.consumer, cursor, pendingBatch)
		if err != nil {
			l.logger.Warn("failed to read pending requests", "error", err)
			return
		}
		if len(entries) == 0 {
			return
		}
		l.logger.Info("redelivering pending requests", "count", len(entries))
		for _, e := range entries {
			cursor = e.ID
			l.process(ctx, e)
		}
	}
}

func (l *Loop) reclaim(ctx context.Context) {
	start := "0-0"
	for ctx.Err() == nil {
		entries, next, err := l.broker.Claim(ctx, l.kind.RequestStream(), l.kind.Group(), l.consumer, l.reclaimIdle, start, pendingBatch)
		if err != nil {
			l.logger.Warn("failed to reclaim idle requests", "error", err)
			return
		}
		if len(entries) > 0 {
			l.logger.Info("reclaimed idle requests", "count", len(entries))
		}
		for _, e := range entries {
			l.process(ctx, e)
		}
		if next == "" || next == "0-0" {
			return
		}
		start = next
	}
}

func (l *Loop) process(ctx context.Context, e broker.Entry) {
	logger := l.logger.With("entry_id", e.ID)

	if e.Payload == nil {
		logger.Error("request entry has no payload, discarding")
		l.ack(ctx, e.ID)
		return
	}

	req, err := envelope.DecodeRequest(e.Payload)
	if err != nil {
		logger.Error("undecodable request, discarding", "error", err)
		l.ack(ctx, e.ID)
		return
	}

	logger = logger.With("request_id", req.RequestID)
	logger.Info("processing request", "document_id", req.DocumentID)

	if err := l.handle(ctx, req); err != nil {
		logger.Error("handler failed, request left pending", "error", err)
		return
	}

	l.ack(ctx, e.ID)
	logger.Info("request processed")
}

func (l *Loop) handle(ctx context.Context, req *envelope.Request) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return l.handler.Handle(ctx, req)
}

func (l *Loop) ack(ctx context.Context, id string) {
	// Work that finished must be acknowledged even while shutting down.
	if err := l.broker.Ack(context.WithoutCancel(ctx), l.kind.RequestStream(), l.kind.Group(), id); err != nil {
		l.logger.Error("failed to ack request", "entry_id", id, "error", err)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
