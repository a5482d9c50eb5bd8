package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/nikhilbhutani/docstream/internal/broker"
	"github.com/nikhilbhutani/docstream/internal/envelope"
	"github.com/nikhilbhutani/docstream/internal/queue"
	"github.com/nikhilbhutani/docstream/internal/sweep"
)

type SweepWorker struct {
	broker broker.Broker
	ttl    time.Duration
}

func NewSweepWorker(b broker.Broker, ttl time.Duration) *SweepWorker {
	return &SweepWorker{broker: b, ttl: ttl}
}

func (w *SweepWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload queue.SweepPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("unmarshal payload: %w: %w", err, asynq.SkipRetry)
		}
	}

	kinds := make([]envelope.Kind, 0, len(payload.Kinds))
	for _, k := range payload.Kinds {
		kind, err := envelope.ParseKind(k)
		if err != nil {
			return fmt.Errorf("sweep: %w: %w", err, asynq.SkipRetry)
		}
		kinds = append(kinds, kind)
	}

	n, err := sweep.NewSweeper(w.broker, w.ttl, kinds...).Sweep(ctx)
	if err != nil {
		return err
	}
	slog.Info("response sweep finished", "removed", n, "ttl", w.ttl)
	return nil
}
