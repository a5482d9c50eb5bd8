package queue

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/nikhilbhutani/docstream/internal/config"
)

// NewScheduler registers the periodic sweep. Every worker process runs a
// scheduler; the Unique option keeps them from queueing the same sweep twice.
func NewScheduler(cfg config.RedisConfig, sweepSpec string, uniqueFor time.Duration) (*asynq.Scheduler, error) {
	scheduler := asynq.NewScheduler(RedisOpt(cfg), &asynq.SchedulerOpts{
		PostEnqueueFunc: func(info *asynq.TaskInfo, err error) {
			if err != nil && !errors.Is(err, asynq.ErrDuplicateTask) {
				slog.Warn("failed to enqueue scheduled task", "error", err)
			}
		},
	})

	task, err := newTask(TypeResponsesSweep, SweepPayload{})
	if err != nil {
		return nil, err
	}
	entryID, err := scheduler.Register(sweepSpec, task, asynq.Unique(uniqueFor), asynq.MaxRetry(1), asynq.Timeout(time.Minute))
	if err != nil {
		return nil, fmt.Errorf("register %s on %q: %w", TypeResponsesSweep, sweepSpec, err)
	}
	slog.Info("scheduled response sweep", "spec", sweepSpec, "entry_id", entryID)
	return scheduler, nil
}
