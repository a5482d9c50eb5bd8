package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/nikhilbhutani/docstream/internal/broker"
	"github.com/nikhilbhutani/docstream/internal/config"
	"github.com/nikhilbhutani/docstream/internal/database"
	"github.com/nikhilbhutani/docstream/internal/dispatch"
	"github.com/nikhilbhutani/docstream/internal/envelope"
	"github.com/nikhilbhutani/docstream/internal/llm"
	"github.com/nikhilbhutani/docstream/internal/processor"
	"github.com/nikhilbhutani/docstream/internal/queue"
	"github.com/nikhilbhutani/docstream/internal/queue/workers"
	"github.com/nikhilbhutani/docstream/internal/usage"
	"github.com/nikhilbhutani/docstream/internal/worker"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	kinds := make([]envelope.Kind, 0, len(cfg.Worker.Kinds))
	for _, k := range cfg.Worker.Kinds {
		kind, err := envelope.ParseKind(k)
		if err != nil {
			slog.Error("invalid WORKER_KINDS", "error", err)
			os.Exit(1)
		}
		kinds = append(kinds, kind)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb := broker.NewClient(cfg.Redis)
	defer rdb.Close()
	b := broker.NewRedisBroker(rdb)

	publisher := dispatch.NewPublisher(b)
	gateway := llm.NewGateway(cfg.LLM)

	var handlerOpts []processor.Option
	if cfg.Database.URL != "" {
		db, err := database.NewPool(ctx, cfg.Database)
		if err != nil {
			slog.Warn("database unavailable, usage will not be recorded", "error", err)
		} else {
			defer db.Close()
			handlerOpts = append(handlerOpts, processor.WithUsageRecorder(usage.NewRecorder(db)))
		}
	}

	loopOpts := []worker.Option{
		worker.WithBlock(cfg.Streams.ReadBlock),
		worker.WithRetryDelay(cfg.Streams.RetryDelay),
	}
	if cfg.Streams.ReclaimMinIdle > 0 {
		loopOpts = append(loopOpts, worker.WithReclaim(cfg.Streams.ReclaimMinIdle, cfg.Streams.ReclaimInterval))
	}

	g, ctx := errgroup.WithContext(ctx)

	for _, kind := range kinds {
		consumer := cfg.Worker.ConsumerName
		if consumer == "" {
			consumer = worker.DefaultConsumerName(kind)
		}
		h := processor.NewHandler(kind, gateway, publisher, handlerOpts...)
		loop := worker.NewLoop(b, kind, consumer, h, loopOpts...)

		g.Go(func() error {
			slog.Info("starting worker loop", "kind", kind, "consumer", consumer)
			return loop.Run(ctx)
		})
	}

	// Background tasks: periodic removal of responses nobody collected.
	srv := asynq.NewServer(queue.RedisOpt(cfg.Redis), asynq.Config{
		Concurrency: cfg.Worker.TaskConcurrency,
		Logger:      asynqLogger{},
	})
	registry := queue.NewHandlersRegistry()
	sweeper := workers.NewSweepWorker(b, cfg.Streams.ResponseTTL)
	registry.Register(queue.TypeResponsesSweep, asynq.HandlerFunc(sweeper.ProcessTask))

	scheduler, err := queue.NewScheduler(cfg.Redis, cfg.Streams.SweepSpec, cfg.Streams.ResponseTTL/2)
	if err != nil {
		slog.Error("failed to create scheduler", "error", err)
		os.Exit(1)
	}

	if err := srv.Start(registry.Mux()); err != nil {
		slog.Error("failed to start task server", "error", err)
		os.Exit(1)
	}
	if err := scheduler.Start(); err != nil {
		slog.Error("failed to start scheduler", "error", err)
		srv.Shutdown()
		os.Exit(1)
	}

	slog.Info("worker started", "kinds", cfg.Worker.Kinds, "task_concurrency", cfg.Worker.TaskConcurrency)

	g.Go(func() error {
		<-ctx.Done()
		scheduler.Shutdown()
		srv.Shutdown()
		return nil
	})

	if err := g.Wait(); err != nil {
		slog.Error("worker stopped with error", "error", err)
		os.Exit(1)
	}
	slog.Info("worker stopped")
}
