package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"

	"github.com/beacon/pipeline/internal/cache"
	"github.com/beacon/pipeline/internal/client"
	"github.com/beacon/pipeline/internal/config"
	"github.com/beacon/pipeline/internal/failure"
	"github.com/beacon/pipeline/internal/logger"
	"github.com/beacon/pipeline/internal/model"
	"github.com/beacon/pipeline/internal/priority"
	"github.com/beacon/pipeline/internal/progress"
	"github.com/beacon/pipeline/internal/queue"
	"github.com/beacon/pipeline/internal/store"
	"github.com/beacon/pipeline/internal/worker"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Server.LogLevel, cfg.Server.LogFormat).With("service", "ai-worker")
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb := cache.NewRedisClient(cfg.Redis)
	defer rdb.Close()
	redisCache := cache.NewRedisCache(rdb)
	status := cache.NewStatusStore(redisCache, cfg.Status.TTL, cfg.Status.ResultTTL)

	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		fatal(log, "connect to database", err)
	}
	defer pool.Close()

	w := worker.NewAIWorker(worker.AIWorkerDeps{
		Store:   store.NewPostgresStore(pool),
		Scorer:  priority.NewScorer(completer(cfg.LLM, log), cfg.LLM.BatchSize, log),
		Results: status,
		Progress: progress.New(redisCache, status, progress.Toggles{
			Queue:  cfg.Progress.QueueSink,
			Cache:  cfg.Progress.CacheSink,
			PubSub: cfg.Progress.PubSubSink,
		}, log),
		Policy:        failure.DefaultPolicy,
		Log:           log,
		IsLastAttempt: queue.IsLastAttempt,
		ResultWriter:  queue.ResultWriter,
	})

	consumer := queue.NewConsumer(queue.RedisOpt(cfg.Redis), queue.ConsumerConfig{
		Queue:           cfg.Queue.AIQueue,
		Concurrency:     cfg.Queue.Concurrency,
		BackoffBase:     cfg.Queue.BackoffBase,
		ShutdownTimeout: cfg.Queue.ShutdownTimeout,
		LogLevel:        logger.ParseLevel(cfg.Server.LogLevel),
	}, log)
	consumer.Handle(model.TaskTypeAIScoring, w.ProcessTask)

	inspector := asynq.NewInspector(queue.RedisOpt(cfg.Redis))
	defer inspector.Close()
	pruner := queue.NewPruner(inspector, queue.PrunerConfig{
		Queue:         cfg.Queue.AIQueue,
		KeepCompleted: cfg.Queue.RemoveOnComplete,
		KeepFailed:    cfg.Queue.RemoveOnFail,
		Interval:      cfg.Queue.PruneInterval,
	}, log)
	go pruner.Run(ctx)

	log.Info("ai worker starting", "queue", cfg.Queue.AIQueue, "provider", cfg.LLM.Provider, "model", cfg.LLM.Model)
	if err := consumer.Run(ctx); err != nil {
		fatal(log, "consumer error", err)
	}
	log.Info("ai worker stopped")
}

// completer returns nil when no provider is usable, which makes the scorer
// fall back to default scores.
func completer(cfg config.LLMConfig, log *slog.Logger) priority.Completer {
	chat := client.NewChatClient(cfg)
	if !chat.IsConfigured() {
		log.Warn("LLM provider not configured, using default priority scores", "provider", cfg.Provider)
		return nil
	}
	return chat
}

func fatal(log *slog.Logger, msg string, err error) {
	log.Error(msg, "error", err)
	os.Exit(1)
}
