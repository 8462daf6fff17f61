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
	log := logger.New(cfg.Server.LogLevel, cfg.Server.LogFormat).With("service", "scan-worker")
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
	if cfg.Database.AutoMigrate {
		if err := store.RunMigrations(cfg.Database.URL); err != nil {
			fatal(log, "run migrations", err)
		}
	}

	var uploader worker.Uploader
	if cfg.Storage.Configured() {
		storage, err := client.NewStorageClient(ctx, cfg.Storage)
		if err != nil {
			fatal(log, "init storage client", err)
		}
		uploader = storage
	} else {
		log.Warn("object storage not configured, screenshots will not be uploaded")
	}

	asynqClient := asynq.NewClient(queue.RedisOpt(cfg.Redis))
	defer asynqClient.Close()
	qc := queue.NewClient(asynqClient, queue.Options{
		Attempts:  cfg.Queue.Attempts,
		Retention: cfg.Queue.Retention,
	}, log)

	w := worker.NewScanWorker(worker.ScanWorkerDeps{
		Store:    store.NewPostgresStore(pool),
		Scanner:  client.NewScannerClient(cfg.Scanner),
		Uploader: uploader,
		Queue:    qc,
		AIQueue:  cfg.Queue.AIQueue,
		Progress: progress.New(redisCache, status, progress.Toggles{
			Queue:  cfg.Progress.QueueSink,
			Cache:  cfg.Progress.CacheSink,
			PubSub: cfg.Progress.PubSubSink,
		}, log),
		Defaults:      scanDefaults(cfg.Scanner),
		Policy:        failure.DefaultPolicy,
		Log:           log,
		IsLastAttempt: queue.IsLastAttempt,
		ResultWriter:  queue.ResultWriter,
	})

	consumer := queue.NewConsumer(queue.RedisOpt(cfg.Redis), queue.ConsumerConfig{
		Queue:           cfg.Queue.ScanQueue,
		Concurrency:     cfg.Queue.Concurrency,
		BackoffBase:     cfg.Queue.BackoffBase,
		ShutdownTimeout: cfg.Queue.ShutdownTimeout,
		LogLevel:        logger.ParseLevel(cfg.Server.LogLevel),
	}, log)
	consumer.Handle(model.TaskTypeScan, w.ProcessTask)

	inspector := asynq.NewInspector(queue.RedisOpt(cfg.Redis))
	defer inspector.Close()
	pruner := queue.NewPruner(inspector, queue.PrunerConfig{
		Queue:         cfg.Queue.ScanQueue,
		KeepCompleted: cfg.Queue.RemoveOnComplete,
		KeepFailed:    cfg.Queue.RemoveOnFail,
		Interval:      cfg.Queue.PruneInterval,
	}, log)
	go pruner.Run(ctx)

	log.Info("scan worker starting", "queue", cfg.Queue.ScanQueue, "concurrency", cfg.Queue.Concurrency)
	if err := consumer.Run(ctx); err != nil {
		fatal(log, "consumer error", err)
	}
	log.Info("scan worker stopped")
}

func scanDefaults(cfg config.ScannerConfig) model.ScanOptions {
	screenshots := cfg.Screenshots
	return model.ScanOptions{
		Timeout:    cfg.DefaultTimeout,
		Tags:       cfg.DefaultTags,
		Viewport:   &model.Viewport{Width: cfg.ViewportWidth, Height: cfg.ViewportHeight},
		Screenshot: &screenshots,
		OutputDir:  cfg.OutputDir,
	}
}

func fatal(log *slog.Logger, msg string, err error) {
	log.Error(msg, "error", err)
	os.Exit(1)
}
