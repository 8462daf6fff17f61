package queue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"time"

	"github.com/beacon/pipeline/internal/config"
	"github.com/hibiken/asynq"
)

const maxBackoff = time.Hour

// RedisOpt builds the asynq connection options from the shared Redis config.
func RedisOpt(cfg config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:      cfg.Addr,
		Password:  cfg.Password,
		DB:        cfg.DB,
		TLSConfig: cfg.TLSConfig(),
	}
}

type ConsumerConfig struct {
	Queue           string
	Concurrency     int
	BackoffBase     time.Duration
	ShutdownTimeout time.Duration
	LogLevel        slog.Level
}

// Consumer processes tasks from a single named queue.
type Consumer struct {
	srv *asynq.Server
	mux *asynq.ServeMux
	log *slog.Logger
}

func NewConsumer(r asynq.RedisConnOpt, cfg ConsumerConfig, log *slog.Logger) *Consumer {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	log = log.With("queue", cfg.Queue)

	srv := asynq.NewServer(r, asynq.Config{
		Concurrency:     cfg.Concurrency,
		Queues:          map[string]int{cfg.Queue: 1},
		RetryDelayFunc:  ExponentialBackoff(cfg.BackoffBase),
		ErrorHandler:    errorHandler(log),
		Logger:          NewLogger(log),
		LogLevel:        asynqLevel(cfg.LogLevel),
		ShutdownTimeout: cfg.ShutdownTimeout,
	})

	mux := asynq.NewServeMux()
	mux.Use(loggingMiddleware(log))

	return &Consumer{srv: srv, mux: mux, log: log}
}

func (c *Consumer) Handle(taskType string, h asynq.HandlerFunc) {
	c.mux.HandleFunc(taskType, h)
}

// Run starts processing and blocks until ctx is cancelled, then drains
// in-flight tasks. Tasks not acknowledged before the shutdown timeout are
// requeued by asynq.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.srv.Start(c.mux); err != nil {
		return err
	}
	c.log.Info("consumer started")
	<-ctx.Done()
	c.log.Info("consumer shutting down")
	c.srv.Shutdown()
	return nil
}

// ExponentialBackoff returns base * 2^n for the n-th retry (n starts at 0).
func ExponentialBackoff(base time.Duration) asynq.RetryDelayFunc {
	if base <= 0 {
		base = 2 * time.Second
	}
	return func(n int, _ error, _ *asynq.Task) time.Duration {
		if n < 0 {
			n = 0
		}
		d := float64(base) * math.Pow(2, float64(n))
		if d > float64(maxBackoff) {
			return maxBackoff
		}
		return time.Duration(d)
	}
}

func errorHandler(log *slog.Logger) asynq.ErrorHandlerFunc {
	return func(ctx context.Context, task *asynq.Task, err error) {
		attempt, maxAttempts := AttemptInfo(ctx)
		id, _ := asynq.GetTaskID(ctx)
		attrs := []any{"type", task.Type(), "task_id", id, "attempt", attempt, "max_attempts", maxAttempts, "error", err}
		if errors.Is(err, asynq.SkipRetry) || attempt >= maxAttempts {
			log.Error("task failed permanently", attrs...)
			return
		}
		log.Warn("task failed, will retry", attrs...)
	}
}

func loggingMiddleware(log *slog.Logger) asynq.MiddlewareFunc {
	return func(next asynq.Handler) asynq.Handler {
		return asynq.HandlerFunc(func(ctx context.Context, t *asynq.Task) error {
			start := time.Now()
			id, _ := asynq.GetTaskID(ctx)
			attempt, _ := AttemptInfo(ctx)
			log.Info("task started", "type", t.Type(), "task_id", id, "attempt", attempt)

			err := next.ProcessTask(ctx, t)
			log.Info("task finished", "type", t.Type(), "task_id", id,
				"duration_ms", time.Since(start).Milliseconds(), "ok", err == nil)
			return err
		})
	}
}

// AttemptInfo returns the 1-based attempt number and the total attempts
// allowed for the task in ctx. Both are 1 outside a handler.
func AttemptInfo(ctx context.Context) (attempt, maxAttempts int) {
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return 1, 1
	}
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	if !ok {
		return retried + 1, retried + 1
	}
	return retried + 1, maxRetry + 1
}

// IsLastAttempt reports whether a failure now would exhaust the task's retries.
func IsLastAttempt(ctx context.Context) bool {
	attempt, maxAttempts := AttemptInfo(ctx)
	return attempt >= maxAttempts
}

// ResultWriter returns the writer for the task's result field, or nil when
// the task was not delivered by a server.
func ResultWriter(t *asynq.Task) io.Writer {
	if rw := t.ResultWriter(); rw != nil {
		return rw
	}
	return nil
}
