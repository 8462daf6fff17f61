package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/beacon/pipeline/internal/auth"
	"github.com/beacon/pipeline/internal/cache"
	"github.com/beacon/pipeline/internal/client"
	"github.com/beacon/pipeline/internal/config"
	"github.com/beacon/pipeline/internal/handler"
	"github.com/beacon/pipeline/internal/logger"
	"github.com/beacon/pipeline/internal/middleware"
	"github.com/beacon/pipeline/internal/queue"
	"github.com/beacon/pipeline/internal/service"
	"github.com/beacon/pipeline/internal/store"
	ws "github.com/beacon/pipeline/internal/websocket"
	"github.com/gofiber/fiber/v2"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Server.LogLevel, cfg.Server.LogFormat)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Redis backs the status cache, rate limits and the progress relay
	rdb := cache.NewRedisClient(cfg.Redis)
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Warn("redis not available", "addr", cfg.Redis.Addr, "error", err)
	}
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
		log.Info("migrations applied")
	}
	pg := store.NewPostgresStore(pool)

	asynqClient := asynq.NewClient(queue.RedisOpt(cfg.Redis))
	defer asynqClient.Close()
	qc := queue.NewClient(asynqClient, queue.Options{
		Attempts:  cfg.Queue.Attempts,
		Retention: cfg.Queue.Retention,
	}, log)

	svc := service.NewScanService(pg, status, qc, cfg.Queue.ScanQueue, log)

	var presigner handler.Presigner
	if cfg.Storage.Configured() {
		storage, err := client.NewStorageClient(ctx, cfg.Storage)
		if err != nil {
			fatal(log, "init storage client", err)
		}
		presigner = storage
	} else {
		log.Warn("object storage not configured, screenshot links disabled")
	}

	authn, err := authenticator(ctx, cfg, log)
	if err != nil {
		fatal(log, "init authentication", err)
	}

	hub := ws.NewHub(status.Get, log)
	go hub.Run(ctx)
	go func() {
		if err := hub.Relay(ctx, rdb); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("progress relay stopped", "error", err)
		}
	}()

	limiter := middleware.NewRateLimiter(redisCache, log)

	app := handler.NewApp(handler.Routes{
		Scan:      handler.NewScanHandler(svc, handler.NewValidator(), presigner, cfg.Storage.SignedURLExpiry, log),
		Health:    handler.NewHealthHandler(healthChecks(rdb, pool), map[string]bool{"storage": presigner != nil, "llm": client.NewChatClient(cfg.LLM).IsConfigured()}),
		Hub:       hub,
		Auth:      authn,
		ScanLimit: limiter.ScanLimit(cfg.RateLimit.ScansPerHour),
		AccessLog: cfg.Server.Env != "production",
	})

	go func() {
		<-ctx.Done()
		log.Info("shutting down server")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Error("server shutdown error", "error", err)
		}
	}()

	addr := ":" + cfg.Server.Port
	log.Info("server starting", "addr", addr, "env", cfg.Server.Env)
	if err := app.Listen(addr); err != nil {
		fatal(log, "server error", err)
	}
}

// authenticator picks how /api callers are identified. A nil handler leaves
// the API open.
func authenticator(ctx context.Context, cfg *config.Config, log *slog.Logger) (fiber.Handler, error) {
	if cfg.Gateway.Enabled {
		log.Info("trusting gateway identity headers")
		return middleware.Gateway(), nil
	}

	var chain auth.Chain
	if cfg.OIDC.Issuer != "" {
		v, err := auth.NewJWKSVerifier(ctx, cfg.OIDC)
		if err != nil {
			return nil, err
		}
		chain = append(chain, v)
	}
	if cfg.JWT.Secret != "" {
		chain = append(chain, auth.NewHMACVerifier(cfg.JWT.Secret))
	}
	if len(chain) == 0 {
		log.Warn("no authentication configured, /api is open")
		return nil, nil
	}
	return middleware.Authenticate(chain), nil
}

func healthChecks(rdb *redis.Client, pool *pgxpool.Pool) map[string]handler.Check {
	return map[string]handler.Check{
		"redis": func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		},
		"postgres": pool.Ping,
	}
}

func fatal(log *slog.Logger, msg string, err error) {
	log.Error(msg, "error", err)
	os.Exit(1)
}
