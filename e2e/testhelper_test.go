package e2e

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/beacon/pipeline/internal/auth"
	"github.com/beacon/pipeline/internal/cache"
	"github.com/beacon/pipeline/internal/config"
	"github.com/beacon/pipeline/internal/handler"
	"github.com/beacon/pipeline/internal/middleware"
	"github.com/beacon/pipeline/internal/model"
	"github.com/beacon/pipeline/internal/priority"
	"github.com/beacon/pipeline/internal/progress"
	"github.com/beacon/pipeline/internal/queue"
	"github.com/beacon/pipeline/internal/service"
	"github.com/beacon/pipeline/internal/store/storetest"
	"github.com/beacon/pipeline/internal/worker"
)

const (
	testJWTSecret = "test-secret-for-e2e"
	scanQueue     = "scan-queue"
	aiQueue       = "ai-queue"
)

// stubScanner returns a fixed result. It fails with err on every call when
// failFirst is zero, otherwise only on the first failFirst calls.
type stubScanner struct {
	mu        sync.Mutex
	result    *model.ScanResult
	err       error
	failFirst int
	calls     int
}

func (s *stubScanner) RunScan(_ context.Context, url, _ string, _ model.ScanOptions) (*model.ScanResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil && (s.failFirst == 0 || s.calls <= s.failFirst) {
		return nil, s.err
	}
	res := *s.result
	res.URL = url
	return &res, nil
}

// testStack holds the API and both workers wired to one Redis.
type testStack struct {
	app     *fiber.App
	store   *storetest.Memory
	status  *cache.StatusStore
	scanner *stubScanner
	signer  *auth.HMACVerifier
}

// setupRedis starts a Redis container and returns its config.
func setupRedis(t *testing.T) config.RedisConfig {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, container.Terminate(ctx)) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)
	return config.RedisConfig{Addr: host + ":" + port.Port()}
}

// setupStack wires the API and both consumers the way the binaries do, with
// an in-memory job store and a stub scanner.
func setupStack(t *testing.T, scanner *stubScanner, attempts int) *testStack {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping e2e test")
	}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	redisCfg := setupRedis(t)

	rdb := cache.NewRedisClient(redisCfg)
	t.Cleanup(func() { rdb.Close() })
	redisCache := cache.NewRedisCache(rdb)
	status := cache.NewStatusStore(redisCache, time.Hour, time.Hour)
	st := storetest.New()

	asynqClient := asynq.NewClient(queue.RedisOpt(redisCfg))
	t.Cleanup(func() { asynqClient.Close() })
	qc := queue.NewClient(asynqClient, queue.Options{Attempts: attempts, Retention: time.Hour}, log)

	rep := progress.New(redisCache, status, progress.Toggles{Queue: true, Cache: true, PubSub: true}, log)

	scanWorker := worker.NewScanWorker(worker.ScanWorkerDeps{
		Store:    st,
		Scanner:  scanner,
		Queue:    qc,
		AIQueue:  aiQueue,
		Progress: rep,
		Log:      log,
	})
	aiWorker := worker.NewAIWorker(worker.AIWorkerDeps{
		Store:    st,
		Scorer:   priority.NewScorer(nil, 10, log),
		Results:  status,
		Progress: rep,
		Log:      log,
	})

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})
	for _, c := range []struct {
		queue    string
		taskType string
		handler  asynq.HandlerFunc
	}{
		{scanQueue, model.TaskTypeScan, scanWorker.ProcessTask},
		{aiQueue, model.TaskTypeAIScoring, aiWorker.ProcessTask},
	} {
		c := c
		consumer := queue.NewConsumer(queue.RedisOpt(redisCfg), queue.ConsumerConfig{
			Queue:           c.queue,
			Concurrency:     2,
			BackoffBase:     100 * time.Millisecond,
			ShutdownTimeout: 5 * time.Second,
			LogLevel:        slog.LevelError,
		}, log)
		consumer.Handle(c.taskType, c.handler)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := consumer.Run(ctx); err != nil {
				t.Errorf("consumer %s: %v", c.queue, err)
			}
		}()
	}

	signer := auth.NewHMACVerifier(testJWTSecret)
	svc := service.NewScanService(st, status, qc, scanQueue, log)
	app := handler.NewApp(handler.Routes{
		Scan:      handler.NewScanHandler(svc, handler.NewValidator(), nil, time.Minute, log),
		Health:    handler.NewHealthHandler(map[string]handler.Check{"redis": redisCache.Ping}, nil),
		Auth:      middleware.Authenticate(signer),
		ScanLimit: middleware.NewRateLimiter(redisCache, log).ScanLimit(10000),
	})

	return &testStack{app: app, store: st, status: status, scanner: scanner, signer: signer}
}

// doRequest performs a request against the test app.
func doRequest(app *fiber.App, method, path, body string, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, path, bodyReader)
	if err != nil {
		return nil, err
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return app.Test(req, -1)
}

// doAuthRequest performs a request carrying a signed token for test-user-123.
func (s *testStack) doAuthRequest(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	token, err := s.signer.Sign("test-user-123", "test@example.com")
	require.NoError(t, err)
	resp, err := doRequest(s.app, method, path, body, map[string]string{"Authorization": "Bearer " + token})
	require.NoError(t, err)
	return resp
}

// decode reads the response body into v.
func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(b, v), "body: %s", b)
}

// waitForStep polls the status endpoint until it reports want.
func (s *testStack) waitForStep(t *testing.T, statusID string, want model.JobStatus) model.Progress {
	t.Helper()
	var last model.Progress
	require.Eventually(t, func() bool {
		resp, err := doRequest(s.app, http.MethodGet, "/jobs/"+statusID+"/status", "", nil)
		if err != nil || resp.StatusCode != http.StatusOK {
			return false
		}
		defer resp.Body.Close()
		var p *model.Progress
		if err := json.NewDecoder(resp.Body).Decode(&p); err != nil || p == nil {
			return false
		}
		last = *p
		return p.Step == want
	}, 45*time.Second, 200*time.Millisecond, "status %s never reached %s", statusID, want)
	return last
}
