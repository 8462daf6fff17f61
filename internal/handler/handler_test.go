package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/beacon/pipeline/internal/auth"
	"github.com/beacon/pipeline/internal/cache"
	"github.com/beacon/pipeline/internal/cache/cachetest"
	"github.com/beacon/pipeline/internal/handler"
	"github.com/beacon/pipeline/internal/middleware"
	"github.com/beacon/pipeline/internal/model"
	"github.com/beacon/pipeline/internal/queue"
	"github.com/beacon/pipeline/internal/service"
	"github.com/beacon/pipeline/internal/store/storetest"
	"github.com/beacon/pipeline/pkg/response"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeQueue struct {
	err error
}

func (f *fakeQueue) Enqueue(_ context.Context, queueName string, p queue.Payload) (*queue.Handle, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &queue.Handle{ID: p.DedupKey(), Queue: queueName}, nil
}

type fakePresigner struct{}

func (fakePresigner) GetSignedURL(_ context.Context, key string, expiry time.Duration) (string, error) {
	return fmt.Sprintf("https://signed.example.com/%s?ttl=%d", key, int(expiry.Seconds())), nil
}

type testAPI struct {
	app    *fiber.App
	store  *storetest.Memory
	status *cache.StatusStore
	queue  *fakeQueue
}

func newTestAPI(t *testing.T, mutate func(*handler.Routes)) *testAPI {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	api := &testAPI{store: storetest.New(), queue: &fakeQueue{}}
	api.status = cache.NewStatusStore(cachetest.New(), time.Hour, time.Hour)
	svc := service.NewScanService(api.store, api.status, api.queue, "scan-queue", log)

	routes := handler.Routes{
		Scan:   handler.NewScanHandler(svc, handler.NewValidator(), fakePresigner{}, 15*time.Minute, log),
		Health: handler.NewHealthHandler(map[string]handler.Check{"redis": func(context.Context) error { return nil }}, map[string]bool{"storage": true}),
	}
	if mutate != nil {
		mutate(&routes)
	}
	api.app = handler.NewApp(routes)
	return api
}

func (a *testAPI) do(t *testing.T, method, path, body string, header ...string) (*http.Response, []byte) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	resp, err := a.app.Test(req, -1)
	require.NoError(t, err)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func TestSubmitScan(t *testing.T) {
	api := newTestAPI(t, nil)

	resp, body := api.do(t, "POST", "/api/scans", `{"url":"https://example.com","options":{"timeout":5000}}`)
	require.Equal(t, fiber.StatusAccepted, resp.StatusCode, string(body))

	var out model.ScanSubmitResponse
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, model.JobStatusPending, out.Status)
	assert.NotEmpty(t, out.StatusID)

	resp, body = api.do(t, "GET", "/jobs/"+out.StatusID+"/status", "")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"step":"PENDING","progress":0,"message":"Scan queued"}`, string(body))
}

func TestSubmitScan_Validation(t *testing.T) {
	api := newTestAPI(t, nil)

	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"missing url", `{}`, "url"},
		{"not a url", `{"url":"example"}`, "url"},
		{"timeout too small", `{"url":"https://example.com","options":{"timeout":10}}`, "timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := api.do(t, "POST", "/api/scans", tt.body)
			assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

			var out response.ErrorResponse
			require.NoError(t, json.Unmarshal(body, &out))
			assert.Equal(t, response.CodeValidationError, out.Error.Code)
			assert.Contains(t, out.Error.Details, tt.field)
		})
	}

	resp, _ := api.do(t, "POST", "/api/scans", `not json`)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestSubmitScan_QueueUnavailable(t *testing.T) {
	api := newTestAPI(t, nil)
	api.queue.err = fmt.Errorf("%w: dial tcp: refused", queue.ErrQueueUnavailable)

	resp, body := api.do(t, "POST", "/api/scans", `{"url":"https://example.com"}`)
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)

	var out response.ErrorResponse
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, response.CodeServiceUnavailable, out.Error.Code)
	assert.Equal(t, "Failed to schedule scan", out.Error.Message)
}

func TestStatus_Unknown(t *testing.T) {
	api := newTestAPI(t, nil)
	resp, body := api.do(t, "GET", "/jobs/does-not-exist/status", "")
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "null", string(body))
}

func TestStatus_ReflectsWorkerProgress(t *testing.T) {
	api := newTestAPI(t, nil)
	require.NoError(t, api.status.Set(context.Background(), "s-1",
		model.Progress{Step: model.JobStatusAIProcessing, Progress: 80, Message: "Analyzing violations with AI..."}))

	_, body := api.do(t, "GET", "/jobs/s-1/status", "")
	assert.JSONEq(t, `{"step":"AI_PROCESSING","progress":80,"message":"Analyzing violations with AI..."}`, string(body))
}

func TestGetJob(t *testing.T) {
	api := newTestAPI(t, nil)
	job := model.ScanJob{ID: uuid.New(), URL: "https://example.com", Status: model.JobStatusCompleted}
	api.store.Seed(job, model.Violation{ID: uuid.New(), RuleID: "image-alt"})

	resp, body := api.do(t, "GET", "/api/scans/"+job.ID.String(), "")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var detail model.ScanJobDetail
	require.NoError(t, json.Unmarshal(body, &detail))
	assert.Equal(t, job.ID, detail.Job.ID)
	assert.Len(t, detail.Violations, 1)
	assert.Nil(t, detail.Analysis)

	require.NoError(t, api.status.SetResult(context.Background(), job.ID, map[string]int{"totalViolations": 1}))
	resp, body = api.do(t, "GET", "/api/scans/"+job.ID.String(), "")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"analysis":{"totalViolations":1}`)

	resp, _ = api.do(t, "GET", "/api/scans/"+uuid.NewString(), "")
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	resp, _ = api.do(t, "GET", "/api/scans/not-a-uuid", "")
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestScreenshot(t *testing.T) {
	api := newTestAPI(t, nil)
	resp, _ := api.do(t, "GET", "/api/screenshots/job-1.png", "")
	assert.Equal(t, fiber.StatusFound, resp.StatusCode)
	assert.Equal(t, "https://signed.example.com/screenshots/job-1.png?ttl=900", resp.Header.Get("Location"))

	noStorage := newTestAPI(t, func(r *handler.Routes) {
		r.Scan = handler.NewScanHandler(
			service.NewScanService(storetest.New(), nil, nil, "", slog.New(slog.NewTextHandler(io.Discard, nil))),
			handler.NewValidator(), nil, time.Minute, slog.New(slog.NewTextHandler(io.Discard, nil)))
	})
	resp, _ = noStorage.do(t, "GET", "/api/screenshots/job-1.png", "")
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	api := newTestAPI(t, nil)
	resp, body := api.do(t, "GET", "/health", "")
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok","dependencies":{"redis":"ok","storage":"configured"}}`, string(body))

	down := newTestAPI(t, func(r *handler.Routes) {
		r.Health = handler.NewHealthHandler(map[string]handler.Check{
			"postgres": func(context.Context) error { return errors.New("refused") },
		}, map[string]bool{"llm": false})
	})
	resp, body = down.do(t, "GET", "/health", "")
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
	assert.JSONEq(t, `{"status":"degraded","dependencies":{"postgres":"error","llm":"not configured"}}`, string(body))
}

func TestAuthGuardsAPIOnly(t *testing.T) {
	verifier := auth.NewHMACVerifier("secret")
	api := newTestAPI(t, func(r *handler.Routes) {
		r.Auth = middleware.Authenticate(verifier)
	})

	resp, _ := api.do(t, "POST", "/api/scans", `{"url":"https://example.com"}`)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	token, err := verifier.Sign("user-1", "")
	require.NoError(t, err)
	resp, body := api.do(t, "POST", "/api/scans", `{"url":"https://example.com"}`, "Authorization", "Bearer "+token)
	require.Equal(t, fiber.StatusAccepted, resp.StatusCode)

	var out model.ScanSubmitResponse
	require.NoError(t, json.Unmarshal(body, &out))
	job, ok := api.store.Job(out.JobID)
	require.True(t, ok)
	assert.Equal(t, "user-1", job.UserID)

	// Status polling stays open.
	resp, _ = api.do(t, "GET", "/jobs/"+out.StatusID+"/status", "")
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestUnknownRoute(t *testing.T) {
	api := newTestAPI(t, nil)
	resp, body := api.do(t, "GET", "/nope", "")
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	var out response.ErrorResponse
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, response.CodeNotFound, out.Error.Code)
}
