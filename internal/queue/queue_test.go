package queue_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"testing"
	"time"

	"github.com/beacon/pipeline/internal/model"
	"github.com/beacon/pipeline/internal/queue"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- Envelope ---

func TestEncodeDecode(t *testing.T) {
	in := model.ScanJobPayload{URL: "https://example.com", JobDBID: uuid.New(), StatusID: "s-1"}
	task, err := queue.NewTask(in)
	require.NoError(t, err)
	assert.Equal(t, model.TaskTypeScan, task.Type())

	var raw map[string]any
	require.NoError(t, json.Unmarshal(task.Payload(), &raw))
	assert.EqualValues(t, queue.PayloadVersion, raw["version"])
	assert.Equal(t, model.TaskTypeScan, raw["kind"])

	var out model.ScanJobPayload
	require.NoError(t, queue.Decode(task, &out))
	assert.Equal(t, in.JobDBID, out.JobDBID)
	assert.Equal(t, in.URL, out.URL)
}

func TestDecode_LegacyFlatPayload(t *testing.T) {
	id := uuid.New()
	body := fmt.Sprintf(`{"url":"https://example.com","jobDbId":%q,"statusId":"s-1"}`, id)
	task := asynq.NewTask(model.TaskTypeScan, []byte(body))

	var out model.ScanJobPayload
	require.NoError(t, queue.Decode(task, &out))
	assert.Equal(t, id, out.JobDBID)
	assert.Equal(t, "s-1", out.StatusID)
}

func TestDecode_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr error
	}{
		{"not json", `nope`, queue.ErrInvalidPayload},
		{"newer version", `{"version":99,"kind":"scan:run","data":{}}`, queue.ErrUnsupportedPayload},
		{"wrong kind", `{"version":1,"kind":"ai:priority-scoring","data":{}}`, queue.ErrUnsupportedPayload},
		{"fails validation", `{"version":1,"kind":"scan:run","data":{"url":""}}`, queue.ErrInvalidPayload},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out model.ScanJobPayload
			err := queue.Decode(asynq.NewTask(model.TaskTypeScan, []byte(tt.body)), &out)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

// --- Client ---

type fakeEnqueuer struct {
	tasks []*asynq.Task
	opts  [][]asynq.Option
	err   error
}

func (f *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	f.opts = append(f.opts, opts)
	info := &asynq.TaskInfo{Type: task.Type(), Payload: task.Payload()}
	for _, o := range opts {
		switch o.Type() {
		case asynq.QueueOpt:
			info.Queue = o.Value().(string)
		case asynq.TaskIDOpt:
			info.ID = o.Value().(string)
		case asynq.MaxRetryOpt:
			info.MaxRetry = o.Value().(int)
		}
	}
	return info, nil
}

func TestClient_Enqueue(t *testing.T) {
	enq := &fakeEnqueuer{}
	c := queue.NewClient(enq, queue.Options{Attempts: 3, Retention: time.Hour}, discardLogger())

	jobID := uuid.New()
	h, err := c.Enqueue(context.Background(), "scan-queue", model.ScanJobPayload{URL: "https://a.b", JobDBID: jobID})
	require.NoError(t, err)
	assert.Equal(t, "scan-queue", h.Queue)
	assert.Equal(t, "scan:"+jobID.String(), h.ID)
	assert.False(t, h.Duplicate)

	require.Len(t, enq.opts, 1)
	var maxRetry int
	for _, o := range enq.opts[0] {
		if o.Type() == asynq.MaxRetryOpt {
			maxRetry = o.Value().(int)
		}
	}
	assert.Equal(t, 2, maxRetry, "three attempts means two retries")
}

func TestClient_EnqueueDuplicate(t *testing.T) {
	enq := &fakeEnqueuer{err: asynq.ErrTaskIDConflict}
	c := queue.NewClient(enq, queue.Options{Attempts: 3}, discardLogger())

	jobID := uuid.New()
	h, err := c.Enqueue(context.Background(), "ai-queue", model.AIJobPayload{JobDBID: jobID})
	require.NoError(t, err)
	assert.True(t, h.Duplicate)
	assert.Equal(t, "ai:"+jobID.String(), h.ID)
}

func TestClient_EnqueueUnavailable(t *testing.T) {
	enq := &fakeEnqueuer{err: errors.New("dial tcp: connection refused")}
	c := queue.NewClient(enq, queue.Options{Attempts: 3}, discardLogger())

	_, err := c.Enqueue(context.Background(), "scan-queue", model.ScanJobPayload{URL: "x", JobDBID: uuid.New()})
	assert.ErrorIs(t, err, queue.ErrQueueUnavailable)
}

// --- Retry policy ---

func TestExponentialBackoff(t *testing.T) {
	delay := queue.ExponentialBackoff(2 * time.Second)
	assert.Equal(t, 2*time.Second, delay(0, nil, nil))
	assert.Equal(t, 4*time.Second, delay(1, nil, nil))
	assert.Equal(t, 8*time.Second, delay(2, nil, nil))
	assert.Equal(t, time.Hour, delay(30, nil, nil))
}

func TestAttemptInfo_OutsideHandler(t *testing.T) {
	attempt, maxAttempts := queue.AttemptInfo(context.Background())
	assert.Equal(t, 1, attempt)
	assert.Equal(t, 1, maxAttempts)
	assert.True(t, queue.IsLastAttempt(context.Background()))
}

func TestResultWriter_NilWithoutServer(t *testing.T) {
	assert.Nil(t, queue.ResultWriter(asynq.NewTask("x", nil)))
}

// --- Pruner ---

type fakeInspector struct {
	completed []*asynq.TaskInfo
	archived  []*asynq.TaskInfo
	deleted   []string
	listErr   error
}

// page applies asynq's list options. Their concrete types are unexported, so
// they are told apart by type name.
func page(tasks []*asynq.TaskInfo, opts []asynq.ListOption) []*asynq.TaskInfo {
	size, num := 30, 1
	for _, o := range opts {
		v := reflect.ValueOf(o)
		switch v.Type().Name() {
		case "pageSizeOpt":
			size = int(v.Int())
		case "pageNumOpt":
			num = int(v.Int())
		}
	}
	start := (num - 1) * size
	if start >= len(tasks) {
		return nil
	}
	end := start + size
	if end > len(tasks) {
		end = len(tasks)
	}
	return tasks[start:end]
}

func (f *fakeInspector) ListCompletedTasks(_ string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return page(f.completed, opts), nil
}

func (f *fakeInspector) ListArchivedTasks(_ string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return page(f.archived, opts), nil
}

func (f *fakeInspector) DeleteTask(_, id string) error {
	f.deleted = append(f.deleted, id)
	return nil
}

func TestPruner_KeepsNewest(t *testing.T) {
	now := time.Now()
	insp := &fakeInspector{}
	for i := 0; i < 150; i++ {
		insp.completed = append(insp.completed, &asynq.TaskInfo{
			ID:          fmt.Sprintf("c-%03d", i),
			CompletedAt: now.Add(time.Duration(i) * time.Second),
		})
	}
	for i := 0; i < 3; i++ {
		insp.archived = append(insp.archived, &asynq.TaskInfo{ID: fmt.Sprintf("f-%d", i), LastFailedAt: now})
	}

	p := queue.NewPruner(insp, queue.PrunerConfig{Queue: "scan-queue", KeepCompleted: 10, KeepFailed: 50}, discardLogger())
	n, err := p.PruneOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 140, n)
	assert.NotContains(t, insp.deleted, "c-149")
	assert.NotContains(t, insp.deleted, "c-140")
	assert.Contains(t, insp.deleted, "c-139")
	assert.Contains(t, insp.deleted, "c-000")
}

func TestPruner_MissingQueueIsEmpty(t *testing.T) {
	insp := &fakeInspector{listErr: asynq.ErrQueueNotFound}
	p := queue.NewPruner(insp, queue.PrunerConfig{Queue: "ai-queue", KeepCompleted: 10, KeepFailed: 50}, discardLogger())
	n, err := p.PruneOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPruner_ListErrorReported(t *testing.T) {
	insp := &fakeInspector{listErr: errors.New("redis down")}
	p := queue.NewPruner(insp, queue.PrunerConfig{Queue: "ai-queue", KeepCompleted: 10, KeepFailed: -1}, discardLogger())
	_, err := p.PruneOnce(context.Background())
	assert.Error(t, err)
}
