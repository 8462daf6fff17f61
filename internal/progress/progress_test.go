package progress_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/beacon/pipeline/internal/cache"
	"github.com/beacon/pipeline/internal/cache/cachetest"
	"github.com/beacon/pipeline/internal/model"
	"github.com/beacon/pipeline/internal/progress"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMulti_WritesEverySink(t *testing.T) {
	mem := cachetest.New()
	status := cache.NewStatusStore(mem, 2*time.Hour, time.Hour)
	r := progress.New(mem, status, progress.Toggles{Queue: true, Cache: true, PubSub: true}, discardLogger())

	var results bytes.Buffer
	p := model.Progress{Step: model.JobStatusScanning, Progress: 25, Message: "Running accessibility scan..."}
	r.Report(context.Background(), progress.Target{StatusID: "s-1", Results: &results}, p)

	var fromQueue model.Progress
	require.NoError(t, json.Unmarshal(results.Bytes(), &fromQueue))
	assert.Equal(t, p, fromQueue)

	got, err := status.Get(context.Background(), "s-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, p, *got)
	assert.Equal(t, 2*time.Hour, mem.TTL(cache.StatusKey("s-1")))

	msgs := mem.Published()
	require.Len(t, msgs, 1)
	assert.Equal(t, "progress:s-1", msgs[0].Channel)
	var ws model.WSProgressMessage
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &ws))
	assert.Equal(t, model.WSMessageTypeProgress, ws.Type)
	assert.Equal(t, 25, ws.Progress.Progress)
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("closed") }

func TestMulti_SinkFailuresAreSwallowed(t *testing.T) {
	mem := cachetest.New()
	mem.PublishErr = errors.New("redis down")
	status := cache.NewStatusStore(mem, time.Hour, time.Hour)
	r := progress.New(mem, status, progress.Toggles{Queue: true, Cache: true, PubSub: true}, discardLogger())

	p := model.Progress{Step: model.JobStatusCompleted, Progress: 100, Message: "done"}
	r.Report(context.Background(), progress.Target{StatusID: "s-2", Results: failingWriter{}}, p)

	// The cache sink still ran after the queue sink failed.
	got, err := status.Get(context.Background(), "s-2")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 100, got.Progress)
}

func TestNew_DisabledSinksSkipped(t *testing.T) {
	mem := cachetest.New()
	status := cache.NewStatusStore(mem, time.Hour, time.Hour)
	r := progress.New(mem, status, progress.Toggles{Queue: true}, discardLogger())

	r.Report(context.Background(), progress.Target{StatusID: "s-3"}, model.Progress{Step: model.JobStatusPending})
	assert.False(t, mem.Has(cache.StatusKey("s-3")))
	assert.Empty(t, mem.Published())
}
