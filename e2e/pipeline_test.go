package e2e

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beacon/pipeline/internal/model"
)

func pageResult() *model.ScanResult {
	node := json.RawMessage(`{"html":"<img src=logo.png>","target":["img"]}`)
	return &model.ScanResult{
		Timestamp: time.Now(),
		Violations: []model.AxeViolation{
			{ID: "image-alt", Impact: "critical", Help: "Images must have alternate text", Nodes: []json.RawMessage{node}},
			{ID: "color-contrast", Impact: "serious", Help: "Elements must meet contrast ratio", Nodes: []json.RawMessage{node}},
			{ID: "region", Impact: "moderate", Help: "Content should be in landmarks", Nodes: []json.RawMessage{node}},
		},
	}
}

func TestScanPipeline_Completes(t *testing.T) {
	s := setupStack(t, &stubScanner{result: pageResult()}, 3)

	resp := s.doAuthRequest(t, http.MethodPost, "/api/scans", `{"url":"https://example.com"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var submitted model.ScanSubmitResponse
	decode(t, resp, &submitted)
	assert.Equal(t, model.JobStatusPending, submitted.Status)

	final := s.waitForStep(t, submitted.StatusID, model.JobStatusCompleted)
	assert.Equal(t, 100, final.Progress)
	assert.Equal(t, "Analysis completed successfully", final.Message)

	resp = s.doAuthRequest(t, http.MethodGet, "/api/scans/"+submitted.JobID.String(), "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var detail model.ScanJobDetail
	decode(t, resp, &detail)

	assert.Equal(t, model.JobStatusCompleted, detail.Job.Status)
	assert.Equal(t, "test-user-123", detail.Job.UserID)
	assert.NotNil(t, detail.Job.CompletedAt)
	assert.NotEmpty(t, detail.Job.Priority)
	require.Len(t, detail.Violations, 3)
	for _, v := range detail.Violations {
		assert.Positive(t, v.PriorityScore, v.RuleID)
	}

	assert.Equal(t, []model.JobStatus{
		model.JobStatusPending,
		model.JobStatusScanning,
		model.JobStatusScanComplete,
		model.JobStatusAIQueued,
		model.JobStatusAIProcessing,
		model.JobStatusCompleted,
	}, s.store.History(submitted.JobID))

	s.scanner.mu.Lock()
	defer s.scanner.mu.Unlock()
	assert.Equal(t, 1, s.scanner.calls)
}

func TestScanPipeline_FailsAfterRetries(t *testing.T) {
	scanner := &stubScanner{err: errors.New("navigation timeout")}
	s := setupStack(t, scanner, 2)

	resp := s.doAuthRequest(t, http.MethodPost, "/api/scans", `{"url":"https://down.example.com"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var submitted model.ScanSubmitResponse
	decode(t, resp, &submitted)

	final := s.waitForStep(t, submitted.StatusID, model.JobStatusFailed)
	assert.Contains(t, final.Message, "navigation timeout")

	job, ok := s.store.Job(submitted.JobID)
	require.True(t, ok)
	assert.Equal(t, model.JobStatusFailed, job.Status)
	require.NotNil(t, job.Error)
	assert.Contains(t, *job.Error, "Scan failed: ")

	scanner.mu.Lock()
	defer scanner.mu.Unlock()
	assert.Equal(t, 2, scanner.calls)
}

func TestScanPipeline_SucceedsOnThirdAttempt(t *testing.T) {
	scanner := &stubScanner{result: pageResult(), err: errors.New("page crashed"), failFirst: 2}
	s := setupStack(t, scanner, 3)

	resp := s.doAuthRequest(t, http.MethodPost, "/api/scans", `{"url":"https://example.com"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var submitted model.ScanSubmitResponse
	decode(t, resp, &submitted)

	s.waitForStep(t, submitted.StatusID, model.JobStatusCompleted)

	job, ok := s.store.Job(submitted.JobID)
	require.True(t, ok)
	assert.Equal(t, model.JobStatusCompleted, job.Status)
	assert.Nil(t, job.Error)
	assert.Len(t, s.store.Violations(submitted.JobID), 3)
	assert.Equal(t, 3, s.store.TransformedLen(submitted.JobID))

	scanner.mu.Lock()
	defer scanner.mu.Unlock()
	assert.Equal(t, 3, scanner.calls)
}

func TestScanPipeline_RequiresToken(t *testing.T) {
	s := setupStack(t, &stubScanner{result: pageResult()}, 1)

	resp, err := doRequest(s.app, http.MethodPost, "/api/scans", `{"url":"https://example.com"}`, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, err = doRequest(s.app, http.MethodGet, "/health", "", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
