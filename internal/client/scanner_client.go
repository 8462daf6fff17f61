package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/beacon/pipeline/internal/config"
	"github.com/beacon/pipeline/internal/model"
)

// scanTimeoutMargin is added to the navigation timeout so the HTTP call
// outlives the browser work it waits on.
const scanTimeoutMargin = 30 * time.Second

// ScannerClient calls the headless-browser accessibility scan service.
type ScannerClient struct {
	httpClient *http.Client
	baseURL    string
}

// ScanRequest is the body sent to the scan service
type ScanRequest struct {
	URL     string            `json:"url"`
	JobID   string            `json:"jobId"`
	Options model.ScanOptions `json:"options"`
}

func NewScannerClient(cfg config.ScannerConfig) *ScannerClient {
	return &ScannerClient{
		httpClient: &http.Client{},
		baseURL:    cfg.ServiceURL,
	}
}

// RunScan scans url and returns the engine's result. The call is bounded by
// the scan's navigation timeout plus a margin.
func (c *ScannerClient) RunScan(ctx context.Context, url, jobID string, opts model.ScanOptions) (*model.ScanResult, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(opts.Timeout)*time.Millisecond+scanTimeoutMargin)
		defer cancel()
	}

	bodyBytes, err := json.Marshal(ScanRequest{URL: url, JobID: jobID, Options: opts})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/scan", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("scanner service error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var result model.ScanResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &result, nil
}

// HealthCheck checks if the scan service is available
func (c *ScannerClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("scanner service unhealthy: status %d", resp.StatusCode)
	}
	return nil
}
