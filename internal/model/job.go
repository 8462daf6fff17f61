package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ScanJob is the durable record of one scan-to-score pipeline run
type ScanJob struct {
	ID                      uuid.UUID       `json:"id"`
	RouteID                 string          `json:"routeId,omitempty"`
	UserID                  string          `json:"userId,omitempty"`
	URL                     string          `json:"url"`
	Status                  JobStatus       `json:"status"`
	Result                  json.RawMessage `json:"result,omitempty"`
	Priority                json.RawMessage `json:"priority,omitempty"`
	TransformedResult       json.RawMessage `json:"transformedResult,omitempty"`
	ScreenshotURL           *string         `json:"screenshotUrl,omitempty"`
	ViolationsScreenshotURL *string         `json:"violationsScreenshotUrl,omitempty"`
	Error                   *string         `json:"error,omitempty"`
	CreatedAt               time.Time       `json:"createdAt"`
	UpdatedAt               time.Time       `json:"updatedAt"`
	CompletedAt             *time.Time      `json:"completedAt,omitempty"`
}

// Violation is one accessibility rule failure found on a scanned page
type Violation struct {
	ID            uuid.UUID       `json:"id"`
	ScanJobID     uuid.UUID       `json:"scanJobId"`
	RuleID        string          `json:"ruleId"`
	Impact        Impact          `json:"impact"`
	Description   string          `json:"description"`
	Help          string          `json:"help"`
	HelpURL       string          `json:"helpUrl"`
	Nodes         json.RawMessage `json:"nodes"`
	PriorityScore int             `json:"priorityScore"`
	Priority      Priority        `json:"priority"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// Explanation is the human-readable guidance stored once per rule
type Explanation struct {
	ID                  uuid.UUID `json:"id"`
	IssueCode           string    `json:"issueCode"`
	Explanation         string    `json:"explanation"`
	DetailedExplanation string    `json:"detailedExplanation"`
	Recommendation      string    `json:"recommendation"`
}

// Progress is the status blob published for polling clients
type Progress struct {
	Step     JobStatus `json:"step"`
	Progress int       `json:"progress"`
	Message  string    `json:"message"`
}

// WorkerVersion is reported in every job result
const WorkerVersion = "1.0.0"

// JobResult is the structured outcome a worker attaches to its queue task
type JobResult struct {
	Success  bool             `json:"success"`
	Error    *JobError        `json:"error,omitempty"`
	Priority *PrioritySummary `json:"priority,omitempty"`
	Metadata JobMetadata      `json:"metadata"`
}

type JobError struct {
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
	Code    string `json:"code,omitempty"`
}

type JobMetadata struct {
	ProcessingTime int64     `json:"processingTime"` // milliseconds
	Timestamp      time.Time `json:"timestamp"`
	WorkerVersion  string    `json:"workerVersion"`
}

// ScanSubmitRequest represents the request to start a scan
type ScanSubmitRequest struct {
	URL     string       `json:"url" validate:"required,url,max=2048"`
	RouteID string       `json:"routeId" validate:"omitempty,max=128"`
	Options *ScanOptions `json:"options" validate:"omitempty"`
}

// ScanSubmitResponse is returned once a scan has been queued
type ScanSubmitResponse struct {
	JobID      uuid.UUID `json:"jobId"`
	QueueJobID string    `json:"queueJobId"`
	StatusID   string    `json:"statusId"`
	Status     JobStatus `json:"status"`
	URL        string    `json:"url"`
}

// ScanJobDetail is a job together with its violations
type ScanJobDetail struct {
	Job        *ScanJob     `json:"job"`
	Violations []*Violation `json:"violations"`

	// Analysis is the cached scoring result, present only while it lives in the cache.
	Analysis json.RawMessage `json:"analysis,omitempty"`
}
