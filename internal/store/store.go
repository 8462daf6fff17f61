package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/beacon/pipeline/internal/model"
	"github.com/google/uuid"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// ErrInvalidTransition is returned when a status write would move a job
// backwards or out of a terminal status.
var ErrInvalidTransition = errors.New("invalid status transition")

// Store is the data access interface for scan jobs and their violations.
type Store interface {
	Ping(ctx context.Context) error

	CreateJob(ctx context.Context, job *model.ScanJob) error
	GetJob(ctx context.Context, id uuid.UUID) (*model.ScanJob, error)
	DeleteJob(ctx context.Context, id uuid.UUID) error
	// AdvanceStatus moves the job forward. Backward moves return ErrInvalidTransition.
	AdvanceStatus(ctx context.Context, id uuid.UUID, to model.JobStatus) error
	// MarkFailed moves a non-terminal job to FAILED and records msg.
	MarkFailed(ctx context.Context, id uuid.UUID, msg string) error

	ListViolations(ctx context.Context, jobID uuid.UUID) ([]*model.Violation, error)

	// WithTx runs fn in one transaction, committing only if fn returns nil.
	WithTx(ctx context.Context, fn func(Tx) error) error
}

// Tx holds the phase-scoped writes of the scan and AI workers.
type Tx interface {
	// ReplaceViolations deletes any violations already stored for the job and
	// inserts vs, so a redelivered scan never duplicates rows.
	ReplaceViolations(ctx context.Context, jobID uuid.UUID, vs []*model.Violation) error
	// CompleteScan stores the raw scan result and moves the job to SCAN_COMPLETE.
	CompleteScan(ctx context.Context, jobID uuid.UUID, u ScanUpdate) error
	// UpsertExplanations inserts explanations, skipping issue codes that
	// already exist. A failure does not abort the surrounding transaction.
	UpsertExplanations(ctx context.Context, es []*model.Explanation) (int64, error)
	// UpdateViolationScore sets one violation's score. A failure does not
	// abort the surrounding transaction.
	UpdateViolationScore(ctx context.Context, jobID, violationID uuid.UUID, score int, priority model.Priority) error
	// CompleteJob stores the scoring output and moves the job to COMPLETED.
	CompleteJob(ctx context.Context, jobID uuid.UUID, c JobCompletion) error
}

type ScanUpdate struct {
	Result                  json.RawMessage
	ScreenshotURL           *string
	ViolationsScreenshotURL *string
}

type JobCompletion struct {
	TransformedResult json.RawMessage
	Priority          json.RawMessage
}

func statusStrings(ss []model.JobStatus) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = string(s)
	}
	return out
}
