package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/beacon/pipeline/internal/model"
	"github.com/beacon/pipeline/internal/queue"
	"github.com/beacon/pipeline/internal/store"
	"github.com/google/uuid"
)

var (
	// ErrScheduleFailed means the job could not be recorded or queued. Nothing
	// is left behind when it is returned.
	ErrScheduleFailed = errors.New("failed to schedule scan")
	ErrJobNotFound    = errors.New("job not found")
)

// JobStore is the part of store.Store the API uses.
type JobStore interface {
	CreateJob(ctx context.Context, job *model.ScanJob) error
	GetJob(ctx context.Context, id uuid.UUID) (*model.ScanJob, error)
	DeleteJob(ctx context.Context, id uuid.UUID) error
	ListViolations(ctx context.Context, jobID uuid.UUID) ([]*model.Violation, error)
}

// StatusCache reads and writes the status entries clients poll.
type StatusCache interface {
	Set(ctx context.Context, statusID string, p model.Progress) error
	Get(ctx context.Context, statusID string) (*model.Progress, error)
	Delete(ctx context.Context, statusID string) error
	GetResult(ctx context.Context, jobID uuid.UUID) (json.RawMessage, error)
}

type Enqueuer interface {
	Enqueue(ctx context.Context, queueName string, p queue.Payload) (*queue.Handle, error)
}

// ScanService creates scan jobs and answers status queries.
type ScanService struct {
	store     JobStore
	status    StatusCache
	queue     Enqueuer
	scanQueue string
	log       *slog.Logger
}

func NewScanService(st JobStore, status StatusCache, q Enqueuer, scanQueue string, log *slog.Logger) *ScanService {
	return &ScanService{store: st, status: status, queue: q, scanQueue: scanQueue, log: log}
}

// Submit records a new job, publishes its first status, and queues the scan.
func (s *ScanService) Submit(ctx context.Context, req *model.ScanSubmitRequest, userID string) (*model.ScanSubmitResponse, error) {
	statusID := uuid.NewString()
	log := s.log.With("status_id", statusID, "url", req.URL)

	if err := s.status.Set(ctx, statusID, model.Progress{
		Step: model.JobStatusPending, Progress: 0, Message: "Creating scan job",
	}); err != nil {
		log.Warn("failed to write initial status", "error", err)
	}

	job := &model.ScanJob{
		ID:      uuid.New(),
		RouteID: req.RouteID,
		UserID:  userID,
		URL:     req.URL,
		Status:  model.JobStatusPending,
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		s.dropStatus(ctx, log, statusID)
		return nil, fmt.Errorf("%w: create job: %v", ErrScheduleFailed, err)
	}
	log = log.With("job_id", job.ID)

	// Workers own the entry once the task is visible.
	if err := s.status.Set(ctx, statusID, model.Progress{
		Step: model.JobStatusPending, Progress: 0, Message: "Scan queued",
	}); err != nil {
		log.Warn("failed to write queued status", "error", err)
	}

	var opts model.ScanOptions
	if req.Options != nil {
		opts = *req.Options
	}
	h, err := s.queue.Enqueue(ctx, s.scanQueue, model.ScanJobPayload{
		URL:      req.URL,
		Options:  opts,
		JobDBID:  job.ID,
		StatusID: statusID,
	})
	if err != nil {
		log.Error("failed to enqueue scan", "error", err)
		s.dropStatus(ctx, log, statusID)
		if delErr := s.store.DeleteJob(ctx, job.ID); delErr != nil {
			log.Error("failed to remove unscheduled job", "error", delErr)
		}
		return nil, fmt.Errorf("%w: %w", ErrScheduleFailed, err)
	}

	log.Info("scan submitted", "task_id", h.ID)
	return &model.ScanSubmitResponse{
		JobID:      job.ID,
		QueueJobID: h.ID,
		StatusID:   statusID,
		Status:     model.JobStatusPending,
		URL:        req.URL,
	}, nil
}

func (s *ScanService) dropStatus(ctx context.Context, log *slog.Logger, statusID string) {
	if err := s.status.Delete(ctx, statusID); err != nil {
		log.Warn("failed to delete status entry", "error", err)
	}
}

// GetStatus returns the cached status, or nil when it is absent or expired.
func (s *ScanService) GetStatus(ctx context.Context, statusID string) (*model.Progress, error) {
	return s.status.Get(ctx, statusID)
}

// GetJob returns a job with its violations, and the cached scoring result
// when the job has reached analysis and the entry has not expired.
func (s *ScanService) GetJob(ctx context.Context, jobID uuid.UUID) (*model.ScanJobDetail, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	violations, err := s.store.ListViolations(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("list violations: %w", err)
	}
	detail := &model.ScanJobDetail{Job: job, Violations: violations}
	if s.status == nil {
		return detail, nil
	}
	switch job.Status {
	case model.JobStatusAIProcessing, model.JobStatusCompleted:
		analysis, err := s.status.GetResult(ctx, jobID)
		if err != nil {
			s.log.Warn("failed to read cached analysis", "job_id", jobID, "error", err)
		}
		detail.Analysis = analysis
	}
	return detail, nil
}
