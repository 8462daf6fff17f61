package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/beacon/pipeline/internal/failure"
	"github.com/beacon/pipeline/internal/model"
	"github.com/beacon/pipeline/internal/progress"
	"github.com/beacon/pipeline/internal/queue"
	"github.com/beacon/pipeline/internal/store"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// Scanner runs a browser accessibility scan.
type Scanner interface {
	RunScan(ctx context.Context, url, jobID string, opts model.ScanOptions) (*model.ScanResult, error)
}

// Uploader moves scan artifacts to object storage.
type Uploader interface {
	UploadFile(ctx context.Context, localPath, fileName string) (string, error)
	DeleteFiles(ctx context.Context, urls []string) error
}

type ScanWorkerDeps struct {
	Store   store.Store
	Scanner Scanner
	// Uploader may be nil when storage is not configured; screenshots are then skipped.
	Uploader Uploader
	Queue    Enqueuer
	AIQueue  string
	Progress progress.Reporter
	Defaults model.ScanOptions
	Policy   failure.Policy
	Log      *slog.Logger

	IsLastAttempt func(context.Context) bool
	ResultWriter  func(*asynq.Task) io.Writer
}

// ScanWorker consumes scan tasks: it scans the page, stores the violations,
// and hands the job to the AI queue.
type ScanWorker struct {
	base
	scanner  Scanner
	uploader Uploader
	queue    Enqueuer
	aiQueue  string
	defaults model.ScanOptions
}

func NewScanWorker(d ScanWorkerDeps) *ScanWorker {
	return &ScanWorker{
		base:     newBase(d.Store, d.Progress, d.Policy, d.Log.With("worker", "scan"), d.IsLastAttempt, d.ResultWriter),
		scanner:  d.Scanner,
		uploader: d.Uploader,
		queue:    d.Queue,
		aiQueue:  d.AIQueue,
		defaults: d.Defaults,
	}
}

// ProcessTask handles one scan:run delivery.
func (w *ScanWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	start := time.Now()
	tgt := progress.Target{Results: w.resultWriter(t)}

	var p model.ScanJobPayload
	if err := queue.Decode(t, &p); err != nil {
		tgt.StatusID = p.StatusID
		return w.fail(ctx, tgt, p.JobDBID, start, failure.Wrap(failure.InvalidPayload, "decode scan payload", err), "", "Scan failed: ")
	}
	tgt.StatusID = p.StatusID

	stack, err := run(func() error { return w.process(ctx, tgt, p) })
	if err != nil {
		return w.fail(ctx, tgt, p.JobDBID, start, err, stack, "Scan failed: ")
	}

	w.writeResult(tgt.Results, model.JobResult{Success: true, Metadata: metadata(start)})
	return nil
}

func (w *ScanWorker) process(ctx context.Context, tgt progress.Target, p model.ScanJobPayload) error {
	log := w.log.With("job_id", p.JobDBID, "status_id", p.StatusID)

	job, err := w.store.GetJob(ctx, p.JobDBID)
	if errors.Is(err, store.ErrNotFound) {
		return failure.Wrap(failure.InvalidPayload, "load job", err)
	}
	if err != nil {
		return failure.Wrap(failure.PersistenceCritical, "load job", err)
	}

	// Redelivery guards: never scan twice once the scan phase committed.
	switch {
	case job.Status.IsTerminal():
		log.Info("job already finished, acknowledging", "status", job.Status)
		return nil
	case job.Status.Rank() >= model.JobStatusScanComplete.Rank():
		log.Info("scan already stored, re-queueing analysis", "status", job.Status)
		return w.queueAnalysis(ctx, tgt, p, job.Status)
	}

	// A retry after a failed persist finds the job past SCANNING; the scan is
	// rerun without moving the status back.
	if job.Status.Rank() < model.JobStatusScanning.Rank() {
		if err := w.advance(ctx, p.JobDBID, model.JobStatusScanning); err != nil {
			return err
		}
	}
	w.report(ctx, tgt, model.JobStatusScanning, 0, "Starting scan for "+p.URL)
	w.report(ctx, tgt, model.JobStatusScanning, 25, "Running accessibility scan...")

	opts := p.Options.WithDefaults(w.defaults)
	result, err := w.scanner.RunScan(ctx, p.URL, p.JobDBID.String(), opts)
	if err != nil {
		return failure.Wrap(failure.ScanFailure, "run scan", err)
	}
	log.Info("scan finished", "violations", len(result.Violations))

	var update store.ScanUpdate
	if result.ScreenshotPaths.HasFiles() {
		w.report(ctx, tgt, model.JobStatusProcessingScreenshots, 40, "Uploading screenshots...")
		if job.Status.Rank() < model.JobStatusProcessingScreenshots.Rank() {
			if err := w.advance(ctx, p.JobDBID, model.JobStatusProcessingScreenshots); err != nil {
				return err
			}
		}
		if update.ScreenshotURL, err = w.upload(ctx, log, result.ScreenshotPaths.Original); err != nil {
			return err
		}
		if update.ViolationsScreenshotURL, err = w.upload(ctx, log, result.ScreenshotPaths.Violations); err != nil {
			w.discardUploads(ctx, log, update)
			return err
		}
	}

	if update.Result, err = json.Marshal(result); err != nil {
		return failure.Wrap(failure.ScanFailure, "encode scan result", err)
	}

	violations := toViolations(result.Violations)
	err = w.store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.ReplaceViolations(ctx, p.JobDBID, violations); err != nil {
			return err
		}
		return tx.CompleteScan(ctx, p.JobDBID, update)
	})
	if err != nil {
		w.discardUploads(ctx, log, update)
		return failure.Wrap(failure.PersistenceCritical, "store scan result", err)
	}

	w.report(ctx, tgt, model.JobStatusScanComplete, 50,
		fmt.Sprintf("Scan completed. Found %d violations", len(violations)))

	return w.queueAnalysis(ctx, tgt, p, model.JobStatusScanComplete)
}

// queueAnalysis moves the job to AI_QUEUED and enqueues the scoring task. The
// status is written first so the AI worker's own writes are never overwritten.
func (w *ScanWorker) queueAnalysis(ctx context.Context, tgt progress.Target, p model.ScanJobPayload, current model.JobStatus) error {
	if current.Rank() < model.JobStatusAIQueued.Rank() {
		if err := w.advance(ctx, p.JobDBID, model.JobStatusAIQueued); err != nil {
			return err
		}
		w.report(ctx, tgt, model.JobStatusAIQueued, 60, "Queueing AI analysis...")
	}

	h, err := w.queue.Enqueue(ctx, w.aiQueue, model.AIJobPayload{
		ScanJobID: p.JobDBID.String(),
		JobDBID:   p.JobDBID,
		URL:       p.URL,
		StatusID:  p.StatusID,
	})
	if err != nil {
		return failure.Wrap(failure.QueueUnavailable, "enqueue analysis", err)
	}
	w.log.Info("analysis queued", "job_id", p.JobDBID, "task_id", h.ID, "duplicate", h.Duplicate)
	return nil
}

// upload stores one screenshot. Failures are isolated per file: under the
// default policy the URL stays nil and the job carries on.
func (w *ScanWorker) upload(ctx context.Context, log *slog.Logger, f *model.ScreenshotFile) (*string, error) {
	if f == nil {
		return nil, nil
	}
	if w.uploader == nil {
		log.Warn("storage not configured, skipping screenshot", "file", f.Name)
		return nil, nil
	}
	url, err := w.uploader.UploadFile(ctx, f.Path, f.Name)
	if err != nil {
		return nil, w.tolerate(failure.Wrap(failure.UploadFailure, "upload "+f.Name, err),
			"screenshot upload failed", "file", f.Name)
	}
	return &url, nil
}

// discardUploads removes screenshots whose job record could not be written.
func (w *ScanWorker) discardUploads(ctx context.Context, log *slog.Logger, u store.ScanUpdate) {
	var urls []string
	for _, s := range []*string{u.ScreenshotURL, u.ViolationsScreenshotURL} {
		if s != nil {
			urls = append(urls, *s)
		}
	}
	if len(urls) == 0 || w.uploader == nil {
		return
	}
	if err := w.uploader.DeleteFiles(ctx, urls); err != nil {
		log.Warn("failed to delete orphaned screenshots", "error", err)
	}
}

func toViolations(in []model.AxeViolation) []*model.Violation {
	out := make([]*model.Violation, 0, len(in))
	for _, v := range in {
		nodes, err := json.Marshal(v.Nodes)
		if err != nil || v.Nodes == nil {
			nodes = []byte("[]")
		}
		out = append(out, &model.Violation{
			ID:          uuid.New(),
			RuleID:      v.ID,
			Impact:      model.ParseImpact(v.Impact),
			Description: v.Description,
			Help:        v.Help,
			HelpURL:     v.HelpURL,
			Nodes:       nodes,
			Priority:    model.PriorityLow,
		})
	}
	return out
}
