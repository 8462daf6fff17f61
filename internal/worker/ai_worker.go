package worker

import (
	"context"
	"encoding/json"
	"errors"
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

const scoreChunkSize = 100

// Scorer assigns priority scores to violations. It does not fail; provider
// problems degrade to default scores.
type Scorer interface {
	Score(ctx context.Context, violations []*model.Violation, vc *model.ViolationContext) model.BatchPriorityResult
}

// ResultCache keeps the short-lived scoring result for dashboards.
type ResultCache interface {
	SetResult(ctx context.Context, jobID uuid.UUID, v any) error
}

type AIWorkerDeps struct {
	Store    store.Store
	Scorer   Scorer
	Results  ResultCache
	Progress progress.Reporter
	Policy   failure.Policy
	Log      *slog.Logger

	IsLastAttempt func(context.Context) bool
	ResultWriter  func(*asynq.Task) io.Writer
}

// AIWorker consumes scoring tasks and completes the job.
type AIWorker struct {
	base
	scorer  Scorer
	results ResultCache
}

func NewAIWorker(d AIWorkerDeps) *AIWorker {
	return &AIWorker{
		base:    newBase(d.Store, d.Progress, d.Policy, d.Log.With("worker", "ai"), d.IsLastAttempt, d.ResultWriter),
		scorer:  d.Scorer,
		results: d.Results,
	}
}

// ProcessTask handles one ai:priority-scoring delivery.
func (w *AIWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	start := time.Now()
	tgt := progress.Target{Results: w.resultWriter(t)}

	var p model.AIJobPayload
	if err := queue.Decode(t, &p); err != nil {
		tgt.StatusID = p.StatusID
		return w.fail(ctx, tgt, p.JobDBID, start, failure.Wrap(failure.InvalidPayload, "decode ai payload", err), "", "AI analysis failed: ")
	}
	tgt.StatusID = p.StatusID

	var summary *model.PrioritySummary
	stack, err := run(func() error {
		var err error
		summary, err = w.process(ctx, tgt, p)
		return err
	})
	if err != nil {
		return w.fail(ctx, tgt, p.JobDBID, start, err, stack, "AI analysis failed: ")
	}

	w.writeResult(tgt.Results, model.JobResult{Success: true, Priority: summary, Metadata: metadata(start)})
	return nil
}

func (w *AIWorker) process(ctx context.Context, tgt progress.Target, p model.AIJobPayload) (*model.PrioritySummary, error) {
	log := w.log.With("job_id", p.JobDBID, "status_id", p.StatusID)

	job, err := w.store.GetJob(ctx, p.JobDBID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, failure.Wrap(failure.InvalidPayload, "load job", err)
	}
	if err != nil {
		return nil, failure.Wrap(failure.PersistenceCritical, "load job", err)
	}
	switch {
	case job.Status.IsTerminal():
		log.Info("job already finished, acknowledging", "status", job.Status)
		return nil, nil
	case job.Status.Rank() < model.JobStatusScanComplete.Rank():
		return nil, failure.Wrap(failure.PersistenceCritical, "load job",
			errors.New("scan result not stored yet, status "+string(job.Status)))
	}

	if err := w.advance(ctx, p.JobDBID, model.JobStatusAIProcessing); err != nil {
		return nil, err
	}
	w.report(ctx, tgt, model.JobStatusAIProcessing, 80, "Analyzing violations with AI...")

	violations, err := w.store.ListViolations(ctx, p.JobDBID)
	if err != nil {
		return nil, failure.Wrap(failure.PersistenceCritical, "list violations", err)
	}

	url := p.URL
	if url == "" {
		url = job.URL
	}
	result := w.scorer.Score(ctx, violations, &model.ViolationContext{URL: url})

	transformed, err := json.Marshal(result.TransformedResult)
	if err != nil {
		return nil, failure.Wrap(failure.PersistenceCritical, "encode transformed result", err)
	}
	priority, err := json.Marshal(model.JobPriority{Summary: result.Summary, Recommendations: result.Recommendations})
	if err != nil {
		return nil, failure.Wrap(failure.PersistenceCritical, "encode priority", err)
	}

	var skipped int
	err = w.store.WithTx(ctx, func(tx store.Tx) error {
		n, err := tx.UpsertExplanations(ctx, explanations(result.Violations))
		if err := w.tolerate(failure.Wrap(failure.PersistenceSupplementary, "upsert explanations", err),
			"explanation upsert failed"); err != nil {
			return err
		}
		log.Debug("explanations stored", "inserted", n)

		for start := 0; start < len(result.Violations); start += scoreChunkSize {
			if err := ctx.Err(); err != nil {
				return err
			}
			end := min(start+scoreChunkSize, len(result.Violations))
			for _, s := range result.Violations[start:end] {
				err := tx.UpdateViolationScore(ctx, p.JobDBID, s.ID, s.TotalScore, s.Priority)
				if err == nil {
					continue
				}
				if err := w.tolerate(failure.Wrap(failure.PersistenceSupplementary, "update violation score", err),
					"violation score update failed", "violation_id", s.ID, "rule_id", s.RuleID); err != nil {
					return err
				}
				skipped++
			}
		}

		return tx.CompleteJob(ctx, p.JobDBID, store.JobCompletion{TransformedResult: transformed, Priority: priority})
	})
	if err != nil {
		return nil, failure.Wrap(failure.PersistenceCritical, "store scores", err)
	}
	if skipped > 0 {
		log.Warn("some violation scores were not stored", "skipped", skipped, "total", len(result.Violations))
	}

	if err := w.results.SetResult(ctx, p.JobDBID, result); err != nil {
		log.Warn("failed to cache scoring result", "error", err)
	}

	w.report(ctx, tgt, model.JobStatusCompleted, 100, "Analysis completed successfully")
	log.Info("analysis completed", "violations", result.Summary.TotalViolations, "average_score", result.Summary.AverageScore)
	return &result.Summary, nil
}

// explanations returns one explanation per rule id.
func explanations(scores []model.ViolationScore) []*model.Explanation {
	seen := make(map[string]bool, len(scores))
	out := make([]*model.Explanation, 0, len(scores))
	for _, s := range scores {
		if s.RuleID == "" || seen[s.RuleID] {
			continue
		}
		seen[s.RuleID] = true
		out = append(out, &model.Explanation{
			IssueCode:           s.RuleID,
			Explanation:         s.Explanation,
			DetailedExplanation: s.DetailedExplanation,
			Recommendation:      s.TechnicalRecommendation,
		})
	}
	return out
}
