package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/beacon/pipeline/internal/failure"
	"github.com/beacon/pipeline/internal/model"
	"github.com/beacon/pipeline/internal/progress"
	"github.com/beacon/pipeline/internal/queue"
	"github.com/beacon/pipeline/internal/store"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// Enqueuer places follow-up work on a queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, queueName string, p queue.Payload) (*queue.Handle, error)
}

// base holds what both workers share: status writes, progress, and the
// failure path.
type base struct {
	store         store.Store
	progress      progress.Reporter
	policy        failure.Policy
	log           *slog.Logger
	isLastAttempt func(context.Context) bool
	resultWriter  func(*asynq.Task) io.Writer
}

func newBase(st store.Store, rep progress.Reporter, policy failure.Policy, log *slog.Logger,
	isLast func(context.Context) bool, rw func(*asynq.Task) io.Writer) base {
	if policy == nil {
		policy = failure.DefaultPolicy
	}
	if isLast == nil {
		isLast = queue.IsLastAttempt
	}
	if rw == nil {
		rw = queue.ResultWriter
	}
	return base{store: st, progress: rep, policy: policy, log: log, isLastAttempt: isLast, resultWriter: rw}
}

func (b *base) report(ctx context.Context, tgt progress.Target, step model.JobStatus, pct int, msg string) {
	b.progress.Report(ctx, tgt, model.Progress{Step: step, Progress: pct, Message: msg})
}

// advance writes a forward status move, treating any error as critical.
func (b *base) advance(ctx context.Context, jobID uuid.UUID, to model.JobStatus) error {
	return failure.Wrap(failure.PersistenceCritical, "set status "+string(to), b.store.AdvanceStatus(ctx, jobID, to))
}

// tolerate returns nil when the policy says a failure of this class may be
// skipped, logging it; otherwise it returns err.
func (b *base) tolerate(err error, msg string, attrs ...any) error {
	if err == nil {
		return nil
	}
	if b.policy.ActionFor(err) == failure.Skip {
		b.log.Warn(msg, append(attrs, "error", err)...)
		return nil
	}
	return err
}

// run calls fn, turning a panic into an error and capturing its stack.
func run(fn func() error) (stack string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			stack = string(debug.Stack())
		}
	}()
	return "", fn()
}

func metadata(start time.Time) model.JobMetadata {
	return model.JobMetadata{
		ProcessingTime: time.Since(start).Milliseconds(),
		Timestamp:      time.Now().UTC(),
		WorkerVersion:  model.WorkerVersion,
	}
}

func (b *base) writeResult(w io.Writer, res model.JobResult) {
	if w == nil {
		return
	}
	data, err := json.Marshal(res)
	if err == nil {
		_, err = w.Write(data)
	}
	if err != nil {
		b.log.Warn("failed to write task result", "error", err)
	}
}

// fail records a failed attempt. The job is marked FAILED only when no
// retry will follow; the store is written first and the status cache
// mirrors it. The returned error is what the queue sees.
func (b *base) fail(ctx context.Context, tgt progress.Target, jobID uuid.UUID, start time.Time,
	err error, stack, prefix string) error {
	action := b.policy.ActionFor(err)
	final := action == failure.Discard || b.isLastAttempt(ctx)
	attempt, maxAttempts := queue.AttemptInfo(ctx)

	b.log.Error("job attempt failed",
		"job_id", jobID, "status_id", tgt.StatusID, "class", failure.Code(err),
		"action", action.String(), "attempt", attempt, "max_attempts", maxAttempts, "final", final, "error", err)
	if stack != "" {
		b.log.Error("recovered panic", "job_id", jobID, "stack", stack)
	}

	b.writeResult(tgt.Results, model.JobResult{
		Success:  false,
		Error:    &model.JobError{Message: err.Error(), Stack: stack, Code: failure.Code(err)},
		Metadata: metadata(start),
	})

	if final {
		msg := prefix + err.Error()
		mirror := true
		if jobID != uuid.Nil {
			mErr := b.store.MarkFailed(ctx, jobID, msg)
			switch {
			case errors.Is(mErr, store.ErrInvalidTransition):
				// Already terminal; leave the cache alone too.
				mirror = false
			case mErr != nil:
				b.log.Error("failed to mark job failed", "job_id", jobID, "error", mErr)
			}
		}
		if mirror {
			b.report(ctx, tgt, model.JobStatusFailed, 0, msg)
		}
	}

	if action == failure.Discard {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	return err
}
