package queue

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/hibiken/asynq"
)

const prunePageSize = 100

// Inspector is the subset of *asynq.Inspector used by Pruner.
type Inspector interface {
	ListCompletedTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error)
	ListArchivedTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error)
	DeleteTask(queue, id string) error
}

type PrunerConfig struct {
	Queue string
	// KeepCompleted and KeepFailed are the number of newest finished tasks
	// left in place. Negative disables pruning of that set.
	KeepCompleted int
	KeepFailed    int
	Interval      time.Duration
}

// Pruner bounds the number of finished tasks kept per queue.
type Pruner struct {
	insp Inspector
	cfg  PrunerConfig
	log  *slog.Logger
}

func NewPruner(insp Inspector, cfg PrunerConfig, log *slog.Logger) *Pruner {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	return &Pruner{insp: insp, cfg: cfg, log: log.With("queue", cfg.Queue, "component", "pruner")}
}

// Run prunes on every interval until ctx is cancelled. Errors are logged.
func (p *Pruner) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := p.PruneOnce(ctx); err != nil {
				p.log.Warn("prune failed", "error", err)
			} else if n > 0 {
				p.log.Debug("pruned finished tasks", "count", n)
			}
		}
	}
}

// PruneOnce deletes finished tasks beyond the configured counts and returns
// how many were removed.
func (p *Pruner) PruneOnce(ctx context.Context) (int, error) {
	var removed int
	var errs []error

	if p.cfg.KeepCompleted >= 0 {
		n, err := p.prune(ctx, p.insp.ListCompletedTasks, p.cfg.KeepCompleted, func(t *asynq.TaskInfo) time.Time {
			return t.CompletedAt
		})
		removed += n
		errs = append(errs, err)
	}
	if p.cfg.KeepFailed >= 0 {
		n, err := p.prune(ctx, p.insp.ListArchivedTasks, p.cfg.KeepFailed, func(t *asynq.TaskInfo) time.Time {
			return t.LastFailedAt
		})
		removed += n
		errs = append(errs, err)
	}
	return removed, errors.Join(errs...)
}

type listFunc func(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error)

func (p *Pruner) prune(ctx context.Context, list listFunc, keep int, at func(*asynq.TaskInfo) time.Time) (int, error) {
	var tasks []*asynq.TaskInfo
	for page := 1; ; page++ {
		batch, err := list(p.cfg.Queue, asynq.PageSize(prunePageSize), asynq.Page(page))
		if errors.Is(err, asynq.ErrQueueNotFound) {
			return 0, nil
		}
		if err != nil {
			return 0, err
		}
		tasks = append(tasks, batch...)
		if len(batch) < prunePageSize {
			break
		}
	}
	if len(tasks) <= keep {
		return 0, nil
	}

	sort.SliceStable(tasks, func(i, j int) bool { return at(tasks[i]).After(at(tasks[j])) })

	var removed int
	for _, t := range tasks[keep:] {
		if ctx.Err() != nil {
			return removed, ctx.Err()
		}
		if err := p.insp.DeleteTask(p.cfg.Queue, t.ID); err != nil && !errors.Is(err, asynq.ErrTaskNotFound) {
			return removed, err
		}
		removed++
	}
	return removed, nil
}
