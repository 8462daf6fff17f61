package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/beacon/pipeline/internal/model"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const jobColumns = `id, route_id, user_id, url, status, result, priority, transformed_result,
	screenshot_url, violations_screenshot_url, error, created_at, updated_at, completed_at`

// --- Scan jobs ---

func (s *PostgresStore) CreateJob(ctx context.Context, job *model.ScanJob) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.Status == "" {
		job.Status = model.JobStatusPending
	}
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = job.CreatedAt

	_, err := s.pool.Exec(ctx,
		`INSERT INTO scan_jobs (id, route_id, user_id, url, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		job.ID, job.RouteID, job.UserID, job.URL, job.Status, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create scan job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID) (*model.ScanJob, error) {
	return getJob(ctx, s.pool, id)
}

func getJob(ctx context.Context, q querier, id uuid.UUID) (*model.ScanJob, error) {
	var j model.ScanJob
	err := q.QueryRow(ctx, `SELECT `+jobColumns+` FROM scan_jobs WHERE id = $1`, id).Scan(
		&j.ID, &j.RouteID, &j.UserID, &j.URL, &j.Status, &j.Result, &j.Priority, &j.TransformedResult,
		&j.ScreenshotURL, &j.ViolationsScreenshotURL, &j.Error, &j.CreatedAt, &j.UpdatedAt, &j.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get scan job: %w", err)
	}
	return &j, nil
}

func (s *PostgresStore) DeleteJob(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM scan_jobs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete scan job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) AdvanceStatus(ctx context.Context, id uuid.UUID, to model.JobStatus) error {
	return advanceStatus(ctx, s.pool, id, to)
}

// advanceStatus only updates rows whose current status may move to `to`, so
// the state machine is enforced by the database rather than by callers.
func advanceStatus(ctx context.Context, q querier, id uuid.UUID, to model.JobStatus) error {
	tag, err := q.Exec(ctx,
		`UPDATE scan_jobs SET status = $2, updated_at = NOW()
		 WHERE id = $1 AND status = ANY($3)`,
		id, to, statusStrings(model.Predecessors(to)))
	if err != nil {
		return fmt.Errorf("advance scan job to %s: %w", to, err)
	}
	if tag.RowsAffected() == 0 {
		return transitionError(ctx, q, id, to)
	}
	return nil
}

func (s *PostgresStore) MarkFailed(ctx context.Context, id uuid.UUID, msg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE scan_jobs SET status = $2, error = $3, updated_at = NOW()
		 WHERE id = $1 AND status = ANY($4)`,
		id, model.JobStatusFailed, msg, statusStrings(model.Predecessors(model.JobStatusFailed)))
	if err != nil {
		return fmt.Errorf("mark scan job failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return transitionError(ctx, s.pool, id, model.JobStatusFailed)
	}
	return nil
}

// transitionError explains why a guarded status update touched no rows.
func transitionError(ctx context.Context, q querier, id uuid.UUID, to model.JobStatus) error {
	var current model.JobStatus
	err := q.QueryRow(ctx, `SELECT status FROM scan_jobs WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read scan job status: %w", err)
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, to)
}

// --- Violations ---

func (s *PostgresStore) ListViolations(ctx context.Context, jobID uuid.UUID) ([]*model.Violation, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, scan_job_id, rule_id, impact, description, help, help_url, nodes,
		        priority_score, priority, created_at
		 FROM accessibility_violations WHERE scan_job_id = $1
		 ORDER BY created_at, rule_id`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list violations: %w", err)
	}
	defer rows.Close()

	var out []*model.Violation
	for rows.Next() {
		var v model.Violation
		if err := rows.Scan(&v.ID, &v.ScanJobID, &v.RuleID, &v.Impact, &v.Description, &v.Help,
			&v.HelpURL, &v.Nodes, &v.PriorityScore, &v.Priority, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan violation: %w", err)
		}
		out = append(out, &v)
	}
	return out, rows.Err()
}

// --- Transactions ---

func (s *PostgresStore) WithTx(ctx context.Context, fn func(Tx) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&pgTx{tx: tx})
	})
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) ReplaceViolations(ctx context.Context, jobID uuid.UUID, vs []*model.Violation) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM accessibility_violations WHERE scan_job_id = $1`, jobID); err != nil {
		return fmt.Errorf("clear violations: %w", err)
	}
	if len(vs) == 0 {
		return nil
	}

	now := time.Now().UTC()
	columns := []string{"id", "scan_job_id", "rule_id", "impact", "description", "help",
		"help_url", "nodes", "priority_score", "priority", "created_at"}
	_, err := t.tx.CopyFrom(ctx, pgx.Identifier{"accessibility_violations"}, columns,
		pgx.CopyFromSlice(len(vs), func(i int) ([]any, error) {
			v := vs[i]
			if v.ID == uuid.Nil {
				v.ID = uuid.New()
			}
			if v.CreatedAt.IsZero() {
				v.CreatedAt = now
			}
			v.ScanJobID = jobID
			if v.Priority == "" {
				v.Priority = model.PriorityLow
			}
			nodes := v.Nodes
			if len(nodes) == 0 {
				nodes = []byte("[]")
			}
			return []any{v.ID, v.ScanJobID, v.RuleID, string(v.Impact), v.Description, v.Help,
				v.HelpURL, nodes, v.PriorityScore, string(v.Priority), v.CreatedAt}, nil
		}))
	if err != nil {
		return fmt.Errorf("insert violations: %w", err)
	}
	return nil
}

func (t *pgTx) CompleteScan(ctx context.Context, jobID uuid.UUID, u ScanUpdate) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE scan_jobs SET status = $2, result = $3, screenshot_url = $4,
		        violations_screenshot_url = $5, updated_at = NOW()
		 WHERE id = $1 AND status = ANY($6)`,
		jobID, model.JobStatusScanComplete, u.Result, u.ScreenshotURL, u.ViolationsScreenshotURL,
		statusStrings(model.Predecessors(model.JobStatusScanComplete)))
	if err != nil {
		return fmt.Errorf("complete scan: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return transitionError(ctx, t.tx, jobID, model.JobStatusScanComplete)
	}
	return nil
}

func (t *pgTx) UpsertExplanations(ctx context.Context, es []*model.Explanation) (int64, error) {
	if len(es) == 0 {
		return 0, nil
	}
	var inserted int64
	err := pgx.BeginFunc(ctx, t.tx, func(sp pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, e := range es {
			if e.ID == uuid.Nil {
				e.ID = uuid.New()
			}
			batch.Queue(
				`INSERT INTO explanations (id, issue_code, explanation, detailed_explanation, recommendation)
				 VALUES ($1, $2, $3, $4, $5)
				 ON CONFLICT (issue_code) DO NOTHING`,
				e.ID, e.IssueCode, e.Explanation, e.DetailedExplanation, e.Recommendation)
		}
		br := sp.SendBatch(ctx, batch)
		for range es {
			tag, err := br.Exec()
			if err != nil {
				br.Close()
				return err
			}
			inserted += tag.RowsAffected()
		}
		return br.Close()
	})
	if err != nil {
		return 0, fmt.Errorf("upsert explanations: %w", err)
	}
	return inserted, nil
}

func (t *pgTx) UpdateViolationScore(ctx context.Context, jobID, violationID uuid.UUID, score int, priority model.Priority) error {
	var affected int64
	err := pgx.BeginFunc(ctx, t.tx, func(sp pgx.Tx) error {
		tag, err := sp.Exec(ctx,
			`UPDATE accessibility_violations SET priority_score = $3, priority = $4
			 WHERE id = $1 AND scan_job_id = $2`,
			violationID, jobID, score, string(priority))
		affected = tag.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("update violation %s score: %w", violationID, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) CompleteJob(ctx context.Context, jobID uuid.UUID, c JobCompletion) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE scan_jobs SET status = $2, transformed_result = $3, priority = $4,
		        completed_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND status = ANY($5)`,
		jobID, model.JobStatusCompleted, c.TransformedResult, c.Priority,
		statusStrings(model.Predecessors(model.JobStatusCompleted)))
	if err != nil {
		return fmt.Errorf("complete scan job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return transitionError(ctx, t.tx, jobID, model.JobStatusCompleted)
	}
	return nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
