// Package storetest provides an in-memory store.Store for tests.
package storetest

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/beacon/pipeline/internal/model"
	"github.com/beacon/pipeline/internal/store"
	"github.com/google/uuid"
)

type state struct {
	jobs         map[uuid.UUID]model.ScanJob
	violations   map[uuid.UUID][]model.Violation
	explanations map[string]model.Explanation
}

func (s state) clone() state {
	c := state{
		jobs:         make(map[uuid.UUID]model.ScanJob, len(s.jobs)),
		violations:   make(map[uuid.UUID][]model.Violation, len(s.violations)),
		explanations: make(map[string]model.Explanation, len(s.explanations)),
	}
	for k, v := range s.jobs {
		c.jobs[k] = v
	}
	for k, v := range s.violations {
		c.violations[k] = append([]model.Violation(nil), v...)
	}
	for k, v := range s.explanations {
		c.explanations[k] = v
	}
	return c
}

// Memory is an in-memory store.Store. Transactions work on a copy of the
// data that replaces the committed state only when fn returns nil.
type Memory struct {
	mu      sync.Mutex
	state   state
	history map[uuid.UUID][]model.JobStatus

	// Error injection hooks. Nil means succeed.
	CreateJobErr         error
	GetJobErr            error
	ListViolationsErr    error
	ReplaceViolationsErr error
	CompleteScanErr      error
	UpsertExplanationErr error
	CompleteJobErr       error
	UpdateScoreErr       func(violationID uuid.UUID, index int) error
}

func New() *Memory {
	return &Memory{
		state: state{
			jobs:         make(map[uuid.UUID]model.ScanJob),
			violations:   make(map[uuid.UUID][]model.Violation),
			explanations: make(map[string]model.Explanation),
		},
		history: make(map[uuid.UUID][]model.JobStatus),
	}
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) CreateJob(_ context.Context, job *model.ScanJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CreateJobErr != nil {
		return m.CreateJobErr
	}
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if _, exists := m.state.jobs[job.ID]; exists {
		return store.ErrDuplicateKey
	}
	if job.Status == "" {
		job.Status = model.JobStatusPending
	}
	now := time.Now().UTC()
	job.CreatedAt, job.UpdatedAt = now, now
	m.state.jobs[job.ID] = *job
	m.history[job.ID] = []model.JobStatus{job.Status}
	return nil
}

func (m *Memory) GetJob(_ context.Context, id uuid.UUID) (*model.ScanJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetJobErr != nil {
		return nil, m.GetJobErr
	}
	j, ok := m.state.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &j, nil
}

func (m *Memory) DeleteJob(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.state.jobs[id]; !ok {
		return store.ErrNotFound
	}
	delete(m.state.jobs, id)
	delete(m.state.violations, id)
	return nil
}

func (m *Memory) AdvanceStatus(_ context.Context, id uuid.UUID, to model.JobStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.advance(&m.state, id, to, nil)
}

func (m *Memory) MarkFailed(_ context.Context, id uuid.UUID, msg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.advance(&m.state, id, model.JobStatusFailed, func(j *model.ScanJob) {
		j.Error = &msg
	})
}

// advance must be called with mu held.
func (m *Memory) advance(s *state, id uuid.UUID, to model.JobStatus, mutate func(*model.ScanJob)) error {
	j, ok := s.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	if !model.CanTransition(j.Status, to) {
		return fmt.Errorf("%w: %s -> %s", store.ErrInvalidTransition, j.Status, to)
	}
	j.Status = to
	j.UpdatedAt = time.Now().UTC()
	if mutate != nil {
		mutate(&j)
	}
	s.jobs[id] = j
	if s == &m.state {
		m.record(id, to)
	}
	return nil
}

func (m *Memory) record(id uuid.UUID, to model.JobStatus) {
	h := m.history[id]
	if len(h) == 0 || h[len(h)-1] != to {
		m.history[id] = append(h, to)
	}
}

func (m *Memory) ListViolations(_ context.Context, jobID uuid.UUID) ([]*model.Violation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ListViolationsErr != nil {
		return nil, m.ListViolationsErr
	}
	out := make([]*model.Violation, 0, len(m.state.violations[jobID]))
	for _, v := range m.state.violations[jobID] {
		v := v
		out = append(out, &v)
	}
	return out, nil
}

func (m *Memory) WithTx(ctx context.Context, fn func(store.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTx{m: m, s: m.state.clone()}
	if err := fn(tx); err != nil {
		return err
	}
	m.state = tx.s
	for _, step := range tx.transitions {
		m.record(step.id, step.to)
	}
	return nil
}

type transition struct {
	id uuid.UUID
	to model.JobStatus
}

type memTx struct {
	m           *Memory
	s           state
	transitions []transition
	scoreCalls  int
}

func (t *memTx) ReplaceViolations(_ context.Context, jobID uuid.UUID, vs []*model.Violation) error {
	if t.m.ReplaceViolationsErr != nil {
		return t.m.ReplaceViolationsErr
	}
	if _, ok := t.s.jobs[jobID]; !ok {
		return store.ErrNotFound
	}
	rows := make([]model.Violation, 0, len(vs))
	for _, v := range vs {
		if v.ID == uuid.Nil {
			v.ID = uuid.New()
		}
		v.ScanJobID = jobID
		rows = append(rows, *v)
	}
	t.s.violations[jobID] = rows
	return nil
}

func (t *memTx) CompleteScan(_ context.Context, jobID uuid.UUID, u store.ScanUpdate) error {
	if t.m.CompleteScanErr != nil {
		return t.m.CompleteScanErr
	}
	err := t.m.advance(&t.s, jobID, model.JobStatusScanComplete, func(j *model.ScanJob) {
		j.Result = u.Result
		j.ScreenshotURL = u.ScreenshotURL
		j.ViolationsScreenshotURL = u.ViolationsScreenshotURL
	})
	if err == nil {
		t.transitions = append(t.transitions, transition{jobID, model.JobStatusScanComplete})
	}
	return err
}

func (t *memTx) UpsertExplanations(_ context.Context, es []*model.Explanation) (int64, error) {
	if t.m.UpsertExplanationErr != nil {
		return 0, t.m.UpsertExplanationErr
	}
	var n int64
	for _, e := range es {
		if _, exists := t.s.explanations[e.IssueCode]; exists {
			continue
		}
		t.s.explanations[e.IssueCode] = *e
		n++
	}
	return n, nil
}

func (t *memTx) UpdateViolationScore(_ context.Context, jobID, violationID uuid.UUID, score int, priority model.Priority) error {
	index := t.scoreCalls
	t.scoreCalls++
	if t.m.UpdateScoreErr != nil {
		if err := t.m.UpdateScoreErr(violationID, index); err != nil {
			return err
		}
	}
	rows := t.s.violations[jobID]
	for i := range rows {
		if rows[i].ID == violationID {
			rows[i].PriorityScore = score
			rows[i].Priority = priority
			return nil
		}
	}
	return store.ErrNotFound
}

func (t *memTx) CompleteJob(_ context.Context, jobID uuid.UUID, c store.JobCompletion) error {
	if t.m.CompleteJobErr != nil {
		return t.m.CompleteJobErr
	}
	err := t.m.advance(&t.s, jobID, model.JobStatusCompleted, func(j *model.ScanJob) {
		now := time.Now().UTC()
		j.TransformedResult = c.TransformedResult
		j.Priority = c.Priority
		j.CompletedAt = &now
	})
	if err == nil {
		t.transitions = append(t.transitions, transition{jobID, model.JobStatusCompleted})
	}
	return err
}

// --- Inspection helpers ---

// Seed stores job as-is, bypassing validation.
func (m *Memory) Seed(job model.ScanJob, violations ...model.Violation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.jobs[job.ID] = job
	m.history[job.ID] = []model.JobStatus{job.Status}
	for i := range violations {
		violations[i].ScanJobID = job.ID
	}
	m.state.violations[job.ID] = append([]model.Violation(nil), violations...)
}

// History returns every distinct status the job has committed, in order.
func (m *Memory) History(id uuid.UUID) []model.JobStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.JobStatus(nil), m.history[id]...)
}

func (m *Memory) Job(id uuid.UUID) (model.ScanJob, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.state.jobs[id]
	return j, ok
}

// Violations returns the job's violations sorted by rule id.
func (m *Memory) Violations(jobID uuid.UUID) []model.Violation {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]model.Violation(nil), m.state.violations[jobID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].RuleID < out[j].RuleID })
	return out
}

func (m *Memory) Explanations() map[string]model.Explanation {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]model.Explanation, len(m.state.explanations))
	for k, v := range m.state.explanations {
		out[k] = v
	}
	return out
}

// TransformedLen decodes the job's transformedResult and returns its length.
func (m *Memory) TransformedLen(id uuid.UUID) int {
	j, ok := m.Job(id)
	if !ok || len(j.TransformedResult) == 0 {
		return 0
	}
	var items []json.RawMessage
	if err := json.Unmarshal(j.TransformedResult, &items); err != nil {
		return -1
	}
	return len(items)
}
