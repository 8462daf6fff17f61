package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/beacon/pipeline/internal/model"
	"github.com/google/uuid"
)

// StatusStore reads and writes status cache entries and scoring result blobs.
type StatusStore struct {
	cache     Cache
	ttl       time.Duration
	resultTTL time.Duration
}

func NewStatusStore(c Cache, ttl, resultTTL time.Duration) *StatusStore {
	return &StatusStore{cache: c, ttl: ttl, resultTTL: resultTTL}
}

// Set writes the status entry with the default TTL.
func (s *StatusStore) Set(ctx context.Context, statusID string, p model.Progress) error {
	return s.SetWithTTL(ctx, statusID, p, s.ttl)
}

func (s *StatusStore) SetWithTTL(ctx context.Context, statusID string, p model.Progress, ttl time.Duration) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}
	if err := s.cache.Set(ctx, StatusKey(statusID), data, ttl); err != nil {
		return fmt.Errorf("set status %s: %w", statusID, err)
	}
	return nil
}

// Get returns nil when the entry is absent or expired.
func (s *StatusStore) Get(ctx context.Context, statusID string) (*model.Progress, error) {
	data, found, err := s.cache.Get(ctx, StatusKey(statusID))
	if err != nil {
		return nil, fmt.Errorf("get status %s: %w", statusID, err)
	}
	if !found {
		return nil, nil
	}
	var p model.Progress
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode status %s: %w", statusID, err)
	}
	return &p, nil
}

func (s *StatusStore) Delete(ctx context.Context, statusID string) error {
	return s.cache.Delete(ctx, StatusKey(statusID))
}

// SetResult stores the short-lived scoring result for a job.
func (s *StatusStore) SetResult(ctx context.Context, jobID uuid.UUID, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	return s.cache.Set(ctx, ResultKey(jobID), data, s.resultTTL)
}

// GetResult returns the raw result blob, or nil when it has expired.
func (s *StatusStore) GetResult(ctx context.Context, jobID uuid.UUID) (json.RawMessage, error) {
	data, found, err := s.cache.Get(ctx, ResultKey(jobID))
	if err != nil || !found {
		return nil, err
	}
	return data, nil
}
