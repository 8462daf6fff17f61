package model

import (
	"errors"

	"github.com/google/uuid"
)

// Task types
const (
	TaskTypeScan      = "scan:run"
	TaskTypeAIScoring = "ai:priority-scoring"
)

// ScanJobPayload is the scan-queue message
type ScanJobPayload struct {
	URL      string      `json:"url"`
	Options  ScanOptions `json:"options"`
	JobDBID  uuid.UUID   `json:"jobDbId"`
	StatusID string      `json:"statusId"`
}

func (p ScanJobPayload) TaskType() string { return TaskTypeScan }

// DedupKey keeps one scan task per job record.
func (p ScanJobPayload) DedupKey() string { return "scan:" + p.JobDBID.String() }

func (p ScanJobPayload) Validate() error {
	if p.URL == "" {
		return errors.New("url is required")
	}
	if p.JobDBID == uuid.Nil {
		return errors.New("jobDbId is required")
	}
	return nil
}

// AIJobPayload is the ai-queue message. Violations are re-read from the store.
type AIJobPayload struct {
	ScanJobID string    `json:"scanJobId"`
	JobDBID   uuid.UUID `json:"jobDbId"`
	URL       string    `json:"url"`
	StatusID  string    `json:"statusId"`
}

func (p AIJobPayload) TaskType() string { return TaskTypeAIScoring }

// DedupKey keeps one scoring task per job record.
func (p AIJobPayload) DedupKey() string { return "ai:" + p.JobDBID.String() }

func (p AIJobPayload) Validate() error {
	if p.JobDBID == uuid.Nil {
		return errors.New("jobDbId is required")
	}
	return nil
}
