package model

import "strings"

// JobStatus is the lifecycle state of a scan job
type JobStatus string

const (
	JobStatusPending               JobStatus = "PENDING"
	JobStatusScanning              JobStatus = "SCANNING"
	JobStatusProcessingScreenshots JobStatus = "PROCESSING_SCREENSHOTS"
	JobStatusScanComplete          JobStatus = "SCAN_COMPLETE"
	JobStatusAIQueued              JobStatus = "AI_QUEUED"
	JobStatusAIProcessing          JobStatus = "AI_PROCESSING"
	JobStatusCompleted             JobStatus = "COMPLETED"
	JobStatusFailed                JobStatus = "FAILED"
)

// Pipeline order. FAILED sits outside the forward chain.
var statusRank = map[JobStatus]int{
	JobStatusPending:               0,
	JobStatusScanning:              1,
	JobStatusProcessingScreenshots: 2,
	JobStatusScanComplete:          3,
	JobStatusAIQueued:              4,
	JobStatusAIProcessing:          5,
	JobStatusCompleted:             6,
	JobStatusFailed:                7,
}

var ValidJobStatuses = []JobStatus{
	JobStatusPending, JobStatusScanning, JobStatusProcessingScreenshots,
	JobStatusScanComplete, JobStatusAIQueued, JobStatusAIProcessing,
	JobStatusCompleted, JobStatusFailed,
}

func (s JobStatus) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// Rank returns the position of s in the pipeline, or -1 for unknown values.
func (s JobStatus) Rank() int {
	if r, ok := statusRank[s]; ok {
		return r
	}
	return -1
}

func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// CanTransition reports whether a job may move from one status to another.
// Statuses only move forward (skipping is allowed), a non-terminal status may
// be rewritten with itself on redelivery, FAILED is reachable from every
// non-terminal status, and nothing leaves a terminal status.
func CanTransition(from, to JobStatus) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	if from.IsTerminal() {
		return false
	}
	if to == JobStatusFailed {
		return true
	}
	return to.Rank() >= from.Rank()
}

// Predecessors lists every status that may move to the given status.
func Predecessors(to JobStatus) []JobStatus {
	var out []JobStatus
	for _, s := range ValidJobStatuses {
		if CanTransition(s, to) {
			out = append(out, s)
		}
	}
	return out
}

// Impact is the axe-core impact level of a violation
type Impact string

const (
	ImpactMinor    Impact = "MINOR"
	ImpactModerate Impact = "MODERATE"
	ImpactSerious  Impact = "SERIOUS"
	ImpactCritical Impact = "CRITICAL"

	// ImpactUnknown is stored when axe reports no impact or one not listed above.
	ImpactUnknown Impact = "UNKNOWN"
)

// ParseImpact maps an axe impact ("critical", "serious", ...) to an Impact.
func ParseImpact(s string) Impact {
	switch Impact(strings.ToUpper(strings.TrimSpace(s))) {
	case ImpactCritical:
		return ImpactCritical
	case ImpactSerious:
		return ImpactSerious
	case ImpactModerate:
		return ImpactModerate
	case ImpactMinor:
		return ImpactMinor
	default:
		return ImpactUnknown
	}
}

// Priority is the remediation bucket derived from a priority score
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

var priorityRank = map[Priority]int{
	PriorityLow:    1,
	PriorityMedium: 2,
	PriorityHigh:   3,
	PriorityUrgent: 4,
}

func (p Priority) Rank() int {
	return priorityRank[p]
}
