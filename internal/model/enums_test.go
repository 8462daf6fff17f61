package model_test

import (
	"testing"

	"github.com/beacon/pipeline/internal/model"
	"github.com/stretchr/testify/assert"
)

var pipelineOrder = []model.JobStatus{
	model.JobStatusPending,
	model.JobStatusScanning,
	model.JobStatusProcessingScreenshots,
	model.JobStatusScanComplete,
	model.JobStatusAIQueued,
	model.JobStatusAIProcessing,
	model.JobStatusCompleted,
}

func TestCanTransition_ForwardOnly(t *testing.T) {
	for i, from := range pipelineOrder {
		for j, to := range pipelineOrder {
			want := j >= i && !from.IsTerminal()
			assert.Equal(t, want, model.CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestCanTransition_FailedFromAnyNonTerminal(t *testing.T) {
	for _, from := range pipelineOrder {
		assert.Equal(t, !from.IsTerminal(), model.CanTransition(from, model.JobStatusFailed), from)
	}
}

func TestCanTransition_NothingLeavesTerminal(t *testing.T) {
	for _, to := range model.ValidJobStatuses {
		assert.False(t, model.CanTransition(model.JobStatusCompleted, to))
		assert.False(t, model.CanTransition(model.JobStatusFailed, to))
	}
}

func TestCanTransition_UnknownStatus(t *testing.T) {
	assert.False(t, model.CanTransition("BOGUS", model.JobStatusScanning))
	assert.False(t, model.CanTransition(model.JobStatusPending, "BOGUS"))
}

func TestPredecessors(t *testing.T) {
	assert.Equal(t, []model.JobStatus{model.JobStatusPending, model.JobStatusScanning},
		model.Predecessors(model.JobStatusScanning))
	assert.Len(t, model.Predecessors(model.JobStatusFailed), 6)
	assert.Contains(t, model.Predecessors(model.JobStatusCompleted), model.JobStatusAIProcessing)
	assert.NotContains(t, model.Predecessors(model.JobStatusCompleted), model.JobStatusCompleted)
}

func TestParseImpact(t *testing.T) {
	tests := map[string]model.Impact{
		"critical":  model.ImpactCritical,
		"SERIOUS":   model.ImpactSerious,
		" moderate": model.ImpactModerate,
		"minor":     model.ImpactMinor,
		"":          model.ImpactUnknown,
		"trivial":   model.ImpactUnknown,
	}
	for in, want := range tests {
		assert.Equal(t, want, model.ParseImpact(in), in)
	}
}

func TestScanOptions_WithDefaults(t *testing.T) {
	on := true
	defaults := model.ScanOptions{
		Timeout:    60000,
		Tags:       []string{"wcag2a"},
		Viewport:   &model.Viewport{Width: 1920, Height: 1080},
		Screenshot: &on,
		OutputDir:  "./accessibility-reports",
	}

	got := model.ScanOptions{Timeout: 5000}.WithDefaults(defaults)

	assert.Equal(t, 5000, got.Timeout)
	assert.Equal(t, []string{"wcag2a"}, got.Tags)
	assert.Equal(t, 1920, got.Viewport.Width)
	assert.True(t, *got.Screenshot)
	assert.Equal(t, "./accessibility-reports", got.OutputDir)
}
