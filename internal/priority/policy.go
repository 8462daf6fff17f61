// Package priority turns accessibility violations into weighted remediation scores.
package priority

import (
	"math"

	"github.com/beacon/pipeline/internal/model"
)

// Weights are expressed in percent so the weighted sum is exact for whole
// and half scores.
var Weights = struct {
	Impact, Reach, Frequency, LegalRisk, ReuseFactor, Effort float64
}{
	Impact:      25,
	Reach:       20,
	Frequency:   15,
	LegalRisk:   20,
	ReuseFactor: 10,
	Effort:      10,
}

// Bucket thresholds on the total score.
const (
	UrgentThreshold = 8.5
	HighThreshold   = 7
	MediumThreshold = 5
)

const (
	minFactor = 1
	maxFactor = 10
)

func clamp(score float64) float64 {
	if math.IsNaN(score) {
		return minFactor
	}
	return math.Max(minFactor, math.Min(maxFactor, score))
}

// WeightedScore is the unrounded weighted sum of the factors, each clamped to [1,10].
func WeightedScore(f model.Factors) float64 {
	sum := clamp(f.Impact.Score)*Weights.Impact +
		clamp(f.Reach.Score)*Weights.Reach +
		clamp(f.Frequency.Score)*Weights.Frequency +
		clamp(f.LegalRisk.Score)*Weights.LegalRisk +
		clamp(f.ReuseFactor.Score)*Weights.ReuseFactor +
		clamp(f.Effort.Score)*Weights.Effort
	return sum / 100
}

// TotalScore rounds the weighted sum to the nearest integer, halves up.
func TotalScore(f model.Factors) int {
	return int(math.Round(WeightedScore(f)))
}

func Bucket(score float64) model.Priority {
	switch {
	case score >= UrgentThreshold:
		return model.PriorityUrgent
	case score >= HighThreshold:
		return model.PriorityHigh
	case score >= MediumThreshold:
		return model.PriorityMedium
	default:
		return model.PriorityLow
	}
}

// ImpactScore is the fallback impact factor for an impact level.
func ImpactScore(impact model.Impact) float64 {
	switch impact {
	case model.ImpactCritical:
		return 10
	case model.ImpactSerious:
		return 8
	case model.ImpactModerate:
		return 6
	case model.ImpactMinor:
		return 4
	default:
		return 5
	}
}

// DefaultFactors depends on impact alone so the fallback is deterministic.
func DefaultFactors(impact model.Impact) model.Factors {
	return model.Factors{
		Impact:      model.Factor{Score: ImpactScore(impact), Reasoning: string(impact) + " impact violation"},
		Reach:       model.Factor{Score: 5, Reasoning: "Default reach estimate"},
		Frequency:   model.Factor{Score: 5, Reasoning: "Default frequency estimate"},
		LegalRisk:   model.Factor{Score: 6, Reasoning: "Standard compliance risk"},
		ReuseFactor: model.Factor{Score: 5, Reasoning: "Moderate reuse potential"},
		Effort:      model.Factor{Score: 7, Reasoning: "Estimated medium effort"},
	}
}

// DefaultScore is used whenever the scoring provider cannot score a violation.
func DefaultScore(v *model.Violation) model.ViolationScore {
	factors := DefaultFactors(v.Impact)
	total := TotalScore(factors)
	return model.ViolationScore{
		ID:                      v.ID,
		RuleID:                  v.RuleID,
		Factors:                 factors,
		TotalScore:              total,
		Recommendation:          "Fix the " + v.RuleID + " issue",
		Explanation:             "This affects users with disabilities",
		DetailedExplanation:     "This issue creates barriers for some users",
		TechnicalRecommendation: v.Help,
		Priority:                Bucket(float64(total)),
		Fallback:                true,
	}
}
