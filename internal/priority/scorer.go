package priority

import (
	"context"
	"log/slog"
	"sort"

	"github.com/beacon/pipeline/internal/model"
)

const defaultBatchSize = 10

// Completer sends one chat completion to a language model.
type Completer interface {
	ChatCompletion(ctx context.Context, system, user string) (string, error)
}

// Scorer scores violations in batches through a Completer. Any batch the
// provider cannot score gets DefaultScore for each of its violations.
type Scorer struct {
	llm       Completer
	batchSize int
	log       *slog.Logger
}

// NewScorer returns a Scorer. A nil llm scores everything with defaults.
func NewScorer(llm Completer, batchSize int, log *slog.Logger) *Scorer {
	if batchSize < 1 {
		batchSize = defaultBatchSize
	}
	return &Scorer{llm: llm, batchSize: batchSize, log: log}
}

// Score never fails. Provider errors only degrade the batch to default scores.
func (s *Scorer) Score(ctx context.Context, violations []*model.Violation, vc *model.ViolationContext) model.BatchPriorityResult {
	if len(violations) == 0 {
		return emptyResult()
	}

	s.log.Info("scoring violations", "count", len(violations), "batch_size", s.batchSize)
	scores := make([]model.ViolationScore, 0, len(violations))
	for start := 0; start < len(violations); start += s.batchSize {
		end := min(start+s.batchSize, len(violations))
		scores = append(scores, s.scoreBatch(ctx, violations[start:end], vc)...)
	}
	return Summarize(scores)
}

func (s *Scorer) scoreBatch(ctx context.Context, batch []*model.Violation, vc *model.ViolationContext) []model.ViolationScore {
	if s.llm == nil {
		return defaults(batch)
	}

	text, err := s.llm.ChatCompletion(ctx, systemPrompt, buildPrompt(batch, vc))
	if err != nil {
		s.log.Warn("scoring provider failed, using default scores", "batch", len(batch), "error", err)
		return defaults(batch)
	}
	parsed, err := parseResponse(text, len(batch))
	if err != nil {
		s.log.Warn("unusable scoring response, using default scores", "batch", len(batch), "error", err)
		return defaults(batch)
	}

	out := make([]model.ViolationScore, len(batch))
	for i, v := range batch {
		p := parsed[i]
		factors := p.factors()
		total := TotalScore(factors)
		out[i] = model.ViolationScore{
			ID:                      v.ID,
			RuleID:                  v.RuleID,
			Factors:                 factors,
			TotalScore:              total,
			Recommendation:          orDefault(p.Recommendation, "Fix the "+v.RuleID+" issue"),
			Explanation:             orDefault(p.Explanation, "This affects users with disabilities"),
			DetailedExplanation:     orDefault(p.DetailedExplanation, "This issue creates barriers for some users"),
			TechnicalRecommendation: orDefault(p.TechnicalRecommendation, v.Help),
			Priority:                Bucket(float64(total)),
		}
	}
	return out
}

func defaults(batch []*model.Violation) []model.ViolationScore {
	out := make([]model.ViolationScore, len(batch))
	for i, v := range batch {
		out[i] = DefaultScore(v)
	}
	return out
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// Summarize orders scores by priority then total score and derives the
// summary, recommendations, and dashboard view.
func Summarize(scores []model.ViolationScore) model.BatchPriorityResult {
	if len(scores) == 0 {
		return emptyResult()
	}

	sorted := append([]model.ViolationScore(nil), scores...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if ri, rj := sorted[i].Priority.Rank(), sorted[j].Priority.Rank(); ri != rj {
			return ri > rj
		}
		return sorted[i].TotalScore > sorted[j].TotalScore
	})

	var summary model.PrioritySummary
	var total int
	for _, s := range sorted {
		total += s.TotalScore
		switch s.Priority {
		case model.PriorityUrgent:
			summary.CriticalCount++
		case model.PriorityHigh:
			summary.HighCount++
		case model.PriorityMedium:
			summary.MediumCount++
		default:
			summary.LowCount++
		}
	}
	summary.TotalViolations = len(sorted)
	summary.AverageScore = float64(total) / float64(len(sorted))

	recs := model.Recommendations{Immediate: []string{}, ShortTerm: []string{}, LongTerm: []string{}}
	transformed := make([]model.TransformedViolation, 0, len(sorted))
	for _, s := range sorted {
		switch {
		case s.Priority == model.PriorityUrgent && len(recs.Immediate) < 3:
			recs.Immediate = append(recs.Immediate, s.Recommendation)
		case s.Priority == model.PriorityHigh && len(recs.ShortTerm) < 5:
			recs.ShortTerm = append(recs.ShortTerm, s.Recommendation)
		case (s.Priority == model.PriorityMedium || s.Priority == model.PriorityLow) && len(recs.LongTerm) < 3:
			recs.LongTerm = append(recs.LongTerm, s.Recommendation)
		}
		transformed = append(transformed, model.TransformedViolation{
			RuleID:              s.RuleID,
			Explanation:         s.Explanation,
			DetailedExplanation: s.DetailedExplanation,
			Recommendation:      s.TechnicalRecommendation,
			PriorityScore:       s.TotalScore,
		})
	}

	return model.BatchPriorityResult{
		Violations:        sorted,
		Summary:           summary,
		Recommendations:   recs,
		TransformedResult: transformed,
	}
}

func emptyResult() model.BatchPriorityResult {
	return model.BatchPriorityResult{
		Violations:        []model.ViolationScore{},
		Recommendations:   model.Recommendations{Immediate: []string{}, ShortTerm: []string{}, LongTerm: []string{}},
		TransformedResult: []model.TransformedViolation{},
	}
}
