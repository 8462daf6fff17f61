package priority

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/beacon/pipeline/internal/model"
)

const systemPrompt = `You are an accessibility expert. Score each violation on six factors, each 1-10:
impact, reach, frequency, legalRisk, reuseFactor, effort (10 = very easy to fix).
Return ONLY a JSON array with one object per violation, in the order given. No markdown.`

type sampleNode struct {
	HTML           string          `json:"html"`
	Target         json.RawMessage `json:"target"`
	FailureSummary string          `json:"failureSummary"`
}

func buildPrompt(batch []*model.Violation, vc *model.ViolationContext) string {
	var b strings.Builder
	if vc != nil {
		fmt.Fprintf(&b, "Page: %s\n", vc.URL)
		if vc.PageTitle != "" {
			fmt.Fprintf(&b, "Title: %s\n", vc.PageTitle)
		}
		level := vc.ComplianceLevel
		if level == "" {
			level = "AA"
		}
		fmt.Fprintf(&b, "Compliance target: WCAG %s\n", level)
		if vc.Industry != "" {
			fmt.Fprintf(&b, "Industry: %s\n", vc.Industry)
		}
		b.WriteString("\n")
	}

	for i, v := range batch {
		var nodes []sampleNode
		_ = json.Unmarshal(v.Nodes, &nodes)
		fmt.Fprintf(&b, "Violation %d:\n- ruleId: %s\n- impact: %s\n- description: %s\n- help: %s\n- elements affected: %d\n",
			i+1, v.RuleID, v.Impact, v.Description, v.Help, len(nodes))
		if len(nodes) > 0 {
			fmt.Fprintf(&b, "- sample element: %s\n- sample target: %s\n", nodes[0].HTML, nodes[0].Target)
		}
		b.WriteString("\n")
	}

	b.WriteString(`Each object: {"violationId": string, "factors": {"impact": {"score": number, "reasoning": string}, ` +
		`"reach": {...}, "frequency": {...}, "legalRisk": {...}, "reuseFactor": {...}, "effort": {...}}, ` +
		`"recommendation": string, "explanation": string, "detailedExplanation": string, "technicalRecommendation": string}`)
	return b.String()
}

type llmScore struct {
	ViolationID string `json:"violationId"`
	Factors     struct {
		Impact      model.Factor  `json:"impact"`
		Reach       model.Factor  `json:"reach"`
		Frequency   model.Factor  `json:"frequency"`
		LegalRisk   model.Factor  `json:"legalRisk"`
		ReuseFactor *model.Factor `json:"reuseFactor"`
		// Older prompts asked for this misspelled key.
		ReuseFactory *model.Factor `json:"reuseFactory"`
		Effort       model.Factor  `json:"effort"`
	} `json:"factors"`
	Recommendation          string `json:"recommendation"`
	Explanation             string `json:"explanation"`
	DetailedExplanation     string `json:"detailedExplanation"`
	TechnicalRecommendation string `json:"technicalRecommendation"`
}

func (s llmScore) factors() model.Factors {
	f := model.Factors{
		Impact:    s.Factors.Impact,
		Reach:     s.Factors.Reach,
		Frequency: s.Factors.Frequency,
		LegalRisk: s.Factors.LegalRisk,
		Effort:    s.Factors.Effort,
	}
	switch {
	case s.Factors.ReuseFactor != nil:
		f.ReuseFactor = *s.Factors.ReuseFactor
	case s.Factors.ReuseFactory != nil:
		f.ReuseFactor = *s.Factors.ReuseFactory
	}
	return f
}

var errLengthMismatch = errors.New("score count does not match violation count")

// parseResponse accepts a bare JSON array, one wrapped in a markdown code
// fence, or one encoded as a JSON string.
func parseResponse(text string, want int) ([]llmScore, error) {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
		text = strings.TrimSpace(text)
	}
	if strings.HasPrefix(text, `"`) {
		var inner string
		if err := json.Unmarshal([]byte(text), &inner); err != nil {
			return nil, fmt.Errorf("decode quoted response: %w", err)
		}
		text = inner
	}

	var scores []llmScore
	if err := json.Unmarshal([]byte(text), &scores); err != nil {
		return nil, fmt.Errorf("decode scores: %w", err)
	}
	if len(scores) != want {
		return nil, fmt.Errorf("%w: got %d, want %d", errLengthMismatch, len(scores), want)
	}
	return scores, nil
}
