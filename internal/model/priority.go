package model

import "github.com/google/uuid"

// Factor is one weighted dimension of a priority score
type Factor struct {
	Score     float64 `json:"score"`
	Reasoning string  `json:"reasoning"`
}

// Factors holds the six scoring dimensions, each scored 1-10
type Factors struct {
	Impact      Factor `json:"impact"`
	Reach       Factor `json:"reach"`
	Frequency   Factor `json:"frequency"`
	LegalRisk   Factor `json:"legalRisk"`
	ReuseFactor Factor `json:"reuseFactor"`
	Effort      Factor `json:"effort"`
}

// ViolationScore is the scoring outcome for one violation
type ViolationScore struct {
	ID                      uuid.UUID `json:"id"`
	RuleID                  string    `json:"ruleId"`
	Factors                 Factors   `json:"factors"`
	TotalScore              int       `json:"totalScore"`
	Recommendation          string    `json:"recommendation"`
	Explanation             string    `json:"explanation"`
	DetailedExplanation     string    `json:"detailedExplanation"`
	TechnicalRecommendation string    `json:"technicalRecommendation"`
	Priority                Priority  `json:"priority"`
	Fallback                bool      `json:"fallback,omitempty"`
}

type PrioritySummary struct {
	TotalViolations int     `json:"totalViolations"`
	CriticalCount   int     `json:"criticalCount"`
	HighCount       int     `json:"highCount"`
	MediumCount     int     `json:"mediumCount"`
	LowCount        int     `json:"lowCount"`
	AverageScore    float64 `json:"averageScore"`
}

type Recommendations struct {
	Immediate []string `json:"immediate"`
	ShortTerm []string `json:"shortTerm"`
	LongTerm  []string `json:"longTerm"`
}

// TransformedViolation is the dashboard-facing view of a scored violation
type TransformedViolation struct {
	RuleID              string `json:"ruleId"`
	Explanation         string `json:"explanation"`
	DetailedExplanation string `json:"detailedExplanation"`
	Recommendation      string `json:"recommendation"`
	PriorityScore       int    `json:"priorityScore"`
}

// BatchPriorityResult is the scorer output for all violations of one job
type BatchPriorityResult struct {
	Violations        []ViolationScore       `json:"violations"`
	Summary           PrioritySummary        `json:"summary"`
	Recommendations   Recommendations        `json:"recommendations"`
	TransformedResult []TransformedViolation `json:"transformedResult"`
}

// ViolationContext describes the page the violations were found on
type ViolationContext struct {
	URL             string    `json:"url"`
	PageTitle       string    `json:"pageTitle,omitempty"`
	UserAgent       string    `json:"userAgent,omitempty"`
	Viewport        *Viewport `json:"viewport,omitempty"`
	Industry        string    `json:"industry,omitempty"`
	ComplianceLevel string    `json:"complianceLevel,omitempty"`
}

// JobPriority is stored on the job record after scoring
type JobPriority struct {
	Summary         PrioritySummary `json:"summary"`
	Recommendations Recommendations `json:"recommendations"`
}
