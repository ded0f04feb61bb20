package model

import "time"

// RuleCriteria selects which comparisons a rule applies.
type RuleCriteria struct {
	ReferencePatterns []string `json:"reference_patterns,omitempty"`
	MatchAmount       bool     `json:"match_amount"`
	MatchDate         bool     `json:"match_date"`
	MatchDescription  bool     `json:"match_description"`
	MatchReference    bool     `json:"match_reference"`
}

// ApplicableCount returns the number of enabled criteria.
func (c RuleCriteria) ApplicableCount() int {
	n := 0
	for _, on := range []bool{c.MatchAmount, c.MatchDate, c.MatchDescription, c.MatchReference} {
		if on {
			n++
		}
	}
	return n
}

// ReconciliationRule is a prioritized matcher configuration.
type ReconciliationRule struct {
	CreatedAt             time.Time    `json:"created_at"`
	ID                    string       `json:"id"`
	OrganizationID        string       `json:"organization_id"`
	Name                  string       `json:"name"`
	Description           string       `json:"description,omitempty"`
	CreatedBy             string       `json:"created_by,omitempty"`
	Criteria              RuleCriteria `json:"criteria"`
	Priority              int          `json:"priority"`
	DateTolerance         int          `json:"date_tolerance"`
	AmountTolerance       float64      `json:"amount_tolerance"`
	DescriptionSimilarity float64      `json:"description_similarity"`
	MinConfidence         float64      `json:"min_confidence"`
	ConfidenceThreshold   float64      `json:"confidence_threshold"`
	AutoApprove           bool         `json:"auto_approve"`
	IsActive              bool         `json:"is_active"`
}
