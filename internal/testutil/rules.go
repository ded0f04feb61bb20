package testutil

import "github.com/Veraticus/the-books-must-balance/internal/model"

// RuleBuilder provides a fluent interface for constructing reconciliation rules.
//
// Example:
//
//	rule := testutil.NewRule("exact amount").
//		MatchAmount(0.01).
//		AutoApprove(0.9).
//		Build()
type RuleBuilder struct {
	rule model.ReconciliationRule
}

// NewRule starts an active rule in DefaultOrg with no criteria enabled.
func NewRule(name string) *RuleBuilder {
	return &RuleBuilder{rule: model.ReconciliationRule{
		OrganizationID: DefaultOrg,
		Name:           name,
		IsActive:       true,
	}}
}

// MatchAmount enables the amount criterion with the given tolerance.
func (b *RuleBuilder) MatchAmount(tolerance float64) *RuleBuilder {
	b.rule.Criteria.MatchAmount = true
	b.rule.AmountTolerance = tolerance
	return b
}

// MatchDate enables the date criterion with a tolerance in days.
func (b *RuleBuilder) MatchDate(days int) *RuleBuilder {
	b.rule.Criteria.MatchDate = true
	b.rule.DateTolerance = days
	return b
}

// MatchDescription enables the description criterion with a similarity threshold.
func (b *RuleBuilder) MatchDescription(similarity float64) *RuleBuilder {
	b.rule.Criteria.MatchDescription = true
	b.rule.DescriptionSimilarity = similarity
	return b
}

// MatchReference enables the reference criterion.
func (b *RuleBuilder) MatchReference() *RuleBuilder {
	b.rule.Criteria.MatchReference = true
	return b
}

// MinConfidence sets the acceptance floor.
func (b *RuleBuilder) MinConfidence(v float64) *RuleBuilder {
	b.rule.MinConfidence = v
	return b
}

// AutoApprove enables auto approval at the given threshold.
func (b *RuleBuilder) AutoApprove(threshold float64) *RuleBuilder {
	b.rule.AutoApprove = true
	b.rule.ConfidenceThreshold = threshold
	return b
}

// Priority sets the evaluation priority.
func (b *RuleBuilder) Priority(p int) *RuleBuilder {
	b.rule.Priority = p
	return b
}

// ID sets a fixed rule ID.
func (b *RuleBuilder) ID(id string) *RuleBuilder {
	b.rule.ID = id
	return b
}

// Inactive marks the rule inactive.
func (b *RuleBuilder) Inactive() *RuleBuilder {
	b.rule.IsActive = false
	return b
}

// Build returns a copy of the configured rule.
func (b *RuleBuilder) Build() *model.ReconciliationRule {
	rule := b.rule
	rule.Criteria.ReferencePatterns = append([]string(nil), b.rule.Criteria.ReferencePatterns...)
	return &rule
}
