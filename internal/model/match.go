package model

import "time"

// MatchStatus is the review state of a match.
type MatchStatus string

// Match statuses.
const (
	MatchPending        MatchStatus = "pending"
	MatchAutoApproved   MatchStatus = "auto_approved"
	MatchApproved       MatchStatus = "approved"
	MatchRejected       MatchStatus = "rejected"
	MatchReviewRequired MatchStatus = "review_required"
)

// Valid reports whether s is a known status.
func (s MatchStatus) Valid() bool {
	switch s {
	case MatchPending, MatchAutoApproved, MatchApproved, MatchRejected, MatchReviewRequired:
		return true
	}
	return false
}

// IsAccepted reports whether the match counts as a confirmed reconciliation.
func (s MatchStatus) IsAccepted() bool {
	return s == MatchAutoApproved || s == MatchApproved
}

// Criteria names recorded on matches.
const (
	CriterionAmount      = "amount"
	CriterionDate        = "date"
	CriterionDescription = "description"
	CriterionReference   = "reference"
)

// ReconciliationMatch pairs a bank transaction with a ledger entry under a rule.
type ReconciliationMatch struct {
	CreatedAt           time.Time   `json:"created_at"`
	ReviewedAt          *time.Time  `json:"reviewed_at,omitempty"`
	ID                  string      `json:"id"`
	SessionID           string      `json:"session_id"`
	RuleID              string      `json:"rule_id"`
	BankTransactionID   string      `json:"bank_transaction_id"`
	LedgerTransactionID string      `json:"ledger_transaction_id"`
	Status              MatchStatus `json:"status"`
	ReviewedBy          string      `json:"reviewed_by,omitempty"`
	ReviewNotes         string      `json:"review_notes,omitempty"`
	MatchedCriteria     []string    `json:"matched_criteria"`
	ConfidenceScore     float64     `json:"confidence_score"`
	AmountDifference    float64     `json:"amount_difference"`
	DateDifferenceDays  int         `json:"date_difference_days"`
}

// MatchFilter narrows match listings.
type MatchFilter struct {
	SessionID      string
	OrganizationID string
	RuleID         string
	Status         MatchStatus
	MinConfidence  float64
	Limit          int
	Offset         int
}
