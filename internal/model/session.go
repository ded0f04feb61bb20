package model

import (
	"time"

	"github.com/Veraticus/the-books-must-balance/internal/common"
)

// SessionStatus is the reconciliation session state.
type SessionStatus string

// Session states. A session moves draft -> in_progress -> one of the terminal states.
const (
	SessionDraft          SessionStatus = "draft"
	SessionInProgress     SessionStatus = "in_progress"
	SessionCompleted      SessionStatus = "completed"
	SessionReviewRequired SessionStatus = "review_required"
	SessionCancelled      SessionStatus = "cancelled"
)

// IsTerminal reports whether no further transition is allowed.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionCompleted || s == SessionReviewRequired || s == SessionCancelled
}

// CanTransition reports whether the state machine allows s -> next.
func (s SessionStatus) CanTransition(next SessionStatus) bool {
	switch s {
	case SessionDraft:
		return next == SessionInProgress || next == SessionCancelled
	case SessionInProgress:
		return next == SessionCompleted || next == SessionReviewRequired || next == SessionCancelled
	}
	return false
}

// ReconciliationOptions tune a single reconciliation run.
type ReconciliationOptions struct {
	ConfidenceThreshold float64 `json:"confidence_threshold" mapstructure:"confidence_threshold"`
	AmountTolerance     float64 `json:"amount_tolerance" mapstructure:"amount_tolerance"`
	DateTolerance       int     `json:"date_tolerance" mapstructure:"date_tolerance"`
	BatchSize           int     `json:"batch_size" mapstructure:"batch_size"`
	RequireManualReview bool    `json:"require_manual_review" mapstructure:"require_manual_review"`
}

// Limits for reconciliation options.
const (
	MaxAmountTolerance = 1_000_000
	MaxDateTolerance   = 365
	MaxBatchSize       = 10_000
)

// Validate checks the options against their declared ranges.
func (o ReconciliationOptions) Validate() error {
	switch {
	case o.ConfidenceThreshold < 0 || o.ConfidenceThreshold > 1:
		return common.NewFieldError("confidence_threshold", "must be between 0 and 1")
	case o.AmountTolerance < 0 || o.AmountTolerance > MaxAmountTolerance:
		return common.NewFieldError("amount_tolerance", "must be between 0 and 1000000")
	case o.DateTolerance < 0 || o.DateTolerance > MaxDateTolerance:
		return common.NewFieldError("date_tolerance", "must be between 0 and 365 days")
	case o.BatchSize < 1 || o.BatchSize > MaxBatchSize:
		return common.NewFieldError("batch_size", "must be between 1 and 10000")
	}
	return nil
}

// ReconciliationSession is one reconciliation attempt over an account and statement.
type ReconciliationSession struct {
	StartedAt             time.Time             `json:"started_at"`
	CompletedAt           *time.Time            `json:"completed_at,omitempty"`
	ID                    string                `json:"id"`
	OrganizationID        string                `json:"organization_id"`
	AccountID             string                `json:"account_id"`
	StatementID           string                `json:"statement_id"`
	Status                SessionStatus         `json:"status"`
	Notes                 string                `json:"notes,omitempty"`
	CreatedBy             string                `json:"created_by,omitempty"`
	Options               ReconciliationOptions `json:"options"`
	TotalTransactions     int                   `json:"total_transactions"`
	MatchedTransactions   int                   `json:"matched_transactions"`
	UnmatchedTransactions int                   `json:"unmatched_transactions"`
	VarianceAmount        float64               `json:"variance_amount"`
}

// SessionFilter narrows session history listings.
type SessionFilter struct {
	Since          *time.Time
	Until          *time.Time
	OrganizationID string
	AccountID      string
	Status         SessionStatus
	Limit          int
	Offset         int
}
