package model

import "time"

// Outstanding item sides and priorities.
const (
	SideBank   = "bank"
	SideLedger = "ledger"

	PriorityHigh   = "high"
	PriorityMedium = "medium"
)

// OutstandingItem describes a transaction left unmatched after a run.
type OutstandingItem struct {
	Date          time.Time `json:"date"`
	Side          string    `json:"side"`
	TransactionID string    `json:"transaction_id"`
	Description   string    `json:"description"`
	Priority      string    `json:"priority"`
	Amount        float64   `json:"amount"`
	AgeDays       int       `json:"age_days"`
}

// ExceptionType names a detected anomaly.
type ExceptionType string

// Exception types.
const (
	ExceptionDuplicateTransaction ExceptionType = "duplicate_transaction"
	ExceptionLowConfidence        ExceptionType = "low_confidence_match"
	ExceptionLedgerMultiMatch     ExceptionType = "ledger_multi_match"
	ExceptionVariance             ExceptionType = "variance"
)

// Severity levels for exceptions.
const (
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

// ReconciliationException is an anomaly detected during a run.
type ReconciliationException struct {
	Type          ExceptionType `json:"type"`
	Severity      string        `json:"severity"`
	TransactionID string        `json:"transaction_id,omitempty"`
	Description   string        `json:"description"`
}

// ReconciliationSummary is the immutable result snapshot of a session.
type ReconciliationSummary struct {
	GeneratedAt               time.Time                 `json:"generated_at"`
	SessionID                 string                    `json:"session_id"`
	OutstandingItems          []OutstandingItem         `json:"outstanding_items"`
	Exceptions                []ReconciliationException `json:"exceptions"`
	TotalBankTransactions     int                       `json:"total_bank_transactions"`
	TotalLedgerTransactions   int                       `json:"total_ledger_transactions"`
	MatchedBankTransactions   int                       `json:"matched_bank_transactions"`
	MatchedLedgerTransactions int                       `json:"matched_ledger_transactions"`
	TotalBankAmount           float64                   `json:"total_bank_amount"`
	TotalLedgerAmount         float64                   `json:"total_ledger_amount"`
	MatchedAmount             float64                   `json:"matched_amount"`
	VarianceAmount            float64                   `json:"variance_amount"`
	ReconciliationRate        float64                   `json:"reconciliation_rate"`
}
