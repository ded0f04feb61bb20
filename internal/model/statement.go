package model

import (
	"crypto/sha256"
	"fmt"
	"time"
)

// ProcessingStatus tracks a statement through the import pipeline.
type ProcessingStatus string

// Processing status constants.
const (
	ProcessingPending    ProcessingStatus = "pending"
	ProcessingProcessing ProcessingStatus = "processing"
	ProcessingCompleted  ProcessingStatus = "completed"
	ProcessingFailed     ProcessingStatus = "failed"
	ProcessingCancelled  ProcessingStatus = "cancelled"
)

// StatementSource records where a statement came from.
type StatementSource string

// Statement sources.
const (
	SourceManual StatementSource = "manual"
	SourceOFX    StatementSource = "ofx"
	SourcePlaid  StatementSource = "plaid"
	SourceAPI    StatementSource = "api"
)

// BankStatement is one immutable import unit for an account and period.
type BankStatement struct {
	StatementDate    time.Time         `json:"statement_date"`
	PeriodStart      time.Time         `json:"period_start"`
	PeriodEnd        time.Time         `json:"period_end"`
	CreatedAt        time.Time         `json:"created_at"`
	ProcessedAt      *time.Time        `json:"processed_at,omitempty"`
	ID               string            `json:"id"`
	AccountID        string            `json:"account_id"`
	OrganizationID   string            `json:"organization_id"`
	StatementNumber  string            `json:"statement_number"`
	Currency         string            `json:"currency"`
	IntegrityHash    string            `json:"integrity_hash"`
	ProcessingStatus ProcessingStatus  `json:"processing_status"`
	Source           StatementSource   `json:"source"`
	ImportedBy       string            `json:"imported_by,omitempty"`
	ValidationErrors []ValidationError `json:"validation_errors,omitempty"`
	OpeningBalance   float64           `json:"opening_balance"`
	ClosingBalance   float64           `json:"closing_balance"`
	TransactionCount int               `json:"transaction_count"`
}

// StatementData is the external, not yet validated shape of a statement.
type StatementData struct {
	StatementDate   time.Time         `json:"statement_date"`
	PeriodStart     time.Time         `json:"period_start"`
	PeriodEnd       time.Time         `json:"period_end"`
	StatementNumber string            `json:"statement_number"`
	Currency        string            `json:"currency"`
	Source          StatementSource   `json:"source,omitempty"`
	Transactions    []TransactionData `json:"transactions"`
	OpeningBalance  float64           `json:"opening_balance"`
	ClosingBalance  float64           `json:"closing_balance"`
}

// IntegrityHash digests the statement metadata used for duplicate detection.
func (d *StatementData) IntegrityHash() string {
	data := fmt.Sprintf("%s|%s|%.2f|%.2f|%d",
		d.StatementNumber,
		d.StatementDate.Format("2006-01-02"),
		d.OpeningBalance,
		d.ClosingBalance,
		len(d.Transactions))
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}

// ValidationError describes one rejected input, either the statement itself
// (Row is -1) or a single transaction row.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Row     int    `json:"row"`
}

func (e ValidationError) Error() string {
	if e.Row >= 0 {
		return fmt.Sprintf("row %d: %s: %s", e.Row, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}
