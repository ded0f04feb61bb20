package model

import "time"

// TransactionType is the direction of a bank line.
type TransactionType string

// Transaction types.
const (
	TypeDebit  TransactionType = "debit"
	TypeCredit TransactionType = "credit"
)

// Category vocabulary used by statement auto-categorization.
const (
	CategoryTransfer   = "transfer"
	CategoryFee        = "fee"
	CategoryInterest   = "interest"
	CategoryPayment    = "payment"
	CategoryDeposit    = "deposit"
	CategoryWithdrawal = "withdrawal"
	CategoryOther      = "other"
)

// BankTransaction is a statement line. Only IsReconciled, MatchedTransactionID
// and ConfidenceScore change after import.
type BankTransaction struct {
	TransactionDate      time.Time       `json:"transaction_date"`
	CreatedAt            time.Time       `json:"created_at"`
	ValueDate            *time.Time      `json:"value_date,omitempty"`
	Balance              *float64        `json:"balance,omitempty"`
	ConfidenceScore      *float64        `json:"confidence_score,omitempty"`
	ID                   string          `json:"id"`
	StatementID          string          `json:"statement_id"`
	AccountID            string          `json:"account_id"`
	Description          string          `json:"description"`
	Reference            string          `json:"reference,omitempty"`
	TransactionType      TransactionType `json:"transaction_type"`
	Category             string          `json:"category,omitempty"`
	MatchedTransactionID string          `json:"matched_transaction_id,omitempty"`
	Amount               float64         `json:"amount"`
	IsReconciled         bool            `json:"is_reconciled"`
}

// TransactionData is one external statement row before validation.
type TransactionData struct {
	TransactionDate time.Time       `json:"transaction_date"`
	ValueDate       *time.Time      `json:"value_date,omitempty"`
	Balance         *float64        `json:"balance,omitempty"`
	Description     string          `json:"description"`
	Reference       string          `json:"reference,omitempty"`
	TransactionType TransactionType `json:"transaction_type,omitempty"`
	Category        string          `json:"category,omitempty"`
	Amount          float64         `json:"amount"`
}

// LedgerEntry is an internal ledger transaction owned by the external ledger.
type LedgerEntry struct {
	EntryDate       time.Time `json:"entry_date"`
	ID              string    `json:"id"`
	LedgerAccountID string    `json:"ledger_account_id"`
	OrganizationID  string    `json:"organization_id"`
	EntryNumber     string    `json:"entry_number"`
	Description     string    `json:"description"`
	Reference       string    `json:"reference,omitempty"`
	Total           float64   `json:"total"`
}
