// Package model defines the core data structures for the reconciliation engine.
package model

import "time"

// BankAccount is an external bank account reconciled against a ledger account.
// Balances are snapshots owned by the external ledger and are never enforced here.
type BankAccount struct {
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
	ID               string    `json:"id"`
	OrganizationID   string    `json:"organization_id"`
	Name             string    `json:"name"`
	AccountNumber    string    `json:"account_number"`
	BankName         string    `json:"bank_name"`
	Currency         string    `json:"currency"`
	LedgerAccountID  string    `json:"ledger_account_id"`
	RuleSetID        string    `json:"rule_set_id,omitempty"`
	OpeningBalance   float64   `json:"opening_balance"`
	CurrentBalance   float64   `json:"current_balance"`
	AvailableBalance float64   `json:"available_balance"`
	AutoReconcile    bool      `json:"auto_reconcile"`
	IsActive         bool      `json:"is_active"`
}

// AccountFilter narrows account listings.
type AccountFilter struct {
	OrganizationID string
	Currency       string
	ActiveOnly     bool
	Limit          int
	Offset         int
}
