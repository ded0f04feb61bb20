// Package service defines the contracts shared between the reconciliation core
// and its collaborators.
package service

import (
	"context"

	"github.com/Veraticus/the-books-must-balance/internal/model"
)

// AccountStore covers bank account persistence.
type AccountStore interface {
	CreateAccount(ctx context.Context, account *model.BankAccount) error
	GetAccount(ctx context.Context, id string) (*model.BankAccount, error)
	ListAccounts(ctx context.Context, filter model.AccountFilter) ([]model.BankAccount, error)
}

// StatementStore covers statements and their transactions.
type StatementStore interface {
	GetStatement(ctx context.Context, id string) (*model.BankStatement, error)
	FindStatementByNumber(ctx context.Context, accountID, statementNumber string) (*model.BankStatement, error)
	CreateStatement(ctx context.Context, statement *model.BankStatement) error
	UpdateStatement(ctx context.Context, statement *model.BankStatement) error

	InsertTransaction(ctx context.Context, txn *model.BankTransaction) error
	ListTransactionsByStatement(ctx context.Context, statementID string) ([]model.BankTransaction, error)
	UpdateTransactionReconciled(ctx context.Context, id, ledgerEntryID string, confidence float64) error
}

// LedgerStore exposes the external ledger's entries.
type LedgerStore interface {
	ListLedgerEntriesForAccount(ctx context.Context, ledgerAccountID string) ([]model.LedgerEntry, error)
	InsertLedgerEntry(ctx context.Context, entry *model.LedgerEntry) error
}

// RuleStore covers reconciliation rules.
type RuleStore interface {
	ListActiveRules(ctx context.Context, organizationID string) ([]model.ReconciliationRule, error)
	CreateRule(ctx context.Context, rule *model.ReconciliationRule) error
}

// SessionStore covers sessions, matches, summaries and insights.
type SessionStore interface {
	CreateSession(ctx context.Context, session *model.ReconciliationSession) error
	UpdateSession(ctx context.Context, session *model.ReconciliationSession) error
	GetSession(ctx context.Context, id string) (*model.ReconciliationSession, error)
	ListSessions(ctx context.Context, filter model.SessionFilter) ([]model.ReconciliationSession, error)

	InsertMatch(ctx context.Context, match *model.ReconciliationMatch) error
	GetMatch(ctx context.Context, id string) (*model.ReconciliationMatch, error)
	ListMatches(ctx context.Context, filter model.MatchFilter) ([]model.ReconciliationMatch, error)
	UpdateMatchStatus(ctx context.Context, match *model.ReconciliationMatch) error

	InsertSummary(ctx context.Context, summary *model.ReconciliationSummary) error
	GetSummary(ctx context.Context, sessionID string) (*model.ReconciliationSummary, error)
	InsertInsights(ctx context.Context, insights *model.Insights) error
}

// Repository is the narrow persistence contract the reconciliation core requires.
// Implementations provide row-level atomicity for individual writes only.
type Repository interface {
	AccountStore
	StatementStore
	LedgerStore
	RuleStore
	SessionStore

	Ping(ctx context.Context) error
}
