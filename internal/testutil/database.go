// Package testutil provides test utilities for the reconciliation engine.
// It offers in-memory databases and fluent builders for seeding accounts,
// statements, ledger entries and rules.
package testutil

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/Veraticus/the-books-must-balance/internal/model"
	"github.com/Veraticus/the-books-must-balance/internal/service"
	"github.com/Veraticus/the-books-must-balance/internal/storage"
)

// DefaultOrg is the organization used by seeded fixtures.
const DefaultOrg = "org-test"

// TestDB represents a test database with associated test utilities.
type TestDB struct {
	Storage *storage.SQLiteStorage
	t       *testing.T
}

// TestDBOptions provides configuration options for test database setup.
type TestDBOptions struct {
	CustomSetup    func(context.Context, service.Repository) error
	SkipMigrations bool
}

// SetupTestDB creates a new migrated in-memory database that is closed on cleanup.
//
// Example:
//
//	db := testutil.SetupTestDB(t)
//	account := db.SeedAccount("ledger-1")
func SetupTestDB(t *testing.T) *TestDB {
	t.Helper()
	return SetupTestDBWithOptions(t, TestDBOptions{})
}

// SetupTestDBWithOptions creates a test database with custom options.
func SetupTestDBWithOptions(t *testing.T, opts TestDBOptions) *TestDB {
	t.Helper()

	store, err := storage.NewSQLiteStorage(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	ctx := context.Background()

	if !opts.SkipMigrations {
		if err := store.Migrate(ctx); err != nil {
			t.Fatalf("failed to run migrations: %v", err)
		}
	}

	if opts.CustomSetup != nil {
		if err := opts.CustomSetup(ctx, store); err != nil {
			t.Fatalf("custom setup failed: %v", err)
		}
	}

	t.Cleanup(func() {
		_ = store.Close()
	})

	return &TestDB{Storage: store, t: t}
}

// SeedAccount creates an active account in DefaultOrg linked to ledgerAccountID.
func (db *TestDB) SeedAccount(ledgerAccountID string) *model.BankAccount {
	db.t.Helper()
	account := &model.BankAccount{
		OrganizationID:  DefaultOrg,
		Name:            "Operating " + ledgerAccountID,
		Currency:        "USD",
		LedgerAccountID: ledgerAccountID,
		IsActive:        true,
	}
	if err := db.Storage.CreateAccount(context.Background(), account); err != nil {
		db.t.Fatalf("failed to seed account: %v", err)
	}
	return account
}

// SeedStatement stores a completed statement with the given lines.
func (db *TestDB) SeedStatement(account *model.BankAccount, number string, lines ...model.TransactionData) (*model.BankStatement, []model.BankTransaction) {
	db.t.Helper()
	ctx := context.Background()

	data := model.StatementData{
		StatementDate:   time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
		StatementNumber: number,
		Currency:        account.Currency,
		Transactions:    lines,
	}
	statement := &model.BankStatement{
		StatementDate:    data.StatementDate,
		AccountID:        account.ID,
		OrganizationID:   account.OrganizationID,
		StatementNumber:  number,
		Currency:         account.Currency,
		IntegrityHash:    data.IntegrityHash(),
		ProcessingStatus: model.ProcessingCompleted,
		Source:           model.SourceManual,
		TransactionCount: len(lines),
	}
	if err := db.Storage.CreateStatement(ctx, statement); err != nil {
		db.t.Fatalf("failed to seed statement: %v", err)
	}

	for _, line := range lines {
		txnType := line.TransactionType
		if txnType == "" {
			txnType = model.TypeCredit
			if line.Amount < 0 {
				txnType = model.TypeDebit
			}
		}
		txn := &model.BankTransaction{
			TransactionDate: line.TransactionDate,
			StatementID:     statement.ID,
			AccountID:       account.ID,
			Description:     line.Description,
			Reference:       line.Reference,
			TransactionType: txnType,
			Amount:          math.Abs(line.Amount),
		}
		if err := db.Storage.InsertTransaction(ctx, txn); err != nil {
			db.t.Fatalf("failed to seed transaction: %v", err)
		}
	}

	txns, err := db.Storage.ListTransactionsByStatement(ctx, statement.ID)
	if err != nil {
		db.t.Fatalf("failed to reload transactions: %v", err)
	}
	return statement, txns
}

// SeedLedger stores ledger entries under ledgerAccountID.
func (db *TestDB) SeedLedger(ledgerAccountID string, entries ...model.LedgerEntry) []model.LedgerEntry {
	db.t.Helper()
	ctx := context.Background()
	for i := range entries {
		entries[i].LedgerAccountID = ledgerAccountID
		if entries[i].OrganizationID == "" {
			entries[i].OrganizationID = DefaultOrg
		}
		if err := db.Storage.InsertLedgerEntry(ctx, &entries[i]); err != nil {
			db.t.Fatalf("failed to seed ledger entry: %v", err)
		}
	}
	return entries
}

// SeedRules stores the given rules.
func (db *TestDB) SeedRules(rules ...*model.ReconciliationRule) {
	db.t.Helper()
	for _, rule := range rules {
		if err := db.Storage.CreateRule(context.Background(), rule); err != nil {
			db.t.Fatalf("failed to seed rule %q: %v", rule.Name, err)
		}
	}
}
