package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// ExpectedSchemaVersion is the latest schema version that the application expects.
// If the database cannot be migrated to this version, it's a fatal error.
const ExpectedSchemaVersion = 4

// Migration represents a database schema migration.
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

func execAll(tx *sql.Tx, queries []string) error {
	for _, query := range queries {
		if _, err := tx.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query '%s': %w", query, err)
		}
	}
	return nil
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Initial schema",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, []string{
				`CREATE TABLE IF NOT EXISTS bank_accounts (
					id TEXT PRIMARY KEY,
					organization_id TEXT NOT NULL,
					name TEXT NOT NULL,
					account_number TEXT,
					bank_name TEXT,
					currency TEXT NOT NULL,
					opening_balance REAL NOT NULL DEFAULT 0,
					current_balance REAL NOT NULL DEFAULT 0,
					available_balance REAL NOT NULL DEFAULT 0,
					ledger_account_id TEXT,
					auto_reconcile BOOLEAN NOT NULL DEFAULT 0,
					rule_set_id TEXT,
					is_active BOOLEAN NOT NULL DEFAULT 1,
					created_at DATETIME NOT NULL,
					updated_at DATETIME NOT NULL
				)`,
				`CREATE INDEX idx_bank_accounts_org ON bank_accounts(organization_id)`,

				`CREATE TABLE IF NOT EXISTS bank_statements (
					id TEXT PRIMARY KEY,
					account_id TEXT NOT NULL,
					organization_id TEXT NOT NULL,
					statement_number TEXT NOT NULL,
					statement_date DATETIME NOT NULL,
					period_start DATETIME,
					period_end DATETIME,
					opening_balance REAL NOT NULL DEFAULT 0,
					closing_balance REAL NOT NULL DEFAULT 0,
					currency TEXT,
					transaction_count INTEGER NOT NULL DEFAULT 0,
					integrity_hash TEXT NOT NULL,
					processing_status TEXT NOT NULL,
					validation_errors TEXT,
					source TEXT,
					imported_by TEXT,
					created_at DATETIME NOT NULL,
					processed_at DATETIME,
					FOREIGN KEY (account_id) REFERENCES bank_accounts(id)
				)`,
				`CREATE UNIQUE INDEX idx_bank_statements_number ON bank_statements(account_id, statement_number)`,

				`CREATE TABLE IF NOT EXISTS bank_transactions (
					id TEXT PRIMARY KEY,
					statement_id TEXT NOT NULL,
					account_id TEXT NOT NULL,
					transaction_date DATETIME NOT NULL,
					value_date DATETIME,
					description TEXT NOT NULL,
					reference TEXT,
					amount REAL NOT NULL,
					transaction_type TEXT,
					category TEXT,
					balance REAL,
					is_reconciled BOOLEAN NOT NULL DEFAULT 0,
					matched_transaction_id TEXT,
					confidence_score REAL,
					created_at DATETIME NOT NULL,
					FOREIGN KEY (statement_id) REFERENCES bank_statements(id)
				)`,
				`CREATE INDEX idx_bank_transactions_statement ON bank_transactions(statement_id)`,
				`CREATE INDEX idx_bank_transactions_reconciled ON bank_transactions(is_reconciled)`,

				`CREATE TABLE IF NOT EXISTS ledger_entries (
					id TEXT PRIMARY KEY,
					ledger_account_id TEXT NOT NULL,
					organization_id TEXT NOT NULL,
					entry_number TEXT NOT NULL,
					entry_date DATETIME NOT NULL,
					description TEXT,
					reference TEXT,
					total REAL NOT NULL
				)`,
				`CREATE INDEX idx_ledger_entries_account ON ledger_entries(ledger_account_id)`,
			})
		},
	},
	{
		Version:     2,
		Description: "Add reconciliation rules",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, []string{
				`CREATE TABLE IF NOT EXISTS reconciliation_rules (
					id TEXT PRIMARY KEY,
					organization_id TEXT NOT NULL,
					name TEXT NOT NULL,
					description TEXT,
					priority INTEGER NOT NULL DEFAULT 0,
					is_active BOOLEAN NOT NULL DEFAULT 1,
					auto_approve BOOLEAN NOT NULL DEFAULT 0,
					confidence_threshold REAL NOT NULL DEFAULT 0,
					min_confidence REAL NOT NULL DEFAULT 0,
					criteria TEXT NOT NULL,
					amount_tolerance REAL NOT NULL DEFAULT 0,
					date_tolerance INTEGER NOT NULL DEFAULT 0,
					description_similarity REAL NOT NULL DEFAULT 0,
					created_by TEXT,
					created_at DATETIME NOT NULL
				)`,
				`CREATE INDEX idx_reconciliation_rules_active ON reconciliation_rules(organization_id, is_active, priority)`,
			})
		},
	},
	{
		Version:     3,
		Description: "Add sessions and matches",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, []string{
				`CREATE TABLE IF NOT EXISTS reconciliation_sessions (
					id TEXT PRIMARY KEY,
					organization_id TEXT NOT NULL,
					account_id TEXT NOT NULL,
					statement_id TEXT NOT NULL,
					status TEXT NOT NULL,
					options TEXT,
					total_transactions INTEGER NOT NULL DEFAULT 0,
					matched_transactions INTEGER NOT NULL DEFAULT 0,
					unmatched_transactions INTEGER NOT NULL DEFAULT 0,
					variance_amount REAL NOT NULL DEFAULT 0,
					notes TEXT,
					created_by TEXT,
					started_at DATETIME NOT NULL,
					completed_at DATETIME
				)`,
				`CREATE INDEX idx_reconciliation_sessions_account ON reconciliation_sessions(account_id, started_at)`,
				`CREATE INDEX idx_reconciliation_sessions_org ON reconciliation_sessions(organization_id, started_at)`,

				`CREATE TABLE IF NOT EXISTS reconciliation_matches (
					id TEXT PRIMARY KEY,
					session_id TEXT NOT NULL,
					rule_id TEXT,
					bank_transaction_id TEXT NOT NULL,
					ledger_transaction_id TEXT NOT NULL,
					confidence_score REAL NOT NULL,
					matched_criteria TEXT,
					status TEXT NOT NULL,
					amount_difference REAL NOT NULL DEFAULT 0,
					date_difference_days INTEGER NOT NULL DEFAULT 0,
					reviewed_by TEXT,
					reviewed_at DATETIME,
					review_notes TEXT,
					created_at DATETIME NOT NULL,
					FOREIGN KEY (session_id) REFERENCES reconciliation_sessions(id)
				)`,
				`CREATE INDEX idx_reconciliation_matches_session ON reconciliation_matches(session_id)`,
				`CREATE INDEX idx_reconciliation_matches_status ON reconciliation_matches(status)`,
			})
		},
	},
	{
		Version:     4,
		Description: "Add summaries and insights",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, []string{
				`CREATE TABLE IF NOT EXISTS reconciliation_summaries (
					session_id TEXT PRIMARY KEY,
					payload TEXT NOT NULL,
					reconciliation_rate REAL NOT NULL,
					variance_amount REAL NOT NULL,
					generated_at DATETIME NOT NULL,
					FOREIGN KEY (session_id) REFERENCES reconciliation_sessions(id)
				)`,
				`CREATE TABLE IF NOT EXISTS reconciliation_insights (
					id TEXT PRIMARY KEY,
					organization_id TEXT NOT NULL,
					account_id TEXT,
					period TEXT NOT NULL,
					payload TEXT NOT NULL,
					generated_at DATETIME NOT NULL
				)`,
				`CREATE INDEX idx_reconciliation_insights_org ON reconciliation_insights(organization_id, generated_at)`,
			})
		},
	},
}

// Migrate applies all pending database migrations.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	var currentVersion int
	err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return fmt.Errorf("failed to begin transaction: %w", txErr)
		}

		if upErr := migration.Up(tx); upErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", migration.Version, upErr)
		}

		if _, execErr := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", migration.Version)); execErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to update schema version: %w", execErr)
		}

		if commitErr := tx.Commit(); commitErr != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, commitErr)
		}

		slog.Info("Applied migration",
			"version", migration.Version,
			"description", migration.Description)
	}

	var finalVersion int
	err = s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&finalVersion)
	if err != nil {
		return fmt.Errorf("failed to verify final schema version: %w", err)
	}

	if finalVersion != ExpectedSchemaVersion {
		return fmt.Errorf("database schema version mismatch: expected %d, got %d", ExpectedSchemaVersion, finalVersion)
	}

	return nil
}

// SchemaVersion reports the current PRAGMA user_version.
func (s *SQLiteStorage) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, wrapDB("get schema version", err)
	}
	return version, nil
}
