package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/Veraticus/the-books-must-balance/internal/common"
	"github.com/Veraticus/the-books-must-balance/internal/model"
)

const statementColumns = `id, account_id, organization_id, statement_number, statement_date,
	period_start, period_end, opening_balance, closing_balance, currency, transaction_count,
	integrity_hash, processing_status, validation_errors, source, imported_by, created_at, processed_at`

// CreateStatement inserts a statement shell.
func (s *SQLiteStorage) CreateStatement(ctx context.Context, statement *model.BankStatement) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateStatement(statement); err != nil {
		return err
	}

	if statement.ID == "" {
		statement.ID = uuid.NewString()
	}
	if statement.CreatedAt.IsZero() {
		statement.CreatedAt = s.now()
	}

	errorsJSON, err := marshalJSON(statement.ValidationErrors)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO bank_statements (`+statementColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		statement.ID, statement.AccountID, statement.OrganizationID, statement.StatementNumber,
		statement.StatementDate, statement.PeriodStart, statement.PeriodEnd,
		statement.OpeningBalance, statement.ClosingBalance, statement.Currency,
		statement.TransactionCount, statement.IntegrityHash, string(statement.ProcessingStatus),
		errorsJSON, string(statement.Source), nullString(statement.ImportedBy),
		statement.CreatedAt, nullTime(statement.ProcessedAt),
	)
	if err != nil {
		return wrapDB("create statement", err)
	}

	return nil
}

// UpdateStatement attaches processing results to a statement. Only the
// processing fields are written; the imported metadata stays immutable.
func (s *SQLiteStorage) UpdateStatement(ctx context.Context, statement *model.BankStatement) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateStatement(statement); err != nil {
		return err
	}

	errorsJSON, err := marshalJSON(statement.ValidationErrors)
	if err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE bank_statements
		SET transaction_count = ?, processing_status = ?, validation_errors = ?, processed_at = ?
		WHERE id = ?`,
		statement.TransactionCount, string(statement.ProcessingStatus), errorsJSON,
		nullTime(statement.ProcessedAt), statement.ID,
	)
	if err != nil {
		return wrapDB("update statement", err)
	}

	return requireAffected(result, "statement", statement.ID)
}

// GetStatement retrieves a statement by ID.
func (s *SQLiteStorage) GetStatement(ctx context.Context, id string) (*model.BankStatement, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+statementColumns+` FROM bank_statements WHERE id = ?`, id)
	statement, err := scanStatement(row)
	if err != nil {
		return nil, notFound("statement", id, err)
	}
	return statement, nil
}

// FindStatementByNumber looks up a statement by account and statement number.
// It returns common.ErrNotFound when no statement exists.
func (s *SQLiteStorage) FindStatementByNumber(ctx context.Context, accountID, statementNumber string) (*model.BankStatement, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(accountID, "accountID"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+statementColumns+` FROM bank_statements WHERE account_id = ? AND statement_number = ?`,
		accountID, statementNumber)
	statement, err := scanStatement(row)
	if err != nil {
		return nil, notFound("statement", statementNumber, err)
	}
	return statement, nil
}

func scanStatement(row rowScanner) (*model.BankStatement, error) {
	var statement model.BankStatement
	var periodStart, periodEnd, processedAt sql.NullTime
	var currency, errorsJSON, source, importedBy sql.NullString
	var status string

	err := row.Scan(
		&statement.ID, &statement.AccountID, &statement.OrganizationID, &statement.StatementNumber,
		&statement.StatementDate, &periodStart, &periodEnd, &statement.OpeningBalance,
		&statement.ClosingBalance, &currency, &statement.TransactionCount, &statement.IntegrityHash,
		&status, &errorsJSON, &source, &importedBy, &statement.CreatedAt, &processedAt,
	)
	if err != nil {
		return nil, err
	}

	statement.PeriodStart = periodStart.Time
	statement.PeriodEnd = periodEnd.Time
	statement.ProcessedAt = timePtr(processedAt)
	statement.Currency = currency.String
	statement.ProcessingStatus = model.ProcessingStatus(status)
	statement.Source = model.StatementSource(source.String)
	statement.ImportedBy = importedBy.String
	if err := unmarshalJSON(errorsJSON, &statement.ValidationErrors); err != nil {
		return nil, err
	}

	return &statement, nil
}

const transactionColumns = `id, statement_id, account_id, transaction_date, value_date, description,
	reference, amount, transaction_type, category, balance, is_reconciled, matched_transaction_id,
	confidence_score, created_at`

// InsertTransaction inserts one statement line.
func (s *SQLiteStorage) InsertTransaction(ctx context.Context, txn *model.BankTransaction) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateBankTransaction(txn); err != nil {
		return err
	}

	if txn.ID == "" {
		txn.ID = uuid.NewString()
	}
	if txn.CreatedAt.IsZero() {
		txn.CreatedAt = s.now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bank_transactions (`+transactionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		txn.ID, txn.StatementID, txn.AccountID, txn.TransactionDate, nullTime(txn.ValueDate),
		txn.Description, nullString(txn.Reference), txn.Amount, string(txn.TransactionType),
		nullString(txn.Category), nullFloat(txn.Balance), txn.IsReconciled,
		nullString(txn.MatchedTransactionID), nullFloat(txn.ConfidenceScore), txn.CreatedAt,
	)
	if err != nil {
		return wrapDB("insert transaction", err)
	}

	return nil
}

// ListTransactionsByStatement returns a statement's lines in date order.
func (s *SQLiteStorage) ListTransactionsByStatement(ctx context.Context, statementID string) ([]model.BankTransaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(statementID, "statementID"); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+transactionColumns+` FROM bank_transactions
		WHERE statement_id = ? ORDER BY transaction_date ASC, rowid ASC`, statementID)
	if err != nil {
		return nil, wrapDB("list transactions", err)
	}
	defer func() { _ = rows.Close() }()

	var txns []model.BankTransaction
	for rows.Next() {
		var txn model.BankTransaction
		var valueDate sql.NullTime
		var reference, txnType, category, matched sql.NullString
		var balance, confidence sql.NullFloat64

		if err := rows.Scan(
			&txn.ID, &txn.StatementID, &txn.AccountID, &txn.TransactionDate, &valueDate,
			&txn.Description, &reference, &txn.Amount, &txnType, &category, &balance,
			&txn.IsReconciled, &matched, &confidence, &txn.CreatedAt,
		); err != nil {
			return nil, wrapDB("scan transaction", err)
		}

		txn.ValueDate = timePtr(valueDate)
		txn.Reference = reference.String
		txn.TransactionType = model.TransactionType(txnType.String)
		txn.Category = category.String
		txn.Balance = floatPtr(balance)
		txn.MatchedTransactionID = matched.String
		txn.ConfidenceScore = floatPtr(confidence)
		txns = append(txns, txn)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDB("iterate transactions", err)
	}

	return txns, nil
}

// UpdateTransactionReconciled marks a bank transaction as reconciled against a
// ledger entry. A transaction is reconciled once; a second call fails with
// common.ErrAlreadyReconciled and leaves the stored match untouched.
func (s *SQLiteStorage) UpdateTransactionReconciled(ctx context.Context, id, ledgerEntryID string, confidence float64) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}
	if confidence < 0 || confidence > 1 {
		return fmt.Errorf("%w: confidence must be between 0 and 1", ErrInvalidEntity)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE bank_transactions
		SET is_reconciled = 1, matched_transaction_id = ?, confidence_score = ?
		WHERE id = ? AND is_reconciled = 0`, ledgerEntryID, confidence, id)
	if err != nil {
		return wrapDB("update transaction", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return wrapDB("read affected rows", err)
	}
	if n > 0 {
		return nil
	}

	var reconciled bool
	err = s.db.QueryRowContext(ctx, `SELECT is_reconciled FROM bank_transactions WHERE id = ?`, id).Scan(&reconciled)
	if err != nil {
		return notFound("transaction", id, err)
	}
	return fmt.Errorf("transaction %s: %w", id, common.ErrAlreadyReconciled)
}

func requireAffected(result sql.Result, entity, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return wrapDB("read affected rows", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", entity, id, common.ErrNotFound)
	}
	return nil
}

// IsNotFound reports whether err is a not-found lookup.
func IsNotFound(err error) bool {
	return errors.Is(err, common.ErrNotFound)
}
