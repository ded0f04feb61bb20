package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/Veraticus/the-books-must-balance/internal/model"
)

const accountColumns = `id, organization_id, name, account_number, bank_name, currency,
	opening_balance, current_balance, available_balance, ledger_account_id,
	auto_reconcile, rule_set_id, is_active, created_at, updated_at`

// CreateAccount inserts a bank account, assigning an ID if none is set.
func (s *SQLiteStorage) CreateAccount(ctx context.Context, account *model.BankAccount) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateAccount(account); err != nil {
		return err
	}

	if account.ID == "" {
		account.ID = uuid.NewString()
	}
	now := s.now()
	account.CreatedAt = now
	account.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bank_accounts (`+accountColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		account.ID, account.OrganizationID, account.Name, account.AccountNumber, account.BankName,
		account.Currency, account.OpeningBalance, account.CurrentBalance, account.AvailableBalance,
		nullString(account.LedgerAccountID), account.AutoReconcile, nullString(account.RuleSetID),
		account.IsActive, account.CreatedAt, account.UpdatedAt,
	)
	if err != nil {
		return wrapDB("create account", err)
	}

	return nil
}

// GetAccount retrieves a bank account by ID.
func (s *SQLiteStorage) GetAccount(ctx context.Context, id string) (*model.BankAccount, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM bank_accounts WHERE id = ?`, id)
	account, err := scanAccount(row)
	if err != nil {
		return nil, notFound("account", id, err)
	}

	return account, nil
}

// ListAccounts lists accounts matching the filter, ordered by name.
func (s *SQLiteStorage) ListAccounts(ctx context.Context, filter model.AccountFilter) ([]model.BankAccount, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	var conditions []string
	var args []any

	if filter.OrganizationID != "" {
		conditions = append(conditions, "organization_id = ?")
		args = append(args, filter.OrganizationID)
	}
	if filter.Currency != "" {
		conditions = append(conditions, "currency = ?")
		args = append(args, filter.Currency)
	}
	if filter.ActiveOnly {
		conditions = append(conditions, "is_active = 1")
	}

	query := `SELECT ` + accountColumns + ` FROM bank_accounts`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY name ASC, id ASC"
	query, args = paginate(query, args, filter.Limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDB("list accounts", err)
	}
	defer func() { _ = rows.Close() }()

	var accounts []model.BankAccount
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, wrapDB("scan account", err)
		}
		accounts = append(accounts, *account)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDB("iterate accounts", err)
	}

	return accounts, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*model.BankAccount, error) {
	var account model.BankAccount
	var accountNumber, bankName, ledgerAccountID, ruleSetID sql.NullString

	err := row.Scan(
		&account.ID, &account.OrganizationID, &account.Name, &accountNumber, &bankName,
		&account.Currency, &account.OpeningBalance, &account.CurrentBalance, &account.AvailableBalance,
		&ledgerAccountID, &account.AutoReconcile, &ruleSetID, &account.IsActive,
		&account.CreatedAt, &account.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	account.AccountNumber = accountNumber.String
	account.BankName = bankName.String
	account.LedgerAccountID = ledgerAccountID.String
	account.RuleSetID = ruleSetID.String

	return &account, nil
}

// paginate appends LIMIT/OFFSET when a limit is requested.
func paginate(query string, args []any, limit, offset int) (string, []any) {
	if limit <= 0 {
		return query, args
	}
	query += " LIMIT ?"
	args = append(args, limit)
	if offset > 0 {
		query += " OFFSET ?"
		args = append(args, offset)
	}
	return query, args
}

func countQuery(ctx context.Context, q queryable, table, where string, args ...any) (int, error) {
	var n int
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", table)
	if where != "" {
		query += " WHERE " + where
	}
	if err := q.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, wrapDB("count "+table, err)
	}
	return n, nil
}
