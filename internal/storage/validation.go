// Package storage provides the SQLite reference implementation of the
// reconciliation repository contract.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/Veraticus/the-books-must-balance/internal/common"
	"github.com/Veraticus/the-books-must-balance/internal/model"
)

// Validation errors. Input problems wrap common.ErrValidation so callers
// classify them as validation failures.
var (
	ErrNilContext      = errors.New("context cannot be nil")
	ErrEmptyString     = fmt.Errorf("%w: string parameter cannot be empty", common.ErrValidation)
	ErrNilParameter    = fmt.Errorf("%w: parameter cannot be nil", common.ErrValidation)
	ErrInvalidStatus   = fmt.Errorf("%w: invalid status", common.ErrValidation)
	ErrInvalidEntity   = fmt.Errorf("%w: invalid entity", common.ErrValidation)
	ErrStaleTransition = errors.New("invalid session transition")
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

func validateAccount(account *model.BankAccount) error {
	if account == nil {
		return fmt.Errorf("%w: account", ErrNilParameter)
	}
	if strings.TrimSpace(account.OrganizationID) == "" {
		return fmt.Errorf("%w: account missing organization", ErrInvalidEntity)
	}
	if strings.TrimSpace(account.Name) == "" {
		return fmt.Errorf("%w: account missing name", ErrInvalidEntity)
	}
	return nil
}

func validateStatement(statement *model.BankStatement) error {
	if statement == nil {
		return fmt.Errorf("%w: statement", ErrNilParameter)
	}
	if statement.AccountID == "" {
		return fmt.Errorf("%w: statement missing account", ErrInvalidEntity)
	}
	if statement.StatementNumber == "" {
		return fmt.Errorf("%w: statement missing number", ErrInvalidEntity)
	}
	switch statement.ProcessingStatus {
	case model.ProcessingPending, model.ProcessingProcessing, model.ProcessingCompleted,
		model.ProcessingFailed, model.ProcessingCancelled:
	default:
		return fmt.Errorf("%w: %s", ErrInvalidStatus, statement.ProcessingStatus)
	}
	return nil
}

func validateBankTransaction(txn *model.BankTransaction) error {
	if txn == nil {
		return fmt.Errorf("%w: transaction", ErrNilParameter)
	}
	if txn.StatementID == "" {
		return fmt.Errorf("%w: transaction missing statement", ErrInvalidEntity)
	}
	if txn.TransactionDate.IsZero() {
		return fmt.Errorf("%w: transaction missing date", ErrInvalidEntity)
	}
	return nil
}

func validateRule(rule *model.ReconciliationRule) error {
	if rule == nil {
		return fmt.Errorf("%w: rule", ErrNilParameter)
	}
	if strings.TrimSpace(rule.Name) == "" {
		return fmt.Errorf("%w: rule missing name", ErrInvalidEntity)
	}
	if rule.OrganizationID == "" {
		return fmt.Errorf("%w: rule missing organization", ErrInvalidEntity)
	}
	return nil
}

func validateMatch(match *model.ReconciliationMatch) error {
	if match == nil {
		return fmt.Errorf("%w: match", ErrNilParameter)
	}
	if match.SessionID == "" || match.BankTransactionID == "" || match.LedgerTransactionID == "" {
		return fmt.Errorf("%w: match missing references", ErrInvalidEntity)
	}
	if !match.Status.Valid() {
		return fmt.Errorf("%w: %s", ErrInvalidStatus, match.Status)
	}
	if match.ConfidenceScore < 0 || match.ConfidenceScore > 1 {
		return fmt.Errorf("%w: confidence must be between 0 and 1", ErrInvalidEntity)
	}
	return nil
}

// notFound maps sql.ErrNoRows to the common not-found sentinel.
func notFound(entity, id string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", entity, id, common.ErrNotFound)
	}
	return wrapDB("get "+entity, err)
}

// wrapDB marks err as a database failure.
func wrapDB(op string, err error) error {
	return fmt.Errorf("failed to %s: %w", op, errors.Join(common.ErrDatabase, err))
}
