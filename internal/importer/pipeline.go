// Package importer validates external statements and persists them with
// their transactions in fixed-size batches.
package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/Veraticus/the-books-must-balance/internal/common"
	"github.com/Veraticus/the-books-must-balance/internal/model"
)

// Import limits.
const (
	BatchSize            = 100
	MaxDescriptionLength = 500
)

// Row validation codes.
const (
	CodeRequired      = "REQUIRED"
	CodeTooLong       = "TOO_LONG"
	CodeInvalidAmount = "INVALID_AMOUNT"
	CodeInvalidType   = "INVALID_TYPE"
	CodeRowFailed     = "PROCESSING_ERROR"
)

// Store is the persistence the pipeline needs.
type Store interface {
	GetAccount(ctx context.Context, id string) (*model.BankAccount, error)
	FindStatementByNumber(ctx context.Context, accountID, statementNumber string) (*model.BankStatement, error)
	CreateStatement(ctx context.Context, statement *model.BankStatement) error
	UpdateStatement(ctx context.Context, statement *model.BankStatement) error
	InsertTransaction(ctx context.Context, txn *model.BankTransaction) error
}

// Options control a single import.
type Options struct {
	Progress           func(done, total int)
	ImportedBy         string
	Source             model.StatementSource
	DuplicateDetection bool
	SkipDuplicates     bool
	AutoCategorize     bool
}

// Result is the outcome of an import.
type Result struct {
	Statement        *model.BankStatement    `json:"statement"`
	ValidationErrors []model.ValidationError `json:"validation_errors"`
	Warnings         []string                `json:"warnings"`
	Duplicate        bool                    `json:"duplicate"`
}

// Pipeline imports statements into a Store.
type Pipeline struct {
	store  Store
	now    func() time.Time
	logger *slog.Logger
}

// NewPipeline creates an import pipeline.
func NewPipeline(store Store) *Pipeline {
	return &Pipeline{
		store:  store,
		now:    func() time.Time { return time.Now().UTC() },
		logger: slog.Default().With("component", "importer"),
	}
}

// Import validates data and persists it as a statement of accountID.
// Statement-level problems and unskipped duplicates fail before anything is
// written. Row-level problems are collected on the statement and the import
// still completes.
func (p *Pipeline) Import(ctx context.Context, accountID string, data *model.StatementData, opts Options) (*Result, error) {
	if err := validateShape(accountID, data); err != nil {
		return nil, err
	}

	account, err := p.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load account: %w", err)
	}
	if data.Currency != "" && account.Currency != "" && !strings.EqualFold(data.Currency, account.Currency) {
		return nil, common.NewFieldError("currency",
			fmt.Sprintf("statement currency %s does not match account currency %s", data.Currency, account.Currency))
	}

	hash := data.IntegrityHash()
	result := &Result{}

	if opts.DuplicateDetection {
		existing, findErr := p.store.FindStatementByNumber(ctx, accountID, data.StatementNumber)
		switch {
		case findErr == nil:
			if !opts.SkipDuplicates {
				return nil, common.NewError(common.CodeDuplicate,
					fmt.Sprintf("statement %s already imported", data.StatementNumber), common.ErrDuplicate)
			}
			result.Statement = existing
			result.Duplicate = true
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("statement %s already imported; skipped", data.StatementNumber))
			if existing.IntegrityHash != hash {
				result.Warnings = append(result.Warnings,
					"existing statement content differs from this import")
			}
			p.logger.Warn("Skipped duplicate statement",
				"account_id", accountID,
				"statement_number", data.StatementNumber,
				"existing_id", existing.ID)
			return result, nil
		case !errors.Is(findErr, common.ErrNotFound):
			return nil, fmt.Errorf("failed to check for duplicate statement: %w", findErr)
		}
	}

	currency := data.Currency
	if currency == "" {
		currency = account.Currency
	}
	source := opts.Source
	if source == "" {
		source = data.Source
	}
	if source == "" {
		source = model.SourceManual
	}

	statement := &model.BankStatement{
		StatementDate:    data.StatementDate,
		PeriodStart:      data.PeriodStart,
		PeriodEnd:        data.PeriodEnd,
		AccountID:        accountID,
		OrganizationID:   account.OrganizationID,
		StatementNumber:  data.StatementNumber,
		Currency:         strings.ToUpper(currency),
		IntegrityHash:    hash,
		ProcessingStatus: model.ProcessingProcessing,
		Source:           source,
		ImportedBy:       opts.ImportedBy,
		OpeningBalance:   data.OpeningBalance,
		ClosingBalance:   data.ClosingBalance,
	}
	if err := p.store.CreateStatement(ctx, statement); err != nil {
		return nil, fmt.Errorf("failed to create statement: %w", err)
	}

	inserted, rowErrors, runErr := p.processBatches(ctx, statement, data.Transactions, opts)
	statement.TransactionCount = inserted
	statement.ValidationErrors = rowErrors
	processed := p.now()
	statement.ProcessedAt = &processed

	if runErr != nil {
		statement.ProcessingStatus = model.ProcessingCancelled
		if !errors.Is(runErr, context.Canceled) && !errors.Is(runErr, context.DeadlineExceeded) {
			statement.ProcessingStatus = model.ProcessingFailed
		}
		p.markFinal(statement)
		return nil, fmt.Errorf("failed to import statement %s: %w", statement.StatementNumber, runErr)
	}

	statement.ProcessingStatus = model.ProcessingCompleted
	if err := p.store.UpdateStatement(ctx, statement); err != nil {
		statement.ProcessingStatus = model.ProcessingFailed
		p.markFinal(statement)
		return nil, common.NewError(common.CodeProcessing, "failed to finalize statement", err)
	}

	p.logger.Info("Imported statement",
		"statement_id", statement.ID,
		"account_id", accountID,
		"transactions", inserted,
		"validation_errors", len(rowErrors))

	result.Statement = statement
	result.ValidationErrors = rowErrors
	if len(rowErrors) > 0 {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("%d of %d transactions failed validation", len(rowErrors), len(data.Transactions)))
	}
	return result, nil
}

// processBatches persists rows BatchSize at a time. The context is checked
// only between batches so a row is never half processed.
func (p *Pipeline) processBatches(ctx context.Context, statement *model.BankStatement, rows []model.TransactionData, opts Options) (int, []model.ValidationError, error) {
	inserted := 0
	var rowErrors []model.ValidationError

	for start := 0; start < len(rows); start += BatchSize {
		if err := ctx.Err(); err != nil {
			return inserted, rowErrors, err
		}

		end := min(start+BatchSize, len(rows))
		for i := start; i < end; i++ {
			if verr := p.processRow(ctx, statement, i, rows[i], opts); verr != nil {
				rowErrors = append(rowErrors, *verr)
				continue
			}
			inserted++
		}

		p.logger.Debug("Processed batch",
			"statement_id", statement.ID,
			"rows", end-start,
			"done", end,
			"total", len(rows))
		if opts.Progress != nil {
			opts.Progress(end, len(rows))
		}
	}

	return inserted, rowErrors, nil
}

// processRow validates and stores one row. Failures, including panics from
// the store, become validation errors for that row.
func (p *Pipeline) processRow(ctx context.Context, statement *model.BankStatement, index int, row model.TransactionData, opts Options) (verr *model.ValidationError) {
	rowNum := index + 1

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Recovered panic while importing row", "row", rowNum, "panic", r)
			verr = &model.ValidationError{Row: rowNum, Field: "row", Code: CodeRowFailed, Message: fmt.Sprint(r)}
		}
	}()

	txnType, invalid := validateRow(row)
	if invalid != nil {
		invalid.Row = rowNum
		return invalid
	}

	category := row.Category
	if opts.AutoCategorize && category == "" {
		category = Categorize(row.Description)
	}

	txn := &model.BankTransaction{
		TransactionDate: row.TransactionDate,
		ValueDate:       row.ValueDate,
		Balance:         row.Balance,
		StatementID:     statement.ID,
		AccountID:       statement.AccountID,
		Description:     strings.TrimSpace(row.Description),
		Reference:       strings.TrimSpace(row.Reference),
		TransactionType: txnType,
		Category:        category,
		Amount:          math.Abs(row.Amount),
	}
	if err := p.store.InsertTransaction(ctx, txn); err != nil {
		p.logger.Warn("Failed to insert transaction", "row", rowNum, "error", err)
		return &model.ValidationError{Row: rowNum, Field: "row", Code: CodeRowFailed, Message: err.Error()}
	}
	return nil
}

// markFinal records a terminal status without the caller's context, which
// may already be done.
func (p *Pipeline) markFinal(statement *model.BankStatement) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.store.UpdateStatement(ctx, statement); err != nil {
		common.LogError(err, "Failed to record statement status", common.Fields{
			"statement_id": statement.ID,
			"status":       statement.ProcessingStatus,
		})
	}
}

func validateShape(accountID string, data *model.StatementData) error {
	if strings.TrimSpace(accountID) == "" {
		return common.NewFieldError("account_id", "is required")
	}
	if data == nil {
		return common.NewFieldError("statement", "is required")
	}
	if strings.TrimSpace(data.StatementNumber) == "" {
		return common.NewFieldError("statement_number", "is required")
	}
	if data.StatementDate.IsZero() {
		return common.NewFieldError("statement_date", "is required")
	}
	if !data.PeriodStart.IsZero() && !data.PeriodEnd.IsZero() && data.PeriodEnd.Before(data.PeriodStart) {
		return common.NewFieldError("period_end", "must not be before period_start")
	}
	if data.Currency != "" && len(data.Currency) != 3 {
		return common.NewFieldError("currency", "must be a 3-letter code")
	}
	if !finite(data.OpeningBalance) {
		return common.NewFieldError("opening_balance", "must be a finite number")
	}
	if !finite(data.ClosingBalance) {
		return common.NewFieldError("closing_balance", "must be a finite number")
	}
	return nil
}

// validateRow checks one row and resolves its direction. Amounts are stored
// as magnitudes; a row without a type takes its direction from the sign.
func validateRow(row model.TransactionData) (model.TransactionType, *model.ValidationError) {
	switch {
	case row.TransactionDate.IsZero():
		return "", &model.ValidationError{Field: "transaction_date", Code: CodeRequired, Message: "transaction date is required"}
	case strings.TrimSpace(row.Description) == "":
		return "", &model.ValidationError{Field: "description", Code: CodeRequired, Message: "description is required"}
	case len(row.Description) > MaxDescriptionLength:
		return "", &model.ValidationError{Field: "description", Code: CodeTooLong,
			Message: fmt.Sprintf("description exceeds %d characters", MaxDescriptionLength)}
	case !finite(row.Amount):
		return "", &model.ValidationError{Field: "amount", Code: CodeInvalidAmount, Message: "amount must be a finite number"}
	}

	switch row.TransactionType {
	case model.TypeDebit, model.TypeCredit:
		return row.TransactionType, nil
	case "":
		if row.Amount < 0 {
			return model.TypeDebit, nil
		}
		return model.TypeCredit, nil
	default:
		return "", &model.ValidationError{Field: "transaction_type", Code: CodeInvalidType,
			Message: fmt.Sprintf("unknown transaction type %q", row.TransactionType)}
	}
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
