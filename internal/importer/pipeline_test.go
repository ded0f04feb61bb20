package importer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/the-books-must-balance/internal/common"
	"github.com/Veraticus/the-books-must-balance/internal/model"
	"github.com/Veraticus/the-books-must-balance/internal/storage"
	"github.com/Veraticus/the-books-must-balance/internal/testutil"
)

// countingStore records writes and can inject failures.
type countingStore struct {
	*storage.SQLiteStorage
	failInsert       func(txn *model.BankTransaction) error
	failUpdate       error
	creates          int
	inserts          int
	updates          int
	updatedStatuses  []model.ProcessingStatus
	cancelAfterBatch context.CancelFunc
}

func (s *countingStore) CreateStatement(ctx context.Context, statement *model.BankStatement) error {
	s.creates++
	return s.SQLiteStorage.CreateStatement(ctx, statement)
}

func (s *countingStore) InsertTransaction(ctx context.Context, txn *model.BankTransaction) error {
	s.inserts++
	if s.failInsert != nil {
		if err := s.failInsert(txn); err != nil {
			return err
		}
	}
	if err := s.SQLiteStorage.InsertTransaction(ctx, txn); err != nil {
		return err
	}
	if s.cancelAfterBatch != nil && s.inserts == BatchSize {
		s.cancelAfterBatch()
	}
	return nil
}

func (s *countingStore) UpdateStatement(ctx context.Context, statement *model.BankStatement) error {
	s.updates++
	s.updatedStatuses = append(s.updatedStatuses, statement.ProcessingStatus)
	if s.failUpdate != nil && statement.ProcessingStatus == model.ProcessingCompleted {
		return s.failUpdate
	}
	return s.SQLiteStorage.UpdateStatement(ctx, statement)
}

func setup(t *testing.T) (*countingStore, *model.BankAccount) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	account := db.SeedAccount("ledger-1")
	return &countingStore{SQLiteStorage: db.Storage}, account
}

func statementData(number string, rows int) *model.StatementData {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	data := &model.StatementData{
		StatementDate:   time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
		PeriodStart:     base,
		PeriodEnd:       time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
		StatementNumber: number,
		Currency:        "USD",
		OpeningBalance:  1000,
		ClosingBalance:  1500,
	}
	for i := 0; i < rows; i++ {
		data.Transactions = append(data.Transactions, model.TransactionData{
			TransactionDate: base.AddDate(0, 0, i%28),
			Description:     fmt.Sprintf("Customer deposit %d", i),
			Reference:       fmt.Sprintf("REF-%04d", i),
			Amount:          float64(i + 1),
		})
	}
	return data
}

func defaultOptions() Options {
	return Options{DuplicateDetection: true, AutoCategorize: true, ImportedBy: "user-1"}
}

func TestImport_PartialSuccessWithMalformedRows(t *testing.T) {
	store, account := setup(t)
	data := statementData("2024-01", 250)

	data.Transactions[10].Description = ""
	data.Transactions[120].Amount = math.NaN()
	data.Transactions[249].TransactionType = "sideways"

	var progress []int
	opts := defaultOptions()
	opts.Progress = func(done, _ int) { progress = append(progress, done) }

	result, err := NewPipeline(store).Import(context.Background(), account.ID, data, opts)
	require.NoError(t, err)

	assert.Equal(t, 247, result.Statement.TransactionCount)
	assert.Equal(t, model.ProcessingCompleted, result.Statement.ProcessingStatus)
	require.Len(t, result.ValidationErrors, 3)
	assert.Equal(t, 11, result.ValidationErrors[0].Row)
	assert.Equal(t, CodeRequired, result.ValidationErrors[0].Code)
	assert.Equal(t, CodeInvalidAmount, result.ValidationErrors[1].Code)
	assert.Equal(t, CodeInvalidType, result.ValidationErrors[2].Code)
	assert.Equal(t, []int{100, 200, 250}, progress)
	assert.NotEmpty(t, result.Warnings)

	stored, err := store.GetStatement(context.Background(), result.Statement.ID)
	require.NoError(t, err)
	assert.Equal(t, 247, stored.TransactionCount)
	assert.Equal(t, model.ProcessingCompleted, stored.ProcessingStatus)
	assert.Len(t, stored.ValidationErrors, 3)

	txns, err := store.ListTransactionsByStatement(context.Background(), result.Statement.ID)
	require.NoError(t, err)
	assert.Len(t, txns, 247)
	assert.Equal(t, model.CategoryDeposit, txns[0].Category)
}

func TestImport_DuplicateSkipMakesNoWrites(t *testing.T) {
	store, account := setup(t)
	pipeline := NewPipeline(store)
	ctx := context.Background()

	first, err := pipeline.Import(ctx, account.ID, statementData("2024-02", 5), defaultOptions())
	require.NoError(t, err)

	creates, inserts, updates := store.creates, store.inserts, store.updates

	opts := defaultOptions()
	opts.SkipDuplicates = true
	second, err := pipeline.Import(ctx, account.ID, statementData("2024-02", 5), opts)
	require.NoError(t, err)

	assert.True(t, second.Duplicate)
	assert.Equal(t, first.Statement.ID, second.Statement.ID)
	require.Len(t, second.Warnings, 1)
	assert.Contains(t, second.Warnings[0], "already imported")
	assert.Equal(t, creates, store.creates)
	assert.Equal(t, inserts, store.inserts)
	assert.Equal(t, updates, store.updates)
}

func TestImport_DuplicateWithoutSkipFails(t *testing.T) {
	store, account := setup(t)
	pipeline := NewPipeline(store)
	ctx := context.Background()

	_, err := pipeline.Import(ctx, account.ID, statementData("2024-03", 2), defaultOptions())
	require.NoError(t, err)

	_, err = pipeline.Import(ctx, account.ID, statementData("2024-03", 3), defaultOptions())
	require.Error(t, err)
	assert.Equal(t, common.CodeDuplicate, common.CodeOf(err))
	assert.Equal(t, 1, store.creates)
}

func TestImport_DuplicateSkipWarnsOnChangedContent(t *testing.T) {
	store, account := setup(t)
	pipeline := NewPipeline(store)
	ctx := context.Background()

	_, err := pipeline.Import(ctx, account.ID, statementData("2024-04", 2), defaultOptions())
	require.NoError(t, err)

	opts := defaultOptions()
	opts.SkipDuplicates = true
	result, err := pipeline.Import(ctx, account.ID, statementData("2024-04", 4), opts)
	require.NoError(t, err)
	assert.Len(t, result.Warnings, 2)
}

func TestImport_StatementValidation(t *testing.T) {
	tests := []struct {
		mutate    func(*model.StatementData)
		name      string
		wantField string
	}{
		{name: "missing number", mutate: func(d *model.StatementData) { d.StatementNumber = " " }, wantField: "statement_number"},
		{name: "missing date", mutate: func(d *model.StatementData) { d.StatementDate = time.Time{} }, wantField: "statement_date"},
		{name: "inverted period", mutate: func(d *model.StatementData) { d.PeriodEnd = d.PeriodStart.AddDate(0, 0, -1) }, wantField: "period_end"},
		{name: "bad currency", mutate: func(d *model.StatementData) { d.Currency = "DOLLARS" }, wantField: "currency"},
		{name: "currency mismatch", mutate: func(d *model.StatementData) { d.Currency = "EUR" }, wantField: "currency"},
		{name: "infinite balance", mutate: func(d *model.StatementData) { d.ClosingBalance = math.Inf(1) }, wantField: "closing_balance"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, account := setup(t)
			data := statementData("2024-05", 1)
			tt.mutate(data)

			_, err := NewPipeline(store).Import(context.Background(), account.ID, data, defaultOptions())
			require.Error(t, err)
			assert.Equal(t, common.CodeValidation, common.CodeOf(err))
			assert.Equal(t, tt.wantField, common.FieldOf(err))
			assert.Zero(t, store.creates)
		})
	}
}

func TestImport_UnknownAccount(t *testing.T) {
	store, _ := setup(t)
	_, err := NewPipeline(store).Import(context.Background(), "missing", statementData("x", 1), defaultOptions())
	require.Error(t, err)
	assert.Equal(t, common.CodeNotFound, common.CodeOf(err))
}

func TestImport_InsertFailureIsCollected(t *testing.T) {
	store, account := setup(t)
	store.failInsert = func(txn *model.BankTransaction) error {
		if strings.HasSuffix(txn.Reference, "0002") {
			return errors.New("disk hiccup")
		}
		return nil
	}

	result, err := NewPipeline(store).Import(context.Background(), account.ID, statementData("2024-06", 5), defaultOptions())
	require.NoError(t, err)
	assert.Equal(t, 4, result.Statement.TransactionCount)
	require.Len(t, result.ValidationErrors, 1)
	assert.Equal(t, CodeRowFailed, result.ValidationErrors[0].Code)
	assert.Equal(t, 3, result.ValidationErrors[0].Row)
}

func TestImport_PanicInRowIsCollected(t *testing.T) {
	store, account := setup(t)
	store.failInsert = func(txn *model.BankTransaction) error {
		if strings.HasSuffix(txn.Reference, "0001") {
			panic("unexpected")
		}
		return nil
	}

	result, err := NewPipeline(store).Import(context.Background(), account.ID, statementData("2024-07", 3), defaultOptions())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Statement.TransactionCount)
	require.Len(t, result.ValidationErrors, 1)
	assert.Equal(t, "unexpected", result.ValidationErrors[0].Message)
}

func TestImport_FinalizeFailureMarksFailed(t *testing.T) {
	store, account := setup(t)
	store.failUpdate = errors.New("write refused")

	_, err := NewPipeline(store).Import(context.Background(), account.ID, statementData("2024-08", 2), defaultOptions())
	require.Error(t, err)
	assert.Equal(t, common.CodeProcessing, common.CodeOf(err))
	assert.Equal(t, []model.ProcessingStatus{model.ProcessingCompleted, model.ProcessingFailed}, store.updatedStatuses)

	stored, findErr := store.FindStatementByNumber(context.Background(), account.ID, "2024-08")
	require.NoError(t, findErr)
	assert.Equal(t, model.ProcessingFailed, stored.ProcessingStatus)
}

func TestImport_ContextCancelledBetweenBatches(t *testing.T) {
	store, account := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store.cancelAfterBatch = cancel

	_, err := NewPipeline(store).Import(ctx, account.ID, statementData("2024-09", 150), defaultOptions())
	require.Error(t, err)
	assert.Equal(t, common.CodeTimeout, common.CodeOf(err))
	assert.Equal(t, BatchSize, store.inserts, "the running batch completes")

	stored, findErr := store.FindStatementByNumber(context.Background(), account.ID, "2024-09")
	require.NoError(t, findErr)
	assert.Equal(t, model.ProcessingCancelled, stored.ProcessingStatus)
	assert.Equal(t, BatchSize, stored.TransactionCount)
}

func TestImport_DirectionFromSign(t *testing.T) {
	store, account := setup(t)
	data := statementData("2024-10", 2)
	data.Transactions[0].Amount = -42.5
	data.Transactions[0].Description = "ATM withdrawal"

	result, err := NewPipeline(store).Import(context.Background(), account.ID, data, defaultOptions())
	require.NoError(t, err)

	txns, err := store.ListTransactionsByStatement(context.Background(), result.Statement.ID)
	require.NoError(t, err)
	require.Len(t, txns, 2)
	assert.Equal(t, model.TypeDebit, txns[0].TransactionType)
	assert.InDelta(t, 42.5, txns[0].Amount, 0.0001)
	assert.Equal(t, model.CategoryWithdrawal, txns[0].Category)
	assert.Equal(t, model.TypeCredit, txns[1].TransactionType)
}

func TestCategorize(t *testing.T) {
	tests := map[string]string{
		"Wire transfer to savings":  model.CategoryTransfer,
		"Monthly service FEE":       model.CategoryFee,
		"Interest paid":             model.CategoryInterest,
		"Invoice 1234 payment":      model.CategoryPayment,
		"Payroll deposit":           model.CategoryDeposit,
		"ATM cash":                  model.CategoryWithdrawal,
		"Mystery line":              model.CategoryOther,
		"Transfer fee for transfer": model.CategoryTransfer,
	}
	for desc, want := range tests {
		assert.Equal(t, want, Categorize(desc), desc)
	}
}
