package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/the-books-must-balance/internal/auth"
	"github.com/Veraticus/the-books-must-balance/internal/common"
	"github.com/Veraticus/the-books-must-balance/internal/model"
	"github.com/Veraticus/the-books-must-balance/internal/storage"
	"github.com/Veraticus/the-books-must-balance/internal/testutil"
)

var (
	admin  = RequestContext{User: model.User{ID: "admin-1", OrganizationID: testutil.DefaultOrg, Permissions: []string{auth.PermAdmin}}, RequestID: "req-1"}
	viewer = RequestContext{User: model.User{ID: "viewer-1", OrganizationID: testutil.DefaultOrg, Permissions: []string{auth.PermView}}}
	writer = RequestContext{User: model.User{ID: "writer-1", OrganizationID: testutil.DefaultOrg, Permissions: []string{auth.PermCreate, auth.PermRead}}}
	other  = RequestContext{User: model.User{ID: "other-1", OrganizationID: "org-other", Permissions: []string{auth.PermAdmin}}}
)

func newService(t *testing.T) (*Service, *testutil.TestDB) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	opts := DefaultOptions()
	opts.Reconciliation.ConfidenceThreshold = 0
	return New(db.Storage, opts), db
}

func newAccount() model.BankAccount {
	return model.BankAccount{Name: "Operating", Currency: "usd", LedgerAccountID: "ledger-1", IsActive: true}
}

func statement(number string) *model.StatementData {
	jan := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	return &model.StatementData{
		StatementDate:   time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
		StatementNumber: number,
		Currency:        "USD",
		Transactions: []model.TransactionData{
			{TransactionDate: jan, Description: "Invoice 7 payment", Reference: "INV-7", Amount: 700},
			{TransactionDate: jan, Description: "Monthly fee", Amount: -15},
		},
	}
}

func TestCreateBankAccount(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	resp := svc.CreateBankAccount(ctx, writer, newAccount())
	require.True(t, resp.Success, resp.Errors)
	assert.NotEmpty(t, resp.Data.ID)
	assert.Equal(t, testutil.DefaultOrg, resp.Data.OrganizationID)
	assert.Equal(t, "USD", resp.Data.Currency)
	assert.Empty(t, resp.Errors)
	assert.NotNil(t, resp.Warnings)
	assert.Equal(t, OpCreateBankAccount, resp.Metadata.Operation)

	invalid := newAccount()
	invalid.LedgerAccountID = ""
	resp = svc.CreateBankAccount(ctx, writer, invalid)
	require.False(t, resp.Success)
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, common.CodeValidation, resp.Errors[0].Code)
	assert.Equal(t, "ledger_account_id", resp.Errors[0].Field)
}

func TestPermissionDeniedHasNoSideEffects(t *testing.T) {
	svc, db := newService(t)
	ctx := context.Background()

	resp := svc.CreateBankAccount(ctx, viewer, newAccount())
	require.False(t, resp.Success)
	assert.Equal(t, common.CodePermission, resp.Errors[0].Code)

	foreign := newAccount()
	foreign.OrganizationID = testutil.DefaultOrg
	resp = svc.CreateBankAccount(ctx, other, foreign)
	require.False(t, resp.Success)
	assert.Equal(t, common.CodePermission, resp.Errors[0].Code)

	accounts, err := db.Storage.ListAccounts(ctx, model.AccountFilter{})
	require.NoError(t, err)
	assert.Empty(t, accounts)
}

func TestCallerWithoutOrganizationIsDenied(t *testing.T) {
	svc, db := newService(t)
	ctx := context.Background()
	account := db.SeedAccount("ledger-1")
	stmt, _ := db.SeedStatement(account, "s-1", model.TransactionData{
		TransactionDate: time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC), Description: "Deposit", Amount: 42,
	})
	db.SeedLedger("ledger-1", model.LedgerEntry{ID: "je-1", EntryDate: time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC), Total: 42})
	db.SeedRules(testutil.NewRule("amount").MatchAmount(0).Build())
	run := svc.PerformReconciliation(ctx, admin, ReconcileRequest{AccountID: account.ID, StatementID: stmt.ID})
	require.True(t, run.Success, run.Errors)

	tenantless := RequestContext{User: model.User{ID: "drifter", Permissions: []string{auth.PermView, auth.PermAdmin}}}

	accounts := svc.ListBankAccounts(ctx, tenantless, model.AccountFilter{})
	require.False(t, accounts.Success)
	assert.Equal(t, common.CodePermission, accounts.Errors[0].Code)
	assert.Empty(t, accounts.Data)

	history := svc.GetReconciliationHistory(ctx, tenantless, model.SessionFilter{})
	require.False(t, history.Success)
	assert.Equal(t, common.CodePermission, history.Errors[0].Code)
	assert.Empty(t, history.Data)

	matches := svc.GetReconciliationMatches(ctx, tenantless, model.MatchFilter{})
	require.False(t, matches.Success)
	assert.Equal(t, common.CodePermission, matches.Errors[0].Code)
	assert.Empty(t, matches.Data)

	single := svc.GetBankAccount(ctx, tenantless, account.ID)
	require.False(t, single.Success)
	assert.Equal(t, common.CodePermission, single.Errors[0].Code)
}

func TestGetBankAccount_TenantAndCache(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	created := svc.CreateBankAccount(ctx, admin, newAccount())
	require.True(t, created.Success)

	first := svc.GetBankAccount(ctx, viewer, created.Data.ID)
	require.True(t, first.Success, first.Errors)
	assert.False(t, first.Metadata.CacheHit)

	second := svc.GetBankAccount(ctx, viewer, created.Data.ID)
	require.True(t, second.Success)
	assert.True(t, second.Metadata.CacheHit)

	denied := svc.GetBankAccount(ctx, other, created.Data.ID)
	require.False(t, denied.Success)
	assert.Equal(t, common.CodePermission, denied.Errors[0].Code)

	missing := svc.GetBankAccount(ctx, viewer, "nope")
	require.False(t, missing.Success)
	assert.Equal(t, common.CodeNotFound, missing.Errors[0].Code)

	assert.Equal(t, int64(1), svc.Cache().Stats().Hits)
}

func TestListBankAccounts_InvalidatedOnCreate(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	require.True(t, svc.CreateBankAccount(ctx, admin, newAccount()).Success)
	list := svc.ListBankAccounts(ctx, viewer, model.AccountFilter{})
	require.True(t, list.Success)
	assert.Len(t, list.Data, 1)

	second := newAccount()
	second.Name = "Payroll"
	require.True(t, svc.CreateBankAccount(ctx, admin, second).Success)

	list = svc.ListBankAccounts(ctx, viewer, model.AccountFilter{})
	require.True(t, list.Success)
	assert.False(t, list.Metadata.CacheHit)
	assert.Equal(t, 2, list.Metadata.Total)

	bad := svc.ListBankAccounts(ctx, viewer, model.AccountFilter{Limit: MaxPageSize + 1})
	assert.Equal(t, "limit", bad.Errors[0].Field)
}

func TestImportAndReconcileFlow(t *testing.T) {
	svc, db := newService(t)
	ctx := context.Background()

	account := svc.CreateBankAccount(ctx, admin, newAccount())
	require.True(t, account.Success)
	db.SeedLedger("ledger-1",
		model.LedgerEntry{ID: "je-7", EntryDate: time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC), EntryNumber: "INV-7", Description: "Invoice 7", Total: 700},
	)

	rule := svc.CreateReconciliationRule(ctx, writer, model.ReconciliationRule{
		Name:                "reference",
		Priority:            10,
		IsActive:            true,
		AutoApprove:         true,
		ConfidenceThreshold: 1,
		Criteria:            model.RuleCriteria{MatchReference: true},
	})
	require.True(t, rule.Success, rule.Errors)
	assert.Empty(t, rule.Warnings)
	assert.Equal(t, "writer-1", rule.Data.CreatedBy)

	var progress []int
	imported := svc.ImportBankStatement(ctx, writer, ImportRequest{
		AccountID: account.Data.ID,
		Data:      statement("2024-01"),
		Progress:  func(done, _ int) { progress = append(progress, done) },
	})
	require.True(t, imported.Success, imported.Errors)
	assert.Equal(t, 2, imported.Data.Statement.TransactionCount)
	assert.Equal(t, "writer-1", imported.Data.Statement.ImportedBy)
	assert.Equal(t, []int{2}, progress)

	skip := true
	dup := svc.ImportBankStatement(ctx, writer, ImportRequest{
		AccountID:      account.Data.ID,
		Data:           statement("2024-01"),
		SkipDuplicates: &skip,
	})
	require.True(t, dup.Success)
	assert.True(t, dup.Data.Duplicate)
	assert.Equal(t, imported.Data.Statement.ID, dup.Data.Statement.ID)
	assert.NotEmpty(t, dup.Warnings)

	rejected := svc.ImportBankStatement(ctx, writer, ImportRequest{AccountID: account.Data.ID, Data: statement("2024-01")})
	require.False(t, rejected.Success)
	assert.Equal(t, common.CodeDuplicate, rejected.Errors[0].Code)

	run := svc.PerformReconciliation(ctx, writer, ReconcileRequest{
		AccountID:   account.Data.ID,
		StatementID: imported.Data.Statement.ID,
	})
	require.True(t, run.Success, run.Errors)
	assert.Equal(t, model.SessionCompleted, run.Data.Session.Status)
	require.NotNil(t, run.Data.Summary)
	assert.InDelta(t, 50, run.Data.Summary.ReconciliationRate, 1e-9)

	history := svc.GetReconciliationHistory(ctx, viewer, model.SessionFilter{AccountID: account.Data.ID})
	require.True(t, history.Success)
	require.Len(t, history.Data, 1)

	matches := svc.GetReconciliationMatches(ctx, viewer, model.MatchFilter{SessionID: run.Data.Session.ID})
	require.True(t, matches.Success)
	require.Len(t, matches.Data, 1)
	assert.Equal(t, model.MatchAutoApproved, matches.Data[0].Status)

	report := svc.GetReconciliationAnalytics(ctx, viewer, AnalyticsRequest{Period: "month"})
	require.True(t, report.Success, report.Errors)
	assert.Equal(t, 1, report.Data.TotalSessions)

	foreign := svc.PerformReconciliation(ctx, other, ReconcileRequest{
		AccountID:   account.Data.ID,
		StatementID: imported.Data.Statement.ID,
	})
	require.False(t, foreign.Success)
	assert.Equal(t, common.CodePermission, foreign.Errors[0].Code)
}

func TestPerformReconciliation_InvalidOptions(t *testing.T) {
	svc, db := newService(t)
	ctx := context.Background()
	account := db.SeedAccount("ledger-1")
	stmt, _ := db.SeedStatement(account, "s-1")

	resp := svc.PerformReconciliation(ctx, admin, ReconcileRequest{
		AccountID:   account.ID,
		StatementID: stmt.ID,
		Options:     &model.ReconciliationOptions{ConfidenceThreshold: 2, BatchSize: 10},
	})
	require.False(t, resp.Success)
	assert.Equal(t, common.CodeValidation, resp.Errors[0].Code)
	assert.Equal(t, "confidence_threshold", resp.Errors[0].Field)
	assert.Nil(t, resp.Data)
}

func TestUpdateMatchStatus(t *testing.T) {
	svc, db := newService(t)
	ctx := context.Background()
	account := db.SeedAccount("ledger-1")
	stmt, _ := db.SeedStatement(account, "s-1", model.TransactionData{
		TransactionDate: time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC), Description: "Deposit", Amount: 42,
	})
	db.SeedLedger("ledger-1", model.LedgerEntry{ID: "je-1", EntryDate: time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC), Total: 42})
	db.SeedRules(testutil.NewRule("amount").MatchAmount(0).Build())

	run := svc.PerformReconciliation(ctx, admin, ReconcileRequest{AccountID: account.ID, StatementID: stmt.ID})
	require.True(t, run.Success, run.Errors)

	matches := svc.GetReconciliationMatches(ctx, viewer, model.MatchFilter{Status: model.MatchPending})
	require.True(t, matches.Success)
	require.Len(t, matches.Data, 1)

	denied := svc.UpdateMatchStatus(ctx, viewer, UpdateMatchRequest{MatchID: matches.Data[0].ID, Status: model.MatchApproved})
	require.False(t, denied.Success)
	assert.Equal(t, common.CodePermission, denied.Errors[0].Code)

	approved := svc.UpdateMatchStatus(ctx, writer, UpdateMatchRequest{MatchID: matches.Data[0].ID, Status: model.MatchApproved, Notes: "ok"})
	require.True(t, approved.Success, approved.Errors)
	assert.Equal(t, "writer-1", approved.Data.ReviewedBy)

	pending := svc.GetReconciliationMatches(ctx, viewer, model.MatchFilter{Status: model.MatchPending})
	require.True(t, pending.Success)
	assert.Empty(t, pending.Data)
	assert.False(t, pending.Metadata.CacheHit)
}

func TestCreateReconciliationRule_Validation(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	resp := svc.CreateReconciliationRule(ctx, admin, model.ReconciliationRule{Name: "bad", MinConfidence: 1.5})
	require.False(t, resp.Success)
	assert.Equal(t, "min_confidence", resp.Errors[0].Field)

	resp = svc.CreateReconciliationRule(ctx, admin, model.ReconciliationRule{Name: "empty"})
	require.True(t, resp.Success)
	assert.Len(t, resp.Warnings, 2)
}

// panickingRepo panics on account lookups.
type panickingRepo struct {
	*storage.SQLiteStorage
}

func (panickingRepo) GetAccount(context.Context, string) (*model.BankAccount, error) {
	panic("driver exploded")
}

func TestPanicBecomesProcessingError(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := New(panickingRepo{db.Storage}, DefaultOptions())

	resp := svc.GetBankAccount(context.Background(), admin, "acc-1")
	require.False(t, resp.Success)
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, common.CodeProcessing, resp.Errors[0].Code)
	assert.NotContains(t, resp.Errors[0].Message, "driver exploded")

	metrics := svc.GetPerformanceMetrics(context.Background(), admin, string(OpGetBankAccount))
	require.True(t, metrics.Success)
	assert.Equal(t, 1, metrics.Data.Overall.Count)
	assert.Equal(t, 1, metrics.Data.Overall.ErrorCount)
	assert.InDelta(t, 100, metrics.Data.Overall.ErrorRate, 1e-9)
}

func TestCachesAndMetrics(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	require.True(t, svc.CreateBankAccount(ctx, admin, newAccount()).Success)
	require.True(t, svc.ListBankAccounts(ctx, admin, model.AccountFilter{}).Success)

	stats := svc.GetCacheStats(ctx, viewer)
	require.True(t, stats.Success)
	assert.Equal(t, 1, stats.Data.Size)

	denied := svc.ClearCaches(ctx, writer, true)
	require.False(t, denied.Success)
	assert.Equal(t, common.CodePermission, denied.Errors[0].Code)

	cleared := svc.ClearCaches(ctx, writer, false)
	require.True(t, cleared.Success)
	assert.Equal(t, 1, cleared.Data)

	metrics := svc.GetPerformanceMetrics(ctx, viewer, "")
	require.True(t, metrics.Success)
	assert.Equal(t, 5, metrics.Data.Overall.Count)
	assert.Len(t, metrics.Data.Operations, 4)
}

func TestHealthCheck(t *testing.T) {
	svc, db := newService(t)

	resp := svc.HealthCheck(context.Background())
	require.True(t, resp.Success)
	assert.Equal(t, StatusHealthy, resp.Data.Status)
	assert.Contains(t, resp.Data.Tables, "bank_accounts")

	require.NoError(t, db.Storage.Close())
	resp = svc.HealthCheck(context.Background())
	require.False(t, resp.Success)
	assert.Equal(t, StatusUnhealthy, resp.Data.Status)
	assert.Equal(t, common.CodeDatabase, resp.Errors[0].Code)
}

func TestResponseErr(t *testing.T) {
	ok := Response[int]{Success: true}
	assert.NoError(t, ok.Err())

	failed := Response[int]{Errors: []ErrorDetail{{Code: common.CodeNotFound, Message: "gone"}}}
	err := failed.Err()
	require.Error(t, err)
	assert.Equal(t, common.CodeNotFound, common.CodeOf(err))
	assert.False(t, errors.Is(err, common.ErrNotFound))
}

func TestGetReconciliationSession(t *testing.T) {
	svc, db := newService(t)
	ctx := context.Background()
	account := db.SeedAccount("ledger-1")
	stmt, _ := db.SeedStatement(account, "s-1", model.TransactionData{
		TransactionDate: time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC), Description: "Deposit", Amount: 42,
	})

	run := svc.PerformReconciliation(ctx, admin, ReconcileRequest{AccountID: account.ID, StatementID: stmt.ID})
	require.True(t, run.Success, run.Errors)

	got := svc.GetReconciliationSession(ctx, viewer, run.Data.Session.ID)
	require.True(t, got.Success, got.Errors)
	assert.Equal(t, run.Data.Session.ID, got.Data.Session.ID)
	require.NotNil(t, got.Data.Summary)
	assert.Equal(t, run.Data.Session.ID, got.Data.Summary.SessionID)

	denied := svc.GetReconciliationSession(ctx, other, run.Data.Session.ID)
	require.False(t, denied.Success)
	assert.Equal(t, common.CodePermission, denied.Errors[0].Code)

	missing := svc.GetReconciliationSession(ctx, viewer, "nope")
	require.False(t, missing.Success)
	assert.Equal(t, common.CodeNotFound, missing.Errors[0].Code)
}

func TestExplainMatches(t *testing.T) {
	svc, db := newService(t)
	ctx := context.Background()
	jan3 := time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)
	account := db.SeedAccount("ledger-1")
	stmt, _ := db.SeedStatement(account, "s-1",
		model.TransactionData{TransactionDate: jan3, Description: "Deposit", Amount: 42},
		model.TransactionData{TransactionDate: jan3, Description: "Wire", Amount: 1000},
	)
	db.SeedLedger("ledger-1",
		model.LedgerEntry{ID: "je-99", EntryDate: jan3, Total: 99},
		model.LedgerEntry{ID: "je-42", EntryDate: jan3, Total: 42},
	)
	db.SeedRules(testutil.NewRule("amount").MatchAmount(0).Build())

	resp := svc.ExplainMatches(ctx, viewer, ExplainRequest{StatementID: stmt.ID})
	require.True(t, resp.Success, resp.Errors)
	require.Len(t, resp.Data, 2)

	byDescription := map[string]Explanation{}
	for _, ex := range resp.Data {
		byDescription[ex.Transaction.Description] = ex
	}

	deposit := byDescription["Deposit"]
	assert.Len(t, deposit.Evaluations, 2)
	require.NotNil(t, deposit.Chosen)
	assert.Equal(t, "je-42", deposit.Chosen.LedgerEntryID)
	assert.True(t, deposit.ClearsThreshold)

	wire := byDescription["Wire"]
	assert.Nil(t, wire.Chosen)
	assert.False(t, wire.ClearsThreshold)

	single := svc.ExplainMatches(ctx, viewer, ExplainRequest{StatementID: stmt.ID, TransactionID: wire.Transaction.ID})
	require.True(t, single.Success, single.Errors)
	assert.Len(t, single.Data, 1)

	one := svc.ExplainMatches(ctx, viewer, ExplainRequest{StatementID: stmt.ID, TransactionID: "nope"})
	require.False(t, one.Success)
	assert.Equal(t, common.CodeNotFound, one.Errors[0].Code)

	denied := svc.ExplainMatches(ctx, other, ExplainRequest{StatementID: stmt.ID})
	require.False(t, denied.Success)
	assert.Equal(t, common.CodePermission, denied.Errors[0].Code)

	missing := svc.ExplainMatches(ctx, viewer, ExplainRequest{})
	require.False(t, missing.Success)
	assert.Equal(t, "statement_id", missing.Errors[0].Field)

	count, err := db.Storage.ListMatches(ctx, model.MatchFilter{OrganizationID: testutil.DefaultOrg})
	require.NoError(t, err)
	assert.Empty(t, count, "explaining writes nothing")
}
