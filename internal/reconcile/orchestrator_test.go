package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/the-books-must-balance/internal/cache"
	"github.com/Veraticus/the-books-must-balance/internal/common"
	"github.com/Veraticus/the-books-must-balance/internal/model"
	"github.com/Veraticus/the-books-must-balance/internal/storage"
	"github.com/Veraticus/the-books-must-balance/internal/testutil"
)

var jan15 = time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

func defaultOptions() model.ReconciliationOptions {
	return model.ReconciliationOptions{
		ConfidenceThreshold: 0,
		AmountTolerance:     model.MaxAmountTolerance,
		DateTolerance:       model.MaxDateTolerance,
		BatchSize:           2,
	}
}

type fixture struct {
	db        *testutil.TestDB
	account   *model.BankAccount
	statement *model.BankStatement
	txns      []model.BankTransaction
	ledger    []model.LedgerEntry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.SetupTestDB(t)
	account := db.SeedAccount("ledger-1")
	statement, txns := db.SeedStatement(account, "2024-01",
		model.TransactionData{TransactionDate: jan15, Description: "Acme invoice 1001", Reference: "INV-1001", Amount: 250},
		model.TransactionData{TransactionDate: jan15.AddDate(0, 0, 1), Description: "Card fee", Amount: -12.5},
		model.TransactionData{TransactionDate: jan15.AddDate(0, 0, 2), Description: "Unknown deposit", Amount: 1800},
	)
	ledger := db.SeedLedger("ledger-1",
		model.LedgerEntry{ID: "je-1", EntryDate: jan15, EntryNumber: "INV-1001", Description: "Acme invoice", Total: 250},
		model.LedgerEntry{ID: "je-2", EntryDate: jan15.AddDate(0, 0, 1), EntryNumber: "JE-2", Description: "Bank fees", Total: -12.5},
	)
	return &fixture{db: db, account: account, statement: statement, txns: txns, ledger: ledger}
}

func (f *fixture) request() Request {
	return Request{AccountID: f.account.ID, StatementID: f.statement.ID, CreatedBy: "user-1", Options: defaultOptions()}
}

func TestReconcile_NoRulesCompletesWithEverythingOutstanding(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	session, err := NewOrchestrator(f.db.Storage).Reconcile(ctx, f.request())
	require.NoError(t, err)

	assert.Equal(t, model.SessionCompleted, session.Status)
	assert.Equal(t, 3, session.TotalTransactions)
	assert.Zero(t, session.MatchedTransactions)
	assert.Equal(t, 3, session.UnmatchedTransactions)
	require.NotNil(t, session.CompletedAt)

	matches, err := f.db.Storage.ListMatches(ctx, model.MatchFilter{SessionID: session.ID})
	require.NoError(t, err)
	assert.Empty(t, matches)

	summary, err := f.db.Storage.GetSummary(ctx, session.ID)
	require.NoError(t, err)
	assert.Zero(t, summary.ReconciliationRate)

	bankOutstanding := 0
	for _, item := range summary.OutstandingItems {
		if item.Side == model.SideBank {
			bankOutstanding++
		}
	}
	assert.Equal(t, 3, bankOutstanding)

	stored, err := f.db.Storage.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionCompleted, stored.Status)
}

func TestReconcile_AutoApproveReconcilesAndPendingDoesNot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.db.SeedRules(
		testutil.NewRule("reference").ID("r-ref").MatchReference().AutoApprove(1).Priority(10).Build(),
		testutil.NewRule("amount and date").ID("r-amount").MatchAmount(0.01).MatchDate(0).Priority(5).Build(),
	)

	session, err := NewOrchestrator(f.db.Storage).Reconcile(ctx, f.request())
	require.NoError(t, err)
	assert.Equal(t, 2, session.MatchedTransactions)
	assert.Equal(t, 1, session.UnmatchedTransactions)

	matches, err := f.db.Storage.ListMatches(ctx, model.MatchFilter{SessionID: session.ID})
	require.NoError(t, err)
	require.Len(t, matches, 2)

	byBank := map[string]model.ReconciliationMatch{}
	for _, m := range matches {
		byBank[m.BankTransactionID] = m
	}
	assert.Equal(t, model.MatchAutoApproved, byBank[f.txns[0].ID].Status)
	assert.Equal(t, "je-1", byBank[f.txns[0].ID].LedgerTransactionID)
	assert.Equal(t, model.MatchPending, byBank[f.txns[1].ID].Status)
	assert.Equal(t, "je-2", byBank[f.txns[1].ID].LedgerTransactionID)

	txns, err := f.db.Storage.ListTransactionsByStatement(ctx, f.statement.ID)
	require.NoError(t, err)
	require.Len(t, txns, 3)
	assert.True(t, txns[0].IsReconciled)
	require.NotNil(t, txns[0].ConfidenceScore)
	assert.InDelta(t, 1.0, *txns[0].ConfidenceScore, 1e-9)
	assert.Equal(t, "je-1", txns[0].MatchedTransactionID)
	assert.False(t, txns[1].IsReconciled)
	assert.Nil(t, txns[1].ConfidenceScore)

	summary, err := f.db.Storage.GetSummary(ctx, session.ID)
	require.NoError(t, err)
	assert.InDelta(t, 200.0/3, summary.ReconciliationRate, 1e-9)
}

func TestReconcile_SkipsAlreadyReconciled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.db.SeedRules(testutil.NewRule("reference").MatchReference().AutoApprove(1).Build())

	orch := NewOrchestrator(f.db.Storage)
	_, err := orch.Reconcile(ctx, f.request())
	require.NoError(t, err)

	second, err := orch.Reconcile(ctx, f.request())
	require.NoError(t, err)
	assert.Equal(t, 2, second.TotalTransactions)
	assert.Zero(t, second.MatchedTransactions)
}

func TestReconcile_GlobalThresholdGate(t *testing.T) {
	f := newFixture(t)
	f.db.SeedRules(testutil.NewRule("loose").MatchAmount(0.01).MatchDescription(0.9).MinConfidence(0.5).Build())

	req := f.request()
	req.Options.ConfidenceThreshold = 0.75
	session, err := NewOrchestrator(f.db.Storage).Reconcile(context.Background(), req)
	require.NoError(t, err)
	assert.Zero(t, session.MatchedTransactions)
}

func TestReconcile_ManualReviewHoldsAutoApproval(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.db.SeedRules(testutil.NewRule("reference").MatchReference().AutoApprove(1).Build())

	req := f.request()
	req.Options.RequireManualReview = true
	session, err := NewOrchestrator(f.db.Storage).Reconcile(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, model.SessionReviewRequired, session.Status)

	matches, err := f.db.Storage.ListMatches(ctx, model.MatchFilter{SessionID: session.ID})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, model.MatchReviewRequired, matches[0].Status)

	txns, err := f.db.Storage.ListTransactionsByStatement(ctx, f.statement.ID)
	require.NoError(t, err)
	assert.False(t, txns[0].IsReconciled)
}

func TestReconcile_InvalidOptionsCreateNothing(t *testing.T) {
	f := newFixture(t)
	req := f.request()
	req.Options.DateTolerance = 400

	_, err := NewOrchestrator(f.db.Storage).Reconcile(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, common.CodeValidation, common.CodeOf(err))
	assert.Equal(t, "date_tolerance", common.FieldOf(err))

	sessions, err := f.db.Storage.ListSessions(context.Background(), model.SessionFilter{})
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestReconcile_StatementFromOtherAccount(t *testing.T) {
	f := newFixture(t)
	other := f.db.SeedAccount("ledger-2")
	req := f.request()
	req.AccountID = other.ID

	_, err := NewOrchestrator(f.db.Storage).Reconcile(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, "statement_id", common.FieldOf(err))
}

// failingRepo injects a failure into one repository call.
type failingRepo struct {
	*storage.SQLiteStorage
	failSummary bool
}

func (r *failingRepo) InsertSummary(ctx context.Context, summary *model.ReconciliationSummary) error {
	if r.failSummary {
		return errors.New("summary table locked")
	}
	return r.SQLiteStorage.InsertSummary(ctx, summary)
}

func TestReconcile_FailureCancelsSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	repo := &failingRepo{SQLiteStorage: f.db.Storage, failSummary: true}

	session, err := NewOrchestrator(repo).Reconcile(ctx, f.request())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "summary table locked")
	require.NotNil(t, session)

	stored, err := f.db.Storage.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionCancelled, stored.Status)
	assert.Contains(t, stored.Notes, "summary table locked")
}

func TestReconcile_CancelledContextCancelsSession(t *testing.T) {
	f := newFixture(t)
	f.db.SeedRules(testutil.NewRule("amount").MatchAmount(0.01).Build())

	ctx, cancel := context.WithCancel(context.Background())
	blocking := &cancellingMatcher{cancel: cancel}

	session, err := NewOrchestrator(f.db.Storage, WithMatcher(blocking), WithWorkers(1)).Reconcile(ctx, f.request())
	require.Error(t, err)
	assert.Equal(t, common.CodeTimeout, common.CodeOf(err))

	stored, getErr := f.db.Storage.GetSession(context.Background(), session.ID)
	require.NoError(t, getErr)
	assert.Equal(t, model.SessionCancelled, stored.Status)
	assert.Equal(t, 1, blocking.calls)
}

// cancellingMatcher cancels the run on its first call.
type cancellingMatcher struct {
	cancel context.CancelFunc
	calls  int
}

func (m *cancellingMatcher) Match(model.BankTransaction, []model.LedgerEntry, []model.ReconciliationRule) (*model.ReconciliationMatch, bool) {
	m.calls++
	m.cancel()
	return nil, false
}

type panickingMatcher struct{}

func (panickingMatcher) Match(model.BankTransaction, []model.LedgerEntry, []model.ReconciliationRule) (*model.ReconciliationMatch, bool) {
	panic("bad rule")
}

func TestReconcile_MatcherPanicIsMatchingError(t *testing.T) {
	f := newFixture(t)

	_, err := NewOrchestrator(f.db.Storage, WithMatcher(panickingMatcher{})).Reconcile(context.Background(), f.request())
	require.Error(t, err)
	assert.Equal(t, common.CodeMatching, common.CodeOf(err))
}

func TestReconcile_InvalidatesAccountScope(t *testing.T) {
	f := newFixture(t)
	c := cache.New(cache.DefaultConfig())
	accountKey := cache.Key(cache.EntitySessions, testutil.DefaultOrg, f.account.ID, nil)
	otherKey := cache.Key(cache.EntitySessions, testutil.DefaultOrg, "other-account", nil)
	c.Set(accountKey, "stale", time.Minute)
	c.Set(otherKey, "fresh", time.Minute)

	_, err := NewOrchestrator(f.db.Storage, WithCache(c)).Reconcile(context.Background(), f.request())
	require.NoError(t, err)

	_, ok := c.Get(accountKey)
	assert.False(t, ok)
	_, ok = c.Get(otherKey)
	assert.True(t, ok)
}

func TestReviewMatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.db.SeedRules(testutil.NewRule("amount").MatchAmount(0.01).Build())

	orch := NewOrchestrator(f.db.Storage)
	session, err := orch.Reconcile(ctx, f.request())
	require.NoError(t, err)

	matches, err := f.db.Storage.ListMatches(ctx, model.MatchFilter{SessionID: session.ID})
	require.NoError(t, err)
	require.Len(t, matches, 2)

	_, err = orch.ReviewMatch(ctx, matches[0].ID, model.MatchAutoApproved, "reviewer", "")
	assert.Equal(t, "status", common.FieldOf(err))

	approved, err := orch.ReviewMatch(ctx, matches[0].ID, model.MatchApproved, "reviewer", "checked invoice")
	require.NoError(t, err)
	assert.Equal(t, model.MatchApproved, approved.Status)
	require.NotNil(t, approved.ReviewedAt)

	stored, err := f.db.Storage.GetMatch(ctx, matches[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "reviewer", stored.ReviewedBy)
	assert.Equal(t, "checked invoice", stored.ReviewNotes)

	txns, err := f.db.Storage.ListTransactionsByStatement(ctx, f.statement.ID)
	require.NoError(t, err)
	reconciled := 0
	for _, txn := range txns {
		if txn.IsReconciled {
			reconciled++
			assert.Equal(t, matches[0].BankTransactionID, txn.ID)
		}
	}
	assert.Equal(t, 1, reconciled)

	_, err = orch.ReviewMatch(ctx, matches[0].ID, model.MatchRejected, "reviewer", "")
	assert.ErrorIs(t, err, ErrAlreadyReviewed)

	rejected, err := orch.ReviewMatch(ctx, matches[1].ID, model.MatchRejected, "reviewer", "wrong entry")
	require.NoError(t, err)
	assert.Equal(t, model.MatchRejected, rejected.Status)
}

func TestReconcile_RunTolerancesLimitRules(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	account := db.SeedAccount("ledger-1")
	statement, _ := db.SeedStatement(account, "2024-01",
		model.TransactionData{TransactionDate: jan15, Description: "Wire in", Amount: 100},
	)
	db.SeedLedger("ledger-1",
		model.LedgerEntry{ID: "je-1", EntryDate: jan15.AddDate(0, 0, 2), Description: "Wire", Total: 100.5},
	)
	db.SeedRules(testutil.NewRule("loose").MatchAmount(1).MatchDate(5).MinConfidence(1).Build())

	tests := []struct {
		name    string
		amount  float64
		days    int
		matched int
	}{
		{name: "amount limited", amount: 0.25, days: model.MaxDateTolerance, matched: 0},
		{name: "date limited", amount: model.MaxAmountTolerance, days: 1, matched: 0},
		{name: "rule tolerances apply", amount: model.MaxAmountTolerance, days: model.MaxDateTolerance, matched: 1},
	}

	orch := NewOrchestrator(db.Storage)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := defaultOptions()
			opts.AmountTolerance = tt.amount
			opts.DateTolerance = tt.days

			session, err := orch.Reconcile(ctx, Request{AccountID: account.ID, StatementID: statement.ID, Options: opts})
			require.NoError(t, err)
			assert.Equal(t, tt.matched, session.MatchedTransactions)

			matches, err := db.Storage.ListMatches(ctx, model.MatchFilter{SessionID: session.ID})
			require.NoError(t, err)
			assert.Len(t, matches, tt.matched)
		})
	}
}

func TestReviewMatch_LineApprovedOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.db.SeedRules(testutil.NewRule("amount").MatchAmount(0.01).Build())

	orch := NewOrchestrator(f.db.Storage)
	first, err := orch.Reconcile(ctx, f.request())
	require.NoError(t, err)
	second, err := orch.Reconcile(ctx, f.request())
	require.NoError(t, err)

	matchFor := func(sessionID string) model.ReconciliationMatch {
		t.Helper()
		matches, err := f.db.Storage.ListMatches(ctx, model.MatchFilter{SessionID: sessionID})
		require.NoError(t, err)
		for _, m := range matches {
			if m.BankTransactionID == f.txns[0].ID {
				return m
			}
		}
		t.Fatalf("session %s has no match for %s", sessionID, f.txns[0].ID)
		return model.ReconciliationMatch{}
	}
	earlier, later := matchFor(first.ID), matchFor(second.ID)
	require.Equal(t, model.MatchPending, later.Status)

	_, err = orch.ReviewMatch(ctx, earlier.ID, model.MatchApproved, "reviewer", "")
	require.NoError(t, err)

	_, err = orch.ReviewMatch(ctx, later.ID, model.MatchApproved, "reviewer", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrAlreadyReconciled)
	assert.Equal(t, common.CodeValidation, common.CodeOf(err))

	stored, err := f.db.Storage.GetMatch(ctx, later.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MatchPending, stored.Status)
	assert.Empty(t, stored.ReviewedBy)

	txns, err := f.db.Storage.ListTransactionsByStatement(ctx, f.statement.ID)
	require.NoError(t, err)
	assert.Equal(t, earlier.LedgerTransactionID, txns[0].MatchedTransactionID)

	rejected, err := orch.ReviewMatch(ctx, later.ID, model.MatchRejected, "reviewer", "duplicate run")
	require.NoError(t, err)
	assert.Equal(t, model.MatchRejected, rejected.Status)
}
