package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/the-books-must-balance/internal/cache"
	"github.com/Veraticus/the-books-must-balance/internal/common"
	"github.com/Veraticus/the-books-must-balance/internal/model"
	"github.com/Veraticus/the-books-must-balance/internal/reconcile"
	"github.com/Veraticus/the-books-must-balance/internal/testutil"
)

var now = time.Date(2024, 6, 30, 12, 0, 0, 0, time.UTC)

func session(id string, day int, status model.SessionStatus, matched, total int) model.ReconciliationSession {
	return model.ReconciliationSession{
		StartedAt:           time.Date(2024, 6, day, 0, 0, 0, 0, time.UTC),
		ID:                  id,
		Status:              status,
		TotalTransactions:   total,
		MatchedTransactions: matched,
	}
}

func TestBuild_RatesAndTrend(t *testing.T) {
	sessions := []model.ReconciliationSession{
		session("s4", 20, model.SessionCompleted, 9, 10),
		session("s1", 1, model.SessionCompleted, 5, 10),
		session("s3", 15, model.SessionReviewRequired, 10, 10),
		session("s2", 8, model.SessionCompleted, 6, 10),
		session("s5", 21, model.SessionCancelled, 0, 0),
	}
	sessions[0].VarianceAmount = 10.5
	sessions[1].VarianceAmount = 0.25

	report := Build(sessions, nil, nil, now.AddDate(0, -1, 0), now)

	assert.Equal(t, 5, report.TotalSessions)
	require.Len(t, report.RatePoints, 4)
	assert.Equal(t, "s1", report.RatePoints[0].SessionID)
	assert.Equal(t, "s4", report.RatePoints[3].SessionID)
	assert.InDelta(t, 75, report.AverageReconciliationRate, 1e-9)
	assert.Equal(t, model.TrendImproving, report.Trend)
	assert.InDelta(t, 10.75, report.TotalVariance, 1e-9)
	assert.Equal(t, 3, report.StatusBreakdown[model.SessionCompleted])
	assert.Equal(t, 1, report.StatusBreakdown[model.SessionCancelled])
}

func TestTrend(t *testing.T) {
	points := func(rates ...float64) []model.RatePoint {
		out := make([]model.RatePoint, len(rates))
		for i, r := range rates {
			out[i] = model.RatePoint{Rate: r}
		}
		return out
	}

	assert.Equal(t, model.TrendStable, trend(nil))
	assert.Equal(t, model.TrendStable, trend(points(50)))
	assert.Equal(t, model.TrendImproving, trend(points(50, 60)))
	assert.Equal(t, model.TrendDeclining, trend(points(90, 80, 70, 60)))
	assert.Equal(t, model.TrendStable, trend(points(80, 82, 79, 83)))
}

func TestBuild_RuleEffectiveness(t *testing.T) {
	rules := []model.ReconciliationRule{{ID: "r1", Name: "exact"}}
	var matches []model.ReconciliationMatch
	for i := 0; i < 6; i++ {
		matches = append(matches, model.ReconciliationMatch{RuleID: "r1", Status: model.MatchRejected, ConfidenceScore: 0.5})
	}
	matches = append(matches,
		model.ReconciliationMatch{RuleID: "r1", Status: model.MatchApproved, ConfidenceScore: 1},
		model.ReconciliationMatch{RuleID: "gone", Status: model.MatchAutoApproved, ConfidenceScore: 1},
		model.ReconciliationMatch{RuleID: "gone", Status: model.MatchPending, ConfidenceScore: 0.5},
	)

	report := Build([]model.ReconciliationSession{session("s1", 1, model.SessionCompleted, 9, 9)}, matches, rules, now, now)

	require.Len(t, report.RuleEffectiveness, 2)
	exact := report.RuleEffectiveness[0]
	assert.Equal(t, "exact", exact.RuleName)
	assert.Equal(t, 7, exact.Matches)
	assert.Equal(t, 6, exact.Rejected)
	assert.InDelta(t, 100.0/7, exact.ApprovalRate, 1e-9)
	assert.InDelta(t, 4.0/7, exact.AverageConfidence, 1e-9)

	gone := report.RuleEffectiveness[1]
	assert.Equal(t, "gone", gone.RuleName)
	assert.Equal(t, 1, gone.Pending)
	assert.InDelta(t, 100, gone.ApprovalRate, 1e-9)

	assert.Equal(t, 1, report.MatchStatusBreakdown[model.MatchPending])
	assert.Contains(t, report.Recommendations, "1 match(es) are waiting for review.")
	found := false
	for _, rec := range report.Recommendations {
		if rec == `Rule "exact" is rejected in 86% of reviewed matches. Tighten its tolerances or raise its minimum confidence.` {
			found = true
		}
	}
	assert.True(t, found, report.Recommendations)
}

func TestBuild_EmptyRecommendations(t *testing.T) {
	report := Build(nil, nil, nil, now, now)
	assert.Zero(t, report.AverageReconciliationRate)
	assert.Len(t, report.Recommendations, 2)
}

func TestPeriodStart(t *testing.T) {
	got, err := PeriodStart(PeriodQuarter, now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 30, 12, 0, 0, 0, time.UTC), got)

	_, err = PeriodStart("decade", now)
	assert.Equal(t, common.CodeValidation, common.CodeOf(err))
}

func TestGenerate_CachesAndRecordsInsights(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	account := db.SeedAccount("ledger-1")
	statement, _ := db.SeedStatement(account, "2024-06", model.TransactionData{
		TransactionDate: time.Now().UTC(), Description: "deposit", Amount: 10,
	})
	db.SeedLedger("ledger-1", model.LedgerEntry{ID: "je-1", EntryDate: time.Now().UTC(), Total: 10, Description: "deposit"})
	db.SeedRules(testutil.NewRule("amount").MatchAmount(0).AutoApprove(1).Build())

	_, err := reconcile.NewOrchestrator(db.Storage).Reconcile(ctx, reconcile.Request{
		AccountID:   account.ID,
		StatementID: statement.ID,
		Options:     model.ReconciliationOptions{BatchSize: 10},
	})
	require.NoError(t, err)

	c := cache.New(cache.DefaultConfig())
	gen := NewGenerator(db.Storage, c)

	report, err := gen.Generate(ctx, testutil.DefaultOrg, "", PeriodMonth)
	require.NoError(t, err)
	assert.Equal(t, 1, report.TotalSessions)
	assert.InDelta(t, 100, report.AverageReconciliationRate, 1e-9)
	assert.Equal(t, 1, report.MatchStatusBreakdown[model.MatchAutoApproved])
	require.Len(t, report.RuleEffectiveness, 1)
	assert.Equal(t, "amount", report.RuleEffectiveness[0].RuleName)

	again, err := gen.Generate(ctx, testutil.DefaultOrg, "", PeriodMonth)
	require.NoError(t, err)
	assert.Same(t, report, again)

	count, err := db.Storage.CountInsights(ctx, testutil.DefaultOrg)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	c.Invalidate(cache.OrgPattern(testutil.DefaultOrg))
	_, err = gen.Generate(ctx, testutil.DefaultOrg, account.ID, PeriodMonth)
	require.NoError(t, err)
	count, err = db.Storage.CountInsights(ctx, testutil.DefaultOrg)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestGenerate_RequiresOrganization(t *testing.T) {
	db := testutil.SetupTestDB(t)
	_, err := NewGenerator(db.Storage, nil).Generate(context.Background(), "", "", "")
	assert.Equal(t, "organization_id", common.FieldOf(err))
}
