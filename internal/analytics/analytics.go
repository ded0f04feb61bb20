// Package analytics derives read-only reconciliation reports from session
// history.
package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/the-books-must-balance/internal/cache"
	"github.com/Veraticus/the-books-must-balance/internal/common"
	"github.com/Veraticus/the-books-must-balance/internal/model"
	"github.com/Veraticus/the-books-must-balance/internal/reconcile"
)

// Store is the persistence analytics reads from and records snapshots to.
type Store interface {
	ListSessions(ctx context.Context, filter model.SessionFilter) ([]model.ReconciliationSession, error)
	ListMatches(ctx context.Context, filter model.MatchFilter) ([]model.ReconciliationMatch, error)
	ListActiveRules(ctx context.Context, organizationID string) ([]model.ReconciliationRule, error)
	InsertInsights(ctx context.Context, insights *model.Insights) error
}

// Supported periods.
const (
	PeriodWeek    = "week"
	PeriodMonth   = "month"
	PeriodQuarter = "quarter"
	PeriodYear    = "year"
)

// Thresholds used for trend detection and recommendations.
const (
	TrendDelta          = 5.0
	TargetRate          = 80.0
	MinRuleSample       = 5
	PoorApprovalRate    = 50.0
	maxSessionsAnalyzed = 1000
)

// PeriodStart returns the beginning of period ending at now.
func PeriodStart(period string, now time.Time) (time.Time, error) {
	switch period {
	case PeriodWeek:
		return now.AddDate(0, 0, -7), nil
	case PeriodMonth, "":
		return now.AddDate(0, -1, 0), nil
	case PeriodQuarter:
		return now.AddDate(0, -3, 0), nil
	case PeriodYear:
		return now.AddDate(-1, 0, 0), nil
	}
	return time.Time{}, common.NewFieldError("period", fmt.Sprintf("unknown period %q", period))
}

// Generator builds analytics reports.
type Generator struct {
	store  Store
	cache  *cache.Cache
	now    func() time.Time
	logger *slog.Logger
}

// NewGenerator creates a Generator. c may be nil.
func NewGenerator(store Store, c *cache.Cache) *Generator {
	return &Generator{
		store:  store,
		cache:  c,
		now:    func() time.Time { return time.Now().UTC() },
		logger: slog.Default().With("component", "analytics"),
	}
}

type cacheFilter struct {
	Period string `json:"period"`
}

// Generate reports on an organization's sessions in period, optionally
// narrowed to one account. Results are cached and every freshly computed
// report is recorded as an insights snapshot.
func (g *Generator) Generate(ctx context.Context, orgID, accountID, period string) (*model.ReconciliationAnalytics, error) {
	if orgID == "" {
		return nil, common.NewFieldError("organization_id", "is required")
	}
	if period == "" {
		period = PeriodMonth
	}
	now := g.now()
	since, err := PeriodStart(period, now)
	if err != nil {
		return nil, err
	}

	scope := accountID
	if scope == "" {
		scope = "all"
	}
	key := cache.Key(cache.EntityAnalytics, orgID, scope, cacheFilter{Period: period})
	if g.cache != nil {
		if v, ok := g.cache.Get(key); ok {
			if report, ok := v.(*model.ReconciliationAnalytics); ok {
				return report, nil
			}
		}
	}

	sessions, err := g.store.ListSessions(ctx, model.SessionFilter{
		Since:          &since,
		OrganizationID: orgID,
		AccountID:      accountID,
		Limit:          maxSessionsAnalyzed,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load sessions: %w", err)
	}

	matches, err := g.sessionMatches(ctx, orgID, sessions)
	if err != nil {
		return nil, err
	}

	rules, err := g.store.ListActiveRules(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}

	report := Build(sessions, matches, rules, since, now)
	report.OrganizationID = orgID
	report.AccountID = accountID

	if g.cache != nil {
		g.cache.Set(key, report, g.cache.TTL(cache.EntityAnalytics))
	}

	insights := &model.Insights{
		GeneratedAt:    now,
		Analytics:      report,
		OrganizationID: orgID,
		AccountID:      accountID,
		Period:         period,
	}
	if err := g.store.InsertInsights(ctx, insights); err != nil {
		common.LogWarn("Failed to record insights snapshot", common.Fields{
			"organization_id": orgID,
			"period":          period,
			"error":           err.Error(),
		})
	}

	g.logger.Debug("Generated analytics",
		"organization_id", orgID,
		"account_id", accountID,
		"sessions", report.TotalSessions)
	return report, nil
}

func (g *Generator) sessionMatches(ctx context.Context, orgID string, sessions []model.ReconciliationSession) ([]model.ReconciliationMatch, error) {
	var matches []model.ReconciliationMatch
	for _, session := range sessions {
		m, err := g.store.ListMatches(ctx, model.MatchFilter{SessionID: session.ID, OrganizationID: orgID})
		if err != nil {
			return nil, fmt.Errorf("failed to load matches for session %s: %w", session.ID, err)
		}
		matches = append(matches, m...)
	}
	return matches, nil
}

// Build computes a report from already loaded data. It has no side effects.
func Build(sessions []model.ReconciliationSession, matches []model.ReconciliationMatch, rules []model.ReconciliationRule, since, now time.Time) *model.ReconciliationAnalytics {
	report := &model.ReconciliationAnalytics{
		PeriodStart:          since,
		PeriodEnd:            now,
		GeneratedAt:          now,
		Trend:                model.TrendStable,
		StatusBreakdown:      map[model.SessionStatus]int{},
		MatchStatusBreakdown: map[model.MatchStatus]int{},
		RatePoints:           []model.RatePoint{},
		RuleEffectiveness:    []model.RuleEffectiveness{},
		Recommendations:      []string{},
		TotalSessions:        len(sessions),
		TotalMatches:         len(matches),
	}

	variance := decimal.Zero
	for _, s := range sessions {
		report.StatusBreakdown[s.Status]++
		variance = variance.Add(decimal.NewFromFloat(s.VarianceAmount))
		if s.Status != model.SessionCompleted && s.Status != model.SessionReviewRequired {
			continue
		}
		report.RatePoints = append(report.RatePoints, model.RatePoint{
			Date:      s.StartedAt,
			SessionID: s.ID,
			Rate:      reconcile.Rate(s.MatchedTransactions, s.TotalTransactions),
		})
	}
	report.TotalVariance = variance.InexactFloat64()

	sort.SliceStable(report.RatePoints, func(i, j int) bool {
		return report.RatePoints[i].Date.Before(report.RatePoints[j].Date)
	})
	report.AverageReconciliationRate = averageRate(report.RatePoints)
	report.Trend = trend(report.RatePoints)

	for _, m := range matches {
		report.MatchStatusBreakdown[m.Status]++
	}
	report.RuleEffectiveness = ruleEffectiveness(matches, rules)
	report.Recommendations = recommend(report, len(rules))

	return report
}

func averageRate(points []model.RatePoint) float64 {
	if len(points) == 0 {
		return 0
	}
	sum := 0.0
	for _, p := range points {
		sum += p.Rate
	}
	return sum / float64(len(points))
}

// trend compares the average rate of the older half of the points with the
// newer half.
func trend(points []model.RatePoint) string {
	if len(points) < 2 {
		return model.TrendStable
	}
	mid := len(points) / 2
	delta := averageRate(points[mid:]) - averageRate(points[:mid])
	switch {
	case delta > TrendDelta:
		return model.TrendImproving
	case delta < -TrendDelta:
		return model.TrendDeclining
	default:
		return model.TrendStable
	}
}

func ruleEffectiveness(matches []model.ReconciliationMatch, rules []model.ReconciliationRule) []model.RuleEffectiveness {
	names := make(map[string]string, len(rules))
	for _, r := range rules {
		names[r.ID] = r.Name
	}

	byRule := make(map[string]*model.RuleEffectiveness)
	confidence := make(map[string]float64)
	for _, m := range matches {
		if m.RuleID == "" {
			continue
		}
		eff, ok := byRule[m.RuleID]
		if !ok {
			name := names[m.RuleID]
			if name == "" {
				name = m.RuleID
			}
			eff = &model.RuleEffectiveness{RuleID: m.RuleID, RuleName: name}
			byRule[m.RuleID] = eff
		}
		eff.Matches++
		confidence[m.RuleID] += m.ConfidenceScore
		switch m.Status {
		case model.MatchAutoApproved:
			eff.AutoApproved++
		case model.MatchApproved:
			eff.Approved++
		case model.MatchRejected:
			eff.Rejected++
		default:
			eff.Pending++
		}
	}

	out := make([]model.RuleEffectiveness, 0, len(byRule))
	for id, eff := range byRule {
		eff.AverageConfidence = confidence[id] / float64(eff.Matches)
		if decided := eff.AutoApproved + eff.Approved + eff.Rejected; decided > 0 {
			eff.ApprovalRate = float64(eff.AutoApproved+eff.Approved) / float64(decided) * 100
		}
		out = append(out, *eff)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Matches != out[j].Matches {
			return out[i].Matches > out[j].Matches
		}
		return out[i].RuleID < out[j].RuleID
	})
	return out
}

func recommend(report *model.ReconciliationAnalytics, activeRules int) []string {
	recs := []string{}

	if activeRules == 0 {
		recs = append(recs, "No active reconciliation rules. Add a rule so transactions can be matched.")
	}
	if report.TotalSessions == 0 {
		return append(recs, "No reconciliation sessions in this period. Run a reconciliation to collect analytics.")
	}

	if len(report.RatePoints) > 0 && report.AverageReconciliationRate < TargetRate {
		recs = append(recs, fmt.Sprintf(
			"Average reconciliation rate is %.1f%%. Review outstanding items for patterns a new rule could match.",
			report.AverageReconciliationRate))
	}
	if report.Trend == model.TrendDeclining {
		recs = append(recs, "Reconciliation rate is declining. Check whether recent statements use new descriptions or references.")
	}
	if cancelled := report.StatusBreakdown[model.SessionCancelled]; cancelled > 0 {
		recs = append(recs, fmt.Sprintf("%d session(s) were cancelled. Inspect their notes for the failure cause.", cancelled))
	}
	if pending := report.MatchStatusBreakdown[model.MatchPending] + report.MatchStatusBreakdown[model.MatchReviewRequired]; pending > 0 {
		recs = append(recs, fmt.Sprintf("%d match(es) are waiting for review.", pending))
	}
	for _, eff := range report.RuleEffectiveness {
		decided := eff.AutoApproved + eff.Approved + eff.Rejected
		if decided >= MinRuleSample && eff.ApprovalRate < PoorApprovalRate {
			recs = append(recs, fmt.Sprintf(
				"Rule %q is rejected in %.0f%% of reviewed matches. Tighten its tolerances or raise its minimum confidence.",
				eff.RuleName, 100-eff.ApprovalRate))
		}
	}
	if report.TotalVariance > 0 {
		recs = append(recs, fmt.Sprintf("Unresolved variance of %.2f across sessions.", report.TotalVariance))
	}

	return recs
}
