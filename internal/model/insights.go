package model

import "time"

// RuleEffectiveness aggregates how a rule performed across sessions.
type RuleEffectiveness struct {
	RuleID            string  `json:"rule_id"`
	RuleName          string  `json:"rule_name"`
	Matches           int     `json:"matches"`
	AutoApproved      int     `json:"auto_approved"`
	Approved          int     `json:"approved"`
	Rejected          int     `json:"rejected"`
	Pending           int     `json:"pending"`
	AverageConfidence float64 `json:"average_confidence"`
	ApprovalRate      float64 `json:"approval_rate"`
}

// RatePoint is one session's reconciliation rate in a trend.
type RatePoint struct {
	Date      time.Time `json:"date"`
	SessionID string    `json:"session_id"`
	Rate      float64   `json:"rate"`
}

// Trend directions.
const (
	TrendImproving = "improving"
	TrendDeclining = "declining"
	TrendStable    = "stable"
)

// ReconciliationAnalytics is the derived, read-only analytics report.
type ReconciliationAnalytics struct {
	PeriodStart               time.Time             `json:"period_start"`
	PeriodEnd                 time.Time             `json:"period_end"`
	GeneratedAt               time.Time             `json:"generated_at"`
	OrganizationID            string                `json:"organization_id"`
	AccountID                 string                `json:"account_id,omitempty"`
	Trend                     string                `json:"trend"`
	StatusBreakdown           map[SessionStatus]int `json:"status_breakdown"`
	MatchStatusBreakdown      map[MatchStatus]int   `json:"match_status_breakdown"`
	RatePoints                []RatePoint           `json:"rate_points"`
	RuleEffectiveness         []RuleEffectiveness   `json:"rule_effectiveness"`
	Recommendations           []string              `json:"recommendations"`
	TotalSessions             int                   `json:"total_sessions"`
	TotalMatches              int                   `json:"total_matches"`
	AverageReconciliationRate float64               `json:"average_reconciliation_rate"`
	TotalVariance             float64               `json:"total_variance"`
}

// Insights is a persisted analytics snapshot.
type Insights struct {
	GeneratedAt    time.Time                `json:"generated_at"`
	Analytics      *ReconciliationAnalytics `json:"analytics"`
	ID             string                   `json:"id"`
	OrganizationID string                   `json:"organization_id"`
	AccountID      string                   `json:"account_id,omitempty"`
	Period         string                   `json:"period"`
}
