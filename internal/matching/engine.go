package matching

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/the-books-must-balance/internal/model"
)

// Engine is the rule-based Matcher. It holds no state and is safe for
// concurrent use.
type Engine struct{}

// NewEngine creates a matching engine.
func NewEngine() *Engine {
	return &Engine{}
}

// Match implements Matcher. Evaluation is first-match-wins: the first
// candidate that clears a rule's minimum confidence is returned even if a
// later candidate would score higher.
func (e *Engine) Match(bank model.BankTransaction, candidates []model.LedgerEntry, rules []model.ReconciliationRule) (*model.ReconciliationMatch, bool) {
	if len(candidates) == 0 {
		return nil, false
	}

	for _, rule := range OrderRules(rules) {
		for _, candidate := range candidates {
			result := evaluate(bank, candidate, rule)
			if !result.accepted {
				continue
			}
			return result.match(bank, candidate, rule), true
		}
	}

	return nil, false
}

// EvaluateAll scores every active rule against every candidate. It does not
// change what Match would return.
func (e *Engine) EvaluateAll(bank model.BankTransaction, candidates []model.LedgerEntry, rules []model.ReconciliationRule) []Evaluation {
	ordered := OrderRules(rules)
	evaluations := make([]Evaluation, 0, len(ordered)*len(candidates))

	for _, rule := range ordered {
		for _, candidate := range candidates {
			result := evaluate(bank, candidate, rule)
			ev := Evaluation{
				RuleID:          rule.ID,
				RuleName:        rule.Name,
				LedgerEntryID:   candidate.ID,
				MatchedCriteria: result.criteria,
				Score:           result.score,
				Accepted:        result.accepted,
			}
			if result.accepted {
				ev.Status = result.status(rule)
			}
			evaluations = append(evaluations, ev)
		}
	}

	return evaluations
}

// OrderRules returns the active rules sorted by priority, highest first.
// Equal priorities keep a stable order by ID.
func OrderRules(rules []model.ReconciliationRule) []model.ReconciliationRule {
	ordered := make([]model.ReconciliationRule, 0, len(rules))
	for _, rule := range rules {
		if rule.IsActive {
			ordered = append(ordered, rule)
		}
	}

	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Priority != ordered[j].Priority {
			return ordered[i].Priority > ordered[j].Priority
		}
		return ordered[i].ID < ordered[j].ID
	})

	return ordered
}

// CapTolerances returns copies of rules whose amount and date tolerances are
// limited to at most amount and days. Rules already inside the limits are
// unchanged.
func CapTolerances(rules []model.ReconciliationRule, amount float64, days int) []model.ReconciliationRule {
	capped := make([]model.ReconciliationRule, len(rules))
	for i, rule := range rules {
		rule.AmountTolerance = min(rule.AmountTolerance, amount)
		rule.DateTolerance = min(rule.DateTolerance, days)
		capped[i] = rule
	}
	return capped
}

type evaluation struct {
	criteria   []string
	amountDiff decimal.Decimal
	score      float64
	dayDiff    int
	accepted   bool
}

func (ev evaluation) status(rule model.ReconciliationRule) model.MatchStatus {
	if rule.AutoApprove && ev.score >= rule.ConfidenceThreshold {
		return model.MatchAutoApproved
	}
	return model.MatchPending
}

func (ev evaluation) match(bank model.BankTransaction, ledger model.LedgerEntry, rule model.ReconciliationRule) *model.ReconciliationMatch {
	diff, _ := ev.amountDiff.Float64()
	return &model.ReconciliationMatch{
		RuleID:              rule.ID,
		BankTransactionID:   bank.ID,
		LedgerTransactionID: ledger.ID,
		Status:              ev.status(rule),
		MatchedCriteria:     ev.criteria,
		ConfidenceScore:     ev.score,
		AmountDifference:    diff,
		DateDifferenceDays:  ev.dayDiff,
	}
}

// evaluate scores one pair. A rule with no enabled criteria never matches,
// and a score of zero is never accepted.
func evaluate(bank model.BankTransaction, ledger model.LedgerEntry, rule model.ReconciliationRule) evaluation {
	ev := evaluation{
		criteria:   []string{},
		amountDiff: AmountDifference(bank.Amount, ledger.Total),
		dayDiff:    DayDifference(bank.TransactionDate, ledger.EntryDate),
	}

	applicable := rule.Criteria.ApplicableCount()
	if applicable == 0 {
		return ev
	}

	if rule.Criteria.MatchAmount && ev.amountDiff.LessThanOrEqual(decimal.NewFromFloat(rule.AmountTolerance)) {
		ev.criteria = append(ev.criteria, model.CriterionAmount)
	}
	if rule.Criteria.MatchDate && ev.dayDiff <= rule.DateTolerance {
		ev.criteria = append(ev.criteria, model.CriterionDate)
	}
	if rule.Criteria.MatchDescription && Similarity(bank.Description, ledger.Description) >= rule.DescriptionSimilarity {
		ev.criteria = append(ev.criteria, model.CriterionDescription)
	}
	if rule.Criteria.MatchReference && referenceMatches(bank, ledger, rule.Criteria.ReferencePatterns) {
		ev.criteria = append(ev.criteria, model.CriterionReference)
	}

	ev.score = float64(len(ev.criteria)) / float64(applicable)
	ev.accepted = ev.score > 0 && ev.score >= rule.MinConfidence
	return ev
}

// AmountDifference returns |bank - |ledger|| in exact decimal arithmetic.
func AmountDifference(bankAmount, ledgerTotal float64) decimal.Decimal {
	return decimal.NewFromFloat(bankAmount).Sub(decimal.NewFromFloat(ledgerTotal).Abs()).Abs()
}

// DayDifference returns the absolute number of calendar days between a and b.
func DayDifference(a, b time.Time) int {
	da := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	db := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	days := int(da.Sub(db).Hours() / 24)
	if days < 0 {
		return -days
	}
	return days
}

// referenceMatches checks configured patterns against the bank reference and
// the ledger entry number. Without patterns the two references are compared
// directly.
func referenceMatches(bank model.BankTransaction, ledger model.LedgerEntry, patterns []string) bool {
	bankRef := strings.ToLower(strings.TrimSpace(bank.Reference))
	entryNumber := strings.ToLower(strings.TrimSpace(ledger.EntryNumber))

	if len(patterns) > 0 {
		for _, p := range patterns {
			p = strings.ToLower(strings.TrimSpace(p))
			if p == "" {
				continue
			}
			if strings.Contains(bankRef, p) || strings.Contains(entryNumber, p) {
				return true
			}
		}
		return false
	}

	if bankRef == "" {
		return false
	}
	for _, ref := range []string{entryNumber, strings.ToLower(strings.TrimSpace(ledger.Reference))} {
		if ref != "" && (strings.Contains(bankRef, ref) || strings.Contains(ref, bankRef)) {
			return true
		}
	}
	return false
}

// Ensure Engine implements Matcher.
var _ Matcher = (*Engine)(nil)
