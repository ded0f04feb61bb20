// Package matching scores bank transactions against ledger entries using
// prioritized reconciliation rules.
package matching

import "github.com/Veraticus/the-books-must-balance/internal/model"

// Matcher pairs a bank transaction with at most one ledger entry.
type Matcher interface {
	// Match returns the first acceptable candidate under the first rule that
	// produces one, in rule priority order and candidate order.
	Match(bank model.BankTransaction, candidates []model.LedgerEntry, rules []model.ReconciliationRule) (*model.ReconciliationMatch, bool)
}

// Evaluation is the score of one (rule, candidate) pair.
type Evaluation struct {
	RuleID          string            `json:"rule_id"`
	RuleName        string            `json:"rule_name"`
	LedgerEntryID   string            `json:"ledger_entry_id"`
	Status          model.MatchStatus `json:"status,omitempty"`
	MatchedCriteria []string          `json:"matched_criteria"`
	Score           float64           `json:"score"`
	Accepted        bool              `json:"accepted"`
}
