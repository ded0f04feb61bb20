package sheets

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/the-books-must-balance/internal/model"
)

// Report is everything one export writes.
type Report struct {
	Session *model.ReconciliationSession
	Summary *model.ReconciliationSummary
	Matches []model.ReconciliationMatch
}

// Title names the report header row.
func (r *Report) Title() string {
	return fmt.Sprintf("Reconciliation %s", r.Session.ID)
}

// Section header rows. Their indexes are bolded by the formatter.
const (
	sectionSummary     = "Summary"
	sectionExceptions  = "Exceptions"
	sectionOutstanding = "Outstanding Items"
	sectionMatches     = "Matches"
)

func money(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}

// rows lays the report out top to bottom. The second return value lists the
// indexes of section header rows.
func (r *Report) rows() ([][]any, []int) {
	s := r.Session
	sum := r.Summary

	values := [][]any{
		{r.Title(), fmt.Sprintf("%s (%s)", s.AccountID, s.StatementID)},
		{"Status", string(s.Status)},
		{"Started", s.StartedAt.Format("2006-01-02 15:04")},
		{},
	}
	var headers []int
	section := func(title string, columns ...any) {
		headers = append(headers, len(values))
		values = append(values, []any{title})
		if len(columns) > 0 {
			values = append(values, columns)
		}
	}

	section(sectionSummary)
	values = append(values,
		[]any{"Bank Transactions", sum.TotalBankTransactions, sum.MatchedBankTransactions},
		[]any{"Ledger Transactions", sum.TotalLedgerTransactions, sum.MatchedLedgerTransactions},
		[]any{"Total Bank Amount", money(sum.TotalBankAmount)},
		[]any{"Total Ledger Amount", money(sum.TotalLedgerAmount)},
		[]any{"Matched Amount", money(sum.MatchedAmount)},
		[]any{"Variance", money(sum.VarianceAmount)},
		[]any{"Reconciliation Rate", fmt.Sprintf("%.1f%%", sum.ReconciliationRate)},
		[]any{},
	)

	section(sectionExceptions, "Type", "Severity", "Transaction", "Description")
	for _, e := range sum.Exceptions {
		values = append(values, []any{string(e.Type), e.Severity, e.TransactionID, e.Description})
	}
	values = append(values, []any{})

	// Oldest first within each priority.
	items := make([]model.OutstandingItem, len(sum.OutstandingItems))
	copy(items, sum.OutstandingItems)
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Priority != items[j].Priority {
			return items[i].Priority == model.PriorityHigh
		}
		return items[i].AgeDays > items[j].AgeDays
	})

	section(sectionOutstanding, "Date", "Side", "Description", "Amount", "Priority", "Age (days)")
	for _, item := range items {
		values = append(values, []any{
			item.Date.Format("2006-01-02"),
			item.Side,
			item.Description,
			money(item.Amount),
			item.Priority,
			item.AgeDays,
		})
	}

	if len(r.Matches) > 0 {
		values = append(values, []any{})
		section(sectionMatches, "Bank Transaction", "Ledger Entry", "Rule", "Status", "Confidence", "Criteria")
		for _, m := range r.Matches {
			values = append(values, []any{
				m.BankTransactionID,
				m.LedgerTransactionID,
				m.RuleID,
				string(m.Status),
				fmt.Sprintf("%.2f", m.ConfidenceScore),
				strings.Join(m.MatchedCriteria, ", "),
			})
		}
	}

	return values, headers
}
