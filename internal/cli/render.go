package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/Veraticus/the-books-must-balance/internal/cache"
	"github.com/Veraticus/the-books-must-balance/internal/matching"
	"github.com/Veraticus/the-books-must-balance/internal/model"
	"github.com/Veraticus/the-books-must-balance/internal/monitor"
)

const dateFormat = "2006-01-02"

// Table renders rows under a bold header.
func Table(headers []string, rows [][]string) string {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(mutedStyle).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerCell
			}
			return bodyCell
		}).
		Headers(headers...).
		Rows(rows...).
		String()
}

func amount(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// RenderAccounts lists bank accounts.
func RenderAccounts(accounts []model.BankAccount) string {
	if len(accounts) == 0 {
		return FormatInfo("No accounts found")
	}
	rows := make([][]string, 0, len(accounts))
	for _, a := range accounts {
		active := "yes"
		if !a.IsActive {
			active = "no"
		}
		rows = append(rows, []string{a.ID, a.Name, a.BankName, a.Currency, a.LedgerAccountID, active})
	}
	return Table([]string{"ID", "Name", "Bank", "Currency", "Ledger Account", "Active"}, rows)
}

// RenderImport summarizes a statement import.
func RenderImport(stmt *model.BankStatement, duplicate bool, rejected []model.ValidationError, warnings []string) string {
	if duplicate {
		return FormatWarning(fmt.Sprintf("Statement %s was already imported (%s)", stmt.StatementNumber, stmt.ID))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Statement:    %s\n", stmt.StatementNumber)
	fmt.Fprintf(&b, "ID:           %s\n", stmt.ID)
	fmt.Fprintf(&b, "Period:       %s to %s\n", stmt.PeriodStart.Format(dateFormat), stmt.PeriodEnd.Format(dateFormat))
	fmt.Fprintf(&b, "Transactions: %d\n", stmt.TransactionCount)
	fmt.Fprintf(&b, "Status:       %s", status(string(stmt.ProcessingStatus)))

	for _, e := range rejected {
		b.WriteString("\n" + FormatError(e.Error()))
	}
	for _, w := range warnings {
		b.WriteString("\n" + FormatWarning(w))
	}
	return box("Statement Imported", b.String())
}

// RenderSession summarizes a reconciliation run. summary may be nil for a
// cancelled session.
func RenderSession(session *model.ReconciliationSession, summary *model.ReconciliationSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Session:   %s\n", session.ID)
	fmt.Fprintf(&b, "Status:    %s\n", status(string(session.Status)))
	fmt.Fprintf(&b, "Matched:   %d of %d\n", session.MatchedTransactions, session.TotalTransactions)
	fmt.Fprintf(&b, "Unmatched: %d", session.UnmatchedTransactions)
	if session.Notes != "" {
		b.WriteString("\n" + FormatError(session.Notes))
	}

	out := box(markReport+" Reconciliation", b.String())
	if summary == nil {
		return out
	}

	totals := Table(
		[]string{"", "Transactions", "Matched", "Amount"},
		[][]string{
			{"Bank", strconv.Itoa(summary.TotalBankTransactions), strconv.Itoa(summary.MatchedBankTransactions), amount(summary.TotalBankAmount)},
			{"Ledger", strconv.Itoa(summary.TotalLedgerTransactions), strconv.Itoa(summary.MatchedLedgerTransactions), amount(summary.TotalLedgerAmount)},
		},
	)
	out += "\n" + totals + "\n" + fmt.Sprintf("Rate %.1f%%  Matched %s  Variance %s",
		summary.ReconciliationRate, amount(summary.MatchedAmount), amount(summary.VarianceAmount))

	if len(summary.Exceptions) > 0 {
		rows := make([][]string, 0, len(summary.Exceptions))
		for _, e := range summary.Exceptions {
			rows = append(rows, []string{e.Severity, string(e.Type), e.TransactionID, e.Description})
		}
		out += "\n\n" + heading("Exceptions") + "\n" + Table([]string{"Severity", "Type", "Transaction", "Description"}, rows)
	}

	if len(summary.OutstandingItems) > 0 {
		rows := make([][]string, 0, len(summary.OutstandingItems))
		for _, item := range summary.OutstandingItems {
			rows = append(rows, []string{
				item.Date.Format(dateFormat), item.Side, item.Description, amount(item.Amount), item.Priority, strconv.Itoa(item.AgeDays),
			})
		}
		out += "\n\n" + heading("Outstanding") + "\n" + Table([]string{"Date", "Side", "Description", "Amount", "Priority", "Age"}, rows)
	}
	return out
}

// RenderSessions lists session history.
func RenderSessions(sessions []model.ReconciliationSession) string {
	if len(sessions) == 0 {
		return FormatInfo("No reconciliation sessions found")
	}
	rows := make([][]string, 0, len(sessions))
	for _, s := range sessions {
		rows = append(rows, []string{
			s.ID,
			s.StartedAt.Format("2006-01-02 15:04"),
			s.StatementID,
			status(string(s.Status)),
			fmt.Sprintf("%d/%d", s.MatchedTransactions, s.TotalTransactions),
			amount(s.VarianceAmount),
		})
	}
	return Table([]string{"Session", "Started", "Statement", "Status", "Matched", "Variance"}, rows)
}

// RenderMatches lists matches.
func RenderMatches(matches []model.ReconciliationMatch) string {
	if len(matches) == 0 {
		return FormatInfo("No matches found")
	}
	rows := make([][]string, 0, len(matches))
	for _, m := range matches {
		rows = append(rows, []string{
			m.ID,
			m.BankTransactionID,
			m.LedgerTransactionID,
			m.RuleID,
			status(string(m.Status)),
			fmt.Sprintf("%.2f", m.ConfidenceScore),
		})
	}
	return Table([]string{"Match", "Bank", "Ledger", "Rule", "Status", "Confidence"}, rows)
}

// RenderEvaluations shows how the rules scored one bank transaction. Pairs
// that matched no criterion are left out.
func RenderEvaluations(txn model.BankTransaction, evaluations []matching.Evaluation) string {
	title := fmt.Sprintf("%s  %s  %s %s", txn.TransactionDate.Format(dateFormat), txn.Description, txn.TransactionType, amount(txn.Amount))

	rows := [][]string{}
	chosen := false
	for _, ev := range evaluations {
		if ev.Score == 0 {
			continue
		}
		verdict := "below minimum"
		if ev.Accepted {
			verdict = status(string(ev.Status))
			if !chosen {
				verdict += " " + markOK
				chosen = true
			}
		}
		rows = append(rows, []string{
			ev.RuleName, ev.LedgerEntryID, strings.Join(ev.MatchedCriteria, ","), fmt.Sprintf("%.2f", ev.Score), verdict,
		})
	}
	if len(rows) == 0 {
		return heading(title) + "\n" + FormatInfo("No rule matched any ledger entry")
	}
	return heading(title) + "\n" + Table([]string{"Rule", "Ledger Entry", "Criteria", "Score", "Outcome"}, rows)
}

// RenderAnalytics shows an analytics report.
func RenderAnalytics(a *model.ReconciliationAnalytics) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Period:   %s to %s\n", a.PeriodStart.Format(dateFormat), a.PeriodEnd.Format(dateFormat))
	fmt.Fprintf(&b, "Sessions: %d\n", a.TotalSessions)
	fmt.Fprintf(&b, "Matches:  %d\n", a.TotalMatches)
	fmt.Fprintf(&b, "Average:  %.1f%%\n", a.AverageReconciliationRate)
	fmt.Fprintf(&b, "Trend:    %s\n", a.Trend)
	fmt.Fprintf(&b, "Variance: %s", amount(a.TotalVariance))
	out := box(markReport+" Analytics", b.String())

	if len(a.RuleEffectiveness) > 0 {
		rows := make([][]string, 0, len(a.RuleEffectiveness))
		for _, r := range a.RuleEffectiveness {
			rows = append(rows, []string{
				r.RuleName, strconv.Itoa(r.Matches), fmt.Sprintf("%.2f", r.AverageConfidence), fmt.Sprintf("%.0f%%", r.ApprovalRate),
			})
		}
		out += "\n" + Table([]string{"Rule", "Matches", "Avg Confidence", "Approval"}, rows)
	}
	for _, rec := range a.Recommendations {
		out += "\n" + FormatInfo(rec)
	}
	return out
}

// RenderMetrics lists per-operation performance.
func RenderMetrics(overall monitor.Stats, operations []monitor.Stats) string {
	rows := make([][]string, 0, len(operations)+1)
	for _, s := range append(append([]monitor.Stats{}, operations...), overall) {
		name := s.Operation
		if name == "" {
			name = totalStyle.Render("all")
		}
		rows = append(rows, []string{
			name, strconv.Itoa(s.Count), strconv.Itoa(s.ErrorCount), s.AverageDuration.String(), s.MaxDuration.String(),
		})
	}
	return Table([]string{"Operation", "Calls", "Errors", "Average", "Max"}, rows)
}

// RenderCacheStats shows cache counters.
func RenderCacheStats(s cache.Stats) string {
	return Table(
		[]string{"Size", "Max", "Hits", "Misses", "Hit Rate", "Evictions", "Expirations"},
		[][]string{{
			strconv.Itoa(s.Size), strconv.Itoa(s.MaxSize),
			strconv.FormatInt(s.Hits, 10), strconv.FormatInt(s.Misses, 10),
			fmt.Sprintf("%.1f%%", s.HitRate),
			strconv.FormatInt(s.Evictions, 10), strconv.FormatInt(s.Expirations, 10),
		}},
	)
}
