package reconcile

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/the-books-must-balance/internal/matching"
	"github.com/Veraticus/the-books-must-balance/internal/model"
)

// Summary thresholds.
const (
	HighPriorityAmount     = 1000.0
	LowConfidenceThreshold = 0.75
)

// Summarize computes the outcome of a run. It is pure: the same inputs and
// now always give the same summary.
//
// Bank amounts are magnitudes and ledger totals are compared by absolute
// value, so the variance is |sum(bank) - sum(|ledger|)|.
func Summarize(sessionID string, bank []model.BankTransaction, ledger []model.LedgerEntry, matches []*model.ReconciliationMatch, now time.Time) *model.ReconciliationSummary {
	matchedBank := make(map[string]bool, len(matches))
	ledgerClaims := make(map[string]int, len(matches))
	for _, m := range matches {
		matchedBank[m.BankTransactionID] = true
		ledgerClaims[m.LedgerTransactionID]++
	}

	summary := &model.ReconciliationSummary{
		GeneratedAt:             now,
		SessionID:               sessionID,
		OutstandingItems:        []model.OutstandingItem{},
		Exceptions:              []model.ReconciliationException{},
		TotalBankTransactions:   len(bank),
		TotalLedgerTransactions: len(ledger),
	}

	totalBank := decimal.Zero
	matchedAmount := decimal.Zero
	for _, txn := range bank {
		amount := decimal.NewFromFloat(txn.Amount).Abs()
		totalBank = totalBank.Add(amount)
		if matchedBank[txn.ID] {
			summary.MatchedBankTransactions++
			matchedAmount = matchedAmount.Add(amount)
			continue
		}
		summary.OutstandingItems = append(summary.OutstandingItems, model.OutstandingItem{
			Date:          txn.TransactionDate,
			Side:          model.SideBank,
			TransactionID: txn.ID,
			Description:   txn.Description,
			Priority:      priority(txn.Amount),
			Amount:        txn.Amount,
			AgeDays:       ageDays(txn.TransactionDate, now),
		})
	}

	totalLedger := decimal.Zero
	for _, entry := range ledger {
		totalLedger = totalLedger.Add(decimal.NewFromFloat(entry.Total).Abs())
		if ledgerClaims[entry.ID] > 0 {
			summary.MatchedLedgerTransactions++
			continue
		}
		summary.OutstandingItems = append(summary.OutstandingItems, model.OutstandingItem{
			Date:          entry.EntryDate,
			Side:          model.SideLedger,
			TransactionID: entry.ID,
			Description:   entry.Description,
			Priority:      priority(entry.Total),
			Amount:        entry.Total,
			AgeDays:       ageDays(entry.EntryDate, now),
		})
	}

	variance := totalBank.Sub(totalLedger).Abs()
	summary.TotalBankAmount = totalBank.InexactFloat64()
	summary.TotalLedgerAmount = totalLedger.InexactFloat64()
	summary.MatchedAmount = matchedAmount.InexactFloat64()
	summary.VarianceAmount = variance.InexactFloat64()
	summary.ReconciliationRate = Rate(summary.MatchedBankTransactions, summary.TotalBankTransactions)

	summary.Exceptions = append(summary.Exceptions, duplicateExceptions(bank)...)
	summary.Exceptions = append(summary.Exceptions, matchExceptions(matches, ledgerClaims)...)
	if !variance.IsZero() {
		severity := model.SeverityMedium
		if variance.GreaterThan(decimal.NewFromFloat(HighPriorityAmount)) {
			severity = model.SeverityHigh
		}
		summary.Exceptions = append(summary.Exceptions, model.ReconciliationException{
			Type:        model.ExceptionVariance,
			Severity:    severity,
			Description: fmt.Sprintf("bank and ledger totals differ by %s", variance.StringFixed(2)),
		})
	}

	return summary
}

// Rate returns matched/total as a percentage in [0, 100]. An empty run has a
// rate of 0.
func Rate(matched, total int) float64 {
	if total <= 0 || matched <= 0 {
		return 0
	}
	if matched >= total {
		return 100
	}
	return float64(matched) / float64(total) * 100
}

func priority(amount float64) string {
	if decimal.NewFromFloat(amount).Abs().GreaterThan(decimal.NewFromFloat(HighPriorityAmount)) {
		return model.PriorityHigh
	}
	return model.PriorityMedium
}

func ageDays(date, now time.Time) int {
	if date.After(now) {
		return 0
	}
	return matching.DayDifference(date, now)
}

// duplicateExceptions flags every bank row after the first that shares a
// date, amount and description with an earlier one.
func duplicateExceptions(bank []model.BankTransaction) []model.ReconciliationException {
	var out []model.ReconciliationException
	seen := make(map[string]string, len(bank))
	for _, txn := range bank {
		key := fmt.Sprintf("%s|%s|%s",
			txn.TransactionDate.UTC().Format(time.DateOnly),
			decimal.NewFromFloat(txn.Amount).StringFixed(2),
			strings.ToLower(strings.TrimSpace(txn.Description)))
		if first, ok := seen[key]; ok {
			out = append(out, model.ReconciliationException{
				Type:          model.ExceptionDuplicateTransaction,
				Severity:      model.SeverityMedium,
				TransactionID: txn.ID,
				Description:   fmt.Sprintf("possible duplicate of transaction %s", first),
			})
			continue
		}
		seen[key] = txn.ID
	}
	return out
}

func matchExceptions(matches []*model.ReconciliationMatch, ledgerClaims map[string]int) []model.ReconciliationException {
	var out []model.ReconciliationException
	for _, m := range matches {
		if m.Status != model.MatchAutoApproved && m.ConfidenceScore < LowConfidenceThreshold {
			out = append(out, model.ReconciliationException{
				Type:          model.ExceptionLowConfidence,
				Severity:      model.SeverityLow,
				TransactionID: m.BankTransactionID,
				Description:   fmt.Sprintf("match confidence %.2f needs review", m.ConfidenceScore),
			})
		}
	}

	multi := make([]string, 0)
	for id, n := range ledgerClaims {
		if n > 1 {
			multi = append(multi, id)
		}
	}
	sort.Strings(multi)
	for _, id := range multi {
		out = append(out, model.ReconciliationException{
			Type:          model.ExceptionLedgerMultiMatch,
			Severity:      model.SeverityHigh,
			TransactionID: id,
			Description:   fmt.Sprintf("ledger entry matched by %d bank transactions", ledgerClaims[id]),
		})
	}
	return out
}
