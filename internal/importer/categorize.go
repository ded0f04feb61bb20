package importer

import (
	"strings"

	"github.com/Veraticus/the-books-must-balance/internal/model"
)

// categoryKeywords is checked in order; the first category with a keyword
// contained in the description wins.
var categoryKeywords = []struct {
	category string
	keywords []string
}{
	{model.CategoryTransfer, []string{"transfer", "xfer", "wire", "trf"}},
	{model.CategoryFee, []string{"fee", "charge", "commission", "penalty"}},
	{model.CategoryInterest, []string{"interest", "dividend"}},
	{model.CategoryPayment, []string{"payment", "pmt", "bill", "invoice", "purchase"}},
	{model.CategoryDeposit, []string{"deposit", "payroll", "salary", "refund"}},
	{model.CategoryWithdrawal, []string{"withdrawal", "withdraw", "atm", "cash"}},
}

// Categorize assigns a category from the fixed vocabulary by keyword.
func Categorize(description string) string {
	desc := strings.ToLower(description)
	for _, ck := range categoryKeywords {
		for _, kw := range ck.keywords {
			if strings.Contains(desc, kw) {
				return ck.category
			}
		}
	}
	return model.CategoryOther
}
