// Package ofx turns OFX/QFX downloads into importable bank statements.
package ofx

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/aclindsa/ofxgo"
	"github.com/shopspring/decimal"

	"github.com/Veraticus/the-books-must-balance/internal/common"
	"github.com/Veraticus/the-books-must-balance/internal/model"
)

var (
	severityRegex = regexp.MustCompile(`(?i)<SEVERITY>(Info|Warn|Error)</SEVERITY>`)
	// Opening tags at end of line with no closing bracket.
	tagFixRegex = regexp.MustCompile(`(?m)^(\s*<[A-Z][A-Z0-9._]*[A-Z0-9])$`)
)

var descriptionPrefixes = []string{
	"POS PURCHASE ",
	"PURCHASE AUTHORIZED ON ",
	"DEBIT CARD PURCHASE ",
	"ACH DEBIT ",
	"ACH CREDIT ",
	"CHECK CARD ",
	"VISA PURCHASE ",
	"MC PURCHASE ",
	"DEBIT PURCHASE ",
}

// Statement is one account's statement found in an OFX file.
type Statement struct {
	Data      *model.StatementData
	AccountID string
}

// Parser implements OFX/QFX file parsing.
type Parser struct {
	logger *slog.Logger
}

// NewParser creates a new OFX parser.
func NewParser() *Parser {
	return &Parser{logger: slog.Default().With("component", "ofx")}
}

// preprocessOFX fixes common formatting issues in OFX files.
func preprocessOFX(content string) string {
	content = strings.TrimLeft(content, " \t\r\n")
	content = severityRegex.ReplaceAllStringFunc(content, strings.ToUpper)
	return tagFixRegex.ReplaceAllString(content, "$1>")
}

// Parse reads every bank and credit card statement in the file. Statements
// without a transaction list are skipped.
func (p *Parser) Parse(ctx context.Context, reader io.Reader) ([]Statement, error) {
	content, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read OFX file: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	resp, err := ofxgo.ParseResponse(strings.NewReader(preprocessOFX(string(content))))
	if err != nil {
		return nil, common.NewError(common.CodeInvalidFormat, "failed to parse OFX file", fmt.Errorf("%w: %w", common.ErrInvalidFormat, err))
	}

	var statements []Statement

	for _, msg := range resp.Bank {
		stmt, ok := msg.(*ofxgo.StatementResponse)
		if !ok || stmt.BankTranList == nil {
			continue
		}
		acct := string(stmt.BankAcctFrom.AcctID)
		statements = append(statements, Statement{
			AccountID: acct,
			Data:      p.convert(acct, stmt.CurDef.String(), stmt.BankTranList, stmt.BalAmt, stmt.DtAsOf),
		})
	}

	for _, msg := range resp.CreditCard {
		stmt, ok := msg.(*ofxgo.CCStatementResponse)
		if !ok || stmt.BankTranList == nil {
			continue
		}
		acct := string(stmt.CCAcctFrom.AcctID)
		statements = append(statements, Statement{
			AccountID: acct,
			Data:      p.convert(acct, stmt.CurDef.String(), stmt.BankTranList, stmt.BalAmt, stmt.DtAsOf),
		})
	}

	if len(statements) == 0 {
		return nil, common.NewError(common.CodeInvalidFormat, "OFX file contains no statements", common.ErrInvalidFormat)
	}

	p.logger.Info("Parsed OFX file", "statements", len(statements))
	return statements, nil
}

func (p *Parser) convert(acct, currency string, list *ofxgo.TransactionList, balance ofxgo.Amount, asOf ofxgo.Date) *model.StatementData {
	closing, _ := balance.Float64()

	data := &model.StatementData{
		StatementDate:   asOf.Time,
		PeriodStart:     list.DtStart.Time,
		PeriodEnd:       list.DtEnd.Time,
		StatementNumber: StatementNumber(acct, list.DtStart.Time, list.DtEnd.Time),
		Currency:        currency,
		Source:          model.SourceOFX,
		ClosingBalance:  closing,
	}
	if data.StatementDate.IsZero() {
		data.StatementDate = data.PeriodEnd
	}

	net := decimal.Zero
	for _, tx := range list.Transactions {
		line := convertTransaction(tx)
		net = net.Add(decimal.NewFromFloat(line.Amount))
		data.Transactions = append(data.Transactions, line)
	}
	data.OpeningBalance = decimal.NewFromFloat(closing).Sub(net).Round(2).InexactFloat64()

	p.logger.Debug("Converted OFX statement",
		"account", acct,
		"statement_number", data.StatementNumber,
		"transactions", len(data.Transactions))

	return data
}

// StatementNumber derives a stable statement number from the account and period.
func StatementNumber(acct string, start, end time.Time) string {
	return fmt.Sprintf("%s-%s-%s", acct, start.Format("20060102"), end.Format("20060102"))
}

// convertTransaction keeps the OFX sign: negative amounts are debits.
func convertTransaction(tx ofxgo.Transaction) model.TransactionData {
	amount, _ := tx.TrnAmt.Float64()

	line := model.TransactionData{
		TransactionDate: tx.DtPosted.Time,
		Description:     extractDescription(tx),
		Reference:       string(tx.FiTID),
		Category:        categoryOf(tx.TrnType.String()),
		Amount:          amount,
		TransactionType: model.TypeCredit,
	}
	if amount < 0 {
		line.TransactionType = model.TypeDebit
	}
	if tx.CheckNum != "" {
		line.Reference = string(tx.CheckNum)
	}
	if tx.DtAvail != nil {
		avail := tx.DtAvail.Time
		line.ValueDate = &avail
	}

	return line
}

func categoryOf(trnType string) string {
	switch trnType {
	case "INT", "DIV":
		return model.CategoryInterest
	case "FEE", "SRVCHG":
		return model.CategoryFee
	case "ATM", "CASH":
		return model.CategoryWithdrawal
	case "XFER":
		return model.CategoryTransfer
	case "DEP", "DIRECTDEP":
		return model.CategoryDeposit
	case "PAYMENT", "DIRECTDEBIT", "REPEATPMT", "CHECK":
		return model.CategoryPayment
	default:
		return ""
	}
}

// extractDescription prefers PAYEE, then NAME, then MEMO when NAME is generic.
func extractDescription(tx ofxgo.Transaction) string {
	if tx.Payee != nil && tx.Payee.Name != "" {
		return strings.TrimSpace(string(tx.Payee.Name))
	}

	name := string(tx.Name)
	if tx.Memo != "" && (name == "" || isGenericDescription(name)) {
		name = string(tx.Memo)
	}
	name = strings.TrimSpace(name)

	upper := strings.ToUpper(name)
	for _, prefix := range descriptionPrefixes {
		if strings.HasPrefix(upper, prefix) {
			name = name[len(prefix):]
			break
		}
	}

	// "MM/DD " date stamps
	if len(name) > 5 && name[2] == '/' && name[5] == ' ' {
		name = strings.TrimSpace(name[6:])
	}

	return name
}

func isGenericDescription(name string) bool {
	switch strings.ToUpper(name) {
	case "DEBIT", "CREDIT", "PURCHASE", "PAYMENT", "POS TRANSACTION", "CARD PURCHASE":
		return true
	}
	return false
}

// Accounts lists the distinct account IDs in the file, in file order.
func (p *Parser) Accounts(ctx context.Context, reader io.Reader) ([]string, error) {
	statements, err := p.Parse(ctx, reader)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var accounts []string
	for _, s := range statements {
		if !seen[s.AccountID] {
			seen[s.AccountID] = true
			accounts = append(accounts, s.AccountID)
		}
	}
	return accounts, nil
}
