// Package plaid pulls bank statements from the Plaid API.
package plaid

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/plaid/plaid-go/v20/plaid"
	"github.com/shopspring/decimal"

	"github.com/Veraticus/the-books-must-balance/internal/common"
	"github.com/Veraticus/the-books-must-balance/internal/model"
)

const (
	dateLayout = "2006-01-02"
	// Plaid's max page size.
	pageSize = int32(500)
)

// StatementFetcher builds a statement for one account over a date range.
type StatementFetcher interface {
	FetchStatement(ctx context.Context, accountID string, start, end time.Time) (*model.StatementData, error)
}

// Config holds Plaid API configuration.
type Config struct {
	ClientID    string
	Secret      string
	Environment string // sandbox or production
	AccessToken string
}

// Validate checks credentials and the environment, naming the offending
// plaid.* key.
func (c *Config) Validate() error {
	for _, f := range []struct{ key, value string }{
		{"client_id", c.ClientID},
		{"secret", c.Secret},
		{"access_token", c.AccessToken},
	} {
		if f.value == "" {
			return invalidConfig(f.key, "is required")
		}
	}
	if c.Environment != "sandbox" && c.Environment != "production" {
		return invalidConfig("environment", fmt.Sprintf("must be sandbox or production, got %q", c.Environment))
	}
	return nil
}

func invalidConfig(key, msg string) error {
	return &common.AppError{
		Code:    common.CodeConfiguration,
		Field:   "plaid." + key,
		Message: "plaid." + key + " " + msg,
		Err:     common.ErrInvalidConfig,
	}
}

// line is the subset of a Plaid transaction a statement needs.
type line struct {
	Date        string
	ID          string
	Name        string
	Merchant    string
	CheckNumber string
	Category    []string
	Amount      float64
	Pending     bool
}

// page is one TransactionsGet response.
type page struct {
	Balance  *float64
	Currency string
	Lines    []line
	Total    int
}

type pageFunc func(ctx context.Context, accountID string, start, end time.Time, offset int32) (page, error)

// Client implements StatementFetcher against the Plaid API.
type Client struct {
	fetchPage pageFunc
	logger    *slog.Logger
	backoff   common.Backoff
}

// NewClient creates a new Plaid client with the given configuration.
func NewClient(cfg *Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	configuration := plaid.NewConfiguration()
	configuration.AddDefaultHeader("PLAID-CLIENT-ID", cfg.ClientID)
	configuration.AddDefaultHeader("PLAID-SECRET", cfg.Secret)

	switch cfg.Environment {
	case "sandbox":
		configuration.UseEnvironment(plaid.Sandbox)
	case "production":
		configuration.UseEnvironment(plaid.Production)
	}

	api := plaid.NewAPIClient(configuration)
	logger := slog.Default().With("component", "plaid")

	return &Client{
		fetchPage: apiPages(api, cfg.AccessToken, logger),
		logger:    logger,
		backoff:   common.Backoff{Attempts: 3, Initial: time.Second, Max: 30 * time.Second},
	}, nil
}

func apiPages(api *plaid.APIClient, accessToken string, logger *slog.Logger) pageFunc {
	return func(ctx context.Context, accountID string, start, end time.Time, offset int32) (page, error) {
		request := plaid.NewTransactionsGetRequest(accessToken, start.Format(dateLayout), end.Format(dateLayout))
		request.SetOptions(plaid.TransactionsGetRequestOptions{
			AccountIds: &[]string{accountID},
			Count:      plaid.PtrInt32(pageSize),
			Offset:     plaid.PtrInt32(offset),
		})

		resp, _, err := api.PlaidApi.TransactionsGet(ctx).TransactionsGetRequest(*request).Execute()
		if err != nil {
			if plaidErr, convErr := plaid.ToPlaidError(err); convErr == nil {
				if plaidErr.ErrorCode == "RATE_LIMIT_EXCEEDED" {
					logger.Warn("Rate limit hit, will retry", "error", plaidErr.ErrorMessage)
					return page{}, fmt.Errorf("%w: %s", common.ErrRateLimit, plaidErr.ErrorMessage)
				}
				return page{}, common.Permanent(fmt.Errorf("%w: plaid API error: %s - %s", common.ErrNetwork, plaidErr.ErrorCode, plaidErr.ErrorMessage))
			}
			return page{}, fmt.Errorf("%w: failed to fetch transactions: %w", common.ErrNetwork, err)
		}

		p := page{Total: int(resp.GetTotalTransactions())}
		for _, acct := range resp.GetAccounts() {
			if acct.GetAccountId() != accountID {
				continue
			}
			balances := acct.GetBalances()
			if current, ok := balances.GetCurrentOk(); ok && current != nil {
				p.Balance = current
			}
			p.Currency = balances.GetIsoCurrencyCode()
		}
		for _, pt := range resp.GetTransactions() {
			p.Lines = append(p.Lines, line{
				Date:        pt.GetDate(),
				ID:          pt.GetTransactionId(),
				Name:        pt.GetName(),
				Merchant:    pt.GetMerchantName(),
				CheckNumber: pt.GetCheckNumber(),
				Category:    pt.GetCategory(),
				Amount:      pt.GetAmount(),
				Pending:     pt.GetPending(),
			})
		}
		return p, nil
	}
}

// FetchStatement pulls every posted transaction for accountID in [start, end].
func (c *Client) FetchStatement(ctx context.Context, accountID string, start, end time.Time) (*model.StatementData, error) {
	if accountID == "" {
		return nil, common.NewFieldError("account_id", "is required")
	}
	if start.After(end) {
		return nil, common.NewFieldError("start", "start date must be before end date")
	}

	c.logger.Info("Fetching transactions from Plaid",
		"account", accountID,
		"start_date", start.Format(dateLayout),
		"end_date", end.Format(dateLayout))

	var (
		lines    []line
		balance  *float64
		currency string
		offset   int32
	)

	for {
		var p page
		err := c.backoff.Retry(ctx, "plaid transactions", func(ctx context.Context) error {
			var err error
			p, err = c.fetchPage(ctx, accountID, start, end, offset)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("failed to fetch plaid transactions: %w", err)
		}

		c.logger.Debug("Fetched transaction batch", "count", len(p.Lines), "offset", offset, "total", p.Total)

		lines = append(lines, p.Lines...)
		if p.Balance != nil {
			balance = p.Balance
		}
		if p.Currency != "" {
			currency = p.Currency
		}

		if len(p.Lines) < int(pageSize) || len(lines) >= p.Total {
			break
		}
		offset += pageSize
	}

	return c.toStatement(accountID, start, end, currency, balance, lines)
}

// toStatement converts Plaid lines into statement data. Plaid reports money
// out as positive, so signs are flipped. Pending lines are skipped.
func (c *Client) toStatement(accountID string, start, end time.Time, currency string, balance *float64, lines []line) (*model.StatementData, error) {
	data := &model.StatementData{
		StatementDate:   end,
		PeriodStart:     start,
		PeriodEnd:       end,
		StatementNumber: fmt.Sprintf("plaid-%s-%s-%s", accountID, start.Format("20060102"), end.Format("20060102")),
		Currency:        strings.ToUpper(currency),
		Source:          model.SourcePlaid,
	}
	if data.Currency == "" {
		data.Currency = "USD"
	}

	net := decimal.Zero
	for _, l := range lines {
		if l.Pending {
			continue
		}
		date, err := time.Parse(dateLayout, l.Date)
		if err != nil {
			c.logger.Warn("Skipping transaction with unparseable date", "transaction", l.ID, "date", l.Date)
			continue
		}

		tx := model.TransactionData{
			TransactionDate: date,
			Description:     description(l),
			Reference:       l.ID,
			Amount:          -l.Amount,
			TransactionType: model.TypeCredit,
		}
		if tx.Amount < 0 {
			tx.TransactionType = model.TypeDebit
		}
		if l.CheckNumber != "" {
			tx.Reference = l.CheckNumber
			tx.Category = model.CategoryPayment
		}
		if len(l.Category) > 0 && strings.EqualFold(l.Category[0], "Transfer") {
			tx.Category = model.CategoryTransfer
		}

		net = net.Add(decimal.NewFromFloat(tx.Amount))
		data.Transactions = append(data.Transactions, tx)
	}

	if balance != nil {
		data.ClosingBalance = *balance
		data.OpeningBalance = decimal.NewFromFloat(*balance).Sub(net).Round(2).InexactFloat64()
	} else {
		data.ClosingBalance = net.Round(2).InexactFloat64()
	}

	if len(data.Transactions) == 0 {
		return nil, common.NewError(common.CodeValidation,
			fmt.Sprintf("no posted transactions for account %s", accountID), common.ErrValidation)
	}

	c.logger.Info("Built statement from Plaid", "account", accountID, "transactions", len(data.Transactions))
	return data, nil
}

func description(l line) string {
	if l.Merchant != "" {
		return cleanMerchantName(l.Merchant)
	}
	return cleanMerchantName(l.Name)
}

// cleanMerchantName title-cases a name and drops trailing IDs and corporate suffixes.
func cleanMerchantName(name string) string {
	words := strings.Fields(strings.ToLower(name))
	for i, word := range words {
		runes := []rune(word)
		for j := range runes {
			if j == 0 || !unicode.IsLetter(runes[j-1]) {
				runes[j] = unicode.ToUpper(runes[j])
			}
		}
		words[i] = string(runes)
	}

	// A trailing all-digit word longer than 5 is a processor transaction ID.
	if len(words) > 1 {
		last := words[len(words)-1]
		if len(last) > 5 && isAllDigits(last) {
			words = words[:len(words)-1]
		}
	}
	name = strings.Join(words, " ")

	suffixes := []string{" Llc", " Inc", " Corp", " Corporation", " Company", " Co", " Ltd", " Limited"}
	for changed := true; changed; {
		changed = false
		for _, suffix := range suffixes {
			if strings.HasSuffix(name, suffix) {
				name = strings.TrimSuffix(name, suffix)
				changed = true
			}
		}
	}

	return strings.TrimSpace(name)
}

func isAllDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

var _ StatementFetcher = (*Client)(nil)
