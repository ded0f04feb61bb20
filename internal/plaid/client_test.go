package plaid

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/the-books-must-balance/internal/common"
	"github.com/Veraticus/the-books-must-balance/internal/model"
)

func sandboxConfig() Config {
	return Config{ClientID: "client", Secret: "secret", Environment: "sandbox", AccessToken: "access-sandbox-1"}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{name: "sandbox"},
		{name: "production", mutate: func(c *Config) { c.Environment = "production" }},
		{name: "client id", mutate: func(c *Config) { c.ClientID = "" }, field: "plaid.client_id"},
		{name: "secret", mutate: func(c *Config) { c.Secret = "" }, field: "plaid.secret"},
		{name: "access token", mutate: func(c *Config) { c.AccessToken = "" }, field: "plaid.access_token"},
		{name: "no environment", mutate: func(c *Config) { c.Environment = "" }, field: "plaid.environment"},
		{name: "retired development environment", mutate: func(c *Config) { c.Environment = "development" }, field: "plaid.environment"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := sandboxConfig()
			if tt.mutate != nil {
				tt.mutate(&cfg)
			}
			err := cfg.Validate()
			if tt.field == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.field, common.FieldOf(err))
			assert.ErrorIs(t, err, common.ErrInvalidConfig)
		})
	}
}

func TestNewClient(t *testing.T) {
	cfg := sandboxConfig()
	client, err := NewClient(&cfg)
	require.NoError(t, err)
	assert.NotNil(t, client.fetchPage)
	assert.Equal(t, 3, client.backoff.Attempts)

	client, err = NewClient(&Config{ClientID: "client"})
	require.Error(t, err)
	assert.Nil(t, client)
	assert.Equal(t, common.CodeConfiguration, common.CodeOf(err))
}

func testClient(fetch pageFunc) *Client {
	return &Client{
		fetchPage: fetch,
		logger:    slog.Default().With("component", "plaid-test"),
		backoff:   common.Backoff{Attempts: 3, Initial: time.Millisecond, Max: time.Millisecond},
	}
}

var (
	janStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	janEnd   = time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)
)

func TestFetchStatement_Validation(t *testing.T) {
	client := testClient(nil)

	_, err := client.FetchStatement(context.Background(), "", janStart, janEnd)
	require.Error(t, err)
	assert.Equal(t, "account_id", common.FieldOf(err))

	_, err = client.FetchStatement(context.Background(), "acct", janEnd, janStart)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "start date must be before end date")
}

func TestFetchStatement_Pages(t *testing.T) {
	var offsets []int32
	balance := 1000.0

	client := testClient(func(_ context.Context, accountID string, _, _ time.Time, offset int32) (page, error) {
		offsets = append(offsets, offset)
		if offset == 0 {
			lines := make([]line, pageSize)
			for i := range lines {
				lines[i] = line{Date: "2024-01-10", ID: fmt.Sprintf("tx-%d", i), Name: "Coffee", Amount: 1}
			}
			return page{Lines: lines, Total: int(pageSize) + 2, Currency: "usd"}, nil
		}
		return page{
			Lines: []line{
				{Date: "2024-01-20", ID: "dep", Name: "ACME PAYROLL 99887766", Amount: -2500},
				{Date: "2024-01-21", ID: "pending", Name: "Hotel", Amount: 300, Pending: true},
			},
			Total:   int(pageSize) + 2,
			Balance: &balance,
		}, nil
	})

	data, err := client.FetchStatement(context.Background(), "acct-1", janStart, janEnd)
	require.NoError(t, err)

	assert.Equal(t, []int32{0, pageSize}, offsets)
	assert.Equal(t, "plaid-acct-1-20240101-20240131", data.StatementNumber)
	assert.Equal(t, "USD", data.Currency)
	assert.Equal(t, model.SourcePlaid, data.Source)
	require.Len(t, data.Transactions, int(pageSize)+1, "pending lines are skipped")

	first := data.Transactions[0]
	assert.InDelta(t, -1.0, first.Amount, 0.001)
	assert.Equal(t, model.TypeDebit, first.TransactionType)

	deposit := data.Transactions[pageSize]
	assert.InDelta(t, 2500.0, deposit.Amount, 0.001)
	assert.Equal(t, model.TypeCredit, deposit.TransactionType)
	assert.Equal(t, "Acme Payroll", deposit.Description)

	// net = 2500 - 500
	assert.InDelta(t, 1000.0, data.ClosingBalance, 0.001)
	assert.InDelta(t, -1000.0, data.OpeningBalance, 0.001)
}

func TestFetchStatement_RetriesRateLimit(t *testing.T) {
	calls := 0
	client := testClient(func(context.Context, string, time.Time, time.Time, int32) (page, error) {
		calls++
		if calls == 1 {
			return page{}, common.ErrRateLimit
		}
		return page{Lines: []line{{Date: "2024-01-05", ID: "a", Name: "Fee", Amount: 5, CheckNumber: "101"}}, Total: 1}, nil
	})

	data, err := client.FetchStatement(context.Background(), "acct", janStart, janEnd)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	require.Len(t, data.Transactions, 1)
	assert.Equal(t, "101", data.Transactions[0].Reference)
	assert.Equal(t, model.CategoryPayment, data.Transactions[0].Category)
}

func TestFetchStatement_PermanentFailure(t *testing.T) {
	calls := 0
	client := testClient(func(context.Context, string, time.Time, time.Time, int32) (page, error) {
		calls++
		return page{}, common.Permanent(fmt.Errorf("%w: INVALID_ACCESS_TOKEN", common.ErrNetwork))
	})

	_, err := client.FetchStatement(context.Background(), "acct", janStart, janEnd)
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, common.CodeNetwork, common.CodeOf(err))
}

func TestFetchStatement_Empty(t *testing.T) {
	client := testClient(func(context.Context, string, time.Time, time.Time, int32) (page, error) {
		return page{Lines: []line{{Date: "not-a-date", ID: "x", Amount: 1}}, Total: 1}, nil
	})

	_, err := client.FetchStatement(context.Background(), "acct", janStart, janEnd)
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrValidation))
}

func TestCleanMerchantName(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "basic name",
			input:    "Starbucks",
			expected: "Starbucks",
		},
		{
			name:     "lowercase to title case",
			input:    "starbucks coffee",
			expected: "Starbucks Coffee",
		},
		{
			name:     "remove LLC suffix",
			input:    "Amazon LLC",
			expected: "Amazon",
		},
		{
			name:     "remove Inc suffix",
			input:    "Apple Inc",
			expected: "Apple",
		},
		{
			name:     "remove Corp suffix",
			input:    "Microsoft Corp",
			expected: "Microsoft",
		},
		{
			name:     "remove transaction ID",
			input:    "PAYPAL 123456789",
			expected: "Paypal",
		},
		{
			name:     "preserve short numbers",
			input:    "7-ELEVEN 2345",
			expected: "7-Eleven 2345",
		},
		{
			name:     "multiple cleanups",
			input:    "amazon.com llc 987654321",
			expected: "Amazon.Com",
		},
		{
			name:     "extra spaces",
			input:    "  Google   Cloud   ",
			expected: "Google Cloud",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := cleanMerchantName(tt.input)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestIsAllDigits(t *testing.T) {
	tests := []struct {
		input    string
		expected bool
	}{
		{"123456", true},
		{"000000", true},
		{"12a456", false},
		{"", true}, // edge case: empty string
		{"ABC123", false},
		{"12.34", false},
		{"12 34", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := isAllDigits(tt.input)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestMockClient(t *testing.T) {
	mock := NewMockClient()

	data, err := mock.FetchStatement(context.Background(), "acct", janStart, janEnd)
	require.NoError(t, err)
	assert.Equal(t, "mock-acct", data.StatementNumber)

	mock.FetchStatementFn = func(context.Context, string, time.Time, time.Time) (*model.StatementData, error) {
		return nil, common.ErrNetwork
	}
	_, err = mock.FetchStatement(context.Background(), "acct-2", janStart, janEnd)
	require.ErrorIs(t, err, common.ErrNetwork)

	require.Len(t, mock.Calls, 2)
	assert.Equal(t, "acct-2", mock.Calls[1].AccountID)
	assert.Equal(t, janEnd, mock.Calls[1].End)
}
