package plaid

import (
	"context"
	"sync"
	"time"

	"github.com/Veraticus/the-books-must-balance/internal/model"
)

// MockClient is a StatementFetcher for tests.
type MockClient struct {
	FetchStatementFn func(ctx context.Context, accountID string, start, end time.Time) (*model.StatementData, error)
	Calls            []FetchCall
	mu               sync.Mutex
}

// FetchCall records the parameters of a FetchStatement call.
type FetchCall struct {
	Start     time.Time
	End       time.Time
	AccountID string
}

// NewMockClient creates a new mock Plaid client.
func NewMockClient() *MockClient {
	return &MockClient{}
}

// FetchStatement records the call and delegates to FetchStatementFn.
func (m *MockClient) FetchStatement(ctx context.Context, accountID string, start, end time.Time) (*model.StatementData, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, FetchCall{AccountID: accountID, Start: start, End: end})
	m.mu.Unlock()

	if m.FetchStatementFn != nil {
		return m.FetchStatementFn(ctx, accountID, start, end)
	}
	return &model.StatementData{
		StatementDate:   end,
		PeriodStart:     start,
		PeriodEnd:       end,
		StatementNumber: "mock-" + accountID,
		Currency:        "USD",
		Source:          model.SourcePlaid,
	}, nil
}

var _ StatementFetcher = (*MockClient)(nil)
