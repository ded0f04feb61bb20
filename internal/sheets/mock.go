package sheets

import (
	"context"
	"sync"
)

// MockWriter is a ReportWriter for tests.
type MockWriter struct {
	WriteFunc func(ctx context.Context, report *Report) (string, error)
	Reports   []*Report
	mu        sync.Mutex
}

// NewMockWriter creates a new mock writer.
func NewMockWriter() *MockWriter {
	return &MockWriter{}
}

// Write records the report and delegates to WriteFunc.
func (m *MockWriter) Write(ctx context.Context, report *Report) (string, error) {
	m.mu.Lock()
	m.Reports = append(m.Reports, report)
	m.mu.Unlock()

	if m.WriteFunc != nil {
		return m.WriteFunc(ctx, report)
	}
	return "mock-spreadsheet", nil
}

// Calls returns how many reports were written.
func (m *MockWriter) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Reports)
}

var (
	_ ReportWriter = (*MockWriter)(nil)
	_ ReportWriter = (*Writer)(nil)
)
