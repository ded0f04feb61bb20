package app

import (
	"time"

	"github.com/Veraticus/the-books-must-balance/internal/auth"
	"github.com/Veraticus/the-books-must-balance/internal/common"
	"github.com/Veraticus/the-books-must-balance/internal/model"
)

// Operation names a public operation. It is also the monitor's operation key.
type Operation string

// Public operations.
const (
	OpCreateBankAccount          Operation = "CreateBankAccount"
	OpGetBankAccount             Operation = "GetBankAccount"
	OpListBankAccounts           Operation = "ListBankAccounts"
	OpImportBankStatement        Operation = "ImportBankStatement"
	OpPerformReconciliation      Operation = "PerformReconciliation"
	OpGetReconciliationAnalytics Operation = "GetReconciliationAnalytics"
	OpCreateReconciliationRule   Operation = "CreateReconciliationRule"
	OpGetReconciliationHistory   Operation = "GetReconciliationHistory"
	OpGetReconciliationSession   Operation = "GetReconciliationSession"
	OpGetReconciliationMatches   Operation = "GetReconciliationMatches"
	OpExplainMatches             Operation = "ExplainMatches"
	OpUpdateMatchStatus          Operation = "UpdateMatchStatus"
	OpClearCaches                Operation = "ClearCaches"
	OpGetCacheStats              Operation = "GetCacheStats"
	OpGetPerformanceMetrics      Operation = "GetPerformanceMetrics"
	OpHealthCheck                Operation = "HealthCheck"
)

// operationAccess maps each authorized operation to the access it needs.
// HealthCheck is deliberately absent: it needs no identity.
var operationAccess = map[Operation]auth.Access{
	OpCreateBankAccount:          auth.Write,
	OpGetBankAccount:             auth.Read,
	OpListBankAccounts:           auth.Read,
	OpImportBankStatement:        auth.Write,
	OpPerformReconciliation:      auth.Write,
	OpGetReconciliationAnalytics: auth.Read,
	OpCreateReconciliationRule:   auth.Write,
	OpGetReconciliationHistory:   auth.Read,
	OpGetReconciliationSession:   auth.Read,
	OpGetReconciliationMatches:   auth.Read,
	OpExplainMatches:             auth.Read,
	OpUpdateMatchStatus:          auth.Write,
	OpClearCaches:                auth.Write,
	OpGetCacheStats:              auth.Read,
	OpGetPerformanceMetrics:      auth.Read,
}

// RequestContext identifies the caller of one operation.
type RequestContext struct {
	User      model.User
	RequestID string
}

// ErrorDetail is one structured error in a response.
type ErrorDetail struct {
	Code    common.ErrorCode `json:"code"`
	Message string           `json:"message"`
	Field   string           `json:"field,omitempty"`
}

// Metadata describes how a response was produced.
type Metadata struct {
	Operation Operation     `json:"operation"`
	RequestID string        `json:"request_id,omitempty"`
	Duration  time.Duration `json:"duration"`
	Total     int           `json:"total,omitempty"`
	CacheHit  bool          `json:"cache_hit,omitempty"`
}

// Response is the envelope every operation returns.
type Response[T any] struct {
	Data     T             `json:"data,omitempty"`
	Metadata *Metadata     `json:"metadata,omitempty"`
	Errors   []ErrorDetail `json:"errors"`
	Warnings []string      `json:"warnings"`
	Success  bool          `json:"success"`
}

// Err returns the first error as a Go error, or nil on success.
func (r Response[T]) Err() error {
	if r.Success || len(r.Errors) == 0 {
		return nil
	}
	e := r.Errors[0]
	return &common.AppError{Code: e.Code, Message: e.Message, Field: e.Field}
}

func detailOf(err error) ErrorDetail {
	return ErrorDetail{
		Code:    common.CodeOf(err),
		Message: err.Error(),
		Field:   common.FieldOf(err),
	}
}
