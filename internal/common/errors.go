// Package common provides shared utilities and types used across the application.
package common

import (
	"context"
	"errors"
	"fmt"
)

// ErrorCode classifies an error for the public API envelope.
type ErrorCode string

// Error codes surfaced to callers.
const (
	CodeValidation    ErrorCode = "VALIDATION_ERROR"
	CodePermission    ErrorCode = "PERMISSION_DENIED"
	CodeNotFound      ErrorCode = "NOT_FOUND"
	CodeDuplicate     ErrorCode = "DUPLICATE_STATEMENT"
	CodeInvalidFormat ErrorCode = "INVALID_FILE_FORMAT"
	CodeProcessing    ErrorCode = "PROCESSING_ERROR"
	CodeMatching      ErrorCode = "MATCHING_ERROR"
	CodeDatabase      ErrorCode = "DATABASE_ERROR"
	CodeCache         ErrorCode = "CACHE_ERROR"
	CodeNetwork       ErrorCode = "NETWORK_ERROR"
	CodeTimeout       ErrorCode = "TIMEOUT_ERROR"
	CodeConfiguration ErrorCode = "CONFIGURATION_ERROR"
)

// Common application errors.
var (
	// Database errors.
	ErrNotFound       = errors.New("not found")
	ErrDuplicateEntry = errors.New("duplicate entry")
	ErrDatabase       = errors.New("database error")

	// Input errors.
	ErrValidation       = errors.New("validation failed")
	ErrPermissionDenied = errors.New("permission denied")
	ErrDuplicate        = errors.New("duplicate statement")
	ErrInvalidFormat    = errors.New("invalid file format")

	// Pipeline errors.
	ErrProcessing        = errors.New("processing failed")
	ErrAlreadyReconciled = errors.New("transaction already reconciled")
	ErrMatching          = errors.New("matching failed")
	ErrCache             = errors.New("cache failure")
	ErrNetwork           = errors.New("network failure")

	// Configuration errors.
	ErrMissingConfig = errors.New("missing configuration")
	ErrInvalidConfig = errors.New("invalid configuration")
)

var sentinelCodes = []struct {
	err  error
	code ErrorCode
}{
	{ErrValidation, CodeValidation},
	{ErrAlreadyReconciled, CodeValidation},
	{ErrPermissionDenied, CodePermission},
	{ErrNotFound, CodeNotFound},
	{ErrDuplicate, CodeDuplicate},
	{ErrInvalidFormat, CodeInvalidFormat},
	{ErrMatching, CodeMatching},
	{ErrDatabase, CodeDatabase},
	{ErrDuplicateEntry, CodeDatabase},
	{ErrCache, CodeCache},
	{ErrNetwork, CodeNetwork},
	{ErrRateLimit, CodeNetwork},
	{ErrMissingConfig, CodeConfiguration},
	{ErrInvalidConfig, CodeConfiguration},
	{ErrProcessing, CodeProcessing},
}

// AppError carries a code and an optional field alongside the wrapped cause.
type AppError struct {
	Err     error
	Code    ErrorCode
	Message string
	Field   string
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewError creates a coded error.
func NewError(code ErrorCode, message string, err error) error {
	return &AppError{Code: code, Message: message, Err: err}
}

// NewFieldError creates a validation error bound to a single input field.
func NewFieldError(field, message string) error {
	return &AppError{Code: CodeValidation, Field: field, Message: message, Err: ErrValidation}
}

// CodeOf classifies err. Unknown errors map to PROCESSING_ERROR.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}

	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Code != "" {
		return appErr.Code
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return CodeTimeout
	}

	for _, sc := range sentinelCodes {
		if errors.Is(err, sc.err) {
			return sc.code
		}
	}

	return CodeProcessing
}

// FieldOf returns the input field an error refers to, if any.
func FieldOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Field
	}
	return ""
}

// IsRetryable reports whether a failed external call is worth repeating.
func IsRetryable(err error) bool {
	if err == nil || IsPermanent(err) {
		return false
	}
	return errors.Is(err, ErrRateLimit) ||
		errors.Is(err, ErrNetwork) ||
		errors.Is(err, context.DeadlineExceeded)
}
