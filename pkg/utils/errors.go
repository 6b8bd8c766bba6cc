package utils

import (
	"errors"
	"fmt"
	"runtime"
)

// AppError represents an application error with context
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	// Reason narrows a code, e.g. why the ledger rejected a transaction.
	Reason string `json:"reason,omitempty"`
	File   string `json:"-"`
	Line   int    `json:"-"`
	Cause  error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause to errors.Is / errors.As
func (e *AppError) Unwrap() error {
	return e.Cause
}

// NewAppError creates a new application error
func NewAppError(code, message string, details ...string) *AppError {
	_, file, line, _ := runtime.Caller(1)

	err := &AppError{
		Code:    code,
		Message: message,
		File:    file,
		Line:    line,
	}

	if len(details) > 0 {
		err.Details = details[0]
	}

	return err
}

// WrapError creates an application error carrying cause as its details
func WrapError(code, message string, cause error) *AppError {
	_, file, line, _ := runtime.Caller(1)

	err := &AppError{
		Code:    code,
		Message: message,
		File:    file,
		Line:    line,
		Cause:   cause,
	}
	if cause != nil {
		err.Details = cause.Error()
	}
	return err
}

// WithReason sets the reason and returns the error
func (e *AppError) WithReason(reason string) *AppError {
	e.Reason = reason
	return e
}

// CodeOf returns the code of the outermost AppError in err's chain
func CodeOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// HasCode reports whether err carries the given code
func HasCode(err error, code string) bool {
	return err != nil && CodeOf(err) == code
}

// IsStaleSequence reports whether the ledger refused a transaction because
// its sequence number was already used
func IsStaleSequence(err error) bool {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return false
	}
	return appErr.Code == ErrCodeRejected && appErr.Reason == ReasonStaleSequence
}

// Common error codes
const (
	ErrCodeValidation          = "VALIDATION_ERROR"
	ErrCodeSigning             = "SIGNING_ERROR"
	ErrCodeSubmission          = "SUBMISSION_ERROR"
	ErrCodeRejected            = "REJECTED"
	ErrCodeMirrorInconsistency = "MIRROR_INCONSISTENCY"
	ErrCodeNotFound            = "NOT_FOUND"
	ErrCodeLedgerUnavailable   = "LEDGER_UNAVAILABLE"
	ErrCodeInvalidIdentifier   = "INVALID_IDENTIFIER"
	ErrCodeDuplicate           = "DUPLICATE_KEY"
	ErrCodeConnection          = "CONNECTION_ERROR"
	ErrCodeDatabase            = "DATABASE_ERROR"
	ErrCodeInternal            = "INTERNAL_ERROR"
	ErrCodeConfiguration       = "CONFIGURATION_ERROR"
	ErrCodeExternal            = "EXTERNAL_ERROR"
)

// Rejection reasons
const (
	ReasonStaleSequence     = "stale_sequence"
	ReasonUnderpriced       = "underpriced"
	ReasonInsufficientFunds = "insufficient_funds"
	ReasonReverted          = "reverted"
	ReasonRejected          = "rejected"
)
