package domain

import (
	"errors"
	"fmt"
)

// ErrorCode represents a machine-readable error code
type ErrorCode string

const (
	// Call context errors (CALL_*)
	ErrorCodeCallContextInvalid ErrorCode = "CALL_CONTEXT_INVALID"
	ErrorCodeCallStepUnknown    ErrorCode = "CALL_STEP_UNKNOWN"

	// Customer errors (CUSTOMER_*)
	ErrorCodeCustomerNotFound ErrorCode = "CUSTOMER_NOT_FOUND"

	// Validation errors (VALIDATION_*)
	ErrorCodeValidationFailed       ErrorCode = "VALIDATION_FAILED"
	ErrorCodeValidationMissingField ErrorCode = "VALIDATION_MISSING_FIELD"

	// Ledger errors (LEDGER_*)
	ErrorCodeLedgerWriteFailed ErrorCode = "LEDGER_WRITE_FAILED"
	ErrorCodePaymentNotFound   ErrorCode = "LEDGER_PAYMENT_NOT_FOUND"

	// Payment gateway errors (GATEWAY_*)
	ErrorCodeGatewayError ErrorCode = "GATEWAY_ERROR"

	// Internal errors (INTERNAL_*)
	ErrorCodeInternalError ErrorCode = "INTERNAL_ERROR"
	ErrorCodeDatabaseError ErrorCode = "INTERNAL_DATABASE_ERROR"
)

// DomainError represents a structured domain error with error code and context
type DomainError struct {
	Err     error
	Details map[string]interface{}
	Code    ErrorCode
	Message string
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is matches any DomainError carrying the same code, so wrapped copies of the
// sentinel values below satisfy errors.Is.
func (e *DomainError) Is(target error) bool {
	var t *DomainError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// WithDetail adds a detail field to the error
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewDomainError creates a new domain error
func NewDomainError(code ErrorCode, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
	}
}

// WrapError wraps an existing error with a domain error code
func WrapError(code ErrorCode, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Err:     err,
	}
}

// IsDomainError checks if an error is a DomainError with the given code
func IsDomainError(err error, code ErrorCode) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code == code
	}
	return false
}

// GetErrorCode extracts the error code from an error, returns empty string if not a DomainError
func GetErrorCode(err error) ErrorCode {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return ""
}

// IsNotFoundError checks if an error represents a "not found" condition
func IsNotFoundError(err error) bool {
	code := GetErrorCode(err)
	return code == ErrorCodeCustomerNotFound ||
		code == ErrorCodePaymentNotFound
}

var (
	ErrCallContextInvalid = NewDomainError(ErrorCodeCallContextInvalid, "call context is invalid")
	ErrCallStepUnknown    = NewDomainError(ErrorCodeCallStepUnknown, "unknown call step")

	ErrCustomerNotFound = NewDomainError(ErrorCodeCustomerNotFound, "customer not found")

	ErrValidationFailed       = NewDomainError(ErrorCodeValidationFailed, "validation failed")
	ErrValidationMissingField = NewDomainError(ErrorCodeValidationMissingField, "required field missing")

	ErrLedgerWriteFailed = NewDomainError(ErrorCodeLedgerWriteFailed, "ledger write failed")
	ErrPaymentNotFound   = NewDomainError(ErrorCodePaymentNotFound, "payment record not found")

	ErrGatewayError = NewDomainError(ErrorCodeGatewayError, "payment gateway error")

	ErrInternalError = NewDomainError(ErrorCodeInternalError, "internal server error")
	ErrDatabaseError = NewDomainError(ErrorCodeDatabaseError, "database error")
)
