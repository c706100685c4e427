package errors

import (
	"fmt"
)

// ErrorCategory groups gateway response codes by how they should be handled
type ErrorCategory string

const (
	CategoryApproved          ErrorCategory = "approved"
	CategoryDeclined          ErrorCategory = "declined"
	CategoryInsufficientFunds ErrorCategory = "insufficient_funds"
	CategoryInvalidCard       ErrorCategory = "invalid_card"
	CategoryExpiredCard       ErrorCategory = "expired_card"
	CategoryFraud             ErrorCategory = "fraud"
	CategorySystemError       ErrorCategory = "system_error"
	CategoryNetworkError      ErrorCategory = "network_error"
	CategoryInvalidRequest    ErrorCategory = "invalid_request"
)

// GatewayError is a transport or protocol failure talking to a payment
// processor. It never describes a card decline.
type GatewayError struct {
	Op       string
	Category ErrorCategory
	Err      error
}

func (e *GatewayError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s (%s): %v", e.Op, e.Category, e.Err)
	}
	return fmt.Sprintf("%s (%s)", e.Op, e.Category)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// NewGatewayError creates a gateway error
func NewGatewayError(op string, category ErrorCategory, err error) *GatewayError {
	return &GatewayError{Op: op, Category: category, Err: err}
}

// ValidationError represents input validation errors
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}
