package repositories

import (
	"errors"
	"fmt"
)

// ErrCheckoutClaimed is returned by OrderRepository.Insert when an order already exists for the
// same user and checkout id.
var ErrCheckoutClaimed = errors.New("repositories: checkout already claimed")

// CheckoutClaimedError carries the order that owns a checkout claim.
type CheckoutClaimedError struct {
	UserID     string
	CheckoutID string
	OrderID    string
}

// Error implements the error interface.
func (e *CheckoutClaimedError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("checkout %s for user %s already claimed by order %s", e.CheckoutID, e.UserID, e.OrderID)
}

// Is reports ErrCheckoutClaimed equivalence.
func (e *CheckoutClaimedError) Is(target error) bool {
	return target == ErrCheckoutClaimed
}

// CounterErrorCode enumerates failure reasons for counter operations.
type CounterErrorCode string

const (
	// CounterErrorUnknown represents an unspecified failure.
	CounterErrorUnknown CounterErrorCode = "counter_unknown"
	// CounterErrorInvalidInput indicates the caller supplied invalid arguments.
	CounterErrorInvalidInput CounterErrorCode = "counter_invalid_input"
)

// CounterError wraps counter-specific failures with machine readable codes.
type CounterError struct {
	Op      string
	Code    CounterErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *CounterError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *CounterError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewCounterError constructs a typed counter error.
func NewCounterError(code CounterErrorCode, message string, err error) *CounterError {
	if message == "" {
		message = string(code)
	}
	return &CounterError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}
