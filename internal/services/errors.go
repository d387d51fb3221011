package services

import (
	"context"
	"errors"

	domain "github.com/lionbidi/storefront/internal/domain"
	"github.com/lionbidi/storefront/internal/payments"
	"github.com/lionbidi/storefront/internal/platform/pagination"
	"github.com/lionbidi/storefront/internal/repositories"
)

// ErrorKind classifies failures for callers deciding whether to retry, fix input, or give up.
type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	KindConflict   ErrorKind = "conflict"
	KindTransient  ErrorKind = "transient"
	KindFatal      ErrorKind = "fatal"
)

var (
	// ErrUnauthenticated indicates the caller identity is missing.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrUnavailable wraps backend outages that are safe to retry.
	ErrUnavailable = errors.New("backend unavailable")

	// ErrPricingInvalidInput signals malformed cart lines.
	ErrPricingInvalidInput = errors.New("pricing: invalid input")
	// ErrDeliveryInvalidInput signals a malformed postal code or amount.
	ErrDeliveryInvalidInput = errors.New("delivery: invalid input")

	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderForbidden indicates the caller does not own the order.
	ErrOrderForbidden = errors.New("order: forbidden")
	// ErrOrderInvalidState indicates an invalid status transition was attempted.
	ErrOrderInvalidState = errors.New("order: invalid status transition")
	// ErrOrderConflict indicates concurrent writes or duplicates.
	ErrOrderConflict = errors.New("order: conflict")

	// ErrPaymentInvalidInput signals a malformed payment submission.
	ErrPaymentInvalidInput = errors.New("payment: invalid input")
	// ErrPaymentAlreadyPending indicates a submitted reference is still awaiting review.
	ErrPaymentAlreadyPending = errors.New("payment: verification pending")
	// ErrPaymentNotAccepted indicates the order no longer accepts payment references.
	ErrPaymentNotAccepted = errors.New("payment: order does not accept payment submissions")
	// ErrPaymentAttemptsExhausted indicates the resubmission limit was reached.
	ErrPaymentAttemptsExhausted = errors.New("payment: submission attempts exhausted")
	// ErrTransactionIDInUse indicates the transaction id is registered to a different order.
	ErrTransactionIDInUse = errors.New("payment: transaction id already used")
	// ErrScreenshotUnavailable indicates the order has no stored screenshot.
	ErrScreenshotUnavailable = errors.New("payment: screenshot not available")

	// ErrDecisionInvalidInput signals a malformed reviewer decision.
	ErrDecisionInvalidInput = errors.New("decision: invalid input")
	// ErrDecisionAlreadyRecorded indicates the payment is no longer pending review.
	ErrDecisionAlreadyRecorded = errors.New("decision: already recorded")

	// ErrCartInvalidInput signals malformed cart or wishlist input.
	ErrCartInvalidInput = errors.New("cart: invalid input")
	// ErrCartConflict indicates a concurrent cart or wishlist write.
	ErrCartConflict = errors.New("cart: conflict")
	// ErrMergeAlreadyApplied indicates the merge key was applied before.
	ErrMergeAlreadyApplied = errors.New("cart: merge already applied")
)

var (
	validationErrors = []error{
		ErrPricingInvalidInput,
		ErrDeliveryInvalidInput,
		ErrOrderInvalidInput,
		ErrPaymentInvalidInput,
		ErrDecisionInvalidInput,
		ErrCartInvalidInput,
		payments.ErrInvalidTransactionID,
		payments.ErrInvalidScreenshot,
		domain.ErrInvalidAddress,
		domain.ErrInvalidCartEvent,
		pagination.ErrInvalidPageSize,
		pagination.ErrInvalidPageToken,
	}
	conflictErrors = []error{
		ErrOrderInvalidState,
		ErrOrderConflict,
		ErrPaymentAlreadyPending,
		ErrPaymentNotAccepted,
		ErrPaymentAttemptsExhausted,
		ErrTransactionIDInUse,
		ErrDecisionAlreadyRecorded,
		ErrCartConflict,
		ErrMergeAlreadyApplied,
	}
)

// KindOf classifies err. Unknown errors are fatal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return KindValidation
		}
	}
	for _, target := range conflictErrors {
		if errors.Is(err, target) {
			return KindConflict
		}
	}
	if errors.Is(err, ErrUnavailable) || errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsUnavailable():
			return KindTransient
		case repoErr.IsConflict():
			return KindConflict
		}
	}
	return KindFatal
}

// Retryable reports whether the failure is transient.
func Retryable(err error) bool {
	return KindOf(err) == KindTransient
}
