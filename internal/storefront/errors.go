package storefront

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	domain "github.com/lionbidi/storefront/internal/domain"
	"github.com/lionbidi/storefront/internal/payments"
)

// ErrorKind classifies failures by how the caller should recover.
type ErrorKind string

const (
	// KindValidation is fixed by the user editing their input. No request was useful.
	KindValidation ErrorKind = "validation"
	// KindConflict means the server refused to double-apply an operation.
	KindConflict ErrorKind = "conflict"
	// KindTransient covers network failures and retryable server errors.
	KindTransient ErrorKind = "transient"
	// KindFatal means the flow cannot continue with the data at hand.
	KindFatal ErrorKind = "fatal"
)

// Codes the UI distinguishes from generic failures.
const (
	CodeTransactionIDInUse  = "transaction_id_in_use"
	CodePaymentPending      = "payment_pending_verification"
	CodeAttemptsExhausted   = "payment_attempts_exhausted"
	CodeDecisionRecorded    = "decision_already_recorded"
	CodeMergeAlreadyApplied = "merge_already_applied"
	CodeOrderNotFound       = "order_not_found"
)

// APIError is a non-2xx response from the API.
type APIError struct {
	Status    int
	Code      string
	Kind      ErrorKind
	Message   string
	RequestID string
	Details   map[string]any
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("storefront: api status %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("storefront: api status %d (%s): %s", e.Status, e.Code, e.Message)
}

// KindForStatus maps an HTTP status code to an ErrorKind.
func KindForStatus(status int) ErrorKind {
	switch {
	case status == http.StatusBadRequest, status == http.StatusRequestEntityTooLarge, status == http.StatusUnprocessableEntity:
		return KindValidation
	case status == http.StatusConflict, status == http.StatusPreconditionFailed:
		return KindConflict
	case status == http.StatusTooManyRequests, status == http.StatusRequestTimeout, status >= 500:
		return KindTransient
	default:
		return KindFatal
	}
}

// KindOf classifies err. Local validation failures are KindValidation; transport failures and
// deadlines are KindTransient; API errors carry their own kind.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var apiErr *APIError
	switch {
	case errors.As(err, &apiErr):
		return apiErr.Kind
	case errors.Is(err, payments.ErrInvalidTransactionID),
		errors.Is(err, payments.ErrInvalidScreenshot),
		errors.Is(err, domain.ErrInvalidAddress),
		errors.Is(err, ErrMissingOrderID),
		errors.Is(err, ErrMissingCheckoutID),
		errors.Is(err, ErrMissingLoginID):
		return KindValidation
	case errors.Is(err, ErrTransport), errors.Is(err, context.DeadlineExceeded):
		return KindTransient
	default:
		return KindFatal
	}
}

// IsCode reports whether err is an APIError with the given code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// StatusOf returns the HTTP status of an APIError, or 0.
func StatusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}
