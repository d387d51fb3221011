package handlers

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	domain "github.com/lionbidi/storefront/internal/domain"
	"github.com/lionbidi/storefront/internal/payments"
	"github.com/lionbidi/storefront/internal/platform/httpx"
	"github.com/lionbidi/storefront/internal/platform/requestctx"
	"github.com/lionbidi/storefront/internal/services"
)

type errorMapping struct {
	target error
	code   string
	status int
}

// Order matters: specific sentinels are listed before the invalid-input parents that wrap them.
var serviceErrorMappings = []errorMapping{
	{services.ErrUnauthenticated, "unauthenticated", http.StatusUnauthorized},
	{services.ErrOrderNotFound, "order_not_found", http.StatusNotFound},
	{services.ErrOrderForbidden, "order_not_found", http.StatusNotFound},
	{services.ErrScreenshotUnavailable, "screenshot_not_found", http.StatusNotFound},
	{services.ErrTransactionIDInUse, "transaction_id_in_use", http.StatusConflict},
	{services.ErrPaymentAlreadyPending, "payment_pending_verification", http.StatusConflict},
	{services.ErrPaymentNotAccepted, "payment_not_accepted", http.StatusConflict},
	{services.ErrPaymentAttemptsExhausted, "payment_attempts_exhausted", http.StatusConflict},
	{services.ErrDecisionAlreadyRecorded, "decision_already_recorded", http.StatusConflict},
	{services.ErrOrderInvalidState, "invalid_order_state", http.StatusConflict},
	{services.ErrOrderConflict, "order_conflict", http.StatusConflict},
	{services.ErrMergeAlreadyApplied, "merge_already_applied", http.StatusConflict},
	{services.ErrCartConflict, "cart_conflict", http.StatusConflict},
	{payments.ErrScreenshotTooLarge, "screenshot_too_large", http.StatusRequestEntityTooLarge},
	{payments.ErrInvalidScreenshot, "invalid_screenshot", http.StatusBadRequest},
	{payments.ErrInvalidTransactionID, "invalid_transaction_id", http.StatusBadRequest},
	{domain.ErrInvalidAddress, "invalid_address", http.StatusBadRequest},
	{domain.ErrInvalidCartEvent, "invalid_cart_event", http.StatusBadRequest},
	{services.ErrDeliveryInvalidInput, "invalid_delivery_request", http.StatusBadRequest},
}

// writeServiceError maps service failures onto the error envelope. The kind always comes from
// services.KindOf so clients see the same taxonomy the services use.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	kind := services.KindOf(err)
	for _, m := range serviceErrorMappings {
		if !errors.Is(err, m.target) {
			continue
		}
		apiErr := httpx.NewError(m.code, err.Error(), m.status).WithKind(string(kind))
		var addrErr *domain.AddressError
		if errors.As(err, &addrErr) {
			apiErr = apiErr.WithDetails(map[string]any{"fields": addrErr.Fields})
		}
		httpx.WriteError(ctx, w, apiErr)
		return
	}

	switch kind {
	case services.KindValidation:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case services.KindConflict:
		httpx.WriteError(ctx, w, httpx.NewError("conflict", err.Error(), http.StatusConflict))
	case services.KindTransient:
		requestctx.Logger(ctx).Warn("service unavailable", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "service temporarily unavailable", http.StatusServiceUnavailable))
	default:
		requestctx.Logger(ctx).Error("unhandled service error", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "internal server error", http.StatusInternalServerError))
	}
}

func writeDecodeError(ctx context.Context, w http.ResponseWriter, err error) {
	if errors.Is(err, httpx.ErrBodyTooLarge) {
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		return
	}
	httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
}

func writeUnavailable(ctx context.Context, w http.ResponseWriter, name string) {
	httpx.WriteError(ctx, w, httpx.NewError(name+"_service_unavailable", name+" service is unavailable", http.StatusServiceUnavailable))
}
