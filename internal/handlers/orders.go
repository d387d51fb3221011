package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/lionbidi/storefront/internal/domain"
	"github.com/lionbidi/storefront/internal/payments"
	"github.com/lionbidi/storefront/internal/platform/auth"
	"github.com/lionbidi/storefront/internal/platform/httpx"
	"github.com/lionbidi/storefront/internal/platform/pagination"
	"github.com/lionbidi/storefront/internal/services"
	"github.com/lionbidi/storefront/internal/wire"
)

const (
	maxOrderBodySize   = 64 * 1024
	maxPaymentBodySize = httpx.DefaultMaxBodyBytes
	maxDecisionBody    = 8 * 1024
)

// OrderService creates, reads and cancels orders.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd services.CreateOrderCommand) (domain.Order, error)
	GetOrder(ctx context.Context, viewer services.Viewer, orderID string) (domain.Order, error)
	GetOrderByNumber(ctx context.Context, viewer services.Viewer, orderNumber string) (domain.Order, error)
	CancelOrder(ctx context.Context, cmd services.CancelOrderCommand) (domain.Order, error)
}

// PaymentService accepts payment references and serves the reviewer queue.
type PaymentService interface {
	SubmitPayment(ctx context.Context, cmd services.SubmitPaymentCommand) (domain.Order, error)
	ListPending(ctx context.Context, query services.PendingQueueQuery) (domain.CursorPage[domain.Order], error)
	ScreenshotURL(ctx context.Context, orderID string) (string, time.Time, error)
}

// ReviewerService records reviewer verdicts.
type ReviewerService interface {
	Decide(ctx context.Context, cmd services.DecisionCommand) (domain.Order, error)
}

// OperationRecorder counts order operations by outcome.
type OperationRecorder interface {
	RecordOrderOperation(operation, outcome string)
}

// OrderHandlers exposes buyer and reviewer order endpoints.
type OrderHandlers struct {
	authn    *auth.Authenticator
	orders   OrderService
	payments PaymentService
	reviewer ReviewerService
	createMW []func(http.Handler) http.Handler
	metrics  OperationRecorder
}

// OrderHandlerOption customises OrderHandlers.
type OrderHandlerOption func(*OrderHandlers)

// WithCreateMiddlewares wraps only the order creation route, typically with the idempotency middleware.
func WithCreateMiddlewares(mw ...func(http.Handler) http.Handler) OrderHandlerOption {
	return func(h *OrderHandlers) {
		h.createMW = append(h.createMW, mw...)
	}
}

// WithOperationRecorder records per-operation outcomes.
func WithOperationRecorder(rec OperationRecorder) OrderHandlerOption {
	return func(h *OrderHandlers) {
		h.metrics = rec
	}
}

// NewOrderHandlers constructs OrderHandlers. A nil authenticator skips token verification, which
// tests use together with auth.WithIdentity.
func NewOrderHandlers(authn *auth.Authenticator, orders OrderService, payments PaymentService, reviewer ReviewerService, opts ...OrderHandlerOption) *OrderHandlers {
	h := &OrderHandlers{
		authn:    authn,
		orders:   orders,
		payments: payments,
		reviewer: reviewer,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireUser())
	}
	r.With(h.createMW...).Post("/create", h.createOrder)
	r.Get("/number/{orderNumber}", h.getOrderByNumber)
	r.With(requireStaff).Get("/admin/pending", h.listPending)

	r.Route("/{orderID}", func(order chi.Router) {
		order.Get("/", h.getOrder)
		order.Post("/confirm-payment", h.confirmPayment)
		order.Post("/cancel", h.cancelOrder)

		order.Group(func(staff chi.Router) {
			staff.Use(requireStaff)
			staff.Post("/admin/verify-payment", h.verifyPayment)
			staff.Post("/reject-payment", h.rejectPayment)
			staff.Get("/admin/screenshot", h.screenshotURL)
		})
	})
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeUnavailable(ctx, w, "order")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req wire.CreateOrderRequest
	if err := httpx.DecodeJSON(r, &req, maxOrderBodySize); err != nil {
		writeDecodeError(ctx, w, err)
		return
	}

	delivery := req.DeliveryInfo.ToDomain()
	if req.DeliveryCharges != delivery.Charges {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "deliveryCharges must match deliveryInfo.charges", http.StatusBadRequest))
		return
	}

	order, err := h.orders.CreateOrder(ctx, services.CreateOrderCommand{
		UserID:        identity.UID,
		CheckoutID:    req.CheckoutID,
		Lines:         wire.ToLines(req.Items),
		Address:       req.ShippingAddress.ToDomain(),
		PaymentMethod: domain.PaymentMethod(strings.TrimSpace(req.PaymentMethod)),
		Delivery:      delivery,
	})
	h.record("create", err)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, map[string]any{"order": wire.FromOrder(order)})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeUnavailable(ctx, w, "order")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	order, err := h.orders.GetOrder(ctx, viewerFor(identity), chi.URLParam(r, "orderID"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"order": wire.FromOrder(order)})
}

func (h *OrderHandlers) getOrderByNumber(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeUnavailable(ctx, w, "order")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	order, err := h.orders.GetOrderByNumber(ctx, viewerFor(identity), chi.URLParam(r, "orderNumber"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"order": wire.FromOrder(order)})
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeUnavailable(ctx, w, "order")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	order, err := h.orders.CancelOrder(ctx, services.CancelOrderCommand{
		UserID:  identity.UID,
		OrderID: chi.URLParam(r, "orderID"),
	})
	h.record("cancel", err)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"order": wire.FromOrder(order)})
}

func (h *OrderHandlers) confirmPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		writeUnavailable(ctx, w, "payment")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req wire.ConfirmPaymentRequest
	if err := httpx.DecodeJSON(r, &req, maxPaymentBodySize); err != nil {
		writeDecodeError(ctx, w, err)
		return
	}

	cmd := services.SubmitPaymentCommand{
		UserID:        identity.UID,
		OrderID:       chi.URLParam(r, "orderID"),
		TransactionID: req.TransactionID,
	}
	if strings.TrimSpace(req.Screenshot) != "" {
		shot, err := payments.ParseDataURL(req.Screenshot)
		if err != nil {
			writeServiceError(ctx, w, err)
			return
		}
		cmd.Screenshot = &shot
	}

	order, err := h.payments.SubmitPayment(ctx, cmd)
	h.record("submit_payment", err)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"order":       wire.FromOrder(order),
		"orderNumber": order.OrderNumber,
	})
}

func (h *OrderHandlers) verifyPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req wire.VerifyPaymentRequest
	if err := httpx.DecodeJSON(r, &req, maxDecisionBody); err != nil {
		writeDecodeError(ctx, w, err)
		return
	}
	if req.Verified == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "verified is required", http.StatusBadRequest))
		return
	}
	verdict := services.VerdictVerified
	if !*req.Verified {
		verdict = services.VerdictRejected
	}
	h.decide(w, r, verdict, req.Notes)
}

func (h *OrderHandlers) rejectPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req wire.RejectPaymentRequest
	if err := httpx.DecodeJSON(r, &req, maxDecisionBody); err != nil {
		writeDecodeError(ctx, w, err)
		return
	}
	h.decide(w, r, services.VerdictRejected, req.Reason)
}

func (h *OrderHandlers) decide(w http.ResponseWriter, r *http.Request, verdict services.Verdict, notes string) {
	ctx := r.Context()
	if h.reviewer == nil {
		writeUnavailable(ctx, w, "review")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	order, err := h.reviewer.Decide(ctx, services.DecisionCommand{
		OrderID:    chi.URLParam(r, "orderID"),
		ReviewerID: identity.UID,
		Verdict:    verdict,
		Notes:      notes,
	})
	h.record("decide_"+string(verdict), err)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"order": wire.FromOrder(order)})
}

func (h *OrderHandlers) listPending(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		writeUnavailable(ctx, w, "payment")
		return
	}
	params, err := pagination.FromRequest(r, pagination.Options{})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	page, err := h.payments.ListPending(ctx, services.PendingQueueQuery{
		PageSize:  params.PageSize,
		PageToken: params.PageToken,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	orders := make([]wire.Order, 0, len(page.Items))
	for _, order := range page.Items {
		orders = append(orders, wire.FromOrder(order))
	}
	body := map[string]any{"orders": orders}
	if token := strings.TrimSpace(page.NextPageToken); token != "" {
		body["nextPageToken"] = token
	}
	httpx.WriteJSON(w, http.StatusOK, body)
}

func (h *OrderHandlers) screenshotURL(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		writeUnavailable(ctx, w, "payment")
		return
	}
	url, expires, err := h.payments.ScreenshotURL(ctx, chi.URLParam(r, "orderID"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"url":       url,
		"expiresAt": expires.UTC(),
	})
}

func (h *OrderHandlers) record(operation string, err error) {
	if h.metrics == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = string(services.KindOf(err))
	}
	h.metrics.RecordOrderOperation(operation, outcome)
}

func requireIdentity(ctx context.Context, w http.ResponseWriter) (*auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

// requireStaff admits identities already attached by the authenticator that hold the staff or
// admin role.
func requireStaff(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := requireIdentity(r.Context(), w)
		if !ok {
			return
		}
		if !identity.IsStaff() {
			httpx.WriteError(r.Context(), w, httpx.NewError("forbidden", "staff role required", http.StatusForbidden))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func viewerFor(identity *auth.Identity) services.Viewer {
	return services.Viewer{UserID: identity.UID, Staff: identity.IsStaff()}
}
