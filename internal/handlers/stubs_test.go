package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	domain "github.com/lionbidi/storefront/internal/domain"
	"github.com/lionbidi/storefront/internal/platform/auth"
	"github.com/lionbidi/storefront/internal/services"
)

var errNotStubbed = errors.New("not stubbed")

type stubOrderService struct {
	createFunc   func(ctx context.Context, cmd services.CreateOrderCommand) (domain.Order, error)
	getFunc      func(ctx context.Context, viewer services.Viewer, orderID string) (domain.Order, error)
	byNumberFunc func(ctx context.Context, viewer services.Viewer, number string) (domain.Order, error)
	cancelFunc   func(ctx context.Context, cmd services.CancelOrderCommand) (domain.Order, error)
}

func (s *stubOrderService) CreateOrder(ctx context.Context, cmd services.CreateOrderCommand) (domain.Order, error) {
	if s.createFunc == nil {
		return domain.Order{}, errNotStubbed
	}
	return s.createFunc(ctx, cmd)
}

func (s *stubOrderService) GetOrder(ctx context.Context, viewer services.Viewer, orderID string) (domain.Order, error) {
	if s.getFunc == nil {
		return domain.Order{}, errNotStubbed
	}
	return s.getFunc(ctx, viewer, orderID)
}

func (s *stubOrderService) GetOrderByNumber(ctx context.Context, viewer services.Viewer, number string) (domain.Order, error) {
	if s.byNumberFunc == nil {
		return domain.Order{}, errNotStubbed
	}
	return s.byNumberFunc(ctx, viewer, number)
}

func (s *stubOrderService) CancelOrder(ctx context.Context, cmd services.CancelOrderCommand) (domain.Order, error) {
	if s.cancelFunc == nil {
		return domain.Order{}, errNotStubbed
	}
	return s.cancelFunc(ctx, cmd)
}

type stubPaymentService struct {
	submitFunc     func(ctx context.Context, cmd services.SubmitPaymentCommand) (domain.Order, error)
	pendingFunc    func(ctx context.Context, query services.PendingQueueQuery) (domain.CursorPage[domain.Order], error)
	screenshotFunc func(ctx context.Context, orderID string) (string, time.Time, error)
}

func (s *stubPaymentService) SubmitPayment(ctx context.Context, cmd services.SubmitPaymentCommand) (domain.Order, error) {
	if s.submitFunc == nil {
		return domain.Order{}, errNotStubbed
	}
	return s.submitFunc(ctx, cmd)
}

func (s *stubPaymentService) ListPending(ctx context.Context, query services.PendingQueueQuery) (domain.CursorPage[domain.Order], error) {
	if s.pendingFunc == nil {
		return domain.CursorPage[domain.Order]{}, errNotStubbed
	}
	return s.pendingFunc(ctx, query)
}

func (s *stubPaymentService) ScreenshotURL(ctx context.Context, orderID string) (string, time.Time, error) {
	if s.screenshotFunc == nil {
		return "", time.Time{}, errNotStubbed
	}
	return s.screenshotFunc(ctx, orderID)
}

type stubReviewerService struct {
	decideFunc func(ctx context.Context, cmd services.DecisionCommand) (domain.Order, error)
}

func (s *stubReviewerService) Decide(ctx context.Context, cmd services.DecisionCommand) (domain.Order, error) {
	if s.decideFunc == nil {
		return domain.Order{}, errNotStubbed
	}
	return s.decideFunc(ctx, cmd)
}

type stubCartService struct {
	getCartFunc       func(ctx context.Context, userID string) (domain.Cart, error)
	cartEventFunc     func(ctx context.Context, userID string, event domain.CartEvent) (domain.Cart, error)
	mergeCartFunc     func(ctx context.Context, cmd services.MergeCartCommand) (domain.Cart, error)
	getWishlistFunc   func(ctx context.Context, userID string) (domain.Wishlist, error)
	wishlistEventFunc func(ctx context.Context, userID string, event domain.WishlistEvent) (domain.Wishlist, error)
	mergeWishlistFunc func(ctx context.Context, cmd services.MergeWishlistCommand) (domain.Wishlist, error)
}

func (s *stubCartService) GetCart(ctx context.Context, userID string) (domain.Cart, error) {
	if s.getCartFunc == nil {
		return domain.Cart{}, errNotStubbed
	}
	return s.getCartFunc(ctx, userID)
}

func (s *stubCartService) ApplyCartEvent(ctx context.Context, userID string, event domain.CartEvent) (domain.Cart, error) {
	if s.cartEventFunc == nil {
		return domain.Cart{}, errNotStubbed
	}
	return s.cartEventFunc(ctx, userID, event)
}

func (s *stubCartService) MergeCart(ctx context.Context, cmd services.MergeCartCommand) (domain.Cart, error) {
	if s.mergeCartFunc == nil {
		return domain.Cart{}, errNotStubbed
	}
	return s.mergeCartFunc(ctx, cmd)
}

func (s *stubCartService) GetWishlist(ctx context.Context, userID string) (domain.Wishlist, error) {
	if s.getWishlistFunc == nil {
		return domain.Wishlist{}, errNotStubbed
	}
	return s.getWishlistFunc(ctx, userID)
}

func (s *stubCartService) ApplyWishlistEvent(ctx context.Context, userID string, event domain.WishlistEvent) (domain.Wishlist, error) {
	if s.wishlistEventFunc == nil {
		return domain.Wishlist{}, errNotStubbed
	}
	return s.wishlistEventFunc(ctx, userID, event)
}

func (s *stubCartService) MergeWishlist(ctx context.Context, cmd services.MergeWishlistCommand) (domain.Wishlist, error) {
	if s.mergeWishlistFunc == nil {
		return domain.Wishlist{}, errNotStubbed
	}
	return s.mergeWishlistFunc(ctx, cmd)
}

type recordedOperation struct {
	operation string
	outcome   string
}

type stubRecorder struct {
	ops []recordedOperation
}

func (s *stubRecorder) RecordOrderOperation(operation, outcome string) {
	s.ops = append(s.ops, recordedOperation{operation: operation, outcome: outcome})
}

func newJSONRequest(t *testing.T, method, target, body string, identity *auth.Identity) *http.Request {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if identity != nil {
		req = req.WithContext(auth.WithIdentity(req.Context(), identity))
	}
	return req
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response %q: %v", rr.Body.String(), err)
	}
	return body
}

func buyer() *auth.Identity {
	return &auth.Identity{UID: "buyer-1", Roles: []string{auth.RoleUser}}
}

func reviewer() *auth.Identity {
	return &auth.Identity{UID: "staff-1", Roles: []string{auth.RoleStaff}}
}

func sampleOrder() domain.Order {
	created := time.Date(2026, time.March, 14, 9, 30, 0, 0, time.UTC)
	return domain.Order{
		ID:          "ord_01HZX",
		OrderNumber: "LB-2026-000042",
		UserID:      "buyer-1",
		CheckoutID:  "chk-1",
		Items: []domain.CartLine{
			{ProductID: "tee-black", Name: "Black tee", UnitPrice: 49900, Quantity: 2},
		},
		Subtotal:        99800,
		DeliveryCharges: 4900,
		Total:           104700,
		ShippingAddress: domain.Address{
			Name:       "Asha Rao",
			Phone:      "9876543210",
			Street:     "12 MG Road",
			PostalCode: "560001",
			City:       "Bengaluru",
			State:      "Karnataka",
		},
		Delivery: domain.DeliveryInfo{Charges: 4900, BaseCharges: 4900, FreeDeliveryThreshold: 199900},
		Payment: domain.Payment{
			Method: domain.PaymentMethodUPI,
			Status: domain.PaymentStatusAwaitingPayment,
		},
		Status:    domain.OrderStatusPending,
		CreatedAt: created,
		UpdatedAt: created,
	}
}
