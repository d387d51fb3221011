package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/lionbidi/storefront/internal/domain"
	"github.com/lionbidi/storefront/internal/platform/idempotency"
	"github.com/lionbidi/storefront/internal/services"
)

func newCartRouter(h *CartHandlers) chi.Router {
	router := chi.NewRouter()
	router.Route("/api/cart", h.CartRoutes)
	router.Route("/api/wishlist", h.WishlistRoutes)
	return router
}

func TestCartHandlersGetCart(t *testing.T) {
	updated := time.Date(2026, time.March, 14, 9, 0, 0, 0, time.UTC)
	original := int64(59900)
	carts := &stubCartService{
		getCartFunc: func(_ context.Context, userID string) (domain.Cart, error) {
			if userID != "buyer-1" {
				t.Fatalf("unexpected user %q", userID)
			}
			return domain.Cart{
				UserID: userID,
				Lines: []domain.CartLine{
					{ProductID: "A", Name: "Kurta", UnitPrice: 49900, OriginalUnitPrice: &original, Quantity: 2},
					{ProductID: "B", Name: "Scarf", UnitPrice: 19900, Quantity: 1},
				},
				UpdatedAt: updated,
			}, nil
		},
	}
	router := newCartRouter(NewCartHandlers(nil, carts))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, newJSONRequest(t, http.MethodGet, "/api/cart", "", buyer()))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	cart := decodeBody(t, rr)["cart"].(map[string]any)
	if cart["totalQuantity"] != float64(3) {
		t.Fatalf("expected total quantity 3, got %v", cart["totalQuantity"])
	}
	items := cart["items"].([]any)
	first := items[0].(map[string]any)
	if first["originalUnitPrice"] != float64(59900) {
		t.Fatalf("expected original price, got %v", first)
	}
	if _, ok := items[1].(map[string]any)["originalUnitPrice"]; ok {
		t.Fatalf("expected original price omitted for second line")
	}
}

func TestCartHandlersApplyCartEvent(t *testing.T) {
	var got domain.CartEvent
	carts := &stubCartService{
		cartEventFunc: func(_ context.Context, _ string, event domain.CartEvent) (domain.Cart, error) {
			got = event
			return domain.Cart{Lines: []domain.CartLine{event.Line}}, nil
		},
	}
	router := newCartRouter(NewCartHandlers(nil, carts))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, newJSONRequest(t, http.MethodPost, "/api/cart/events", `{"type":"add","item":{"productId":"A","name":"Kurta","unitPrice":49900,"quantity":1}}`, buyer()))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if got.Type != domain.CartEventAdd || got.Line.ProductID != "A" || got.Line.Quantity != 1 {
		t.Fatalf("unexpected event %+v", got)
	}
}

func TestCartHandlersApplyCartEventInvalid(t *testing.T) {
	carts := &stubCartService{
		cartEventFunc: func(context.Context, string, domain.CartEvent) (domain.Cart, error) {
			return domain.Cart{}, services.ErrCartInvalidInput
		},
	}
	router := newCartRouter(NewCartHandlers(nil, carts))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, newJSONRequest(t, http.MethodPost, "/api/cart/events", `{"type":"explode"}`, buyer()))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestCartHandlersMergeCart(t *testing.T) {
	var got services.MergeCartCommand
	carts := &stubCartService{
		mergeCartFunc: func(_ context.Context, cmd services.MergeCartCommand) (domain.Cart, error) {
			got = cmd
			return domain.Cart{Lines: []domain.CartLine{{ProductID: "A", Quantity: 5}}}, nil
		},
	}
	router := newCartRouter(NewCartHandlers(nil, carts))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, newJSONRequest(t, http.MethodPost, "/api/cart/merge", `{"items":[{"productId":"A","quantity":2}],"mergeKey":"login-1"}`, buyer()))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if got.UserID != "buyer-1" || got.MergeKey != "login-1" || len(got.Lines) != 1 || got.Lines[0].Quantity != 2 {
		t.Fatalf("unexpected merge command %+v", got)
	}
}

func TestCartHandlersMergeWithoutBodyKeyUsesIdempotencyHeader(t *testing.T) {
	var cartKey, wishlistKey string
	carts := &stubCartService{
		mergeCartFunc: func(_ context.Context, cmd services.MergeCartCommand) (domain.Cart, error) {
			cartKey = cmd.MergeKey
			return domain.Cart{Lines: cmd.Lines}, nil
		},
		mergeWishlistFunc: func(_ context.Context, cmd services.MergeWishlistCommand) (domain.Wishlist, error) {
			wishlistKey = cmd.MergeKey
			return domain.Wishlist{}, nil
		},
	}
	router := newCartRouter(NewCartHandlers(nil, carts))

	for _, target := range []string{"/api/cart/merge", "/api/wishlist/merge"} {
		req := newJSONRequest(t, http.MethodPost, target, `{"items":[]}`, buyer())
		req.Header.Set(idempotency.DefaultHeader, "login-7")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d: %s", target, rr.Code, rr.Body.String())
		}
	}
	if cartKey != "login-7" || wishlistKey != "login-7" {
		t.Fatalf("expected header key, got %q and %q", cartKey, wishlistKey)
	}
}

func TestCartHandlersMergeReplayConflicts(t *testing.T) {
	carts := &stubCartService{
		mergeCartFunc: func(context.Context, services.MergeCartCommand) (domain.Cart, error) {
			return domain.Cart{}, services.ErrMergeAlreadyApplied
		},
		mergeWishlistFunc: func(context.Context, services.MergeWishlistCommand) (domain.Wishlist, error) {
			return domain.Wishlist{}, services.ErrMergeAlreadyApplied
		},
	}
	router := newCartRouter(NewCartHandlers(nil, carts))

	for _, target := range []string{"/api/cart/merge", "/api/wishlist/merge"} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, newJSONRequest(t, http.MethodPost, target, `{"items":[],"mergeKey":"login-1"}`, buyer()))
		if rr.Code != http.StatusConflict {
			t.Fatalf("%s: expected 409, got %d", target, rr.Code)
		}
		if got := decodeBody(t, rr)["error"]; got != "merge_already_applied" {
			t.Fatalf("%s: unexpected code %v", target, got)
		}
	}
}

func TestCartHandlersWishlistToggle(t *testing.T) {
	var got domain.WishlistEvent
	carts := &stubCartService{
		wishlistEventFunc: func(_ context.Context, _ string, event domain.WishlistEvent) (domain.Wishlist, error) {
			got = event
			return domain.Wishlist{Entries: []domain.WishlistEntry{event.Entry}}, nil
		},
	}
	router := newCartRouter(NewCartHandlers(nil, carts))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, newJSONRequest(t, http.MethodPost, "/api/wishlist/events", `{"type":"toggle","item":{"productId":"B","name":"Scarf","unitPrice":19900}}`, buyer()))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if got.Type != domain.WishlistEventToggle || got.Entry.ProductID != "B" {
		t.Fatalf("unexpected event %+v", got)
	}
	list := decodeBody(t, rr)["wishlist"].(map[string]any)
	if items := list["items"].([]any); len(items) != 1 {
		t.Fatalf("unexpected wishlist %v", list)
	}
}

func TestCartHandlersRequireIdentity(t *testing.T) {
	router := newCartRouter(NewCartHandlers(nil, &stubCartService{}))

	for _, target := range []string{"/api/cart", "/api/wishlist"} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, newJSONRequest(t, http.MethodGet, target, "", nil))
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", target, rr.Code)
		}
	}
}
