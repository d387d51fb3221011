package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/lionbidi/storefront/internal/domain"
	"github.com/lionbidi/storefront/internal/platform/auth"
	"github.com/lionbidi/storefront/internal/platform/httpx"
	"github.com/lionbidi/storefront/internal/platform/idempotency"
	"github.com/lionbidi/storefront/internal/services"
	"github.com/lionbidi/storefront/internal/wire"
)

const maxCartBodySize = 64 * 1024

// CartService manages the account cart and wishlist.
type CartService interface {
	GetCart(ctx context.Context, userID string) (domain.Cart, error)
	ApplyCartEvent(ctx context.Context, userID string, event domain.CartEvent) (domain.Cart, error)
	MergeCart(ctx context.Context, cmd services.MergeCartCommand) (domain.Cart, error)
	GetWishlist(ctx context.Context, userID string) (domain.Wishlist, error)
	ApplyWishlistEvent(ctx context.Context, userID string, event domain.WishlistEvent) (domain.Wishlist, error)
	MergeWishlist(ctx context.Context, cmd services.MergeWishlistCommand) (domain.Wishlist, error)
}

// CartHandlers exposes the /cart and /wishlist endpoints for the signed-in user.
type CartHandlers struct {
	authn *auth.Authenticator
	carts CartService
}

// NewCartHandlers constructs handlers enforcing Firebase authentication before invoking the cart service.
func NewCartHandlers(authn *auth.Authenticator, carts CartService) *CartHandlers {
	return &CartHandlers{
		authn: authn,
		carts: carts,
	}
}

// CartRoutes wires the /cart endpoints.
func (h *CartHandlers) CartRoutes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireUser())
	}
	r.Get("/", h.getCart)
	r.Post("/events", h.applyCartEvent)
	r.Post("/merge", h.mergeCart)
}

// WishlistRoutes wires the /wishlist endpoints.
func (h *CartHandlers) WishlistRoutes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireUser())
	}
	r.Get("/", h.getWishlist)
	r.Post("/events", h.applyWishlistEvent)
	r.Post("/merge", h.mergeWishlist)
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.prepare(ctx, w)
	if !ok {
		return
	}
	cart, err := h.carts.GetCart(ctx, identity.UID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"cart": wire.FromCart(cart)})
}

func (h *CartHandlers) applyCartEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.prepare(ctx, w)
	if !ok {
		return
	}
	var req wire.CartEventRequest
	if err := httpx.DecodeJSON(r, &req, maxCartBodySize); err != nil {
		writeDecodeError(ctx, w, err)
		return
	}
	event := domain.CartEvent{
		Type:      domain.CartEventType(strings.TrimSpace(req.Type)),
		ProductID: req.ProductID,
		Quantity:  req.Quantity,
	}
	if req.Item != nil {
		event.Line = req.Item.ToDomain()
	}
	cart, err := h.carts.ApplyCartEvent(ctx, identity.UID, event)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"cart": wire.FromCart(cart)})
}

func (h *CartHandlers) mergeCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.prepare(ctx, w)
	if !ok {
		return
	}
	var req wire.MergeCartRequest
	if err := httpx.DecodeJSON(r, &req, maxCartBodySize); err != nil {
		writeDecodeError(ctx, w, err)
		return
	}
	cart, err := h.carts.MergeCart(ctx, services.MergeCartCommand{
		UserID:   identity.UID,
		Lines:    wire.ToLines(req.Items),
		MergeKey: mergeKeyFor(r, identity, req.MergeKey),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"cart": wire.FromCart(cart)})
}

func (h *CartHandlers) getWishlist(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.prepare(ctx, w)
	if !ok {
		return
	}
	list, err := h.carts.GetWishlist(ctx, identity.UID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"wishlist": wire.FromWishlist(list)})
}

func (h *CartHandlers) applyWishlistEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.prepare(ctx, w)
	if !ok {
		return
	}
	var req wire.WishlistEventRequest
	if err := httpx.DecodeJSON(r, &req, maxCartBodySize); err != nil {
		writeDecodeError(ctx, w, err)
		return
	}
	event := domain.WishlistEvent{
		Type:      domain.WishlistEventType(strings.TrimSpace(req.Type)),
		ProductID: req.ProductID,
	}
	if req.Item != nil {
		event.Entry = req.Item.ToDomain()
	}
	list, err := h.carts.ApplyWishlistEvent(ctx, identity.UID, event)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"wishlist": wire.FromWishlist(list)})
}

func (h *CartHandlers) mergeWishlist(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.prepare(ctx, w)
	if !ok {
		return
	}
	var req wire.MergeWishlistRequest
	if err := httpx.DecodeJSON(r, &req, maxCartBodySize); err != nil {
		writeDecodeError(ctx, w, err)
		return
	}
	list, err := h.carts.MergeWishlist(ctx, services.MergeWishlistCommand{
		UserID:   identity.UID,
		Entries:  wire.ToEntries(req.Items),
		MergeKey: mergeKeyFor(r, identity, req.MergeKey),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"wishlist": wire.FromWishlist(list)})
}

// mergeKeyFor picks the body key, then the idempotency header, then the caller's sign-in session.
func mergeKeyFor(r *http.Request, identity *auth.Identity, requested string) string {
	if key := strings.TrimSpace(requested); key != "" {
		return key
	}
	if key := strings.TrimSpace(r.Header.Get(idempotency.DefaultHeader)); key != "" {
		return key
	}
	return identity.SignInKey()
}

func (h *CartHandlers) prepare(ctx context.Context, w http.ResponseWriter) (*auth.Identity, bool) {
	if h.carts == nil {
		writeUnavailable(ctx, w, "cart")
		return nil, false
	}
	return requireIdentity(ctx, w)
}
