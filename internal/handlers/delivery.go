package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	domain "github.com/lionbidi/storefront/internal/domain"
	"github.com/lionbidi/storefront/internal/platform/httpx"
	"github.com/lionbidi/storefront/internal/wire"
)

const maxDeliveryBodySize = 4 * 1024

// DeliveryResolver quotes delivery charges for a postal code.
type DeliveryResolver interface {
	Resolve(ctx context.Context, postalCode string, orderAmount int64) (domain.DeliveryInfo, error)
}

// DeliveryHandlers exposes the public delivery quote endpoint.
type DeliveryHandlers struct {
	resolver DeliveryResolver
}

// NewDeliveryHandlers constructs DeliveryHandlers.
func NewDeliveryHandlers(resolver DeliveryResolver) *DeliveryHandlers {
	return &DeliveryHandlers{resolver: resolver}
}

// Routes registers the /delivery endpoints.
func (h *DeliveryHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/calculate", h.calculate)
}

func (h *DeliveryHandlers) calculate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.resolver == nil {
		writeUnavailable(ctx, w, "delivery")
		return
	}
	var req wire.DeliveryRequest
	if err := httpx.DecodeJSON(r, &req, maxDeliveryBodySize); err != nil {
		writeDecodeError(ctx, w, err)
		return
	}
	info, err := h.resolver.Resolve(ctx, req.Pincode, req.OrderAmount)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"delivery": wire.FromDelivery(info)})
}
