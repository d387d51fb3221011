package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/lionbidi/storefront/internal/domain"
	"github.com/lionbidi/storefront/internal/services"
)

type resolverFunc func(ctx context.Context, postalCode string, orderAmount int64) (domain.DeliveryInfo, error)

func (f resolverFunc) Resolve(ctx context.Context, postalCode string, orderAmount int64) (domain.DeliveryInfo, error) {
	return f(ctx, postalCode, orderAmount)
}

func TestDeliveryHandlersCalculate(t *testing.T) {
	policy, err := services.NewStaticShippingPolicy(services.ShippingRate{Charge: 9900, FreeThreshold: 149900}, map[string]string{"karnataka": "4900"}, nil, nil)
	if err != nil {
		t.Fatalf("policy: %v", err)
	}
	cache := services.NewMemoryRegionCache(nil)
	if err := cache.PutRegion(context.Background(), "560001", domain.Region{PostalCode: "560001", City: "Bengaluru", State: "Karnataka"}, time.Hour); err != nil {
		t.Fatalf("seed cache: %v", err)
	}
	resolver, err := services.NewDeliveryChargeResolver(services.DeliveryChargeResolverDeps{Policy: policy, Cache: cache})
	if err != nil {
		t.Fatalf("resolver: %v", err)
	}
	router := chi.NewRouter()
	router.Route("/api/delivery", NewDeliveryHandlers(resolver).Routes)

	testCases := []struct {
		name        string
		body        string
		wantCharges float64
		wantFree    bool
		wantBase    float64
	}{
		{name: "regional rate", body: `{"pincode":"560001","orderAmount":50000}`, wantCharges: 4900, wantBase: 4900},
		{name: "free above threshold keeps base", body: `{"pincode":"560001","orderAmount":150000}`, wantCharges: 0, wantFree: true, wantBase: 4900},
		{name: "unknown region falls back", body: `{"pincode":"110001","orderAmount":1000}`, wantCharges: 9900, wantBase: 9900},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, newJSONRequest(t, http.MethodPost, "/api/delivery/calculate", tc.body, nil))
			if rr.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
			}
			delivery := decodeBody(t, rr)["delivery"].(map[string]any)
			if delivery["charges"] != tc.wantCharges || delivery["isFreeDelivery"] != tc.wantFree || delivery["baseCharges"] != tc.wantBase {
				t.Fatalf("unexpected delivery %v", delivery)
			}
		})
	}
}

func TestDeliveryHandlersRejectsInvalidPincode(t *testing.T) {
	router := chi.NewRouter()
	router.Route("/api/delivery", NewDeliveryHandlers(resolverFunc(func(context.Context, string, int64) (domain.DeliveryInfo, error) {
		return domain.DeliveryInfo{}, services.ErrDeliveryInvalidInput
	})).Routes)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, newJSONRequest(t, http.MethodPost, "/api/delivery/calculate", `{"pincode":"12","orderAmount":100}`, nil))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if got := decodeBody(t, rr)["error"]; got != "invalid_delivery_request" {
		t.Fatalf("unexpected code %v", got)
	}
}
