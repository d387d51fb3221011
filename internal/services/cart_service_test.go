package services

import (
	"context"
	"errors"
	"testing"

	domain "github.com/lionbidi/storefront/internal/domain"
)

type cartFixture struct {
	service   *CartService
	carts     *memoryCartRepository
	wishlists *memoryWishlistRepository
	ledger    *memoryMergeLedger
}

func newCartFixture(t *testing.T) cartFixture {
	t.Helper()
	f := cartFixture{
		carts:     newMemoryCartRepository(),
		wishlists: newMemoryWishlistRepository(),
		ledger:    newMemoryMergeLedger(),
	}
	svc, err := NewCartService(CartServiceDeps{
		Carts:     f.carts,
		Wishlists: f.wishlists,
		Ledger:    f.ledger,
		Clock:     fixedClock(testNow),
	})
	if err != nil {
		t.Fatalf("NewCartService: %v", err)
	}
	f.service = svc
	return f
}

func TestCartServiceApplyEvents(t *testing.T) {
	f := newCartFixture(t)
	ctx := context.Background()

	cart, err := f.service.ApplyCartEvent(ctx, "user_1", domain.CartEvent{Type: domain.CartEventAdd, Line: domain.CartLine{ProductID: "tee", UnitPrice: 50000, Quantity: 1}})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	cart, err = f.service.ApplyCartEvent(ctx, "user_1", domain.CartEvent{Type: domain.CartEventAdd, Line: domain.CartLine{ProductID: "tee", UnitPrice: 50000, Quantity: 2}})
	if err != nil {
		t.Fatalf("second add: %v", err)
	}
	if len(cart.Lines) != 1 || cart.Lines[0].Quantity != 3 {
		t.Fatalf("expected summed quantity, got %+v", cart.Lines)
	}

	_, err = f.service.ApplyCartEvent(ctx, "user_1", domain.CartEvent{Type: domain.CartEventSetQuantity, ProductID: "mug", Quantity: 2})
	if !errors.Is(err, ErrCartInvalidInput) || !errors.Is(err, domain.ErrInvalidCartEvent) {
		t.Fatalf("expected invalid cart event, got %v", err)
	}

	stored, err := f.service.GetCart(ctx, "user_1")
	if err != nil {
		t.Fatalf("GetCart: %v", err)
	}
	if stored.TotalQuantity() != 3 || !stored.UpdatedAt.Equal(testNow) {
		t.Fatalf("unexpected stored cart %+v", stored)
	}

	if _, err := f.service.GetCart(ctx, ""); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected unauthenticated, got %v", err)
	}
}

func TestCartServiceMergeIsAppliedOnce(t *testing.T) {
	f := newCartFixture(t)
	ctx := context.Background()
	f.carts.carts["user_1"] = domain.Cart{UserID: "user_1", Lines: []domain.CartLine{{ProductID: "tee", UnitPrice: 50000, Quantity: 1}}}

	cmd := MergeCartCommand{
		UserID:   "user_1",
		MergeKey: "guest_abc",
		Lines: []domain.CartLine{
			{ProductID: "tee", UnitPrice: 50000, Quantity: 2},
			{ProductID: "mug", UnitPrice: 30000, Quantity: 1},
		},
	}
	cart, err := f.service.MergeCart(ctx, cmd)
	if err != nil {
		t.Fatalf("MergeCart: %v", err)
	}
	if len(cart.Lines) != 2 || cart.Lines[0].Quantity != 3 || cart.Lines[1].ProductID != "mug" {
		t.Fatalf("unexpected merged cart %+v", cart.Lines)
	}

	_, err = f.service.MergeCart(ctx, cmd)
	if !errors.Is(err, ErrMergeAlreadyApplied) || KindOf(err) != KindConflict {
		t.Fatalf("expected replay rejection, got %v", err)
	}
	stored, _ := f.service.GetCart(ctx, "user_1")
	if stored.TotalQuantity() != 4 {
		t.Fatalf("replayed merge must not change the cart, got quantity %d", stored.TotalQuantity())
	}

	if _, err := f.service.MergeCart(ctx, MergeCartCommand{UserID: "user_1"}); !errors.Is(err, ErrCartInvalidInput) {
		t.Fatalf("expected missing merge key error, got %v", err)
	}
}

func TestCartServiceMergeSaveFailureDoesNotRecord(t *testing.T) {
	f := newCartFixture(t)
	f.carts.saveErr = fakeRepositoryError{unavailable: true}

	_, err := f.service.MergeCart(context.Background(), MergeCartCommand{UserID: "user_1", MergeKey: "guest_abc", Lines: []domain.CartLine{{ProductID: "tee", Quantity: 1}}})
	if !Retryable(err) {
		t.Fatalf("expected retryable error, got %v", err)
	}
	if applied, _ := f.ledger.Exists(context.Background(), "user_1", mergeScopeCart, "guest_abc"); applied {
		t.Fatalf("failed merge must stay retryable")
	}
}

func TestCartServiceWishlist(t *testing.T) {
	f := newCartFixture(t)
	ctx := context.Background()

	list, err := f.service.ApplyWishlistEvent(ctx, "user_1", domain.WishlistEvent{Type: domain.WishlistEventToggle, Entry: domain.WishlistEntry{ProductID: "tee", Name: "Tee"}})
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if len(list.Entries) != 1 {
		t.Fatalf("expected one entry, got %+v", list.Entries)
	}

	cmd := MergeWishlistCommand{
		UserID:   "user_1",
		MergeKey: "guest_abc",
		Entries:  []domain.WishlistEntry{{ProductID: "tee", Name: "Old tee"}, {ProductID: "mug", Name: "Mug"}},
	}
	merged, err := f.service.MergeWishlist(ctx, cmd)
	if err != nil {
		t.Fatalf("MergeWishlist: %v", err)
	}
	if len(merged.Entries) != 2 || merged.Entries[0].Name != "Tee" {
		t.Fatalf("expected set union keeping existing snapshot, got %+v", merged.Entries)
	}
	if _, err := f.service.MergeWishlist(ctx, cmd); !errors.Is(err, ErrMergeAlreadyApplied) {
		t.Fatalf("expected replay rejection, got %v", err)
	}

	// cart and wishlist merges keep separate ledgers
	if _, err := f.service.MergeCart(ctx, MergeCartCommand{UserID: "user_1", MergeKey: "guest_abc"}); err != nil {
		t.Fatalf("cart merge with same key: %v", err)
	}
}
