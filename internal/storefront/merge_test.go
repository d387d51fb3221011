package storefront

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/lionbidi/storefront/internal/domain"
)

// fakeAccount mimics the cart and wishlist merge endpoints, including the per-key replay refusal.
type fakeAccount struct {
	mu        sync.Mutex
	cart      domain.Cart
	wishlist  domain.Wishlist
	ledger    map[string]bool
	mergeErr  error
	gate      chan struct{}
	mergeHits atomic.Int32
}

func newFakeAccount(lines ...domain.CartLine) *fakeAccount {
	return &fakeAccount{cart: domain.Cart{UserID: "buyer-1", Lines: lines}, ledger: map[string]bool{}}
}

func (f *fakeAccount) GetCart(context.Context) (domain.Cart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return domain.Cart{UserID: f.cart.UserID, Lines: domain.CloneLines(f.cart.Lines)}, nil
}

func (f *fakeAccount) MergeCart(_ context.Context, lines []domain.CartLine, key string) (domain.Cart, error) {
	f.mergeHits.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.mergeErr != nil {
		return domain.Cart{}, f.mergeErr
	}
	if f.ledger["cart:"+key] {
		return domain.Cart{}, &APIError{Status: http.StatusConflict, Code: CodeMergeAlreadyApplied, Kind: KindConflict}
	}
	f.ledger["cart:"+key] = true
	f.cart.Lines = domain.MergeCartLines(f.cart.Lines, lines)
	return domain.Cart{UserID: f.cart.UserID, Lines: domain.CloneLines(f.cart.Lines)}, nil
}

func (f *fakeAccount) GetWishlist(context.Context) (domain.Wishlist, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return domain.Wishlist{Entries: append([]domain.WishlistEntry(nil), f.wishlist.Entries...)}, nil
}

func (f *fakeAccount) MergeWishlist(_ context.Context, entries []domain.WishlistEntry, key string) (domain.Wishlist, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.mergeErr != nil {
		return domain.Wishlist{}, f.mergeErr
	}
	if f.ledger["wishlist:"+key] {
		return domain.Wishlist{}, &APIError{Status: http.StatusConflict, Code: CodeMergeAlreadyApplied, Kind: KindConflict}
	}
	f.ledger["wishlist:"+key] = true
	f.wishlist.Entries = domain.MergeWishlistEntries(f.wishlist.Entries, entries)
	return domain.Wishlist{Entries: append([]domain.WishlistEntry(nil), f.wishlist.Entries...)}, nil
}

func quantityOf(cart domain.Cart, productID string) int {
	for _, line := range cart.Lines {
		if line.ProductID == productID {
			return line.Quantity
		}
	}
	return 0
}

func seedGuest(t *testing.T, store GuestSessionStore, lines []domain.CartLine, entries []domain.WishlistEntry) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, SaveGuestCart(ctx, store, lines))
	require.NoError(t, SaveGuestWishlist(ctx, store, entries))
	require.NoError(t, SaveGuestAddress(ctx, store, validAddress()))
}

func TestMergeOnLoginSumsQuantitiesOnce(t *testing.T) {
	account := newFakeAccount(domain.CartLine{ProductID: "A", Quantity: 3})
	guest := NewMemoryGuestStore()
	seedGuest(t, guest, []domain.CartLine{{ProductID: "A", Quantity: 2}}, []domain.WishlistEntry{{ProductID: "W"}})
	coordinator, err := NewSessionMergeCoordinator(account, guest)
	require.NoError(t, err)
	ctx := context.Background()

	first, err := coordinator.MergeOnLogin(ctx, "login-1")
	require.NoError(t, err)
	require.True(t, first.Merged)
	require.Equal(t, 5, quantityOf(first.Cart, "A"))
	require.Len(t, first.Wishlist.Entries, 1)

	second, err := coordinator.MergeOnLogin(ctx, "login-1")
	require.NoError(t, err)
	require.Equal(t, 5, quantityOf(second.Cart, "A"))
	require.Equal(t, int32(1), account.mergeHits.Load())

	for _, key := range []GuestKey{GuestCartKey, GuestWishlistKey, GuestAddressKey} {
		_, found, err := guest.Read(ctx, key)
		require.NoError(t, err)
		require.False(t, found, "guest key %s should be cleared", key)
	}

	// A fresh coordinator for the same login sees no guest state and only reads the account.
	again, err := NewSessionMergeCoordinator(account, guest)
	require.NoError(t, err)
	third, err := again.MergeOnLogin(ctx, "login-1")
	require.NoError(t, err)
	require.False(t, third.Merged)
	require.Equal(t, 5, quantityOf(third.Cart, "A"))
	require.Equal(t, int32(1), account.mergeHits.Load())
}

func TestMergeOnLoginConcurrentTriggersShareOneRun(t *testing.T) {
	account := newFakeAccount(domain.CartLine{ProductID: "A", Quantity: 3})
	account.gate = make(chan struct{})
	guest := NewMemoryGuestStore()
	seedGuest(t, guest, []domain.CartLine{{ProductID: "A", Quantity: 2}}, nil)
	coordinator, err := NewSessionMergeCoordinator(account, guest)
	require.NoError(t, err)

	results := make(chan MergeResult, 4)
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := coordinator.MergeOnLogin(context.Background(), "login-1")
			assert.NoError(t, err)
			results <- res
		}()
	}
	require.Eventually(t, func() bool { return account.mergeHits.Load() == 1 }, time.Second, time.Millisecond)
	close(account.gate)
	wg.Wait()
	close(results)

	for res := range results {
		require.Equal(t, 5, quantityOf(res.Cart, "A"))
	}
	require.Equal(t, int32(1), account.mergeHits.Load())
}

func TestMergeOnLoginFailureKeepsGuestState(t *testing.T) {
	account := newFakeAccount(domain.CartLine{ProductID: "A", Quantity: 3})
	account.mergeErr = &APIError{Status: http.StatusServiceUnavailable, Kind: KindTransient, Code: "service_unavailable"}
	guest := NewMemoryGuestStore()
	seedGuest(t, guest, []domain.CartLine{{ProductID: "A", Quantity: 2}}, []domain.WishlistEntry{{ProductID: "W"}})
	coordinator, err := NewSessionMergeCoordinator(account, guest)
	require.NoError(t, err)
	ctx := context.Background()

	res, err := coordinator.MergeOnLogin(ctx, "login-1")
	require.Error(t, err)
	require.Equal(t, KindTransient, KindOf(err))
	require.Equal(t, 3, quantityOf(res.Cart, "A"), "account cart is still fetched for browsing")
	require.Error(t, coordinator.AwaitSettled(ctx))

	lines, err := LoadGuestCart(ctx, guest)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	_, found, err := guest.Read(ctx, GuestAddressKey)
	require.NoError(t, err)
	require.True(t, found)

	account.mergeErr = nil
	res, err = coordinator.MergeOnLogin(ctx, "login-1")
	require.NoError(t, err)
	require.Equal(t, 5, quantityOf(res.Cart, "A"))
	require.NoError(t, coordinator.AwaitSettled(ctx))
}

func TestMergeOnLoginReusedLoginIDKeepsGuestState(t *testing.T) {
	account := newFakeAccount(domain.CartLine{ProductID: "A", Quantity: 5})
	account.ledger["cart:login-1"] = true
	guest := NewMemoryGuestStore()
	seedGuest(t, guest, []domain.CartLine{{ProductID: "A", Quantity: 2}}, nil)
	coordinator, err := NewSessionMergeCoordinator(account, guest)
	require.NoError(t, err)
	ctx := context.Background()

	res, err := coordinator.MergeOnLogin(ctx, "login-1")
	require.Error(t, err)
	require.True(t, IsCode(err, CodeMergeAlreadyApplied))
	require.Equal(t, KindConflict, KindOf(err))
	require.False(t, res.Merged)
	require.Equal(t, 5, quantityOf(res.Cart, "A"))

	lines, err := LoadGuestCart(ctx, guest)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	require.Equal(t, 2, lines[0].Quantity)
	_, found, err := guest.Read(ctx, GuestAddressKey)
	require.NoError(t, err)
	require.True(t, found)

	res, err = coordinator.MergeOnLogin(ctx, NewLoginID())
	require.NoError(t, err)
	require.True(t, res.Merged)
	require.Equal(t, 7, quantityOf(res.Cart, "A"))
	_, found, err = guest.Read(ctx, GuestCartKey)
	require.NoError(t, err)
	require.False(t, found)
}

func TestNewLoginIDIsUniquePerCall(t *testing.T) {
	first, second := NewLoginID(), NewLoginID()
	require.NotEqual(t, first, second)
	require.Regexp(t, `^login_[0-9a-z]{26}$`, first)
}

func TestAwaitSettledBlocksUntilMergeFinishes(t *testing.T) {
	account := newFakeAccount()
	account.gate = make(chan struct{})
	guest := NewMemoryGuestStore()
	seedGuest(t, guest, []domain.CartLine{{ProductID: "A", Quantity: 1}}, nil)
	coordinator, err := NewSessionMergeCoordinator(account, guest)
	require.NoError(t, err)

	require.NoError(t, coordinator.AwaitSettled(context.Background()), "nothing pending before login")

	go func() { _, _ = coordinator.MergeOnLogin(context.Background(), "login-1") }()
	require.Eventually(t, func() bool { return account.mergeHits.Load() == 1 }, time.Second, time.Millisecond)

	short, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, coordinator.AwaitSettled(short), context.DeadlineExceeded)

	close(account.gate)
	require.NoError(t, coordinator.AwaitSettled(context.Background()))
}

func TestMergeOnLoginRequiresLoginID(t *testing.T) {
	coordinator, err := NewSessionMergeCoordinator(newFakeAccount(), NewMemoryGuestStore())
	require.NoError(t, err)

	_, err = coordinator.MergeOnLogin(context.Background(), " ")
	require.True(t, errors.Is(err, ErrMissingLoginID))
	require.Equal(t, KindValidation, KindOf(err))
}
