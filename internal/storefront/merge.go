package storefront

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.uber.org/zap"

	domain "github.com/lionbidi/storefront/internal/domain"
)

// AccountAPI is the account-bound cart and wishlist surface the merge coordinator needs. *Client
// satisfies it.
type AccountAPI interface {
	GetCart(ctx context.Context) (domain.Cart, error)
	MergeCart(ctx context.Context, lines []domain.CartLine, mergeKey string) (domain.Cart, error)
	GetWishlist(ctx context.Context) (domain.Wishlist, error)
	MergeWishlist(ctx context.Context, entries []domain.WishlistEntry, mergeKey string) (domain.Wishlist, error)
}

// MergeResult is the account state after a login merge. Merged reports whether any guest state
// was folded in by this run.
type MergeResult struct {
	Cart     domain.Cart
	Wishlist domain.Wishlist
	Merged   bool
}

// ErrMissingLoginID is returned when MergeOnLogin is called without a login identifier.
var ErrMissingLoginID = errors.New("storefront: missing login id")

// SessionMergeCoordinator moves guest cart and wishlist state into the account exactly once per
// login. Guest keys are cleared only after the server has confirmed the merge.
type SessionMergeCoordinator struct {
	api    AccountAPI
	guest  GuestSessionStore
	logger *zap.Logger

	mu      sync.Mutex
	runs    map[string]*mergeRun
	current *mergeRun
}

type mergeRun struct {
	done   chan struct{}
	result MergeResult
	err    error
}

// MergeOption customises the coordinator.
type MergeOption func(*SessionMergeCoordinator)

// WithMergeLogger sets the coordinator logger.
func WithMergeLogger(logger *zap.Logger) MergeOption {
	return func(c *SessionMergeCoordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewSessionMergeCoordinator wires the coordinator to the account API and the guest store.
func NewSessionMergeCoordinator(api AccountAPI, guest GuestSessionStore, opts ...MergeOption) (*SessionMergeCoordinator, error) {
	if api == nil {
		return nil, errors.New("storefront: account api is required")
	}
	if guest == nil {
		return nil, errors.New("storefront: guest session store is required")
	}
	c := &SessionMergeCoordinator{
		api:    api,
		guest:  guest,
		logger: zap.NewNop(),
		runs:   make(map[string]*mergeRun),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// MergeOnLogin merges guest state for the given login. loginID must be new for every sign-in, see
// NewLoginID. Concurrent calls for the same login share one run and a successful run is
// remembered, so duplicate triggers never re-apply quantities. A failed run keeps guest state and
// may be retried by calling again. When the server has already spent loginID the call fails with a
// merge_already_applied conflict and guest state is kept.
func (c *SessionMergeCoordinator) MergeOnLogin(ctx context.Context, loginID string) (MergeResult, error) {
	loginID = strings.TrimSpace(loginID)
	if loginID == "" {
		return MergeResult{}, ErrMissingLoginID
	}

	c.mu.Lock()
	if run, ok := c.runs[loginID]; ok {
		select {
		case <-run.done:
			if run.err == nil {
				c.mu.Unlock()
				return run.result, nil
			}
		default:
			c.mu.Unlock()
			return waitRun(ctx, run)
		}
	}
	run := &mergeRun{done: make(chan struct{})}
	c.runs[loginID] = run
	c.current = run
	c.mu.Unlock()

	run.result, run.err = c.merge(ctx, loginID)
	close(run.done)
	return run.result, run.err
}

// AwaitSettled blocks until the latest login merge has finished. It returns immediately when no
// merge was started, and returns the merge error when the latest run failed.
func (c *SessionMergeCoordinator) AwaitSettled(ctx context.Context) error {
	c.mu.Lock()
	run := c.current
	c.mu.Unlock()
	if run == nil {
		return nil
	}
	_, err := waitRun(ctx, run)
	return err
}

func waitRun(ctx context.Context, run *mergeRun) (MergeResult, error) {
	select {
	case <-run.done:
		return run.result, run.err
	case <-ctx.Done():
		return MergeResult{}, ctx.Err()
	}
}

func (c *SessionMergeCoordinator) merge(ctx context.Context, loginID string) (MergeResult, error) {
	var (
		result  MergeResult
		errs    []error
		cleared []GuestKey
	)

	cart, cartMerged, err := c.mergeCart(ctx, loginID)
	result.Cart = cart
	if err != nil {
		errs = append(errs, err)
	} else {
		cleared = append(cleared, GuestCartKey)
	}

	wishlist, wishlistMerged, err := c.mergeWishlist(ctx, loginID)
	result.Wishlist = wishlist
	if err != nil {
		errs = append(errs, err)
	} else {
		cleared = append(cleared, GuestWishlistKey)
	}

	if len(errs) == 0 {
		cleared = append(cleared, GuestAddressKey)
	}
	if err := c.guest.Clear(ctx, cleared...); err != nil {
		// The server ledger refuses a replay of this login, so a later run still cannot double-apply.
		c.logger.Warn("guest state clear failed", zap.String("login_id", loginID), zap.Error(err))
	}

	result.Merged = cartMerged || wishlistMerged
	if len(errs) > 0 {
		c.logger.Warn("login merge failed", zap.String("login_id", loginID), zap.Error(errors.Join(errs...)))
		return result, errors.Join(errs...)
	}
	c.logger.Info("login merge settled", zap.String("login_id", loginID), zap.Bool("merged", result.Merged))
	return result, nil
}

func (c *SessionMergeCoordinator) mergeCart(ctx context.Context, loginID string) (domain.Cart, bool, error) {
	lines, err := LoadGuestCart(ctx, c.guest)
	if err != nil {
		return c.fetchCart(ctx), false, err
	}
	if len(lines) == 0 {
		cart, err := c.api.GetCart(ctx)
		return cart, false, err
	}
	cart, err := c.api.MergeCart(ctx, lines, loginID)
	switch {
	case err == nil:
		return cart, true, nil
	case IsCode(err, CodeMergeAlreadyApplied):
		// The login id was spent earlier. Guest lines stay until merged under a fresh id.
		c.logger.Warn("login id already merged", zap.String("login_id", loginID), zap.Int("guest_lines", len(lines)))
		return c.fetchCart(ctx), false, err
	default:
		return c.fetchCart(ctx), false, err
	}
}

func (c *SessionMergeCoordinator) mergeWishlist(ctx context.Context, loginID string) (domain.Wishlist, bool, error) {
	entries, err := LoadGuestWishlist(ctx, c.guest)
	if err != nil {
		return c.fetchWishlist(ctx), false, err
	}
	if len(entries) == 0 {
		list, err := c.api.GetWishlist(ctx)
		return list, false, err
	}
	list, err := c.api.MergeWishlist(ctx, entries, loginID)
	switch {
	case err == nil:
		return list, true, nil
	case IsCode(err, CodeMergeAlreadyApplied):
		c.logger.Warn("login id already merged", zap.String("login_id", loginID), zap.Int("guest_entries", len(entries)))
		return c.fetchWishlist(ctx), false, err
	default:
		return c.fetchWishlist(ctx), false, err
	}
}

// fetchCart loads the account cart after a failed merge so browsing is not blocked.
func (c *SessionMergeCoordinator) fetchCart(ctx context.Context) domain.Cart {
	cart, err := c.api.GetCart(ctx)
	if err != nil {
		c.logger.Debug("account cart fetch failed", zap.Error(err))
	}
	return cart
}

func (c *SessionMergeCoordinator) fetchWishlist(ctx context.Context) domain.Wishlist {
	list, err := c.api.GetWishlist(ctx)
	if err != nil {
		c.logger.Debug("account wishlist fetch failed", zap.Error(err))
	}
	return list
}
