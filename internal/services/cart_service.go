package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/lionbidi/storefront/internal/domain"
	"github.com/lionbidi/storefront/internal/repositories"
)

const (
	mergeScopeCart     = "cart"
	mergeScopeWishlist = "wishlist"
	maxMergeKeyLength  = 128
)

// CartServiceDeps bundles collaborators for the account cart and wishlist.
type CartServiceDeps struct {
	Carts      repositories.CartRepository
	Wishlists  repositories.WishlistRepository
	Ledger     repositories.MergeLedger
	UnitOfWork repositories.UnitOfWork
	Clock      func() time.Time
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

// CartService applies reducer events to account carts and wishlists and folds guest state into them.
type CartService struct {
	carts      repositories.CartRepository
	wishlists  repositories.WishlistRepository
	ledger     repositories.MergeLedger
	unitOfWork repositories.UnitOfWork
	clock      func() time.Time
	logger     func(context.Context, string, map[string]any)
}

// NewCartService wires a CartService.
func NewCartService(deps CartServiceDeps) (*CartService, error) {
	if deps.Carts == nil {
		return nil, errors.New("cart service: cart repository is required")
	}
	if deps.Wishlists == nil {
		return nil, errors.New("cart service: wishlist repository is required")
	}
	if deps.Ledger == nil {
		return nil, errors.New("cart service: merge ledger is required")
	}
	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &CartService{
		carts:      deps.Carts,
		wishlists:  deps.Wishlists,
		ledger:     deps.Ledger,
		unitOfWork: unit,
		clock:      func() time.Time { return clock().UTC() },
		logger:     logger,
	}, nil
}

// GetCart returns the account cart, empty when none was saved.
func (s *CartService) GetCart(ctx context.Context, userID string) (domain.Cart, error) {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return domain.Cart{}, ErrUnauthenticated
	}
	cart, err := s.carts.Get(ctx, uid)
	if err != nil {
		return domain.Cart{}, s.mapRepositoryError(err)
	}
	cart.UserID = uid
	return cart, nil
}

// ApplyCartEvent reduces event onto the stored cart and saves the result.
func (s *CartService) ApplyCartEvent(ctx context.Context, userID string, event domain.CartEvent) (domain.Cart, error) {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return domain.Cart{}, ErrUnauthenticated
	}
	var result domain.Cart
	err := s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		cart, err := s.carts.Get(txCtx, uid)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		cart.UserID = uid
		next, err := domain.ApplyCartEvent(cart, event, s.clock())
		if err != nil {
			return fmt.Errorf("%w: %w", ErrCartInvalidInput, err)
		}
		if err := s.carts.Save(txCtx, next); err != nil {
			return s.mapRepositoryError(err)
		}
		result = next
		return nil
	})
	if err != nil {
		return domain.Cart{}, err
	}
	return result, nil
}

// MergeCart folds guest lines into the account cart once per merge key. A replayed key fails
// with ErrMergeAlreadyApplied and leaves the cart unchanged.
func (s *CartService) MergeCart(ctx context.Context, cmd MergeCartCommand) (domain.Cart, error) {
	uid := strings.TrimSpace(cmd.UserID)
	if uid == "" {
		return domain.Cart{}, ErrUnauthenticated
	}
	key, err := validateMergeKey(cmd.MergeKey)
	if err != nil {
		return domain.Cart{}, err
	}

	var result domain.Cart
	err = s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		applied, err := s.ledger.Exists(txCtx, uid, mergeScopeCart, key)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		if applied {
			return ErrMergeAlreadyApplied
		}
		cart, err := s.carts.Get(txCtx, uid)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		now := s.clock()
		cart.UserID = uid
		cart.Lines = domain.MergeCartLines(cart.Lines, cmd.Lines)
		cart.UpdatedAt = now
		if err := s.carts.Save(txCtx, cart); err != nil {
			return s.mapRepositoryError(err)
		}
		if err := s.ledger.Record(txCtx, uid, mergeScopeCart, key, now); err != nil {
			return s.mapRepositoryError(err)
		}
		result = cart
		return nil
	})
	if err != nil {
		return domain.Cart{}, err
	}
	s.logger(ctx, "cart.merge.applied", map[string]any{"userId": uid, "lines": len(cmd.Lines), "mergeKey": key})
	return result, nil
}

// GetWishlist returns the account wishlist, empty when none was saved.
func (s *CartService) GetWishlist(ctx context.Context, userID string) (domain.Wishlist, error) {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return domain.Wishlist{}, ErrUnauthenticated
	}
	list, err := s.wishlists.Get(ctx, uid)
	if err != nil {
		return domain.Wishlist{}, s.mapRepositoryError(err)
	}
	list.UserID = uid
	return list, nil
}

// ApplyWishlistEvent reduces event onto the stored wishlist and saves the result.
func (s *CartService) ApplyWishlistEvent(ctx context.Context, userID string, event domain.WishlistEvent) (domain.Wishlist, error) {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return domain.Wishlist{}, ErrUnauthenticated
	}
	var result domain.Wishlist
	err := s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		list, err := s.wishlists.Get(txCtx, uid)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		list.UserID = uid
		next, err := domain.ApplyWishlistEvent(list, event, s.clock())
		if err != nil {
			return fmt.Errorf("%w: %w", ErrCartInvalidInput, err)
		}
		if err := s.wishlists.Save(txCtx, next); err != nil {
			return s.mapRepositoryError(err)
		}
		result = next
		return nil
	})
	if err != nil {
		return domain.Wishlist{}, err
	}
	return result, nil
}

// MergeWishlist folds guest entries into the account wishlist once per merge key.
func (s *CartService) MergeWishlist(ctx context.Context, cmd MergeWishlistCommand) (domain.Wishlist, error) {
	uid := strings.TrimSpace(cmd.UserID)
	if uid == "" {
		return domain.Wishlist{}, ErrUnauthenticated
	}
	key, err := validateMergeKey(cmd.MergeKey)
	if err != nil {
		return domain.Wishlist{}, err
	}

	var result domain.Wishlist
	err = s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		applied, err := s.ledger.Exists(txCtx, uid, mergeScopeWishlist, key)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		if applied {
			return ErrMergeAlreadyApplied
		}
		list, err := s.wishlists.Get(txCtx, uid)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		now := s.clock()
		list.UserID = uid
		list.Entries = domain.MergeWishlistEntries(list.Entries, cmd.Entries)
		list.UpdatedAt = now
		if err := s.wishlists.Save(txCtx, list); err != nil {
			return s.mapRepositoryError(err)
		}
		if err := s.ledger.Record(txCtx, uid, mergeScopeWishlist, key, now); err != nil {
			return s.mapRepositoryError(err)
		}
		result = list
		return nil
	})
	if err != nil {
		return domain.Wishlist{}, err
	}
	s.logger(ctx, "wishlist.merge.applied", map[string]any{"userId": uid, "entries": len(cmd.Entries), "mergeKey": key})
	return result, nil
}

func (s *CartService) mapRepositoryError(err error) error {
	return mapRepositoryError(err, ErrCartInvalidInput, ErrCartConflict)
}

func validateMergeKey(raw string) (string, error) {
	key := strings.TrimSpace(raw)
	if key == "" {
		return "", fmt.Errorf("%w: merge key is required", ErrCartInvalidInput)
	}
	if len(key) > maxMergeKeyLength {
		return "", fmt.Errorf("%w: merge key exceeds %d characters", ErrCartInvalidInput, maxMergeKeyLength)
	}
	return key, nil
}
