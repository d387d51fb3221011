package repositories

import (
	"context"
	"time"

	domain "github.com/lionbidi/storefront/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
// Repositories called with the ctx passed to fn enlist in the same transaction. Reads must be
// issued before writes inside fn.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderRepository persists orders together with their checkout claim.
type OrderRepository interface {
	// Insert creates the order and, when CheckoutID is set, the checkout claim keyed by user and
	// checkout id. A pre-existing claim yields ErrCheckoutClaimed.
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindByNumber(ctx context.Context, orderNumber string) (domain.Order, error)
	FindByCheckout(ctx context.Context, userID, checkoutID string) (domain.Order, error)
	ListByPaymentStatus(ctx context.Context, filter OrderQueueFilter) (domain.CursorPage[domain.Order], error)
}

// OrderQueueFilter selects orders by payment status, oldest first. PageToken is the opaque
// NextPageToken of a previous page.
type OrderQueueFilter struct {
	PaymentStatus domain.PaymentStatus
	PageSize      int
	PageToken     string
}

// CartRepository stores the account-owned cart. Get returns an empty cart when none exists.
type CartRepository interface {
	Get(ctx context.Context, userID string) (domain.Cart, error)
	Save(ctx context.Context, cart domain.Cart) error
	Clear(ctx context.Context, userID string) error
}

// WishlistRepository stores the account-owned wishlist. Get returns an empty list when none exists.
type WishlistRepository interface {
	Get(ctx context.Context, userID string) (domain.Wishlist, error)
	Save(ctx context.Context, list domain.Wishlist) error
}

// MergeLedger records applied guest merges so a replayed merge key is detected.
type MergeLedger interface {
	Exists(ctx context.Context, userID, scope, mergeKey string) (bool, error)
	Record(ctx context.Context, userID, scope, mergeKey string, appliedAt time.Time) error
}

// TransactionRegistry keeps the system-wide mapping from payment transaction id to order.
type TransactionRegistry interface {
	// Lookup returns the order holding transactionID, or "" when unclaimed.
	Lookup(ctx context.Context, transactionID string) (string, error)
	Claim(ctx context.Context, transactionID, orderID string, claimedAt time.Time) error
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
