package services

import (
	"context"
	"time"

	domain "github.com/lionbidi/storefront/internal/domain"
	"github.com/lionbidi/storefront/internal/payments"
)

const (
	orderEventCreated          = "order.created"
	orderEventCancelled        = "order.cancelled"
	orderEventPaymentSubmitted = "order.payment_submitted"
	orderEventPaymentVerified  = "order.payment_verified"
	orderEventPaymentRejected  = "order.payment_rejected"
)

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent captures metadata for emitted order domain events.
type OrderEvent struct {
	Type           string
	OrderID        string
	OrderNumber    string
	UserID         string
	PreviousStatus string
	CurrentStatus  string
	PaymentStatus  string
	ActorID        string
	OccurredAt     time.Time
	Metadata       map[string]any
}

// ScreenshotStore keeps payment screenshots in object storage.
type ScreenshotStore interface {
	PutScreenshot(ctx context.Context, objectPath string, shot payments.Screenshot) (domain.ScreenshotRef, error)
	SignedURL(ctx context.Context, objectPath string, ttl time.Duration) (string, time.Time, error)
}

// Viewer identifies who is reading an order.
type Viewer struct {
	UserID string
	Staff  bool
}

// CreateOrderCommand is the checkout snapshot submitted by a buyer.
type CreateOrderCommand struct {
	UserID        string
	CheckoutID    string
	Lines         []domain.CartLine
	Address       domain.Address
	PaymentMethod domain.PaymentMethod
	Delivery      domain.DeliveryInfo
}

// CancelOrderCommand cancels an order on behalf of its owner.
type CancelOrderCommand struct {
	UserID  string
	OrderID string
}

// SubmitPaymentCommand attaches a user-asserted payment reference to an order.
type SubmitPaymentCommand struct {
	UserID        string
	OrderID       string
	TransactionID string
	Screenshot    *payments.Screenshot
}

// Verdict is the reviewer outcome for a pending payment.
type Verdict string

const (
	VerdictVerified Verdict = "verified"
	VerdictRejected Verdict = "rejected"
)

// DecisionCommand records a reviewer verdict.
type DecisionCommand struct {
	OrderID    string
	ReviewerID string
	Verdict    Verdict
	Notes      string
}

// PendingQueueQuery pages through orders awaiting review.
type PendingQueueQuery struct {
	PageSize  int
	PageToken string
}

// MergeCartCommand folds guest cart lines into the account cart.
type MergeCartCommand struct {
	UserID   string
	Lines    []domain.CartLine
	MergeKey string
}

// MergeWishlistCommand folds guest wishlist entries into the account wishlist.
type MergeWishlistCommand struct {
	UserID   string
	Entries  []domain.WishlistEntry
	MergeKey string
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

func noopLogger(context.Context, string, map[string]any) {}
