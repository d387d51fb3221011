package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/lionbidi/storefront/internal/domain"
	"github.com/lionbidi/storefront/internal/payments"
	"github.com/lionbidi/storefront/internal/repositories"
)

const (
	screenshotIDPrefix    = "scr_"
	defaultMaxAttempts    = 3
	defaultSignedURLTTL   = 10 * time.Minute
	screenshotPathPattern = "payments/%s/%s.%s"
)

// PaymentServiceDeps bundles collaborators for payment submission and the reviewer queue.
type PaymentServiceDeps struct {
	Orders       repositories.OrderRepository
	Registry     repositories.TransactionRegistry
	UnitOfWork   repositories.UnitOfWork
	Screenshots  ScreenshotStore
	MaxAttempts  int
	SignedURLTTL time.Duration
	Clock        func() time.Time
	IDGenerator  func() string
	Events       OrderEventPublisher
	Logger       func(ctx context.Context, event string, fields map[string]any)
}

// PaymentService attaches buyer payment references to orders and serves the reviewer queue.
type PaymentService struct {
	orders      repositories.OrderRepository
	registry    repositories.TransactionRegistry
	unitOfWork  repositories.UnitOfWork
	screenshots ScreenshotStore
	maxAttempts int
	urlTTL      time.Duration
	clock       func() time.Time
	newID       func() string
	events      OrderEventPublisher
	logger      func(context.Context, string, map[string]any)
}

// NewPaymentService wires a PaymentService.
func NewPaymentService(deps PaymentServiceDeps) (*PaymentService, error) {
	if deps.Orders == nil {
		return nil, errors.New("payment service: order repository is required")
	}
	if deps.Registry == nil {
		return nil, errors.New("payment service: transaction registry is required")
	}
	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}
	maxAttempts := deps.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	ttl := deps.SignedURLTTL
	if ttl <= 0 {
		ttl = defaultSignedURLTTL
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &PaymentService{
		orders:      deps.Orders,
		registry:    deps.Registry,
		unitOfWork:  unit,
		screenshots: deps.Screenshots,
		maxAttempts: maxAttempts,
		urlTTL:      ttl,
		clock:       func() time.Time { return clock().UTC() },
		newID:       idGen,
		events:      deps.Events,
		logger:      logger,
	}, nil
}

// SubmitPayment validates the reference, stores the optional screenshot and moves the order to
// payment_submitted. A transaction id may only ever belong to one order.
func (s *PaymentService) SubmitPayment(ctx context.Context, cmd SubmitPaymentCommand) (domain.Order, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return domain.Order{}, ErrUnauthenticated
	}
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrPaymentInvalidInput)
	}
	txID, err := payments.ValidateTransactionID(cmd.TransactionID)
	if err != nil {
		return domain.Order{}, fmt.Errorf("%w: %w", ErrPaymentInvalidInput, err)
	}
	var shot *payments.Screenshot
	if cmd.Screenshot != nil {
		validated, err := payments.ValidateScreenshot(*cmd.Screenshot)
		if err != nil {
			return domain.Order{}, fmt.Errorf("%w: %w", ErrPaymentInvalidInput, err)
		}
		shot = &validated
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
	}
	if order.UserID != userID {
		return domain.Order{}, ErrOrderForbidden
	}
	if err := s.checkSubmittable(order); err != nil {
		return domain.Order{}, err
	}

	var screenshotRef *domain.ScreenshotRef
	if shot != nil {
		if s.screenshots == nil {
			return domain.Order{}, fmt.Errorf("%w: screenshot storage not configured", ErrUnavailable)
		}
		path := fmt.Sprintf(screenshotPathPattern, order.ID, screenshotIDPrefix+s.newID(), shot.Extension())
		ref, err := s.screenshots.PutScreenshot(ctx, path, *shot)
		if err != nil {
			return domain.Order{}, fmt.Errorf("%w: store screenshot: %v", ErrUnavailable, err)
		}
		screenshotRef = &ref
	}

	var (
		updated  domain.Order
		previous domain.OrderStatus
	)
	err = s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		current, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
		}
		if err := s.checkSubmittable(current); err != nil {
			return err
		}
		owner, err := s.registry.Lookup(txCtx, txID)
		if err != nil {
			return mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
		}
		if owner != "" && owner != current.ID {
			return fmt.Errorf("%w: %s", ErrTransactionIDInUse, txID)
		}

		now := s.clock()
		if owner == "" {
			if err := s.registry.Claim(txCtx, txID, current.ID, now); err != nil {
				return mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
			}
		}
		previous = current.Status
		current.Payment.TransactionID = txID
		current.Payment.Screenshot = screenshotRef
		current.Payment.Status = domain.PaymentStatusPendingVerification
		current.Payment.SubmittedAt = &now
		current.Payment.VerifiedAt = nil
		current.Payment.VerificationNotes = ""
		current.Payment.ReviewedBy = ""
		current.Payment.Attempts++
		current.Status = domain.OrderStatusPaymentSubmitted
		current.UpdatedAt = now
		if err := s.orders.Update(txCtx, current); err != nil {
			return mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
		}
		updated = current
		return nil
	})
	if err != nil {
		if screenshotRef != nil {
			s.logger(ctx, "payment.screenshot.orphaned", map[string]any{"order": orderID, "object": screenshotRef.ObjectPath, "error": err.Error()})
		}
		return domain.Order{}, err
	}

	publishEvent(ctx, s.events, s.logger, OrderEvent{
		Type:           orderEventPaymentSubmitted,
		OrderID:        updated.ID,
		OrderNumber:    updated.OrderNumber,
		UserID:         updated.UserID,
		PreviousStatus: string(previous),
		CurrentStatus:  string(updated.Status),
		PaymentStatus:  string(updated.Payment.Status),
		ActorID:        userID,
		OccurredAt:     updated.UpdatedAt,
		Metadata:       map[string]any{"attempt": updated.Payment.Attempts, "screenshot": screenshotRef != nil},
	})
	return updated, nil
}

// checkSubmittable applies the resubmission policy: references are accepted while awaiting payment
// or after a failed review, up to the attempt limit, on orders that are not cancelled.
func (s *PaymentService) checkSubmittable(order domain.Order) error {
	if order.Status == domain.OrderStatusCancelled {
		return fmt.Errorf("%w: order is cancelled", ErrPaymentNotAccepted)
	}
	switch order.Payment.Status {
	case domain.PaymentStatusPendingVerification:
		return ErrPaymentAlreadyPending
	case domain.PaymentStatusAwaitingPayment, domain.PaymentStatusVerificationFailed, domain.PaymentStatusPaymentFailed:
	default:
		return fmt.Errorf("%w: payment status %s", ErrPaymentNotAccepted, order.Payment.Status)
	}
	if order.Payment.Attempts >= s.maxAttempts {
		return fmt.Errorf("%w: %d of %d used", ErrPaymentAttemptsExhausted, order.Payment.Attempts, s.maxAttempts)
	}
	if order.Status != domain.OrderStatusPaymentSubmitted && !domain.CanTransition(order.Status, domain.OrderStatusPaymentSubmitted) {
		return fmt.Errorf("%w: cannot submit payment in status %s", ErrOrderInvalidState, order.Status)
	}
	return nil
}

// ListPending returns orders awaiting review, oldest first.
func (s *PaymentService) ListPending(ctx context.Context, query PendingQueueQuery) (domain.CursorPage[domain.Order], error) {
	page, err := s.orders.ListByPaymentStatus(ctx, repositories.OrderQueueFilter{
		PaymentStatus: domain.PaymentStatusPendingVerification,
		PageSize:      query.PageSize,
		PageToken:     query.PageToken,
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
	}
	return page, nil
}

// ScreenshotURL returns a short-lived download URL for the order's payment screenshot.
func (s *PaymentService) ScreenshotURL(ctx context.Context, orderID string) (string, time.Time, error) {
	if s.screenshots == nil {
		return "", time.Time{}, fmt.Errorf("%w: screenshot storage not configured", ErrUnavailable)
	}
	order, err := s.orders.FindByID(ctx, strings.TrimSpace(orderID))
	if err != nil {
		return "", time.Time{}, mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
	}
	if order.Payment.Screenshot == nil || order.Payment.Screenshot.ObjectPath == "" {
		return "", time.Time{}, ErrScreenshotUnavailable
	}
	url, expires, err := s.screenshots.SignedURL(ctx, order.Payment.Screenshot.ObjectPath, s.urlTTL)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%w: sign screenshot url: %v", ErrUnavailable, err)
	}
	return url, expires, nil
}
