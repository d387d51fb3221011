package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/singleflight"

	domain "github.com/lionbidi/storefront/internal/domain"
	"github.com/lionbidi/storefront/internal/repositories"
)

const (
	orderIDPrefix      = "ord_"
	createOrderTimeout = 30 * time.Second
)

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Carts       repositories.CartRepository
	Counters    repositories.CounterRepository
	UnitOfWork  repositories.UnitOfWork
	Pricing     *PricingEngine
	Clock       func() time.Time
	IDGenerator func() string
	Events      OrderEventPublisher
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

// OrderService creates, reads and cancels orders.
type OrderService struct {
	orders     repositories.OrderRepository
	carts      repositories.CartRepository
	counters   repositories.CounterRepository
	unitOfWork repositories.UnitOfWork
	pricing    *PricingEngine
	clock      func() time.Time
	newID      func() string
	events     OrderEventPublisher
	logger     func(context.Context, string, map[string]any)
	flights    singleflight.Group
}

// NewOrderService wires dependencies into an OrderService.
func NewOrderService(deps OrderServiceDeps) (*OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Carts == nil {
		return nil, errors.New("order service: cart repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("order service: counter repository is required")
	}
	pricing := deps.Pricing
	if pricing == nil {
		pricing, _ = NewPricingEngine()
	}
	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
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
	return &OrderService{
		orders:     deps.Orders,
		carts:      deps.Carts,
		counters:   deps.Counters,
		unitOfWork: unit,
		pricing:    pricing,
		clock:      func() time.Time { return clock().UTC() },
		newID:      idGen,
		events:     deps.Events,
		logger:     logger,
	}, nil
}

// CreateOrder persists the checkout as an order exactly once per user and checkout id. Repeated or
// concurrent calls with the same checkout id return the order created by the first call.
func (s *OrderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (domain.Order, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return domain.Order{}, ErrUnauthenticated
	}
	checkoutID := strings.TrimSpace(cmd.CheckoutID)
	if checkoutID == "" {
		return domain.Order{}, fmt.Errorf("%w: checkout id is required", ErrOrderInvalidInput)
	}
	if len(cmd.Lines) == 0 {
		return domain.Order{}, fmt.Errorf("%w: order must contain at least one item", ErrOrderInvalidInput)
	}
	if !cmd.PaymentMethod.Valid() {
		return domain.Order{}, fmt.Errorf("%w: unsupported payment method %q", ErrOrderInvalidInput, cmd.PaymentMethod)
	}
	address := domain.NormalizeAddress(cmd.Address)
	if err := domain.ValidateAddress(address); err != nil {
		return domain.Order{}, fmt.Errorf("%w: %w", ErrOrderInvalidInput, err)
	}
	if err := validateDelivery(cmd.Delivery); err != nil {
		return domain.Order{}, err
	}
	pricing, err := s.pricing.Price(cmd.Lines)
	if err != nil {
		return domain.Order{}, fmt.Errorf("%w: %w", ErrOrderInvalidInput, err)
	}

	cmd.UserID, cmd.CheckoutID, cmd.Address = userID, checkoutID, address
	// The shared run is detached from any one caller so a caller leaving early does not fail the others.
	flight := s.flights.DoChan(userID+"\x00"+checkoutID, func() (any, error) {
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), createOrderTimeout)
		defer cancel()
		return s.createOnce(runCtx, cmd, pricing)
	})
	select {
	case res := <-flight:
		if res.Err != nil {
			return domain.Order{}, res.Err
		}
		return res.Val.(domain.Order), nil
	case <-ctx.Done():
		return domain.Order{}, ctx.Err()
	}
}

func (s *OrderService) createOnce(ctx context.Context, cmd CreateOrderCommand, pricing domain.PricingResult) (domain.Order, error) {
	existing, err := s.orders.FindByCheckout(ctx, cmd.UserID, cmd.CheckoutID)
	switch {
	case err == nil:
		return existing, nil
	case !isRepositoryNotFound(err):
		return domain.Order{}, s.mapRepositoryError(err)
	}

	now := s.clock()
	number, err := s.generateOrderNumber(ctx, now)
	if err != nil {
		return domain.Order{}, err
	}

	order := domain.Order{
		ID:              orderIDPrefix + s.newID(),
		OrderNumber:     number,
		UserID:          cmd.UserID,
		CheckoutID:      cmd.CheckoutID,
		Items:           domain.CloneLines(cmd.Lines),
		Subtotal:        pricing.Subtotal,
		Discount:        pricing.Savings,
		DeliveryCharges: cmd.Delivery.Charges,
		Total:           pricing.Total + cmd.Delivery.Charges,
		ShippingAddress: cmd.Address,
		Delivery:        cmd.Delivery,
		Payment: domain.Payment{
			Method: cmd.PaymentMethod,
			Status: domain.PaymentStatusAwaitingPayment,
		},
		Status:    domain.OrderStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err = s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.orders.Insert(txCtx, order); err != nil {
			return err
		}
		return s.carts.Clear(txCtx, cmd.UserID)
	})
	if errors.Is(err, repositories.ErrCheckoutClaimed) {
		s.logger(ctx, "order.create.deduplicated", map[string]any{"userId": cmd.UserID, "checkoutId": cmd.CheckoutID})
		existing, findErr := s.orders.FindByCheckout(ctx, cmd.UserID, cmd.CheckoutID)
		if findErr != nil {
			return domain.Order{}, s.mapRepositoryError(findErr)
		}
		return existing, nil
	}
	if err != nil {
		return domain.Order{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, OrderEvent{
		Type:          orderEventCreated,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		UserID:        order.UserID,
		CurrentStatus: string(order.Status),
		PaymentStatus: string(order.Payment.Status),
		ActorID:       order.UserID,
		OccurredAt:    now,
		Metadata:      map[string]any{"total": order.Total, "items": len(order.Items)},
	})
	return order, nil
}

// GetOrder loads an order visible to viewer.
func (s *OrderService) GetOrder(ctx context.Context, viewer Viewer, orderID string) (domain.Order, error) {
	id := strings.TrimSpace(orderID)
	if id == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, id)
	if err != nil {
		return domain.Order{}, s.mapRepositoryError(err)
	}
	return authorizeViewer(viewer, order)
}

// GetOrderByNumber loads an order by its display number.
func (s *OrderService) GetOrderByNumber(ctx context.Context, viewer Viewer, orderNumber string) (domain.Order, error) {
	number := strings.TrimSpace(orderNumber)
	if number == "" {
		return domain.Order{}, fmt.Errorf("%w: order number is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByNumber(ctx, number)
	if err != nil {
		return domain.Order{}, s.mapRepositoryError(err)
	}
	return authorizeViewer(viewer, order)
}

// CancelOrder moves an owned order to cancelled when its state allows it.
func (s *OrderService) CancelOrder(ctx context.Context, cmd CancelOrderCommand) (domain.Order, error) {
	if strings.TrimSpace(cmd.UserID) == "" {
		return domain.Order{}, ErrUnauthenticated
	}
	id := strings.TrimSpace(cmd.OrderID)
	if id == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	var (
		updated  domain.Order
		previous domain.OrderStatus
	)
	err := s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		order, err := s.orders.FindByID(txCtx, id)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		if order.UserID != cmd.UserID {
			return ErrOrderForbidden
		}
		if !domain.CanTransition(order.Status, domain.OrderStatusCancelled) {
			return fmt.Errorf("%w: cannot cancel order in status %s", ErrOrderInvalidState, order.Status)
		}
		now := s.clock()
		previous = order.Status
		order.Status = domain.OrderStatusCancelled
		order.CancelledAt = &now
		order.UpdatedAt = now
		if order.Payment.Status == domain.PaymentStatusPendingVerification {
			order.Payment.Status = domain.PaymentStatusPaymentFailed
		}
		if err := s.orders.Update(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		updated = order
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}

	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventCancelled,
		OrderID:        updated.ID,
		OrderNumber:    updated.OrderNumber,
		UserID:         updated.UserID,
		PreviousStatus: string(previous),
		CurrentStatus:  string(updated.Status),
		PaymentStatus:  string(updated.Payment.Status),
		ActorID:        cmd.UserID,
		OccurredAt:     updated.UpdatedAt,
	})
	return updated, nil
}

func authorizeViewer(viewer Viewer, order domain.Order) (domain.Order, error) {
	if viewer.Staff {
		return order, nil
	}
	if strings.TrimSpace(viewer.UserID) == "" {
		return domain.Order{}, ErrUnauthenticated
	}
	if order.UserID != viewer.UserID {
		return domain.Order{}, ErrOrderForbidden
	}
	return order, nil
}

func validateDelivery(info domain.DeliveryInfo) error {
	switch {
	case info.Charges < 0 || info.BaseCharges < 0 || info.FreeDeliveryThreshold < 0:
		return fmt.Errorf("%w: delivery amounts must not be negative", ErrOrderInvalidInput)
	case info.IsFreeDelivery && info.Charges != 0:
		return fmt.Errorf("%w: free delivery must not carry charges", ErrOrderInvalidInput)
	case !info.IsFreeDelivery && info.BaseCharges != 0 && info.Charges != info.BaseCharges:
		return fmt.Errorf("%w: delivery charges do not match base charges", ErrOrderInvalidInput)
	}
	return nil
}

func (s *OrderService) generateOrderNumber(ctx context.Context, now time.Time) (string, error) {
	seq, err := s.counters.Next(ctx, fmt.Sprintf("orders-%04d", now.Year()), 1)
	if err != nil {
		return "", s.mapRepositoryError(err)
	}
	return fmt.Sprintf("LB-%04d-%06d", now.Year(), seq), nil
}

func (s *OrderService) mapRepositoryError(err error) error {
	return mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
}

func (s *OrderService) publishEvent(ctx context.Context, event OrderEvent) {
	publishEvent(ctx, s.events, s.logger, event)
}

func mapRepositoryError(err error, notFound, conflict error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", notFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", conflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	return err
}

func isRepositoryNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

func publishEvent(ctx context.Context, events OrderEventPublisher, logger func(context.Context, string, map[string]any), event OrderEvent) {
	if events == nil {
		return
	}
	if err := events.PublishOrderEvent(ctx, event); err != nil {
		logger(ctx, "order.event.publish.failed", map[string]any{
			"type":   event.Type,
			"order":  event.OrderID,
			"error":  err.Error(),
			"status": event.CurrentStatus,
		})
	}
}
