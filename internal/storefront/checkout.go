package storefront

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	domain "github.com/lionbidi/storefront/internal/domain"
	"github.com/lionbidi/storefront/internal/payments"
)

// CheckoutState is the guard state of a checkout attempt.
type CheckoutState string

const (
	CheckoutIdle     CheckoutState = "idle"
	CheckoutInFlight CheckoutState = "in_flight"
	CheckoutDone     CheckoutState = "done"
)

// ErrOrderNotPlaced is returned when payment is submitted before an order exists.
var ErrOrderNotPlaced = errors.New("storefront: order has not been placed")

// OrderAPI is the order surface CheckoutFlow drives. *Client satisfies it.
type OrderAPI interface {
	GetCart(ctx context.Context) (domain.Cart, error)
	CreateOrder(ctx context.Context, in CreateOrderInput) (domain.Order, error)
	ConfirmPayment(ctx context.Context, orderID, transactionID string, screenshot *payments.Screenshot) (domain.Order, error)
}

// MergeGate reports when the account cart may be treated as authoritative.
type MergeGate interface {
	AwaitSettled(ctx context.Context) error
}

// CheckoutSnapshot is an observable copy of the guard.
type CheckoutSnapshot struct {
	State      CheckoutState
	CheckoutID string
	OrderID    string
}

// PlaceOrderInput carries what the checkout screen collected.
type PlaceOrderInput struct {
	Address       domain.Address
	PaymentMethod domain.PaymentMethod
	Delivery      domain.DeliveryInfo
}

// CheckoutFlow owns one checkout attempt. Its guard moves idle -> in_flight -> done(orderId) and
// back to idle only when creation fails; only PlaceOrder transitions it.
type CheckoutFlow struct {
	api        OrderAPI
	gate       MergeGate
	guest      GuestSessionStore
	logger     *zap.Logger
	checkoutID string

	mu    sync.Mutex
	state CheckoutState
	order domain.Order
	run   *checkoutRun
}

type checkoutRun struct {
	done  chan struct{}
	order domain.Order
	err   error
}

// CheckoutOption customises the flow.
type CheckoutOption func(*CheckoutFlow)

// WithCheckoutGuestStore clears guest cart and address state once an order is placed.
func WithCheckoutGuestStore(store GuestSessionStore) CheckoutOption {
	return func(f *CheckoutFlow) {
		f.guest = store
	}
}

// WithCheckoutID fixes the checkout attempt id instead of generating one.
func WithCheckoutID(id string) CheckoutOption {
	return func(f *CheckoutFlow) {
		if id != "" {
			f.checkoutID = id
		}
	}
}

// WithCheckoutLogger sets the flow logger.
func WithCheckoutLogger(logger *zap.Logger) CheckoutOption {
	return func(f *CheckoutFlow) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// NewCheckoutFlow constructs a flow for one checkout screen lifetime. gate may be nil when no
// login merge can be pending.
func NewCheckoutFlow(api OrderAPI, gate MergeGate, opts ...CheckoutOption) (*CheckoutFlow, error) {
	if api == nil {
		return nil, errors.New("storefront: order api is required")
	}
	f := &CheckoutFlow{
		api:        api,
		gate:       gate,
		logger:     zap.NewNop(),
		checkoutID: NewCheckoutID(),
		state:      CheckoutIdle,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f, nil
}

// Snapshot returns the current guard state.
func (f *CheckoutFlow) Snapshot() CheckoutSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return CheckoutSnapshot{State: f.state, CheckoutID: f.checkoutID, OrderID: f.order.ID}
}

// PlaceOrder creates the order for the account cart. Calls made while creation is running wait
// for it and share its order or error; a call after success returns the order already placed.
func (f *CheckoutFlow) PlaceOrder(ctx context.Context, in PlaceOrderInput) (domain.Order, error) {
	f.mu.Lock()
	switch f.state {
	case CheckoutInFlight:
		run := f.run
		f.mu.Unlock()
		select {
		case <-run.done:
			return run.order, run.err
		case <-ctx.Done():
			return domain.Order{}, ctx.Err()
		}
	case CheckoutDone:
		order := f.order
		f.mu.Unlock()
		return order, nil
	}
	run := &checkoutRun{done: make(chan struct{})}
	f.state = CheckoutInFlight
	f.run = run
	f.mu.Unlock()

	run.order, run.err = f.create(ctx, in)

	f.mu.Lock()
	if run.err != nil {
		f.state = CheckoutIdle
	} else {
		f.state = CheckoutDone
		f.order = run.order
	}
	f.run = nil
	f.mu.Unlock()
	close(run.done)

	if run.err != nil {
		f.logger.Warn("order creation failed", zap.String("checkout_id", f.checkoutID), zap.String("kind", string(KindOf(run.err))), zap.Error(run.err))
		return domain.Order{}, run.err
	}
	order := run.order
	f.logger.Info("order placed", zap.String("checkout_id", f.checkoutID), zap.String("order_id", order.ID), zap.String("order_number", order.OrderNumber))
	if f.guest != nil {
		if err := f.guest.Clear(ctx, GuestCartKey, GuestAddressKey); err != nil {
			f.logger.Warn("guest state clear failed", zap.Error(err))
		}
	}
	return order, nil
}

func (f *CheckoutFlow) create(ctx context.Context, in PlaceOrderInput) (domain.Order, error) {
	if f.gate != nil {
		if err := f.gate.AwaitSettled(ctx); err != nil {
			return domain.Order{}, err
		}
	}
	cart, err := f.api.GetCart(ctx)
	if err != nil {
		return domain.Order{}, err
	}
	if cart.IsEmpty() {
		return domain.Order{}, ErrEmptyCart
	}
	return f.api.CreateOrder(ctx, CreateOrderInput{
		CheckoutID:    f.checkoutID,
		Lines:         cart.Lines,
		Address:       in.Address,
		PaymentMethod: in.PaymentMethod,
		Delivery:      in.Delivery,
	})
}

// SubmitPayment attaches a payment reference to the placed order. It fails with ErrOrderNotPlaced
// unless the guard is done.
func (f *CheckoutFlow) SubmitPayment(ctx context.Context, transactionID string, screenshot *payments.Screenshot) (domain.Order, error) {
	f.mu.Lock()
	if f.state != CheckoutDone {
		f.mu.Unlock()
		return domain.Order{}, ErrOrderNotPlaced
	}
	orderID := f.order.ID
	f.mu.Unlock()

	order, err := f.api.ConfirmPayment(ctx, orderID, transactionID, screenshot)
	if err != nil {
		return domain.Order{}, err
	}
	f.mu.Lock()
	f.order = order
	f.mu.Unlock()
	return order, nil
}
