package services

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	domain "github.com/lionbidi/storefront/internal/domain"
	"github.com/lionbidi/storefront/internal/payments"
	"github.com/lionbidi/storefront/internal/repositories"
)

type fakeRepositoryError struct {
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e fakeRepositoryError) Error() string { return "repository error" }
func (e fakeRepositoryError) IsNotFound() bool { return e.notFound }
func (e fakeRepositoryError) IsConflict() bool { return e.conflict }
func (e fakeRepositoryError) IsUnavailable() bool { return e.unavailable }

type memoryOrderRepository struct {
	mu       sync.Mutex
	orders   map[string]domain.Order
	claims   map[string]string
	inserts  int
	updates  int
	findHook   func(userID, checkoutID string) (domain.Order, bool, error)
	insertHook func(ctx context.Context) error
	updateFn   func(order domain.Order) error
}

func newMemoryOrderRepository() *memoryOrderRepository {
	return &memoryOrderRepository{orders: map[string]domain.Order{}, claims: map[string]string{}}
}

func (r *memoryOrderRepository) put(order domain.Order) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders[order.ID] = order
	if order.CheckoutID != "" {
		r.claims[order.UserID+"/"+order.CheckoutID] = order.ID
	}
}

func (r *memoryOrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r.insertHook != nil {
		if err := r.insertHook(ctx); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	key := order.UserID + "/" + order.CheckoutID
	if owner, ok := r.claims[key]; ok {
		return &repositories.CheckoutClaimedError{UserID: order.UserID, CheckoutID: order.CheckoutID, OrderID: owner}
	}
	r.claims[key] = order.ID
	r.orders[order.ID] = order
	r.inserts++
	return nil
}

func (r *memoryOrderRepository) Update(_ context.Context, order domain.Order) error {
	if r.updateFn != nil {
		if err := r.updateFn(order); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.orders[order.ID]; !ok {
		return fakeRepositoryError{notFound: true}
	}
	r.orders[order.ID] = order
	r.updates++
	return nil
}

func (r *memoryOrderRepository) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[orderID]
	if !ok {
		return domain.Order{}, fakeRepositoryError{notFound: true}
	}
	return order, nil
}

func (r *memoryOrderRepository) FindByNumber(_ context.Context, orderNumber string) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, order := range r.orders {
		if order.OrderNumber == orderNumber {
			return order, nil
		}
	}
	return domain.Order{}, fakeRepositoryError{notFound: true}
}

func (r *memoryOrderRepository) FindByCheckout(_ context.Context, userID, checkoutID string) (domain.Order, error) {
	if r.findHook != nil {
		if order, handled, err := r.findHook(userID, checkoutID); handled {
			return order, err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.claims[userID+"/"+checkoutID]
	if !ok {
		return domain.Order{}, fakeRepositoryError{notFound: true}
	}
	return r.orders[id], nil
}

func (r *memoryOrderRepository) ListByPaymentStatus(_ context.Context, filter repositories.OrderQueueFilter) (domain.CursorPage[domain.Order], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var page domain.CursorPage[domain.Order]
	for _, order := range r.orders {
		if order.Payment.Status == filter.PaymentStatus {
			page.Items = append(page.Items, order)
		}
	}
	return page, nil
}

func (r *memoryOrderRepository) get(id string) domain.Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.orders[id]
}

type memoryCartRepository struct {
	mu      sync.Mutex
	carts   map[string]domain.Cart
	clears  int
	saveErr error
}

func newMemoryCartRepository() *memoryCartRepository {
	return &memoryCartRepository{carts: map[string]domain.Cart{}}
}

func (r *memoryCartRepository) Get(_ context.Context, userID string) (domain.Cart, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cart := r.carts[userID]
	cart.UserID = userID
	cart.Lines = domain.CloneLines(cart.Lines)
	return cart, nil
}

func (r *memoryCartRepository) Save(_ context.Context, cart domain.Cart) error {
	if r.saveErr != nil {
		return r.saveErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.carts[cart.UserID] = cart
	return nil
}

func (r *memoryCartRepository) Clear(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.carts, userID)
	r.clears++
	return nil
}

type memoryWishlistRepository struct {
	mu    sync.Mutex
	lists map[string]domain.Wishlist
}

func newMemoryWishlistRepository() *memoryWishlistRepository {
	return &memoryWishlistRepository{lists: map[string]domain.Wishlist{}}
}

func (r *memoryWishlistRepository) Get(_ context.Context, userID string) (domain.Wishlist, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.lists[userID]
	list.UserID = userID
	list.Entries = append([]domain.WishlistEntry(nil), list.Entries...)
	return list, nil
}

func (r *memoryWishlistRepository) Save(_ context.Context, list domain.Wishlist) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lists[list.UserID] = list
	return nil
}

type memoryMergeLedger struct {
	mu      sync.Mutex
	applied map[string]time.Time
}

func newMemoryMergeLedger() *memoryMergeLedger {
	return &memoryMergeLedger{applied: map[string]time.Time{}}
}

func (l *memoryMergeLedger) Exists(_ context.Context, userID, scope, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.applied[userID+"/"+scope+"/"+key]
	return ok, nil
}

func (l *memoryMergeLedger) Record(_ context.Context, userID, scope, key string, at time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.applied[userID+"/"+scope+"/"+key] = at
	return nil
}

type memoryTransactionRegistry struct {
	mu     sync.Mutex
	owners map[string]string
}

func newMemoryTransactionRegistry() *memoryTransactionRegistry {
	return &memoryTransactionRegistry{owners: map[string]string{}}
}

func (r *memoryTransactionRegistry) Lookup(_ context.Context, txID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.owners[txID], nil
}

func (r *memoryTransactionRegistry) Claim(_ context.Context, txID, orderID string, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.owners[txID] = orderID
	return nil
}

type memoryCounterRepository struct {
	mu     sync.Mutex
	values map[string]int64
	calls  int
}

func newMemoryCounterRepository() *memoryCounterRepository {
	return &memoryCounterRepository{values: map[string]int64{}}
}

func (r *memoryCounterRepository) Next(_ context.Context, counterID string, step int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.values[counterID] += step
	return r.values[counterID], nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []OrderEvent
	err    error
}

func (p *recordingPublisher) PublishOrderEvent(_ context.Context, event OrderEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, event := range p.events {
		out[i] = event.Type
	}
	return out
}

type stubScreenshotStore struct {
	putFunc    func(ctx context.Context, objectPath string, shot payments.Screenshot) (domain.ScreenshotRef, error)
	signedFunc func(ctx context.Context, objectPath string, ttl time.Duration) (string, time.Time, error)
	paths      []string
}

func (s *stubScreenshotStore) PutScreenshot(ctx context.Context, objectPath string, shot payments.Screenshot) (domain.ScreenshotRef, error) {
	s.paths = append(s.paths, objectPath)
	if s.putFunc != nil {
		return s.putFunc(ctx, objectPath, shot)
	}
	return domain.ScreenshotRef{ObjectPath: objectPath, ContentType: shot.ContentType, Size: shot.Size()}, nil
}

func (s *stubScreenshotStore) SignedURL(ctx context.Context, objectPath string, ttl time.Duration) (string, time.Time, error) {
	if s.signedFunc != nil {
		return s.signedFunc(ctx, objectPath, ttl)
	}
	return "", time.Time{}, fmt.Errorf("not implemented")
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func sequentialIDs() func() string {
	var n atomic.Int64
	return func() string { return fmt.Sprintf("%026d", n.Add(1)) }
}
