package storefront

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	domain "github.com/lionbidi/storefront/internal/domain"
)

const (
	defaultPollInterval = 60 * time.Second
	defaultCheckTimeout = 15 * time.Second
)

// ErrNotPendingVerification is returned when watching an order whose payment is not under review.
var ErrNotPendingVerification = errors.New("storefront: payment is not pending verification")

// PollStatus is the buyer-facing verification state.
type PollStatus string

const (
	PollPending  PollStatus = "pending"
	PollVerified PollStatus = "verified"
	PollFailed   PollStatus = "failed"
)

// PollResult is the outcome of one status check.
type PollResult struct {
	Order    domain.Order
	Status   PollStatus
	Terminal bool
}

// PollState is the observable state of a watch.
type PollState struct {
	OrderNumber   string
	Status        PollStatus
	PaymentStatus domain.PaymentStatus
	LastCheckedAt time.Time
	LastError     string
	Checks        int
}

// OrderFetcher loads an order by number. *Client satisfies it.
type OrderFetcher interface {
	GetOrderByNumber(ctx context.Context, orderNumber string) (domain.Order, error)
}

// CheckPayment fetches the order once and classifies its payment status.
func CheckPayment(ctx context.Context, fetcher OrderFetcher, orderNumber string) (PollResult, error) {
	order, err := fetcher.GetOrderByNumber(ctx, orderNumber)
	if err != nil {
		return PollResult{}, err
	}
	return PollResult{Order: order, Status: pollStatusFor(order.Payment.Status), Terminal: order.Payment.Status.Terminal()}, nil
}

func pollStatusFor(status domain.PaymentStatus) PollStatus {
	switch status {
	case domain.PaymentStatusVerified:
		return PollVerified
	case domain.PaymentStatusVerificationFailed, domain.PaymentStatusPaymentFailed:
		return PollFailed
	default:
		return PollPending
	}
}

// Ticker is the schedule driving a watch.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct{ t *time.Ticker }

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }

func newTimeTicker(d time.Duration) Ticker { return timeTicker{t: time.NewTicker(d)} }

// VerificationPoller watches orders until a reviewer decision is recorded.
type VerificationPoller struct {
	fetcher      OrderFetcher
	interval     time.Duration
	checkTimeout time.Duration
	newTicker    func(time.Duration) Ticker
	clock        func() time.Time
	logger       *zap.Logger
	onUpdate     func(PollState)
}

// PollerOption customises the poller.
type PollerOption func(*VerificationPoller)

// WithPollInterval overrides the 60s tick interval.
func WithPollInterval(interval time.Duration) PollerOption {
	return func(p *VerificationPoller) {
		if interval > 0 {
			p.interval = interval
		}
	}
}

// WithCheckTimeout bounds a single status check.
func WithCheckTimeout(timeout time.Duration) PollerOption {
	return func(p *VerificationPoller) {
		if timeout > 0 {
			p.checkTimeout = timeout
		}
	}
}

// WithTicker replaces the ticker factory, mainly for tests.
func WithTicker(factory func(time.Duration) Ticker) PollerOption {
	return func(p *VerificationPoller) {
		if factory != nil {
			p.newTicker = factory
		}
	}
}

// WithPollClock overrides the clock used for LastCheckedAt.
func WithPollClock(clock func() time.Time) PollerOption {
	return func(p *VerificationPoller) {
		if clock != nil {
			p.clock = clock
		}
	}
}

// WithPollLogger sets the poller logger.
func WithPollLogger(logger *zap.Logger) PollerOption {
	return func(p *VerificationPoller) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithOnUpdate registers a callback run after every completed check.
func WithOnUpdate(fn func(PollState)) PollerOption {
	return func(p *VerificationPoller) {
		p.onUpdate = fn
	}
}

// NewVerificationPoller constructs a poller over fetcher.
func NewVerificationPoller(fetcher OrderFetcher, opts ...PollerOption) (*VerificationPoller, error) {
	if fetcher == nil {
		return nil, errors.New("storefront: order fetcher is required")
	}
	p := &VerificationPoller{
		fetcher:      fetcher,
		interval:     defaultPollInterval,
		checkTimeout: defaultCheckTimeout,
		newTicker:    newTimeTicker,
		clock:        time.Now,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p, nil
}

// Watch starts polling order until its payment reaches a terminal status, Stop is called or ctx
// ends. It fails with ErrNotPendingVerification unless the payment is under review.
func (p *VerificationPoller) Watch(ctx context.Context, order domain.Order) (*Watch, error) {
	number := strings.TrimSpace(order.OrderNumber)
	if number == "" {
		return nil, ErrMissingOrderID
	}
	if order.Payment.Status != domain.PaymentStatusPendingVerification {
		return nil, ErrNotPendingVerification
	}
	watchCtx, cancel := context.WithCancel(ctx)
	w := &Watch{
		poller: p,
		number: number,
		ctx:    watchCtx,
		cancel: cancel,
		done:   make(chan struct{}),
		state: PollState{
			OrderNumber:   number,
			Status:        PollPending,
			PaymentStatus: order.Payment.Status,
		},
	}
	ticker := p.newTicker(p.interval)
	go w.run(ticker)
	return w, nil
}

// Watch is one order's polling schedule.
type Watch struct {
	poller *VerificationPoller
	number string
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	inFlight atomic.Bool

	mu    sync.Mutex
	state PollState
}

func (w *Watch) run(ticker Ticker) {
	defer close(w.done)
	defer ticker.Stop()
	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C():
			if !w.trigger() {
				w.poller.logger.Debug("verification tick skipped", zap.String("order_number", w.number))
			}
		}
	}
}

// RefreshNow runs a check out of band. It reports false when a check is already in flight or the
// watch has ended.
func (w *Watch) RefreshNow() bool {
	return w.trigger()
}

func (w *Watch) trigger() bool {
	if w.ctx.Err() != nil {
		return false
	}
	if !w.inFlight.CompareAndSwap(false, true) {
		return false
	}
	go w.check()
	return true
}

func (w *Watch) check() {
	ctx, cancel := context.WithTimeout(w.ctx, w.poller.checkTimeout)
	result, err := CheckPayment(ctx, w.poller.fetcher, w.number)
	cancel()

	if w.ctx.Err() != nil {
		w.inFlight.Store(false)
		return
	}

	w.mu.Lock()
	w.state.Checks++
	w.state.LastCheckedAt = w.poller.clock()
	if err != nil {
		w.state.LastError = err.Error()
	} else {
		w.state.LastError = ""
		w.state.Status = result.Status
		w.state.PaymentStatus = result.Order.Payment.Status
	}
	state := w.state
	w.mu.Unlock()

	if err != nil {
		w.poller.logger.Warn("payment status check failed",
			zap.String("order_number", w.number),
			zap.String("kind", string(KindOf(err))),
			zap.Error(err),
		)
	} else if result.Terminal {
		w.poller.logger.Info("payment review settled",
			zap.String("order_number", w.number),
			zap.String("status", string(result.Status)),
		)
		w.cancel()
	}
	w.inFlight.Store(false)

	if w.poller.onUpdate != nil {
		w.poller.onUpdate(state)
	}
}

// State returns the latest observed state.
func (w *Watch) State() PollState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Stop cancels the schedule and waits for the tick loop to exit. The result of a check still in
// flight is discarded.
func (w *Watch) Stop() {
	w.cancel()
	<-w.done
}

// Done is closed once the watch has ended.
func (w *Watch) Done() <-chan struct{} {
	return w.done
}
