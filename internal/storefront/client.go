// Package storefront is the buyer-side client of the storefront API: a typed REST client, guest
// session persistence, login merge coordination, the checkout guard and the payment verification
// poller.
package storefront

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	domain "github.com/lionbidi/storefront/internal/domain"
	"github.com/lionbidi/storefront/internal/payments"
	"github.com/lionbidi/storefront/internal/wire"
)

const (
	defaultTimeout      = 8 * time.Second
	idempotencyHeader   = "Idempotency-Key"
	maxResponseBytes    = 4 << 20
	maxErrorDetailBytes = 256
)

var (
	// ErrNoBaseURL is returned when the client was built without an API base URL.
	ErrNoBaseURL = errors.New("storefront: api base url is not configured")
	// ErrTransport wraps network failures and undecodable responses.
	ErrTransport = errors.New("storefront: transport failure")
	// ErrMissingOrderID is returned when an order id or number is blank.
	ErrMissingOrderID = errors.New("storefront: missing order id")
	// ErrMissingCheckoutID is returned when CreateOrder is called without a checkout id.
	ErrMissingCheckoutID = errors.New("storefront: missing checkout id")
	// ErrEmptyCart is returned when an order is requested for no lines.
	ErrEmptyCart = errors.New("storefront: cart is empty")
)

// TokenSource supplies the bearer credential attached to every request.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// TokenSourceFunc adapts a function to TokenSource.
type TokenSourceFunc func(ctx context.Context) (string, error)

// Token implements TokenSource.
func (f TokenSourceFunc) Token(ctx context.Context) (string, error) { return f(ctx) }

// StaticToken returns a TokenSource that always yields token.
func StaticToken(token string) TokenSource {
	return TokenSourceFunc(func(context.Context) (string, error) { return token, nil })
}

// Client issues order, payment, cart and delivery calls against the API service.
type Client struct {
	baseURL        string
	http           *http.Client
	tokens         TokenSource
	onUnauthorized func(ctx context.Context)
	logger         *zap.Logger
}

// ClientOption customises the client.
type ClientOption func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		if client != nil {
			c.http = client
		}
	}
}

// WithTokenSource attaches bearer credentials to requests.
func WithTokenSource(tokens TokenSource) ClientOption {
	return func(c *Client) {
		c.tokens = tokens
	}
}

// WithUnauthorizedHook registers a callback invoked on any 401 response, typically to clear
// session-local state and send the user back to login.
func WithUnauthorizedHook(fn func(ctx context.Context)) ClientOption {
	return func(c *Client) {
		c.onUnauthorized = fn
	}
}

// WithClientLogger sets the logger used for request diagnostics.
func WithClientLogger(logger *zap.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient constructs an API client rooted at baseURL (for example "https://shop.example/api").
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http: &http.Client{
			Timeout: defaultTimeout,
		},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// CreateOrderInput is the checkout snapshot submitted for order creation.
type CreateOrderInput struct {
	CheckoutID     string
	Lines          []domain.CartLine
	Address        domain.Address
	PaymentMethod  domain.PaymentMethod
	Delivery       domain.DeliveryInfo
	IdempotencyKey string
}

// CreateOrder validates the snapshot locally and persists it as an order. The idempotency key
// defaults to one derived from the checkout id so retries of the same checkout replay.
func (c *Client) CreateOrder(ctx context.Context, in CreateOrderInput) (domain.Order, error) {
	checkoutID := strings.TrimSpace(in.CheckoutID)
	if checkoutID == "" {
		return domain.Order{}, ErrMissingCheckoutID
	}
	if len(in.Lines) == 0 {
		return domain.Order{}, ErrEmptyCart
	}
	address := domain.NormalizeAddress(in.Address)
	if err := domain.ValidateAddress(address); err != nil {
		return domain.Order{}, err
	}
	method := in.PaymentMethod
	if method == "" {
		method = domain.PaymentMethodUPI
	}

	body := wire.CreateOrderRequest{
		CheckoutID:      checkoutID,
		Items:           wire.FromLines(in.Lines),
		ShippingAddress: wire.FromAddress(address),
		PaymentMethod:   string(method),
		DeliveryCharges: in.Delivery.Charges,
		DeliveryInfo:    wire.FromDelivery(in.Delivery),
	}
	key := strings.TrimSpace(in.IdempotencyKey)
	if key == "" {
		key = "checkout-" + checkoutID
	}
	env, err := c.do(ctx, http.MethodPost, body, map[string]string{idempotencyHeader: key}, "orders", "create")
	if err != nil {
		return domain.Order{}, err
	}
	return orderFrom(env)
}

// ConfirmPayment attaches a payment reference (and optional screenshot) to an order. The
// transaction id and screenshot are validated before any request is made.
func (c *Client) ConfirmPayment(ctx context.Context, orderID, transactionID string, screenshot *payments.Screenshot) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, ErrMissingOrderID
	}
	normalized, err := payments.ValidateTransactionID(transactionID)
	if err != nil {
		return domain.Order{}, err
	}
	body := wire.ConfirmPaymentRequest{TransactionID: normalized}
	if screenshot != nil {
		checked, err := payments.ValidateScreenshot(*screenshot)
		if err != nil {
			return domain.Order{}, err
		}
		body.Screenshot = payments.EncodeDataURL(checked)
	}
	env, err := c.do(ctx, http.MethodPost, body, nil, "orders", orderID, "confirm-payment")
	if err != nil {
		return domain.Order{}, err
	}
	return orderFrom(env)
}

// GetOrder fetches an order by id.
func (c *Client) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, ErrMissingOrderID
	}
	env, err := c.do(ctx, http.MethodGet, nil, nil, "orders", orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return orderFrom(env)
}

// GetOrderByNumber fetches an order by its human-readable number. This is the poll target.
func (c *Client) GetOrderByNumber(ctx context.Context, orderNumber string) (domain.Order, error) {
	orderNumber = strings.TrimSpace(orderNumber)
	if orderNumber == "" {
		return domain.Order{}, ErrMissingOrderID
	}
	env, err := c.do(ctx, http.MethodGet, nil, nil, "orders", "number", orderNumber)
	if err != nil {
		return domain.Order{}, err
	}
	return orderFrom(env)
}

// CancelOrder cancels an order the buyer owns.
func (c *Client) CancelOrder(ctx context.Context, orderID string) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, ErrMissingOrderID
	}
	env, err := c.do(ctx, http.MethodPost, nil, nil, "orders", orderID, "cancel")
	if err != nil {
		return domain.Order{}, err
	}
	return orderFrom(env)
}

// GetCart fetches the account cart.
func (c *Client) GetCart(ctx context.Context) (domain.Cart, error) {
	env, err := c.do(ctx, http.MethodGet, nil, nil, "cart")
	if err != nil {
		return domain.Cart{}, err
	}
	return cartFrom(env)
}

// MergeCart folds guest lines into the account cart. The server applies a given merge key once.
func (c *Client) MergeCart(ctx context.Context, lines []domain.CartLine, mergeKey string) (domain.Cart, error) {
	body := wire.MergeCartRequest{Items: wire.FromLines(lines), MergeKey: mergeKey}
	env, err := c.do(ctx, http.MethodPost, body, nil, "cart", "merge")
	if err != nil {
		return domain.Cart{}, err
	}
	return cartFrom(env)
}

// GetWishlist fetches the account wishlist.
func (c *Client) GetWishlist(ctx context.Context) (domain.Wishlist, error) {
	env, err := c.do(ctx, http.MethodGet, nil, nil, "wishlist")
	if err != nil {
		return domain.Wishlist{}, err
	}
	return wishlistFrom(env)
}

// MergeWishlist unions guest entries into the account wishlist.
func (c *Client) MergeWishlist(ctx context.Context, entries []domain.WishlistEntry, mergeKey string) (domain.Wishlist, error) {
	body := wire.MergeWishlistRequest{Items: wire.FromEntries(entries), MergeKey: mergeKey}
	env, err := c.do(ctx, http.MethodPost, body, nil, "wishlist", "merge")
	if err != nil {
		return domain.Wishlist{}, err
	}
	return wishlistFrom(env)
}

// CalculateDelivery quotes delivery for a PIN code and order amount in paise.
func (c *Client) CalculateDelivery(ctx context.Context, pincode string, orderAmount int64) (domain.DeliveryInfo, error) {
	pincode = strings.TrimSpace(pincode)
	if !domain.ValidPostalCode(pincode) {
		return domain.DeliveryInfo{}, &domain.AddressError{Fields: []string{"postalCode"}}
	}
	body := wire.DeliveryRequest{Pincode: pincode, OrderAmount: orderAmount}
	env, err := c.do(ctx, http.MethodPost, body, nil, "delivery", "calculate")
	if err != nil {
		return domain.DeliveryInfo{}, err
	}
	if env.Delivery == nil {
		return domain.DeliveryInfo{}, fmt.Errorf("%w: response carried no delivery quote", ErrTransport)
	}
	return env.Delivery.ToDomain(), nil
}

func (c *Client) do(ctx context.Context, method string, body any, headers map[string]string, segments ...string) (wire.Envelope, error) {
	if c == nil || c.baseURL == "" {
		return wire.Envelope{}, ErrNoBaseURL
	}
	escaped := make([]string, 0, len(segments))
	for _, segment := range segments {
		escaped = append(escaped, url.PathEscape(segment))
	}
	endpoint, err := url.JoinPath(c.baseURL, escaped...)
	if err != nil {
		return wire.Envelope{}, err
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return wire.Envelope{}, err
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return wire.Envelope{}, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for name, value := range headers {
		req.Header.Set(name, value)
	}
	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return wire.Envelope{}, fmt.Errorf("storefront: token: %w", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return wire.Envelope{}, fmt.Errorf("%w: %s %s: %w", ErrTransport, method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return wire.Envelope{}, fmt.Errorf("%w: read response: %w", ErrTransport, err)
	}

	var env wire.Envelope
	decodeErr := json.Unmarshal(raw, &env)

	if resp.StatusCode >= 400 {
		if resp.StatusCode == http.StatusUnauthorized && c.onUnauthorized != nil {
			c.onUnauthorized(ctx)
		}
		apiErr := &APIError{
			Status:    resp.StatusCode,
			Kind:      KindForStatus(resp.StatusCode),
			Code:      env.Error,
			Message:   env.Message,
			RequestID: env.RequestID,
			Details:   env.Details,
		}
		if decodeErr != nil || apiErr.Message == "" {
			apiErr.Message = drainError(raw)
		}
		c.logger.Debug("storefront api error",
			zap.String("method", method),
			zap.String("path", req.URL.Path),
			zap.Int("status", resp.StatusCode),
			zap.String("code", apiErr.Code),
			zap.String("request_id", apiErr.RequestID),
		)
		return wire.Envelope{}, apiErr
	}
	if decodeErr != nil {
		return wire.Envelope{}, fmt.Errorf("%w: decode response: %w", ErrTransport, decodeErr)
	}
	return env, nil
}

func orderFrom(env wire.Envelope) (domain.Order, error) {
	if env.Order == nil {
		return domain.Order{}, fmt.Errorf("%w: response carried no order", ErrTransport)
	}
	return env.Order.ToDomain(), nil
}

func cartFrom(env wire.Envelope) (domain.Cart, error) {
	if env.Cart == nil {
		return domain.Cart{}, fmt.Errorf("%w: response carried no cart", ErrTransport)
	}
	return env.Cart.ToDomain(), nil
}

func wishlistFrom(env wire.Envelope) (domain.Wishlist, error) {
	if env.Wishlist == nil {
		return domain.Wishlist{}, fmt.Errorf("%w: response carried no wishlist", ErrTransport)
	}
	return env.Wishlist.ToDomain(), nil
}

func drainError(raw []byte) string {
	if len(raw) > maxErrorDetailBytes {
		raw = raw[:maxErrorDetailBytes]
	}
	return strings.TrimSpace(string(raw))
}

// NewCheckoutID returns a fresh checkout attempt identifier.
func NewCheckoutID() string {
	return "chk_" + strings.ToLower(ulid.Make().String())
}

// NewLoginID returns a fresh merge key for one sign-in. Generate it once per login and reuse it
// only for retries of that login's merge; a reused id makes the server refuse the merge.
func NewLoginID() string {
	return "login_" + strings.ToLower(ulid.Make().String())
}
