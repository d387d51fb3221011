// Package wire holds the JSON shapes exchanged between the storefront API and its clients.
package wire

import (
	"time"

	domain "github.com/lionbidi/storefront/internal/domain"
)

// CartLine is a product row as sent over the API. Prices are in paise.
type CartLine struct {
	ProductID         string `json:"productId"`
	Name              string `json:"name"`
	UnitPrice         int64  `json:"unitPrice"`
	OriginalUnitPrice *int64 `json:"originalUnitPrice,omitempty"`
	Quantity          int    `json:"quantity"`
	ImageRef          string `json:"imageRef,omitempty"`
}

// WishlistEntry is a saved product snapshot.
type WishlistEntry struct {
	ProductID string     `json:"productId"`
	Name      string     `json:"name"`
	UnitPrice int64      `json:"unitPrice"`
	ImageRef  string     `json:"imageRef,omitempty"`
	AddedAt   *time.Time `json:"addedAt,omitempty"`
}

// Cart is the account cart.
type Cart struct {
	Items         []CartLine `json:"items"`
	TotalQuantity int        `json:"totalQuantity"`
	UpdatedAt     *time.Time `json:"updatedAt,omitempty"`
}

// Wishlist is the account wishlist.
type Wishlist struct {
	Items     []WishlistEntry `json:"items"`
	UpdatedAt *time.Time      `json:"updatedAt,omitempty"`
}

// Address is a shipping destination.
type Address struct {
	Name       string `json:"name"`
	Phone      string `json:"phone"`
	Email      string `json:"email,omitempty"`
	Street     string `json:"street"`
	Locality   string `json:"locality,omitempty"`
	Landmark   string `json:"landmark,omitempty"`
	PostalCode string `json:"postalCode"`
	City       string `json:"city"`
	State      string `json:"state"`
}

// DeliveryInfo is a delivery quote.
type DeliveryInfo struct {
	Charges               int64  `json:"charges"`
	IsFreeDelivery        bool   `json:"isFreeDelivery"`
	BaseCharges           int64  `json:"baseCharges"`
	FreeDeliveryThreshold int64  `json:"freeDeliveryThreshold"`
	Description           string `json:"description,omitempty"`
	ResolvedRegion        string `json:"resolvedRegion,omitempty"`
}

// Screenshot describes a stored payment screenshot without exposing its location.
type Screenshot struct {
	ContentType string    `json:"contentType"`
	Size        int64     `json:"size"`
	UploadedAt  time.Time `json:"uploadedAt"`
}

// Payment is the payment sub-object of an order.
type Payment struct {
	Method            string      `json:"method"`
	TransactionID     string      `json:"transactionId,omitempty"`
	Screenshot        *Screenshot `json:"screenshot,omitempty"`
	PaymentStatus     string      `json:"paymentStatus"`
	SubmittedAt       *time.Time  `json:"submittedAt,omitempty"`
	VerifiedAt        *time.Time  `json:"verifiedAt,omitempty"`
	VerificationNotes string      `json:"verificationNotes,omitempty"`
	ReviewedBy        string      `json:"reviewedBy,omitempty"`
	Attempts          int         `json:"attempts"`
}

// Order is the order document returned by every order endpoint.
type Order struct {
	ID              string       `json:"id"`
	OrderNumber     string       `json:"orderNumber"`
	UserID          string       `json:"userId"`
	CheckoutID      string       `json:"checkoutId,omitempty"`
	Items           []CartLine   `json:"items"`
	Subtotal        int64        `json:"subtotal"`
	Discount        int64        `json:"discount"`
	DeliveryCharges int64        `json:"deliveryCharges"`
	Total           int64        `json:"total"`
	ShippingAddress Address      `json:"shippingAddress"`
	DeliveryInfo    DeliveryInfo `json:"deliveryInfo"`
	Payment         Payment      `json:"payment"`
	Status          string       `json:"status"`
	CreatedAt       time.Time    `json:"createdAt"`
	UpdatedAt       time.Time    `json:"updatedAt"`
	CancelledAt     *time.Time   `json:"cancelledAt,omitempty"`
}

// CreateOrderRequest is the body of POST /api/orders/create.
type CreateOrderRequest struct {
	CheckoutID      string       `json:"checkoutId"`
	Items           []CartLine   `json:"items"`
	ShippingAddress Address      `json:"shippingAddress"`
	PaymentMethod   string       `json:"paymentMethod"`
	DeliveryCharges int64        `json:"deliveryCharges"`
	DeliveryInfo    DeliveryInfo `json:"deliveryInfo"`
}

// ConfirmPaymentRequest is the body of POST /api/orders/{id}/confirm-payment. Screenshot is a
// base64 data URL.
type ConfirmPaymentRequest struct {
	TransactionID string `json:"transactionId"`
	Screenshot    string `json:"screenshot,omitempty"`
}

// VerifyPaymentRequest is the reviewer body of POST /api/orders/{id}/admin/verify-payment.
type VerifyPaymentRequest struct {
	Verified *bool  `json:"verified"`
	Notes    string `json:"notes,omitempty"`
}

// RejectPaymentRequest is the reviewer body of POST /api/orders/{id}/reject-payment.
type RejectPaymentRequest struct {
	Reason string `json:"reason"`
}

// CartEventRequest is a reducer event for the account cart.
type CartEventRequest struct {
	Type      string    `json:"type"`
	Item      *CartLine `json:"item,omitempty"`
	ProductID string    `json:"productId,omitempty"`
	Quantity  int       `json:"quantity,omitempty"`
}

// WishlistEventRequest is a reducer event for the account wishlist.
type WishlistEventRequest struct {
	Type      string         `json:"type"`
	Item      *WishlistEntry `json:"item,omitempty"`
	ProductID string         `json:"productId,omitempty"`
}

// MergeCartRequest folds guest cart lines into the account cart.
type MergeCartRequest struct {
	Items    []CartLine `json:"items"`
	MergeKey string     `json:"mergeKey,omitempty"`
}

// MergeWishlistRequest folds guest wishlist entries into the account wishlist.
type MergeWishlistRequest struct {
	Items    []WishlistEntry `json:"items"`
	MergeKey string          `json:"mergeKey,omitempty"`
}

// DeliveryRequest is the body of POST /api/delivery/calculate.
type DeliveryRequest struct {
	Pincode     string `json:"pincode"`
	OrderAmount int64  `json:"orderAmount"`
}

// Envelope is the union of fields a client reads from any API response.
type Envelope struct {
	Success       bool           `json:"success"`
	Order         *Order         `json:"order,omitempty"`
	OrderNumber   string         `json:"orderNumber,omitempty"`
	Orders        []Order        `json:"orders,omitempty"`
	NextPageToken string         `json:"nextPageToken,omitempty"`
	Cart          *Cart          `json:"cart,omitempty"`
	Wishlist      *Wishlist      `json:"wishlist,omitempty"`
	Delivery      *DeliveryInfo  `json:"delivery,omitempty"`
	URL           string         `json:"url,omitempty"`
	ExpiresAt     *time.Time     `json:"expiresAt,omitempty"`
	Removed       *int           `json:"removed,omitempty"`
	Error         string         `json:"error,omitempty"`
	Kind          string         `json:"kind,omitempty"`
	Message       string         `json:"message,omitempty"`
	Status        int            `json:"status,omitempty"`
	RequestID     string         `json:"request_id,omitempty"`
	Details       map[string]any `json:"details,omitempty"`
}

// FromLines converts domain lines.
func FromLines(lines []domain.CartLine) []CartLine {
	out := make([]CartLine, 0, len(lines))
	for _, line := range lines {
		var original *int64
		if line.OriginalUnitPrice != nil {
			value := *line.OriginalUnitPrice
			original = &value
		}
		out = append(out, CartLine{
			ProductID:         line.ProductID,
			Name:              line.Name,
			UnitPrice:         line.UnitPrice,
			OriginalUnitPrice: original,
			Quantity:          line.Quantity,
			ImageRef:          line.ImageRef,
		})
	}
	return out
}

// ToLines converts wire lines to domain lines.
func ToLines(lines []CartLine) []domain.CartLine {
	out := make([]domain.CartLine, 0, len(lines))
	for _, line := range lines {
		out = append(out, line.ToDomain())
	}
	return out
}

// ToDomain converts a single line.
func (l CartLine) ToDomain() domain.CartLine {
	var original *int64
	if l.OriginalUnitPrice != nil {
		value := *l.OriginalUnitPrice
		original = &value
	}
	return domain.CartLine{
		ProductID:         l.ProductID,
		Name:              l.Name,
		UnitPrice:         l.UnitPrice,
		OriginalUnitPrice: original,
		Quantity:          l.Quantity,
		ImageRef:          l.ImageRef,
	}
}

// FromEntries converts domain wishlist entries.
func FromEntries(entries []domain.WishlistEntry) []WishlistEntry {
	out := make([]WishlistEntry, 0, len(entries))
	for _, entry := range entries {
		out = append(out, WishlistEntry{
			ProductID: entry.ProductID,
			Name:      entry.Name,
			UnitPrice: entry.UnitPrice,
			ImageRef:  entry.ImageRef,
			AddedAt:   timePtr(entry.AddedAt),
		})
	}
	return out
}

// ToEntries converts wire wishlist entries.
func ToEntries(entries []WishlistEntry) []domain.WishlistEntry {
	out := make([]domain.WishlistEntry, 0, len(entries))
	for _, entry := range entries {
		out = append(out, entry.ToDomain())
	}
	return out
}

// ToDomain converts a single entry.
func (e WishlistEntry) ToDomain() domain.WishlistEntry {
	entry := domain.WishlistEntry{
		ProductID: e.ProductID,
		Name:      e.Name,
		UnitPrice: e.UnitPrice,
		ImageRef:  e.ImageRef,
	}
	if e.AddedAt != nil {
		entry.AddedAt = e.AddedAt.UTC()
	}
	return entry
}

// FromCart converts a domain cart.
func FromCart(cart domain.Cart) Cart {
	return Cart{
		Items:         FromLines(cart.Lines),
		TotalQuantity: cart.TotalQuantity(),
		UpdatedAt:     timePtr(cart.UpdatedAt),
	}
}

// ToDomain converts the cart back to its domain form.
func (c Cart) ToDomain() domain.Cart {
	cart := domain.Cart{Lines: ToLines(c.Items)}
	if c.UpdatedAt != nil {
		cart.UpdatedAt = c.UpdatedAt.UTC()
	}
	return cart
}

// FromWishlist converts a domain wishlist.
func FromWishlist(list domain.Wishlist) Wishlist {
	return Wishlist{
		Items:     FromEntries(list.Entries),
		UpdatedAt: timePtr(list.UpdatedAt),
	}
}

// ToDomain converts the wishlist back to its domain form.
func (w Wishlist) ToDomain() domain.Wishlist {
	list := domain.Wishlist{Entries: ToEntries(w.Items)}
	if w.UpdatedAt != nil {
		list.UpdatedAt = w.UpdatedAt.UTC()
	}
	return list
}

// FromAddress converts a domain address.
func FromAddress(addr domain.Address) Address {
	return Address(addr)
}

// ToDomain converts the address.
func (a Address) ToDomain() domain.Address {
	return domain.Address(a)
}

// FromDelivery converts a domain delivery quote.
func FromDelivery(info domain.DeliveryInfo) DeliveryInfo {
	return DeliveryInfo(info)
}

// ToDomain converts the delivery quote.
func (d DeliveryInfo) ToDomain() domain.DeliveryInfo {
	return domain.DeliveryInfo(d)
}

// FromOrder converts a domain order.
func FromOrder(order domain.Order) Order {
	payment := Payment{
		Method:            string(order.Payment.Method),
		TransactionID:     order.Payment.TransactionID,
		PaymentStatus:     string(order.Payment.Status),
		SubmittedAt:       copyTime(order.Payment.SubmittedAt),
		VerifiedAt:        copyTime(order.Payment.VerifiedAt),
		VerificationNotes: order.Payment.VerificationNotes,
		ReviewedBy:        order.Payment.ReviewedBy,
		Attempts:          order.Payment.Attempts,
	}
	if shot := order.Payment.Screenshot; shot != nil {
		payment.Screenshot = &Screenshot{
			ContentType: shot.ContentType,
			Size:        shot.Size,
			UploadedAt:  shot.UploadedAt,
		}
	}
	return Order{
		ID:              order.ID,
		OrderNumber:     order.OrderNumber,
		UserID:          order.UserID,
		CheckoutID:      order.CheckoutID,
		Items:           FromLines(order.Items),
		Subtotal:        order.Subtotal,
		Discount:        order.Discount,
		DeliveryCharges: order.DeliveryCharges,
		Total:           order.Total,
		ShippingAddress: FromAddress(order.ShippingAddress),
		DeliveryInfo:    FromDelivery(order.Delivery),
		Payment:         payment,
		Status:          string(order.Status),
		CreatedAt:       order.CreatedAt,
		UpdatedAt:       order.UpdatedAt,
		CancelledAt:     copyTime(order.CancelledAt),
	}
}

// ToDomain converts the order back to its domain form. Screenshot object paths are not carried
// over the wire, so the returned ScreenshotRef has an empty ObjectPath.
func (o Order) ToDomain() domain.Order {
	order := domain.Order{
		ID:              o.ID,
		OrderNumber:     o.OrderNumber,
		UserID:          o.UserID,
		CheckoutID:      o.CheckoutID,
		Items:           ToLines(o.Items),
		Subtotal:        o.Subtotal,
		Discount:        o.Discount,
		DeliveryCharges: o.DeliveryCharges,
		Total:           o.Total,
		ShippingAddress: o.ShippingAddress.ToDomain(),
		Delivery:        o.DeliveryInfo.ToDomain(),
		Payment: domain.Payment{
			Method:            domain.PaymentMethod(o.Payment.Method),
			TransactionID:     o.Payment.TransactionID,
			Status:            domain.PaymentStatus(o.Payment.PaymentStatus),
			SubmittedAt:       copyTime(o.Payment.SubmittedAt),
			VerifiedAt:        copyTime(o.Payment.VerifiedAt),
			VerificationNotes: o.Payment.VerificationNotes,
			ReviewedBy:        o.Payment.ReviewedBy,
			Attempts:          o.Payment.Attempts,
		},
		Status:      domain.OrderStatus(o.Status),
		CreatedAt:   o.CreatedAt,
		UpdatedAt:   o.UpdatedAt,
		CancelledAt: copyTime(o.CancelledAt),
	}
	if shot := o.Payment.Screenshot; shot != nil {
		order.Payment.Screenshot = &domain.ScreenshotRef{
			ContentType: shot.ContentType,
			Size:        shot.Size,
			UploadedAt:  shot.UploadedAt,
		}
	}
	return order
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	value := t.UTC()
	return &value
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	value := t.UTC()
	return &value
}
