package domain

import (
	"time"
)

// CartLine is a single product row in a cart or an order snapshot. Prices are in paise.
type CartLine struct {
	ProductID         string
	Name              string
	UnitPrice         int64
	OriginalUnitPrice *int64
	Quantity          int
	ImageRef          string
}

// Cart is an ordered collection of lines owned by a guest session or an account.
type Cart struct {
	UserID    string
	Lines     []CartLine
	UpdatedAt time.Time
}

// TotalQuantity sums line quantities.
func (c Cart) TotalQuantity() int {
	total := 0
	for _, line := range c.Lines {
		total += line.Quantity
	}
	return total
}

// IsEmpty reports whether the cart holds no lines.
func (c Cart) IsEmpty() bool {
	return len(c.Lines) == 0
}

// WishlistEntry keeps the display snapshot of a saved product.
type WishlistEntry struct {
	ProductID string
	Name      string
	UnitPrice int64
	ImageRef  string
	AddedAt   time.Time
}

// Wishlist is a set of entries keyed by product id.
type Wishlist struct {
	UserID    string
	Entries   []WishlistEntry
	UpdatedAt time.Time
}

// Address is the shipping destination captured at checkout.
type Address struct {
	Name       string
	Phone      string
	Email      string
	Street     string
	Locality   string
	Landmark   string
	PostalCode string
	City       string
	State      string
}

// DeliveryInfo is the derived delivery quote for a destination and order amount.
type DeliveryInfo struct {
	Charges               int64
	IsFreeDelivery        bool
	BaseCharges           int64
	FreeDeliveryThreshold int64
	Description           string
	ResolvedRegion        string
}

// Region is the result of resolving a postal code.
type Region struct {
	PostalCode string
	City       string
	State      string
}

// Label renders the region for display.
func (r Region) Label() string {
	switch {
	case r.City != "" && r.State != "":
		return r.City + ", " + r.State
	case r.State != "":
		return r.State
	default:
		return r.City
	}
}

// PricingResult is the output of pricing a list of cart lines.
type PricingResult struct {
	Subtotal      int64
	Savings       int64
	BulkDiscount  int64
	TotalQuantity int
	Total         int64
}

// PaymentMethod enumerates accepted manual payment rails.
type PaymentMethod string

const (
	// PaymentMethodUPI is a UPI transfer asserted by transaction reference.
	PaymentMethodUPI PaymentMethod = "UPI"
	// PaymentMethodBankTransfer is a bank transfer asserted by transaction reference.
	PaymentMethodBankTransfer PaymentMethod = "bank_transfer"
)

// Valid reports whether the method is supported.
func (m PaymentMethod) Valid() bool {
	return m == PaymentMethodUPI || m == PaymentMethodBankTransfer
}

// PaymentStatus enumerates the payment sub-state of an order.
type PaymentStatus string

const (
	// PaymentStatusAwaitingPayment means no payment reference has been submitted yet.
	PaymentStatusAwaitingPayment PaymentStatus = "awaiting_payment"
	// PaymentStatusPendingVerification means a reference is attached and awaits a reviewer.
	PaymentStatusPendingVerification PaymentStatus = "pending_verification"
	// PaymentStatusVerified means a reviewer confirmed the payment.
	PaymentStatusVerified PaymentStatus = "verified"
	// PaymentStatusVerificationFailed means a reviewer rejected the payment.
	PaymentStatusVerificationFailed PaymentStatus = "verification_failed"
	// PaymentStatusPaymentFailed means the payment was marked failed outside review.
	PaymentStatusPaymentFailed PaymentStatus = "payment_failed"
)

// Terminal reports whether the current submission can no longer be reviewed.
func (s PaymentStatus) Terminal() bool {
	switch s {
	case PaymentStatusVerified, PaymentStatusVerificationFailed, PaymentStatusPaymentFailed:
		return true
	default:
		return false
	}
}

// ScreenshotRef points at an uploaded payment screenshot in object storage.
type ScreenshotRef struct {
	ObjectPath  string
	ContentType string
	Size        int64
	UploadedAt  time.Time
}

// Payment captures the user-asserted payment reference and its review outcome.
type Payment struct {
	Method            PaymentMethod
	TransactionID     string
	Screenshot        *ScreenshotRef
	Status            PaymentStatus
	SubmittedAt       *time.Time
	VerifiedAt        *time.Time
	VerificationNotes string
	ReviewedBy        string
	Attempts          int
}

// Order is the persisted result of a checkout. Lines, totals and address are snapshots.
type Order struct {
	ID              string
	OrderNumber     string
	UserID          string
	CheckoutID      string
	Items           []CartLine
	Subtotal        int64
	Discount        int64
	DeliveryCharges int64
	Total           int64
	ShippingAddress Address
	Delivery        DeliveryInfo
	Payment         Payment
	Status          OrderStatus
	CreatedAt       time.Time
	UpdatedAt       time.Time
	CancelledAt     *time.Time
}

// CursorPage is a page of results with an opaque continuation token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}
