package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/lionbidi/storefront/internal/domain"
	pfirestore "github.com/lionbidi/storefront/internal/platform/firestore"
	"github.com/lionbidi/storefront/internal/platform/pagination"
	"github.com/lionbidi/storefront/internal/repositories"
)

const (
	ordersCollection    = "orders"
	checkoutsCollection = "checkouts"
	maxQueuePageSize    = 100
)

type lineDocument struct {
	ProductID         string `firestore:"productId"`
	Name              string `firestore:"name"`
	UnitPrice         int64  `firestore:"unitPrice"`
	OriginalUnitPrice *int64 `firestore:"originalUnitPrice,omitempty"`
	Quantity          int    `firestore:"quantity"`
	ImageRef          string `firestore:"imageRef,omitempty"`
}

type addressDocument struct {
	Name       string `firestore:"name"`
	Phone      string `firestore:"phone"`
	Email      string `firestore:"email,omitempty"`
	Street     string `firestore:"street"`
	Locality   string `firestore:"locality,omitempty"`
	Landmark   string `firestore:"landmark,omitempty"`
	PostalCode string `firestore:"postalCode"`
	City       string `firestore:"city"`
	State      string `firestore:"state"`
}

type deliveryDocument struct {
	Charges               int64  `firestore:"charges"`
	IsFreeDelivery        bool   `firestore:"isFreeDelivery"`
	BaseCharges           int64  `firestore:"baseCharges"`
	FreeDeliveryThreshold int64  `firestore:"freeDeliveryThreshold"`
	Description           string `firestore:"description"`
	ResolvedRegion        string `firestore:"resolvedRegion,omitempty"`
}

type screenshotDocument struct {
	ObjectPath  string    `firestore:"objectPath"`
	ContentType string    `firestore:"contentType"`
	Size        int64     `firestore:"size"`
	UploadedAt  time.Time `firestore:"uploadedAt"`
}

type paymentDocument struct {
	Method            string              `firestore:"method"`
	TransactionID     string              `firestore:"transactionId,omitempty"`
	Screenshot        *screenshotDocument `firestore:"screenshot,omitempty"`
	Status            string              `firestore:"status"`
	SubmittedAt       *time.Time          `firestore:"submittedAt,omitempty"`
	VerifiedAt        *time.Time          `firestore:"verifiedAt,omitempty"`
	VerificationNotes string              `firestore:"verificationNotes,omitempty"`
	ReviewedBy        string              `firestore:"reviewedBy,omitempty"`
	Attempts          int                 `firestore:"attempts"`
}

type orderDocument struct {
	OrderNumber     string           `firestore:"orderNumber"`
	UserID          string           `firestore:"userId"`
	CheckoutID      string           `firestore:"checkoutId,omitempty"`
	Items           []lineDocument   `firestore:"items"`
	Subtotal        int64            `firestore:"subtotal"`
	Discount        int64            `firestore:"discount"`
	DeliveryCharges int64            `firestore:"deliveryCharges"`
	Total           int64            `firestore:"total"`
	ShippingAddress addressDocument  `firestore:"shippingAddress"`
	Delivery        deliveryDocument `firestore:"delivery"`
	Payment         paymentDocument  `firestore:"payment"`
	Status          string           `firestore:"status"`
	CreatedAt       time.Time        `firestore:"createdAt"`
	UpdatedAt       time.Time        `firestore:"updatedAt"`
	CancelledAt     *time.Time       `firestore:"cancelledAt,omitempty"`
}

type checkoutClaimDocument struct {
	OrderID   string    `firestore:"orderId"`
	UserID    string    `firestore:"userId"`
	ClaimedAt time.Time `firestore:"claimedAt"`
}

// OrderRepository persists orders and checkout claims in Firestore.
type OrderRepository struct {
	provider *pfirestore.Provider
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{provider: provider}, nil
}

// Insert creates the order document and its checkout claim in one transaction.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return errors.New("order repository: order id is required")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return err
	}
	orderRef := client.Collection(ordersCollection).Doc(orderID)
	checkoutID := strings.TrimSpace(order.CheckoutID)

	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if checkoutID != "" {
			claimRef := client.Collection(checkoutsCollection).Doc(compositeID(order.UserID, checkoutID))
			snap, err := tx.Get(claimRef)
			switch {
			case err == nil:
				var claim checkoutClaimDocument
				if err := snap.DataTo(&claim); err != nil {
					return fmt.Errorf("firestore checkouts decode %s: %w", claimRef.ID, err)
				}
				return &repositories.CheckoutClaimedError{UserID: order.UserID, CheckoutID: checkoutID, OrderID: claim.OrderID}
			case !pfirestore.IsNotFound(err):
				return err
			}
			if err := tx.Create(claimRef, checkoutClaimDocument{
				OrderID:   orderID,
				UserID:    order.UserID,
				ClaimedAt: order.CreatedAt.UTC(),
			}); err != nil {
				return err
			}
		}
		return tx.Create(orderRef, encodeOrder(order))
	})
	return pfirestore.WrapError("orders.insert", err)
}

// Update replaces the mutable order document.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return errors.New("order repository: order id is required")
	}
	coll, err := r.provider.Collection(ctx, ordersCollection)
	if err != nil {
		return err
	}
	ref := coll.Doc(orderID)
	if tx, ok := pfirestore.TransactionFromContext(ctx); ok {
		return pfirestore.WrapError("orders.update", tx.Set(ref, encodeOrder(order)))
	}
	_, err = ref.Set(ctx, encodeOrder(order))
	return pfirestore.WrapError("orders.update", err)
}

// FindByID loads an order by document id.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	id := strings.TrimSpace(orderID)
	if id == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}
	coll, err := r.provider.Collection(ctx, ordersCollection)
	if err != nil {
		return domain.Order{}, err
	}
	snap, err := getDocument(ctx, coll.Doc(id))
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.get", err)
	}
	return decodeOrder(snap)
}

// FindByNumber loads an order by its human-readable number.
func (r *OrderRepository) FindByNumber(ctx context.Context, orderNumber string) (domain.Order, error) {
	number := strings.ToUpper(strings.TrimSpace(orderNumber))
	if number == "" {
		return domain.Order{}, errors.New("order repository: order number is required")
	}
	coll, err := r.provider.Collection(ctx, ordersCollection)
	if err != nil {
		return domain.Order{}, err
	}
	docs, err := queryDocuments(ctx, coll.Where("orderNumber", "==", number).Limit(1))
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.findByNumber", err)
	}
	if len(docs) == 0 {
		return domain.Order{}, pfirestore.WrapError("orders.findByNumber", status.Errorf(codes.NotFound, "order %s not found", number))
	}
	return decodeOrder(docs[0])
}

// FindByCheckout resolves the order that claimed the checkout id for userID.
func (r *OrderRepository) FindByCheckout(ctx context.Context, userID, checkoutID string) (domain.Order, error) {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(checkoutID) == "" {
		return domain.Order{}, errors.New("order repository: user id and checkout id are required")
	}
	coll, err := r.provider.Collection(ctx, checkoutsCollection)
	if err != nil {
		return domain.Order{}, err
	}
	snap, err := getDocument(ctx, coll.Doc(compositeID(userID, checkoutID)))
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("checkouts.get", err)
	}
	var claim checkoutClaimDocument
	if err := snap.DataTo(&claim); err != nil {
		return domain.Order{}, fmt.Errorf("firestore checkouts decode %s: %w", snap.Ref.ID, err)
	}
	return r.FindByID(ctx, claim.OrderID)
}

// ListByPaymentStatus pages through orders with the given payment status ordered by creation time.
func (r *OrderRepository) ListByPaymentStatus(ctx context.Context, filter repositories.OrderQueueFilter) (domain.CursorPage[domain.Order], error) {
	size := filter.PageSize
	if size <= 0 || size > maxQueuePageSize {
		size = maxQueuePageSize
	}
	coll, err := r.provider.Collection(ctx, ordersCollection)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	query := coll.Where("payment.status", "==", string(filter.PaymentStatus)).
		OrderBy("createdAt", firestore.Asc).
		OrderBy(firestore.DocumentID, firestore.Asc)
	cursor, err := pagination.DecodeToken(filter.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	if !cursor.IsZero() {
		query = query.StartAfter(cursor.CreatedAt.UTC(), cursor.ID)
	}
	docs, err := queryDocuments(ctx, query.Limit(size+1))
	if err != nil {
		return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.listByPaymentStatus", err)
	}

	page := domain.CursorPage[domain.Order]{Items: make([]domain.Order, 0, min(len(docs), size))}
	for i, snap := range docs {
		if i == size {
			last := page.Items[len(page.Items)-1]
			token, err := pagination.EncodeToken(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
			if err != nil {
				return domain.CursorPage[domain.Order]{}, err
			}
			page.NextPageToken = token
			break
		}
		order, err := decodeOrder(snap)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		page.Items = append(page.Items, order)
	}
	return page, nil
}

func encodeOrder(order domain.Order) orderDocument {
	doc := orderDocument{
		OrderNumber:     order.OrderNumber,
		UserID:          order.UserID,
		CheckoutID:      order.CheckoutID,
		Items:           encodeLines(order.Items),
		Subtotal:        order.Subtotal,
		Discount:        order.Discount,
		DeliveryCharges: order.DeliveryCharges,
		Total:           order.Total,
		ShippingAddress: addressDocument(order.ShippingAddress),
		Delivery:        deliveryDocument(order.Delivery),
		Payment: paymentDocument{
			Method:            string(order.Payment.Method),
			TransactionID:     order.Payment.TransactionID,
			Status:            string(order.Payment.Status),
			SubmittedAt:       utcPtr(order.Payment.SubmittedAt),
			VerifiedAt:        utcPtr(order.Payment.VerifiedAt),
			VerificationNotes: order.Payment.VerificationNotes,
			ReviewedBy:        order.Payment.ReviewedBy,
			Attempts:          order.Payment.Attempts,
		},
		Status:      string(order.Status),
		CreatedAt:   order.CreatedAt.UTC(),
		UpdatedAt:   order.UpdatedAt.UTC(),
		CancelledAt: utcPtr(order.CancelledAt),
	}
	if shot := order.Payment.Screenshot; shot != nil {
		doc.Payment.Screenshot = &screenshotDocument{
			ObjectPath:  shot.ObjectPath,
			ContentType: shot.ContentType,
			Size:        shot.Size,
			UploadedAt:  shot.UploadedAt.UTC(),
		}
	}
	return doc
}

func decodeOrder(snap *firestore.DocumentSnapshot) (domain.Order, error) {
	var doc orderDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Order{}, fmt.Errorf("firestore orders decode %s: %w", snap.Ref.ID, err)
	}
	order := domain.Order{
		ID:              snap.Ref.ID,
		OrderNumber:     doc.OrderNumber,
		UserID:          doc.UserID,
		CheckoutID:      doc.CheckoutID,
		Items:           decodeLines(doc.Items),
		Subtotal:        doc.Subtotal,
		Discount:        doc.Discount,
		DeliveryCharges: doc.DeliveryCharges,
		Total:           doc.Total,
		ShippingAddress: domain.Address(doc.ShippingAddress),
		Delivery:        domain.DeliveryInfo(doc.Delivery),
		Payment: domain.Payment{
			Method:            domain.PaymentMethod(doc.Payment.Method),
			TransactionID:     doc.Payment.TransactionID,
			Status:            domain.PaymentStatus(doc.Payment.Status),
			SubmittedAt:       doc.Payment.SubmittedAt,
			VerifiedAt:        doc.Payment.VerifiedAt,
			VerificationNotes: doc.Payment.VerificationNotes,
			ReviewedBy:        doc.Payment.ReviewedBy,
			Attempts:          doc.Payment.Attempts,
		},
		Status:      domain.OrderStatus(doc.Status),
		CreatedAt:   doc.CreatedAt,
		UpdatedAt:   doc.UpdatedAt,
		CancelledAt: doc.CancelledAt,
	}
	if shot := doc.Payment.Screenshot; shot != nil {
		order.Payment.Screenshot = &domain.ScreenshotRef{
			ObjectPath:  shot.ObjectPath,
			ContentType: shot.ContentType,
			Size:        shot.Size,
			UploadedAt:  shot.UploadedAt,
		}
	}
	return order, nil
}

func encodeLines(lines []domain.CartLine) []lineDocument {
	out := make([]lineDocument, 0, len(lines))
	for _, line := range lines {
		out = append(out, lineDocument{
			ProductID:         line.ProductID,
			Name:              line.Name,
			UnitPrice:         line.UnitPrice,
			OriginalUnitPrice: line.OriginalUnitPrice,
			Quantity:          line.Quantity,
			ImageRef:          line.ImageRef,
		})
	}
	return out
}

func decodeLines(docs []lineDocument) []domain.CartLine {
	out := make([]domain.CartLine, 0, len(docs))
	for _, doc := range docs {
		out = append(out, domain.CartLine{
			ProductID:         doc.ProductID,
			Name:              doc.Name,
			UnitPrice:         doc.UnitPrice,
			OriginalUnitPrice: doc.OriginalUnitPrice,
			Quantity:          doc.Quantity,
			ImageRef:          doc.ImageRef,
		})
	}
	return out
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
