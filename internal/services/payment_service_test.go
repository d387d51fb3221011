package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	domain "github.com/lionbidi/storefront/internal/domain"
	"github.com/lionbidi/storefront/internal/payments"
)

var pngBytes = append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 64)...)

type paymentFixture struct {
	service  *PaymentService
	orders   *memoryOrderRepository
	registry *memoryTransactionRegistry
	store    *stubScreenshotStore
	events   *recordingPublisher
}

func newPaymentFixture(t *testing.T) paymentFixture {
	t.Helper()
	f := paymentFixture{
		orders:   newMemoryOrderRepository(),
		registry: newMemoryTransactionRegistry(),
		store:    &stubScreenshotStore{},
		events:   &recordingPublisher{},
	}
	svc, err := NewPaymentService(PaymentServiceDeps{
		Orders:      f.orders,
		Registry:    f.registry,
		Screenshots: f.store,
		Clock:       fixedClock(testNow),
		IDGenerator: sequentialIDs(),
		Events:      f.events,
	})
	if err != nil {
		t.Fatalf("NewPaymentService: %v", err)
	}
	f.service = svc
	return f
}

func pendingOrder(id string) domain.Order {
	return domain.Order{
		ID:          id,
		OrderNumber: "LB-2026-000001",
		UserID:      "user_1",
		CheckoutID:  "chk_" + id,
		Total:       109900,
		Status:      domain.OrderStatusPending,
		Payment:     domain.Payment{Method: domain.PaymentMethodUPI, Status: domain.PaymentStatusAwaitingPayment},
	}
}

func TestPaymentServiceSubmitNormalizesTransactionID(t *testing.T) {
	f := newPaymentFixture(t)
	f.orders.put(pendingOrder("ord_1"))

	order, err := f.service.SubmitPayment(context.Background(), SubmitPaymentCommand{
		UserID:        "user_1",
		OrderID:       "ord_1",
		TransactionID: "  ab1234567890  ",
	})
	if err != nil {
		t.Fatalf("SubmitPayment: %v", err)
	}
	if order.Payment.TransactionID != "AB1234567890" {
		t.Fatalf("expected normalized id, got %q", order.Payment.TransactionID)
	}
	if order.Status != domain.OrderStatusPaymentSubmitted || order.Payment.Status != domain.PaymentStatusPendingVerification {
		t.Fatalf("unexpected status %s/%s", order.Status, order.Payment.Status)
	}
	if order.Payment.Attempts != 1 || order.Payment.SubmittedAt == nil || !order.Payment.SubmittedAt.Equal(testNow) {
		t.Fatalf("unexpected payment %+v", order.Payment)
	}
	if owner, _ := f.registry.Lookup(context.Background(), "AB1234567890"); owner != "ord_1" {
		t.Fatalf("expected registry claim for ord_1, got %q", owner)
	}
	if got := f.events.types(); len(got) != 1 || got[0] != orderEventPaymentSubmitted {
		t.Fatalf("unexpected events %v", got)
	}
}

func TestPaymentServiceSubmitStoresScreenshot(t *testing.T) {
	f := newPaymentFixture(t)
	f.orders.put(pendingOrder("ord_1"))

	order, err := f.service.SubmitPayment(context.Background(), SubmitPaymentCommand{
		UserID:        "user_1",
		OrderID:       "ord_1",
		TransactionID: "412345678901",
		Screenshot:    &payments.Screenshot{Data: pngBytes, ContentType: "application/octet-stream"},
	})
	if err != nil {
		t.Fatalf("SubmitPayment: %v", err)
	}
	if len(f.store.paths) != 1 {
		t.Fatalf("expected one upload, got %v", f.store.paths)
	}
	path := f.store.paths[0]
	if !strings.HasPrefix(path, "payments/ord_1/scr_") || !strings.HasSuffix(path, ".png") {
		t.Fatalf("unexpected object path %s", path)
	}
	if order.Payment.Screenshot == nil || order.Payment.Screenshot.ContentType != "image/png" {
		t.Fatalf("unexpected screenshot ref %+v", order.Payment.Screenshot)
	}
}

func TestPaymentServiceSubmitRejectsInvalidInput(t *testing.T) {
	f := newPaymentFixture(t)
	f.orders.put(pendingOrder("ord_1"))
	ctx := context.Background()

	_, err := f.service.SubmitPayment(ctx, SubmitPaymentCommand{UserID: "user_1", OrderID: "ord_1", TransactionID: "000000000000"})
	if !errors.Is(err, ErrPaymentInvalidInput) || !errors.Is(err, payments.ErrTransactionIDSynthetic) {
		t.Fatalf("expected synthetic id rejection, got %v", err)
	}
	_, err = f.service.SubmitPayment(ctx, SubmitPaymentCommand{UserID: "user_1", OrderID: "ord_1", TransactionID: "412345678901", Screenshot: &payments.Screenshot{Data: []byte("not an image")}})
	if !errors.Is(err, payments.ErrScreenshotNotImage) || KindOf(err) != KindValidation {
		t.Fatalf("expected screenshot rejection, got %v", err)
	}
	_, err = f.service.SubmitPayment(ctx, SubmitPaymentCommand{UserID: "user_2", OrderID: "ord_1", TransactionID: "412345678901"})
	if !errors.Is(err, ErrOrderForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	_, err = f.service.SubmitPayment(ctx, SubmitPaymentCommand{UserID: "user_1", OrderID: "ord_missing", TransactionID: "412345678901"})
	if !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if f.orders.updates != 0 {
		t.Fatalf("rejected submissions must not write")
	}
}

func TestPaymentServiceTransactionIDBelongsToOneOrder(t *testing.T) {
	f := newPaymentFixture(t)
	f.orders.put(pendingOrder("ord_1"))
	other := pendingOrder("ord_2")
	f.orders.put(other)
	ctx := context.Background()

	if _, err := f.service.SubmitPayment(ctx, SubmitPaymentCommand{UserID: "user_1", OrderID: "ord_1", TransactionID: "412345678901"}); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	_, err := f.service.SubmitPayment(ctx, SubmitPaymentCommand{UserID: "user_1", OrderID: "ord_2", TransactionID: "412345678901"})
	if !errors.Is(err, ErrTransactionIDInUse) || KindOf(err) != KindConflict {
		t.Fatalf("expected transaction id conflict, got %v", err)
	}
	if f.orders.get("ord_2").Payment.Status != domain.PaymentStatusAwaitingPayment {
		t.Fatalf("second order must be unchanged")
	}
}

func TestPaymentServiceResubmissionPolicy(t *testing.T) {
	f := newPaymentFixture(t)
	f.orders.put(pendingOrder("ord_1"))
	ctx := context.Background()
	cmd := SubmitPaymentCommand{UserID: "user_1", OrderID: "ord_1", TransactionID: "412345678901"}

	if _, err := f.service.SubmitPayment(ctx, cmd); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if _, err := f.service.SubmitPayment(ctx, cmd); !errors.Is(err, ErrPaymentAlreadyPending) {
		t.Fatalf("expected already pending, got %v", err)
	}

	reject := func() {
		order := f.orders.get("ord_1")
		order.Status = domain.OrderStatusVerificationFailed
		order.Payment.Status = domain.PaymentStatusVerificationFailed
		order.Payment.VerificationNotes = "amount mismatch"
		f.orders.put(order)
	}

	reject()
	order, err := f.service.SubmitPayment(ctx, cmd)
	if err != nil {
		t.Fatalf("resubmit after rejection: %v", err)
	}
	if order.Payment.Attempts != 2 || order.Payment.VerificationNotes != "" || order.Status != domain.OrderStatusPaymentSubmitted {
		t.Fatalf("unexpected resubmitted order %+v", order)
	}

	reject()
	cmd.TransactionID = "512345678901"
	if _, err := f.service.SubmitPayment(ctx, cmd); err != nil {
		t.Fatalf("third submit: %v", err)
	}
	reject()
	cmd.TransactionID = "612345678901"
	_, err = f.service.SubmitPayment(ctx, cmd)
	if !errors.Is(err, ErrPaymentAttemptsExhausted) {
		t.Fatalf("expected attempts exhausted, got %v", err)
	}
}

func TestPaymentServiceRejectsClosedOrders(t *testing.T) {
	f := newPaymentFixture(t)
	cancelled := pendingOrder("ord_1")
	cancelled.Status = domain.OrderStatusCancelled
	f.orders.put(cancelled)
	verified := pendingOrder("ord_2")
	verified.Status = domain.OrderStatusConfirmed
	verified.Payment.Status = domain.PaymentStatusVerified
	f.orders.put(verified)

	for _, id := range []string{"ord_1", "ord_2"} {
		_, err := f.service.SubmitPayment(context.Background(), SubmitPaymentCommand{UserID: "user_1", OrderID: id, TransactionID: "412345678901"})
		if !errors.Is(err, ErrPaymentNotAccepted) {
			t.Fatalf("%s: expected not accepted, got %v", id, err)
		}
	}
}

func TestPaymentServiceScreenshotStoreUnavailable(t *testing.T) {
	f := newPaymentFixture(t)
	f.orders.put(pendingOrder("ord_1"))
	f.store.putFunc = func(context.Context, string, payments.Screenshot) (domain.ScreenshotRef, error) {
		return domain.ScreenshotRef{}, errors.New("bucket offline")
	}
	_, err := f.service.SubmitPayment(context.Background(), SubmitPaymentCommand{
		UserID: "user_1", OrderID: "ord_1", TransactionID: "412345678901",
		Screenshot: &payments.Screenshot{Data: pngBytes},
	})
	if !Retryable(err) {
		t.Fatalf("expected retryable error, got %v", err)
	}
	if owner, _ := f.registry.Lookup(context.Background(), "412345678901"); owner != "" {
		t.Fatalf("failed upload must not claim the transaction id")
	}
}

func TestPaymentServiceScreenshotURL(t *testing.T) {
	f := newPaymentFixture(t)
	f.orders.put(pendingOrder("ord_1"))
	withShot := pendingOrder("ord_2")
	withShot.Payment.Screenshot = &domain.ScreenshotRef{ObjectPath: "payments/ord_2/scr_1.png"}
	f.orders.put(withShot)
	expires := testNow.Add(10 * time.Minute)
	f.store.signedFunc = func(_ context.Context, objectPath string, ttl time.Duration) (string, time.Time, error) {
		if ttl != defaultSignedURLTTL {
			t.Fatalf("unexpected ttl %s", ttl)
		}
		return "https://storage.example/" + objectPath, expires, nil
	}
	ctx := context.Background()

	if _, _, err := f.service.ScreenshotURL(ctx, "ord_1"); !errors.Is(err, ErrScreenshotUnavailable) {
		t.Fatalf("expected screenshot unavailable, got %v", err)
	}
	url, exp, err := f.service.ScreenshotURL(ctx, "ord_2")
	if err != nil {
		t.Fatalf("ScreenshotURL: %v", err)
	}
	if url != "https://storage.example/payments/ord_2/scr_1.png" || !exp.Equal(expires) {
		t.Fatalf("unexpected signed url %s %s", url, exp)
	}
}

func TestPaymentServiceListPending(t *testing.T) {
	f := newPaymentFixture(t)
	f.orders.put(pendingOrder("ord_1"))
	submitted := pendingOrder("ord_2")
	submitted.Status = domain.OrderStatusPaymentSubmitted
	submitted.Payment.Status = domain.PaymentStatusPendingVerification
	f.orders.put(submitted)

	page, err := f.service.ListPending(context.Background(), PendingQueueQuery{PageSize: 10})
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].ID != "ord_2" {
		t.Fatalf("unexpected queue %+v", page.Items)
	}
}
