package repositories

import (
	"errors"
	"fmt"
	"testing"
)

func TestCheckoutClaimedErrorMatchesSentinel(t *testing.T) {
	err := fmt.Errorf("insert: %w", &CheckoutClaimedError{UserID: "user_1", CheckoutID: "chk_1", OrderID: "ord_1"})
	if !errors.Is(err, ErrCheckoutClaimed) {
		t.Fatalf("expected ErrCheckoutClaimed, got %v", err)
	}
	var claimed *CheckoutClaimedError
	if !errors.As(err, &claimed) || claimed.OrderID != "ord_1" {
		t.Fatalf("expected claimed order ord_1, got %+v", claimed)
	}
}

func TestCounterErrorDefaultsMessage(t *testing.T) {
	err := NewCounterError(CounterErrorInvalidInput, "", nil)
	if err.Error() != string(CounterErrorInvalidInput) {
		t.Fatalf("unexpected message %q", err.Error())
	}
	err.Op = "counters.next"
	if err.Error() != "counters.next: counter_invalid_input" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}
