package firestore

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestWrapErrorClassifiesStatusCodes(t *testing.T) {
	cases := []struct {
		code        codes.Code
		notFound    bool
		conflict    bool
		unavailable bool
	}{
		{code: codes.NotFound, notFound: true},
		{code: codes.AlreadyExists, conflict: true},
		{code: codes.Aborted, conflict: true},
		{code: codes.FailedPrecondition, conflict: true},
		{code: codes.Unavailable, unavailable: true},
		{code: codes.ResourceExhausted, unavailable: true},
		{code: codes.PermissionDenied},
	}
	for _, tc := range cases {
		err := WrapError("orders.get", status.Error(tc.code, "boom"))
		var repoErr *Error
		if !errors.As(err, &repoErr) {
			t.Fatalf("%s: expected *Error, got %T", tc.code, err)
		}
		if repoErr.IsNotFound() != tc.notFound || repoErr.IsConflict() != tc.conflict || repoErr.IsUnavailable() != tc.unavailable {
			t.Fatalf("%s: unexpected classification %+v", tc.code, repoErr)
		}
	}
}

func TestWrapErrorPassesThroughNonGRPCErrors(t *testing.T) {
	sentinel := errors.New("decision already recorded")
	if got := WrapError("transaction", fmt.Errorf("wrapped: %w", sentinel)); !errors.Is(got, sentinel) {
		t.Fatalf("expected sentinel to survive, got %v", got)
	}
	var repoErr *Error
	if errors.As(WrapError("transaction", sentinel), &repoErr) {
		t.Fatalf("expected plain errors to stay unwrapped")
	}
	if got := WrapError("op", status.Error(codes.Canceled, "cancelled")); !errors.Is(got, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", got)
	}
	if WrapError("op", nil) != nil {
		t.Fatalf("expected nil")
	}
}

func TestTransactionContextRoundTrip(t *testing.T) {
	if _, ok := TransactionFromContext(context.Background()); ok {
		t.Fatalf("expected no transaction on a bare context")
	}
	tx := &firestore.Transaction{}
	ctx := WithTransaction(context.Background(), tx)
	got, ok := TransactionFromContext(ctx)
	if !ok || got != tx {
		t.Fatalf("expected transaction from context")
	}

	provider := NewProvider(testFirestoreConfig())
	called := false
	err := provider.RunTransaction(ctx, func(ctx context.Context, joined *firestore.Transaction) error {
		called = true
		if joined != tx {
			t.Fatalf("expected nested call to join the outer transaction")
		}
		return nil
	})
	if err != nil || !called {
		t.Fatalf("expected joined transaction to run, err=%v called=%v", err, called)
	}
}

func TestProviderClosed(t *testing.T) {
	provider := NewProvider(testFirestoreConfig())
	if err := provider.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := provider.Client(context.Background()); !errors.Is(err, ErrProviderClosed) {
		t.Fatalf("expected ErrProviderClosed, got %v", err)
	}
}
