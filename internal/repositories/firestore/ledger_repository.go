package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/lionbidi/storefront/internal/platform/firestore"
	"github.com/lionbidi/storefront/internal/repositories"
)

const (
	mergesCollection         = "merges"
	transactionIDsCollection = "transactionIds"
)

type mergeDocument struct {
	UserID    string    `firestore:"userId"`
	Scope     string    `firestore:"scope"`
	AppliedAt time.Time `firestore:"appliedAt"`
}

type transactionIDDocument struct {
	OrderID   string    `firestore:"orderId"`
	ClaimedAt time.Time `firestore:"claimedAt"`
}

// MergeLedger records applied guest merges under merges/{uid}_{scope}_{key}.
type MergeLedger struct {
	provider *pfirestore.Provider
}

var _ repositories.MergeLedger = (*MergeLedger)(nil)

// NewMergeLedger constructs a Firestore-backed merge ledger.
func NewMergeLedger(provider *pfirestore.Provider) (*MergeLedger, error) {
	if provider == nil {
		return nil, errors.New("merge ledger requires firestore provider")
	}
	return &MergeLedger{provider: provider}, nil
}

func (l *MergeLedger) ref(ctx context.Context, userID, scope, mergeKey string) (*firestore.DocumentRef, error) {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(scope) == "" || strings.TrimSpace(mergeKey) == "" {
		return nil, errors.New("merge ledger: user id, scope and merge key are required")
	}
	coll, err := l.provider.Collection(ctx, mergesCollection)
	if err != nil {
		return nil, err
	}
	return coll.Doc(compositeID(userID, scope, mergeKey)), nil
}

// Exists reports whether the merge key was already applied for the user and scope.
func (l *MergeLedger) Exists(ctx context.Context, userID, scope, mergeKey string) (bool, error) {
	ref, err := l.ref(ctx, userID, scope, mergeKey)
	if err != nil {
		return false, err
	}
	_, err = getDocument(ctx, ref)
	switch {
	case err == nil:
		return true, nil
	case pfirestore.IsNotFound(err):
		return false, nil
	default:
		return false, pfirestore.WrapError("merges.get", err)
	}
}

// Record marks the merge key as applied.
func (l *MergeLedger) Record(ctx context.Context, userID, scope, mergeKey string, appliedAt time.Time) error {
	ref, err := l.ref(ctx, userID, scope, mergeKey)
	if err != nil {
		return err
	}
	doc := mergeDocument{UserID: userID, Scope: scope, AppliedAt: appliedAt.UTC()}
	return pfirestore.WrapError("merges.record", l.provider.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		return tx.Set(ref, doc)
	}))
}

// TransactionRegistry maps normalised payment transaction ids to their order.
type TransactionRegistry struct {
	provider *pfirestore.Provider
}

var _ repositories.TransactionRegistry = (*TransactionRegistry)(nil)

// NewTransactionRegistry constructs a Firestore-backed transaction id registry.
func NewTransactionRegistry(provider *pfirestore.Provider) (*TransactionRegistry, error) {
	if provider == nil {
		return nil, errors.New("transaction registry requires firestore provider")
	}
	return &TransactionRegistry{provider: provider}, nil
}

func (r *TransactionRegistry) ref(ctx context.Context, transactionID string) (*firestore.DocumentRef, error) {
	id := strings.TrimSpace(transactionID)
	if id == "" {
		return nil, errors.New("transaction registry: transaction id is required")
	}
	coll, err := r.provider.Collection(ctx, transactionIDsCollection)
	if err != nil {
		return nil, err
	}
	return coll.Doc(compositeID(id)), nil
}

// Lookup returns the order that claimed transactionID, or "" when unclaimed.
func (r *TransactionRegistry) Lookup(ctx context.Context, transactionID string) (string, error) {
	ref, err := r.ref(ctx, transactionID)
	if err != nil {
		return "", err
	}
	snap, err := getDocument(ctx, ref)
	if pfirestore.IsNotFound(err) {
		return "", nil
	}
	if err != nil {
		return "", pfirestore.WrapError("transactionIds.get", err)
	}
	var doc transactionIDDocument
	if err := snap.DataTo(&doc); err != nil {
		return "", fmt.Errorf("firestore transactionIds decode %s: %w", ref.ID, err)
	}
	return doc.OrderID, nil
}

// Claim assigns transactionID to orderID. Callers check Lookup in the same transaction first.
func (r *TransactionRegistry) Claim(ctx context.Context, transactionID, orderID string, claimedAt time.Time) error {
	ref, err := r.ref(ctx, transactionID)
	if err != nil {
		return err
	}
	doc := transactionIDDocument{OrderID: orderID, ClaimedAt: claimedAt.UTC()}
	return pfirestore.WrapError("transactionIds.claim", r.provider.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		return tx.Set(ref, doc)
	}))
}
