package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/lionbidi/storefront/internal/domain"
	pfirestore "github.com/lionbidi/storefront/internal/platform/firestore"
	"github.com/lionbidi/storefront/internal/repositories"
)

const (
	cartCollection     = "carts"
	wishlistCollection = "wishlists"
)

type cartDocument struct {
	Lines      []lineDocument `firestore:"lines"`
	ItemsCount int            `firestore:"itemsCount"`
	UpdatedAt  time.Time      `firestore:"updatedAt"`
}

type wishlistEntryDocument struct {
	ProductID string    `firestore:"productId"`
	Name      string    `firestore:"name"`
	UnitPrice int64     `firestore:"unitPrice"`
	ImageRef  string    `firestore:"imageRef,omitempty"`
	AddedAt   time.Time `firestore:"addedAt"`
}

type wishlistDocument struct {
	Entries   []wishlistEntryDocument `firestore:"entries"`
	UpdatedAt time.Time               `firestore:"updatedAt"`
}

// CartRepository persists account carts keyed by user id.
type CartRepository struct {
	provider *pfirestore.Provider
}

var _ repositories.CartRepository = (*CartRepository)(nil)

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	return &CartRepository{provider: provider}, nil
}

// Get loads the cart for userID. A missing document yields an empty cart.
func (r *CartRepository) Get(ctx context.Context, userID string) (domain.Cart, error) {
	ref, err := userDoc(ctx, r.provider, cartCollection, userID)
	if err != nil {
		return domain.Cart{}, err
	}
	snap, err := getDocument(ctx, ref)
	if pfirestore.IsNotFound(err) {
		return domain.Cart{UserID: ref.ID, Lines: []domain.CartLine{}}, nil
	}
	if err != nil {
		return domain.Cart{}, pfirestore.WrapError("carts.get", err)
	}
	var doc cartDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Cart{}, fmt.Errorf("firestore carts decode %s: %w", ref.ID, err)
	}
	return domain.Cart{UserID: ref.ID, Lines: decodeLines(doc.Lines), UpdatedAt: doc.UpdatedAt}, nil
}

// Save replaces the cart document.
func (r *CartRepository) Save(ctx context.Context, cart domain.Cart) error {
	ref, err := userDoc(ctx, r.provider, cartCollection, cart.UserID)
	if err != nil {
		return err
	}
	doc := cartDocument{
		Lines:      encodeLines(cart.Lines),
		ItemsCount: cart.TotalQuantity(),
		UpdatedAt:  cart.UpdatedAt.UTC(),
	}
	return pfirestore.WrapError("carts.save", r.provider.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		return tx.Set(ref, doc)
	}))
}

// Clear removes the cart document.
func (r *CartRepository) Clear(ctx context.Context, userID string) error {
	ref, err := userDoc(ctx, r.provider, cartCollection, userID)
	if err != nil {
		return err
	}
	return pfirestore.WrapError("carts.clear", r.provider.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		return tx.Delete(ref)
	}))
}

// WishlistRepository persists account wishlists keyed by user id.
type WishlistRepository struct {
	provider *pfirestore.Provider
}

var _ repositories.WishlistRepository = (*WishlistRepository)(nil)

// NewWishlistRepository constructs a Firestore-backed wishlist repository.
func NewWishlistRepository(provider *pfirestore.Provider) (*WishlistRepository, error) {
	if provider == nil {
		return nil, errors.New("wishlist repository requires firestore provider")
	}
	return &WishlistRepository{provider: provider}, nil
}

// Get loads the wishlist for userID. A missing document yields an empty list.
func (r *WishlistRepository) Get(ctx context.Context, userID string) (domain.Wishlist, error) {
	ref, err := userDoc(ctx, r.provider, wishlistCollection, userID)
	if err != nil {
		return domain.Wishlist{}, err
	}
	snap, err := getDocument(ctx, ref)
	if pfirestore.IsNotFound(err) {
		return domain.Wishlist{UserID: ref.ID, Entries: []domain.WishlistEntry{}}, nil
	}
	if err != nil {
		return domain.Wishlist{}, pfirestore.WrapError("wishlists.get", err)
	}
	var doc wishlistDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Wishlist{}, fmt.Errorf("firestore wishlists decode %s: %w", ref.ID, err)
	}
	list := domain.Wishlist{UserID: ref.ID, Entries: make([]domain.WishlistEntry, 0, len(doc.Entries)), UpdatedAt: doc.UpdatedAt}
	for _, entry := range doc.Entries {
		list.Entries = append(list.Entries, domain.WishlistEntry(entry))
	}
	return list, nil
}

// Save replaces the wishlist document.
func (r *WishlistRepository) Save(ctx context.Context, list domain.Wishlist) error {
	ref, err := userDoc(ctx, r.provider, wishlistCollection, list.UserID)
	if err != nil {
		return err
	}
	doc := wishlistDocument{
		Entries:   make([]wishlistEntryDocument, 0, len(list.Entries)),
		UpdatedAt: list.UpdatedAt.UTC(),
	}
	for _, entry := range list.Entries {
		entry.AddedAt = entry.AddedAt.UTC()
		doc.Entries = append(doc.Entries, wishlistEntryDocument(entry))
	}
	return pfirestore.WrapError("wishlists.save", r.provider.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		return tx.Set(ref, doc)
	}))
}

func userDoc(ctx context.Context, provider *pfirestore.Provider, collection, userID string) (*firestore.DocumentRef, error) {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return nil, fmt.Errorf("%s repository: user id is required", strings.TrimSuffix(collection, "s"))
	}
	coll, err := provider.Collection(ctx, collection)
	if err != nil {
		return nil, err
	}
	return coll.Doc(uid), nil
}
