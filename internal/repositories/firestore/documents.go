package firestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/lionbidi/storefront/internal/platform/firestore"
)

// getDocument reads ref through the transaction carried by ctx when present.
func getDocument(ctx context.Context, ref *firestore.DocumentRef) (*firestore.DocumentSnapshot, error) {
	if tx, ok := pfirestore.TransactionFromContext(ctx); ok {
		return tx.Get(ref)
	}
	return ref.Get(ctx)
}

func queryDocuments(ctx context.Context, query firestore.Query) ([]*firestore.DocumentSnapshot, error) {
	if tx, ok := pfirestore.TransactionFromContext(ctx); ok {
		return tx.Documents(query).GetAll()
	}
	return query.Documents(ctx).GetAll()
}

// compositeID joins identifier parts into a Firestore-safe document id. Free-form parts are hashed.
func compositeID(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if strings.ContainsAny(part, "/_.") || len(part) > 128 {
			sum := sha256.Sum256([]byte(part))
			part = hex.EncodeToString(sum[:16])
		}
		out = append(out, part)
	}
	return strings.Join(out, "_")
}
