package payments

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/width"
)

var (
	// ErrInvalidTransactionID is the parent of every transaction id validation failure.
	ErrInvalidTransactionID = errors.New("invalid transaction id")
	// ErrTransactionIDRequired is returned for blank input.
	ErrTransactionIDRequired = fmt.Errorf("%w: transaction id is required", ErrInvalidTransactionID)
	// ErrTransactionIDFormat is returned when the id matches none of the accepted reference shapes.
	ErrTransactionIDFormat = fmt.Errorf("%w: transaction id must be 10-16 letters or digits", ErrInvalidTransactionID)
	// ErrTransactionIDSynthetic is returned for placeholder-looking ids such as repeated or sequential digits.
	ErrTransactionIDSynthetic = fmt.Errorf("%w: transaction id looks like a placeholder", ErrInvalidTransactionID)
)

// Accepted UPI reference shapes, checked in order.
var transactionIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^[0-9]{12}$`),
	regexp.MustCompile(`^[A-Z0-9]{12}$`),
	regexp.MustCompile(`^[0-9]{10,16}$`),
	regexp.MustCompile(`^[A-Z0-9]{10,16}$`),
	regexp.MustCompile(`^[A-Z]{2}[0-9]{10,14}$`),
}

var syntheticTransactionIDs = map[string]struct{}{
	"123456789012": {},
	"987654321098": {},
}

// NormalizeTransactionID folds full-width characters, trims surrounding space and uppercases.
func NormalizeTransactionID(raw string) string {
	return strings.ToUpper(strings.TrimSpace(width.Fold.String(raw)))
}

// ValidateTransactionID normalizes raw and checks it against the accepted shapes.
// The normalized id is returned even when validation fails.
func ValidateTransactionID(raw string) (string, error) {
	id := NormalizeTransactionID(raw)
	if id == "" {
		return id, ErrTransactionIDRequired
	}
	if !matchesAnyShape(id) {
		return id, ErrTransactionIDFormat
	}
	if isSynthetic(id) {
		return id, ErrTransactionIDSynthetic
	}
	return id, nil
}

func matchesAnyShape(id string) bool {
	for _, pattern := range transactionIDPatterns {
		if pattern.MatchString(id) {
			return true
		}
	}
	return false
}

func isSynthetic(id string) bool {
	if _, ok := syntheticTransactionIDs[id]; ok {
		return true
	}
	// all-identical covers all-zero and all-one
	first := id[0]
	for i := 1; i < len(id); i++ {
		if id[i] != first {
			return false
		}
	}
	return true
}
