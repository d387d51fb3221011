package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidCartEvent is returned when a cart or wishlist event cannot be applied.
var ErrInvalidCartEvent = errors.New("invalid cart event")

// CartEventType tags the cart reducer events.
type CartEventType string

const (
	// CartEventAdd adds a line, summing quantities when the product is already present.
	CartEventAdd CartEventType = "add"
	// CartEventRemove drops the line for a product.
	CartEventRemove CartEventType = "remove"
	// CartEventSetQuantity replaces the quantity of an existing line; zero removes it.
	CartEventSetQuantity CartEventType = "setQuantity"
)

// CartEvent is a tagged union applied by ApplyCartEvent.
type CartEvent struct {
	Type      CartEventType
	Line      CartLine
	ProductID string
	Quantity  int
}

// ApplyCartEvent returns a new cart with the event applied. The input cart is not modified.
func ApplyCartEvent(cart Cart, event CartEvent, now time.Time) (Cart, error) {
	next := cloneCart(cart)
	switch event.Type {
	case CartEventAdd:
		line := event.Line
		line.ProductID = strings.TrimSpace(line.ProductID)
		if line.ProductID == "" {
			return cart, fmt.Errorf("%w: product id is required", ErrInvalidCartEvent)
		}
		if line.Quantity < 1 {
			return cart, fmt.Errorf("%w: quantity must be at least 1", ErrInvalidCartEvent)
		}
		if line.UnitPrice < 0 {
			return cart, fmt.Errorf("%w: unit price must not be negative", ErrInvalidCartEvent)
		}
		next.Lines = addLine(next.Lines, line)
	case CartEventRemove:
		productID := strings.TrimSpace(event.ProductID)
		if productID == "" {
			return cart, fmt.Errorf("%w: product id is required", ErrInvalidCartEvent)
		}
		next.Lines = removeLine(next.Lines, productID)
	case CartEventSetQuantity:
		productID := strings.TrimSpace(event.ProductID)
		if productID == "" {
			return cart, fmt.Errorf("%w: product id is required", ErrInvalidCartEvent)
		}
		if event.Quantity < 0 {
			return cart, fmt.Errorf("%w: quantity must not be negative", ErrInvalidCartEvent)
		}
		if event.Quantity == 0 {
			next.Lines = removeLine(next.Lines, productID)
			break
		}
		idx := indexOfLine(next.Lines, productID)
		if idx < 0 {
			return cart, fmt.Errorf("%w: product %s is not in the cart", ErrInvalidCartEvent, productID)
		}
		next.Lines[idx].Quantity = event.Quantity
	default:
		return cart, fmt.Errorf("%w: unknown event type %q", ErrInvalidCartEvent, event.Type)
	}
	next.UpdatedAt = now
	return next, nil
}

// MergeCartLines folds incoming lines into base: equal product ids sum quantities, new products append.
func MergeCartLines(base []CartLine, incoming []CartLine) []CartLine {
	out := cloneLines(base)
	for _, line := range incoming {
		line.ProductID = strings.TrimSpace(line.ProductID)
		if line.ProductID == "" || line.Quantity < 1 {
			continue
		}
		out = addLine(out, line)
	}
	return out
}

// WishlistEventType tags the wishlist reducer events.
type WishlistEventType string

const (
	// WishlistEventAdd inserts an entry when absent.
	WishlistEventAdd WishlistEventType = "add"
	// WishlistEventRemove deletes an entry when present.
	WishlistEventRemove WishlistEventType = "remove"
	// WishlistEventToggle removes the entry when present and adds it otherwise.
	WishlistEventToggle WishlistEventType = "toggle"
)

// WishlistEvent is a tagged union applied by ApplyWishlistEvent.
type WishlistEvent struct {
	Type      WishlistEventType
	Entry     WishlistEntry
	ProductID string
}

// ApplyWishlistEvent returns a new wishlist with the event applied.
func ApplyWishlistEvent(list Wishlist, event WishlistEvent, now time.Time) (Wishlist, error) {
	next := cloneWishlist(list)
	productID := strings.TrimSpace(event.ProductID)
	if productID == "" {
		productID = strings.TrimSpace(event.Entry.ProductID)
	}
	if productID == "" {
		return list, fmt.Errorf("%w: product id is required", ErrInvalidCartEvent)
	}
	entry := event.Entry
	entry.ProductID = productID
	if entry.AddedAt.IsZero() {
		entry.AddedAt = now
	}

	idx := indexOfEntry(next.Entries, productID)
	switch event.Type {
	case WishlistEventAdd:
		if idx < 0 {
			next.Entries = append(next.Entries, entry)
		}
	case WishlistEventRemove:
		if idx >= 0 {
			next.Entries = append(next.Entries[:idx], next.Entries[idx+1:]...)
		}
	case WishlistEventToggle:
		if idx >= 0 {
			next.Entries = append(next.Entries[:idx], next.Entries[idx+1:]...)
		} else {
			next.Entries = append(next.Entries, entry)
		}
	default:
		return list, fmt.Errorf("%w: unknown event type %q", ErrInvalidCartEvent, event.Type)
	}
	next.UpdatedAt = now
	return next, nil
}

// MergeWishlistEntries is a set-union by product id; existing entries keep their snapshot.
func MergeWishlistEntries(base []WishlistEntry, incoming []WishlistEntry) []WishlistEntry {
	out := append([]WishlistEntry(nil), base...)
	for _, entry := range incoming {
		entry.ProductID = strings.TrimSpace(entry.ProductID)
		if entry.ProductID == "" || indexOfEntry(out, entry.ProductID) >= 0 {
			continue
		}
		out = append(out, entry)
	}
	return out
}

func addLine(lines []CartLine, line CartLine) []CartLine {
	if idx := indexOfLine(lines, line.ProductID); idx >= 0 {
		lines[idx].Quantity += line.Quantity
		return lines
	}
	return append(lines, cloneLine(line))
}

func removeLine(lines []CartLine, productID string) []CartLine {
	idx := indexOfLine(lines, productID)
	if idx < 0 {
		return lines
	}
	return append(lines[:idx], lines[idx+1:]...)
}

func indexOfLine(lines []CartLine, productID string) int {
	for i, line := range lines {
		if line.ProductID == productID {
			return i
		}
	}
	return -1
}

func indexOfEntry(entries []WishlistEntry, productID string) int {
	for i, entry := range entries {
		if entry.ProductID == productID {
			return i
		}
	}
	return -1
}

func cloneCart(cart Cart) Cart {
	cart.Lines = cloneLines(cart.Lines)
	return cart
}

func cloneWishlist(list Wishlist) Wishlist {
	list.Entries = append([]WishlistEntry(nil), list.Entries...)
	return list
}

// CloneLines deep-copies lines so snapshots do not share pointers.
func CloneLines(lines []CartLine) []CartLine {
	return cloneLines(lines)
}

func cloneLines(lines []CartLine) []CartLine {
	if len(lines) == 0 {
		return nil
	}
	out := make([]CartLine, len(lines))
	for i, line := range lines {
		out[i] = cloneLine(line)
	}
	return out
}

func cloneLine(line CartLine) CartLine {
	if line.OriginalUnitPrice != nil {
		value := *line.OriginalUnitPrice
		line.OriginalUnitPrice = &value
	}
	return line
}
