package services

import (
	"fmt"
	"sort"
	"strings"

	domain "github.com/lionbidi/storefront/internal/domain"
)

// BulkTier grants PerUnit paise off every unit once the cart holds at least MinQuantity units.
type BulkTier struct {
	MinQuantity int
	PerUnit     int64
}

// DefaultBulkTiers is the storefront quantity discount table.
var DefaultBulkTiers = []BulkTier{
	{MinQuantity: 30, PerUnit: 2000},
	{MinQuantity: 20, PerUnit: 1500},
	{MinQuantity: 10, PerUnit: 1000},
}

// PricingEngine computes cart totals. It holds no mutable state and is safe for concurrent use.
type PricingEngine struct {
	tiers []BulkTier
}

// NewPricingEngine builds an engine over the given tiers, or DefaultBulkTiers when none are supplied.
func NewPricingEngine(tiers ...BulkTier) (*PricingEngine, error) {
	if len(tiers) == 0 {
		tiers = DefaultBulkTiers
	}
	sorted := append([]BulkTier(nil), tiers...)
	for _, tier := range sorted {
		if tier.MinQuantity <= 0 || tier.PerUnit < 0 {
			return nil, fmt.Errorf("pricing engine: invalid tier %+v", tier)
		}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].MinQuantity > sorted[j].MinQuantity })
	return &PricingEngine{tiers: sorted}, nil
}

// Price returns subtotal, savings and total for lines. Savings combine per-line markdowns with
// the highest bulk tier reached by the total quantity.
func (e *PricingEngine) Price(lines []domain.CartLine) (domain.PricingResult, error) {
	if err := validateLines(lines); err != nil {
		return domain.PricingResult{}, err
	}

	var result domain.PricingResult
	for _, line := range lines {
		qty := int64(line.Quantity)
		result.Subtotal += line.UnitPrice * qty
		result.TotalQuantity += line.Quantity
		if line.OriginalUnitPrice != nil && *line.OriginalUnitPrice > line.UnitPrice {
			result.Savings += (*line.OriginalUnitPrice - line.UnitPrice) * qty
		}
	}

	result.BulkDiscount = e.bulkDiscount(result.TotalQuantity)
	result.Savings += result.BulkDiscount
	result.Total = max(0, result.Subtotal-result.Savings)
	return result, nil
}

func (e *PricingEngine) bulkDiscount(quantity int) int64 {
	for _, tier := range e.tiers {
		if quantity >= tier.MinQuantity {
			return tier.PerUnit * int64(quantity)
		}
	}
	return 0
}

func validateLines(lines []domain.CartLine) error {
	seen := make(map[string]struct{}, len(lines))
	for i, line := range lines {
		id := strings.TrimSpace(line.ProductID)
		switch {
		case id == "":
			return fmt.Errorf("%w: line %d product id is required", ErrPricingInvalidInput, i)
		case line.Quantity < 1:
			return fmt.Errorf("%w: line %s quantity must be at least 1", ErrPricingInvalidInput, id)
		case line.UnitPrice < 0:
			return fmt.Errorf("%w: line %s unit price must not be negative", ErrPricingInvalidInput, id)
		case line.OriginalUnitPrice != nil && *line.OriginalUnitPrice < 0:
			return fmt.Errorf("%w: line %s original price must not be negative", ErrPricingInvalidInput, id)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: duplicate product %s", ErrPricingInvalidInput, id)
		}
		seen[id] = struct{}{}
	}
	return nil
}
