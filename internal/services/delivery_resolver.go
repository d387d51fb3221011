package services

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	domain "github.com/lionbidi/storefront/internal/domain"
)

const (
	fallbackDeliveryDescription = "Standard delivery"
	defaultRegionCacheTTL       = 24 * time.Hour
)

// PostalCodeLookup resolves a postal code to a region.
type PostalCodeLookup interface {
	Lookup(ctx context.Context, postalCode string) (domain.Region, error)
}

// ShippingRate is the charge and free-delivery threshold for a region, in paise.
type ShippingRate struct {
	Charge        int64
	FreeThreshold int64
}

// ShippingPolicy maps resolved regions to shipping rates.
type ShippingPolicy interface {
	RateFor(region domain.Region) ShippingRate
	Default() ShippingRate
}

// RegionCache stores postal code resolutions. Implementations may drop entries at any time.
type RegionCache interface {
	GetRegion(ctx context.Context, postalCode string) (domain.Region, bool, error)
	PutRegion(ctx context.Context, postalCode string, region domain.Region, ttl time.Duration) error
}

// DeliveryChargeResolverDeps bundles collaborators for the resolver.
type DeliveryChargeResolverDeps struct {
	Lookup   PostalCodeLookup
	Policy   ShippingPolicy
	Cache    RegionCache
	CacheTTL time.Duration
	Logger   func(ctx context.Context, event string, fields map[string]any)
	Observe  func(outcome string)
}

// DeliveryChargeResolver quotes delivery for a postal code and order amount.
type DeliveryChargeResolver struct {
	lookup  PostalCodeLookup
	policy  ShippingPolicy
	cache   RegionCache
	ttl     time.Duration
	logger  func(context.Context, string, map[string]any)
	observe func(string)
}

// NewDeliveryChargeResolver wires the resolver. A nil cache uses an in-process map.
func NewDeliveryChargeResolver(deps DeliveryChargeResolverDeps) (*DeliveryChargeResolver, error) {
	if deps.Policy == nil {
		return nil, fmt.Errorf("delivery resolver: shipping policy is required")
	}
	ttl := deps.CacheTTL
	if ttl <= 0 {
		ttl = defaultRegionCacheTTL
	}
	cache := deps.Cache
	if cache == nil {
		cache = NewMemoryRegionCache(time.Now)
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	observe := deps.Observe
	if observe == nil {
		observe = func(string) {}
	}
	return &DeliveryChargeResolver{
		lookup:  deps.Lookup,
		policy:  deps.Policy,
		cache:   cache,
		ttl:     ttl,
		logger:  logger,
		observe: observe,
	}, nil
}

// Resolve returns the delivery quote. Lookup failures fall back to the policy default rather than erroring.
func (r *DeliveryChargeResolver) Resolve(ctx context.Context, postalCode string, orderAmount int64) (domain.DeliveryInfo, error) {
	code := strings.TrimSpace(postalCode)
	if !domain.ValidPostalCode(code) {
		return domain.DeliveryInfo{}, fmt.Errorf("%w: postal code must be 6 digits", ErrDeliveryInvalidInput)
	}
	if orderAmount < 0 {
		return domain.DeliveryInfo{}, fmt.Errorf("%w: order amount must not be negative", ErrDeliveryInvalidInput)
	}

	region, ok := r.region(ctx, code)
	if !ok {
		r.observe("fallback")
		return quote(r.policy.Default(), orderAmount, "", fallbackDeliveryDescription), nil
	}
	r.observe("resolved")
	label := region.Label()
	description := "Delivery to " + label
	return quote(r.policy.RateFor(region), orderAmount, label, description), nil
}

func (r *DeliveryChargeResolver) region(ctx context.Context, code string) (domain.Region, bool) {
	if cached, ok, err := r.cache.GetRegion(ctx, code); err == nil && ok {
		return cached, true
	} else if err != nil {
		r.logger(ctx, "delivery.cache.read.failed", map[string]any{"postalCode": code, "error": err.Error()})
	}
	if r.lookup == nil {
		return domain.Region{}, false
	}
	region, err := r.lookup.Lookup(ctx, code)
	if err != nil {
		r.logger(ctx, "delivery.lookup.failed", map[string]any{"postalCode": code, "error": err.Error()})
		return domain.Region{}, false
	}
	if region.State == "" && region.City == "" {
		return domain.Region{}, false
	}
	region.PostalCode = code
	if err := r.cache.PutRegion(ctx, code, region, r.ttl); err != nil {
		r.logger(ctx, "delivery.cache.write.failed", map[string]any{"postalCode": code, "error": err.Error()})
	}
	return region, true
}

func quote(rate ShippingRate, orderAmount int64, region, description string) domain.DeliveryInfo {
	info := domain.DeliveryInfo{
		Charges:               rate.Charge,
		BaseCharges:           rate.Charge,
		FreeDeliveryThreshold: rate.FreeThreshold,
		Description:           description,
		ResolvedRegion:        region,
	}
	if rate.FreeThreshold > 0 && orderAmount >= rate.FreeThreshold {
		info.IsFreeDelivery = true
		info.Charges = 0
		if region != "" {
			info.Description = "Free delivery to " + region
		}
	}
	return info
}

// StaticShippingPolicy resolves rates from fixed tables. City rules take precedence over state rules.
type StaticShippingPolicy struct {
	defaults        ShippingRate
	stateCharges    map[string]int64
	cityCharges     map[string]int64
	stateThresholds map[string]int64
}

// NewStaticShippingPolicy builds a policy from lowercase-keyed rule strings in paise.
func NewStaticShippingPolicy(defaults ShippingRate, stateCharges, cityCharges, stateThresholds map[string]string) (*StaticShippingPolicy, error) {
	if defaults.Charge < 0 || defaults.FreeThreshold < 0 {
		return nil, fmt.Errorf("shipping policy: default rate must not be negative")
	}
	policy := &StaticShippingPolicy{defaults: defaults}
	var err error
	if policy.stateCharges, err = parseAmounts("state charge", stateCharges); err != nil {
		return nil, err
	}
	if policy.cityCharges, err = parseAmounts("city charge", cityCharges); err != nil {
		return nil, err
	}
	if policy.stateThresholds, err = parseAmounts("state threshold", stateThresholds); err != nil {
		return nil, err
	}
	return policy, nil
}

// Default returns the rate used when a region cannot be resolved.
func (p *StaticShippingPolicy) Default() ShippingRate {
	return p.defaults
}

// RateFor returns the rate for region.
func (p *StaticShippingPolicy) RateFor(region domain.Region) ShippingRate {
	rate := p.defaults
	state := strings.ToLower(strings.TrimSpace(region.State))
	city := strings.ToLower(strings.TrimSpace(region.City))
	if charge, ok := p.stateCharges[state]; ok {
		rate.Charge = charge
	}
	if charge, ok := p.cityCharges[city]; ok {
		rate.Charge = charge
	}
	if threshold, ok := p.stateThresholds[state]; ok {
		rate.FreeThreshold = threshold
	}
	return rate
}

func parseAmounts(label string, raw map[string]string) (map[string]int64, error) {
	out := make(map[string]int64, len(raw))
	for key, value := range raw {
		amount, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		if err != nil || amount < 0 {
			return nil, fmt.Errorf("shipping policy: invalid %s %q for %s", label, value, key)
		}
		out[strings.ToLower(strings.TrimSpace(key))] = amount
	}
	return out, nil
}

// MemoryRegionCache is an in-process RegionCache.
type MemoryRegionCache struct {
	now     func() time.Time
	mu      sync.RWMutex
	entries map[string]regionCacheEntry
}

type regionCacheEntry struct {
	region  domain.Region
	expires time.Time
}

// NewMemoryRegionCache constructs an empty cache.
func NewMemoryRegionCache(now func() time.Time) *MemoryRegionCache {
	if now == nil {
		now = time.Now
	}
	return &MemoryRegionCache{now: now, entries: make(map[string]regionCacheEntry)}
}

// GetRegion returns a cached, unexpired region.
func (c *MemoryRegionCache) GetRegion(_ context.Context, postalCode string) (domain.Region, bool, error) {
	c.mu.RLock()
	entry, ok := c.entries[postalCode]
	c.mu.RUnlock()
	if !ok {
		return domain.Region{}, false, nil
	}
	if c.now().After(entry.expires) {
		c.mu.Lock()
		delete(c.entries, postalCode)
		c.mu.Unlock()
		return domain.Region{}, false, nil
	}
	return entry.region, true, nil
}

// PutRegion stores region for ttl.
func (c *MemoryRegionCache) PutRegion(_ context.Context, postalCode string, region domain.Region, ttl time.Duration) error {
	c.mu.Lock()
	c.entries[postalCode] = regionCacheEntry{region: region, expires: c.now().Add(ttl)}
	c.mu.Unlock()
	return nil
}
