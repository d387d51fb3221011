package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	domain "github.com/lionbidi/storefront/internal/domain"
)

const regionKeyPrefix = "storefront:region:"

// RegionCache keeps postal code resolutions in Redis so every API instance shares lookups.
type RegionCache struct {
	client redis.Cmdable
}

// NewRegionCache wraps client.
func NewRegionCache(client redis.Cmdable) *RegionCache {
	return &RegionCache{client: client}
}

type regionEntry struct {
	City  string `json:"city"`
	State string `json:"state"`
}

// GetRegion returns the cached region, or false on a miss.
func (c *RegionCache) GetRegion(ctx context.Context, postalCode string) (domain.Region, bool, error) {
	data, err := c.client.Get(ctx, regionKeyPrefix+postalCode).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Region{}, false, nil
	}
	if err != nil {
		return domain.Region{}, false, fmt.Errorf("region cache get: %w", err)
	}
	var entry regionEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		// Corrupt entries are treated as misses and overwritten by the next lookup.
		return domain.Region{}, false, nil
	}
	return domain.Region{PostalCode: postalCode, City: entry.City, State: entry.State}, true, nil
}

// PutRegion stores region for ttl.
func (c *RegionCache) PutRegion(ctx context.Context, postalCode string, region domain.Region, ttl time.Duration) error {
	data, err := json.Marshal(regionEntry{City: region.City, State: region.State})
	if err != nil {
		return fmt.Errorf("region cache encode: %w", err)
	}
	if err := c.client.Set(ctx, regionKeyPrefix+postalCode, data, ttl).Err(); err != nil {
		return fmt.Errorf("region cache set: %w", err)
	}
	return nil
}
