package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/utafrali/discount-engine/internal/domain"
	"github.com/utafrali/discount-engine/internal/repository"
)

// CatalogKey holds the serialized active discount catalog.
const CatalogKey = "discounts:active"

// CatalogCache implements repository.CatalogCache using Redis. The whole
// catalog is stored as one JSON value so readers never observe a partial
// rewrite.
type CatalogCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCatalogCache creates a Redis-backed catalog cache.
func NewCatalogCache(client *redis.Client, ttl time.Duration) *CatalogCache {
	return &CatalogCache{
		client: client,
		ttl:    ttl,
	}
}

var _ repository.CatalogCache = (*CatalogCache)(nil)

// Get returns the cached catalog. A missing key is a miss, not an error.
func (c *CatalogCache) Get(ctx context.Context) ([]domain.Discount, bool, error) {
	data, err := c.client.Get(ctx, CatalogKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("redis get catalog: %w", err)
	}

	var discounts []domain.Discount
	if err := json.Unmarshal(data, &discounts); err != nil {
		return nil, false, fmt.Errorf("unmarshal catalog: %w", err)
	}
	return discounts, true, nil
}

// Set stores the catalog with the configured TTL.
func (c *CatalogCache) Set(ctx context.Context, discounts []domain.Discount) error {
	if discounts == nil {
		discounts = []domain.Discount{}
	}
	data, err := json.Marshal(discounts)
	if err != nil {
		return fmt.Errorf("marshal catalog: %w", err)
	}

	if err := c.client.Set(ctx, CatalogKey, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set catalog: %w", err)
	}
	return nil
}

// Invalidate drops the cached catalog.
func (c *CatalogCache) Invalidate(ctx context.Context) error {
	if err := c.client.Del(ctx, CatalogKey).Err(); err != nil {
		return fmt.Errorf("redis del catalog: %w", err)
	}
	return nil
}
