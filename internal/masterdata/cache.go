package masterdata

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/quartermast/quartermast/internal/ledger"
	"github.com/quartermast/quartermast/internal/shared"
)

// noThresholdMarker is cached when a product has no minimum, so repeated
// checks do not hit the database either.
const noThresholdMarker = "none"

// ThresholdCache is the ledger's ThresholdSource: a redis read-through cache
// over the product minimums, explicitly invalidated on product updates.
type ThresholdCache struct {
	client *redis.Client
	repo   RepositoryPort
	ttl    time.Duration
}

// NewThresholdCache constructs the cache. A nil client falls through to the
// repository on every call.
func NewThresholdCache(client *redis.Client, repo RepositoryPort, ttl time.Duration) *ThresholdCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &ThresholdCache{client: client, repo: repo, ttl: ttl}
}

// MinStock resolves a product's minimum, serving from redis when possible.
func (c *ThresholdCache) MinStock(ctx context.Context, productID int64) (decimal.Decimal, error) {
	if c.client == nil {
		return c.repo.MinStock(ctx, productID)
	}

	key := shared.MinStockCacheKey(productID)
	cached, err := c.client.Get(ctx, key).Result()
	if err == nil {
		if cached == noThresholdMarker {
			return decimal.Zero, ledger.ErrNoThreshold
		}
		if minimum, parseErr := decimal.NewFromString(cached); parseErr == nil {
			return minimum, nil
		}
		// Unparseable entry: drop it and fall through.
		_ = c.client.Del(ctx, key).Err()
	} else if !errors.Is(err, redis.Nil) {
		// Redis being down must not break threshold checks.
		return c.repo.MinStock(ctx, productID)
	}

	minimum, err := c.repo.MinStock(ctx, productID)
	if err != nil {
		if errors.Is(err, ledger.ErrNoThreshold) {
			_ = c.client.Set(ctx, key, noThresholdMarker, c.ttl).Err()
		}
		return decimal.Zero, err
	}
	_ = c.client.Set(ctx, key, minimum.String(), c.ttl).Err()
	return minimum, nil
}

// Invalidate drops the cached minimum for a product.
func (c *ThresholdCache) Invalidate(ctx context.Context, productID int64) error {
	if c.client == nil {
		return nil
	}
	return c.client.Del(ctx, shared.MinStockCacheKey(productID)).Err()
}
