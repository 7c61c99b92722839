package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

// GasCache implements domain.GasCache. Each chain's latest estimate is stored
// as JSON at "gas:{chain}". The gas refresh loop is the single writer.
type GasCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewGasCache creates a GasCache backed by the given Client.
func NewGasCache(c *Client, ttl time.Duration) *GasCache {
	return &GasCache{rdb: c.Underlying(), ttl: ttl}
}

func gasKey(chain domain.Chain) string {
	return "gas:" + string(chain)
}

// SetEstimate stores the latest gas estimate for a chain.
func (gc *GasCache) SetEstimate(ctx context.Context, g domain.GasEstimate) error {
	data, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("redis: marshal gas %s: %w", g.Chain, err)
	}
	if err := gc.rdb.Set(ctx, gasKey(g.Chain), data, gc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set gas %s: %w", g.Chain, err)
	}
	return nil
}

// GetEstimate retrieves the latest gas estimate for a chain. It returns
// domain.ErrNotFound when no estimate exists.
func (gc *GasCache) GetEstimate(ctx context.Context, chain domain.Chain) (domain.GasEstimate, error) {
	data, err := gc.rdb.Get(ctx, gasKey(chain)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.GasEstimate{}, domain.ErrNotFound
		}
		return domain.GasEstimate{}, fmt.Errorf("redis: get gas %s: %w", chain, err)
	}
	var g domain.GasEstimate
	if err := json.Unmarshal(data, &g); err != nil {
		return domain.GasEstimate{}, fmt.Errorf("redis: unmarshal gas %s: %w", chain, err)
	}
	return g, nil
}

// Compile-time interface check.
var _ domain.GasCache = (*GasCache)(nil)
