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

// BridgeQuoteCache implements domain.BridgeQuoteCache. Each route's latest
// quote is stored as JSON at "bridge:{source}:{target}:{asset}". The bridge
// refresh loop is the single writer.
type BridgeQuoteCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewBridgeQuoteCache creates a BridgeQuoteCache backed by the given Client.
func NewBridgeQuoteCache(c *Client, ttl time.Duration) *BridgeQuoteCache {
	return &BridgeQuoteCache{rdb: c.Underlying(), ttl: ttl}
}

func bridgeKey(asset string, source, target domain.Chain) string {
	return "bridge:" + string(source) + ":" + string(target) + ":" + asset
}

// SetQuote stores the latest bridge quote for a route.
func (bc *BridgeQuoteCache) SetQuote(ctx context.Context, q domain.BridgeQuote) error {
	data, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("redis: marshal bridge quote %s->%s: %w", q.SourceChain, q.TargetChain, err)
	}
	key := bridgeKey(q.Asset, q.SourceChain, q.TargetChain)
	if err := bc.rdb.Set(ctx, key, data, bc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set bridge quote %s->%s: %w", q.SourceChain, q.TargetChain, err)
	}
	return nil
}

// GetQuote retrieves the latest bridge quote for a route. It returns
// domain.ErrNotFound when no quote exists.
func (bc *BridgeQuoteCache) GetQuote(ctx context.Context, asset string, source, target domain.Chain) (domain.BridgeQuote, error) {
	data, err := bc.rdb.Get(ctx, bridgeKey(asset, source, target)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.BridgeQuote{}, domain.ErrNotFound
		}
		return domain.BridgeQuote{}, fmt.Errorf("redis: get bridge quote %s->%s: %w", source, target, err)
	}
	var q domain.BridgeQuote
	if err := json.Unmarshal(data, &q); err != nil {
		return domain.BridgeQuote{}, fmt.Errorf("redis: unmarshal bridge quote %s->%s: %w", source, target, err)
	}
	return q, nil
}

// Compile-time interface check.
var _ domain.BridgeQuoteCache = (*BridgeQuoteCache)(nil)
