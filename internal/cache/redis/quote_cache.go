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

// QuoteCache implements domain.QuoteCache using Redis string keys with a
// short TTL. Each (venue, asset) pair's latest quote is stored as JSON at
// "quote:{venue}:{asset}"; a newer quote simply overwrites the key, so stale
// observations are superseded rather than mutated.
type QuoteCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewQuoteCache creates a QuoteCache backed by the given Client. Quotes
// expire after ttl; a zero ttl disables expiry.
func NewQuoteCache(c *Client, ttl time.Duration) *QuoteCache {
	return &QuoteCache{rdb: c.Underlying(), ttl: ttl}
}

func quoteKey(venue domain.Venue, asset string) string {
	return "quote:" + string(venue) + ":" + asset
}

// SetQuote stores the latest quote for a (venue, asset) pair.
func (qc *QuoteCache) SetQuote(ctx context.Context, q domain.Quote) error {
	data, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("redis: marshal quote %s/%s: %w", q.Venue, q.Asset, err)
	}
	if err := qc.rdb.Set(ctx, quoteKey(q.Venue, q.Asset), data, qc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set quote %s/%s: %w", q.Venue, q.Asset, err)
	}
	return nil
}

// GetQuote retrieves the latest quote for a (venue, asset) pair. It returns
// domain.ErrNotFound when no quote exists (or the TTL has expired).
func (qc *QuoteCache) GetQuote(ctx context.Context, venue domain.Venue, asset string) (domain.Quote, error) {
	data, err := qc.rdb.Get(ctx, quoteKey(venue, asset)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Quote{}, domain.ErrNotFound
		}
		return domain.Quote{}, fmt.Errorf("redis: get quote %s/%s: %w", venue, asset, err)
	}
	var q domain.Quote
	if err := json.Unmarshal(data, &q); err != nil {
		return domain.Quote{}, fmt.Errorf("redis: unmarshal quote %s/%s: %w", venue, asset, err)
	}
	return q, nil
}

// GetQuotes retrieves the latest quotes for an asset across venues using a
// pipeline. Venues without a usable observation are silently omitted.
func (qc *QuoteCache) GetQuotes(ctx context.Context, asset string, venues []domain.Venue) (map[domain.Venue]domain.Quote, error) {
	if len(venues) == 0 {
		return map[domain.Venue]domain.Quote{}, nil
	}

	pipe := qc.rdb.Pipeline()
	cmds := make(map[domain.Venue]*redis.StringCmd, len(venues))
	for _, v := range venues {
		cmds[v] = pipe.Get(ctx, quoteKey(v, asset))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get quotes pipeline: %w", err)
	}

	result := make(map[domain.Venue]domain.Quote, len(venues))
	for v, cmd := range cmds {
		data, err := cmd.Bytes()
		if err != nil {
			continue
		}
		var q domain.Quote
		if err := json.Unmarshal(data, &q); err != nil {
			continue
		}
		result[v] = q
	}
	return result, nil
}

// Compile-time interface check.
var _ domain.QuoteCache = (*QuoteCache)(nil)
