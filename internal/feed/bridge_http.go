package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

// BridgeHTTPFeed fetches bridge quotes from an aggregator HTTP endpoint,
// throttled by a shared rate limiter.
type BridgeHTTPFeed struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

var _ domain.BridgeFeed = (*BridgeHTTPFeed)(nil)

func NewBridgeHTTPFeed(baseURL string, timeout time.Duration, limiter *rate.Limiter) *BridgeHTTPFeed {
	return &BridgeHTTPFeed{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		limiter: limiter,
	}
}

type bridgeResponse struct {
	FeeUSD            float64 `json:"fee_usd"`
	SettlementSeconds int     `json:"settlement_seconds"`
	Available         bool    `json:"available"`
}

func (f *BridgeHTTPFeed) GetQuote(ctx context.Context, asset string, source, target domain.Chain, amountUSD float64) (domain.BridgeQuote, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return domain.BridgeQuote{}, fmt.Errorf("feed: bridge rate limit: %w", err)
	}

	q := url.Values{}
	q.Set("asset", asset)
	q.Set("source", string(source))
	q.Set("target", string(target))
	q.Set("amount_usd", fmt.Sprintf("%.2f", amountUSD))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return domain.BridgeQuote{}, fmt.Errorf("feed: bridge request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return domain.BridgeQuote{}, fmt.Errorf("feed: bridge fetch %s->%s: %w", source, target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusServiceUnavailable {
		return domain.BridgeQuote{}, fmt.Errorf("feed: bridge %s->%s: %w", source, target, domain.ErrBridgeUnavailable)
	}
	if resp.StatusCode != http.StatusOK {
		return domain.BridgeQuote{}, fmt.Errorf("feed: bridge fetch %s->%s: status %d: %w", source, target, resp.StatusCode, domain.ErrUnavailable)
	}

	var body bridgeResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return domain.BridgeQuote{}, fmt.Errorf("feed: bridge decode %s->%s: %w", source, target, err)
	}

	return domain.BridgeQuote{
		SourceChain:    source,
		TargetChain:    target,
		Asset:          asset,
		AmountUSD:      amountUSD,
		FeeUSD:         body.FeeUSD,
		SettlementTime: time.Duration(body.SettlementSeconds) * time.Second,
		Available:      body.Available,
		ObservedAt:     time.Now(),
	}, nil
}
