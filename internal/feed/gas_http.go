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

// GasHTTPFeed fetches gas estimates from an HTTP endpoint, one request per
// chain, throttled by a shared rate limiter.
type GasHTTPFeed struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

var _ domain.GasFeed = (*GasHTTPFeed)(nil)

func NewGasHTTPFeed(baseURL string, timeout time.Duration, limiter *rate.Limiter) *GasHTTPFeed {
	return &GasHTTPFeed{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		limiter: limiter,
	}
}

type gasResponse struct {
	PriceGwei    float64 `json:"price_gwei"`
	SwapGasUnits uint64  `json:"swap_gas_units"`
	NativeUSD    float64 `json:"native_usd"`
}

func (f *GasHTTPFeed) GetGasEstimate(ctx context.Context, chain domain.Chain) (domain.GasEstimate, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return domain.GasEstimate{}, fmt.Errorf("feed: gas rate limit: %w", err)
	}

	u := fmt.Sprintf("%s?chain=%s", f.baseURL, url.QueryEscape(string(chain)))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return domain.GasEstimate{}, fmt.Errorf("feed: gas request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return domain.GasEstimate{}, fmt.Errorf("feed: gas fetch %s: %w", chain, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.GasEstimate{}, fmt.Errorf("feed: gas fetch %s: status %d: %w", chain, resp.StatusCode, domain.ErrUnavailable)
	}

	var body gasResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return domain.GasEstimate{}, fmt.Errorf("feed: gas decode %s: %w", chain, err)
	}
	if body.PriceGwei <= 0 {
		return domain.GasEstimate{}, fmt.Errorf("feed: gas fetch %s: empty estimate: %w", chain, domain.ErrUnavailable)
	}

	return domain.GasEstimate{
		Chain:        chain,
		PriceGwei:    body.PriceGwei,
		SwapGasUnits: body.SwapGasUnits,
		NativeUSD:    body.NativeUSD,
		ObservedAt:   time.Now(),
	}, nil
}
