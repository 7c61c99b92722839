package feed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

func testRateLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Inf, 1)
}

func TestGasFeedDecodesEstimate(t *testing.T) {
	var gotChain string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotChain = r.URL.Query().Get("chain")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"price_gwei": 32.5, "swap_gas_units": 150000, "native_usd": 2400.0}`))
	}))
	defer srv.Close()

	f := NewGasHTTPFeed(srv.URL, 2*time.Second, testRateLimiter())
	est, err := f.GetGasEstimate(context.Background(), domain.Chain("ethereum"))
	if err != nil {
		t.Fatalf("GetGasEstimate: %v", err)
	}

	if gotChain != "ethereum" {
		t.Errorf("requested chain %q, want ethereum", gotChain)
	}
	if est.PriceGwei != 32.5 {
		t.Errorf("PriceGwei = %v, want 32.5", est.PriceGwei)
	}
	if est.SwapGasUnits != 150000 {
		t.Errorf("SwapGasUnits = %d, want 150000", est.SwapGasUnits)
	}
	if est.NativeUSD != 2400.0 {
		t.Errorf("NativeUSD = %v, want 2400", est.NativeUSD)
	}
	if est.ObservedAt.IsZero() {
		t.Error("ObservedAt not stamped")
	}

	// 32.5 gwei * 150k units * $2400 native.
	want := 32.5 * 1e-9 * 150000 * 2400.0
	if got := est.SwapCostUSD(); got != want {
		t.Errorf("SwapCostUSD = %v, want %v", got, want)
	}
}

func TestGasFeedErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		wantErr error
	}{
		{
			name: "non-200 status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
			},
			wantErr: domain.ErrUnavailable,
		},
		{
			name: "zero price",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"price_gwei": 0, "swap_gas_units": 150000, "native_usd": 2400.0}`))
			},
			wantErr: domain.ErrUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			f := NewGasHTTPFeed(srv.URL, 2*time.Second, testRateLimiter())
			_, err := f.GetGasEstimate(context.Background(), domain.Chain("ethereum"))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
