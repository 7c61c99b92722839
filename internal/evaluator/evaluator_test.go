package evaluator

import (
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

type fakeBreaker struct {
	halted bool
}

func (f *fakeBreaker) State() domain.CircuitBreakerState {
	return domain.CircuitBreakerState{Halted: f.halted}
}

var testNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func testConfig() Config {
	return Config{
		MinProfitUSD:     0.50,
		MinProfitFrac:    0.02,
		QuoteStaleAfter:  30 * time.Second,
		GasStaleAfter:    60 * time.Second,
		BridgeStaleAfter: 60 * time.Second,
		Layer1Bands:      BandThresholds{UltraLowMax: 10, LowMax: 25, MediumMax: 60, HighMax: 150},
		Layer2Bands:      BandThresholds{UltraLowMax: 0.05, LowMax: 0.25, MediumMax: 1.0, HighMax: 5.0},
		BandProfitFloorUSD: map[domain.GasBand]float64{
			domain.GasBandUltraLow: 0.10,
			domain.GasBandLow:      0.25,
			domain.GasBandMedium:   1.00,
			domain.GasBandHigh:     2.50,
		},
		SlippageBaseBps:    10,
		SlippageImpactCoef: 0.1,
		ObviousSpreadPct:   0.05,
		RiskDiscountFactor: 0,
		RiskRejectScore:    0.8,
	}
}

func newTestEvaluator(cfg Config, breaker BreakerReader, inc *IncidentRegister) *Evaluator {
	e := New(cfg, breaker, inc, slog.New(slog.NewTextHandler(io.Discard, nil)))
	e.now = func() time.Time { return testNow }
	return e
}

func ethGas(priceGwei float64) domain.GasEstimate {
	return domain.GasEstimate{
		Chain:        domain.ChainEthereum,
		PriceGwei:    priceGwei,
		SwapGasUnits: 100_000,
		NativeUSD:    20,
		ObservedAt:   testNow,
	}
}

func sameChainOpp() domain.Opportunity {
	return domain.Opportunity{
		ID:             "opp-1",
		Seq:            1,
		Asset:          "WETH/USDC",
		SourceVenue:    "uniswap",
		SourceChain:    domain.ChainEthereum,
		TargetVenue:    "sushiswap",
		TargetChain:    domain.ChainEthereum,
		TradeSizeUSD:   200,
		GrossSpreadPct: 0.025,
		GrossSpreadUSD: 5.00,
		SourceQuote:    domain.Quote{Venue: "uniswap", Chain: domain.ChainEthereum, Asset: "WETH/USDC", LiquidityDepth: 2000, ObservedAt: testNow},
		TargetQuote:    domain.Quote{Venue: "sushiswap", Chain: domain.ChainEthereum, Asset: "WETH/USDC", LiquidityDepth: 2000, ObservedAt: testNow},
		SourceGas:      ethGas(25),
		TargetGas:      ethGas(25),
		DetectedAt:     testNow,
		Deadline:       testNow.Add(5 * time.Second),
	}
}

func crossChainOpp() domain.Opportunity {
	opp := sameChainOpp()
	opp.ID = "opp-2"
	opp.TargetVenue = "camelot"
	opp.TargetChain = domain.ChainArbitrum
	opp.TargetQuote.Venue = "camelot"
	opp.TargetQuote.Chain = domain.ChainArbitrum
	opp.GrossSpreadUSD = 3.00
	opp.GrossSpreadPct = 0.015
	opp.TargetGas = domain.GasEstimate{
		Chain:        domain.ChainArbitrum,
		PriceGwei:    0.15,
		SwapGasUnits: 100_000,
		NativeUSD:    10_000,
		ObservedAt:   testNow,
	}
	opp.Bridge = &domain.BridgeQuote{
		SourceChain:    domain.ChainEthereum,
		TargetChain:    domain.ChainArbitrum,
		Asset:          "WETH/USDC",
		AmountUSD:      200,
		FeeUSD:         2.50,
		SettlementTime: 3 * time.Minute,
		Available:      true,
		ObservedAt:     testNow,
	}
	return opp
}

func approxEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestEvaluateSameChainApproval(t *testing.T) {
	e := newTestEvaluator(testConfig(), &fakeBreaker{}, NewIncidentRegister(time.Hour))
	a := e.Evaluate(sameChainOpp())

	if !a.Approved() {
		t.Fatalf("expected approval, got reject: %s", a.Reason)
	}
	if !approxEqual(a.GasCostUSD, 0.10) {
		t.Errorf("gas cost = %v, want 0.10", a.GasCostUSD)
	}
	if !approxEqual(a.SlippageUSD, 0.40) {
		t.Errorf("slippage = %v, want 0.40", a.SlippageUSD)
	}
	if !approxEqual(a.NetProfitUSD, 4.50) {
		t.Errorf("net profit = %v, want 4.50", a.NetProfitUSD)
	}
	if a.SourceGasBand != domain.GasBandLow {
		t.Errorf("source gas band = %s, want low", a.SourceGasBand)
	}
}

func TestEvaluateCrossChainBelowThreshold(t *testing.T) {
	cfg := testConfig()
	cfg.SlippageBaseBps = 0
	cfg.SlippageImpactCoef = 0
	e := newTestEvaluator(cfg, &fakeBreaker{}, NewIncidentRegister(time.Hour))

	a := e.Evaluate(crossChainOpp())

	if a.Approved() {
		t.Fatal("expected rejection")
	}
	if a.Reason != domain.ReasonBelowProfitThreshold {
		t.Fatalf("reason = %s, want %s", a.Reason, domain.ReasonBelowProfitThreshold)
	}
	if !approxEqual(a.GasCostUSD, 0.20) {
		t.Errorf("gas cost = %v, want 0.20", a.GasCostUSD)
	}
	if !approxEqual(a.BridgeFeeUSD, 2.50) {
		t.Errorf("bridge fee = %v, want 2.50", a.BridgeFeeUSD)
	}
	if !approxEqual(a.NetProfitUSD, 0.30) {
		t.Errorf("net profit = %v, want 0.30", a.NetProfitUSD)
	}
}

func TestEvaluateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*domain.Opportunity)
		halted bool
		want   domain.RejectReason
	}{
		{
			name:   "breaker halted rejects everything",
			mutate: func(o *domain.Opportunity) {},
			halted: true,
			want:   domain.ReasonCircuitBreakerHalted,
		},
		{
			name: "stale source quote",
			mutate: func(o *domain.Opportunity) {
				o.SourceQuote.ObservedAt = testNow.Add(-time.Minute)
			},
			want: domain.ReasonStaleData,
		},
		{
			name: "stale gas estimate",
			mutate: func(o *domain.Opportunity) {
				o.TargetGas.ObservedAt = testNow.Add(-2 * time.Minute)
			},
			want: domain.ReasonStaleData,
		},
		{
			name: "trade size exceeds shallower depth",
			mutate: func(o *domain.Opportunity) {
				o.TargetQuote.LiquidityDepth = 150
			},
			want: domain.ReasonInsufficientLiquidity,
		},
		{
			name: "extreme gas rejects regardless of spread",
			mutate: func(o *domain.Opportunity) {
				o.GrossSpreadUSD = 500
				o.SourceGas = ethGas(200)
			},
			want: domain.ReasonExtremeGas,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEvaluator(testConfig(), &fakeBreaker{halted: tt.halted}, NewIncidentRegister(time.Hour))
			opp := sameChainOpp()
			tt.mutate(&opp)

			a := e.Evaluate(opp)
			if a.Approved() {
				t.Fatal("expected rejection")
			}
			if a.Reason != tt.want {
				t.Fatalf("reason = %s, want %s", a.Reason, tt.want)
			}
		})
	}
}

func TestEvaluateBridgeUnavailable(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*domain.Opportunity)
	}{
		{
			name:   "missing bridge quote",
			mutate: func(o *domain.Opportunity) { o.Bridge = nil },
		},
		{
			name:   "bridge reports unavailable",
			mutate: func(o *domain.Opportunity) { o.Bridge.Available = false },
		},
		{
			name: "stale bridge quote",
			mutate: func(o *domain.Opportunity) {
				o.Bridge.ObservedAt = testNow.Add(-2 * time.Minute)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEvaluator(testConfig(), &fakeBreaker{}, NewIncidentRegister(time.Hour))
			opp := crossChainOpp()
			tt.mutate(&opp)

			a := e.Evaluate(opp)
			if a.Reason != domain.ReasonBridgeUnavailable {
				t.Fatalf("reason = %s, want %s", a.Reason, domain.ReasonBridgeUnavailable)
			}
		})
	}
}

func TestEvaluateExtractionRiskHardReject(t *testing.T) {
	inc := NewIncidentRegister(time.Hour)
	route := sameChainOpp().RouteKey()
	for i := 0; i < 3; i++ {
		inc.Record(route, testNow.Add(-time.Duration(i)*time.Minute))
	}
	e := newTestEvaluator(testConfig(), &fakeBreaker{}, inc)

	opp := sameChainOpp()
	opp.GrossSpreadPct = 0.20
	opp.TradeSizeUSD = 2000

	a := e.Evaluate(opp)
	if a.Reason != domain.ReasonRiskThresholdExceeded {
		t.Fatalf("reason = %s, want %s", a.Reason, domain.ReasonRiskThresholdExceeded)
	}
	if a.ExtractionRisk < 0.8 {
		t.Errorf("extraction risk = %v, want >= 0.8", a.ExtractionRisk)
	}
}

func TestEvaluateBandFloorOverridesMinimum(t *testing.T) {
	cfg := testConfig()
	e := newTestEvaluator(cfg, &fakeBreaker{}, NewIncidentRegister(time.Hour))

	// Medium band carries a $1.00 floor; net profit of ~$0.80 clears the
	// $0.50 global minimum but not the band floor.
	opp := sameChainOpp()
	opp.SourceGas = ethGas(30)
	opp.TargetGas = ethGas(30)
	opp.GrossSpreadUSD = 1.32
	opp.GrossSpreadPct = 0.0066

	a := e.Evaluate(opp)
	if a.SourceGasBand != domain.GasBandMedium {
		t.Fatalf("source gas band = %s, want medium", a.SourceGasBand)
	}
	if a.Reason != domain.ReasonBelowProfitThreshold {
		t.Fatalf("reason = %s, want %s", a.Reason, domain.ReasonBelowProfitThreshold)
	}
}

func TestEvaluateIsDeterministic(t *testing.T) {
	e := newTestEvaluator(testConfig(), &fakeBreaker{}, NewIncidentRegister(time.Hour))
	opp := sameChainOpp()

	first := e.Evaluate(opp)
	second := e.Evaluate(opp)
	if first != second {
		t.Fatalf("assessments differ:\nfirst:  %+v\nsecond: %+v", first, second)
	}
}

func TestIncidentRegisterWindow(t *testing.T) {
	inc := NewIncidentRegister(time.Hour)
	inc.Record("route", testNow.Add(-2*time.Hour))
	inc.Record("route", testNow.Add(-30*time.Minute))
	inc.Record("route", testNow.Add(-5*time.Minute))

	if got := inc.Count("route", testNow); got != 2 {
		t.Fatalf("count = %d, want 2", got)
	}
}

func TestIncidentRegisterObserve(t *testing.T) {
	inc := NewIncidentRegister(time.Hour)
	inc.Observe(domain.PerformanceRecord{
		RouteKey:      "route",
		FailureReason: domain.ReasonSlippageExceeded,
		RecordedAt:    testNow,
	})
	inc.Observe(domain.PerformanceRecord{
		RouteKey:      "route",
		FailureReason: domain.ReasonBelowProfitThreshold,
		RecordedAt:    testNow,
	})

	if got := inc.Count("route", testNow); got != 1 {
		t.Fatalf("count = %d, want 1", got)
	}
}
