package evaluator

import "github.com/alanyoungcy/dexarb/internal/domain"

// BandThresholds holds the gwei cutoffs separating gas bands for one chain
// class. Prices above HighMax fall into the extreme band.
type BandThresholds struct {
	UltraLowMax float64
	LowMax      float64
	MediumMax   float64
	HighMax     float64
}

// Categorize maps a gas price in gwei to its band.
func (t BandThresholds) Categorize(priceGwei float64) domain.GasBand {
	switch {
	case priceGwei <= t.UltraLowMax:
		return domain.GasBandUltraLow
	case priceGwei <= t.LowMax:
		return domain.GasBandLow
	case priceGwei <= t.MediumMax:
		return domain.GasBandMedium
	case priceGwei <= t.HighMax:
		return domain.GasBandHigh
	default:
		return domain.GasBandExtreme
	}
}

// bandFor categorizes a gas estimate using the thresholds of its chain's
// class. Layer-2 chains run a materially lower scale than layer-1, so each
// class carries its own thresholds.
func (e *Evaluator) bandFor(g domain.GasEstimate) domain.GasBand {
	if g.Chain.Class() == domain.ChainClassLayer2 {
		return e.cfg.Layer2Bands.Categorize(g.PriceGwei)
	}
	return e.cfg.Layer1Bands.Categorize(g.PriceGwei)
}

// bandFloorUSD returns the additional minimum-profit floor the band imposes.
// Floors are strictly non-decreasing across bands.
func (e *Evaluator) bandFloorUSD(band domain.GasBand) float64 {
	return e.cfg.BandProfitFloorUSD[band]
}
