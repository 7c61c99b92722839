package evaluator

import (
	"math"
	"sync"
	"time"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

// IncidentRegister tracks recent execution incidents (slippage blowouts,
// reverts) per route. Routes with recent incidents score as riskier until the
// incidents age out of the window.
type IncidentRegister struct {
	mu        sync.Mutex
	window    time.Duration
	incidents map[string][]time.Time
}

func NewIncidentRegister(window time.Duration) *IncidentRegister {
	return &IncidentRegister{
		window:    window,
		incidents: make(map[string][]time.Time),
	}
}

// Record notes an incident on a route at the given time.
func (r *IncidentRegister) Record(routeKey string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.incidents[routeKey] = append(r.incidents[routeKey], at)
}

// Count returns the number of incidents on the route within the window,
// pruning aged entries as a side effect.
func (r *IncidentRegister) Count(routeKey string, now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := now.Add(-r.window)
	kept := r.incidents[routeKey][:0]
	for _, at := range r.incidents[routeKey] {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	if len(kept) == 0 {
		delete(r.incidents, routeKey)
		return 0
	}
	r.incidents[routeKey] = kept
	return len(kept)
}

// Observe feeds settled performance records into the register. Only failure
// modes that indicate adversarial or hostile execution conditions count as
// incidents.
func (r *IncidentRegister) Observe(rec domain.PerformanceRecord) {
	switch rec.FailureReason {
	case domain.ReasonSlippageExceeded, domain.ReasonReverted:
		r.Record(rec.RouteKey, rec.RecordedAt)
	}
}

// extractionRisk scores how likely the opportunity is to be extracted by a
// competing actor before our execution settles, in [0, 1]. Wide spreads are
// visible to everyone, thin books are cheap to front-run, and routes with
// recent incidents have demonstrated hostility.
func (e *Evaluator) extractionRisk(opp domain.Opportunity, now time.Time) float64 {
	obvious := 0.0
	if e.cfg.ObviousSpreadPct > 0 {
		obvious = math.Min(1, opp.GrossSpreadPct/e.cfg.ObviousSpreadPct)
	}

	thin := 0.0
	if depth := shallowerDepth(opp); depth > 0 {
		thin = math.Min(1, opp.TradeSizeUSD/depth)
	} else {
		thin = 1
	}

	history := 0.0
	if e.incidents != nil {
		history = math.Min(1, float64(e.incidents.Count(opp.RouteKey(), now))/3)
	}

	return 0.4*obvious + 0.3*thin + 0.3*history
}
