// Package ledger owns the append-only record of execution outcomes. Every
// terminal execution produces exactly one record here; the ledger persists
// it, publishes it for external consumers, and fans it out to in-process
// observers such as the circuit breaker.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

// Channel and stream names for published records.
const (
	RecordChannel = "dexarb:records"
	RecordStream  = "dexarb:records:stream"
)

// Observer receives every settled record, in recording order. Observers must
// not block; heavy work belongs in a goroutine on the observer's side.
type Observer interface {
	Observe(rec domain.PerformanceRecord)
}

type Ledger struct {
	store     domain.PerformanceStore
	bus       domain.SignalBus
	observers []Observer
	logger    *slog.Logger

	mu     sync.Mutex
	recent []domain.PerformanceRecord
	cap    int
}

// New creates a ledger keeping the most recent recentCap records in memory
// for cheap status queries. The bus may be nil in paper mode.
func New(store domain.PerformanceStore, bus domain.SignalBus, recentCap int, logger *slog.Logger) *Ledger {
	if recentCap <= 0 {
		recentCap = 256
	}
	return &Ledger{
		store:  store,
		bus:    bus,
		logger: logger.With(slog.String("component", "ledger")),
		cap:    recentCap,
	}
}

// AddObserver registers an observer. Must be called before recording starts.
func (l *Ledger) AddObserver(o Observer) {
	l.observers = append(l.observers, o)
}

// Record persists one settled execution outcome and fans it out. Persistence
// is the only hard dependency: a failed publish is logged, not returned, so
// a flaky bus cannot lose ledger rows.
func (l *Ledger) Record(ctx context.Context, rec domain.PerformanceRecord) error {
	if err := l.store.Insert(ctx, rec); err != nil {
		return fmt.Errorf("ledger: insert record: %w", err)
	}

	l.mu.Lock()
	l.recent = append(l.recent, rec)
	if len(l.recent) > l.cap {
		l.recent = l.recent[len(l.recent)-l.cap:]
	}
	l.mu.Unlock()

	for _, o := range l.observers {
		o.Observe(rec)
	}

	if l.bus != nil {
		payload, err := json.Marshal(rec)
		if err != nil {
			l.logger.Error("record marshal failed", slog.Any("error", err))
			return nil
		}
		if err := l.bus.Publish(ctx, RecordChannel, payload); err != nil {
			l.logger.Warn("record publish failed", slog.Any("error", err))
		}
		if err := l.bus.StreamAppend(ctx, RecordStream, payload); err != nil {
			l.logger.Warn("record stream append failed", slog.Any("error", err))
		}
	}

	l.logger.Info("execution settled",
		slog.String("opportunity_id", rec.OpportunityID),
		slog.String("route", rec.RouteKey),
		slog.Float64("profit_usd", rec.ProfitUSD),
		slog.Bool("succeeded", rec.Succeeded),
		slog.String("failure_reason", string(rec.FailureReason)),
	)
	return nil
}

// Recent returns up to limit of the most recently recorded outcomes, newest
// last, from the in-memory ring.
func (l *Ledger) Recent(limit int) []domain.PerformanceRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	if limit <= 0 || limit > len(l.recent) {
		limit = len(l.recent)
	}
	out := make([]domain.PerformanceRecord, limit)
	copy(out, l.recent[len(l.recent)-limit:])
	return out
}
