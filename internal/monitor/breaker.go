// Package monitor watches realized execution outcomes and halts new
// executions when loss patterns indicate the edge is gone. The circuit
// breaker is the single writer of its own state; everything else reads
// snapshots.
package monitor

import (
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

// Halt reasons surfaced in breaker state and operator alerts.
const (
	HaltConsecutiveLosses = "consecutive_losses"
	HaltDailyLossLimit    = "daily_loss_limit"
	HaltFailureRate       = "failure_rate"
)

// Config holds the halt thresholds.
type Config struct {
	MaxConsecutiveLosses int
	// AllocatedCapitalUSD and MaxDailyLossFrac together bound the realized
	// loss tolerated per UTC day.
	AllocatedCapitalUSD float64
	MaxDailyLossFrac    float64
	// FailureRateWindow is how many recent executions the failure-rate
	// check looks at; the check does not fire until the window is full.
	FailureRateWindow int
	MaxFailureRate    float64
	// Cooldown is how long a consecutive-loss or failure-rate halt lasts.
	// A daily-loss halt always lasts until the next UTC midnight.
	Cooldown time.Duration
}

// Breaker tracks execution outcomes and trips when any loss threshold is
// crossed. While tripped, the evaluator rejects everything and the
// coordinator accepts no new executions; in-flight executions finish.
type Breaker struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	// onHalt, if set, is invoked once per trip with the halt snapshot.
	onHalt func(domain.CircuitBreakerState)

	mu           sync.Mutex
	halted       bool
	reason       string
	haltedAt     time.Time
	resumeAt     time.Time
	consecutive  int
	dailyLossUSD float64
	lossDay      time.Time
	window       []bool // true = failed, newest last
}

func NewBreaker(cfg Config, logger *slog.Logger) *Breaker {
	return &Breaker{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "breaker")),
		now:    time.Now,
	}
}

// OnHalt registers a callback fired once per trip. Must be called before the
// breaker starts observing.
func (b *Breaker) OnHalt(fn func(domain.CircuitBreakerState)) {
	b.onHalt = fn
}

// Seed restores the daily loss accumulator after a restart, so a process
// bounce cannot reset the daily limit.
func (b *Breaker) Seed(dailyLossUSD float64, day time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dailyLossUSD = dailyLossUSD
	b.lossDay = day.UTC().Truncate(24 * time.Hour)
}

// Observe folds one settled execution into the breaker counters and trips
// the breaker if any threshold is crossed. Implements the ledger observer.
func (b *Breaker) Observe(rec domain.PerformanceRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.rollDayLocked(now)
	b.maybeResumeLocked(now)

	if rec.Loss() {
		b.consecutive++
		b.dailyLossUSD += -rec.ProfitUSD
	} else {
		b.consecutive = 0
	}

	b.window = append(b.window, !rec.Succeeded)
	if len(b.window) > b.cfg.FailureRateWindow {
		b.window = b.window[len(b.window)-b.cfg.FailureRateWindow:]
	}

	if b.halted {
		return
	}

	switch {
	case b.cfg.MaxConsecutiveLosses > 0 && b.consecutive >= b.cfg.MaxConsecutiveLosses:
		b.tripLocked(now, HaltConsecutiveLosses, now.Add(b.cfg.Cooldown))
	case b.dailyLimitUSD() > 0 && b.dailyLossUSD >= b.dailyLimitUSD():
		b.tripLocked(now, HaltDailyLossLimit, nextUTCMidnight(now))
	case b.failureRateLocked() >= b.cfg.MaxFailureRate && len(b.window) >= b.cfg.FailureRateWindow && b.cfg.MaxFailureRate > 0:
		b.tripLocked(now, HaltFailureRate, now.Add(b.cfg.Cooldown))
	}
}

// State returns a snapshot, applying cooldown expiry first.
func (b *Breaker) State() domain.CircuitBreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.rollDayLocked(now)
	b.maybeResumeLocked(now)

	return domain.CircuitBreakerState{
		Halted:            b.halted,
		Reason:            b.reason,
		ConsecutiveLosses: b.consecutive,
		WindowFailureRate: b.failureRateLocked(),
		DailyLossUSD:      b.dailyLossUSD,
		HaltedAt:          b.haltedAt,
		ResumeAt:          b.resumeAt,
	}
}

// Resume clears a halt manually and resets the counters that caused it. The
// daily loss accumulator is preserved: resuming does not grant fresh budget.
func (b *Breaker) Resume() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.halted {
		return
	}
	b.logger.Info("breaker manually resumed", slog.String("reason", b.reason))
	b.clearLocked()
}

func (b *Breaker) tripLocked(now time.Time, reason string, resumeAt time.Time) {
	b.halted = true
	b.reason = reason
	b.haltedAt = now
	b.resumeAt = resumeAt
	b.logger.Warn("breaker halted",
		slog.String("reason", reason),
		slog.Int("consecutive_losses", b.consecutive),
		slog.Float64("daily_loss_usd", b.dailyLossUSD),
		slog.Float64("failure_rate", b.failureRateLocked()),
		slog.Time("resume_at", resumeAt),
	)
	if b.onHalt != nil {
		state := domain.CircuitBreakerState{
			Halted:            true,
			Reason:            reason,
			ConsecutiveLosses: b.consecutive,
			WindowFailureRate: b.failureRateLocked(),
			DailyLossUSD:      b.dailyLossUSD,
			HaltedAt:          now,
			ResumeAt:          resumeAt,
		}
		go b.onHalt(state)
	}
}

// maybeResumeLocked lifts a halt whose cooldown has expired.
func (b *Breaker) maybeResumeLocked(now time.Time) {
	if b.halted && !b.resumeAt.IsZero() && !now.Before(b.resumeAt) {
		b.logger.Info("breaker cooldown expired", slog.String("reason", b.reason))
		b.clearLocked()
	}
}

// rollDayLocked resets the daily loss accumulator when the UTC day changes.
func (b *Breaker) rollDayLocked(now time.Time) {
	day := now.UTC().Truncate(24 * time.Hour)
	if !day.Equal(b.lossDay) {
		b.lossDay = day
		b.dailyLossUSD = 0
	}
}

func (b *Breaker) clearLocked() {
	b.halted = false
	b.reason = ""
	b.haltedAt = time.Time{}
	b.resumeAt = time.Time{}
	b.consecutive = 0
	b.window = b.window[:0]
}

func (b *Breaker) failureRateLocked() float64 {
	if len(b.window) == 0 {
		return 0
	}
	failed := 0
	for _, f := range b.window {
		if f {
			failed++
		}
	}
	return float64(failed) / float64(len(b.window))
}

func (b *Breaker) dailyLimitUSD() float64 {
	return b.cfg.AllocatedCapitalUSD * b.cfg.MaxDailyLossFrac
}

func nextUTCMidnight(now time.Time) time.Time {
	return now.UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)
}
