package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

// PerformanceStore implements domain.PerformanceStore using PostgreSQL.
type PerformanceStore struct {
	pool *pgxpool.Pool
}

// NewPerformanceStore creates a new PerformanceStore.
func NewPerformanceStore(pool *pgxpool.Pool) *PerformanceStore {
	return &PerformanceStore{pool: pool}
}

// Insert appends one performance record. Records are never updated.
func (s *PerformanceStore) Insert(ctx context.Context, rec domain.PerformanceRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO performance_records (id, opportunity_id, route_key, asset, profit_usd, duration_ms, succeeded, failure_reason, recovery_attempted, recovery_succeeded, manual_intervention, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		rec.ID, rec.OpportunityID, rec.RouteKey, rec.Asset,
		rec.ProfitUSD, rec.Duration.Milliseconds(), rec.Succeeded, string(rec.FailureReason),
		rec.RecoveryAttempted, rec.RecoverySucceeded, rec.ManualIntervention, rec.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert performance_record: %w", err)
	}
	return nil
}

// ListRecent returns the most recent records, newest first.
func (s *PerformanceStore) ListRecent(ctx context.Context, limit int) ([]domain.PerformanceRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, opportunity_id, route_key, asset, profit_usd, duration_ms, succeeded, failure_reason, recovery_attempted, recovery_succeeded, manual_intervention, recorded_at
		FROM performance_records ORDER BY recorded_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list performance_records: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// ListBefore returns records older than the cutoff, oldest first, for
// archival.
func (s *PerformanceStore) ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.PerformanceRecord, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, opportunity_id, route_key, asset, profit_usd, duration_ms, succeeded, failure_reason, recovery_attempted, recovery_succeeded, manual_intervention, recorded_at
		FROM performance_records WHERE recorded_at < $1 ORDER BY recorded_at ASC LIMIT $2`,
		cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list performance_records before %s: %w", cutoff, err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// DeleteBefore removes records older than the cutoff and returns how many
// rows were deleted.
func (s *PerformanceStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM performance_records WHERE recorded_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete performance_records before %s: %w", cutoff, err)
	}
	return tag.RowsAffected(), nil
}

// DailyLossUSD sums realized losses recorded since the start of the given
// UTC day. The result is returned as a positive number.
func (s *PerformanceStore) DailyLossUSD(ctx context.Context, day time.Time) (float64, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	var loss float64
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(-SUM(profit_usd), 0)
		FROM performance_records
		WHERE recorded_at >= $1 AND profit_usd < 0`,
		start,
	).Scan(&loss)
	if err != nil {
		return 0, fmt.Errorf("postgres: daily loss: %w", err)
	}
	return loss, nil
}

// rowScanner is satisfied by pgx.Rows; it lets scanRecords stay free of the
// pgx import.
type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanRecords(rows rowScanner) ([]domain.PerformanceRecord, error) {
	var recs []domain.PerformanceRecord
	for rows.Next() {
		var rec domain.PerformanceRecord
		var durationMs int64
		var reason string
		if err := rows.Scan(&rec.ID, &rec.OpportunityID, &rec.RouteKey, &rec.Asset,
			&rec.ProfitUSD, &durationMs, &rec.Succeeded, &reason,
			&rec.RecoveryAttempted, &rec.RecoverySucceeded, &rec.ManualIntervention, &rec.RecordedAt,
		); err != nil {
			return nil, err
		}
		rec.Duration = time.Duration(durationMs) * time.Millisecond
		rec.FailureReason = domain.RejectReason(reason)
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return recs, nil
}

// Compile-time interface check.
var _ domain.PerformanceStore = (*PerformanceStore)(nil)
