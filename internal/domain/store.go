package domain

import (
	"context"
	"io"
	"time"
)

// PerformanceStore persists the append-only performance ledger.
type PerformanceStore interface {
	Insert(ctx context.Context, rec PerformanceRecord) error
	ListRecent(ctx context.Context, limit int) ([]PerformanceRecord, error)
	// ListBefore returns records older than the cutoff, for archival.
	ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]PerformanceRecord, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
	// DailyLossUSD sums realized losses recorded since the start of the UTC
	// day, used to re-seed the circuit breaker after a restart.
	DailyLossUSD(ctx context.Context, day time.Time) (float64, error)
}

// AssessmentStore persists evaluator decisions for audit.
type AssessmentStore interface {
	Insert(ctx context.Context, a RiskAssessment) error
	ListRecent(ctx context.Context, limit int) ([]RiskAssessment, error)
}

// BlobWriter uploads objects to blob storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}
