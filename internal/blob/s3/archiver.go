package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

// listBatchSize bounds how many records one archive query pulls at a time.
const listBatchSize = 1000

// LedgerArchiveStore provides the minimal ledger access the archiver needs:
// time-ranged reads and pruning. The Postgres performance store satisfies it.
type LedgerArchiveStore interface {
	ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.PerformanceRecord, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Archiver moves aged performance records out of the primary store: it
// serializes everything older than the retention cutoff to JSONL, uploads
// the file to object storage, and only then prunes the rows. A failed upload
// leaves the primary store untouched.
type Archiver struct {
	writer    domain.BlobWriter
	ledger    LedgerArchiveStore
	retention time.Duration
	logger    *slog.Logger
}

func NewArchiver(writer domain.BlobWriter, ledger LedgerArchiveStore, retention time.Duration, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer:    writer,
		ledger:    ledger,
		retention: retention,
		logger:    logger.With(slog.String("component", "archiver")),
	}
}

// Archive exports all performance records older than the cutoff and deletes
// them from the primary store. Returns the number of records archived.
func (a *Archiver) Archive(ctx context.Context, cutoff time.Time) (int64, error) {
	records, err := a.ledger.ListBefore(ctx, cutoff, listBatchSize)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive query: %w", err)
	}
	if len(records) == 0 {
		return 0, nil
	}
	if len(records) == listBatchSize {
		// Archive only what we serialized; the remainder is picked up on
		// the next cycle.
		cutoff = records[len(records)-1].RecordedAt
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive marshal: %w", err)
	}

	path := archivePath("performance", cutoff)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive upload: %w", err)
	}

	deleted, err := a.ledger.DeleteBefore(ctx, cutoff)
	if err != nil {
		return int64(len(records)), fmt.Errorf("s3blob: archive prune: %w", err)
	}

	a.logger.Info("archived performance records",
		slog.String("path", path),
		slog.Int("archived", len(records)),
		slog.Int64("pruned", deleted),
	)
	return int64(len(records)), nil
}

// Run archives on the given interval until the context is cancelled. Upload
// failures are logged and retried on the next tick.
func (a *Archiver) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-a.retention)
			if _, err := a.Archive(ctx, cutoff); err != nil {
				a.logger.Error("archive cycle failed", slog.Any("error", err))
			}
		}
	}
}

// archivePath builds the S3 key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/performance/2026-03.jsonl
func archivePath(kind string, cutoff time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, cutoff.Format("2006-01"))
}

// marshalJSONL serialises records as newline-delimited JSON, one compact
// line per record.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
