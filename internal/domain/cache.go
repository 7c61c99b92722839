package domain

import (
	"context"
	"time"
)

// QuoteCache stores the latest quote per (venue, asset). Feed adapters are
// the single writer per key; the scanner and evaluator only read.
type QuoteCache interface {
	SetQuote(ctx context.Context, q Quote) error
	GetQuote(ctx context.Context, venue Venue, asset string) (Quote, error)
	// GetQuotes returns the latest quote per venue for the asset. Venues with
	// no usable observation are omitted from the result.
	GetQuotes(ctx context.Context, asset string, venues []Venue) (map[Venue]Quote, error)
}

// GasCache stores the latest gas estimate per chain.
type GasCache interface {
	SetEstimate(ctx context.Context, g GasEstimate) error
	GetEstimate(ctx context.Context, chain Chain) (GasEstimate, error)
}

// BridgeQuoteCache stores the latest bridge quote per (source, target, asset)
// route.
type BridgeQuoteCache interface {
	SetQuote(ctx context.Context, q BridgeQuote) error
	GetQuote(ctx context.Context, asset string, source, target Chain) (BridgeQuote, error)
}

// LockManager provides distributed locking, used to enforce per-route mutual
// exclusion across processes.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage is a single entry read back from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams. The engine publishes
// performance records here for external dashboards to consume.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
