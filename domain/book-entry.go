package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// BookEntry is one price level of an in-memory book. UpdateCount is a running
// per-level statistic reset by Orderbook.ResetStatistics.
type BookEntry struct {
	Price        decimal.Decimal
	Quantity     decimal.Decimal
	Time         time.Time
	UpdateCount  uint64
	LastUpdateID int64
}

// PriceLevel is an absolute-quantity replacement at one price. Quantity zero
// removes the level.
type PriceLevel struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

// DiffEnvelope is one incremental depth update. Envelopes are shared-immutable:
// they may be inspected by multiple readers but never mutated after decoding.
type DiffEnvelope struct {
	Symbol    string
	FirstID   int64
	FinalID   int64
	Bids      []PriceLevel
	Asks      []PriceLevel
	EventTime time.Time
}

// SnapshotResponse is the authoritative book state fetched over HTTP.
type SnapshotResponse struct {
	LastUpdateID int64
	Bids         []PriceLevel
	Asks         []PriceLevel
	Timestamp    time.Time
}
