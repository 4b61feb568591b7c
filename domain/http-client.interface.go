package domain

import "context"

// HttpClient is the exchange's REST surface: authoritative book snapshots and
// the tradable-symbol listing.
type HttpClient interface {
	GetOrderBook(ctx context.Context, symbol string, limit int) (*SnapshotResponse, error)

	// ListSymbols returns tradable symbols. With useCache a previously fetched
	// listing may be returned; with checkStatus symbols not currently trading
	// are filtered out.
	ListSymbols(ctx context.Context, useCache bool, checkStatus bool) ([]string, error)
}
