package domain

import "context"

// SnapshotHandler consumes one symbol's materialized book views. Views are
// borrowed for the duration of the call.
type SnapshotHandler interface {
	Handle(ctx context.Context, symbol string, bids *SortedView, asks *SortedView) error
}

// Aggregator derives a compact value (top-of-book features, depth rollups)
// from one symbol's views; its output is fanned out to aggregate handlers.
type Aggregator interface {
	Handle(ctx context.Context, symbol string, bids *SortedView, asks *SortedView) (interface{}, error)
}

// AggregateHandler consumes aggregator output.
type AggregateHandler interface {
	Handle(ctx context.Context, symbol string, aggregate interface{}) error
}
