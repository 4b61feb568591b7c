package domain

import (
	"context"
	"time"
)

// DiffSink receives decoded depth updates from streaming connections. Publish
// reports false when the envelope was dropped (queue at capacity).
type DiffSink interface {
	Publish(envelope *DiffEnvelope) bool
}

// DiffStream is one live streaming connection carrying depth diffs for the
// symbols registered on it. Implementations must surface failure by returning
// from Run; the pool reacts by shutting the whole run down.
type DiffStream interface {
	// Register adds a symbol to this connection. False means the connection is
	// at capacity and the caller should try another stream.
	Register(symbol string) bool

	Symbols() []string

	// Run drives the receive loop until the stream dies, Stop is called, or
	// ctx is cancelled.
	Run(ctx context.Context) error

	Stop()

	// LastEvent is the time of the most recent event on any symbol.
	LastEvent() time.Time

	// LastSymbolEvent is the time of the most recent event for one symbol.
	LastSymbolEvent(symbol string) (time.Time, bool)
}

// StreamFactory builds a fresh streaming connection publishing into sink.
type StreamFactory func(sink DiffSink) (DiffStream, error)
