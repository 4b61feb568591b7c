package collector

import (
	"context"
	"sync"
	"time"

	"github.com/spooky-finn/go-orderbook-collector/domain"
)

// fakeStream is an in-memory DiffStream for pool and collector tests.
type fakeStream struct {
	capacity int

	mu              sync.Mutex
	symbols         []string
	lastEvent       time.Time
	lastSymbolEvent map[string]time.Time

	stopped  chan struct{}
	stopOnce sync.Once
}

func newFakeStream(capacity int) *fakeStream {
	return &fakeStream{
		capacity:        capacity,
		lastEvent:       time.Now(),
		lastSymbolEvent: make(map[string]time.Time),
		stopped:         make(chan struct{}),
	}
}

func (s *fakeStream) Register(symbol string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.symbols) >= s.capacity {
		return false
	}
	s.symbols = append(s.symbols, symbol)
	s.lastSymbolEvent[symbol] = time.Now()
	return true
}

func (s *fakeStream) Symbols() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.symbols...)
}

func (s *fakeStream) Run(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.stopped:
		return nil
	}
}

func (s *fakeStream) Stop() {
	s.stopOnce.Do(func() { close(s.stopped) })
}

func (s *fakeStream) LastEvent() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastEvent
}

func (s *fakeStream) setLastEvent(t time.Time) {
	s.mu.Lock()
	s.lastEvent = t
	s.mu.Unlock()
}

func (s *fakeStream) LastSymbolEvent(symbol string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.lastSymbolEvent[symbol]
	return t, ok
}

// fakeHttpClient serves canned snapshots and listings.
type fakeHttpClient struct {
	mu        sync.Mutex
	snapshots map[string]*domain.SnapshotResponse
	err       error
	symbols   []string

	snapshotCalls int
	listCalls     int
}

func (c *fakeHttpClient) GetOrderBook(ctx context.Context, symbol string, limit int) (*domain.SnapshotResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.snapshotCalls++
	if c.err != nil {
		return nil, c.err
	}
	return c.snapshots[symbol], nil
}

func (c *fakeHttpClient) ListSymbols(ctx context.Context, useCache bool, checkStatus bool) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.listCalls++
	if c.err != nil {
		return nil, c.err
	}
	return append([]string(nil), c.symbols...), nil
}

func (c *fakeHttpClient) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotCalls
}

// nullSink discards published envelopes.
type nullSink struct{}

func (nullSink) Publish(*domain.DiffEnvelope) bool { return true }
