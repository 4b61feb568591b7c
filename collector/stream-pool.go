package collector

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/sirupsen/logrus"

	"github.com/spooky-finn/go-orderbook-collector/domain"
	"github.com/spooky-finn/go-orderbook-collector/helpers"
)

type PoolOptions struct {
	MaxStreams      int
	IdleGlobal      time.Duration
	IdleSymbol      time.Duration
	Warmup          time.Duration
	MonitorInterval time.Duration
}

func (o *PoolOptions) withDefaults() {
	if o.MaxStreams <= 0 {
		o.MaxStreams = 256
	}
	if o.IdleGlobal <= 0 {
		o.IdleGlobal = 20 * time.Second
	}
	if o.IdleSymbol <= 0 {
		o.IdleSymbol = 60 * time.Second
	}
	if o.Warmup <= 0 {
		o.Warmup = 120 * time.Second
	}
	if o.MonitorInterval <= 0 {
		o.MonitorInterval = 10 * time.Second
	}
}

// StreamCount shards n symbols across log2(n)+1 connections, one connection
// for small symbol sets.
func StreamCount(n int, maxStreams int) int {
	if n < 10 {
		return 1
	}
	return helpers.Clamp(int(math.Log2(float64(n)))+1, 1, maxStreams)
}

// HashSymbols computes a stable hash over the symbol list in input order. The
// orchestrator compares it between setup cycles to decide whether the pool
// must be rebuilt.
func HashSymbols(symbols []string) uint64 {
	h := xxhash.New()
	for _, symbol := range symbols {
		_, _ = h.WriteString(symbol)
		_, _ = h.WriteString("\n")
	}
	return h.Sum64()
}

// StreamPool fans a symbol set across a pool of streaming connections and
// watches their liveness. Run completes as soon as any stream's receive loop
// exits; the orchestrator rebuilds the pool on its next cycle.
type StreamPool struct {
	streams     []domain.DiffStream
	assignment  map[string]int
	symbolsHash uint64
	opts        PoolOptions

	mu        sync.Mutex
	startedAt time.Time
	runDone   chan struct{}
	running   bool
	exited    bool

	log *logrus.Entry
}

// NewStreamPool builds the pool and registers every symbol round-robin. A
// stream may refuse a symbol at capacity; after a full cycle of refusals the
// construction fails with ErrOverCapacity.
func NewStreamPool(symbols []string, factory domain.StreamFactory, sink domain.DiffSink, opts PoolOptions) (*StreamPool, error) {
	opts.withDefaults()

	n := StreamCount(len(symbols), opts.MaxStreams)
	streams := make([]domain.DiffStream, 0, n)
	for i := 0; i < n; i++ {
		stream, err := factory(sink)
		if err != nil {
			return nil, fmt.Errorf("failed to build stream %d of %d: %w", i, n, err)
		}
		streams = append(streams, stream)
	}

	pool := &StreamPool{
		streams:     streams,
		assignment:  make(map[string]int, len(symbols)),
		symbolsHash: HashSymbols(symbols),
		opts:        opts,
		log:         logrus.WithField("component", "stream-pool"),
	}

	cursor := 0
	for _, symbol := range symbols {
		refusals := 0
		for {
			idx := cursor % n
			cursor++
			if streams[idx].Register(symbol) {
				pool.assignment[symbol] = idx
				break
			}
			refusals++
			if refusals >= n {
				return nil, fmt.Errorf("%w: %s", domain.ErrOverCapacity, symbol)
			}
		}
	}

	return pool, nil
}

func (p *StreamPool) SymbolsHash() uint64 { return p.symbolsHash }
func (p *StreamPool) StreamLen() int      { return len(p.streams) }

// Exited reports whether a run has finished. The orchestrator rebuilds an
// exited pool on its next setup cycle.
func (p *StreamPool) Exited() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exited
}

// StreamIndex reports which stream a symbol was assigned to.
func (p *StreamPool) StreamIndex(symbol string) (int, bool) {
	idx, ok := p.assignment[symbol]
	return idx, ok
}

// Run starts every stream's receive loop and the liveness monitor, and
// returns when the first stream exits. Remaining streams are stopped and
// awaited before returning that stream's error.
func (p *StreamPool) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	p.mu.Lock()
	p.startedAt = time.Now()
	p.runDone = make(chan struct{})
	p.running = true
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.running = false
		p.exited = true
		close(p.runDone)
		p.mu.Unlock()
	}()

	exit := make(chan error, len(p.streams))
	var wg sync.WaitGroup
	for _, stream := range p.streams {
		wg.Add(1)
		go func(s domain.DiffStream) {
			defer wg.Done()
			exit <- s.Run(runCtx)
		}(stream)
	}

	monitorDone := make(chan struct{})
	go func() {
		defer close(monitorDone)
		p.monitor(runCtx)
	}()

	err := <-exit
	cancel()
	for _, stream := range p.streams {
		stream.Stop()
	}
	wg.Wait()
	<-monitorDone

	if err != nil && ctx.Err() == nil {
		p.log.Warnf("stream pool run finished: %s", err)
	}
	return err
}

func (p *StreamPool) monitor(ctx context.Context) {
	ticker := time.NewTicker(p.opts.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.checkLiveness(time.Now())
		}
	}
}

func (p *StreamPool) checkLiveness(now time.Time) {
	p.mu.Lock()
	startedAt := p.startedAt
	p.mu.Unlock()

	for idx, stream := range p.streams {
		if idle := now.Sub(stream.LastEvent()); idle > p.opts.IdleGlobal {
			p.log.Warnf("stopping stream %d: no events for %s", idx, idle.Round(time.Second))
			stream.Stop()
			continue
		}

		if now.Sub(startedAt) <= p.opts.Warmup {
			continue
		}

		for _, symbol := range stream.Symbols() {
			last, ok := stream.LastSymbolEvent(symbol)
			if ok && now.Sub(last) > p.opts.IdleSymbol {
				p.log.Warnf("stopping stream %d: symbol %s idle for %s", idx, symbol, now.Sub(last).Round(time.Second))
				stream.Stop()
				break
			}
		}
	}
}

// Dispose stops every stream, awaits the run if one is in flight, and clears
// the pool's bookkeeping.
func (p *StreamPool) Dispose() {
	for _, stream := range p.streams {
		stream.Stop()
	}

	p.mu.Lock()
	done := p.runDone
	running := p.running
	p.mu.Unlock()
	if running && done != nil {
		<-done
	}

	p.assignment = make(map[string]int)
	p.symbolsHash = 0
}
