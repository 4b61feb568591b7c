package collector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/spooky-finn/go-orderbook-collector/config"
	"github.com/spooky-finn/go-orderbook-collector/domain"
	promclient "github.com/spooky-finn/go-orderbook-collector/infrastructure/prometheus"
)

// Handlers is the outbound registry the collector dispatches into. Raw
// handlers receive the materialized views directly; aggregate handlers receive
// the aggregator's output.
type Handlers struct {
	Raw        []domain.SnapshotHandler
	Aggregator domain.Aggregator
	Aggregate  []domain.AggregateHandler
}

// Collector orchestrates the whole pipeline: it refreshes and filters the
// tracked symbols, keeps a stream pool alive over them, runs the ingest and
// repair loops, and on every Collect dispatches book snapshots to the
// registered handlers.
//
// The collector exclusively owns the book store, the pool, the pending-repair
// set and the scheduler-driven cadence; handlers only ever borrow views.
type Collector struct {
	cfg     *config.Config
	filter  *domain.PairFilter
	http    domain.HttpClient
	factory domain.StreamFactory

	books    *domain.OrderbookStore
	pending  *domain.PendingRepair
	ingestor *DiffIngestor
	repairer *SnapshotRepairer
	handlers Handlers

	// setupSem serializes pool rebuilds across concurrent Collect calls.
	setupSem chan struct{}
	pool     *StreamPool

	cachedSymbols []string
	lastRefresh   time.Time

	bgOnce sync.Once

	log *logrus.Entry
}

func New(
	cfg *config.Config,
	httpClient domain.HttpClient,
	factory domain.StreamFactory,
	filter *domain.PairFilter,
	handlers Handlers,
) *Collector {
	books := domain.NewOrderbookStore(cfg.PriceScale)
	pending := domain.NewPendingRepair()

	return &Collector{
		cfg:      cfg,
		filter:   filter,
		http:     httpClient,
		factory:  factory,
		books:    books,
		pending:  pending,
		ingestor: NewDiffIngestor(books, pending, cfg.DiffQueueCapacity, cfg.ParallelBatchThreshold, cfg.PostBatchSleep()),
		repairer: NewSnapshotRepairer(httpClient, books, pending, cfg.RepairPoll(), cfg.SnapshotDepthLimit),
		handlers: handlers,
		setupSem: make(chan struct{}, 1),
		log:      logrus.WithField("component", "collector"),
	}
}

func (c *Collector) Books() *domain.OrderbookStore { return c.books }
func (c *Collector) Pending() *domain.PendingRepair { return c.pending }
func (c *Collector) Ingestor() *DiffIngestor        { return c.ingestor }

// Collect runs one collection cycle: setup (symbol refresh, pool rebuild,
// background loops), then snapshot dispatch to every registered handler.
// Handler faults never fail the cycle; structural faults (symbol listing, pool
// construction) do.
func (c *Collector) Collect(ctx context.Context) error {
	if err := c.setup(ctx); err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return nil
		}
		return err
	}

	c.dispatch(ctx)
	return nil
}

func (c *Collector) setup(ctx context.Context) error {
	select {
	case c.setupSem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-c.setupSem }()

	if c.cachedSymbols == nil || time.Since(c.lastRefresh) > c.cfg.SymbolsExpiry() {
		symbols, err := c.http.ListSymbols(ctx, false, true)
		if err != nil {
			return fmt.Errorf("failed to refresh symbol listing: %w", err)
		}

		tracked := make([]string, 0, len(symbols))
		for _, symbol := range symbols {
			if c.filter.Match(symbol) {
				tracked = append(tracked, symbol)
			}
		}
		c.cachedSymbols = tracked
		c.lastRefresh = time.Now()
		c.log.Infof("tracking %d of %d listed symbols", len(tracked), len(symbols))
	}

	hash := HashSymbols(c.cachedSymbols)
	if c.pool == nil || c.pool.SymbolsHash() != hash || c.pool.Exited() {
		if c.pool != nil {
			c.pool.Dispose()
		}

		pool, err := NewStreamPool(c.cachedSymbols, c.factory, c.ingestor, PoolOptions{
			MaxStreams: c.cfg.MaxStreams,
			IdleGlobal: c.cfg.StreamIdleGlobal(),
			IdleSymbol: c.cfg.StreamIdleSymbol(),
			Warmup:     c.cfg.StreamWarmup(),
		})
		if err != nil {
			return fmt.Errorf("failed to build stream pool: %w", err)
		}
		c.pool = pool
		c.log.Infof("stream pool rebuilt: %d symbols over %d streams", len(c.cachedSymbols), pool.StreamLen())

		go func() {
			if err := pool.Run(ctx); err != nil && ctx.Err() == nil {
				c.log.Warnf("stream pool exited: %s", err)
			}
		}()
	}

	c.bgOnce.Do(func() {
		go c.ingestor.Run(ctx)
		go c.repairer.Run(ctx)
	})

	return nil
}

func (c *Collector) dispatch(ctx context.Context) {
	now := time.Now()
	books := c.books.NonEmpty()
	promclient.OpenOrderBooksGauge.Set(float64(len(books)))

	for _, book := range books {
		if ctx.Err() != nil {
			return
		}

		bids, asks := book.Views()
		bids.Enforce()
		asks.Enforce()

		c.dispatchRaw(ctx, book.Symbol(), bids, asks)
		c.dispatchAggregate(ctx, book.Symbol(), bids, asks)

		book.ResetStatistics()
		book.DropOutdated(now.Add(-c.cfg.EntryExpiry()))
	}
}

func (c *Collector) dispatchRaw(ctx context.Context, symbol string, bids, asks *domain.SortedView) {
	if len(c.handlers.Raw) == 0 {
		return
	}

	errs := make([]error, len(c.handlers.Raw))
	var wg sync.WaitGroup
	for i, handler := range c.handlers.Raw {
		wg.Add(1)
		go func(i int, h domain.SnapshotHandler) {
			defer wg.Done()
			errs[i] = h.Handle(ctx, symbol, bids, asks)
		}(i, handler)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			c.logHandlerError(ctx, symbol, fmt.Sprintf("raw handler %d", i), err)
		}
	}
}

func (c *Collector) dispatchAggregate(ctx context.Context, symbol string, bids, asks *domain.SortedView) {
	if c.handlers.Aggregator == nil || len(c.handlers.Aggregate) == 0 {
		return
	}

	aggregate, err := c.handlers.Aggregator.Handle(ctx, symbol, bids, asks)
	if err != nil {
		c.logHandlerError(ctx, symbol, "aggregator", err)
		return
	}

	errs := make([]error, len(c.handlers.Aggregate))
	var wg sync.WaitGroup
	for i, handler := range c.handlers.Aggregate {
		wg.Add(1)
		go func(i int, h domain.AggregateHandler) {
			defer wg.Done()
			errs[i] = h.Handle(ctx, symbol, aggregate)
		}(i, handler)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			c.logHandlerError(ctx, symbol, fmt.Sprintf("aggregate handler %d", i), err)
		}
	}
}

func (c *Collector) logHandlerError(ctx context.Context, symbol, name string, err error) {
	entry := c.log.WithField("symbol", symbol)
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		entry.Debugf("%s cancelled: %s", name, err)
		return
	}
	entry.Errorf("%s failed: %s", name, err)
}
