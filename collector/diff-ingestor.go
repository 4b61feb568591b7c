package collector

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/gammazero/deque"
	"github.com/sirupsen/logrus"

	"github.com/spooky-finn/go-orderbook-collector/domain"
	promclient "github.com/spooky-finn/go-orderbook-collector/infrastructure/prometheus"
)

// DiffIngestor consumes the bounded queue of depth updates, applies them to
// the per-symbol books and flags sequence gaps for repair.
//
// The queue preserves enqueue order; within one book, diffs are applied in
// dequeue order. Cross-book ordering is not guaranteed once a batch is large
// enough to be processed in parallel.
type DiffIngestor struct {
	mu    sync.Mutex
	queue deque.Deque[*domain.DiffEnvelope]

	capacity          int
	parallelThreshold int
	postBatchSleep    time.Duration

	books   *domain.OrderbookStore
	pending *domain.PendingRepair

	log *logrus.Entry
}

func NewDiffIngestor(
	books *domain.OrderbookStore,
	pending *domain.PendingRepair,
	capacity int,
	parallelThreshold int,
	postBatchSleep time.Duration,
) *DiffIngestor {
	return &DiffIngestor{
		capacity:          capacity,
		parallelThreshold: parallelThreshold,
		postBatchSleep:    postBatchSleep,
		books:             books,
		pending:           pending,
		log:               logrus.WithField("component", "diff-ingestor"),
	}
}

// Publish enqueues one envelope. At capacity the envelope is dropped: delivery
// is at-most-once and the resulting gap is repaired through the pending set.
func (in *DiffIngestor) Publish(envelope *domain.DiffEnvelope) bool {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.queue.Len() >= in.capacity {
		promclient.DroppedEnvelopesCounter.Inc()
		in.log.Warnf("diff queue full, dropping update for %s", envelope.Symbol)
		return false
	}

	in.queue.PushBack(envelope)
	promclient.DiffQueueDepthGauge.Set(float64(in.queue.Len()))
	return true
}

func (in *DiffIngestor) QueueDepth() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.queue.Len()
}

// Run drains the queue in batches until ctx is cancelled. The fixed pause
// after each batch caps the ingestor's CPU share under heavy stream bursts.
func (in *DiffIngestor) Run(ctx context.Context) {
	for {
		if batch := in.drain(); len(batch) > 0 {
			in.ProcessBatch(batch)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(in.postBatchSleep):
		}
	}
}

// drain pops everything currently queued.
func (in *DiffIngestor) drain() []*domain.DiffEnvelope {
	in.mu.Lock()
	defer in.mu.Unlock()

	n := in.queue.Len()
	if n == 0 {
		return nil
	}

	batch := make([]*domain.DiffEnvelope, n)
	for i := 0; i < n; i++ {
		batch[i] = in.queue.PopFront()
	}
	promclient.DiffQueueDepthGauge.Set(0)
	return batch
}

// ProcessBatch applies one drained batch. Small batches run sequentially;
// larger ones are sharded by symbol across a worker pool so per-book order is
// preserved.
func (in *DiffIngestor) ProcessBatch(batch []*domain.DiffEnvelope) {
	if len(batch) <= in.parallelThreshold {
		for _, envelope := range batch {
			in.apply(envelope)
		}
		return
	}

	groups := make(map[string][]*domain.DiffEnvelope)
	order := make([]string, 0, len(batch))
	for _, envelope := range batch {
		if _, ok := groups[envelope.Symbol]; !ok {
			order = append(order, envelope.Symbol)
		}
		groups[envelope.Symbol] = append(groups[envelope.Symbol], envelope)
	}

	workers := runtime.NumCPU()
	if workers > len(order) {
		workers = len(order)
	}

	work := make(chan string)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for symbol := range work {
				for _, envelope := range groups[symbol] {
					in.apply(envelope)
				}
			}
		}()
	}

	for _, symbol := range order {
		work <- symbol
	}
	close(work)
	wg.Wait()
}

func (in *DiffIngestor) apply(envelope *domain.DiffEnvelope) {
	book := in.books.GetOrCreate(envelope.Symbol)

	gapped := book.ApplyDiff(envelope)
	promclient.AppliedDiffsCounter.Inc()

	if gapped {
		in.pending.Add(envelope.Symbol)
		promclient.DetectedGapsCounter.Inc()
		promclient.PendingRepairsGauge.Set(float64(in.pending.Len()))
	}
}
