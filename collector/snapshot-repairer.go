package collector

import (
	"context"
	"time"

	"github.com/jpillora/backoff"
	"github.com/sirupsen/logrus"

	"github.com/spooky-finn/go-orderbook-collector/domain"
	promclient "github.com/spooky-finn/go-orderbook-collector/infrastructure/prometheus"
)

// SnapshotRepairer drains the pending-repair set one symbol at a time,
// fetching the authoritative HTTP snapshot and reconciling the book with it.
// At most one HTTP request is ever in flight per repairer; the fixed poll
// pause is the rate-limit handshake with the HTTP side.
type SnapshotRepairer struct {
	http    domain.HttpClient
	books   *domain.OrderbookStore
	pending *domain.PendingRepair

	poll  time.Duration
	limit int
	retry *backoff.Backoff

	log *logrus.Entry
}

func NewSnapshotRepairer(
	httpClient domain.HttpClient,
	books *domain.OrderbookStore,
	pending *domain.PendingRepair,
	poll time.Duration,
	limit int,
) *SnapshotRepairer {
	return &SnapshotRepairer{
		http:    httpClient,
		books:   books,
		pending: pending,
		poll:    poll,
		limit:   limit,
		retry: &backoff.Backoff{
			Min:    poll,
			Max:    10 * poll,
			Jitter: true,
		},
		log: logrus.WithField("component", "snapshot-repairer"),
	}
}

func (r *SnapshotRepairer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(r.poll):
		}

		symbol, ok := r.pending.PopAny()
		if !ok {
			continue
		}
		promclient.PendingRepairsGauge.Set(float64(r.pending.Len()))

		if err := r.repair(ctx, symbol); err != nil {
			r.pending.Add(symbol)
			promclient.PendingRepairsGauge.Set(float64(r.pending.Len()))

			if ctx.Err() != nil {
				return
			}
			r.log.WithField("symbol", symbol).Errorf("snapshot repair failed: %s", err)

			select {
			case <-ctx.Done():
				return
			case <-time.After(r.retry.Duration()):
			}
			continue
		}

		r.retry.Reset()
	}
}

func (r *SnapshotRepairer) repair(ctx context.Context, symbol string) error {
	snapshot, err := r.http.GetOrderBook(ctx, symbol, r.limit)
	if err != nil {
		return err
	}

	book := r.books.GetOrCreate(symbol)
	book.ApplySnapshot(snapshot, time.Now())
	promclient.AppliedSnapshotsCounter.Inc()

	r.log.WithField("symbol", symbol).
		Debugf("reseeded book from snapshot, lastUpdateId=%d", snapshot.LastUpdateID)
	return nil
}
