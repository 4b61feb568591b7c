package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func level(price, qty float64) PriceLevel {
	return PriceLevel{
		Price:    decimal.NewFromFloat(price),
		Quantity: decimal.NewFromFloat(qty),
	}
}

func seedSnapshot(t *testing.T, ob *Orderbook, lastUpdateID int64, bids, asks []PriceLevel) {
	t.Helper()
	ob.ApplySnapshot(&SnapshotResponse{
		LastUpdateID: lastUpdateID,
		Bids:         bids,
		Asks:         asks,
		Timestamp:    time.Now(),
	}, time.Now())
}

func TestOrderbook_CleanApply(t *testing.T) {
	ob := NewOrderbook("BTCUSDT", 8)
	seedSnapshot(t, ob, 100,
		[]PriceLevel{level(10.0, 1.0)},
		[]PriceLevel{level(11.0, 2.0)},
	)

	gapped := ob.ApplyDiff(&DiffEnvelope{
		Symbol:    "BTCUSDT",
		FirstID:   101,
		FinalID:   101,
		Bids:      []PriceLevel{level(10.0, 0)},
		EventTime: time.Now(),
	})

	assert.False(t, gapped, "sequential diff should not gap")
	assert.Equal(t, int64(101), ob.LastUpdateID())

	bidCount, askCount := ob.Depth()
	assert.Equal(t, 0, bidCount, "bid level should be removed")
	assert.Equal(t, 1, askCount)

	askEntry := ob.asks[NewPriceRoundKey(decimal.NewFromFloat(11.0), 8)]
	require.NotNil(t, askEntry)
	assert.True(t, askEntry.Quantity.Equal(decimal.NewFromFloat(2.0)))
}

func TestOrderbook_GapDetection(t *testing.T) {
	ob := NewOrderbook("BTCUSDT", 8)
	seedSnapshot(t, ob, 50, []PriceLevel{level(10.0, 1.0)}, nil)

	gapped := ob.ApplyDiff(&DiffEnvelope{
		Symbol:    "BTCUSDT",
		FirstID:   60,
		FinalID:   61,
		Bids:      []PriceLevel{level(9.0, 1.0)},
		EventTime: time.Now(),
	})

	assert.True(t, gapped, "non-contiguous diff should gap")
	assert.Equal(t, int64(61), ob.LastUpdateID(), "diff is applied regardless")

	bidCount, _ := ob.Depth()
	assert.Equal(t, 2, bidCount)
}

func TestOrderbook_EmptyBookGaps(t *testing.T) {
	ob := NewOrderbook("BTCUSDT", 8)

	gapped := ob.ApplyDiff(&DiffEnvelope{
		Symbol:    "BTCUSDT",
		FirstID:   1,
		FinalID:   1,
		Bids:      []PriceLevel{level(10.0, 1.0)},
		EventTime: time.Now(),
	})

	assert.True(t, gapped, "first diff into an empty book needs a snapshot")
}

func TestOrderbook_StaleSnapshotIsAuthoritative(t *testing.T) {
	ob := NewOrderbook("BTCUSDT", 8)
	seedSnapshot(t, ob, 200, []PriceLevel{level(10.0, 1.0)}, nil)

	seedSnapshot(t, ob, 150, []PriceLevel{level(9.0, 1.0)}, nil)

	assert.Equal(t, int64(150), ob.LastUpdateID(), "snapshot is authoritative at fetch time")

	// The level from the newer snapshot survives: its lastUpdateID is not
	// older than the snapshot's.
	_, kept := ob.bids[NewPriceRoundKey(decimal.NewFromFloat(10.0), 8)]
	assert.True(t, kept)
	_, added := ob.bids[NewPriceRoundKey(decimal.NewFromFloat(9.0), 8)]
	assert.True(t, added)
}

func TestOrderbook_SnapshotDropsStaleAbsentLevels(t *testing.T) {
	ob := NewOrderbook("BTCUSDT", 8)
	seedSnapshot(t, ob, 100, []PriceLevel{level(10.0, 1.0), level(9.5, 2.0)}, nil)

	// Snapshot at a higher sequence that no longer carries 9.5.
	seedSnapshot(t, ob, 300, []PriceLevel{level(10.0, 3.0)}, nil)

	_, stale := ob.bids[NewPriceRoundKey(decimal.NewFromFloat(9.5), 8)]
	assert.False(t, stale, "stale level absent from the snapshot must be dropped")

	entry := ob.bids[NewPriceRoundKey(decimal.NewFromFloat(10.0), 8)]
	require.NotNil(t, entry)
	assert.True(t, entry.Quantity.Equal(decimal.NewFromFloat(3.0)), "level present in the snapshot is overwritten")
}

func TestOrderbook_LastUpdateIDNeverDecreasesOnDiffs(t *testing.T) {
	ob := NewOrderbook("BTCUSDT", 8)
	seedSnapshot(t, ob, 100, []PriceLevel{level(10.0, 1.0)}, nil)

	ob.ApplyDiff(&DiffEnvelope{FirstID: 101, FinalID: 105, Bids: []PriceLevel{level(10.0, 2.0)}})
	ob.ApplyDiff(&DiffEnvelope{FirstID: 90, FinalID: 95, Bids: []PriceLevel{level(10.0, 3.0)}})

	assert.Equal(t, int64(105), ob.LastUpdateID())
}

func TestOrderbook_SideVersionStrictlyIncreases(t *testing.T) {
	ob := NewOrderbook("BTCUSDT", 8)

	v0 := ob.SideVersion(SideBid)
	seedSnapshot(t, ob, 10, []PriceLevel{level(10.0, 1.0)}, nil)
	v1 := ob.SideVersion(SideBid)
	assert.Greater(t, v1, v0)

	ob.ApplyDiff(&DiffEnvelope{FirstID: 11, FinalID: 11, Bids: []PriceLevel{level(10.0, 2.0)}})
	v2 := ob.SideVersion(SideBid)
	assert.Greater(t, v2, v1)

	askVersion := ob.SideVersion(SideAsk)
	ob.ApplyDiff(&DiffEnvelope{FirstID: 12, FinalID: 12, Bids: []PriceLevel{level(10.0, 3.0)}})
	assert.Equal(t, askVersion, ob.SideVersion(SideAsk), "untouched side stays put on bid-only diffs")
}

func TestOrderbook_NoZeroQuantityEntries(t *testing.T) {
	ob := NewOrderbook("BTCUSDT", 8)
	seedSnapshot(t, ob, 10, []PriceLevel{level(10.0, 1.0), level(9.0, 2.0)}, nil)

	ob.ApplyDiff(&DiffEnvelope{FirstID: 11, FinalID: 11, Bids: []PriceLevel{level(9.0, 0)}})

	for _, entry := range ob.bids {
		assert.True(t, entry.Quantity.Sign() > 0, "no entry may carry zero quantity")
	}
}

func TestOrderbook_ResetStatistics(t *testing.T) {
	ob := NewOrderbook("BTCUSDT", 8)
	seedSnapshot(t, ob, 10, []PriceLevel{level(10.0, 1.0)}, nil)
	ob.ApplyDiff(&DiffEnvelope{FirstID: 11, FinalID: 11, Bids: []PriceLevel{level(10.0, 2.0)}})

	key := NewPriceRoundKey(decimal.NewFromFloat(10.0), 8)
	require.NotZero(t, ob.bids[key].UpdateCount)

	version := ob.SideVersion(SideBid)
	ob.ResetStatistics()

	assert.Zero(t, ob.bids[key].UpdateCount)
	assert.True(t, ob.bids[key].Quantity.Equal(decimal.NewFromFloat(2.0)), "quantities are untouched")
	assert.Equal(t, version, ob.SideVersion(SideBid), "versions are untouched")
}

func TestOrderbook_DropOutdated(t *testing.T) {
	ob := NewOrderbook("BTCUSDT", 8)

	old := time.Now().Add(-time.Hour)
	ob.ApplyDiff(&DiffEnvelope{FirstID: 1, FinalID: 1, Bids: []PriceLevel{level(10.0, 1.0)}, EventTime: old})
	ob.ApplyDiff(&DiffEnvelope{FirstID: 2, FinalID: 2, Bids: []PriceLevel{level(9.0, 1.0)}, EventTime: time.Now()})

	ob.DropOutdated(time.Now().Add(-time.Minute))

	bidCount, _ := ob.Depth()
	assert.Equal(t, 1, bidCount)
	_, ok := ob.bids[NewPriceRoundKey(decimal.NewFromFloat(9.0), 8)]
	assert.True(t, ok)
}

func TestPriceRoundKey_RoundTrip(t *testing.T) {
	price := decimal.NewFromFloat(10543.12345678)
	key := NewPriceRoundKey(price, 8)
	assert.True(t, key.Price(8).Equal(price))

	// Keys compare by integer form.
	lower := NewPriceRoundKey(decimal.NewFromFloat(10543.12345677), 8)
	assert.Less(t, int64(lower), int64(key))
}
