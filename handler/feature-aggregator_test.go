package handler

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spooky-finn/go-orderbook-collector/domain"
)

func seededViews(t *testing.T) (*domain.SortedView, *domain.SortedView) {
	t.Helper()

	book := domain.NewOrderbook("BTCUSDT", 8)
	book.ApplySnapshot(&domain.SnapshotResponse{
		LastUpdateID: 100,
		Bids: []domain.PriceLevel{
			{Price: decimal.NewFromFloat(10.0), Quantity: decimal.NewFromFloat(3.0)},
			{Price: decimal.NewFromFloat(9.0), Quantity: decimal.NewFromFloat(1.0)},
		},
		Asks: []domain.PriceLevel{
			{Price: decimal.NewFromFloat(12.0), Quantity: decimal.NewFromFloat(1.0)},
			{Price: decimal.NewFromFloat(13.0), Quantity: decimal.NewFromFloat(1.0)},
		},
	}, time.Now())

	bids, asks := book.Views()
	bids.Enforce()
	asks.Enforce()
	return bids, asks
}

func TestFeatureAggregator_Features(t *testing.T) {
	bids, asks := seededViews(t)

	aggregator := NewFeatureAggregator(5)
	out, err := aggregator.Handle(context.Background(), "BTCUSDT", bids, asks)
	require.NoError(t, err)

	features, ok := out.(*BookFeatures)
	require.True(t, ok)

	assert.Equal(t, "BTCUSDT", features.Symbol)
	assert.Equal(t, "10", features.BestBid)
	assert.Equal(t, "12", features.BestAsk)
	assert.Equal(t, "3", features.BestBidQuantity)
	assert.InDelta(t, 11.0, features.Mid, 1e-9)
	assert.InDelta(t, 2.0, features.Spread, 1e-9)
	// 4 of 6 units sit on the bid side.
	assert.InDelta(t, 4.0/6.0, features.Imbalance, 1e-9)
}

func TestFeatureAggregator_EmptySideFails(t *testing.T) {
	book := domain.NewOrderbook("BTCUSDT", 8)
	book.ApplySnapshot(&domain.SnapshotResponse{
		LastUpdateID: 1,
		Bids:         []domain.PriceLevel{{Price: decimal.NewFromFloat(10.0), Quantity: decimal.NewFromFloat(1.0)}},
	}, time.Now())

	bids, asks := book.Views()
	bids.Enforce()
	asks.Enforce()

	aggregator := NewFeatureAggregator(5)
	_, err := aggregator.Handle(context.Background(), "BTCUSDT", bids, asks)
	assert.Error(t, err)
}

func TestSerializeLevels(t *testing.T) {
	bids, _ := seededViews(t)

	rows := serializeLevels(bids.Entries(time.Now()), 1)
	require.Len(t, rows, 1)
	assert.Equal(t, []string{"10", "3"}, rows[0])

	rows = serializeLevels(bids.Entries(time.Now()), 0)
	assert.Len(t, rows, 2, "zero depth means unlimited")
}
