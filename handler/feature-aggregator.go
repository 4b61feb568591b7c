package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	"github.com/spooky-finn/go-orderbook-collector/domain"
)

// BookFeatures is the compact top-of-book rollup fanned out to aggregate
// handlers.
type BookFeatures struct {
	Symbol          string  `json:"s"`
	Timestamp       int64   `json:"T"`
	BestBid         string  `json:"bb"`
	BestAsk         string  `json:"ba"`
	BestBidQuantity string  `json:"bq"`
	BestAskQuantity string  `json:"aq"`
	Mid             float64 `json:"mid"`
	Spread          float64 `json:"spr"`
	Imbalance       float64 `json:"imb"`
}

// FeatureAggregator derives BookFeatures from the top depth levels of each
// side. The imbalance is bid volume over total volume across those levels.
type FeatureAggregator struct {
	depth int
}

func NewFeatureAggregator(depth int) *FeatureAggregator {
	if depth <= 0 {
		depth = 5
	}
	return &FeatureAggregator{depth: depth}
}

func (a *FeatureAggregator) Handle(ctx context.Context, symbol string, bids, asks *domain.SortedView) (interface{}, error) {
	now := time.Now()
	bidEntries := liveEntries(bids.Entries(now), a.depth)
	askEntries := liveEntries(asks.Entries(now), a.depth)

	if len(bidEntries) == 0 || len(askEntries) == 0 {
		return nil, fmt.Errorf("book for %s has an empty side", symbol)
	}

	bestBid := bidEntries[0]
	bestAsk := askEntries[0]

	mid := bestBid.Price.Add(bestAsk.Price).Div(decimal.NewFromInt(2))
	spread := bestAsk.Price.Sub(bestBid.Price)

	bidVolume := sumQuantity(bidEntries)
	totalVolume := bidVolume.Add(sumQuantity(askEntries))

	imbalance := 0.0
	if totalVolume.Sign() > 0 {
		imbalance, _ = bidVolume.Div(totalVolume).Float64()
	}

	midF, _ := mid.Float64()
	spreadF, _ := spread.Float64()

	return &BookFeatures{
		Symbol:          symbol,
		Timestamp:       now.UnixMilli(),
		BestBid:         bestBid.Price.String(),
		BestAsk:         bestAsk.Price.String(),
		BestBidQuantity: bestBid.Quantity.String(),
		BestAskQuantity: bestAsk.Quantity.String(),
		Mid:             midF,
		Spread:          spreadF,
		Imbalance:       imbalance,
	}, nil
}

func liveEntries(entries []domain.BookEntry, depth int) []domain.BookEntry {
	live := make([]domain.BookEntry, 0, depth)
	for _, entry := range entries {
		if entry.Quantity.Sign() <= 0 {
			continue
		}
		live = append(live, entry)
		if len(live) >= depth {
			break
		}
	}
	return live
}

func sumQuantity(entries []domain.BookEntry) decimal.Decimal {
	total := decimal.Zero
	for _, entry := range entries {
		total = total.Add(entry.Quantity)
	}
	return total
}

// KafkaFeatureHandler publishes aggregated features to their own topic.
type KafkaFeatureHandler struct {
	writer *kafka.Writer
}

func NewKafkaFeatureHandler(brokers []string, topic string) *KafkaFeatureHandler {
	return &KafkaFeatureHandler{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 50 * time.Millisecond,
			RequiredAcks: kafka.RequireOne,
		},
	}
}

func (h *KafkaFeatureHandler) Handle(ctx context.Context, symbol string, aggregate interface{}) error {
	value, err := json.Marshal(aggregate)
	if err != nil {
		return err
	}

	return h.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(symbol),
		Value: value,
	})
}

func (h *KafkaFeatureHandler) Close() error {
	return h.writer.Close()
}
