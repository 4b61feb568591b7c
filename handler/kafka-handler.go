package handler

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/spooky-finn/go-orderbook-collector/domain"
)

type snapshotRow struct {
	Symbol    string     `json:"s"`
	Timestamp int64      `json:"T"`
	Bids      [][]string `json:"bids"`
	Asks      [][]string `json:"asks"`
}

// KafkaSnapshotHandler publishes one JSON book snapshot per dispatch, keyed by
// symbol so all snapshots of a pair land on the same partition.
type KafkaSnapshotHandler struct {
	writer *kafka.Writer
	depth  int
}

func NewKafkaSnapshotHandler(brokers []string, topic string, depth int) *KafkaSnapshotHandler {
	return &KafkaSnapshotHandler{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 50 * time.Millisecond,
			RequiredAcks: kafka.RequireOne,
		},
		depth: depth,
	}
}

func (h *KafkaSnapshotHandler) Handle(ctx context.Context, symbol string, bids, asks *domain.SortedView) error {
	now := time.Now()

	row := snapshotRow{
		Symbol:    symbol,
		Timestamp: now.UnixMilli(),
		Bids:      serializeLevels(bids.Entries(now), h.depth),
		Asks:      serializeLevels(asks.Entries(now), h.depth),
	}

	value, err := json.Marshal(row)
	if err != nil {
		return err
	}

	return h.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(symbol),
		Value: value,
	})
}

func (h *KafkaSnapshotHandler) Close() error {
	return h.writer.Close()
}

// serializeLevels renders entries as [price, quantity] string pairs, skipping
// levels that vanished mid-view.
func serializeLevels(entries []domain.BookEntry, depth int) [][]string {
	rows := make([][]string, 0, len(entries))
	for _, entry := range entries {
		if entry.Quantity.Sign() <= 0 {
			continue
		}
		rows = append(rows, []string{entry.Price.String(), entry.Quantity.String()})
		if depth > 0 && len(rows) >= depth {
			break
		}
	}
	return rows
}
