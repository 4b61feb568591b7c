package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/spooky-finn/go-orderbook-collector/config"
	"github.com/spooky-finn/go-orderbook-collector/domain"
)

type depthUpdateData struct {
	Event         string     `json:"e"`
	EventTime     int64      `json:"E"`
	Symbol        string     `json:"s"`
	FirstUpdateId int64      `json:"U"`
	FinalUpdateId int64      `json:"u"`
	Bids          [][]string `json:"b"`
	Asks          [][]string `json:"a"`
}

// DiffStream is one pooled connection carrying depth-diff subscriptions for
// its registered symbols. Decoded envelopes are published into the ingest
// sink; event timestamps feed the pool's liveness monitor.
type DiffStream struct {
	client   *StreamClient
	sink     domain.DiffSink
	capacity int

	mu              sync.Mutex
	subs            map[string]*Subscription
	lastSymbolEvent map[string]time.Time
	lastEvent       time.Time

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewDiffStream(client *StreamClient, sink domain.DiffSink, capacity int) *DiffStream {
	return &DiffStream{
		client:          client,
		sink:            sink,
		capacity:        capacity,
		subs:            make(map[string]*Subscription),
		lastSymbolEvent: make(map[string]time.Time),
		lastEvent:       time.Now(),
		done:            make(chan struct{}),
	}
}

func (s *DiffStream) Register(symbol string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.subs) >= s.capacity {
		return false
	}
	if _, ok := s.subs[symbol]; ok {
		return true
	}

	topic := fmt.Sprintf("%s@depth", strings.ToLower(symbol))
	sub, err := s.client.Subscribe(topic)
	if err != nil {
		logger.Warnf("failed to subscribe %s: %s", topic, err)
		return false
	}

	s.subs[symbol] = sub
	s.lastSymbolEvent[symbol] = time.Now()

	s.wg.Add(1)
	go s.consume(symbol, sub)
	return true
}

func (s *DiffStream) Symbols() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	symbols := make([]string, 0, len(s.subs))
	for symbol := range s.subs {
		symbols = append(symbols, symbol)
	}
	return symbols
}

func (s *DiffStream) consume(symbol string, sub *Subscription) {
	defer s.wg.Done()

	for {
		select {
		case <-s.done:
			return
		case msg := <-sub.Stream:
			update := &depthUpdateData{}
			if err := json.Unmarshal(msg, update); err != nil {
				logger.Warnf("failed to decode depth update for %s: %s", symbol, err)
				continue
			}

			envelope := &domain.DiffEnvelope{
				Symbol:    symbol,
				FirstID:   update.FirstUpdateId,
				FinalID:   update.FinalUpdateId,
				Bids:      parsePriceLevels(update.Bids),
				Asks:      parsePriceLevels(update.Asks),
				EventTime: time.UnixMilli(update.EventTime),
			}

			now := time.Now()
			s.mu.Lock()
			s.lastEvent = now
			s.lastSymbolEvent[symbol] = now
			s.mu.Unlock()

			s.sink.Publish(envelope)
		}
	}
}

// Run blocks until the stream is stopped, its client is closed, or ctx is
// cancelled. A dropped websocket connection is redialled by recws and does not
// end Run; a connection that stays silent is caught by the pool's liveness
// monitor. Consumers are awaited before returning.
func (s *DiffStream) Run(ctx context.Context) error {
	var err error
	select {
	case <-ctx.Done():
		err = ctx.Err()
	case <-s.done:
	case <-s.client.Done():
		err = fmt.Errorf("stream connection closed")
	}

	s.Stop()
	s.wg.Wait()
	return err
}

func (s *DiffStream) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)

		s.mu.Lock()
		subs := make([]*Subscription, 0, len(s.subs))
		for _, sub := range s.subs {
			subs = append(subs, sub)
		}
		s.mu.Unlock()

		for _, sub := range subs {
			sub.Unsubscribe()
		}
		_ = s.client.Close()
	})
}

func (s *DiffStream) LastEvent() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastEvent
}

func (s *DiffStream) LastSymbolEvent(symbol string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.lastSymbolEvent[symbol]
	return t, ok
}

func parsePriceLevels(levels [][]string) []domain.PriceLevel {
	result := make([]domain.PriceLevel, 0, len(levels))
	for _, level := range levels {
		if len(level) < 2 {
			continue
		}
		price, err := decimal.NewFromString(level[0])
		if err != nil {
			logger.Warnf("failed to parse price %q: %s", level[0], err)
			continue
		}
		quantity, err := decimal.NewFromString(level[1])
		if err != nil {
			logger.Warnf("failed to parse quantity %q: %s", level[1], err)
			continue
		}
		result = append(result, domain.PriceLevel{Price: price, Quantity: quantity})
	}
	return result
}

// NewStreamFactory builds pooled diff-stream connections, one fresh websocket
// client per stream.
func NewStreamFactory(cfg *config.Config) domain.StreamFactory {
	return func(sink domain.DiffSink) (domain.DiffStream, error) {
		client := NewStreamClient(cfg.BinanceWsEndpoint)
		if err := client.Connect(); err != nil {
			return nil, err
		}
		return NewDiffStream(client, sink, cfg.StreamSymbolCapacity), nil
	}
}
