package kucoin

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	kucoin "github.com/Kucoin/kucoin-go-sdk"
	"github.com/shopspring/decimal"

	"github.com/spooky-finn/go-orderbook-collector/config"
	"github.com/spooky-finn/go-orderbook-collector/domain"
)

type depthUpdateModel struct {
	SequenceStart int64  `json:"sequenceStart"`
	SequenceEnd   int64  `json:"sequenceEnd"`
	Symbol        string `json:"symbol"`
	Changes       struct {
		Asks [][]string `json:"asks"`
		Bids [][]string `json:"bids"`
	} `json:"changes"`
	Time int64 `json:"time"`
}

// DiffStream carries level-2 diff subscriptions over one SDK websocket
// connection. Symbols are registered before Run; Run performs the token
// handshake, subscribes every registered topic and pumps messages into the
// sink until the connection dies or the stream is stopped.
type DiffStream struct {
	apiService *kucoin.ApiService
	sink       domain.DiffSink
	capacity   int

	mu              sync.Mutex
	registered      map[string]struct{}
	lastSymbolEvent map[string]time.Time
	lastEvent       time.Time

	done     chan struct{}
	stopOnce sync.Once
}

func NewDiffStream(apiService *kucoin.ApiService, sink domain.DiffSink, capacity int) *DiffStream {
	return &DiffStream{
		apiService:      apiService,
		sink:            sink,
		capacity:        capacity,
		registered:      make(map[string]struct{}),
		lastSymbolEvent: make(map[string]time.Time),
		lastEvent:       time.Now(),
		done:            make(chan struct{}),
	}
}

func (s *DiffStream) Register(symbol string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.registered[symbol]; ok {
		return true
	}
	if len(s.registered) >= s.capacity {
		return false
	}

	s.registered[symbol] = struct{}{}
	s.lastSymbolEvent[symbol] = time.Now()
	return true
}

func (s *DiffStream) Symbols() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	symbols := make([]string, 0, len(s.registered))
	for symbol := range s.registered {
		symbols = append(symbols, symbol)
	}
	return symbols
}

func (s *DiffStream) Run(ctx context.Context) error {
	resp, err := s.apiService.WebSocketPublicToken()
	if err != nil {
		return fmt.Errorf("failed to get ws connection token: %w", err)
	}

	token := &kucoin.WebSocketTokenModel{}
	if err = resp.ReadData(token); err != nil {
		return fmt.Errorf("failed to read ws connection token: %w", err)
	}

	client := s.apiService.NewWebSocketClient(token)
	messages, errs, err := client.Connect()
	if err != nil {
		return fmt.Errorf("failed to connect to ws: %w", err)
	}
	defer client.Stop()

	for _, symbol := range s.Symbols() {
		topic := fmt.Sprintf("/market/level2:%s", strings.ToUpper(symbol))
		if err := client.Subscribe(kucoin.NewSubscribeMessage(topic, false)); err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		case err := <-errs:
			return fmt.Errorf("ws error: %w", err)
		case msg := <-messages:
			if msg == nil {
				continue
			}
			s.dispatch(msg)
		}
	}
}

func (s *DiffStream) dispatch(msg *kucoin.WebSocketDownstreamMessage) {
	update := &depthUpdateModel{}
	if err := json.Unmarshal(msg.RawData, update); err != nil {
		logger.Warnf("failed to decode depth update: %s", err)
		return
	}
	if update.Symbol == "" {
		return
	}

	envelope := &domain.DiffEnvelope{
		Symbol:    update.Symbol,
		FirstID:   update.SequenceStart,
		FinalID:   update.SequenceEnd,
		Bids:      parseChangeLevels(update.Changes.Bids),
		Asks:      parseChangeLevels(update.Changes.Asks),
		EventTime: time.UnixMilli(update.Time),
	}

	now := time.Now()
	s.mu.Lock()
	s.lastEvent = now
	s.lastSymbolEvent[update.Symbol] = now
	s.mu.Unlock()

	s.sink.Publish(envelope)
}

func (s *DiffStream) Stop() {
	s.stopOnce.Do(func() { close(s.done) })
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

// parseChangeLevels decodes kucoin change triplets [price, size, sequence].
func parseChangeLevels(levels [][]string) []domain.PriceLevel {
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

// NewStreamFactory builds pooled diff-stream connections on the SDK websocket.
func NewStreamFactory(cfg *config.Config) domain.StreamFactory {
	apiService := kucoin.NewApiService(
		kucoin.ApiKeyOption(cfg.KucoinAPIKey),
		kucoin.ApiSecretOption(cfg.KucoinSecretKey),
		kucoin.ApiPassPhraseOption(cfg.KucoinPassphrase),
	)

	return func(sink domain.DiffSink) (domain.DiffStream, error) {
		return NewDiffStream(apiService, sink, cfg.StreamSymbolCapacity), nil
	}
}
