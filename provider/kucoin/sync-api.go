package kucoin

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	kucoin "github.com/Kucoin/kucoin-go-sdk"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/spooky-finn/go-orderbook-collector/config"
	"github.com/spooky-finn/go-orderbook-collector/domain"
)

var logger = logrus.WithField("component", "kucoin")

// SyncAPI implements the snapshot and listing surface on the official SDK.
// Kucoin serves the full aggregated book; the limit is applied client-side.
type SyncAPI struct {
	apiService *kucoin.ApiService

	mu            sync.Mutex
	cachedSymbols []string
}

func NewSyncAPI(cfg *config.Config) *SyncAPI {
	return &SyncAPI{
		apiService: kucoin.NewApiService(
			kucoin.ApiKeyOption(cfg.KucoinAPIKey),
			kucoin.ApiSecretOption(cfg.KucoinSecretKey),
			kucoin.ApiPassPhraseOption(cfg.KucoinPassphrase),
		),
	}
}

type orderBookSnapshot struct {
	Sequence string     `json:"sequence"`
	Time     int64      `json:"time"`
	Bids     [][]string `json:"bids"`
	Asks     [][]string `json:"asks"`
}

func (api *SyncAPI) GetOrderBook(ctx context.Context, symbol string, limit int) (*domain.SnapshotResponse, error) {
	resp, err := api.apiService.AggregatedFullOrderBookV3(strings.ToUpper(symbol))
	if err != nil {
		return nil, fmt.Errorf("failed to get order book snapshot: %w", err)
	}

	data := &orderBookSnapshot{}
	if err = json.Unmarshal(resp.RawData, data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response body: %w, response: %s", err, resp.RawData)
	}

	lastUpdateID, err := strconv.ParseInt(data.Sequence, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to convert sequence to int: %w, response: %s", err, resp.RawData)
	}

	return &domain.SnapshotResponse{
		LastUpdateID: lastUpdateID,
		Bids:         parsePriceLevels(data.Bids, limit),
		Asks:         parsePriceLevels(data.Asks, limit),
		Timestamp:    time.UnixMilli(data.Time),
	}, nil
}

type symbolModel struct {
	Symbol        string `json:"symbol"`
	EnableTrading bool   `json:"enableTrading"`
}

func (api *SyncAPI) ListSymbols(ctx context.Context, useCache bool, checkStatus bool) ([]string, error) {
	if useCache {
		api.mu.Lock()
		cached := api.cachedSymbols
		api.mu.Unlock()
		if cached != nil {
			return append([]string(nil), cached...), nil
		}
	}

	resp, err := api.apiService.Symbols("")
	if err != nil {
		return nil, fmt.Errorf("failed to list symbols: %w", err)
	}

	var models []symbolModel
	if err = json.Unmarshal(resp.RawData, &models); err != nil {
		return nil, fmt.Errorf("failed to unmarshal symbols: %w", err)
	}

	symbols := make([]string, 0, len(models))
	for _, m := range models {
		if checkStatus && !m.EnableTrading {
			continue
		}
		symbols = append(symbols, m.Symbol)
	}

	api.mu.Lock()
	api.cachedSymbols = append([]string(nil), symbols...)
	api.mu.Unlock()

	return symbols, nil
}

func parsePriceLevels(levels [][]string, limit int) []domain.PriceLevel {
	if limit > 0 && len(levels) > limit {
		levels = levels[:limit]
	}

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
