package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/spooky-finn/go-orderbook-collector/domain"
)

// SyncAPI is the exchange's REST surface: authoritative depth snapshots and
// the exchange-info symbol listing.
type SyncAPI struct {
	endpoint string
	client   *http.Client

	mu            sync.Mutex
	cachedSymbols []string
}

func NewSyncAPI(endpoint string) *SyncAPI {
	return &SyncAPI{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 15 * time.Second},
	}
}

type depthResponse struct {
	LastUpdateId int64      `json:"lastUpdateId"`
	Bids         [][]string `json:"bids"`
	Asks         [][]string `json:"asks"`
}

func (api *SyncAPI) GetOrderBook(ctx context.Context, symbol string, limit int) (*domain.SnapshotResponse, error) {
	query := url.Values{}
	query.Set("symbol", symbol)
	query.Set("limit", strconv.Itoa(limit))

	body, err := api.get(ctx, "/api/v3/depth?"+query.Encode())
	if err != nil {
		return nil, fmt.Errorf("failed to get order book snapshot: %w", err)
	}

	data := &depthResponse{}
	if err = json.Unmarshal(body, data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal depth response: %w, data: %s", err, body)
	}

	return &domain.SnapshotResponse{
		LastUpdateID: data.LastUpdateId,
		Bids:         parsePriceLevels(data.Bids),
		Asks:         parsePriceLevels(data.Asks),
		Timestamp:    time.Now(),
	}, nil
}

type exchangeInfoResponse struct {
	Symbols []struct {
		Symbol string `json:"symbol"`
		Status string `json:"status"`
	} `json:"symbols"`
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

	body, err := api.get(ctx, "/api/v3/exchangeInfo")
	if err != nil {
		return nil, fmt.Errorf("failed to get exchange info: %w", err)
	}

	data := &exchangeInfoResponse{}
	if err = json.Unmarshal(body, data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal exchange info: %w", err)
	}

	symbols := make([]string, 0, len(data.Symbols))
	for _, s := range data.Symbols {
		if checkStatus && s.Status != "TRADING" {
			continue
		}
		symbols = append(symbols, s.Symbol)
	}

	api.mu.Lock()
	api.cachedSymbols = append([]string(nil), symbols...)
	api.mu.Unlock()

	return symbols, nil
}

func (api *SyncAPI) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, api.endpoint+path, nil)
	if err != nil {
		return nil, err
	}

	res, err := api.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d: %s", res.StatusCode, body)
	}
	return body, nil
}
