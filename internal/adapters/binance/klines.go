package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"crypto-pulse/internal/infra/metrics"
	"crypto-pulse/internal/usecase/market"
)

// KlinesClient читает исторические свечи через REST API биржи.
type KlinesClient struct {
	baseURL string
	client  *http.Client
}

var _ market.KlineSource = (*KlinesClient)(nil)

// NewKlinesClient создаёт клиента REST API.
func NewKlinesClient(baseURL string, client *http.Client) *KlinesClient {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &KlinesClient{baseURL: baseURL, client: client}
}

// Klines возвращает свечи: время открытия (элемент 0) и цену закрытия (элемент 4).
func (c *KlinesClient) Klines(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("interval", interval)
	q.Set("limit", strconv.Itoa(limit))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v3/klines?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		metrics.ObserveNetworkRequest("binance", "klines", symbol, start, err)
		return nil, fmt.Errorf("запрос свечей: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err = fmt.Errorf("binance klines: статус %d: %s", resp.StatusCode, body)
		metrics.ObserveNetworkRequest("binance", "klines", symbol, start, err)
		return nil, err
	}
	var rows [][]json.RawMessage
	err = json.NewDecoder(resp.Body).Decode(&rows)
	metrics.ObserveNetworkRequest("binance", "klines", symbol, start, err)
	if err != nil {
		return nil, fmt.Errorf("декодирование свечей: %w", err)
	}
	return parseKlines(rows)
}

func parseKlines(rows [][]json.RawMessage) ([]market.Candle, error) {
	out := make([]market.Candle, 0, len(rows))
	for i, row := range rows {
		if len(row) < 5 {
			return nil, fmt.Errorf("свеча %d: ожидали минимум 5 полей, получили %d", i, len(row))
		}
		var openTime int64
		if err := json.Unmarshal(row[0], &openTime); err != nil {
			return nil, fmt.Errorf("свеча %d: время открытия: %w", i, err)
		}
		var close decimal.Decimal
		if err := json.Unmarshal(row[4], &close); err != nil {
			return nil, fmt.Errorf("свеча %d: цена закрытия: %w", i, err)
		}
		out = append(out, market.Candle{OpenTime: time.UnixMilli(openTime).UTC(), Close: close.InexactFloat64()})
	}
	return out, nil
}
