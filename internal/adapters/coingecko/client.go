package coingecko

import (
	"context"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"crypto-pulse/internal/infra/httpclient"
	"crypto-pulse/internal/usecase/market"
)

// DefaultBaseURL публичный API CoinGecko.
const DefaultBaseURL = "https://api.coingecko.com/api/v3"

// Client читает тренды и ранги монет.
type Client struct {
	baseURL string
	http    *http.Client
}

var (
	_ market.TrendingSource = (*Client)(nil)
	_ market.RankSource     = (*Client)(nil)
)

// New создаёт клиента CoinGecko.
func New(baseURL string, client *http.Client) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if client == nil {
		client = httpclient.New()
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: client}
}

type trendingResponse struct {
	Coins []struct {
		Item struct {
			ID     string `json:"id"`
			Symbol string `json:"symbol"`
		} `json:"item"`
	} `json:"coins"`
}

// Trending возвращает тикеры (в верхнем регистре) и id трендовых монет.
// Ошибка возвращается как есть, чтобы вызывающий сохранил прежний набор.
func (c *Client) Trending(ctx context.Context) ([]string, []string, error) {
	var resp trendingResponse
	if err := httpclient.GetJSON(ctx, c.http, "coingecko", "trending", c.baseURL+"/search/trending", &resp); err != nil {
		return nil, nil, err
	}
	symbols := make([]string, 0, len(resp.Coins))
	ids := make([]string, 0, len(resp.Coins))
	for _, coin := range resp.Coins {
		if s := strings.ToUpper(strings.TrimSpace(coin.Item.Symbol)); s != "" {
			symbols = append(symbols, s)
		}
		if coin.Item.ID != "" {
			ids = append(ids, coin.Item.ID)
		}
	}
	return symbols, ids, nil
}

type marketRow struct {
	ID            string `json:"id"`
	MarketCapRank *int   `json:"market_cap_rank"`
}

// MarketRanks возвращает ранг по капитализации для каждого id.
func (c *Client) MarketRanks(ctx context.Context, coinIDs []string) (map[string]int, error) {
	if len(coinIDs) == 0 {
		return map[string]int{}, nil
	}
	ids := append([]string(nil), coinIDs...)
	sort.Strings(ids)
	q := url.Values{}
	q.Set("vs_currency", "usd")
	q.Set("ids", strings.Join(ids, ","))
	q.Set("per_page", "250")
	var rows []marketRow
	if err := httpclient.GetJSON(ctx, c.http, "coingecko", "markets", c.baseURL+"/coins/markets?"+q.Encode(), &rows); err != nil {
		return nil, err
	}
	out := make(map[string]int, len(rows))
	for _, row := range rows {
		if row.MarketCapRank != nil {
			out[row.ID] = *row.MarketCapRank
		}
	}
	return out, nil
}
