package feargreed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"crypto-pulse/internal/domain"
	"crypto-pulse/internal/infra/httpclient"
	"crypto-pulse/internal/usecase/market"
)

// DefaultBaseURL адрес API индекса страха и жадности.
const DefaultBaseURL = "https://api.alternative.me"

// ErrEmpty ответ без точек индекса.
var ErrEmpty = errors.New("feargreed: пустой ответ")

// Client клиент alternative.me.
type Client struct {
	baseURL string
	http    *http.Client
}

var _ market.SentimentSource = (*Client)(nil)

// New создаёт клиента.
func New(baseURL string, client *http.Client) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if client == nil {
		client = httpclient.New()
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: client}
}

type response struct {
	Data []struct {
		Value           string `json:"value"`
		Classification  string `json:"value_classification"`
		Timestamp       string `json:"timestamp"`
		TimeUntilUpdate string `json:"time_until_update"`
	} `json:"data"`
}

// FearGreed возвращает последнее значение индекса. Числа в ответе приходят
// строками.
func (c *Client) FearGreed(ctx context.Context) (domain.Sentiment, error) {
	var resp response
	if err := httpclient.GetJSON(ctx, c.http, "feargreed", "fng", c.baseURL+"/fng/?limit=1", &resp); err != nil {
		return domain.Sentiment{}, err
	}
	if len(resp.Data) == 0 {
		return domain.Sentiment{}, ErrEmpty
	}
	point := resp.Data[0]
	value, err := strconv.Atoi(strings.TrimSpace(point.Value))
	if err != nil {
		return domain.Sentiment{}, fmt.Errorf("feargreed: значение %q: %w", point.Value, err)
	}
	out := domain.Sentiment{Value: value, Classification: point.Classification}
	if ts, ok := parseOptionalInt(point.Timestamp); ok {
		out.Timestamp = &ts
	}
	if left, ok := parseOptionalInt(point.TimeUntilUpdate); ok {
		out.TimeUntilUpdate = &left
	}
	return out, nil
}

func parseOptionalInt(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
