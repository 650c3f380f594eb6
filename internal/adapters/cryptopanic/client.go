package cryptopanic

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"crypto-pulse/internal/domain"
	"crypto-pulse/internal/infra/httpclient"
)

// DefaultBaseURL адрес developer API v2.
const DefaultBaseURL = "https://cryptopanic.com/api/developer/v2"

// ErrNoToken токен не задан, опрос пропускается.
var ErrNoToken = errors.New("cryptopanic: токен не задан")

// Client клиент ленты постов CryptoPanic.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	now     func() time.Time
}

// New создаёт клиента.
func New(baseURL, token string, client *http.Client) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if client == nil {
		client = httpclient.New()
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), token: token, http: client, now: time.Now}
}

type post struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	PublishedAt string `json:"published_at"`
	Kind        string `json:"kind"`
	URL         string `json:"url"`
	Source      *struct {
		Title string `json:"title"`
	} `json:"source"`
}

type postsResponse struct {
	Results []post `json:"results"`
}

// Posts возвращает последние посты. Записи без заголовка или даты
// отбрасываются, непарсящаяся дата заменяется текущим временем.
func (c *Client) Posts(ctx context.Context) ([]domain.NewsItem, error) {
	if c.token == "" {
		return nil, ErrNoToken
	}
	endpoint := c.baseURL + "/posts/?auth_token=" + url.QueryEscape(c.token)
	var resp postsResponse
	if err := httpclient.GetJSON(ctx, c.http, "cryptopanic", "posts", endpoint, &resp); err != nil {
		return nil, err
	}
	items := make([]domain.NewsItem, 0, len(resp.Results))
	for _, p := range resp.Results {
		title := strings.TrimSpace(p.Title)
		if title == "" || p.PublishedAt == "" {
			continue
		}
		published, err := time.Parse(time.RFC3339, p.PublishedAt)
		if err != nil {
			published = c.now()
		}
		kind := p.Kind
		if kind == "" {
			kind = "news"
		}
		item := domain.NewsItem{
			Title:       title,
			Description: p.Description,
			PublishedAt: published.UTC(),
			Kind:        kind,
			URL:         p.URL,
		}
		if p.Source != nil {
			item.SourceTitle = p.Source.Title
		}
		items = append(items, item)
	}
	return items, nil
}
