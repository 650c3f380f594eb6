package defillama

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"crypto-pulse/internal/domain"
	"crypto-pulse/internal/infra/httpclient"
	"crypto-pulse/internal/usecase/market"
)

// Адреса API DefiLlama.
const (
	DefaultAPIURL    = "https://api.llama.fi"
	DefaultStableURL = "https://stablecoins.llama.fi"
)

const historyConcurrency = 4

// SlugResolver сопоставляет имя сети со slug исторического API.
type SlugResolver interface {
	ChainSlug(chain string) string
}

// Client собирает TVL сетей и протоколов и потоки стейблкоинов.
type Client struct {
	apiURL    string
	stableURL string
	http      *http.Client
	slugs     SlugResolver
	chains    []string
	protocols []string
	log       zerolog.Logger
}

var _ market.TVLSource = (*Client)(nil)

// Options настройки клиента.
type Options struct {
	APIURL    string
	StableURL string
	HTTP      *http.Client
	Slugs     SlugResolver
	// TrackedKeys ключи TVL из справочника: имена сетей и slug протоколов.
	TrackedKeys []string
	Protocols   []string
}

// New создаёт клиента DefiLlama.
func New(opts Options, log zerolog.Logger) *Client {
	c := &Client{
		apiURL:    strings.TrimRight(opts.APIURL, "/"),
		stableURL: strings.TrimRight(opts.StableURL, "/"),
		http:      opts.HTTP,
		slugs:     opts.Slugs,
		protocols: opts.Protocols,
		log:       log,
	}
	if c.apiURL == "" {
		c.apiURL = DefaultAPIURL
	}
	if c.stableURL == "" {
		c.stableURL = DefaultStableURL
	}
	if c.http == nil {
		c.http = httpclient.New()
	}
	protocolSet := make(map[string]struct{}, len(opts.Protocols))
	for _, p := range opts.Protocols {
		protocolSet[p] = struct{}{}
	}
	seen := make(map[string]struct{})
	for _, key := range opts.TrackedKeys {
		if _, isProtocol := protocolSet[key]; isProtocol {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		c.chains = append(c.chains, key)
	}
	sort.Strings(c.chains)
	return c
}

type chainRow struct {
	Name     string   `json:"name"`
	TVL      float64  `json:"tvl"`
	Change1d *float64 `json:"change_1d"`
	Mcap     *float64 `json:"mcap"`
}

type protocolRow struct {
	Slug     string   `json:"slug"`
	TVL      float64  `json:"tvl"`
	Change1d *float64 `json:"change_1d"`
	Mcap     *float64 `json:"mcap"`
}

type historyRow struct {
	Date int64   `json:"date"`
	TVL  float64 `json:"tvl"`
}

type stableRow struct {
	Name               string             `json:"name"`
	TotalCirculating   map[string]float64 `json:"totalCirculatingUSD"`
	CirculatingPrevDay map[string]float64 `json:"circulatingPrevDay"`
}

// Fetch опрашивает все эндпоинты. Любая ошибка основных запросов
// возвращается целиком, чтобы не заменять состояние неполными данными.
func (c *Client) Fetch(ctx context.Context) (market.TVLSnapshot, error) {
	var (
		chains    map[string]domain.TVLEntry
		protocols map[string]domain.TVLEntry
		flows     map[string]float64
		stableCap float64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		chains, err = c.fetchChains(gctx)
		return err
	})
	g.Go(func() (err error) {
		protocols, err = c.fetchProtocols(gctx)
		return err
	})
	g.Go(func() (err error) {
		flows, stableCap, err = c.fetchStableFlows(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return market.TVLSnapshot{}, err
	}

	c.applyHistoricalChanges(ctx, chains)

	total := 0.0
	for _, entry := range chains {
		total += entry.TVL
	}
	return market.TVLSnapshot{
		Data:  market.TVLData{Chains: chains, Protocols: protocols},
		Flows: flows,
		Global: domain.GlobalStats{
			TotalTVL:       total,
			ChainCount:     len(chains),
			StablecoinMcap: stableCap,
		},
	}, nil
}

func (c *Client) fetchChains(ctx context.Context) (map[string]domain.TVLEntry, error) {
	var rows []chainRow
	if err := httpclient.GetJSON(ctx, c.http, "defillama", "chains", c.apiURL+"/chains", &rows); err != nil {
		return nil, err
	}
	out := make(map[string]domain.TVLEntry, len(rows))
	for _, row := range rows {
		if row.Name == "" {
			continue
		}
		out[row.Name] = domain.TVLEntry{TVL: row.TVL, Change1d: row.Change1d, MarketCap: row.Mcap}
	}
	return out, nil
}

func (c *Client) fetchProtocols(ctx context.Context) (map[string]domain.TVLEntry, error) {
	out := make(map[string]domain.TVLEntry, len(c.protocols))
	if len(c.protocols) == 0 {
		return out, nil
	}
	var rows []protocolRow
	if err := httpclient.GetJSON(ctx, c.http, "defillama", "protocols", c.apiURL+"/protocols", &rows); err != nil {
		return nil, err
	}
	wanted := make(map[string]struct{}, len(c.protocols))
	for _, p := range c.protocols {
		wanted[p] = struct{}{}
	}
	for _, row := range rows {
		if _, ok := wanted[row.Slug]; ok {
			out[row.Slug] = domain.TVLEntry{TVL: row.TVL, Change1d: row.Change1d, MarketCap: row.Mcap}
		}
	}
	return out, nil
}

func (c *Client) fetchStableFlows(ctx context.Context) (map[string]float64, float64, error) {
	var rows []stableRow
	if err := httpclient.GetJSON(ctx, c.http, "defillama", "stablecoinchains", c.stableURL+"/stablecoinchains", &rows); err != nil {
		return nil, 0, err
	}
	flows := make(map[string]float64, len(rows))
	total := 0.0
	for _, row := range rows {
		if row.Name == "" {
			continue
		}
		current := row.TotalCirculating["peggedUSD"]
		prev := row.CirculatingPrevDay["peggedUSD"]
		total += current
		if prev == 0 {
			continue
		}
		flows[row.Name] = current - prev
	}
	return flows, total, nil
}

// applyHistoricalChanges уточняет суточное изменение TVL отслеживаемых сетей.
// Ошибка по отдельной сети оставляет значение из /chains.
func (c *Client) applyHistoricalChanges(ctx context.Context, chains map[string]domain.TVLEntry) {
	type result struct {
		name   string
		change float64
		ok     bool
	}
	var targets []string
	for _, name := range c.chains {
		if _, ok := chains[name]; ok {
			targets = append(targets, name)
		}
	}
	results := make([]result, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(historyConcurrency)
	for i, name := range targets {
		g.Go(func() error {
			change, ok, err := c.chainChange(gctx, name)
			if err != nil {
				c.log.Warn().Err(err).Str("chain", name).Msg("defillama: нет исторического TVL")
				return nil
			}
			results[i] = result{name: name, change: change, ok: ok}
			return nil
		})
	}
	_ = g.Wait()
	for _, r := range results {
		if !r.ok {
			continue
		}
		entry := chains[r.name]
		change := r.change
		entry.Change1d = &change
		chains[r.name] = entry
	}
}

func (c *Client) chainChange(ctx context.Context, chain string) (float64, bool, error) {
	slug := chain
	if c.slugs != nil {
		slug = c.slugs.ChainSlug(chain)
	}
	var rows []historyRow
	endpoint := fmt.Sprintf("%s/v2/historicalChainTvl/%s", c.apiURL, url.PathEscape(slug))
	if err := httpclient.GetJSON(ctx, c.http, "defillama", "historical_chain_tvl", endpoint, &rows); err != nil {
		return 0, false, err
	}
	values := make([]float64, len(rows))
	for i, row := range rows {
		values[i] = row.TVL
	}
	change, ok := DailyChange(values)
	return change, ok, nil
}

// DailyChange сравнивает два последних различающихся значения TVL
// (повторы подряд в конце ряда схлопываются). Процент округляется до сотых.
func DailyChange(values []float64) (float64, bool) {
	if len(values) < 2 {
		return 0, false
	}
	var latest, prev float64
	found := 0
	for i := len(values) - 1; i >= 0 && found < 2; i-- {
		tvl := values[i]
		if found == 1 && tvl == latest {
			continue
		}
		if found == 0 {
			latest = tvl
		} else {
			prev = tvl
		}
		found++
	}
	if found < 2 || prev <= 0 {
		return 0, false
	}
	pct := (latest - prev) / prev * 100
	return decimal.NewFromFloat(pct).Round(2).InexactFloat64(), true
}
