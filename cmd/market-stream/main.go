package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"crypto-pulse/internal/adapters/binance"
	"crypto-pulse/internal/adapters/coingecko"
	"crypto-pulse/internal/adapters/defillama"
	"crypto-pulse/internal/adapters/feargreed"
	"crypto-pulse/internal/adapters/repo"
	"crypto-pulse/internal/infra/bus"
	"crypto-pulse/internal/infra/cache"
	"crypto-pulse/internal/infra/config"
	"crypto-pulse/internal/infra/db"
	"crypto-pulse/internal/infra/httpclient"
	applog "crypto-pulse/internal/infra/log"
	"crypto-pulse/internal/infra/metrics"
	"crypto-pulse/internal/infra/supervisor"
	"crypto-pulse/internal/usecase/market"
)

// app владеет всеми экземплярами процесса конвейера цен.
type app struct {
	cfg     config.AppConfig
	catalog config.Catalog
	log     zerolog.Logger

	pool   *pgxpool.Pool
	redis  *redis.Client
	stream *binance.Stream

	controller *market.Controller
}

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("market-stream: не удалось запустить")
	}
	defer a.close()

	metrics.StartServer(ctx, applog.Component(logger, "metrics"), cfg.MetricsAddr, map[string]http.Handler{
		"/healthz": http.HandlerFunc(a.healthz),
	})

	group := supervisor.New(ctx, applog.Component(logger, "supervisor"))
	a.controller.Start(group.Context(), group)

	<-ctx.Done()
	logger.Info().Msg("market-stream: остановка")
	if err := a.stream.Close(); err != nil {
		logger.Warn().Err(err).Msg("market-stream: закрытие фида")
	}
	if err := group.Shutdown(cfg.ShutdownGrace); err != nil {
		logger.Error().Err(err).Msg("market-stream: задачи не остановились")
	}
}

func newApp(ctx context.Context, cfg config.AppConfig, logger zerolog.Logger) (*app, error) {
	catalog, err := config.LoadCatalog(cfg.CatalogFile)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, catalog: catalog, log: logger}

	a.pool, err = db.Connect(cfg.PGDSN)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx, a.pool); err != nil {
		a.close()
		return nil, err
	}
	a.redis, err = cache.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		a.close()
		return nil, err
	}

	store := repo.NewPostgres(a.pool)
	publisher := bus.NewRedisBus(a.redis, applog.Component(logger, "bus"))
	latest := cache.NewRedis(a.redis)
	client := httpclient.New()
	mc := cfg.Market

	state := market.NewAnnotationState(catalog, catalog.TVLKeys, catalog.CoinGeckoIDs)
	buffer := market.NewRollingBuffer(mc.BufferSize)
	processor := market.NewProcessor(buffer, state)

	gecko := coingecko.New(coingecko.DefaultBaseURL, client)
	llama := defillama.New(defillama.Options{
		HTTP:        client,
		Slugs:       catalog,
		TrackedKeys: trackedKeys(catalog),
		Protocols:   catalog.Protocols,
	}, applog.Component(logger, "defillama"))
	fng := feargreed.New(feargreed.DefaultBaseURL, client)

	a.stream = binance.NewStream(mc.StreamURL, catalog.Symbols, mc.ReconnectDelay, applog.Component(logger, "feed"))
	a.controller = &market.Controller{
		Feed:      a.stream,
		Processor: processor,
		Publisher: market.NewPublisher(processor, publisher, latest, mc.PublishInterval, applog.Component(logger, "publisher")),
		Persister: market.NewPersister(processor, store, mc.PersistInterval, applog.Component(logger, "persister")),
		Refreshers: []*market.Refresher{
			market.NewTrendingRefresher(gecko, state, mc.TrendingInterval, mc.RetryInterval, applog.Component(logger, "trending")),
			market.NewRankRefresher(gecko, state, mc.RanksInterval, mc.RetryInterval, applog.Component(logger, "ranks")),
			market.NewTVLRefresher(llama, state, mc.TVLInterval, mc.RetryInterval, applog.Component(logger, "tvl")),
			market.NewSentimentRefresher(fng, state, latest, mc.SentimentEvery, mc.RetryInterval, applog.Component(logger, "sentiment")),
		},
		Log: applog.Component(logger, "controller"),
	}
	if !mc.SkipBackfill {
		klines := binance.NewKlinesClient(mc.RESTURL, client)
		a.controller.Backfiller = market.NewBackfiller(klines, store, buffer, catalog.Symbols, applog.Component(logger, "backfill"))
	}
	return a, nil
}

// trackedKeys уникальные ключи TVL из справочника.
func trackedKeys(c config.Catalog) []string {
	seen := make(map[string]struct{}, len(c.TVLKeys))
	keys := make([]string, 0, len(c.TVLKeys))
	for _, symbol := range c.Symbols {
		key, ok := c.TVLKeys[symbol]
		if !ok {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	return keys
}

func (a *app) healthz(w http.ResponseWriter, _ *http.Request) {
	connected := a.stream != nil && a.stream.Connected()
	w.Header().Set("Content-Type", "application/json")
	if !connected {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"feed_connected": connected,
		"feed_state":     a.stream.State().String(),
	})
}

func (a *app) close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
