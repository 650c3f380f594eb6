package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"crypto-pulse/internal/adapters/repo"
	"crypto-pulse/internal/api"
	"crypto-pulse/internal/infra/bus"
	"crypto-pulse/internal/infra/cache"
	"crypto-pulse/internal/infra/config"
	"crypto-pulse/internal/infra/db"
	httpinfra "crypto-pulse/internal/infra/http"
	applog "crypto-pulse/internal/infra/log"
	"crypto-pulse/internal/infra/metrics"
	"crypto-pulse/internal/infra/supervisor"
	"crypto-pulse/internal/usecase/channels"
)

// app владеет всеми экземплярами процесса API.
type app struct {
	log zerolog.Logger

	pool  *pgxpool.Pool
	redis *redis.Client

	server  *httpinfra.Server
	hub     *api.Hub
	gateway *api.Gateway
	bus     *bus.RedisBus
}

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: не удалось запустить")
	}
	defer a.close()

	group := supervisor.New(ctx, applog.Component(logger, "supervisor"))
	group.Go("ws-hub", a.hub.Run)
	group.Go("gateway", func(ctx context.Context) error {
		return a.gateway.Run(ctx, a.bus)
	})
	group.Go("http", func(ctx context.Context) error {
		return a.server.Run(ctx, cfg.HTTPAddr)
	})

	<-ctx.Done()
	logger.Info().Msg("api: остановка")
	if err := group.Shutdown(cfg.ShutdownGrace); err != nil {
		logger.Error().Err(err).Msg("api: задачи не остановились")
	}
}

func newApp(ctx context.Context, cfg config.AppConfig, logger zerolog.Logger) (*app, error) {
	a := &app{log: logger}
	var err error

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
	a.bus = bus.NewRedisBus(a.redis, applog.Component(logger, "bus"))
	a.hub = api.NewHub(30*time.Second, applog.Component(logger, "ws"))
	a.gateway = api.NewGateway(a.hub, applog.Component(logger, "gateway"))
	a.server = httpinfra.NewServer(applog.Component(logger, "http"))

	api.New(api.Deps{
		Gateway:  a.gateway,
		Hub:      a.hub,
		Cache:    cache.NewRedis(a.redis),
		History:  store,
		Messages: store,
		News:     store,
		Channels: channels.NewService(store),
		MediaDir: cfg.Telegram.MediaDir,
		Log:      applog.Component(logger, "api"),
	}).Mount(a.server.Router)
	return a, nil
}

func (a *app) close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
