package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"crypto-pulse/internal/adapters/cryptopanic"
	"crypto-pulse/internal/adapters/mtproto"
	"crypto-pulse/internal/adapters/repo"
	"crypto-pulse/internal/domain"
	"crypto-pulse/internal/infra/bus"
	"crypto-pulse/internal/infra/cache"
	"crypto-pulse/internal/infra/config"
	"crypto-pulse/internal/infra/db"
	"crypto-pulse/internal/infra/httpclient"
	applog "crypto-pulse/internal/infra/log"
	"crypto-pulse/internal/infra/metrics"
	"crypto-pulse/internal/infra/queue"
	"crypto-pulse/internal/infra/supervisor"
	"crypto-pulse/internal/usecase/messages"
	"crypto-pulse/internal/usecase/news"
)

// app владеет всеми экземплярами процесса мониторинга каналов и новостей.
type app struct {
	cfg config.AppConfig
	log zerolog.Logger

	pool       *pgxpool.Pool
	redis      *redis.Client
	closeQueue func() error

	messages *messages.Service
	news     *news.Poller
}

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("news-monitor: не удалось запустить")
	}
	defer a.close()

	metrics.StartServer(ctx, applog.Component(logger, "metrics"), cfg.MetricsAddr, nil)

	group := supervisor.New(ctx, applog.Component(logger, "supervisor"))
	group.Go("messages", a.messages.Run)
	group.Go("messages:status", a.messages.RunStatus)
	group.Go("news", a.news.Run)
	logger.Info().Bool("telegram", cfg.HasTelegramCredentials()).Msg("news-monitor: запущен")

	<-ctx.Done()
	logger.Info().Msg("news-monitor: остановка")
	if err := group.Shutdown(cfg.ShutdownGrace); err != nil {
		logger.Error().Err(err).Msg("news-monitor: задачи не остановились")
	}
}

func newApp(ctx context.Context, cfg config.AppConfig, logger zerolog.Logger) (*app, error) {
	catalog, err := config.LoadCatalog(cfg.CatalogFile)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: logger}

	a.redis, err = cache.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return nil, err
	}
	tasks, closeQueue, err := queue.Open(cfg.Queue.Backend, cfg.Queue.RabbitURL, cfg.Queue.Name, a.redis)
	if err != nil {
		a.close()
		return nil, err
	}
	a.closeQueue = closeQueue

	publisher := bus.NewRedisBus(a.redis, applog.Component(logger, "bus"))
	latest := cache.NewRedis(a.redis)

	var (
		session  messages.Session
		channels *repo.Postgres
	)
	if cfg.PGDSN != "" {
		a.pool, err = db.Connect(cfg.PGDSN)
		if err != nil {
			a.close()
			return nil, err
		}
		if err := db.Migrate(ctx, a.pool); err != nil {
			a.close()
			return nil, err
		}
		channels = repo.NewPostgres(a.pool)
	}
	switch {
	case !cfg.HasTelegramCredentials():
		logger.Warn().Msg("news-monitor: нет TG_API_ID/TG_API_HASH, работаем в демо-режиме")
	case channels == nil && cfg.Telegram.SessionFile == "":
		logger.Warn().Msg("news-monitor: негде хранить сессию MTProto (PG_DSN или MTPROTO_SESSION_FILE), работаем в демо-режиме")
	default:
		var sessions mtproto.SessionRepo
		if channels != nil {
			sessions = channels
		}
		session = mtproto.NewClient(mtproto.Options{
			APIID:    cfg.Telegram.APIID,
			APIHash:  cfg.Telegram.APIHash,
			Storage:  mtproto.NewStorage(sessions, cfg.Telegram.SessionName, cfg.Telegram.SessionFile),
			MediaDir: cfg.Telegram.MediaDir,
		}, applog.Component(logger, "mtproto"))
	}

	demoChannels := make([]messages.DemoChannel, 0, len(catalog.Demo.Channels))
	for _, ch := range catalog.Demo.Channels {
		demoChannels = append(demoChannels, messages.DemoChannel{Username: ch.Username, Title: ch.Title})
	}
	mc := cfg.Messages
	proc := messages.NewProcessor(messages.NewBuffer(mc.BufferSize), publisher, tasks, applog.Component(logger, "processor"))

	var channelRepo domain.ChannelRepo
	if channels != nil {
		channelRepo = channels
	}
	a.messages = messages.NewService(session, proc, latest, channelRepo, messages.ServiceConfig{
		Channels:          catalog.Channels,
		HistoryLimit:      mc.HistoryLimit,
		HeartbeatInterval: mc.HeartbeatInterval,
		RecencyWindow:     mc.RecencyWindow,
		StatusInterval:    mc.HeartbeatInterval,
		DemoChannels:      demoChannels,
		DemoTexts:         catalog.Demo.Texts,
	}, applog.Component(logger, "messages"))

	posts := cryptopanic.New(cryptopanic.DefaultBaseURL, cfg.CryptoPanic.Token, httpclient.New())
	a.news = news.NewPoller(posts, publisher, tasks, cfg.CryptoPanic.Schedule, applog.Component(logger, "news"))
	return a, nil
}

func (a *app) close() {
	if a.closeQueue != nil {
		if err := a.closeQueue(); err != nil {
			a.log.Warn().Err(err).Msg("news-monitor: закрытие очереди")
		}
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
