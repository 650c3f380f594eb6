package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"crypto-pulse/internal/adapters/repo"
	"crypto-pulse/internal/infra/cache"
	"crypto-pulse/internal/infra/config"
	"crypto-pulse/internal/infra/db"
	applog "crypto-pulse/internal/infra/log"
	"crypto-pulse/internal/infra/metrics"
	"crypto-pulse/internal/infra/queue"
	"crypto-pulse/internal/infra/supervisor"
	"crypto-pulse/internal/usecase/persist"
)

// app владеет подключениями воркера сохранения.
type app struct {
	log zerolog.Logger

	pool       *pgxpool.Pool
	redis      *redis.Client
	closeQueue func() error

	worker *persist.Worker
}

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("persist-worker: не удалось запустить")
	}
	defer a.close()

	metrics.StartServer(ctx, applog.Component(logger, "metrics"), cfg.MetricsAddr, nil)

	group := supervisor.New(ctx, applog.Component(logger, "supervisor"))
	group.Go("persist", a.worker.Run)

	<-ctx.Done()
	logger.Info().Msg("persist-worker: остановка")
	if err := group.Shutdown(cfg.ShutdownGrace); err != nil {
		logger.Error().Err(err).Msg("persist-worker: задачи не остановились")
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
	if cfg.Queue.Backend != queue.BackendRabbitMQ {
		a.redis, err = cache.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			a.close()
			return nil, err
		}
	}
	tasks, closeQueue, err := queue.Open(cfg.Queue.Backend, cfg.Queue.RabbitURL, cfg.Queue.Name, a.redis)
	if err != nil {
		a.close()
		return nil, err
	}
	a.closeQueue = closeQueue

	store := repo.NewPostgres(a.pool)
	a.worker = persist.NewWorker(tasks, store, store, applog.Component(logger, "persist"))
	return a, nil
}

func (a *app) close() {
	if a.closeQueue != nil {
		if err := a.closeQueue(); err != nil {
			a.log.Warn().Err(err).Msg("persist-worker: закрытие очереди")
		}
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
