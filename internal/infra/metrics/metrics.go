package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	TicksProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ticks_processed_total",
		Help: "Обработанные тики биржи",
	}, []string{"symbol"})
	FeedMalformed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "feed_malformed_frames_total",
		Help: "Отброшенные кадры фида с неверной структурой",
	})
	FeedReconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "feed_reconnects_total",
		Help: "Переподключения к фиду биржи",
	})
	FeedConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "feed_connected",
		Help: "1, если подписка на фид активна",
	})
	SnapshotsPublished = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "snapshots_published_total",
		Help: "Опубликованные пакеты цен",
	})
	HistoryPointsWritten = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "history_points_written_total",
		Help: "Точки истории цен, отправленные в хранилище",
	}, []string{"source"})
	RefreshFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "refresh_failures_total",
		Help: "Ошибки фоновых обновлений аннотаций",
	}, []string{"source"})
	MessagesProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "messages_processed_total",
		Help: "Сообщения каналов по результату обработки",
	}, []string{"outcome"})
	JobsHandled = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "persist_jobs_total",
		Help: "Задачи сохранения по статусу",
	}, []string{"task", "status"})
	WSClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ws_clients",
		Help: "Подключённые WebSocket клиенты",
	})
	TaskRestarts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "supervisor_task_restarts_total",
		Help: "Перезапуски фоновых задач",
	}, []string{"task"})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 15, 30, 60},
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		TicksProcessed,
		FeedMalformed,
		FeedReconnects,
		FeedConnected,
		SnapshotsPublished,
		HistoryPointsWritten,
		RefreshFailures,
		MessagesProcessed,
		JobsHandled,
		WSClients,
		TaskRestarts,
		NetworkRequestDuration,
		NetworkRequestTotal,
	)
}

// StartServer запускает HTTP сервер с эндпоинтом /metrics.
// Дополнительные обработчики (например, /healthz) монтируются через extra.
func StartServer(ctx context.Context, logger zerolog.Logger, addr string, extra map[string]http.Handler) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	for path, h := range extra {
		mux.Handle(path, h)
	}
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	shutdownCtx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-ctx.Done():
		case <-shutdownCtx.Done():
		}
		shutdownTimeout, timeoutCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer timeoutCancel()
		if err := srv.Shutdown(shutdownTimeout); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: graceful shutdown failed")
		}
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics: server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: server stopped")
		}
		cancel()
	}()
}

// ObserveNetworkRequest записывает длительность и статус сетевого запроса.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	duration := time.Since(start).Seconds()
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(duration)
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}
