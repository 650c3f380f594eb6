package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"crypto-pulse/internal/domain"
	"crypto-pulse/internal/infra/metrics"
)

// ErrUnknownTask задача с неизвестным именем.
var ErrUnknownTask = errors.New("persist: неизвестная задача")

// Worker читает очередь сохранения и пишет сообщения и новости в хранилище.
// Обработчики идемпотентны, повторная доставка безопасна.
type Worker struct {
	queue    domain.TaskQueue
	messages domain.MessageStore
	news     domain.NewsStore
	log      zerolog.Logger

	retryDelay time.Duration
}

// NewWorker создаёт воркер.
func NewWorker(q domain.TaskQueue, messages domain.MessageStore, news domain.NewsStore, log zerolog.Logger) *Worker {
	return &Worker{queue: q, messages: messages, news: news, log: log, retryDelay: time.Second}
}

// Run обрабатывает задачи до отмены ctx.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info().Msg("persist: запуск обработки очереди")
	for {
		job, ack, err := w.queue.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.log.Error().Err(err).Msg("persist: ошибка чтения очереди")
			if !w.sleep(ctx) {
				return nil
			}
			continue
		}

		jobLog := w.log.With().Str("job_id", job.ID).Str("task", job.Task).Logger()
		err = w.Handle(ctx, job)
		switch {
		case err == nil:
			metrics.JobsHandled.WithLabelValues(job.Task, "ok").Inc()
			if ackErr := ack(true); ackErr != nil {
				jobLog.Error().Err(ackErr).Msg("persist: не удалось подтвердить задачу")
			}
		case errors.Is(err, ErrUnknownTask), errors.Is(err, domain.ErrInvalidRecord):
			metrics.JobsHandled.WithLabelValues(job.Task, "dropped").Inc()
			jobLog.Error().Err(err).Msg("persist: задача отброшена")
			if ackErr := ack(true); ackErr != nil {
				jobLog.Error().Err(ackErr).Msg("persist: не удалось подтвердить задачу")
			}
		default:
			metrics.JobsHandled.WithLabelValues(job.Task, "failed").Inc()
			jobLog.Error().Err(err).Msg("persist: задача завершилась ошибкой, вернём в очередь")
			if ackErr := ack(false); ackErr != nil {
				jobLog.Error().Err(ackErr).Msg("persist: не удалось вернуть задачу в очередь")
			}
			if !w.sleep(ctx) {
				return nil
			}
		}
	}
}

// Handle выполняет одну задачу.
func (w *Worker) Handle(ctx context.Context, job domain.PersistJob) error {
	if len(job.Args) == 0 {
		return fmt.Errorf("%w: %s без аргументов", ErrUnknownTask, job.Task)
	}
	switch job.Task {
	case domain.TaskPersistMessage:
		var msg domain.MessageRecord
		if err := json.Unmarshal(job.Args[0], &msg); err != nil {
			return fmt.Errorf("%w: аргумент сообщения: %v", ErrUnknownTask, err)
		}
		if err := w.messages.UpsertMessage(ctx, msg); err != nil {
			return fmt.Errorf("сохранение сообщения %s/%d: %w", msg.ChannelUsername, msg.ID, err)
		}
		w.log.Debug().Str("channel", msg.ChannelUsername).Int64("message", msg.ID).Msg("persist: сообщение сохранено")
		return nil
	case domain.TaskPersistNews:
		var items []domain.NewsItem
		if err := json.Unmarshal(job.Args[0], &items); err != nil {
			return fmt.Errorf("%w: аргумент новостей: %v", ErrUnknownTask, err)
		}
		saved, err := w.news.SaveNews(ctx, items)
		if err != nil {
			return fmt.Errorf("сохранение новостей: %w", err)
		}
		w.log.Info().Int("received", len(items)).Int("saved", saved).Msg("persist: новости сохранены")
		return nil
	}
	return fmt.Errorf("%w: %s", ErrUnknownTask, job.Task)
}

func (w *Worker) sleep(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(w.retryDelay):
		return true
	}
}
