package news

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"crypto-pulse/internal/adapters/cryptopanic"
	"crypto-pulse/internal/domain"
	"crypto-pulse/internal/infra/metrics"
	"crypto-pulse/internal/infra/queue"
)

// EventNewsUpdate тип события в топике новостей.
const EventNewsUpdate = "cryptopanic_update"

// Source отдаёт свежие новости агрегатора.
type Source interface {
	Posts(ctx context.Context) ([]domain.NewsItem, error)
}

// Poller по расписанию забирает новости, публикует их и ставит задачу сохранения.
type Poller struct {
	source   Source
	bus      domain.Publisher
	queue    domain.TaskQueue
	schedule string
	log      zerolog.Logger
}

// NewPoller создаёт опросчик. Пустое расписание означает @every 6h.
func NewPoller(source Source, bus domain.Publisher, q domain.TaskQueue, schedule string, log zerolog.Logger) *Poller {
	if schedule == "" {
		schedule = "@every 6h"
	}
	return &Poller{source: source, bus: bus, queue: q, schedule: schedule, log: log}
}

// Run делает первый опрос сразу и дальше работает по cron до отмены ctx.
func (p *Poller) Run(ctx context.Context) error {
	c := cron.New()
	if _, err := c.AddFunc(p.schedule, func() { p.poll(ctx) }); err != nil {
		return fmt.Errorf("расписание новостей %q: %w", p.schedule, err)
	}
	p.poll(ctx)
	c.Start()
	p.log.Info().Str("schedule", p.schedule).Msg("news: опрос запущен")

	<-ctx.Done()
	stopped := c.Stop()
	<-stopped.Done()
	return nil
}

func (p *Poller) poll(ctx context.Context) {
	n, err := p.PollOnce(ctx)
	switch {
	case errors.Is(err, cryptopanic.ErrNoToken):
		p.log.Warn().Msg("news: токен CryptoPanic не задан, опрос пропущен")
	case err != nil:
		if ctx.Err() == nil {
			metrics.RefreshFailures.WithLabelValues("cryptopanic").Inc()
			p.log.Error().Err(err).Msg("news: не удалось обновить новости")
		}
	default:
		p.log.Info().Int("items", n).Msg("news: новости обновлены")
	}
}

// PollOnce забирает новости, публикует событие и ставит задачу сохранения.
// Ошибка публикации не мешает сохранению.
func (p *Poller) PollOnce(ctx context.Context) (int, error) {
	items, err := p.source.Posts(ctx)
	if err != nil {
		return 0, err
	}
	if len(items) == 0 {
		return 0, nil
	}

	payload, err := json.Marshal(struct {
		Type string            `json:"type"`
		Data []domain.NewsItem `json:"data"`
	}{Type: EventNewsUpdate, Data: items})
	if err != nil {
		return 0, fmt.Errorf("marshal новостей: %w", err)
	}
	if err := p.bus.Publish(ctx, domain.TopicNews, payload); err != nil {
		p.log.Error().Err(err).Msg("news: не удалось опубликовать новости")
	}

	job, err := queue.NewJob(domain.TaskPersistNews, items)
	if err != nil {
		return 0, err
	}
	if err := p.queue.Enqueue(ctx, job); err != nil {
		return 0, fmt.Errorf("постановка задачи сохранения: %w", err)
	}
	return len(items), nil
}
