package market

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"crypto-pulse/internal/domain"
	"crypto-pulse/internal/infra/metrics"
)

// SnapshotSource отдаёт копию таблицы последних снимков.
type SnapshotSource interface {
	Snapshots() map[string]domain.PriceSnapshot
}

// Publisher раз в интервал публикует все снимки одним пакетом
// в шину и в ключ последнего значения.
type Publisher struct {
	source   SnapshotSource
	bus      domain.Publisher
	cache    domain.Cache
	interval time.Duration
	log      zerolog.Logger
}

// NewPublisher создаёт публикатор снимков.
func NewPublisher(source SnapshotSource, bus domain.Publisher, cache domain.Cache, interval time.Duration, log zerolog.Logger) *Publisher {
	if interval <= 0 {
		interval = time.Second
	}
	return &Publisher{source: source, bus: bus, cache: cache, interval: interval, log: log}
}

// Run публикует до отмены ctx.
func (p *Publisher) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := p.PublishOnce(ctx); err != nil && ctx.Err() == nil {
				p.log.Error().Err(err).Msg("publisher: ошибка публикации")
			}
		}
	}
}

// PublishOnce публикует текущую таблицу. Пустая таблица не публикуется.
func (p *Publisher) PublishOnce(ctx context.Context) (bool, error) {
	snaps := p.source.Snapshots()
	if len(snaps) == 0 {
		return false, nil
	}
	payload, err := json.Marshal(domain.PricesPayload{Prices: snaps})
	if err != nil {
		return false, fmt.Errorf("marshal снимков: %w", err)
	}
	pubErr := p.bus.Publish(ctx, domain.TopicPrices, payload)
	setErr := p.cache.Set(ctx, domain.KeyPrices, payload, 0)
	if pubErr != nil {
		return false, fmt.Errorf("публикация в шину: %w", pubErr)
	}
	if setErr != nil {
		return false, fmt.Errorf("запись последнего значения: %w", setErr)
	}
	metrics.SnapshotsPublished.Inc()
	return true, nil
}
