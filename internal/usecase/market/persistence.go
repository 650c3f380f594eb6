package market

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"crypto-pulse/internal/domain"
	"crypto-pulse/internal/infra/metrics"
)

// Persister раз в интервал пишет по точке истории на символ.
type Persister struct {
	source   SnapshotSource
	store    domain.HistoryStore
	interval time.Duration
	now      func() time.Time
	log      zerolog.Logger
}

// NewPersister создаёт цикл сохранения истории.
func NewPersister(source SnapshotSource, store domain.HistoryStore, interval time.Duration, log zerolog.Logger) *Persister {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Persister{source: source, store: store, interval: interval, now: time.Now, log: log}
}

// Run пишет историю до отмены ctx. Ошибки хранилища не прерывают цикл.
func (p *Persister) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := p.FlushOnce(ctx); err != nil && ctx.Err() == nil {
				p.log.Error().Err(err).Msg("persister: ошибка записи истории")
			}
		}
	}
}

// FlushOnce пишет текущие цены одним пакетом. Если пакет не прошёл,
// точки пишутся по одной, чтобы одна плохая строка не теряла остальные.
func (p *Persister) FlushOnce(ctx context.Context) (int, error) {
	snaps := p.source.Snapshots()
	if len(snaps) == 0 {
		return 0, nil
	}
	ts := p.now().UTC().Truncate(time.Second)
	points := make([]domain.HistoryPoint, 0, len(snaps))
	for symbol, s := range snaps {
		points = append(points, domain.HistoryPoint{Symbol: symbol, Price: s.Price, Timestamp: ts})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Symbol < points[j].Symbol })

	batchErr := p.store.AppendHistory(ctx, points)
	if batchErr == nil {
		metrics.HistoryPointsWritten.WithLabelValues("stream").Add(float64(len(points)))
		return len(points), nil
	}
	p.log.Warn().Err(batchErr).Int("points", len(points)).Msg("persister: пакет не записан, пишем по одной точке")

	written := 0
	var lastErr error
	for _, point := range points {
		if err := p.store.AppendHistory(ctx, []domain.HistoryPoint{point}); err != nil {
			lastErr = err
			p.log.Error().Err(err).Str("symbol", point.Symbol).Msg("persister: точка не записана")
			continue
		}
		written++
	}
	metrics.HistoryPointsWritten.WithLabelValues("stream").Add(float64(written))
	if lastErr != nil {
		return written, fmt.Errorf("записано %d из %d точек: %w", written, len(points), lastErr)
	}
	return written, nil
}
