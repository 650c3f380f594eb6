package market

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"crypto-pulse/internal/domain"
	"crypto-pulse/internal/infra/metrics"
)

// Candle закрытие свечи биржи.
type Candle struct {
	OpenTime time.Time
	Close    float64
}

// KlineSource отдаёт исторические свечи.
type KlineSource interface {
	Klines(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)
}

// Window окно исторических свечей.
type Window struct {
	Interval string
	Limit    int
}

// DefaultWindows час минутных свечей и сутки пятиминутных.
var DefaultWindows = []Window{{Interval: "1m", Limit: 60}, {Interval: "5m", Limit: 288}}

const (
	dedupLookback = time.Minute
	defaultSeed   = 50
)

// Backfiller разово подгружает историю при старте.
type Backfiller struct {
	klines  KlineSource
	store   domain.HistoryStore
	buffer  *RollingBuffer
	symbols []string
	windows []Window
	seed    int
	log     zerolog.Logger
}

// NewBackfiller создаёт загрузчик истории.
func NewBackfiller(klines KlineSource, store domain.HistoryStore, buffer *RollingBuffer, symbols []string, log zerolog.Logger) *Backfiller {
	return &Backfiller{
		klines:  klines,
		store:   store,
		buffer:  buffer,
		symbols: symbols,
		windows: DefaultWindows,
		seed:    defaultSeed,
		log:     log,
	}
}

// Run загружает свечи по всем символам и заполняет скользящий буфер.
// Ошибки отдельных символов логируются и не прерывают загрузку.
func (b *Backfiller) Run(ctx context.Context) {
	total := 0
	for _, symbol := range b.symbols {
		if ctx.Err() != nil {
			return
		}
		n, err := b.BackfillSymbol(ctx, symbol)
		if err != nil {
			b.log.Error().Err(err).Str("symbol", symbol).Msg("backfill: ошибка загрузки истории")
		}
		total += n
		if err := b.SeedBuffer(ctx, symbol); err != nil {
			b.log.Error().Err(err).Str("symbol", symbol).Msg("backfill: не удалось заполнить буфер")
		}
	}
	b.log.Info().Int("inserted", total).Int("symbols", len(b.symbols)).Msg("backfill: завершён")
}

// BackfillSymbol вставляет только точки, которых ещё нет в хранилище.
func (b *Backfiller) BackfillSymbol(ctx context.Context, symbol string) (int, error) {
	var points []domain.HistoryPoint
	var firstErr error
	for _, w := range b.windows {
		candles, err := b.klines.Klines(ctx, symbol, w.Interval, w.Limit)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("свечи %s: %w", w.Interval, err)
			}
			continue
		}
		for _, c := range candles {
			points = append(points, domain.HistoryPoint{Symbol: symbol, Price: c.Close, Timestamp: c.OpenTime.UTC()})
		}
	}
	if len(points) == 0 {
		return 0, firstErr
	}

	oldest := points[0].Timestamp
	for _, p := range points[1:] {
		if p.Timestamp.Before(oldest) {
			oldest = p.Timestamp
		}
	}
	existing, err := b.store.ExistingTimestamps(ctx, symbol, oldest.Add(-dedupLookback))
	if err != nil {
		return 0, fmt.Errorf("проверка существующих точек: %w", err)
	}
	if existing == nil {
		existing = make(map[int64]struct{})
	}

	fresh := make([]domain.HistoryPoint, 0, len(points))
	for _, p := range points {
		key := p.Timestamp.UnixMilli()
		if _, ok := existing[key]; ok {
			continue
		}
		existing[key] = struct{}{}
		fresh = append(fresh, p)
	}
	if len(fresh) == 0 {
		return 0, firstErr
	}
	if err := b.store.AppendHistory(ctx, fresh); err != nil {
		return 0, fmt.Errorf("вставка истории: %w", err)
	}
	metrics.HistoryPointsWritten.WithLabelValues("backfill").Add(float64(len(fresh)))
	return len(fresh), firstErr
}

// SeedBuffer кладёт последние точки из хранилища в скользящий буфер.
func (b *Backfiller) SeedBuffer(ctx context.Context, symbol string) error {
	if b.buffer == nil || b.seed <= 0 {
		return nil
	}
	recent, err := b.store.RecentHistory(ctx, symbol, b.seed)
	if err != nil {
		return err
	}
	for _, p := range recent {
		b.buffer.Append(symbol, domain.Sample{Time: p.Timestamp.UnixMilli(), Value: p.Price})
	}
	return nil
}
