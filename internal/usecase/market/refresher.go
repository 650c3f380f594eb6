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

// TrendingSource отдаёт трендовые монеты.
type TrendingSource interface {
	Trending(ctx context.Context) (symbols, coinIDs []string, err error)
}

// RankSource отдаёт ранги по капитализации для id CoinGecko.
type RankSource interface {
	MarketRanks(ctx context.Context, coinIDs []string) (map[string]int, error)
}

// TVLSnapshot результат одного опроса DefiLlama.
type TVLSnapshot struct {
	Data   TVLData
	Flows  map[string]float64
	Global domain.GlobalStats
}

// TVLSource отдаёт данные TVL и потоков стейблкоинов.
type TVLSource interface {
	Fetch(ctx context.Context) (TVLSnapshot, error)
}

// SentimentSource отдаёт индекс страха и жадности.
type SentimentSource interface {
	FearGreed(ctx context.Context) (domain.Sentiment, error)
}

// Refresher фоновый цикл одного источника. Ошибка логируется, данные
// источника остаются прежними, следующий опрос через RetryInterval.
type Refresher struct {
	Name          string
	Interval      time.Duration
	RetryInterval time.Duration
	Refresh       func(ctx context.Context) error

	log zerolog.Logger
}

// Run крутит цикл до отмены ctx.
func (r *Refresher) Run(ctx context.Context) error {
	r.log.Info().Str("source", r.Name).Dur("interval", r.Interval).Msg("refresher: старт")
	for {
		wait := r.Interval
		if err := r.RefreshOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			wait = r.RetryInterval
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

// RefreshOnce выполняет одно обновление.
func (r *Refresher) RefreshOnce(ctx context.Context) error {
	err := r.Refresh(ctx)
	if err != nil {
		metrics.RefreshFailures.WithLabelValues(r.Name).Inc()
		r.log.Error().Err(err).Str("source", r.Name).Msg("refresher: ошибка обновления")
	}
	return err
}

// NewTrendingRefresher обновляет набор трендов.
func NewTrendingRefresher(src TrendingSource, state *AnnotationState, every, retry time.Duration, log zerolog.Logger) *Refresher {
	return &Refresher{
		Name: "trending", Interval: every, RetryInterval: retry, log: log,
		Refresh: func(ctx context.Context) error {
			symbols, ids, err := src.Trending(ctx)
			if err != nil {
				return fmt.Errorf("тренды: %w", err)
			}
			state.SetTrending(NewTrendingSet(symbols, ids))
			log.Debug().Int("count", len(symbols)).Msg("refresher: тренды обновлены")
			return nil
		},
	}
}

// NewRankRefresher обновляет ранги по капитализации.
func NewRankRefresher(src RankSource, state *AnnotationState, every, retry time.Duration, log zerolog.Logger) *Refresher {
	return &Refresher{
		Name: "ranks", Interval: every, RetryInterval: retry, log: log,
		Refresh: func(ctx context.Context) error {
			bySymbol := state.CoinIDs()
			ids := make([]string, 0, len(bySymbol))
			for _, id := range bySymbol {
				ids = append(ids, id)
			}
			byID, err := src.MarketRanks(ctx, ids)
			if err != nil {
				return fmt.Errorf("ранги: %w", err)
			}
			ranks := make(map[string]int, len(bySymbol))
			for symbol, id := range bySymbol {
				if rank, ok := byID[id]; ok {
					ranks[symbol] = rank
				}
			}
			state.SetRanks(ranks)
			return nil
		},
	}
}

// NewTVLRefresher обновляет TVL, потоки и глобальную статистику.
func NewTVLRefresher(src TVLSource, state *AnnotationState, every, retry time.Duration, log zerolog.Logger) *Refresher {
	return &Refresher{
		Name: "defillama", Interval: every, RetryInterval: retry, log: log,
		Refresh: func(ctx context.Context) error {
			snap, err := src.Fetch(ctx)
			if err != nil {
				return fmt.Errorf("defillama: %w", err)
			}
			state.SetDeFi(snap)
			log.Debug().Int("chains", len(snap.Data.Chains)).Float64("total_tvl", snap.Global.TotalTVL).Msg("refresher: TVL обновлён")
			return nil
		},
	}
}

// NewSentimentRefresher обновляет индекс и кладёт его в кэш для API.
func NewSentimentRefresher(src SentimentSource, state *AnnotationState, cache domain.Cache, every, retry time.Duration, log zerolog.Logger) *Refresher {
	return &Refresher{
		Name: "fear_greed", Interval: every, RetryInterval: retry, log: log,
		Refresh: func(ctx context.Context) error {
			v, err := src.FearGreed(ctx)
			if err != nil {
				return fmt.Errorf("индекс страха: %w", err)
			}
			state.SetSentiment(v)
			payload, err := json.Marshal(v)
			if err != nil {
				return fmt.Errorf("marshal индекса: %w", err)
			}
			if err := cache.Set(ctx, domain.KeySentiment, payload, 0); err != nil {
				return fmt.Errorf("запись индекса в кэш: %w", err)
			}
			log.Info().Int("value", v.Value).Str("class", v.Classification).Msg("refresher: индекс страха обновлён")
			return nil
		},
	}
}
