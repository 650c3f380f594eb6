package market

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"crypto-pulse/internal/domain"
)

type fakeTrending struct {
	symbols []string
	err     error
}

func (f *fakeTrending) Trending(context.Context) ([]string, []string, error) {
	return f.symbols, nil, f.err
}

func TestTrendingRefreshFailureKeepsPreviousSet(t *testing.T) {
	state := newTestState()
	src := &fakeTrending{symbols: []string{"BTC"}}
	r := NewTrendingRefresher(src, state, time.Minute, time.Second, zerolog.Nop())
	p := NewProcessor(NewRollingBuffer(10), state)

	if err := r.RefreshOnce(context.Background()); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	src.symbols, src.err = nil, errors.New("503")
	if err := r.RefreshOnce(context.Background()); err == nil {
		t.Fatalf("ожидали ошибку обновления")
	}

	if _, ok := state.Trending().Symbols["BTC"]; !ok {
		t.Fatalf("набор трендов должен остаться прежним")
	}
	p.HandleTicker(domain.Ticker{Symbol: "BTCUSDT", Price: 1, EventTime: 1})
	if s, _ := p.Snapshot("BTCUSDT"); !s.IsTrending {
		t.Fatalf("обработчик должен использовать последний известный набор")
	}
}

func TestRefresherRunRetriesAfterFailure(t *testing.T) {
	calls := make(chan struct{}, 4)
	var n atomic.Int32
	r := &Refresher{
		Name:          "flaky",
		Interval:      time.Hour,
		RetryInterval: time.Millisecond,
		log:           zerolog.Nop(),
		Refresh: func(context.Context) error {
			calls <- struct{}{}
			if n.Add(1) == 1 {
				return errors.New("fail")
			}
			return nil
		},
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	for i := 0; i < 2; i++ {
		select {
		case <-calls:
		case <-time.After(2 * time.Second):
			t.Fatalf("повторная попытка не выполнена")
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run должен завершаться без ошибки: %v", err)
	}
}

type fakeRanks map[string]int

func (f fakeRanks) MarketRanks(context.Context, []string) (map[string]int, error) { return f, nil }

func TestRankRefresherMapsCoinIDsToSymbols(t *testing.T) {
	state := newTestState()
	r := NewRankRefresher(fakeRanks{"bitcoin": 1, "near": 40}, state, time.Minute, time.Second, zerolog.Nop())
	if err := r.RefreshOnce(context.Background()); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if !state.isTrending("BTCUSDT") || state.isTrending("NEARUSDT") {
		t.Fatalf("неверная разметка по рангу")
	}
}

type fakeTVL struct{ snap TVLSnapshot }

func (f fakeTVL) Fetch(context.Context) (TVLSnapshot, error) { return f.snap, nil }

func TestTVLRefresherSwapsAllSlices(t *testing.T) {
	state := newTestState()
	snap := TVLSnapshot{
		Data:   TVLData{Chains: map[string]domain.TVLEntry{"Bitcoin": {TVL: 7}}},
		Flows:  map[string]float64{"Bitcoin": -3},
		Global: domain.GlobalStats{TotalTVL: 7, ChainCount: 1},
	}
	r := NewTVLRefresher(fakeTVL{snap: snap}, state, time.Minute, time.Second, zerolog.Nop())
	if err := r.RefreshOnce(context.Background()); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	a := state.Annotate("BTCUSDT")
	if a.TVL == nil || *a.TVL != 7 || a.MoneyFlow == nil || *a.MoneyFlow != -3 || a.Global == nil {
		t.Fatalf("срезы не обновлены: %+v", a)
	}
}

type fakeSentiment struct{ v domain.Sentiment }

func (f fakeSentiment) FearGreed(context.Context) (domain.Sentiment, error) { return f.v, nil }

func TestSentimentRefresherWritesCache(t *testing.T) {
	state := newTestState()
	cache := &stubCache{}
	r := NewSentimentRefresher(fakeSentiment{v: domain.Sentiment{Value: 71, Classification: "Greed"}}, state, cache, time.Minute, time.Second, zerolog.Nop())
	if err := r.RefreshOnce(context.Background()); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	raw, err := cache.Get(context.Background(), domain.KeySentiment)
	if err != nil {
		t.Fatalf("индекс не записан в кэш: %v", err)
	}
	var got domain.Sentiment
	if err := json.Unmarshal(raw, &got); err != nil || got.Value != 71 {
		t.Fatalf("неверное значение в кэше: %s", raw)
	}
	if v, ok := state.Sentiment(); !ok || v.Classification != "Greed" {
		t.Fatalf("индекс не сохранён в состоянии")
	}
}
