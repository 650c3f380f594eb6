package market

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"crypto-pulse/internal/domain"
)

type usdtMapping struct{}

func (usdtMapping) BaseAsset(symbol string) string { return strings.TrimSuffix(symbol, "USDT") }

func newTestState() *AnnotationState {
	return NewAnnotationState(usdtMapping{},
		map[string]string{"BTCUSDT": "Bitcoin", "UNIUSDT": "uniswap-v3"},
		map[string]string{"BTCUSDT": "bitcoin", "NEARUSDT": "near", "UNIUSDT": "uniswap"},
	)
}

type stubBus struct {
	mu       sync.Mutex
	messages map[string][][]byte
	err      error
}

func (b *stubBus) Publish(_ context.Context, topic string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	if b.messages == nil {
		b.messages = make(map[string][][]byte)
	}
	b.messages[topic] = append(b.messages[topic], payload)
	return nil
}

type stubCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (c *stubCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.data == nil {
		c.data = make(map[string][]byte)
	}
	c.data[key] = value
	return nil
}

func (c *stubCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	if !ok {
		return nil, domain.ErrCacheMiss
	}
	return v, nil
}

type stubHistory struct {
	mu       sync.Mutex
	points   []domain.HistoryPoint
	batches  int
	failOn   map[string]bool
	failAll  bool
	existing map[int64]struct{}
	recent   []domain.HistoryPoint
}

func (s *stubHistory) AppendHistory(_ context.Context, points []domain.HistoryPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches++
	if s.failAll {
		return errors.New("store down")
	}
	for _, p := range points {
		if s.failOn[p.Symbol] {
			return errors.New("bad row " + p.Symbol)
		}
	}
	s.points = append(s.points, points...)
	return nil
}

func (s *stubHistory) ExistingTimestamps(_ context.Context, _ string, _ time.Time) (map[int64]struct{}, error) {
	out := make(map[int64]struct{}, len(s.existing))
	for k := range s.existing {
		out[k] = struct{}{}
	}
	return out, nil
}

func (s *stubHistory) RecentHistory(_ context.Context, _ string, limit int) ([]domain.HistoryPoint, error) {
	if len(s.recent) > limit {
		return s.recent[len(s.recent)-limit:], nil
	}
	return s.recent, nil
}

func (s *stubHistory) HistoryRange(context.Context, string, time.Time, int, time.Duration) ([]domain.HistoryPoint, error) {
	return nil, nil
}

type staticSnapshots map[string]domain.PriceSnapshot

func (s staticSnapshots) Snapshots() map[string]domain.PriceSnapshot { return s }
