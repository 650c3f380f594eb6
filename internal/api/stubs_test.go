package api

import (
	"context"
	"time"

	"crypto-pulse/internal/domain"
)

type stubCache struct {
	data map[string][]byte
}

func (c *stubCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.data[key] = value
	return nil
}

func (c *stubCache) Get(_ context.Context, key string) ([]byte, error) {
	v, ok := c.data[key]
	if !ok {
		return nil, domain.ErrCacheMiss
	}
	return v, nil
}

type stubHistory struct {
	points []domain.HistoryPoint
	since  time.Time
	limit  int
	bucket time.Duration
}

func (h *stubHistory) AppendHistory(context.Context, []domain.HistoryPoint) error { return nil }

func (h *stubHistory) ExistingTimestamps(context.Context, string, time.Time) (map[int64]struct{}, error) {
	return nil, nil
}

func (h *stubHistory) RecentHistory(context.Context, string, int) ([]domain.HistoryPoint, error) {
	return h.points, nil
}

func (h *stubHistory) HistoryRange(_ context.Context, _ string, since time.Time, limit int, bucket time.Duration) ([]domain.HistoryPoint, error) {
	h.since, h.limit, h.bucket = since, limit, bucket
	return h.points, nil
}

type stubMessages struct {
	limit, offset int
}

func (m *stubMessages) UpsertMessage(context.Context, domain.MessageRecord) error { return nil }

func (m *stubMessages) ListMessages(_ context.Context, limit, offset int) ([]domain.MessageRecord, error) {
	m.limit, m.offset = limit, offset
	return nil, nil
}

type stubNews struct{}

func (stubNews) SaveNews(context.Context, []domain.NewsItem) (int, error) { return 0, nil }

func (stubNews) ListNews(context.Context, int, int) ([]domain.NewsItem, error) {
	return []domain.NewsItem{{Title: "ETF"}}, nil
}

type stubChannelRepo struct {
	channels map[string]domain.Channel
}

func (r *stubChannelRepo) UpsertChannel(_ context.Context, info domain.ChannelInfo) (domain.Channel, error) {
	return domain.Channel{Username: info.Username}, nil
}

func (r *stubChannelRepo) AddChannel(_ context.Context, username, priority string) (domain.Channel, error) {
	if _, ok := r.channels[username]; ok {
		return domain.Channel{}, domain.ErrChannelExists
	}
	ch := domain.Channel{ID: int64(len(r.channels) + 1), Username: username, Title: username, Priority: priority, IsActive: true}
	r.channels[username] = ch
	return ch, nil
}

func (r *stubChannelRepo) ListChannels(context.Context, bool) ([]domain.Channel, error) {
	out := make([]domain.Channel, 0, len(r.channels))
	for _, ch := range r.channels {
		out = append(out, ch)
	}
	return out, nil
}

func (r *stubChannelRepo) DeactivateChannel(_ context.Context, username string) error {
	if _, ok := r.channels[username]; !ok {
		return domain.ErrChannelNotFound
	}
	delete(r.channels, username)
	return nil
}
