package messages

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"crypto-pulse/internal/domain"
)

type stubConn struct {
	stubLatest
	history    map[string][]Incoming
	mu         sync.Mutex
	subscribed []domain.ChannelInfo
	handle     func(ctx context.Context, in Incoming)
}

func (c *stubConn) Resolve(ctx context.Context, username string) (domain.ChannelInfo, error) {
	if username == "missing" {
		return domain.ChannelInfo{}, errors.New("username not occupied")
	}
	return domain.ChannelInfo{ID: int64(len(username)), Username: username, Title: "T " + username}, nil
}

func (c *stubConn) History(ctx context.Context, ch domain.ChannelInfo, limit int) ([]Incoming, error) {
	return c.history[ch.Username], nil
}

func (c *stubConn) Subscribe(channels []domain.ChannelInfo, handle func(ctx context.Context, in Incoming)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribed = channels
	c.handle = handle
}

type stubSession struct {
	conn *stubConn
	err  error
}

func (s *stubSession) Run(ctx context.Context, ready func(ctx context.Context, conn Conn) error) error {
	if s.err != nil {
		return s.err
	}
	return ready(ctx, s.conn)
}

type stubChannels struct {
	mu       sync.Mutex
	upserted []string
	stored   []domain.Channel
}

func (s *stubChannels) UpsertChannel(ctx context.Context, info domain.ChannelInfo) (domain.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserted = append(s.upserted, info.Username)
	return domain.Channel{Username: info.Username}, nil
}

func (s *stubChannels) AddChannel(ctx context.Context, username, priority string) (domain.Channel, error) {
	return domain.Channel{}, nil
}

func (s *stubChannels) ListChannels(ctx context.Context, activeOnly bool) ([]domain.Channel, error) {
	return s.stored, nil
}

func (s *stubChannels) DeactivateChannel(ctx context.Context, username string) error { return nil }

func TestServiceLive(t *testing.T) {
	now := time.Now().UTC()
	conn := &stubConn{
		stubLatest: stubLatest{},
		history: map[string][]Incoming{
			"forklog": {
				{ID: 3, Channel: "forklog", Text: "third", Date: now},
				{ID: 1, Channel: "forklog", Text: "first", Date: now.Add(-2 * time.Minute)},
				{ID: 2, Channel: "forklog", Text: "second", Date: now.Add(-time.Minute)},
			},
		},
	}
	proc, _, _ := newTestProcessor(10)
	repo := &stubChannels{stored: []domain.Channel{{Username: "whale_alert"}, {Username: "Forklog"}}}
	cache := &stubCache{}
	svc := NewService(&stubSession{conn: conn}, proc, cache, repo, ServiceConfig{
		Channels:          []string{"forklog", "missing"},
		HeartbeatInterval: time.Hour,
	}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		conn.mu.Lock()
		handle := conn.handle
		conn.mu.Unlock()
		if handle != nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("сервис не подписался на события")
		}
		time.Sleep(5 * time.Millisecond)
	}

	recent := proc.Buffer().Recent(0)
	if len(recent) != 3 || recent[0].ID != 3 || recent[2].ID != 1 {
		t.Fatalf("история должна идти от старых к новым: %+v", recent)
	}
	conn.mu.Lock()
	subscribed := conn.subscribed
	conn.handle(context.Background(), Incoming{ID: 4, Channel: "forklog", Text: "push"})
	conn.mu.Unlock()
	if len(subscribed) != 2 {
		t.Fatalf("ожидали два канала (forklog, whale_alert), получили %+v", subscribed)
	}
	if !proc.Buffer().Contains("forklog", 4) {
		t.Fatalf("push-событие не обработано")
	}
	if svc.DemoMode() {
		t.Fatalf("живой режим не должен быть демо")
	}

	svc.writeStatus(context.Background())
	raw, err := cache.Get(context.Background(), domain.KeyIngestStatus)
	if err != nil {
		t.Fatalf("статус не записан: %v", err)
	}
	var status domain.IngestStatus
	if err := json.Unmarshal(raw, &status); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if status.ChannelsCount != 2 || status.Buffered != 4 || status.DemoMode {
		t.Fatalf("неверный статус: %+v", status)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("ожидали штатную остановку, получили %v", err)
	}
	if len(repo.upserted) != 2 {
		t.Fatalf("ожидали сохранение метаданных двух каналов, получили %v", repo.upserted)
	}
}

func TestServiceUnauthorizedFallsBackToDemo(t *testing.T) {
	proc, _, _ := newTestProcessor(10)
	svc := NewService(&stubSession{err: ErrUnauthorized}, proc, &stubCache{}, nil, ServiceConfig{}, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := svc.Run(ctx); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if !svc.DemoMode() {
		t.Fatalf("ожидали демо-режим")
	}
}

func TestDemoNext(t *testing.T) {
	proc, _, _ := newTestProcessor(10)
	d := NewDemo([]DemoChannel{{Username: "bitcoin", Title: "Bitcoin"}}, []string{"hello"}, proc, zerolog.Nop())
	in := d.Next()
	if !in.IsDemo || in.Channel != "bitcoin" || in.ChannelTitle != "Bitcoin" || in.Text != "hello" {
		t.Fatalf("неверное демо-сообщение: %+v", in)
	}
	if next := d.Next(); next.ID <= in.ID {
		t.Fatalf("id должны расти: %d после %d", next.ID, in.ID)
	}
	for i := 0; i < 100; i++ {
		if delay := d.nextDelay(); delay < 5*time.Second || delay >= 15*time.Second {
			t.Fatalf("пауза вне диапазона: %v", delay)
		}
	}
}

func TestDemoMessagesNeverDuplicate(t *testing.T) {
	proc, bus, _ := newTestProcessor(500)
	d := NewDemo([]DemoChannel{{Username: "bitcoin", Title: "Bitcoin"}}, []string{"hello"}, proc, zerolog.Nop())
	for i := 0; i < 300; i++ {
		proc.Handle(context.Background(), d.Next())
	}
	bus.mu.Lock()
	published := len(bus.messages)
	bus.mu.Unlock()
	if published != 300 {
		t.Fatalf("ожидали 300 событий, получили %d", published)
	}
}
