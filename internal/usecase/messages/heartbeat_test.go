package messages

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"crypto-pulse/internal/domain"
)

type stubLatest map[string]Incoming

func (s stubLatest) Latest(ctx context.Context, ch domain.ChannelInfo) (Incoming, bool, error) {
	if ch.Username == "broken" {
		return Incoming{}, false, errors.New("flood wait")
	}
	in, ok := s[ch.Username]
	return in, ok, nil
}

func TestHeartbeatDropsOldMessage(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	proc, _, q := newTestProcessor(10)
	source := stubLatest{
		"fresh": {ID: 1, Channel: "fresh", Text: "new", Date: now.Add(-time.Minute)},
		"stale": {ID: 2, Channel: "stale", Text: "old", Date: now.Add(-30 * time.Hour)},
	}
	channels := []domain.ChannelInfo{{Username: "fresh"}, {Username: "stale"}, {Username: "broken"}, {Username: "empty"}}
	hb := NewHeartbeat(source, channels, proc, time.Second, 24*time.Hour, zerolog.Nop())
	hb.now = func() time.Time { return now }

	if found := hb.PollOnce(context.Background()); found != 1 {
		t.Fatalf("ожидали одно новое сообщение, получили %d", found)
	}
	if proc.Buffer().Contains("stale", 2) {
		t.Fatalf("сообщение 30-часовой давности должно быть отброшено")
	}
	if q.count() != 1 {
		t.Fatalf("ожидали одну задачу, получили %d", q.count())
	}

	if found := hb.PollOnce(context.Background()); found != 0 {
		t.Fatalf("повторный опрос не должен находить известные сообщения, получили %d", found)
	}
}
