package messages

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"crypto-pulse/internal/domain"
)

// Значения по умолчанию для опроса каналов.
const (
	DefaultHeartbeatInterval = 10 * time.Second
	DefaultRecencyWindow     = 24 * time.Hour
)

// LatestSource отдаёт последнее сообщение канала.
type LatestSource interface {
	Latest(ctx context.Context, channel domain.ChannelInfo) (Incoming, bool, error)
}

// Heartbeat периодически опрашивает последнее сообщение каждого канала на
// случай пропущенных push-событий. Сообщения старше окна свежести
// отбрасываются.
type Heartbeat struct {
	source   LatestSource
	channels []domain.ChannelInfo
	proc     *Processor
	interval time.Duration
	window   time.Duration
	now      func() time.Time
	log      zerolog.Logger
}

// NewHeartbeat создаёт опрос каналов.
func NewHeartbeat(source LatestSource, channels []domain.ChannelInfo, proc *Processor, interval, window time.Duration, log zerolog.Logger) *Heartbeat {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	if window <= 0 {
		window = DefaultRecencyWindow
	}
	return &Heartbeat{
		source:   source,
		channels: channels,
		proc:     proc,
		interval: interval,
		window:   window,
		now:      time.Now,
		log:      log,
	}
}

// Run опрашивает каналы до отмены ctx.
func (h *Heartbeat) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			found := h.PollOnce(ctx)
			h.log.Debug().Int("found", found).Int("buffered", h.proc.Buffer().Len()).Msg("heartbeat: опрос завершён")
		}
	}
}

// PollOnce опрашивает все каналы один раз и возвращает число новых сообщений.
func (h *Heartbeat) PollOnce(ctx context.Context) int {
	found := 0
	for _, ch := range h.channels {
		if ctx.Err() != nil {
			return found
		}
		in, ok, err := h.source.Latest(ctx, ch)
		if err != nil {
			h.log.Warn().Err(err).Str("channel", ch.Username).Msg("heartbeat: ошибка опроса")
			continue
		}
		if !ok || h.proc.Buffer().Contains(in.Channel, in.ID) {
			continue
		}
		if !in.Date.IsZero() && h.now().Sub(in.Date) > h.window {
			h.log.Debug().Str("channel", ch.Username).Int64("id", in.ID).Time("date", in.Date).Msg("heartbeat: старое сообщение отброшено")
			continue
		}
		if outcome := h.proc.Handle(ctx, in); outcome == OutcomeInserted || outcome == OutcomeMerged {
			h.log.Info().Str("channel", ch.Username).Int64("id", in.ID).Msg("heartbeat: найдено пропущенное сообщение")
			found++
		}
	}
	return found
}
