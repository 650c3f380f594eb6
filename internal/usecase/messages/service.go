package messages

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"crypto-pulse/internal/domain"
	"crypto-pulse/internal/usecase/channels"
)

// ErrUnauthorized сессия мессенджера не авторизована.
var ErrUnauthorized = errors.New("messages: сессия не авторизована")

// Conn активное подключение к мессенджеру.
type Conn interface {
	LatestSource
	Resolve(ctx context.Context, username string) (domain.ChannelInfo, error)
	History(ctx context.Context, channel domain.ChannelInfo, limit int) ([]Incoming, error)
	Subscribe(channels []domain.ChannelInfo, handle func(ctx context.Context, in Incoming))
}

// Session клиент мессенджера. Run авторизует сессию и вызывает ready
// с подключением, возврат из ready завершает сессию.
type Session interface {
	Run(ctx context.Context, ready func(ctx context.Context, conn Conn) error) error
}

// ServiceConfig настройки сервиса мониторинга каналов.
type ServiceConfig struct {
	Channels          []string
	HistoryLimit      int
	HeartbeatInterval time.Duration
	RecencyWindow     time.Duration
	StatusInterval    time.Duration
	DemoChannels      []DemoChannel
	DemoTexts         []string
}

// Service управляет сессией мессенджера: живой режим или демо.
type Service struct {
	session Session
	proc    *Processor
	cache   domain.Cache
	repo    domain.ChannelRepo
	cfg     ServiceConfig
	log     zerolog.Logger

	demo          atomic.Bool
	channelsCount atomic.Int64
}

// NewService создаёт сервис. session == nil включает демо-режим,
// repo может быть nil.
func NewService(session Session, proc *Processor, cache domain.Cache, repo domain.ChannelRepo, cfg ServiceConfig, log zerolog.Logger) *Service {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 3
	}
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = DefaultHeartbeatInterval
	}
	return &Service{session: session, proc: proc, cache: cache, repo: repo, cfg: cfg, log: log}
}

// DemoMode сообщает, работает ли сервис на синтетических сообщениях.
func (s *Service) DemoMode() bool { return s.demo.Load() }

// Run держит сессию до отмены ctx. Неавторизованная сессия переводит
// сервис в демо-режим.
func (s *Service) Run(ctx context.Context) error {
	if s.session == nil {
		return s.runDemo(ctx)
	}
	err := s.session.Run(ctx, s.live)
	if errors.Is(err, ErrUnauthorized) {
		s.log.Warn().Err(err).Msg("messages: переключаемся в демо-режим")
		return s.runDemo(ctx)
	}
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (s *Service) runDemo(ctx context.Context) error {
	s.demo.Store(true)
	s.channelsCount.Store(0)
	return NewDemo(s.cfg.DemoChannels, s.cfg.DemoTexts, s.proc, s.log).Run(ctx)
}

func (s *Service) live(ctx context.Context, conn Conn) error {
	s.demo.Store(false)

	var infos []domain.ChannelInfo
	for _, name := range s.channelNames(ctx) {
		info, err := conn.Resolve(ctx, name)
		if err != nil {
			s.log.Warn().Err(err).Str("channel", name).Msg("messages: канал не найден")
			continue
		}
		if s.repo != nil {
			if _, err := s.repo.UpsertChannel(ctx, info); err != nil {
				s.log.Error().Err(err).Str("channel", name).Msg("messages: сохранение канала")
			}
		}
		infos = append(infos, info)
	}
	s.channelsCount.Store(int64(len(infos)))
	s.log.Info().Int("channels", len(infos)).Msg("messages: каналы подписаны")

	for _, info := range infos {
		history, err := conn.History(ctx, info, s.cfg.HistoryLimit)
		if err != nil {
			s.log.Warn().Err(err).Str("channel", info.Username).Msg("messages: история недоступна")
			continue
		}
		slices.SortStableFunc(history, func(a, b Incoming) int { return a.Date.Compare(b.Date) })
		for _, in := range history {
			s.proc.Handle(ctx, in)
		}
	}

	conn.Subscribe(infos, func(ctx context.Context, in Incoming) {
		s.proc.Handle(ctx, in)
	})

	hb := NewHeartbeat(conn, infos, s.proc, s.cfg.HeartbeatInterval, s.cfg.RecencyWindow, s.log)
	return hb.Run(ctx)
}

// channelNames объединяет каналы справочника и активные каналы из БД.
func (s *Service) channelNames(ctx context.Context) []string {
	var stored []string
	if s.repo != nil {
		list, err := s.repo.ListChannels(ctx, true)
		if err != nil {
			s.log.Warn().Err(err).Msg("messages: список каналов из БД недоступен")
		}
		for _, ch := range list {
			stored = append(stored, ch.Username)
		}
	}
	return channels.MergeAliases(s.cfg.Channels, stored)
}

// Status текущее состояние сервиса.
func (s *Service) Status() domain.IngestStatus {
	return domain.IngestStatus{
		Status:        "running",
		DemoMode:      s.demo.Load(),
		Buffered:      s.proc.Buffer().Len(),
		ChannelsCount: int(s.channelsCount.Load()),
		UpdatedAt:     time.Now().UTC(),
	}
}

// RunStatus периодически пишет состояние в кэш для API.
func (s *Service) RunStatus(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.StatusInterval)
	defer ticker.Stop()
	for {
		s.writeStatus(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (s *Service) writeStatus(ctx context.Context) {
	payload, err := json.Marshal(s.Status())
	if err != nil {
		s.log.Error().Err(err).Msg("messages: marshal статуса")
		return
	}
	if err := s.cache.Set(ctx, domain.KeyIngestStatus, payload, 6*s.cfg.StatusInterval); err != nil && ctx.Err() == nil {
		s.log.Warn().Err(err).Msg("messages: запись статуса")
	}
}
