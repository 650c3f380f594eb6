package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"crypto-pulse/internal/domain"
	"crypto-pulse/internal/infra/metrics"
	"crypto-pulse/internal/usecase/market"
)

// State состояние подключения к фиду.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateSubscribed
	StateStreaming
	StateConnectionLost
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	case StateStreaming:
		return "streaming"
	case StateConnectionLost:
		return "connection_lost"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// ErrMalformed кадр не удалось разобрать.
var ErrMalformed = errors.New("binance: некорректный кадр")

// Stream подписка на 24hrTicker по набору символов.
type Stream struct {
	url            string
	symbols        []string
	reconnectDelay time.Duration
	dialer         *websocket.Dialer
	log            zerolog.Logger

	state  atomic.Int32
	closed atomic.Bool
	stop   chan struct{}
	once   sync.Once

	mu   sync.Mutex
	conn *websocket.Conn
}

var _ market.Feed = (*Stream)(nil)

// NewStream создаёт клиента фида.
func NewStream(url string, symbols []string, reconnectDelay time.Duration, log zerolog.Logger) *Stream {
	if reconnectDelay <= 0 {
		reconnectDelay = 5 * time.Second
	}
	return &Stream{
		url:            url,
		symbols:        symbols,
		reconnectDelay: reconnectDelay,
		dialer:         websocket.DefaultDialer,
		log:            log,
		stop:           make(chan struct{}),
	}
}

// State возвращает текущее состояние подключения.
func (s *Stream) State() State { return State(s.state.Load()) }

// Connected сообщает, идут ли тики.
func (s *Stream) Connected() bool { return s.State() == StateStreaming }

func (s *Stream) setState(st State) {
	s.state.Store(int32(st))
	if st == StateStreaming {
		metrics.FeedConnected.Set(1)
	} else {
		metrics.FeedConnected.Set(0)
	}
}

// Run держит подписку до отмены ctx или Close. Ошибки транспорта наружу
// не выходят: после обрыва ждём reconnectDelay и подключаемся заново.
// После Close поток остаётся в состоянии closed, а Run ждёт отмены ctx,
// чтобы надзор не перезапускал его.
func (s *Stream) Run(ctx context.Context, handle func(domain.Ticker)) error {
	defer s.setState(StateClosed)
	if s.closed.Load() {
		s.setState(StateClosed)
		<-ctx.Done()
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.stop:
			cancel()
		case <-runCtx.Done():
		}
	}()

	policy := backoff.WithContext(backoff.NewConstantBackOff(s.reconnectDelay), runCtx)
	err := backoff.RetryNotify(func() error {
		if s.closed.Load() {
			return backoff.Permanent(errStopped)
		}
		err := s.session(runCtx, handle)
		if runCtx.Err() != nil || s.closed.Load() {
			return backoff.Permanent(errStopped)
		}
		s.setState(StateConnectionLost)
		if err == nil {
			err = errors.New("соединение закрыто")
		}
		return err
	}, policy, func(err error, wait time.Duration) {
		metrics.FeedReconnects.Inc()
		s.log.Warn().Err(err).Dur("retry_in", wait).Msg("feed: соединение потеряно")
	})
	if s.closed.Load() {
		s.setState(StateClosed)
		s.log.Info().Msg("feed: поток закрыт")
		<-ctx.Done()
		return nil
	}
	if err != nil && !errors.Is(err, errStopped) && ctx.Err() == nil {
		return err
	}
	return nil
}

var errStopped = errors.New("feed остановлен")

// Close останавливает поток окончательно и закрывает соединение.
// Повторный вызов безопасен.
func (s *Stream) Close() error {
	s.closed.Store(true)
	s.once.Do(func() { close(s.stop) })
	s.setState(StateClosed)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func (s *Stream) session(ctx context.Context, handle func(domain.Ticker)) error {
	s.setState(StateConnecting)
	start := time.Now()
	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	metrics.ObserveNetworkRequest("binance", "ws_dial", "stream", start, err)
	if err != nil {
		return fmt.Errorf("подключение: %w", err)
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
		_ = conn.Close()
	}()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	if err := conn.WriteJSON(subscribeRequest(s.symbols)); err != nil {
		return fmt.Errorf("подписка: %w", err)
	}
	if s.closed.Load() {
		return errStopped
	}
	s.setState(StateSubscribed)
	s.log.Info().Int("symbols", len(s.symbols)).Msg("feed: подписка отправлена")

	for !s.closed.Load() {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("чтение: %w", err)
		}
		if s.State() != StateStreaming {
			s.setState(StateStreaming)
		}
		tick, kind, err := DecodeFrame(data)
		switch {
		case err != nil:
			metrics.FeedMalformed.Inc()
			s.log.Debug().Err(err).Msg("feed: кадр отброшен")
		case kind == FrameAck:
			s.log.Info().Msg("feed: подписка подтверждена")
		case kind == FrameTicker:
			handle(tick)
		}
	}
	return nil
}

type subscribeMessage struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int      `json:"id"`
}

func subscribeRequest(symbols []string) subscribeMessage {
	params := make([]string, 0, len(symbols))
	for _, s := range symbols {
		params = append(params, strings.ToLower(s)+"@ticker")
	}
	return subscribeMessage{Method: "SUBSCRIBE", Params: params, ID: 1}
}

// FrameKind тип входящего кадра.
type FrameKind int

const (
	FrameOther FrameKind = iota
	FrameAck
	FrameTicker
)

type tickerFrame struct {
	Event     string          `json:"e"`
	EventTime int64           `json:"E"`
	Symbol    string          `json:"s"`
	Close     decimal.Decimal `json:"c"`
	ChangePct decimal.Decimal `json:"P"`
	Volume    decimal.Decimal `json:"v"`
	High      decimal.Decimal `json:"h"`
	Low       decimal.Decimal `json:"l"`
}

// DecodeFrame разбирает кадр фида. Подтверждение подписки распознаётся по
// ключу result, тикер по e == 24hrTicker, остальное игнорируется.
func DecodeFrame(data []byte) (domain.Ticker, FrameKind, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(data, &envelope); err != nil {
		return domain.Ticker{}, FrameOther, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if _, ok := envelope["result"]; ok {
		return domain.Ticker{}, FrameAck, nil
	}
	var event string
	if raw, ok := envelope["e"]; ok {
		_ = json.Unmarshal(raw, &event)
	}
	if event != "24hrTicker" {
		return domain.Ticker{}, FrameOther, nil
	}
	var f tickerFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return domain.Ticker{}, FrameOther, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if f.Symbol == "" || f.EventTime == 0 {
		return domain.Ticker{}, FrameOther, fmt.Errorf("%w: нет символа или времени", ErrMalformed)
	}
	return domain.Ticker{
		Symbol:    f.Symbol,
		Price:     f.Close.InexactFloat64(),
		ChangePct: f.ChangePct.InexactFloat64(),
		Volume:    f.Volume.InexactFloat64(),
		High:      f.High.InexactFloat64(),
		Low:       f.Low.InexactFloat64(),
		EventTime: f.EventTime,
	}, FrameTicker, nil
}
