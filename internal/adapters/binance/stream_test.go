package binance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"crypto-pulse/internal/domain"
	"crypto-pulse/internal/infra/supervisor"
)

func TestDecodeFrame(t *testing.T) {
	tick, kind, err := DecodeFrame([]byte(`{"e":"24hrTicker","E":1700000000000,"s":"BTCUSDT","c":"43250.10","P":"-1.25","v":"1234.5","h":"44000","l":"42000.5"}`))
	if err != nil || kind != FrameTicker {
		t.Fatalf("ожидали тикер: %v %v", kind, err)
	}
	want := domain.Ticker{Symbol: "BTCUSDT", Price: 43250.10, ChangePct: -1.25, Volume: 1234.5, High: 44000, Low: 42000.5, EventTime: 1700000000000}
	if tick != want {
		t.Fatalf("ожидали %+v, получили %+v", want, tick)
	}

	if _, kind, err := DecodeFrame([]byte(`{"result":null,"id":1}`)); err != nil || kind != FrameAck {
		t.Fatalf("ожидали подтверждение подписки: %v %v", kind, err)
	}
	if _, kind, err := DecodeFrame([]byte(`{"e":"trade","s":"BTCUSDT"}`)); err != nil || kind != FrameOther {
		t.Fatalf("ожидали игнорирование: %v %v", kind, err)
	}
	if _, _, err := DecodeFrame([]byte(`not json`)); !errors.Is(err, ErrMalformed) {
		t.Fatalf("ожидали ErrMalformed, получили %v", err)
	}
	if _, _, err := DecodeFrame([]byte(`{"e":"24hrTicker","c":"1"}`)); !errors.Is(err, ErrMalformed) {
		t.Fatalf("тикер без символа должен отбрасываться, получили %v", err)
	}
}

func TestSubscribeRequest(t *testing.T) {
	req := subscribeRequest([]string{"BTCUSDT", "EthUsdt"})
	if req.Method != "SUBSCRIBE" || req.ID != 1 {
		t.Fatalf("неверный запрос: %+v", req)
	}
	if strings.Join(req.Params, ",") != "btcusdt@ticker,ethusdt@ticker" {
		t.Fatalf("неверные параметры: %v", req.Params)
	}
}

func TestStreamReconnectsAfterDrop(t *testing.T) {
	upgrader := websocket.Upgrader{}
	var mu sync.Mutex
	connections := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		mu.Lock()
		connections++
		n := connections
		mu.Unlock()

		var sub subscribeMessage
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"result":null,"id":1}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`garbage`))
		frame := fmt.Sprintf(`{"e":"24hrTicker","E":%d,"s":"BTCUSDT","c":"1","P":"0","v":"0","h":"1","l":"1"}`, 1000*n)
		_ = conn.WriteMessage(websocket.TextMessage, []byte(frame))
		if n == 1 {
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	s := NewStream(url, []string{"BTCUSDT"}, 10*time.Millisecond, zerolog.Nop())

	ticks := make(chan domain.Ticker, 4)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, func(t domain.Ticker) { ticks <- t }) }()

	for _, want := range []int64{1000, 2000} {
		select {
		case got := <-ticks:
			if got.EventTime != want {
				t.Fatalf("ожидали тик %d, получили %d", want, got.EventTime)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("тик %d не получен", want)
		}
	}
	if !s.Connected() {
		t.Fatalf("после переподключения ожидали состояние streaming, получили %s", s.State())
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run должен завершаться без ошибки: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("Run не завершился после отмены")
	}
	if s.State() != StateClosed {
		t.Fatalf("ожидали closed, получили %s", s.State())
	}
}

func TestStreamCloseIsTerminalUnderSupervisor(t *testing.T) {
	upgrader := websocket.Upgrader{}
	var mu sync.Mutex
	connections := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		mu.Lock()
		connections++
		mu.Unlock()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()
	dials := func() int {
		mu.Lock()
		defer mu.Unlock()
		return connections
	}

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	s := NewStream(url, []string{"BTCUSDT"}, 10*time.Millisecond, zerolog.Nop())
	group := supervisor.New(context.Background(), zerolog.Nop())
	group.RestartDelay = 20 * time.Millisecond
	group.Go("feed", func(ctx context.Context) error {
		return s.Run(ctx, func(domain.Ticker) {})
	})

	deadline := time.Now().Add(3 * time.Second)
	for s.State() != StateSubscribed {
		if time.Now().After(deadline) {
			t.Fatalf("подписка не отправлена, состояние %s", s.State())
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	time.Sleep(300 * time.Millisecond)
	if n := dials(); n != 1 {
		t.Fatalf("после Close не должно быть переподключений, подключений: %d", n)
	}
	if s.State() != StateClosed {
		t.Fatalf("ожидали closed, получили %s", s.State())
	}
	if err := s.Close(); err != nil {
		t.Fatalf("повторный Close: %v", err)
	}
	if err := group.Shutdown(time.Second); err != nil {
		t.Fatalf("остановка группы: %v", err)
	}
}
