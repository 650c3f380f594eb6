package api

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"crypto-pulse/internal/domain"
	"crypto-pulse/internal/infra/bus"
)

// feedFreshness возраст последнего пакета цен, при котором фид считается живым.
const feedFreshness = 30 * time.Second

// Subscriber читает топики шины до отмены ctx.
type Subscriber interface {
	Subscribe(ctx context.Context, topics []string, handle bus.Handler) error
}

// Gateway пересылает события шины в WebSocket хаб и помнит последние цены.
type Gateway struct {
	hub *Hub
	log zerolog.Logger
	now func() time.Time

	mu        sync.RWMutex
	prices    map[string]domain.PriceSnapshot
	updatedAt time.Time
}

// NewGateway создаёт шлюз.
func NewGateway(hub *Hub, log zerolog.Logger) *Gateway {
	return &Gateway{hub: hub, log: log, now: time.Now}
}

// Run подписывается на топики цен и новостей.
func (g *Gateway) Run(ctx context.Context, sub Subscriber) error {
	topics := []string{domain.TopicPrices, domain.TopicMessages, domain.TopicNews}
	return sub.Subscribe(ctx, topics, g.Handle)
}

// Handle обрабатывает одно событие шины. Пакет цен оборачивается
// в {"type":"update","data":...}, остальные события идут как есть.
func (g *Gateway) Handle(topic string, payload []byte) {
	if !json.Valid(payload) {
		g.log.Warn().Str("topic", topic).Msg("gateway: событие не JSON, пропускаем")
		return
	}
	if topic != domain.TopicPrices {
		g.hub.Broadcast(payload)
		return
	}

	var pkt domain.PricesPayload
	if err := json.Unmarshal(payload, &pkt); err != nil {
		g.log.Warn().Err(err).Msg("gateway: неверный пакет цен")
		return
	}
	g.mu.Lock()
	g.prices = pkt.Prices
	g.updatedAt = g.now()
	g.mu.Unlock()

	msg, err := json.Marshal(struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}{Type: "update", Data: payload})
	if err != nil {
		g.log.Error().Err(err).Msg("gateway: не удалось обернуть пакет цен")
		return
	}
	g.hub.Broadcast(msg)
}

// Prices последние цены из шины. ok=false, пока пакетов не было.
func (g *Gateway) Prices() (map[string]domain.PriceSnapshot, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if len(g.prices) == 0 {
		return nil, false
	}
	out := make(map[string]domain.PriceSnapshot, len(g.prices))
	for k, v := range g.prices {
		out[k] = v
	}
	return out, true
}

// FeedConnected сообщает, приходили ли цены за последние 30 секунд.
func (g *Gateway) FeedConnected() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.prices) > 0 && g.now().Sub(g.updatedAt) <= feedFreshness
}
