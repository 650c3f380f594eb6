package market

import (
	"sync"

	"crypto-pulse/internal/domain"
	"crypto-pulse/internal/infra/metrics"
)

// Processor обновляет буфер, индикатор и таблицу последних снимков.
// Сетевых и дисковых операций не выполняет.
type Processor struct {
	buffer *RollingBuffer
	state  *AnnotationState

	mu        sync.RWMutex
	snapshots map[string]domain.PriceSnapshot
}

// NewProcessor создаёт обработчик тиков.
func NewProcessor(buffer *RollingBuffer, state *AnnotationState) *Processor {
	return &Processor{buffer: buffer, state: state, snapshots: make(map[string]domain.PriceSnapshot)}
}

// HandleTicker обрабатывает один тик и перезаписывает снимок символа.
// Повторная доставка с более старым временем не отбрасывается: побеждает
// последний по порядку поступления.
func (p *Processor) HandleTicker(t domain.Ticker) {
	p.buffer.Append(t.Symbol, domain.Sample{Time: t.EventTime, Value: t.Price})
	rsi := StreamingRSI(p.buffer.Snapshot(t.Symbol))
	ann := p.state.Annotate(t.Symbol)

	snap := domain.PriceSnapshot{
		Symbol:       t.Symbol,
		Price:        t.Price,
		Change24h:    t.ChangePct,
		Volume24h:    t.Volume,
		High24h:      t.High,
		Low24h:       t.Low,
		Timestamp:    t.EventTime,
		RSI:          rsi,
		IsTrending:   ann.IsTrending,
		TVL:          ann.TVL,
		TVLChange1d:  ann.TVLChange1d,
		MoneyFlow24h: ann.MoneyFlow,
		GlobalStats:  ann.Global,
	}

	p.mu.Lock()
	p.snapshots[t.Symbol] = snap
	p.mu.Unlock()
	metrics.TicksProcessed.WithLabelValues(t.Symbol).Inc()
}

// Snapshots возвращает копию таблицы снимков.
func (p *Processor) Snapshots() map[string]domain.PriceSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]domain.PriceSnapshot, len(p.snapshots))
	for k, v := range p.snapshots {
		out[k] = v
	}
	return out
}

// Snapshot возвращает снимок одного символа.
func (p *Processor) Snapshot(symbol string) (domain.PriceSnapshot, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.snapshots[symbol]
	return s, ok
}

// History возвращает сэмплы символа из скользящего буфера.
func (p *Processor) History(symbol string) []domain.Sample {
	return p.buffer.Snapshot(symbol)
}
