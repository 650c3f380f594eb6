package market

import (
	"sync"

	"crypto-pulse/internal/domain"
)

// DefaultBufferCapacity ёмкость буфера по умолчанию.
const DefaultBufferCapacity = 1000

// RollingBuffer хранит последние сэмплы по каждому символу.
// Буфер символа создаётся при первом сэмпле и живёт до конца процесса.
type RollingBuffer struct {
	capacity int

	mu    sync.RWMutex
	rings map[string]*ring
}

type ring struct {
	items []domain.Sample
	start int
	size  int
}

// NewRollingBuffer создаёт буфер заданной ёмкости.
func NewRollingBuffer(capacity int) *RollingBuffer {
	if capacity <= 0 {
		capacity = DefaultBufferCapacity
	}
	return &RollingBuffer{capacity: capacity, rings: make(map[string]*ring)}
}

// Append добавляет сэмпл, вытесняя самый старый при переполнении.
func (b *RollingBuffer) Append(symbol string, s domain.Sample) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.rings[symbol]
	if !ok {
		r = &ring{items: make([]domain.Sample, b.capacity)}
		b.rings[symbol] = r
	}
	if r.size < len(r.items) {
		r.items[(r.start+r.size)%len(r.items)] = s
		r.size++
		return
	}
	r.items[r.start] = s
	r.start = (r.start + 1) % len(r.items)
}

// Snapshot возвращает копию сэмплов в порядке поступления.
func (b *RollingBuffer) Snapshot(symbol string) []domain.Sample {
	b.mu.RLock()
	defer b.mu.RUnlock()
	r, ok := b.rings[symbol]
	if !ok {
		return []domain.Sample{}
	}
	out := make([]domain.Sample, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.items[(r.start+i)%len(r.items)]
	}
	return out
}

// Len возвращает число сэмплов символа.
func (b *RollingBuffer) Len(symbol string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if r, ok := b.rings[symbol]; ok {
		return r.size
	}
	return 0
}

// Capacity ёмкость буфера одного символа.
func (b *RollingBuffer) Capacity() int { return b.capacity }
