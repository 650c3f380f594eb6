package messages

import (
	"sync"

	"crypto-pulse/internal/domain"
)

// DefaultBufferSize ёмкость буфера последних сообщений.
const DefaultBufferSize = 500

type messageKey struct {
	channel string
	id      int64
}

type entry struct {
	rec   domain.MessageRecord
	parts map[int64]struct{}
}

// Buffer последние сообщения от новых к старым и набор сообщений
// в обработке. Вставка в голову вытесняет самое старое.
type Buffer struct {
	mu       sync.Mutex
	capacity int
	entries  []*entry
	inFlight map[messageKey]struct{}
}

// NewBuffer создаёт буфер заданной ёмкости.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultBufferSize
	}
	return &Buffer{capacity: capacity, inFlight: make(map[messageKey]struct{})}
}

// Len число сообщений в буфере.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Contains сообщает, есть ли сообщение (или часть альбома) с таким id.
func (b *Buffer) Contains(channel string, id int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.findPart(channel, id) != nil
}

// Recent возвращает копии до limit последних сообщений.
func (b *Buffer) Recent(limit int) []domain.MessageRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	if limit <= 0 || limit > len(b.entries) {
		limit = len(b.entries)
	}
	out := make([]domain.MessageRecord, 0, limit)
	for _, e := range b.entries[:limit] {
		out = append(out, e.rec.Clone())
	}
	return out
}

func (b *Buffer) findPart(channel string, id int64) *entry {
	for _, e := range b.entries {
		if e.rec.ChannelUsername != channel {
			continue
		}
		if _, ok := e.parts[id]; ok {
			return e
		}
	}
	return nil
}

func (b *Buffer) findGroup(channel string, groupID int64) *entry {
	if groupID == 0 {
		return nil
	}
	for _, e := range b.entries {
		if e.rec.ChannelUsername == channel && e.rec.GroupedID == groupID {
			return e
		}
	}
	return nil
}

func (b *Buffer) findID(channel string, id int64) *entry {
	for _, e := range b.entries {
		if e.rec.ChannelUsername == channel && e.rec.ID == id {
			return e
		}
	}
	return nil
}

func (b *Buffer) pushFront(rec domain.MessageRecord) {
	e := &entry{rec: rec, parts: map[int64]struct{}{rec.ID: {}}}
	b.entries = append(b.entries, nil)
	copy(b.entries[1:], b.entries)
	b.entries[0] = e
	if len(b.entries) > b.capacity {
		b.entries[len(b.entries)-1] = nil
		b.entries = b.entries[:b.capacity]
	}
}
