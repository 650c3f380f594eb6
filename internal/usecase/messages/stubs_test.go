package messages

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"crypto-pulse/internal/domain"
)

type stubBus struct {
	mu       sync.Mutex
	messages [][]byte
}

func (b *stubBus) Publish(ctx context.Context, topic string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = append(b.messages, payload)
	return nil
}

func (b *stubBus) last() messageEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	var ev messageEvent
	if len(b.messages) > 0 {
		_ = json.Unmarshal(b.messages[len(b.messages)-1], &ev)
	}
	return ev
}

type stubQueue struct {
	mu   sync.Mutex
	jobs []domain.PersistJob
}

func (q *stubQueue) Enqueue(ctx context.Context, job domain.PersistJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *stubQueue) Receive(ctx context.Context) (domain.PersistJob, domain.AckFunc, error) {
	<-ctx.Done()
	return domain.PersistJob{}, nil, ctx.Err()
}

func (q *stubQueue) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

type stubCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (c *stubCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.data == nil {
		c.data = make(map[string][]byte)
	}
	c.data[key] = value
	return nil
}

func (c *stubCache) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.data[key]; ok {
		return v, nil
	}
	return nil, domain.ErrCacheMiss
}

type stubAttachment struct {
	kind  string
	path  string
	calls int
	gate  chan struct{}
}

func (a *stubAttachment) MediaType() string { return a.kind }

func (a *stubAttachment) Download(ctx context.Context) (string, error) {
	a.calls++
	if a.gate != nil {
		<-a.gate
	}
	return a.path, nil
}

func newTestProcessor(capacity int) (*Processor, *stubBus, *stubQueue) {
	bus := &stubBus{}
	q := &stubQueue{}
	return NewProcessor(NewBuffer(capacity), bus, q, zerolog.Nop()), bus, q
}
