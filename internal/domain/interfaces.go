package domain

import (
	"context"
	"errors"
	"time"
)

// Топики шины и ключи кэша.
const (
	TopicPrices     = "crypto:updates"
	TopicMessages   = "news:telegram"
	TopicNews       = "news:cryptopanic"
	KeyPrices       = "crypto:prices"
	KeySentiment    = "crypto:fear_greed"
	KeyIngestStatus = "news:status"
)

// ErrCacheMiss возвращается, если ключа нет в кэше.
var ErrCacheMiss = errors.New("cache: ключ не найден")

// ErrInvalidRecord запись не проходит проверку хранилища, повтор не поможет.
var ErrInvalidRecord = errors.New("некорректная запись")

// Ошибки справочника каналов.
var (
	ErrChannelExists   = errors.New("канал уже добавлен")
	ErrChannelNotFound = errors.New("канал не найден")
)

// Publisher публикует событие в топик шины.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Cache хранит последние значения для холодного чтения.
type Cache interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// TaskQueue очередь задач сохранения.
type TaskQueue interface {
	Enqueue(ctx context.Context, job PersistJob) error
	Receive(ctx context.Context) (PersistJob, AckFunc, error)
}

// HistoryStore хранилище временного ряда цен.
type HistoryStore interface {
	AppendHistory(ctx context.Context, points []HistoryPoint) error
	ExistingTimestamps(ctx context.Context, symbol string, since time.Time) (map[int64]struct{}, error)
	RecentHistory(ctx context.Context, symbol string, limit int) ([]HistoryPoint, error)
	HistoryRange(ctx context.Context, symbol string, since time.Time, limit int, bucket time.Duration) ([]HistoryPoint, error)
}

// MessageStore хранит сообщения каналов.
type MessageStore interface {
	UpsertMessage(ctx context.Context, msg MessageRecord) error
	ListMessages(ctx context.Context, limit, offset int) ([]MessageRecord, error)
}

// NewsStore хранит новости агрегатора.
type NewsStore interface {
	SaveNews(ctx context.Context, items []NewsItem) (int, error)
	ListNews(ctx context.Context, limit, offset int) ([]NewsItem, error)
}

// ChannelRepo управляет списком каналов.
type ChannelRepo interface {
	UpsertChannel(ctx context.Context, info ChannelInfo) (Channel, error)
	AddChannel(ctx context.Context, username, priority string) (Channel, error)
	ListChannels(ctx context.Context, activeOnly bool) ([]Channel, error)
	DeactivateChannel(ctx context.Context, username string) error
}
