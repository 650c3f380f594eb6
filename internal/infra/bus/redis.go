package bus

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"crypto-pulse/internal/domain"
	"crypto-pulse/internal/infra/metrics"
)

// Handler получает сообщения подписки.
type Handler func(topic string, payload []byte)

// RedisBus публикует и читает события через Redis Pub/Sub.
type RedisBus struct {
	client        *redis.Client
	log           zerolog.Logger
	resubscribeIn time.Duration
}

var _ domain.Publisher = (*RedisBus)(nil)

// NewRedisBus создаёт шину.
func NewRedisBus(client *redis.Client, log zerolog.Logger) *RedisBus {
	return &RedisBus{client: client, log: log, resubscribeIn: 3 * time.Second}
}

// Publish отправляет payload в топик. Отсутствие подписчиков ошибкой не считается.
func (b *RedisBus) Publish(ctx context.Context, topic string, payload []byte) error {
	start := time.Now()
	err := b.client.Publish(ctx, topic, payload).Err()
	metrics.ObserveNetworkRequest("redis", "publish", topic, start, err)
	return err
}

// Subscribe читает топики до отмены ctx, переподписываясь после обрывов.
func (b *RedisBus) Subscribe(ctx context.Context, topics []string, handle Handler) error {
	policy := backoff.WithContext(backoff.NewConstantBackOff(b.resubscribeIn), ctx)
	return backoff.RetryNotify(func() error {
		err := b.listen(ctx, topics, handle)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}, policy, func(err error, wait time.Duration) {
		b.log.Error().Err(err).Dur("retry_in", wait).Msg("bus: подписка оборвалась")
	})
}

func (b *RedisBus) listen(ctx context.Context, topics []string, handle Handler) error {
	sub := b.client.Subscribe(ctx, topics...)
	defer sub.Close()

	start := time.Now()
	_, err := sub.Receive(ctx)
	metrics.ObserveNetworkRequest("redis", "subscribe", "pubsub", start, err)
	if err != nil {
		return err
	}
	b.log.Info().Strs("topics", topics).Msg("bus: подписка активна")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return errors.New("bus: канал подписки закрыт")
			}
			handle(msg.Channel, []byte(msg.Payload))
		}
	}
}
