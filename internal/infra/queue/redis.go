package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"crypto-pulse/internal/domain"
	"crypto-pulse/internal/infra/metrics"
)

// RedisTaskQueue реализует очередь задач на базе Redis lists.
type RedisTaskQueue struct {
	client *redis.Client
	key    string
}

var _ domain.TaskQueue = (*RedisTaskQueue)(nil)

// NewRedisTaskQueue создаёт очередь по указанному ключу.
func NewRedisTaskQueue(client *redis.Client, key string) *RedisTaskQueue {
	return &RedisTaskQueue{client: client, key: key}
}

// Enqueue публикует задачу в очередь.
func (q *RedisTaskQueue) Enqueue(ctx context.Context, job domain.PersistJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	start := time.Now()
	err = q.client.LPush(ctx, q.key, payload).Err()
	metrics.ObserveNetworkRequest("redis", "lpush", q.key, start, err)
	if err != nil {
		return fmt.Errorf("push job: %w", err)
	}
	return nil
}

// Receive блокирующе читает задачу. Неуспешная задача возвращается в хвост очереди.
func (q *RedisTaskQueue) Receive(ctx context.Context) (domain.PersistJob, domain.AckFunc, error) {
	for {
		if err := ctx.Err(); err != nil {
			return domain.PersistJob{}, nil, err
		}

		res, err := q.client.BRPop(ctx, time.Second, q.key).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				if ctx.Err() != nil {
					return domain.PersistJob{}, nil, ctx.Err()
				}
				continue
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			return domain.PersistJob{}, nil, err
		}
		if len(res) != 2 {
			return domain.PersistJob{}, nil, errors.New("redis queue: unexpected response")
		}
		raw := res[1]
		var job domain.PersistJob
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			return domain.PersistJob{}, nil, fmt.Errorf("decode job: %w", err)
		}
		ack := func(success bool) error {
			if success {
				return nil
			}
			return q.client.LPush(context.Background(), q.key, raw).Err()
		}
		return job, ack, nil
	}
}
