package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"crypto-pulse/internal/domain"
	"crypto-pulse/internal/infra/metrics"
)

// RabbitTaskQueue реализует очередь задач поверх AMQP.
type RabbitTaskQueue struct {
	conn  *amqp.Connection
	queue string

	mu         sync.Mutex
	pubCh      *amqp.Channel
	consumeCh  *amqp.Channel
	deliveries <-chan amqp.Delivery
}

var _ domain.TaskQueue = (*RabbitTaskQueue)(nil)

// NewRabbitTaskQueue подключается к брокеру и объявляет durable-очередь.
func NewRabbitTaskQueue(url, queue string) (*RabbitTaskQueue, error) {
	if url == "" {
		return nil, errors.New("amqp url is empty")
	}
	if queue == "" {
		return nil, errors.New("queue name is empty")
	}
	start := time.Now()
	conn, err := amqp.Dial(url)
	metrics.ObserveNetworkRequest("rabbitmq", "dial", queue, start, err)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	return &RabbitTaskQueue{conn: conn, queue: queue, pubCh: ch}, nil
}

// Enqueue публикует задачу как persistent-сообщение.
func (q *RabbitTaskQueue) Enqueue(ctx context.Context, job domain.PersistJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	start := time.Now()
	err = q.pubCh.PublishWithContext(ctx, "", q.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    job.ID,
		Type:         job.Task,
		Timestamp:    job.EnqueuedAt,
		Body:         payload,
	})
	metrics.ObserveNetworkRequest("rabbitmq", "publish", q.queue, start, err)
	if err != nil {
		return fmt.Errorf("publish job: %w", err)
	}
	return nil
}

// Receive ждёт следующую задачу. Ack подтверждает, Nack возвращает в очередь.
func (q *RabbitTaskQueue) Receive(ctx context.Context) (domain.PersistJob, domain.AckFunc, error) {
	deliveries, err := q.consumer()
	if err != nil {
		return domain.PersistJob{}, nil, err
	}
	for {
		select {
		case <-ctx.Done():
			return domain.PersistJob{}, nil, ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				q.resetConsumer()
				return domain.PersistJob{}, nil, errors.New("rabbitmq: канал доставки закрыт")
			}
			var job domain.PersistJob
			if err := json.Unmarshal(d.Body, &job); err != nil {
				_ = d.Reject(false)
				return domain.PersistJob{}, nil, fmt.Errorf("decode job: %w", err)
			}
			ack := func(success bool) error {
				if success {
					return d.Ack(false)
				}
				return d.Nack(false, true)
			}
			return job, ack, nil
		}
	}
}

func (q *RabbitTaskQueue) consumer() (<-chan amqp.Delivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.deliveries != nil {
		return q.deliveries, nil
	}
	ch, err := q.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open consume channel: %w", err)
	}
	if err := ch.Qos(8, 0, false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("qos: %w", err)
	}
	deliveries, err := ch.Consume(q.queue, "", false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("consume: %w", err)
	}
	q.consumeCh = ch
	q.deliveries = deliveries
	return deliveries, nil
}

func (q *RabbitTaskQueue) resetConsumer() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.consumeCh != nil {
		_ = q.consumeCh.Close()
	}
	q.consumeCh = nil
	q.deliveries = nil
}

// Close закрывает соединение с брокером.
func (q *RabbitTaskQueue) Close() error {
	return q.conn.Close()
}
