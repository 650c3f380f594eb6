package queue

import (
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"crypto-pulse/internal/domain"
)

// Бэкенды очереди задач.
const (
	BackendRedis    = "redis"
	BackendRabbitMQ = "rabbitmq"
)

// Open выбирает реализацию очереди по имени бэкенда. Возвращаемая функция
// закрывает подключение к брокеру, для Redis она ничего не делает.
func Open(backend, rabbitURL, name string, client *redis.Client) (domain.TaskQueue, func() error, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", BackendRedis:
		if client == nil {
			return nil, nil, fmt.Errorf("очередь %s: нет клиента Redis", name)
		}
		return NewRedisTaskQueue(client, name), func() error { return nil }, nil
	case BackendRabbitMQ:
		q, err := NewRabbitTaskQueue(rabbitURL, name)
		if err != nil {
			return nil, nil, err
		}
		return q, q.Close, nil
	}
	return nil, nil, fmt.Errorf("неизвестный бэкенд очереди %q", backend)
}
