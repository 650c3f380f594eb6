package domain

import (
	"encoding/json"
	"time"
)

// Имена задач очереди сохранения.
const (
	TaskPersistMessage = "persist_telegram_message"
	TaskPersistNews    = "persist_cryptopanic_news"
)

// PersistJob задача для воркера сохранения. Доставка at-least-once,
// обработчик обязан быть идемпотентным.
type PersistJob struct {
	ID         string            `json:"job_id"`
	Task       string            `json:"task"`
	Args       []json.RawMessage `json:"args"`
	EnqueuedAt time.Time         `json:"enqueued_at"`
}

// AckFunc подтверждает обработку или просит повторную доставку.
type AckFunc func(success bool) error
