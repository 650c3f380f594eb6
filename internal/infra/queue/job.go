package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"crypto-pulse/internal/domain"
)

// NewJob собирает задачу с аргументами в JSON.
func NewJob(task string, args ...any) (domain.PersistJob, error) {
	raw := make([]json.RawMessage, 0, len(args))
	for i, arg := range args {
		data, err := json.Marshal(arg)
		if err != nil {
			return domain.PersistJob{}, fmt.Errorf("аргумент %d задачи %s: %w", i, task, err)
		}
		raw = append(raw, data)
	}
	return domain.PersistJob{
		ID:         uuid.NewString(),
		Task:       task,
		Args:       raw,
		EnqueuedAt: time.Now().UTC(),
	}, nil
}
