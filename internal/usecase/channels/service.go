package channels

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"crypto-pulse/internal/domain"
)

var (
	ErrAliasInvalid    = errors.New("некорректный алиас")
	ErrPriorityInvalid = errors.New("некорректный приоритет")
)

var aliasRegex = regexp.MustCompile(`(?i)^(?:@|https?://t\.me/|t\.me/)?([a-z0-9_]{4,32})/?$`)

// Приоритеты каналов.
var priorities = map[string]struct{}{"low": {}, "medium": {}, "high": {}}

// Service управляет списком отслеживаемых каналов.
type Service struct {
	repo domain.ChannelRepo
}

// NewService создаёт новый сервис каналов.
func NewService(repo domain.ChannelRepo) *Service {
	return &Service{repo: repo}
}

// ParseAlias приводит ввод пользователя (@name, t.me/name) к имени канала.
// Регистр сохраняется.
func ParseAlias(input string) (string, error) {
	trim := strings.TrimSpace(input)
	matches := aliasRegex.FindStringSubmatch(trim)
	if len(matches) < 2 {
		return "", ErrAliasInvalid
	}
	return matches[1], nil
}

// AddChannel добавляет канал в мониторинг.
func (s *Service) AddChannel(ctx context.Context, alias, priority string) (domain.Channel, error) {
	parsed, err := ParseAlias(alias)
	if err != nil {
		return domain.Channel{}, err
	}
	priority = strings.ToLower(strings.TrimSpace(priority))
	if priority == "" {
		priority = "low"
	}
	if _, ok := priorities[priority]; !ok {
		return domain.Channel{}, ErrPriorityInvalid
	}
	channel, err := s.repo.AddChannel(ctx, parsed, priority)
	if err != nil {
		return domain.Channel{}, fmt.Errorf("сохранение канала: %w", err)
	}
	return channel, nil
}

// ListChannels возвращает активные каналы.
func (s *Service) ListChannels(ctx context.Context) ([]domain.Channel, error) {
	return s.repo.ListChannels(ctx, true)
}

// RemoveChannel снимает канал с мониторинга.
func (s *Service) RemoveChannel(ctx context.Context, alias string) error {
	parsed, err := ParseAlias(alias)
	if err != nil {
		return err
	}
	return s.repo.DeactivateChannel(ctx, parsed)
}

// MergeAliases объединяет списки каналов без повторов (без учёта регистра),
// некорректные имена пропускаются. Порядок первого вхождения сохраняется.
func MergeAliases(lists ...[]string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, list := range lists {
		for _, raw := range list {
			alias, err := ParseAlias(raw)
			if err != nil {
				continue
			}
			key := strings.ToLower(alias)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, alias)
		}
	}
	return out
}
