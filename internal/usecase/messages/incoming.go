package messages

import (
	"context"
	"strings"
	"time"

	"crypto-pulse/internal/domain"
)

// Content вид содержимого сообщения без текста.
type Content int

const (
	ContentNone Content = iota
	ContentMedia
	ContentPoll
	ContentLocation
)

// Attachment вложение, которое можно сохранить на диск.
type Attachment interface {
	// MediaType photo, video или document.
	MediaType() string
	// Download сохраняет файл и возвращает имя относительно каталога медиа.
	Download(ctx context.Context) (string, error)
}

// Incoming событие мессенджера в нормализованном виде. Адаптер источника
// заполняет его один раз, дальше формат источника не виден.
type Incoming struct {
	ID           int64
	Channel      string
	ChannelTitle string
	Text         string
	Views        int
	Forwards     int
	Date         time.Time
	GroupedID    int64
	Content      Content
	PollQuestion string
	Attachment   Attachment
	IsEdit       bool
	IsDemo       bool
}

// DisplayText возвращает текст сообщения или заглушку по виду содержимого.
// ok=false для служебных и пустых событий.
func (in Incoming) DisplayText() (string, bool) {
	if text := strings.TrimSpace(in.Text); text != "" {
		return in.Text, true
	}
	switch {
	case in.Content == ContentMedia || in.Attachment != nil:
		return domain.MediaPlaceholder, true
	case in.Content == ContentPoll:
		return "[Poll: " + in.PollQuestion + "]", true
	case in.Content == ContentLocation:
		return domain.LocationPlaceholder, true
	}
	return "", false
}

// record собирает каноническую запись без вложений.
func (in Incoming) record(text string) domain.MessageRecord {
	date := in.Date
	if date.IsZero() {
		date = time.Now()
	}
	title := in.ChannelTitle
	if title == "" {
		title = in.Channel
	}
	return domain.MessageRecord{
		ID:              in.ID,
		ChannelUsername: in.Channel,
		ChannelTitle:    title,
		Text:            text,
		Views:           in.Views,
		Forwards:        in.Forwards,
		Date:            date.UTC(),
		GroupedID:       in.GroupedID,
		Media:           []domain.MediaItem{},
		IsEdit:          in.IsEdit,
		IsDemo:          in.IsDemo,
	}
}
