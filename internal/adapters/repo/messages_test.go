package repo

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"crypto-pulse/internal/domain"
)

func TestMediaOfIncludesLegacyPath(t *testing.T) {
	msg := domain.MessageRecord{
		MediaType: "photo",
		MediaPath: "news_2.jpg",
		Media: []domain.MediaItem{
			{Type: "photo", Path: "news_1.jpg"},
			{Type: "photo", Path: ""},
		},
	}
	items := mediaOf(msg)
	if len(items) != 2 {
		t.Fatalf("ожидали 2 вложения, получили %v", items)
	}
	if items[1].Path != "news_2.jpg" {
		t.Fatalf("ожидали одиночное вложение в конце, получили %v", items)
	}

	msg.MediaPath = "news_1.jpg"
	if items := mediaOf(msg); len(items) != 1 {
		t.Fatalf("путь не должен дублироваться: %v", items)
	}
}

func TestFinishListed(t *testing.T) {
	msg := domain.MessageRecord{Media: []domain.MediaItem{{Type: "video", Path: "a_1.mp4", URL: "/media/a_1.mp4"}}}
	finishListed(&msg)
	if !msg.HasMedia || msg.MediaURL != "/media/a_1.mp4" {
		t.Fatalf("ожидали заполненные поля: %+v", msg)
	}

	legacy := domain.MessageRecord{HasMedia: true, MediaPath: "b_2.jpg"}
	finishListed(&legacy)
	if legacy.MediaURL != "/media/b_2.jpg" {
		t.Fatalf("неверный адрес: %s", legacy.MediaURL)
	}
}

func TestUpsertMessageRejectsBlankChannel(t *testing.T) {
	err := NewPostgres(nil).UpsertMessage(context.Background(), domain.MessageRecord{ID: 7, ChannelUsername: "  "})
	if !errors.Is(err, domain.ErrInvalidRecord) {
		t.Fatalf("ожидали ErrInvalidRecord, получили %v", err)
	}
}

func TestRejectInvalid(t *testing.T) {
	notNull := &pgconn.PgError{Code: "23502", Message: "null value"}
	if err := rejectInvalid(notNull); !errors.Is(err, domain.ErrInvalidRecord) || !errors.As(err, new(*pgconn.PgError)) {
		t.Fatalf("нарушение ограничения должно стать ErrInvalidRecord: %v", err)
	}
	tooLong := &pgconn.PgError{Code: "22001"}
	if err := rejectInvalid(tooLong); !errors.Is(err, domain.ErrInvalidRecord) {
		t.Fatalf("ошибка данных должна стать ErrInvalidRecord: %v", err)
	}
	for _, err := range []error{
		&pgconn.PgError{Code: "23505"},
		&pgconn.PgError{Code: "40001"},
		errors.New("connection refused"),
	} {
		if errors.Is(rejectInvalid(err), domain.ErrInvalidRecord) {
			t.Fatalf("ошибка %v должна оставаться повторяемой", err)
		}
	}
}
