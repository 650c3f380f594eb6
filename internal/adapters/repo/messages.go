package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"crypto-pulse/internal/domain"
	"crypto-pulse/internal/infra/metrics"
)

type storedMessage struct {
	id        int64
	text      string
	mediaPath string
}

// UpsertMessage сохраняет сообщение идемпотентно. Части альбома сводятся
// к одной строке по (канал, grouped_id), вложения добавляются по пути.
func (p *Postgres) UpsertMessage(ctx context.Context, msg domain.MessageRecord) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	username := strings.TrimPrefix(strings.TrimSpace(msg.ChannelUsername), "@")
	if username == "" {
		return fmt.Errorf("%w: сообщение %d без канала", domain.ErrInvalidRecord, msg.ID)
	}

	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "messages", start, err)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	channelID, err := ensureChannel(ctx, tx, username, msg.ChannelTitle)
	if err != nil {
		return fmt.Errorf("канал %s: %w", username, rejectInvalid(err))
	}

	existing, found, err := findMessage(ctx, tx, channelID, msg)
	if err != nil {
		return fmt.Errorf("поиск сообщения: %w", err)
	}

	if found {
		start = time.Now()
		_, err = tx.Exec(ctx, `
UPDATE messages
SET views = $2, forwards = $3,
    text = CASE WHEN coalesce(text, '') IN ('', $5::text) AND $4::text <> '' THEN $4::text ELSE text END
WHERE id = $1
`, existing.id, msg.Views, msg.Forwards, msg.Text, domain.MediaPlaceholder)
		metrics.ObserveNetworkRequest("postgres", "messages_update", "messages", start, err)
		if err != nil {
			return fmt.Errorf("обновление сообщения: %w", rejectInvalid(err))
		}
	} else {
		date := msg.Date
		if date.IsZero() {
			date = time.Now()
		}
		start = time.Now()
		err = tx.QueryRow(ctx, `
INSERT INTO messages (channel_id, telegram_message_id, grouped_id, text, views, forwards, has_media, media_type, media_path, telegram_date)
VALUES ($1, $2, NULLIF($3::bigint, 0), $4, $5, $6, $7, NULLIF($8::text, ''), NULLIF($9::text, ''), $10)
ON CONFLICT (channel_id, telegram_message_id) DO UPDATE SET views = EXCLUDED.views, forwards = EXCLUDED.forwards
RETURNING id, coalesce(media_path, '')
`, channelID, msg.ID, msg.GroupedID, msg.Text, msg.Views, msg.Forwards, msg.HasMedia, msg.MediaType, msg.MediaPath, date.UTC()).
			Scan(&existing.id, &existing.mediaPath)
		metrics.ObserveNetworkRequest("postgres", "messages_insert", "messages", start, err)
		if err != nil {
			return fmt.Errorf("вставка сообщения: %w", rejectInvalid(err))
		}
	}

	for _, item := range mediaOf(msg) {
		start = time.Now()
		_, err = tx.Exec(ctx, `
INSERT INTO message_media (message_id, media_type, media_path)
VALUES ($1, $2, $3)
ON CONFLICT (message_id, media_path) DO NOTHING
`, existing.id, item.Type, item.Path)
		metrics.ObserveNetworkRequest("postgres", "message_media_insert", "message_media", start, err)
		if err != nil {
			return fmt.Errorf("вложение %s: %w", item.Path, rejectInvalid(err))
		}
		if existing.mediaPath == "" {
			start = time.Now()
			_, err = tx.Exec(ctx, `
UPDATE messages SET has_media = true, media_type = $2, media_path = $3
WHERE id = $1 AND coalesce(media_path, '') = ''
`, existing.id, item.Type, item.Path)
			metrics.ObserveNetworkRequest("postgres", "messages_legacy_media", "messages", start, err)
			if err != nil {
				return fmt.Errorf("основное вложение: %w", err)
			}
			existing.mediaPath = item.Path
		}
	}

	start = time.Now()
	err = tx.Commit(ctx)
	metrics.ObserveNetworkRequest("postgres", "commit_tx", "messages", start, err)
	return err
}

func ensureChannel(ctx context.Context, tx pgx.Tx, username, title string) (int64, error) {
	if strings.TrimSpace(title) == "" {
		title = username
	}
	var id int64
	start := time.Now()
	err := tx.QueryRow(ctx, `
INSERT INTO channels (username, title, is_active)
VALUES ($1, $2, true)
ON CONFLICT (username) DO UPDATE SET title = coalesce(NULLIF(channels.title, ''), EXCLUDED.title)
RETURNING id
`, username, title).Scan(&id)
	metrics.ObserveNetworkRequest("postgres", "channels_ensure", "channels", start, err)
	return id, err
}

func findMessage(ctx context.Context, tx pgx.Tx, channelID int64, msg domain.MessageRecord) (storedMessage, bool, error) {
	var out storedMessage
	if msg.GroupedID != 0 {
		start := time.Now()
		err := tx.QueryRow(ctx, `
SELECT id, coalesce(text, ''), coalesce(media_path, '') FROM messages
WHERE channel_id = $1 AND grouped_id = $2
ORDER BY id
LIMIT 1
`, channelID, msg.GroupedID).Scan(&out.id, &out.text, &out.mediaPath)
		metrics.ObserveNetworkRequest("postgres", "messages_find_group", "messages", start, err)
		if err == nil {
			return out, true, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return out, false, err
		}
	}
	start := time.Now()
	err := tx.QueryRow(ctx, `
SELECT id, coalesce(text, ''), coalesce(media_path, '') FROM messages
WHERE channel_id = $1 AND telegram_message_id = $2
`, channelID, msg.ID).Scan(&out.id, &out.text, &out.mediaPath)
	metrics.ObserveNetworkRequest("postgres", "messages_find_id", "messages", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return out, false, nil
	}
	return out, err == nil, err
}

// mediaOf собирает вложения записи, включая одиночное поле media_path.
func mediaOf(msg domain.MessageRecord) []domain.MediaItem {
	items := make([]domain.MediaItem, 0, len(msg.Media)+1)
	for _, item := range msg.Media {
		if item.Path != "" {
			items = append(items, item)
		}
	}
	if msg.MediaPath != "" && !msg.HasMediaPath(msg.MediaPath) {
		items = append(items, domain.MediaItem{Type: msg.MediaType, Path: msg.MediaPath})
	}
	return items
}

// ListMessages возвращает сообщения от новых к старым вместе с вложениями.
func (p *Postgres) ListMessages(ctx context.Context, limit, offset int) ([]domain.MessageRecord, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT m.id, m.telegram_message_id, coalesce(m.grouped_id, 0), coalesce(m.text, ''), m.views, m.forwards,
       coalesce(m.telegram_date, m.created_at), m.has_media, coalesce(m.media_type, ''), coalesce(m.media_path, ''),
       c.username, coalesce(c.title, c.username)
FROM messages m JOIN channels c ON c.id = m.channel_id
ORDER BY m.telegram_date DESC NULLS LAST, m.id DESC
LIMIT $1 OFFSET $2
`, limit, offset)
	metrics.ObserveNetworkRequest("postgres", "messages_list", "messages", start, err)
	if err != nil {
		return nil, err
	}

	var (
		out   []domain.MessageRecord
		rowID []int64
	)
	for rows.Next() {
		var (
			id  int64
			msg domain.MessageRecord
		)
		if err := rows.Scan(&id, &msg.ID, &msg.GroupedID, &msg.Text, &msg.Views, &msg.Forwards,
			&msg.Date, &msg.HasMedia, &msg.MediaType, &msg.MediaPath, &msg.ChannelUsername, &msg.ChannelTitle); err != nil {
			rows.Close()
			return nil, err
		}
		msg.Date = msg.Date.UTC()
		msg.Media = []domain.MediaItem{}
		out = append(out, msg)
		rowID = append(rowID, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return out, nil
	}

	index := make(map[int64]int, len(rowID))
	for i, id := range rowID {
		index[id] = i
	}
	start = time.Now()
	mediaRows, err := p.pool.Query(ctx, `
SELECT message_id, media_type, media_path FROM message_media
WHERE message_id = ANY($1)
ORDER BY id
`, rowID)
	metrics.ObserveNetworkRequest("postgres", "message_media_list", "message_media", start, err)
	if err != nil {
		return nil, err
	}
	defer mediaRows.Close()
	for mediaRows.Next() {
		var (
			messageID int64
			item      domain.MediaItem
		)
		if err := mediaRows.Scan(&messageID, &item.Type, &item.Path); err != nil {
			return nil, err
		}
		item.URL = domain.MediaURL(item.Path)
		i := index[messageID]
		out[i].Media = append(out[i].Media, item)
	}
	if err := mediaRows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		finishListed(&out[i])
	}
	return out, nil
}

// finishListed заполняет устаревшие поля ответа по списку вложений.
func finishListed(msg *domain.MessageRecord) {
	msg.HasMedia = msg.HasMedia || len(msg.Media) > 0
	switch {
	case msg.MediaPath != "":
		msg.MediaURL = domain.MediaURL(msg.MediaPath)
	case len(msg.Media) > 0:
		msg.MediaURL = msg.Media[0].URL
	}
}
