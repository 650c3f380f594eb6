package repo

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"crypto-pulse/internal/domain"
	"crypto-pulse/internal/infra/metrics"
)

const channelColumns = `id, username, coalesce(title, username), subscribers_count, priority, is_active, created_at`

func scanChannel(row pgx.Row) (domain.Channel, error) {
	var ch domain.Channel
	err := row.Scan(&ch.ID, &ch.Username, &ch.Title, &ch.Subscribers, &ch.Priority, &ch.IsActive, &ch.CreatedAt)
	return ch, err
}

// UpsertChannel сохраняет метаданные канала, полученные из мессенджера.
func (p *Postgres) UpsertChannel(ctx context.Context, info domain.ChannelInfo) (domain.Channel, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	title := info.Title
	if title == "" {
		title = info.Username
	}
	start := time.Now()
	ch, err := scanChannel(p.pool.QueryRow(ctx, `
INSERT INTO channels (username, title, subscribers_count, is_active, last_fetched_at)
VALUES ($1, $2, $3, true, now())
ON CONFLICT (username) DO UPDATE SET title = EXCLUDED.title, subscribers_count = EXCLUDED.subscribers_count, last_fetched_at = now()
RETURNING `+channelColumns, info.Username, title, info.Subscribers))
	metrics.ObserveNetworkRequest("postgres", "channels_upsert", "channels", start, err)
	return ch, err
}

// AddChannel добавляет канал вручную. Активный дубликат даёт ErrChannelExists,
// ранее отключённый канал включается снова.
func (p *Postgres) AddChannel(ctx context.Context, username, priority string) (domain.Channel, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	if priority == "" {
		priority = "low"
	}
	start := time.Now()
	ch, err := scanChannel(p.pool.QueryRow(ctx, `
INSERT INTO channels (username, title, priority, is_active)
VALUES ($1, $1, $2, true)
ON CONFLICT (username) DO UPDATE SET is_active = true, priority = EXCLUDED.priority
WHERE channels.is_active = false
RETURNING `+channelColumns, username, priority))
	metrics.ObserveNetworkRequest("postgres", "channels_add", "channels", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Channel{}, domain.ErrChannelExists
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return domain.Channel{}, domain.ErrChannelExists
	}
	return ch, err
}

// ListChannels возвращает каналы по имени.
func (p *Postgres) ListChannels(ctx context.Context, activeOnly bool) ([]domain.Channel, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT `+channelColumns+` FROM channels
WHERE is_active OR NOT $1
ORDER BY username
`, activeOnly)
	metrics.ObserveNetworkRequest("postgres", "channels_list", "channels", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.Channel{}
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	return out, rows.Err()
}

// DeactivateChannel снимает канал с мониторинга.
func (p *Postgres) DeactivateChannel(ctx context.Context, username string) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `UPDATE channels SET is_active = false WHERE username = $1`, username)
	metrics.ObserveNetworkRequest("postgres", "channels_deactivate", "channels", start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrChannelNotFound
	}
	return nil
}
