package repo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"crypto-pulse/internal/domain"
	"crypto-pulse/internal/infra/metrics"
)

// SaveNews сохраняет новости, дубликаты по (title, published_at)
// пропускаются. Возвращает число новых записей.
func (p *Postgres) SaveNews(ctx context.Context, items []domain.NewsItem) (int, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	batch := &pgx.Batch{}
	queued := 0
	for _, item := range items {
		title := strings.TrimSpace(item.Title)
		if title == "" || item.PublishedAt.IsZero() {
			continue
		}
		kind := item.Kind
		if kind == "" {
			kind = "news"
		}
		batch.Queue(`
INSERT INTO cryptopanic_news (title, description, published_at, kind, source_title, url)
VALUES ($1, NULLIF($2::text, ''), $3, $4, NULLIF($5::text, ''), NULLIF($6::text, ''))
ON CONFLICT (title, published_at) DO NOTHING
`, title, item.Description, item.PublishedAt.UTC(), kind, item.SourceTitle, item.URL)
		queued++
	}
	if queued == 0 {
		return 0, nil
	}

	start := time.Now()
	br := p.pool.SendBatch(ctx, batch)
	defer br.Close()
	inserted := 0
	for i := 0; i < queued; i++ {
		tag, err := br.Exec()
		if err != nil {
			metrics.ObserveNetworkRequest("postgres", "news_batch", "cryptopanic_news", start, err)
			return inserted, fmt.Errorf("запись новостей: %w", rejectInvalid(err))
		}
		inserted += int(tag.RowsAffected())
	}
	metrics.ObserveNetworkRequest("postgres", "news_batch", "cryptopanic_news", start, nil)
	return inserted, nil
}

// ListNews возвращает новости от свежих к старым.
func (p *Postgres) ListNews(ctx context.Context, limit, offset int) ([]domain.NewsItem, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, title, coalesce(description, ''), published_at, kind, coalesce(source_title, ''), coalesce(url, '')
FROM cryptopanic_news
ORDER BY published_at DESC, id DESC
LIMIT $1 OFFSET $2
`, limit, offset)
	metrics.ObserveNetworkRequest("postgres", "news_list", "cryptopanic_news", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.NewsItem{}
	for rows.Next() {
		var item domain.NewsItem
		if err := rows.Scan(&item.ID, &item.Title, &item.Description, &item.PublishedAt, &item.Kind, &item.SourceTitle, &item.URL); err != nil {
			return nil, err
		}
		item.PublishedAt = item.PublishedAt.UTC()
		out = append(out, item)
	}
	return out, rows.Err()
}
