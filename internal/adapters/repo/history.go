package repo

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/jackc/pgx/v5"

	"crypto-pulse/internal/domain"
	"crypto-pulse/internal/infra/metrics"
)

// AppendHistory пишет точки одним батчем. Повтор (symbol, ts) игнорируется.
func (p *Postgres) AppendHistory(ctx context.Context, points []domain.HistoryPoint) error {
	if len(points) == 0 {
		return nil
	}
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	batch := &pgx.Batch{}
	for _, point := range points {
		batch.Queue(`
INSERT INTO price_history (symbol, price, ts)
VALUES ($1, $2, $3)
ON CONFLICT (symbol, ts) DO NOTHING
`, point.Symbol, point.Price, point.Timestamp.UTC())
	}
	start := time.Now()
	br := p.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range points {
		if _, err := br.Exec(); err != nil {
			metrics.ObserveNetworkRequest("postgres", "price_history_batch", "price_history", start, err)
			return fmt.Errorf("запись истории: %w", err)
		}
	}
	metrics.ObserveNetworkRequest("postgres", "price_history_batch", "price_history", start, nil)
	return nil
}

// ExistingTimestamps возвращает метки времени (мс) символа начиная с since.
func (p *Postgres) ExistingTimestamps(ctx context.Context, symbol string, since time.Time) (map[int64]struct{}, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `SELECT ts FROM price_history WHERE symbol = $1 AND ts >= $2`, symbol, since.UTC())
	metrics.ObserveNetworkRequest("postgres", "price_history_existing", "price_history", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64]struct{})
	for rows.Next() {
		var ts time.Time
		if err := rows.Scan(&ts); err != nil {
			return nil, err
		}
		out[ts.UnixMilli()] = struct{}{}
	}
	return out, rows.Err()
}

// RecentHistory возвращает последние limit точек в хронологическом порядке.
func (p *Postgres) RecentHistory(ctx context.Context, symbol string, limit int) ([]domain.HistoryPoint, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT symbol, price, ts FROM price_history
WHERE symbol = $1
ORDER BY ts DESC
LIMIT $2
`, symbol, limit)
	metrics.ObserveNetworkRequest("postgres", "price_history_recent", "price_history", start, err)
	if err != nil {
		return nil, err
	}
	return collectAscending(rows)
}

// HistoryRange возвращает точки начиная с since. При bucket > 0 цены
// усредняются по интервалам date_bin. Порядок хронологический, берутся
// последние limit точек.
func (p *Postgres) HistoryRange(ctx context.Context, symbol string, since time.Time, limit int, bucket time.Duration) ([]domain.HistoryPoint, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var (
		rows pgx.Rows
		err  error
	)
	start := time.Now()
	if bucket > 0 {
		rows, err = p.pool.Query(ctx, `
SELECT $1::text, avg(price), date_bin(make_interval(secs => $3), ts, TIMESTAMPTZ '2000-01-01') AS bucket
FROM price_history
WHERE symbol = $1 AND ts >= $2
GROUP BY bucket
ORDER BY bucket DESC
LIMIT $4
`, symbol, since.UTC(), bucket.Seconds(), limit)
		metrics.ObserveNetworkRequest("postgres", "price_history_buckets", "price_history", start, err)
	} else {
		rows, err = p.pool.Query(ctx, `
SELECT symbol, price, ts FROM price_history
WHERE symbol = $1 AND ts >= $2
ORDER BY ts DESC
LIMIT $3
`, symbol, since.UTC(), limit)
		metrics.ObserveNetworkRequest("postgres", "price_history_range", "price_history", start, err)
	}
	if err != nil {
		return nil, err
	}
	return collectAscending(rows)
}

// collectAscending читает строки, отсортированные по убыванию времени,
// и разворачивает их.
func collectAscending(rows pgx.Rows) ([]domain.HistoryPoint, error) {
	defer rows.Close()
	var out []domain.HistoryPoint
	for rows.Next() {
		var point domain.HistoryPoint
		if err := rows.Scan(&point.Symbol, &point.Price, &point.Timestamp); err != nil {
			return nil, err
		}
		point.Timestamp = point.Timestamp.UTC()
		out = append(out, point)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slices.Reverse(out)
	return out, nil
}
