package db

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"crypto-pulse/internal/infra/metrics"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Connect создаёт пул подключений к Postgres.
func Connect(dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = 5
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	err = pool.Ping(ctx)
	metrics.ObserveNetworkRequest("postgres", "ping", "pool", start, err)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

// Migrate применяет встроенные миграции по порядку имён файлов.
// Все миграции написаны идемпотентно (IF NOT EXISTS).
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	names, err := fs.Glob(migrations, "migrations/*.sql")
	if err != nil {
		return err
	}
	sort.Strings(names)
	for _, name := range names {
		sqlText, err := migrations.ReadFile(name)
		if err != nil {
			return fmt.Errorf("чтение %s: %w", name, err)
		}
		start := time.Now()
		_, err = pool.Exec(ctx, string(sqlText))
		metrics.ObserveNetworkRequest("postgres", "migrate", name, start, err)
		if err != nil {
			return fmt.Errorf("миграция %s: %w", name, err)
		}
	}
	return nil
}
