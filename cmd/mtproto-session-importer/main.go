package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"crypto-pulse/internal/adapters/mtproto"
	"crypto-pulse/internal/adapters/repo"
	"crypto-pulse/internal/infra/config"
	"crypto-pulse/internal/infra/db"
	applog "crypto-pulse/internal/infra/log"
)

func main() {
	cfg := config.Load()
	logger := applog.Component(applog.NewLogger(cfg.AppEnv), "session-importer")

	var (
		filePath    string
		inline      string
		sessionName string
	)
	flag.StringVar(&filePath, "file", "", "файл с сессией (строка Telethon, JSON выгрузка или JSON gotd)")
	flag.StringVar(&inline, "session", "", "строковая сессия Telethon")
	flag.StringVar(&sessionName, "name", cfg.Telegram.SessionName, "имя сессии в таблице mtproto_sessions")
	flag.Parse()

	var raw []byte
	switch {
	case filePath != "":
		data, err := os.ReadFile(filePath)
		if err != nil {
			logger.Fatal().Err(err).Msg("session-importer: не удалось прочитать файл")
		}
		raw = data
	case strings.TrimSpace(inline) != "":
		raw = []byte(inline)
	default:
		logger.Fatal().Msg("session-importer: нужен -file или -session")
	}

	data, format, err := mtproto.ImportSession(raw)
	if err != nil {
		logger.Fatal().Err(err).Msg("session-importer: формат сессии не поддерживается")
	}

	if cfg.PGDSN == "" {
		logger.Fatal().Msg("session-importer: не задан PG_DSN")
	}
	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("session-importer: нет подключения к БД")
	}
	defer pool.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.Migrate(ctx, pool); err != nil {
		logger.Fatal().Err(err).Msg("session-importer: миграции")
	}

	storage := mtproto.NewDBStorage(repo.NewPostgres(pool), sessionName)
	if err := storage.StoreSession(ctx, data); err != nil {
		logger.Fatal().Err(err).Msg("session-importer: не удалось сохранить сессию")
	}

	if format != "" {
		fmt.Printf("Сессия сконвертирована из формата %s\n", format)
	}
	fmt.Printf("Сессия %q (%d байт) сохранена\n", sessionName, len(data))
}
