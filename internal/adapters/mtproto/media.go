package mtproto

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gotd/td/telegram/downloader"
	"github.com/gotd/td/tg"

	"crypto-pulse/internal/infra/metrics"
)

// mediaStore скачивает вложения в каталог медиа.
type mediaStore struct {
	dir string
	api *tg.Client
	dl  *downloader.Downloader
}

func newMediaStore(dir string, api *tg.Client) *mediaStore {
	return &mediaStore{dir: dir, api: api, dl: downloader.NewDownloader()}
}

func (s *mediaStore) attachment(spec mediaSpec, name string) *attachment {
	return &attachment{spec: spec, name: name, store: s}
}

// attachment реализует messages.Attachment.
type attachment struct {
	spec  mediaSpec
	name  string
	store *mediaStore
}

func (a *attachment) MediaType() string { return a.spec.kind }

// Download сохраняет файл, если его ещё нет, и возвращает имя файла.
func (a *attachment) Download(ctx context.Context) (string, error) {
	full := filepath.Join(a.store.dir, a.name)
	if _, err := os.Stat(full); err == nil {
		return a.name, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", err
	}
	if err := os.MkdirAll(a.store.dir, 0o755); err != nil {
		return "", fmt.Errorf("каталог медиа: %w", err)
	}

	tmp := full + ".part"
	start := time.Now()
	_, err := a.store.dl.Download(a.store.api, a.spec.location).ToPath(ctx, tmp)
	metrics.ObserveNetworkRequest("mtproto", "download_media", a.spec.kind, start, err)
	if err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("скачивание %s: %w", a.name, err)
	}
	if err := os.Rename(tmp, full); err != nil {
		return "", fmt.Errorf("сохранение %s: %w", a.name, err)
	}
	return a.name, nil
}
