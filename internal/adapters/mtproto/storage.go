package mtproto

import (
	"context"

	"github.com/gotd/td/session"
)

// SessionRepo хранилище сессий в БД.
type SessionRepo interface {
	LoadMTProtoSession(ctx context.Context, name string) ([]byte, error)
	StoreMTProtoSession(ctx context.Context, name string, data []byte) error
}

// DBStorage хранит сессию gotd в таблице mtproto_sessions под именем.
type DBStorage struct {
	repo SessionRepo
	name string
}

var _ session.Storage = (*DBStorage)(nil)

// NewDBStorage создаёт хранилище сессии в БД.
func NewDBStorage(repo SessionRepo, name string) *DBStorage {
	return &DBStorage{repo: repo, name: name}
}

// LoadSession отдаёт session.ErrNotFound, если сессии ещё нет.
func (s *DBStorage) LoadSession(ctx context.Context) ([]byte, error) {
	return s.repo.LoadMTProtoSession(ctx, s.name)
}

// StoreSession сохраняет обновлённую сессию.
func (s *DBStorage) StoreSession(ctx context.Context, data []byte) error {
	return s.repo.StoreMTProtoSession(ctx, s.name, data)
}

// NewStorage выбирает файловое хранилище, если задан путь, иначе БД.
func NewStorage(repo SessionRepo, name, file string) session.Storage {
	if file != "" {
		return &session.FileStorage{Path: file}
	}
	return NewDBStorage(repo, name)
}
