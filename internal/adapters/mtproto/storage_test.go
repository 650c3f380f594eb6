package mtproto

import (
	"context"
	"errors"
	"testing"

	"github.com/gotd/td/session"
)

type stubSessionRepo struct {
	data map[string][]byte
}

func (r *stubSessionRepo) LoadMTProtoSession(_ context.Context, name string) ([]byte, error) {
	data, ok := r.data[name]
	if !ok {
		return nil, session.ErrNotFound
	}
	return data, nil
}

func (r *stubSessionRepo) StoreMTProtoSession(_ context.Context, name string, data []byte) error {
	r.data[name] = data
	return nil
}

func TestDBStorageRoundTrip(t *testing.T) {
	repo := &stubSessionRepo{data: map[string][]byte{}}
	storage := NewStorage(repo, "main", "")

	if _, err := storage.LoadSession(context.Background()); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("ожидали session.ErrNotFound, получили %v", err)
	}
	if err := storage.StoreSession(context.Background(), []byte(`{"Version":1}`)); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if string(repo.data["main"]) != `{"Version":1}` {
		t.Fatalf("сессия не сохранена под именем")
	}
}

func TestNewStorageFile(t *testing.T) {
	storage := NewStorage(nil, "main", "/tmp/session.json")
	if _, ok := storage.(*session.FileStorage); !ok {
		t.Fatalf("ожидали файловое хранилище, получили %T", storage)
	}
}
