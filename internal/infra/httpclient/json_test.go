package httpclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGetJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/bad" {
			http.Error(w, "nope", http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"value":42}`))
	}))
	defer srv.Close()

	var out struct{ Value int }
	if err := GetJSON(context.Background(), srv.Client(), "test", "ok", srv.URL+"/ok", &out); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if out.Value != 42 {
		t.Fatalf("ожидали 42, получили %d", out.Value)
	}

	err := GetJSON(context.Background(), srv.Client(), "test", "bad", srv.URL+"/bad", &out)
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusTooManyRequests {
		t.Fatalf("ожидали StatusError 429, получили %v", err)
	}
}
