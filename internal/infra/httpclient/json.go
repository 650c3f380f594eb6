package httpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"crypto-pulse/internal/infra/metrics"
)

// DefaultTimeout таймаут запросов к внешним источникам.
const DefaultTimeout = 15 * time.Second

// StatusError ответ с неуспешным HTTP статусом.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http статус %d: %s", e.Code, e.Body)
}

// New создаёт http.Client с таймаутом по умолчанию.
func New() *http.Client {
	return &http.Client{Timeout: DefaultTimeout}
}

// GetJSON выполняет GET и декодирует JSON в out. Длительность и статус
// запроса пишутся в метрики под component/operation.
func GetJSON(ctx context.Context, client *http.Client, component, operation, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		metrics.ObserveNetworkRequest(component, operation, req.URL.Host, start, err)
		return fmt.Errorf("%s %s: %w", component, operation, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err = &StatusError{Code: resp.StatusCode, Body: string(body)}
		metrics.ObserveNetworkRequest(component, operation, req.URL.Host, start, err)
		return fmt.Errorf("%s %s: %w", component, operation, err)
	}
	err = json.NewDecoder(resp.Body).Decode(out)
	metrics.ObserveNetworkRequest(component, operation, req.URL.Host, start, err)
	if err != nil {
		return fmt.Errorf("%s %s: декодирование: %w", component, operation, err)
	}
	return nil
}
