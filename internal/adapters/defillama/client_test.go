package defillama

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
)

type slugMap map[string]string

func (m slugMap) ChainSlug(chain string) string {
	if s, ok := m[chain]; ok {
		return s
	}
	return chain
}

func TestDailyChange(t *testing.T) {
	change, ok := DailyChange([]float64{90, 100, 110, 110, 110})
	if !ok {
		t.Fatalf("ожидали значение")
	}
	if change != 10 {
		t.Fatalf("ожидали 10%%, получили %v", change)
	}
	change, _ = DailyChange([]float64{300, 301})
	if change != 0.33 {
		t.Fatalf("ожидали округление до сотых, получили %v", change)
	}
	if _, ok := DailyChange([]float64{5, 5, 5}); ok {
		t.Fatalf("ряд без изменений не даёт процента")
	}
	if _, ok := DailyChange([]float64{5}); ok {
		t.Fatalf("одной точки недостаточно")
	}
}

func newTestServer(t *testing.T, failStable bool) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/chains", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"name":"Ethereum","tvl":1000},{"name":"Binance","tvl":500,"change_1d":1.5},{"name":"Other","tvl":10}]`))
	})
	mux.HandleFunc("/v2/historicalChainTvl/Ethereum", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"date":1,"tvl":800},{"date":2,"tvl":1000},{"date":3,"tvl":1000}]`))
	})
	mux.HandleFunc("/v2/historicalChainTvl/BSC", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	mux.HandleFunc("/protocols", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"slug":"lido","tvl":300,"change_1d":-2},{"slug":"unknown","tvl":1}]`))
	})
	mux.HandleFunc("/stablecoinchains", func(w http.ResponseWriter, r *http.Request) {
		if failStable {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`[{"name":"Ethereum","totalCirculatingUSD":{"peggedUSD":120},"circulatingPrevDay":{"peggedUSD":100}},{"name":"Tron","totalCirculatingUSD":{"peggedUSD":50}}]`))
	})
	return httptest.NewServer(mux)
}

func TestFetch(t *testing.T) {
	srv := newTestServer(t, false)
	defer srv.Close()

	c := New(Options{
		APIURL:      srv.URL,
		StableURL:   srv.URL,
		HTTP:        srv.Client(),
		Slugs:       slugMap{"Binance": "BSC"},
		TrackedKeys: []string{"Ethereum", "Binance", "lido"},
		Protocols:   []string{"lido"},
	}, zerolog.Nop())

	snap, err := c.Fetch(context.Background())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	eth := snap.Data.Chains["Ethereum"]
	if eth.Change1d == nil || *eth.Change1d != 25 {
		t.Fatalf("ожидали изменение 25%% из истории, получили %v", eth.Change1d)
	}
	bnb := snap.Data.Chains["Binance"]
	if bnb.Change1d == nil || *bnb.Change1d != 1.5 {
		t.Fatalf("при ошибке истории должно остаться значение из /chains")
	}
	if _, ok := snap.Data.Protocols["lido"]; !ok || len(snap.Data.Protocols) != 1 {
		t.Fatalf("ожидали только отслеживаемые протоколы: %v", snap.Data.Protocols)
	}
	if snap.Flows["Ethereum"] != 20 {
		t.Fatalf("ожидали поток 20, получили %v", snap.Flows["Ethereum"])
	}
	if _, ok := snap.Flows["Tron"]; ok {
		t.Fatalf("сеть без данных за прошлый день не даёт потока")
	}
	if snap.Global.TotalTVL != 1510 || snap.Global.ChainCount != 3 || snap.Global.StablecoinMcap != 170 {
		t.Fatalf("неверная глобальная статистика: %+v", snap.Global)
	}
}

func TestFetchFailsWhole(t *testing.T) {
	srv := newTestServer(t, true)
	defer srv.Close()

	c := New(Options{APIURL: srv.URL, StableURL: srv.URL, HTTP: srv.Client()}, zerolog.Nop())
	if _, err := c.Fetch(context.Background()); err == nil {
		t.Fatalf("ожидали ошибку при отказе эндпоинта стейблкоинов")
	}
}
