package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"crypto-pulse/internal/domain"
	"crypto-pulse/internal/usecase/channels"
)

// Периоды истории цен и шаг усреднения для них.
var periods = map[string]struct {
	window time.Duration
	bucket time.Duration
}{
	"15m": {window: 15 * time.Minute},
	"1h":  {window: time.Hour},
	"4h":  {window: 4 * time.Hour},
	"24h": {window: 24 * time.Hour, bucket: 5 * time.Minute},
}

// Deps зависимости REST и WebSocket слоя.
type Deps struct {
	Gateway  *Gateway
	Hub      *Hub
	Cache    domain.Cache
	History  domain.HistoryStore
	Messages domain.MessageStore
	News     domain.NewsStore
	Channels *channels.Service
	MediaDir string
	Timeout  time.Duration
	Log      zerolog.Logger
}

// API обработчики запросов чтения.
type API struct {
	d   Deps
	now func() time.Time
}

// New создаёт обработчики.
func New(d Deps) *API {
	if d.Timeout <= 0 {
		d.Timeout = 15 * time.Second
	}
	return &API{d: d, now: time.Now}
}

// Mount регистрирует маршруты на роутере.
func (a *API) Mount(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(a.d.Timeout))
		r.Get("/prices", a.prices)
		r.Get("/history/{symbol}", a.history)
		r.Get("/messages", a.messages)
		r.Get("/messages/status", a.messagesStatus)
		r.Get("/news", a.news)
		r.Get("/sentiment/fear-greed", a.fearGreed)
		r.Get("/channels", a.listChannels)
		r.Post("/channels", a.addChannel)
		r.Delete("/channels/{alias}", a.removeChannel)
		r.Get("/health", a.health)
	})
	r.Get("/health", a.health)
	if a.d.MediaDir != "" {
		r.Handle(domain.MediaURLPrefix+"*", http.StripPrefix(domain.MediaURLPrefix, http.FileServer(http.Dir(a.d.MediaDir))))
	}
	if a.d.Hub != nil {
		r.Get("/ws", a.d.Hub.ServeWS)
	}
}

func (a *API) prices(w http.ResponseWriter, r *http.Request) {
	if a.d.Gateway != nil {
		if prices, ok := a.d.Gateway.Prices(); ok {
			writeJSON(w, map[string]any{"data": prices, "count": len(prices)})
			return
		}
	}
	prices := map[string]domain.PriceSnapshot{}
	if raw, err := a.d.Cache.Get(r.Context(), domain.KeyPrices); err == nil {
		var pkt domain.PricesPayload
		if err := json.Unmarshal(raw, &pkt); err == nil && pkt.Prices != nil {
			prices = pkt.Prices
		}
	} else if !errors.Is(err, domain.ErrCacheMiss) {
		a.d.Log.Error().Err(err).Msg("api: чтение цен из кэша")
	}
	writeJSON(w, map[string]any{"data": prices, "count": len(prices)})
}

func (a *API) history(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(strings.TrimSuffix(chi.URLParam(r, "symbol"), "/"))
	period := r.URL.Query().Get("period")
	per, ok := periods[period]
	if !ok {
		period, per = "15m", periods["15m"]
	}
	limit := queryInt(r, "limit", 100, 1, 1000)
	if per.bucket > 0 {
		limit *= 2
	}

	points, err := a.d.History.HistoryRange(r.Context(), symbol, a.now().Add(-per.window), limit, per.bucket)
	if err != nil {
		a.d.Log.Error().Err(err).Str("symbol", symbol).Msg("api: чтение истории цен")
		writeJSON(w, map[string]any{"symbol": symbol, "source": "error", "period": period, "history": []domain.Sample{}})
		return
	}
	history := make([]domain.Sample, 0, len(points))
	for _, p := range points {
		history = append(history, domain.Sample{Time: p.Timestamp.UnixMilli(), Value: p.Price})
	}
	writeJSON(w, map[string]any{"symbol": symbol, "source": "database", "period": period, "history": history})
}

func (a *API) messages(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 20, 1, 100)
	skip := queryInt(r, "skip", 0, 0, 1<<30)
	list, err := a.d.Messages.ListMessages(r.Context(), limit, skip)
	if err != nil {
		a.d.Log.Error().Err(err).Msg("api: чтение сообщений")
		writeError(w, http.StatusInternalServerError, "failed to load messages")
		return
	}
	if list == nil {
		list = []domain.MessageRecord{}
	}
	writeJSON(w, list)
}

func (a *API) messagesStatus(w http.ResponseWriter, r *http.Request) {
	raw, err := a.d.Cache.Get(r.Context(), domain.KeyIngestStatus)
	if err == nil && json.Valid(raw) {
		writeRaw(w, raw)
		return
	}
	if err != nil && !errors.Is(err, domain.ErrCacheMiss) {
		a.d.Log.Error().Err(err).Msg("api: чтение статуса мониторинга")
	}
	writeJSON(w, map[string]any{"status": "not_initialized", "demo_mode": true})
}

func (a *API) news(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 20, 1, 100)
	skip := queryInt(r, "skip", 0, 0, 1<<30)
	items, err := a.d.News.ListNews(r.Context(), limit, skip)
	if err != nil {
		a.d.Log.Error().Err(err).Msg("api: чтение новостей")
		writeError(w, http.StatusInternalServerError, "failed to load news")
		return
	}
	if items == nil {
		items = []domain.NewsItem{}
	}
	writeJSON(w, items)
}

func (a *API) fearGreed(w http.ResponseWriter, r *http.Request) {
	raw, err := a.d.Cache.Get(r.Context(), domain.KeySentiment)
	if err == nil && json.Valid(raw) {
		writeRaw(w, raw)
		return
	}
	if err != nil && !errors.Is(err, domain.ErrCacheMiss) {
		a.d.Log.Error().Err(err).Msg("api: чтение индекса страха и жадности")
	}
	writeJSON(w, domain.NeutralSentiment())
}

type addChannelRequest struct {
	Username string `json:"username"`
	Priority string `json:"priority"`
}

func (a *API) listChannels(w http.ResponseWriter, r *http.Request) {
	list, err := a.d.Channels.ListChannels(r.Context())
	if err != nil {
		a.d.Log.Error().Err(err).Msg("api: список каналов")
		writeError(w, http.StatusInternalServerError, "failed to load channels")
		return
	}
	if list == nil {
		list = []domain.Channel{}
	}
	writeJSON(w, list)
}

func (a *API) addChannel(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req addChannelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	ch, err := a.d.Channels.AddChannel(r.Context(), req.Username, req.Priority)
	switch {
	case err == nil:
		writeJSON(w, ch)
	case errors.Is(err, channels.ErrAliasInvalid):
		writeError(w, http.StatusBadRequest, "invalid channel username")
	case errors.Is(err, channels.ErrPriorityInvalid):
		writeError(w, http.StatusBadRequest, "priority must be low, medium or high")
	case errors.Is(err, domain.ErrChannelExists):
		writeError(w, http.StatusBadRequest, "Channel already exists")
	default:
		a.d.Log.Error().Err(err).Msg("api: добавление канала")
		writeError(w, http.StatusInternalServerError, "failed to add channel")
	}
}

func (a *API) removeChannel(w http.ResponseWriter, r *http.Request) {
	alias := chi.URLParam(r, "alias")
	err := a.d.Channels.RemoveChannel(r.Context(), alias)
	switch {
	case err == nil:
		writeJSON(w, map[string]string{"message": "Channel " + strings.TrimPrefix(alias, "@") + " removed"})
	case errors.Is(err, channels.ErrAliasInvalid):
		writeError(w, http.StatusBadRequest, "invalid channel username")
	case errors.Is(err, domain.ErrChannelNotFound):
		writeError(w, http.StatusNotFound, "Channel not found")
	default:
		a.d.Log.Error().Err(err).Msg("api: удаление канала")
		writeError(w, http.StatusInternalServerError, "failed to remove channel")
	}
}

func (a *API) health(w http.ResponseWriter, r *http.Request) {
	connected := a.d.Gateway != nil && a.d.Gateway.FeedConnected()
	status := "connecting"
	if connected {
		status = "healthy"
	}
	clients := 0
	if a.d.Hub != nil {
		clients = a.d.Hub.Clients()
	}
	writeJSON(w, map[string]any{
		"status":                   status,
		"binance_connected":        connected,
		"active_websocket_clients": clients,
	})
}

// queryInt читает целый параметр запроса и прижимает его к [lo, hi].
func queryInt(r *http.Request, name string, def, lo, hi int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil {
		return def
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeRaw(w http.ResponseWriter, raw []byte) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(raw)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": msg})
}
