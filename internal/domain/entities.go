package domain

import "time"

// Sample точка цены в скользящем буфере. Time хранится в миллисекундах.
type Sample struct {
	Time  int64   `json:"time"`
	Value float64 `json:"price"`
}

// Ticker описывает одно событие 24hrTicker от биржи.
type Ticker struct {
	Symbol    string
	Price     float64
	ChangePct float64
	Volume    float64
	High      float64
	Low       float64
	EventTime int64
}

// GlobalStats агрегированные показатели по сетям.
type GlobalStats struct {
	TotalTVL       float64 `json:"total_tvl"`
	ChainCount     int     `json:"chain_count"`
	StablecoinMcap float64 `json:"stablecoin_mcap"`
}

// PriceSnapshot последнее состояние символа вместе с аннотациями.
type PriceSnapshot struct {
	Symbol       string       `json:"symbol"`
	Price        float64      `json:"price"`
	Change24h    float64      `json:"change_24h"`
	Volume24h    float64      `json:"volume_24h"`
	High24h      float64      `json:"high_24h"`
	Low24h       float64      `json:"low_24h"`
	Timestamp    int64        `json:"timestamp"`
	RSI          float64      `json:"rsi"`
	IsTrending   bool         `json:"is_trending"`
	TVL          *float64     `json:"tvl"`
	TVLChange1d  *float64     `json:"tvl_change_1d"`
	MoneyFlow24h *float64     `json:"money_flow_24h"`
	GlobalStats  *GlobalStats `json:"global_stats"`
}

// PricesPayload сводный пакет цен для канала распространения.
type PricesPayload struct {
	Prices map[string]PriceSnapshot `json:"prices"`
}

// TVLEntry показатели TVL для сети или протокола.
type TVLEntry struct {
	TVL       float64  `json:"tvl"`
	Change1d  *float64 `json:"change_1d"`
	MarketCap *float64 `json:"mcap,omitempty"`
}

// MarketRank позиция монеты по капитализации.
type MarketRank struct {
	CoinID string `json:"cg_id"`
	Rank   int    `json:"rank"`
}

// Sentiment индекс страха и жадности.
type Sentiment struct {
	Value           int    `json:"value"`
	Classification  string `json:"value_classification"`
	Timestamp       *int64 `json:"timestamp"`
	TimeUntilUpdate *int64 `json:"time_until_update,omitempty"`
	Error           string `json:"error,omitempty"`
}

// NeutralSentiment возвращается, когда свежих данных нет.
func NeutralSentiment() Sentiment {
	return Sentiment{Value: 50, Classification: "Neutral", Error: "Failed to fetch data"}
}

// HistoryPoint строка временного ряда цен.
type HistoryPoint struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

// ChannelInfo метаданные отслеживаемого канала.
type ChannelInfo struct {
	ID          int64  `json:"id"`
	Username    string `json:"username"`
	Title       string `json:"title"`
	Subscribers int    `json:"subscribers"`
}

// Channel строка каналов в БД.
type Channel struct {
	ID          int64     `json:"id"`
	Username    string    `json:"username"`
	Title       string    `json:"title"`
	Subscribers int       `json:"subscribers_count"`
	Priority    string    `json:"priority"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
}

// MediaItem вложение сообщения, сохранённое на диск.
type MediaItem struct {
	Type string `json:"type"`
	Path string `json:"path"`
	URL  string `json:"url"`
}

// MessageRecord каноническое сообщение из мессенджера.
// GroupedID равен нулю, если сообщение не входит в альбом.
type MessageRecord struct {
	ID              int64       `json:"id"`
	ChannelUsername string      `json:"channel_username"`
	ChannelTitle    string      `json:"channel_title"`
	Text            string      `json:"text"`
	Views           int         `json:"views"`
	Forwards        int         `json:"forwards"`
	Date            time.Time   `json:"date"`
	GroupedID       int64       `json:"grouped_id,omitempty"`
	HasMedia        bool        `json:"has_media"`
	MediaType       string      `json:"media_type,omitempty"`
	MediaPath       string      `json:"media_path,omitempty"`
	MediaURL        string      `json:"media_url,omitempty"`
	Media           []MediaItem `json:"media"`
	IsEdit          bool        `json:"is_edit,omitempty"`
	IsDemo          bool        `json:"is_demo"`
}

// Clone возвращает копию без общих срезов.
func (m MessageRecord) Clone() MessageRecord {
	out := m
	if m.Media != nil {
		out.Media = make([]MediaItem, len(m.Media))
		copy(out.Media, m.Media)
	}
	return out
}

// HasMediaPath сообщает, есть ли уже вложение с таким путём.
func (m MessageRecord) HasMediaPath(path string) bool {
	for _, item := range m.Media {
		if item.Path == path {
			return true
		}
	}
	return false
}

// NewsItem новость агрегатора CryptoPanic.
type NewsItem struct {
	ID          int64     `json:"id,omitempty"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	PublishedAt time.Time `json:"published_at"`
	Kind        string    `json:"kind"`
	SourceTitle string    `json:"source_title,omitempty"`
	URL         string    `json:"url,omitempty"`
}

// IngestStatus состояние сервиса мониторинга каналов.
type IngestStatus struct {
	Status        string    `json:"status"`
	DemoMode      bool      `json:"demo_mode"`
	Buffered      int       `json:"messages_buffered"`
	ChannelsCount int       `json:"channels_count"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Заглушки текста для сообщений без подписи.
const (
	MediaPlaceholder    = "[Media Content]"
	LocationPlaceholder = "[Location/Venue]"
)

// MediaURLPrefix публичный префикс раздачи файлов вложений.
const MediaURLPrefix = "/media/"

// MediaURL строит публичный адрес файла вложения по имени файла.
func MediaURL(path string) string {
	if path == "" {
		return ""
	}
	return MediaURLPrefix + path
}
