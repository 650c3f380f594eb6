package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv      string `envconfig:"APP_ENV" default:"dev"`
	HTTPAddr    string `envconfig:"HTTP_ADDR" default:":8080"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`
	CatalogFile string `envconfig:"CATALOG_FILE"`

	PGDSN string `envconfig:"PG_DSN"`

	Redis struct {
		Addr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
		Password string `envconfig:"REDIS_PASSWORD"`
		DB       int    `envconfig:"REDIS_DB" default:"0"`
	} `envconfig:""`

	Queue struct {
		Backend   string `envconfig:"QUEUE_BACKEND" default:"redis"`
		RabbitURL string `envconfig:"RABBITMQ_URL"`
		Name      string `envconfig:"PERSIST_QUEUE" default:"persist_jobs"`
	} `envconfig:""`

	Telegram struct {
		APIID       int    `envconfig:"TG_API_ID"`
		APIHash     string `envconfig:"TG_API_HASH"`
		SessionName string `envconfig:"MTPROTO_SESSION_NAME" default:"default"`
		SessionFile string `envconfig:"MTPROTO_SESSION_FILE"`
		MediaDir    string `envconfig:"MEDIA_DIR" default:"/data/media"`
	} `envconfig:""`

	CryptoPanic struct {
		Token    string `envconfig:"CRYPTOPANIC_TOKEN"`
		Schedule string `envconfig:"CRYPTOPANIC_SCHEDULE" default:"@every 6h"`
	} `envconfig:""`

	Market struct {
		StreamURL        string        `envconfig:"BINANCE_STREAM_URL" default:"wss://stream.binance.com:9443/ws"`
		RESTURL          string        `envconfig:"BINANCE_REST_URL" default:"https://api.binance.com"`
		BufferSize       int           `envconfig:"ROLLING_BUFFER_SIZE" default:"1000"`
		ReconnectDelay   time.Duration `envconfig:"FEED_RECONNECT_DELAY" default:"5s"`
		PublishInterval  time.Duration `envconfig:"PUBLISH_INTERVAL" default:"1s"`
		PersistInterval  time.Duration `envconfig:"PERSIST_INTERVAL" default:"5s"`
		TrendingInterval time.Duration `envconfig:"TRENDING_INTERVAL" default:"15m"`
		RanksInterval    time.Duration `envconfig:"RANKS_INTERVAL" default:"10m"`
		TVLInterval      time.Duration `envconfig:"TVL_INTERVAL" default:"5m"`
		SentimentEvery   time.Duration `envconfig:"SENTIMENT_INTERVAL" default:"5m"`
		RetryInterval    time.Duration `envconfig:"REFRESH_RETRY_INTERVAL" default:"60s"`
		SkipBackfill     bool          `envconfig:"SKIP_BACKFILL" default:"false"`
	} `envconfig:""`

	Messages struct {
		BufferSize        int           `envconfig:"MESSAGE_BUFFER_SIZE" default:"500"`
		HeartbeatInterval time.Duration `envconfig:"HEARTBEAT_INTERVAL" default:"10s"`
		RecencyWindow     time.Duration `envconfig:"HEARTBEAT_RECENCY_WINDOW" default:"24h"`
		HistoryLimit      int           `envconfig:"INITIAL_HISTORY_LIMIT" default:"3"`
	} `envconfig:""`

	ShutdownGrace time.Duration `envconfig:"SHUTDOWN_GRACE" default:"10s"`
}

// Load загружает конфиг из окружения.
func Load() AppConfig {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}

// HasTelegramCredentials сообщает, можно ли подключаться к MTProto.
func (c AppConfig) HasTelegramCredentials() bool {
	return c.Telegram.APIID != 0 && c.Telegram.APIHash != ""
}
