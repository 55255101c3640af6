package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"onboardr/pkg/errors"
)

type Config struct {
	App           AppConfig
	HTTP          HTTPConfig
	Redis         RedisConfig
	Cache         CacheConfig
	WebSocket     WebSocketConfig
	Orchestration OrchestrationConfig
	Agents        AgentsConfig
	Soroswap      SoroswapConfig
	DeFindex      DeFindexConfig
	Horizon       HorizonConfig
	Kafka         KafkaConfig
	ClickHouse    ClickHouseConfig
	Telegram      TelegramConfig
	ErrorTracking ErrorTrackingConfig
	API           APIConfig
}

type AppConfig struct {
	Name     string `envconfig:"APP_NAME" default:"onboardr"`
	Env      string `envconfig:"APP_ENV" default:"development"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	Debug    bool   `envconfig:"DEBUG" default:"false"`
}

type HTTPConfig struct {
	Port            int           `envconfig:"HTTP_PORT" default:"8080"`
	ShutdownTimeout time.Duration `envconfig:"HTTP_SHUTDOWN_TIMEOUT" default:"15s"`
}

// RedisConfig is optional: an empty host disables the external cache tier
type RedisConfig struct {
	Host     string `envconfig:"REDIS_HOST"`
	Port     int    `envconfig:"REDIS_PORT" default:"6379"`
	Password string `envconfig:"REDIS_PASSWORD"`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
}

func (c RedisConfig) Enabled() bool {
	return c.Host != ""
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type CacheConfig struct {
	Prefix     string        `envconfig:"CACHE_PREFIX" default:"onboardr:"`
	DefaultTTL time.Duration `envconfig:"CACHE_DEFAULT_TTL" default:"60s"`
}

// WebSocketConfig points at the relay the manager pushes results through.
// An empty URL disables the real-time channel.
type WebSocketConfig struct {
	URL                  string        `envconfig:"WEBSOCKET_URL"`
	ReconnectDelay       time.Duration `envconfig:"WEBSOCKET_RECONNECT_DELAY" default:"1s"`
	MaxReconnectAttempts int           `envconfig:"WEBSOCKET_MAX_RECONNECT_ATTEMPTS" default:"5"`
	PingInterval         time.Duration `envconfig:"WEBSOCKET_PING_INTERVAL" default:"30s"`
}

type OrchestrationConfig struct {
	MaxConcurrentAgents int  `envconfig:"ORCHESTRATION_MAX_CONCURRENT_AGENTS" default:"5"`
	MetricsEnabled      bool `envconfig:"ORCHESTRATION_METRICS_ENABLED" default:"true"`
	AutoStart           bool `envconfig:"ORCHESTRATION_AUTO_START" default:"true"`
}

// AgentsConfig holds per-agent schedules
type AgentsConfig struct {
	DataPreloadInterval time.Duration `envconfig:"AGENT_DATA_PRELOAD_INTERVAL" default:"30s"`
	DataPreloadTimeout  time.Duration `envconfig:"AGENT_DATA_PRELOAD_TIMEOUT" default:"15s"`
	DataPreloadRetries  *int          `envconfig:"AGENT_DATA_PRELOAD_RETRIES" default:"3"`

	TradingInterval        time.Duration `envconfig:"AGENT_TRADING_INTERVAL" default:"5s"`
	TradingTimeout         time.Duration `envconfig:"AGENT_TRADING_TIMEOUT" default:"30s"`
	TradingRetries         *int          `envconfig:"AGENT_TRADING_RETRIES" default:"2"`
	TradingMaxPerTick      int           `envconfig:"AGENT_TRADING_MAX_PER_TICK" default:"5"`
	TradingRetention       time.Duration `envconfig:"AGENT_TRADING_RETENTION" default:"1h"`
	TradingDefaultSlippage float64       `envconfig:"AGENT_TRADING_DEFAULT_SLIPPAGE" default:"0.5"`

	AnalyticsInterval time.Duration `envconfig:"AGENT_ANALYTICS_INTERVAL" default:"60s"`
	AnalyticsTimeout  time.Duration `envconfig:"AGENT_ANALYTICS_TIMEOUT" default:"20s"`
	AnalyticsRetries  *int          `envconfig:"AGENT_ANALYTICS_RETRIES" default:"2"`

	AlertsInterval time.Duration `envconfig:"AGENT_ALERTS_INTERVAL" default:"10s"`
	AlertsTimeout  time.Duration `envconfig:"AGENT_ALERTS_TIMEOUT" default:"10s"`
	AlertsRetries  *int          `envconfig:"AGENT_ALERTS_RETRIES" default:"1"`
}

type SoroswapConfig struct {
	BaseURL string        `envconfig:"SOROSWAP_API_URL" default:"https://api.soroswap.finance"`
	APIKey  string        `envconfig:"SOROSWAP_API_KEY"`
	Network string        `envconfig:"SOROSWAP_NETWORK" default:"mainnet"`
	Timeout time.Duration `envconfig:"SOROSWAP_TIMEOUT" default:"10s"`
}

type DeFindexConfig struct {
	BaseURL string        `envconfig:"DEFINDEX_API_URL" default:"https://api.defindex.io"`
	APIKey  string        `envconfig:"DEFINDEX_API_KEY"`
	Network string        `envconfig:"DEFINDEX_NETWORK" default:"mainnet"`
	Timeout time.Duration `envconfig:"DEFINDEX_TIMEOUT" default:"10s"`
}

type HorizonConfig struct {
	BaseURL string        `envconfig:"HORIZON_URL" default:"https://horizon.stellar.org"`
	Timeout time.Duration `envconfig:"HORIZON_TIMEOUT" default:"10s"`
}

// KafkaConfig is optional: no brokers disables the event sink
type KafkaConfig struct {
	Brokers []string `envconfig:"KAFKA_BROKERS"`
	Topic   string   `envconfig:"KAFKA_EVENTS_TOPIC" default:"onboardr.orchestration.events"`
}

func (c KafkaConfig) Enabled() bool {
	return len(c.Brokers) > 0
}

// ClickHouseConfig is optional: an empty host disables market history
type ClickHouseConfig struct {
	Host     string `envconfig:"CLICKHOUSE_HOST"`
	Port     int    `envconfig:"CLICKHOUSE_PORT" default:"9000"`
	User     string `envconfig:"CLICKHOUSE_USER" default:"default"`
	Password string `envconfig:"CLICKHOUSE_PASSWORD"`
	Database string `envconfig:"CLICKHOUSE_DB" default:"onboardr"`
}

func (c ClickHouseConfig) Enabled() bool {
	return c.Host != ""
}

// TelegramConfig is optional: no token or chat disables alert notifications
type TelegramConfig struct {
	BotToken string  `envconfig:"TELEGRAM_BOT_TOKEN"`
	ChatIDs  []int64 `envconfig:"TELEGRAM_ALERT_CHAT_IDS"`
	RateRPS  float64 `envconfig:"TELEGRAM_RATE_RPS" default:"1"`
}

func (c TelegramConfig) Enabled() bool {
	return c.BotToken != "" && len(c.ChatIDs) > 0
}

type ErrorTrackingConfig struct {
	Enabled     bool   `envconfig:"ERROR_TRACKING_ENABLED" default:"false"`
	Provider    string `envconfig:"ERROR_TRACKING_PROVIDER" default:"sentry"`
	SentryDSN   string `envconfig:"SENTRY_DSN"`
	Environment string `envconfig:"SENTRY_ENVIRONMENT" default:"production"`
}

// APIConfig configures the HTTP routes consumed by the UI
type APIConfig struct {
	AnalyticsRateLimit int `envconfig:"API_ANALYTICS_RATE_LIMIT" default:"60"` // requests per minute per client
}

// Load reads configuration from environment variables
// It first tries to load .env file (useful for local development)
func Load() (*Config, error) {
	// Load .env file if exists (ignore error if not exists)
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to process env config")
	}

	if cfg.Orchestration.MaxConcurrentAgents <= 0 {
		return nil, errors.Wrapf(errors.ErrConfig, "ORCHESTRATION_MAX_CONCURRENT_AGENTS must be positive, got %d", cfg.Orchestration.MaxConcurrentAgents)
	}

	return &cfg, nil
}
