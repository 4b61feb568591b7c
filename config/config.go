package config

import (
	"fmt"
	"runtime"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/spooky-finn/go-orderbook-collector/helpers"
)

// Config holds every runtime option of the collector pipeline. All durations are
// expressed in milliseconds in the environment.
type Config struct {
	Env       string `env:"APP_ENV" envDefault:"development"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	DebugMode bool   `env:"DEBUG" envDefault:"false"`

	// Exchange selects the provider pair wired into the collector.
	Exchange string `env:"EXCHANGE" envDefault:"binance"`

	// PairRules is a newline/semicolon separated blob of literal symbols and
	// regex patterns deciding which pairs the pipeline tracks. Empty means all.
	PairRules string `env:"PAIR_RULES"`

	SymbolsExpiryMs        int64 `env:"SYMBOLS_EXPIRY_MS" envDefault:"300000"`
	EntryExpiryMs          int64 `env:"ENTRY_EXPIRY_MS" envDefault:"864000000"`
	DiffQueueCapacity      int   `env:"DIFF_QUEUE_CAPACITY" envDefault:"8192"`
	ParallelBatchThreshold int   `env:"PARALLEL_BATCH_THRESHOLD" envDefault:"32"`
	PostBatchSleepMs       int64 `env:"POST_BATCH_SLEEP_MS" envDefault:"10"`
	RepairPollMs           int64 `env:"REPAIR_POLL_MS" envDefault:"5000"`
	StreamIdleGlobalMs     int64 `env:"STREAM_IDLE_GLOBAL_MS" envDefault:"20000"`
	StreamIdleSymbolMs     int64 `env:"STREAM_IDLE_SYMBOL_MS" envDefault:"60000"`
	StreamWarmupMs         int64 `env:"STREAM_WARMUP_MS" envDefault:"120000"`
	MaxTickQueue           int   `env:"MAX_TICK_QUEUE" envDefault:"0"`
	MaxStreams             int   `env:"MAX_STREAMS" envDefault:"256"`
	StreamSymbolCapacity   int   `env:"STREAM_SYMBOL_CAPACITY" envDefault:"200"`
	CollectPeriodMs        int64 `env:"COLLECT_PERIOD_MS" envDefault:"10000"`
	PriceScale             int32 `env:"PRICE_SCALE" envDefault:"8"`
	SnapshotDepthLimit     int   `env:"SNAPSHOT_DEPTH_LIMIT" envDefault:"5000"`

	BinanceRestEndpoint string `env:"BINANCE_REST_ENDPOINT" envDefault:"https://api.binance.com"`
	BinanceWsEndpoint   string `env:"BINANCE_WS_ENDPOINT" envDefault:"wss://stream.binance.com:9443/stream"`

	KucoinAPIKey     string `env:"KUCOIN_API_KEY"`
	KucoinSecretKey  string `env:"KUCOIN_SECRET_KEY"`
	KucoinPassphrase string `env:"KUCOIN_PASSPHRASE"`

	KafkaBrokers       []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaSnapshotTopic string   `env:"KAFKA_SNAPSHOT_TOPIC" envDefault:"orderbook.snapshots"`
	KafkaFeaturesTopic string   `env:"KAFKA_FEATURES_TOPIC" envDefault:"orderbook.features"`
	KafkaSnapshotDepth int      `env:"KAFKA_SNAPSHOT_DEPTH" envDefault:"50"`

	MetricsAddr string `env:"METRICS_ADDR" envDefault:":8080"`
}

// Load reads an optional .env file and the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config from environment: %w", err)
	}

	return cfg, nil
}

func (c *Config) SymbolsExpiry() time.Duration   { return helpers.Ms(c.SymbolsExpiryMs) }
func (c *Config) EntryExpiry() time.Duration     { return helpers.Ms(c.EntryExpiryMs) }
func (c *Config) PostBatchSleep() time.Duration  { return helpers.Ms(c.PostBatchSleepMs) }
func (c *Config) RepairPoll() time.Duration      { return helpers.Ms(c.RepairPollMs) }
func (c *Config) StreamIdleGlobal() time.Duration { return helpers.Ms(c.StreamIdleGlobalMs) }
func (c *Config) StreamIdleSymbol() time.Duration { return helpers.Ms(c.StreamIdleSymbolMs) }
func (c *Config) StreamWarmup() time.Duration    { return helpers.Ms(c.StreamWarmupMs) }
func (c *Config) CollectPeriod() time.Duration   { return helpers.Ms(c.CollectPeriodMs) }

// TickQueueLimit resolves MAX_TICK_QUEUE, defaulting to the host parallelism
// clamped into [2, 32].
func (c *Config) TickQueueLimit() int {
	if c.MaxTickQueue > 0 {
		return c.MaxTickQueue
	}
	return helpers.Clamp(runtime.NumCPU(), 2, 32)
}
