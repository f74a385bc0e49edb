package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Environment string          `mapstructure:"environment"`
	LogLevel    string          `mapstructure:"log_level"`
	Provider    ProviderConfig  `mapstructure:"provider"`
	Storage     StorageConfig   `mapstructure:"storage"`
	Analytics   AnalyticsConfig `mapstructure:"analytics"`
	Alerts      AlertsConfig    `mapstructure:"alerts"`
	Redis       RedisConfig     `mapstructure:"redis"`
	Server      ServerConfig    `mapstructure:"server"`
	Backfill    BackfillConfig  `mapstructure:"backfill"`
}

type ProviderConfig struct {
	Name                string   `mapstructure:"name"`
	BaseURL             string   `mapstructure:"base_url"`
	Currency            string   `mapstructure:"currency"`
	AssetIDs            []string `mapstructure:"asset_ids"`
	BatchSize           int      `mapstructure:"batch_size"`
	MaxRetries          int      `mapstructure:"max_retries"`
	MaxTransportRetries int      `mapstructure:"max_transport_retries"`
	BackoffBase         string   `mapstructure:"backoff_base"`
	BatchDelay          string   `mapstructure:"batch_delay"`
	FailureMode         string   `mapstructure:"failure_mode"`
	Timeout             int      `mapstructure:"timeout"`
}

type StorageConfig struct {
	Backend     string         `mapstructure:"backend"` // local, gcs or postgres
	LocalDir    string         `mapstructure:"local_dir"`
	RawBucket   string         `mapstructure:"raw_bucket"`
	StateBucket string         `mapstructure:"state_bucket"`
	RawPrefix   string         `mapstructure:"raw_prefix"`
	SilverName  string         `mapstructure:"silver_name"`
	StateName   string         `mapstructure:"state_name"`
	Database    DatabaseConfig `mapstructure:"database"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

type AnalyticsConfig struct {
	SMAWindow  int `mapstructure:"sma_window"`
	RSIPeriod  int `mapstructure:"rsi_period"`
	RetentionN int `mapstructure:"retention_per_asset"`
}

type AlertsConfig struct {
	TelegramBotToken string `mapstructure:"telegram_bot_token"`
	TelegramChatID   int64  `mapstructure:"telegram_chat_id"`
	WebhookURL       string `mapstructure:"webhook_url"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	LockTTL  string `mapstructure:"lock_ttl"`
}

// Enabled reports whether the analytics run lock should be used.
func (r RedisConfig) Enabled() bool {
	return r.Host != ""
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type BackfillConfig struct {
	MonthlyURL string   `mapstructure:"monthly_url"`
	DailyURL   string   `mapstructure:"daily_url"`
	Pairs      []string `mapstructure:"pairs"`
	Interval   string   `mapstructure:"interval"`
	ArchiveDir string   `mapstructure:"archive_dir"`
	StartYear  int      `mapstructure:"start_year"`
}

// Load reads config.yaml (plus .env and environment overrides) and
// validates the durations the pipeline depends on.
func Load() (*Config, error) {
	// A missing .env is fine; the original deployments were dotenv-driven
	// locally and pure-env in the cloud.
	_ = godotenv.Load()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	setDefaults()

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.Environment = strings.ToLower(cfg.Environment)

	for name, value := range map[string]string{
		"provider.backoff_base": cfg.Provider.BackoffBase,
		"provider.batch_delay":  cfg.Provider.BatchDelay,
		"redis.lock_ttl":        cfg.Redis.LockTTL,
	} {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return nil, fmt.Errorf("invalid duration for %s: %w", name, err)
		}
	}

	switch cfg.Provider.FailureMode {
	case "fail_fast", "graceful":
	default:
		return nil, fmt.Errorf("invalid provider.failure_mode %q (want fail_fast or graceful)", cfg.Provider.FailureMode)
	}

	if cfg.Analytics.RetentionN < 1 {
		return nil, fmt.Errorf("analytics.retention_per_asset must be positive, got %d", cfg.Analytics.RetentionN)
	}

	return &cfg, nil
}

// Duration parses a duration string that Load already validated.
func Duration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

func setDefaults() {
	viper.SetDefault("environment", "development")
	viper.SetDefault("log_level", "info")

	// Provider
	viper.SetDefault("provider.name", "coingecko")
	viper.SetDefault("provider.base_url", "https://api.coingecko.com/api/v3")
	viper.SetDefault("provider.currency", "usd")
	viper.SetDefault("provider.asset_ids", []string{"bitcoin", "ethereum", "solana"})
	viper.SetDefault("provider.batch_size", 250)
	viper.SetDefault("provider.max_retries", 3)
	viper.SetDefault("provider.max_transport_retries", 2)
	viper.SetDefault("provider.backoff_base", "2s")
	viper.SetDefault("provider.batch_delay", "2s")
	viper.SetDefault("provider.failure_mode", "graceful")
	viper.SetDefault("provider.timeout", 10)

	// Storage
	viper.SetDefault("storage.backend", "local")
	viper.SetDefault("storage.local_dir", "data")
	viper.SetDefault("storage.raw_bucket", "")
	viper.SetDefault("storage.state_bucket", "")
	viper.SetDefault("storage.raw_prefix", "bronze/")
	viper.SetDefault("storage.silver_name", "silver/cleaned_market_data.parquet")
	viper.SetDefault("storage.state_name", "gold/analyzed_market_summary.parquet")

	viper.SetDefault("storage.database.host", "localhost")
	viper.SetDefault("storage.database.port", 5432)
	viper.SetDefault("storage.database.user", "postgres")
	viper.SetDefault("storage.database.password", "postgres")
	viper.SetDefault("storage.database.dbname", "cryptolake")
	viper.SetDefault("storage.database.sslmode", "disable")

	// Analytics
	viper.SetDefault("analytics.sma_window", 7)
	viper.SetDefault("analytics.rsi_period", 14)
	viper.SetDefault("analytics.retention_per_asset", 500)

	// Alerts
	viper.SetDefault("alerts.telegram_bot_token", "")
	viper.SetDefault("alerts.telegram_chat_id", 0)
	viper.SetDefault("alerts.webhook_url", "")

	// Redis (analytics run lock, disabled unless a host is set)
	viper.SetDefault("redis.host", "")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.lock_ttl", "2m")

	// Server
	viper.SetDefault("server.port", 8080)

	// Backfill (public archive downloader)
	viper.SetDefault("backfill.monthly_url", "https://data.binance.vision/data/spot/monthly/klines")
	viper.SetDefault("backfill.daily_url", "https://data.binance.vision/data/spot/daily/klines")
	viper.SetDefault("backfill.pairs", []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"})
	viper.SetDefault("backfill.interval", "1m")
	viper.SetDefault("backfill.archive_dir", "data/archive")
	viper.SetDefault("backfill.start_year", 2017)
}
