// Package config provides configuration management for the radar pipeline.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	apperrors "radar-trader/internal/errors"
)

// Config holds all application configuration.
type Config struct {
	Engine    EngineConfig    `mapstructure:"engine"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
	Scanner   ScannerConfig   `mapstructure:"scanner"`
	ORB       ORBConfig       `mapstructure:"orb"`
	Feed      FeedConfig      `mapstructure:"feed"`
	Store     StoreConfig     `mapstructure:"store"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Schedule  ScheduleConfig  `mapstructure:"schedule"`
	Log       LogConfig       `mapstructure:"log"`
	Kite      KiteCredentials `mapstructure:"-"` // Loaded separately
	ConfigDir string          `mapstructure:"-"`
}

// EngineConfig holds the virtual trading engine's risk rules.
type EngineConfig struct {
	WalletID            string        `mapstructure:"wallet_id"`
	MaxOpenPositions    int           `mapstructure:"max_open_positions"`
	MinAvailableBalance float64       `mapstructure:"min_available_balance"`
	RiskPerTrade        float64       `mapstructure:"risk_per_trade"`
	MaxPositionFraction float64       `mapstructure:"max_position_fraction"`
	TargetPercent       float64       `mapstructure:"target_percent"`
	StopPercent         float64       `mapstructure:"stop_percent"`
	Bracket             string        `mapstructure:"bracket"`
	TimeLimit           time.Duration `mapstructure:"time_limit"`
	PollInterval        time.Duration `mapstructure:"poll_interval"`
	ErrorBackoff        time.Duration `mapstructure:"error_backoff"`
}

// MonitorConfig holds the trade monitor sweep settings.
type MonitorConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// ScannerConfig holds premarket and intraday scan settings.
type ScannerConfig struct {
	Workers           int           `mapstructure:"workers"`
	TopInstruments    int           `mapstructure:"top_instruments"`
	TopAlerts         int           `mapstructure:"top_alerts"`
	HistoryPeriods    int           `mapstructure:"history_periods"`
	MinHistory        int           `mapstructure:"min_history"`
	StrongSectorCount int           `mapstructure:"strong_sector_count"`
	WatchlistLimit    int           `mapstructure:"watchlist_limit"`
	CycleTimeout      time.Duration `mapstructure:"cycle_timeout"`
	DefaultWatchlist  []string      `mapstructure:"default_watchlist"`
	IndexInstrument   string        `mapstructure:"index_instrument"`
	VIXInstrument     string        `mapstructure:"vix_instrument"`
	SectorIndices     []string      `mapstructure:"sector_indices"`
}

// ORBConfig holds opening range breakout settings.
type ORBConfig struct {
	OpeningCandles int           `mapstructure:"opening_candles"`
	MinCandles     int           `mapstructure:"min_candles"`
	VolumeFactor   float64       `mapstructure:"volume_factor"`
	AlertTTL       time.Duration `mapstructure:"alert_ttl"`
	Interval       string        `mapstructure:"interval"`
}

// FeedConfig holds price feed and series source settings.
type FeedConfig struct {
	Timeout          time.Duration `mapstructure:"timeout"`
	RetryAttempts    int           `mapstructure:"retry_attempts"`
	InitialDelay     time.Duration `mapstructure:"initial_delay"`
	MaxDelay         time.Duration `mapstructure:"max_delay"`
	BreakerFailures  int           `mapstructure:"breaker_failures"`
	BreakerTimeout   time.Duration `mapstructure:"breaker_timeout"`
	FallbackEnabled  bool          `mapstructure:"fallback_enabled"`
	PriceCacheTTL    time.Duration `mapstructure:"price_cache_ttl"`
	RateLimitPerCall time.Duration `mapstructure:"rate_limit_per_call"`
	StreamPriceAge   time.Duration `mapstructure:"stream_price_age"`
}

// StoreConfig holds persistence settings.
type StoreConfig struct {
	SQLitePath  string `mapstructure:"sqlite_path"`
	PostgresDSN string `mapstructure:"postgres_dsn"`
}

// RedisConfig holds the price cache and event channel settings.
type RedisConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Addr          string `mapstructure:"addr"`
	Password      string `mapstructure:"password"`
	DB            int    `mapstructure:"db"`
	ChannelPrefix string `mapstructure:"channel_prefix"`
}

// ScheduleConfig holds cron specs for the scheduler.
type ScheduleConfig struct {
	Premarket string `mapstructure:"premarket"`
	Intraday  string `mapstructure:"intraday"`
	Engine    string `mapstructure:"engine"`
	Monitor   string `mapstructure:"monitor"`
	EndOfDay  string `mapstructure:"end_of_day"`
	Cleanup   string `mapstructure:"cleanup"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Console    bool   `mapstructure:"console"`
	File       bool   `mapstructure:"file"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
}

// KiteCredentials holds Kite Connect API credentials.
type KiteCredentials struct {
	APIKey      string `mapstructure:"api_key"`
	APISecret   string `mapstructure:"api_secret"`
	AccessToken string `mapstructure:"access_token"`
}

// HasCredentials reports whether a live feed can be built.
func (k KiteCredentials) HasCredentials() bool {
	return k.APIKey != "" && k.AccessToken != ""
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/radar-trader"
	}
	return filepath.Join(home, ".config", "radar-trader")
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	// A missing .env is fine; the process environment still applies.
	_ = godotenv.Load(filepath.Join(configDir, ".env"))
	_ = godotenv.Load()

	cfg := &Config{ConfigDir: configDir}

	if err := loadConfigFile(configDir, cfg); err != nil {
		return nil, fmt.Errorf("loading config.toml: %w", err)
	}

	if err := loadCredentials(configDir, &cfg.Kite); err != nil {
		return nil, fmt.Errorf("loading credentials.toml: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns a configuration populated with defaults only.
func Default() *Config {
	v := viper.New()
	setDefaults(v, DefaultConfigDir())
	cfg := &Config{ConfigDir: DefaultConfigDir()}
	_ = v.Unmarshal(cfg)
	return cfg
}

func setDefaults(v *viper.Viper, configDir string) {
	v.SetDefault("engine.wallet_id", "")
	v.SetDefault("engine.max_open_positions", 5)
	v.SetDefault("engine.min_available_balance", 10000.0)
	v.SetDefault("engine.risk_per_trade", 0.02)
	v.SetDefault("engine.max_position_fraction", 0.10)
	v.SetDefault("engine.target_percent", 6.0)
	v.SetDefault("engine.stop_percent", 2.0)
	v.SetDefault("engine.bracket", "percent")
	v.SetDefault("engine.time_limit", "24h")
	v.SetDefault("engine.poll_interval", "30s")
	v.SetDefault("engine.error_backoff", "60s")

	v.SetDefault("monitor.interval", "60s")

	v.SetDefault("scanner.workers", 8)
	v.SetDefault("scanner.top_instruments", 200)
	v.SetDefault("scanner.top_alerts", 10)
	v.SetDefault("scanner.history_periods", 250)
	v.SetDefault("scanner.min_history", 50)
	v.SetDefault("scanner.strong_sector_count", 3)
	v.SetDefault("scanner.watchlist_limit", 50)
	v.SetDefault("scanner.cycle_timeout", "5m")
	v.SetDefault("scanner.default_watchlist", []string{
		"NSE:RELIANCE", "NSE:TCS", "NSE:HDFCBANK", "NSE:INFY", "NSE:ICICIBANK",
		"NSE:HINDUNILVR", "NSE:ITC", "NSE:SBIN", "NSE:BHARTIARTL", "NSE:KOTAKBANK",
	})
	v.SetDefault("scanner.index_instrument", "NSE:NIFTY 50")
	v.SetDefault("scanner.vix_instrument", "NSE:INDIA VIX")
	v.SetDefault("scanner.sector_indices", []string{
		"NSE:NIFTY AUTO", "NSE:NIFTY BANK", "NSE:NIFTY FMCG", "NSE:NIFTY IT",
		"NSE:NIFTY MEDIA", "NSE:NIFTY METAL", "NSE:NIFTY PHARMA", "NSE:NIFTY REALTY",
	})

	v.SetDefault("orb.opening_candles", 6)
	v.SetDefault("orb.min_candles", 12)
	v.SetDefault("orb.volume_factor", 1.2)
	v.SetDefault("orb.alert_ttl", "45m")
	v.SetDefault("orb.interval", "5min")

	v.SetDefault("feed.timeout", "10s")
	v.SetDefault("feed.retry_attempts", 3)
	v.SetDefault("feed.initial_delay", "500ms")
	v.SetDefault("feed.max_delay", "5s")
	v.SetDefault("feed.breaker_failures", 5)
	v.SetDefault("feed.breaker_timeout", "30s")
	v.SetDefault("feed.fallback_enabled", true)
	v.SetDefault("feed.price_cache_ttl", "15s")
	v.SetDefault("feed.rate_limit_per_call", "100ms")
	v.SetDefault("feed.stream_price_age", "1m")

	v.SetDefault("store.sqlite_path", filepath.Join(configDir, "radar.db"))
	v.SetDefault("store.postgres_dsn", "")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.channel_prefix", "radar:trades")

	v.SetDefault("schedule.premarket", "0 9 * * 1-5")
	v.SetDefault("schedule.intraday", "@every 1m")
	v.SetDefault("schedule.engine", "@every 30s")
	v.SetDefault("schedule.monitor", "@every 1m")
	v.SetDefault("schedule.end_of_day", "45 15 * * 1-5")
	v.SetDefault("schedule.cleanup", "@hourly")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.console", true)
	v.SetDefault("log.file", true)
	v.SetDefault("log.file_path", filepath.Join(configDir, "logs", "radar.log"))
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 7)
	v.SetDefault("log.max_age", 30)
}

func loadConfigFile(configDir string, cfg *Config) error {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)
	setDefaults(v, configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
		// Config file not found, write a template and continue on defaults
		if err := createTemplateConfig(configDir); err != nil {
			return err
		}
	}

	return v.Unmarshal(cfg)
}

func loadCredentials(configDir string, creds *KiteCredentials) error {
	v := viper.New()
	v.SetConfigName("credentials")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return createTemplateCredentials(configDir)
		}
		return err
	}

	return v.UnmarshalKey("kite", creds)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("KITE_API_KEY"); v != "" {
		cfg.Kite.APIKey = v
	}
	if v := os.Getenv("KITE_API_SECRET"); v != "" {
		cfg.Kite.APISecret = v
	}
	if v := os.Getenv("KITE_ACCESS_TOKEN"); v != "" {
		cfg.Kite.AccessToken = v
	}
	if v := os.Getenv("RADAR_DB_PATH"); v != "" {
		cfg.Store.SQLitePath = v
	}
	if v := os.Getenv("RADAR_POSTGRES_DSN"); v != "" {
		cfg.Store.PostgresDSN = v
	}
	if v := os.Getenv("RADAR_WALLET_ID"); v != "" {
		cfg.Engine.WalletID = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
		cfg.Redis.Enabled = true
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Redis.DB = db
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	e := c.Engine
	if e.MaxOpenPositions <= 0 {
		return apperrors.NewConfigError("engine.max_open_positions", e.MaxOpenPositions, "must be positive")
	}
	if e.RiskPerTrade <= 0 || e.RiskPerTrade > 1 {
		return apperrors.NewConfigError("engine.risk_per_trade", e.RiskPerTrade, "must be in (0, 1]")
	}
	if e.MaxPositionFraction <= 0 || e.MaxPositionFraction > 1 {
		return apperrors.NewConfigError("engine.max_position_fraction", e.MaxPositionFraction, "must be in (0, 1]")
	}
	if e.MinAvailableBalance < 0 {
		return apperrors.NewConfigError("engine.min_available_balance", e.MinAvailableBalance, "must be non-negative")
	}
	if e.TargetPercent <= 0 || e.StopPercent <= 0 || e.StopPercent >= 100 {
		return apperrors.NewConfigError("engine.target_percent/stop_percent", fmt.Sprintf("%v/%v", e.TargetPercent, e.StopPercent), "must be positive and stop below 100")
	}
	switch e.Bracket {
	case "", "percent", "orb":
	default:
		return apperrors.NewConfigError("engine.bracket", e.Bracket, "must be percent or orb")
	}
	if e.TimeLimit <= 0 {
		return apperrors.NewConfigError("engine.time_limit", e.TimeLimit, "must be positive")
	}

	if c.ORB.OpeningCandles <= 0 || c.ORB.MinCandles <= c.ORB.OpeningCandles {
		return apperrors.NewConfigError("orb.min_candles", c.ORB.MinCandles, "must exceed opening_candles")
	}
	if c.Scanner.Workers <= 0 {
		return apperrors.NewConfigError("scanner.workers", c.Scanner.Workers, "must be positive")
	}
	if c.Feed.RetryAttempts <= 0 {
		return apperrors.NewConfigError("feed.retry_attempts", c.Feed.RetryAttempts, "must be positive")
	}

	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return apperrors.NewConfigError("log.level", c.Log.Level, "must be debug, info, warn or error")
	}

	return nil
}
