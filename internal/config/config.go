// Package config defines the top-level configuration for the trading agent
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by BYBOT_* environment variables.
type Config struct {
	Bybit      BybitConfig      `toml:"bybit"`
	Redis      RedisConfig      `toml:"redis"`
	Postgres   PostgresConfig   `toml:"postgres"`
	S3         S3Config         `toml:"s3"`
	Trading    TradingConfig    `toml:"trading"`
	Risk       RiskConfig       `toml:"risk"`
	Protection ProtectionConfig `toml:"protection"`
	Universe   UniverseConfig   `toml:"universe"`
	Strategy   StrategyConfig   `toml:"strategy"`
	Notify     NotifyConfig     `toml:"notify"`
	Server     ServerConfig     `toml:"server"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// BybitConfig holds exchange endpoints and API credentials. The secret may be
// given in plain text or as a file produced by crypto.EncryptSecret.
type BybitConfig struct {
	BaseURL             string   `toml:"base_url"`
	WSURL               string   `toml:"ws_url"`
	APIKey              string   `toml:"api_key"`
	APISecret           string   `toml:"api_secret"`
	EncryptedSecretPath string   `toml:"encrypted_secret_path"`
	SecretPassword      string   `toml:"secret_password"`
	RecvWindow          duration `toml:"recv_window"`
	Timeout             duration `toml:"timeout"`
	SettleCoin          string   `toml:"settle_coin"`
	// RequestsPerSecond caps REST calls across every process sharing Redis.
	// Zero disables the limiter.
	RequestsPerSecond int `toml:"requests_per_second"`
}

// RedisConfig holds Redis connection parameters. An empty Addr runs the agent
// on in-process caches.
type RedisConfig struct {
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	PriceTTL   duration `toml:"price_ttl"`
}

// PostgresConfig holds the trade journal database parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// S3Config holds S3-compatible object storage parameters for the journal
// archive.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	// ArchiveInterval is how often the archiver looks for complete months.
	ArchiveInterval duration `toml:"archive_interval"`
	// RetainMonths keeps this many recent months in the database.
	RetainMonths int `toml:"retain_months"`
	// Prune deletes archived rows from the database.
	Prune bool `toml:"prune"`
}

// TradingConfig holds the orchestration and execution parameters.
type TradingConfig struct {
	Direction       string   `toml:"direction"`
	Leverage        float64  `toml:"leverage"`
	CycleInterval   duration `toml:"cycle_interval"`
	MaxPositions    int      `toml:"max_positions"`
	ReentryCooldown duration `toml:"reentry_cooldown"`
	SymbolTimeout   duration `toml:"symbol_timeout"`
	PriceMaxAge     duration `toml:"price_max_age"`
	LogInterval     duration `toml:"log_interval"`
	MaxAttempts     int      `toml:"max_attempts"`
	ShrinkFraction  float64  `toml:"shrink_fraction"`
	// InstanceLockTTL guards against two agents trading one account. It
	// needs Redis.
	InstanceLockTTL duration `toml:"instance_lock_ttl"`
}

// RiskConfig holds sizing parameters.
type RiskConfig struct {
	MarginUseFraction    float64  `toml:"margin_use_fraction"`
	RiskPerTradeFraction float64  `toml:"risk_per_trade_fraction"`
	VolatileFraction     float64  `toml:"volatile_fraction"`
	StableFraction       float64  `toml:"stable_fraction"`
	MaxNotional          float64  `toml:"max_notional"`
	ATRPeriod            int      `toml:"atr_period"`
	ATRRMultiple         float64  `toml:"atr_r_multiple"`
	MinNotionalAllowlist []string `toml:"min_notional_allowlist"`
}

// FloorTier is one row of the profit-floor table, in ROI percent.
type FloorTier struct {
	ROIThreshold float64 `toml:"roi_threshold"`
	FloorROI     float64 `toml:"floor_roi"`
}

// ProtectionConfig holds the stop, trailing, breakeven and floor thresholds.
type ProtectionConfig struct {
	InitialStopFraction        float64     `toml:"initial_stop_fraction"`
	TPRMultiple                float64     `toml:"tp_r_multiple"`
	TrailActivationPct         float64     `toml:"trail_activation_pct"`
	TrailActivationPctVolatile float64     `toml:"trail_activation_pct_volatile"`
	TrailRMultiple             float64     `toml:"trail_r_multiple"`
	BreakevenActivationPct     float64     `toml:"breakeven_activation_pct"`
	BreakevenBufferPct         float64     `toml:"breakeven_buffer_pct"`
	FloorTiers                 []FloorTier `toml:"floor_tiers"`
	FloorBufferPct             float64     `toml:"floor_buffer_pct"`
	FloorCooldown              duration    `toml:"floor_cooldown"`
	MaxLossROIPct              float64     `toml:"max_loss_roi_pct"`
	StopTriggerBy              string      `toml:"stop_trigger_by"`
	TrailInterval              duration    `toml:"trail_interval"`
	BreakevenInterval          duration    `toml:"breakeven_interval"`
	FloorInterval              duration    `toml:"floor_interval"`
	MaxParallel                int         `toml:"max_parallel"`
}

// UniverseConfig selects the tradable symbols.
type UniverseConfig struct {
	TopN              int      `toml:"top_n"`
	MinTurnover       float64  `toml:"min_turnover"`
	VolatileChangePct float64  `toml:"volatile_change_pct"`
	Volatile          []string `toml:"volatile"`
	Include           []string `toml:"include"`
	Exclude           []string `toml:"exclude"`
	RefreshInterval   duration `toml:"refresh_interval"`
}

// StrategyConfig selects and tunes the signal generator.
type StrategyConfig struct {
	Name             string  `toml:"name"`
	Interval         string  `toml:"interval"`
	Lookback         int     `toml:"lookback"`
	FastPeriod       int     `toml:"fast_period"`
	SlowPeriod       int     `toml:"slow_period"`
	ATRPeriod        int     `toml:"atr_period"`
	MinSeparationPct float64 `toml:"min_separation_pct"`
	MeanWindow       int     `toml:"mean_window"`
	StdDevThreshold  float64 `toml:"std_dev_threshold"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	DiscordUsername   string   `toml:"discord_username"`
	Events            []string `toml:"events"`
	// PerMinute caps notifications across all channels. Zero disables it.
	PerMinute int `toml:"per_minute"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled   bool   `toml:"enabled"`
	Port      int    `toml:"port"`
	APIKey    string `toml:"api_key"`
	RateLimit int    `toml:"rate_limit"`
}

// duration wraps time.Duration for TOML string decoding ("5s", "1h").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Bybit: BybitConfig{
			BaseURL:           "https://api.bybit.com",
			WSURL:             "wss://stream.bybit.com/v5/public/linear",
			RecvWindow:        duration{5 * time.Second},
			Timeout:           duration{10 * time.Second},
			SettleCoin:        "USDT",
			RequestsPerSecond: 10,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			PriceTTL:   duration{time.Minute},
		},
		Postgres: PostgresConfig{
			Enabled:       true,
			Host:          "localhost",
			Port:          5432,
			Database:      "bybot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		S3: S3Config{
			Enabled:         false,
			Endpoint:        "http://localhost:9000",
			Region:          "us-east-1",
			Bucket:          "bybot-archive",
			ForcePathStyle:  true,
			ArchiveInterval: duration{24 * time.Hour},
			RetainMonths:    1,
			Prune:           true,
		},
		Trading: TradingConfig{
			Direction:       "long",
			Leverage:        5,
			CycleInterval:   duration{time.Minute},
			MaxPositions:    5,
			ReentryCooldown: duration{30 * time.Minute},
			SymbolTimeout:   duration{10 * time.Second},
			PriceMaxAge:     duration{10 * time.Second},
			LogInterval:     duration{time.Minute},
			MaxAttempts:     3,
			ShrinkFraction:  0.15,
			InstanceLockTTL: duration{30 * time.Second},
		},
		Risk: RiskConfig{
			MarginUseFraction:    0.9,
			RiskPerTradeFraction: 0.01,
			VolatileFraction:     0.3,
			StableFraction:       0.7,
			MaxNotional:          500,
			ATRPeriod:            14,
			ATRRMultiple:         1.5,
		},
		Protection: ProtectionConfig{
			InitialStopFraction:        0.03,
			TPRMultiple:                3,
			TrailActivationPct:         1.5,
			TrailActivationPctVolatile: 3,
			TrailRMultiple:             1,
			BreakevenActivationPct:     1,
			BreakevenBufferPct:         0.1,
			FloorTiers: []FloorTier{
				{ROIThreshold: 10, FloorROI: 0},
				{ROIThreshold: 20, FloorROI: 10},
				{ROIThreshold: 35, FloorROI: 20},
				{ROIThreshold: 50, FloorROI: 35},
			},
			FloorBufferPct:    0.05,
			FloorCooldown:     duration{30 * time.Second},
			MaxLossROIPct:     40,
			StopTriggerBy:     "MarkPrice",
			TrailInterval:     duration{5 * time.Second},
			BreakevenInterval: duration{3 * time.Second},
			FloorInterval:     duration{5 * time.Second},
			MaxParallel:       8,
		},
		Universe: UniverseConfig{
			TopN:              30,
			MinTurnover:       5_000_000,
			VolatileChangePct: 8,
			RefreshInterval:   duration{time.Hour},
		},
		Strategy: StrategyConfig{
			Name:       "ema_cross",
			Interval:   "15",
			Lookback:   200,
			FastPeriod: 9,
			SlowPeriod: 21,
			ATRPeriod:  14,

			MeanWindow:      20,
			StdDevThreshold: 2,
		},
		Server: ServerConfig{
			Enabled:   true,
			Port:      8000,
			RateLimit: 120,
		},
		Notify: NotifyConfig{
			DiscordUsername: "bybot",
			Events:          []string{"position.opened", "position.closed", "position.purged", "position.recovered"},
			PerMinute:       20,
		},
		Mode:     "trade",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"trade":   true,
	"monitor": true,
	"server":  true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validTriggers = map[string]bool{
	"MarkPrice":  true,
	"LastPrice":  true,
}

// NeedsExchange reports whether the mode talks to the trading API.
func (c *Config) NeedsExchange() bool {
	return c.Mode != "server"
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, monitor, server)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Bybit
	if c.NeedsExchange() {
		if c.Bybit.APIKey == "" {
			errs = append(errs, "bybit: api_key is required for mode "+c.Mode)
		}
		if c.Bybit.APISecret == "" && c.Bybit.EncryptedSecretPath == "" {
			errs = append(errs, "bybit: either api_secret or encrypted_secret_path must be set for mode "+c.Mode)
		}
		if c.Bybit.EncryptedSecretPath != "" && c.Bybit.SecretPassword == "" {
			errs = append(errs, "bybit: secret_password is required when encrypted_secret_path is set")
		}
	}
	if c.Bybit.BaseURL == "" {
		errs = append(errs, "bybit: base_url must not be empty")
	}
	if c.Bybit.RequestsPerSecond < 0 {
		errs = append(errs, "bybit: requests_per_second must be >= 0")
	}

	// Redis
	if c.Redis.Addr != "" && c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// S3
	if c.S3.Enabled {
		if !c.Postgres.Enabled {
			errs = append(errs, "s3: the journal archive needs postgres.enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
		if c.S3.ArchiveInterval.Duration <= 0 {
			errs = append(errs, "s3: archive_interval must be positive")
		}
		if c.S3.RetainMonths < 0 {
			errs = append(errs, "s3: retain_months must be >= 0")
		}
	}

	// Trading
	switch strings.ToLower(c.Trading.Direction) {
	case "long", "short":
	default:
		errs = append(errs, fmt.Sprintf("trading: direction must be long or short, got %q", c.Trading.Direction))
	}
	if c.Trading.Leverage <= 0 {
		errs = append(errs, "trading: leverage must be > 0")
	}
	if c.Trading.CycleInterval.Duration <= 0 {
		errs = append(errs, "trading: cycle_interval must be positive")
	}
	if c.Trading.MaxPositions < 1 {
		errs = append(errs, "trading: max_positions must be >= 1")
	}
	if c.Trading.ReentryCooldown.Duration < 0 {
		errs = append(errs, "trading: reentry_cooldown must not be negative")
	}
	if c.Trading.ShrinkFraction < 0 || c.Trading.ShrinkFraction >= 1 {
		errs = append(errs, "trading: shrink_fraction must be in [0, 1)")
	}

	// Protection tiers are validated in full by the protection package; the
	// checks here catch unit mistakes early.
	for i, t := range c.Protection.FloorTiers {
		if t.ROIThreshold <= 0 {
			errs = append(errs, fmt.Sprintf("protection: floor_tiers[%d].roi_threshold must be > 0", i))
		}
	}
	if !validTriggers[c.Protection.StopTriggerBy] {
		errs = append(errs, fmt.Sprintf("protection: unknown stop_trigger_by %q (valid: MarkPrice, LastPrice)", c.Protection.StopTriggerBy))
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	// Server
	if c.Server.Enabled || c.Mode == "server" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
