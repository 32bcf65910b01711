package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies BYBOT_* environment variable overrides, and
// returns the final Config. An empty path skips the file. Unknown keys in the
// file are an error so typos do not silently fall back to defaults. The
// returned Config has NOT been validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("config: unknown keys in %s: %s", path, strings.Join(keys, ", "))
		}
	}

	// Load .env file if present (silently ignore if missing).
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known BYBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Bybit ──
	setStr(&cfg.Bybit.BaseURL, "BYBOT_BYBIT_BASE_URL")
	setStr(&cfg.Bybit.WSURL, "BYBOT_BYBIT_WS_URL")
	setStr(&cfg.Bybit.APIKey, "BYBOT_BYBIT_API_KEY")
	setStr(&cfg.Bybit.APISecret, "BYBOT_BYBIT_API_SECRET")
	setStr(&cfg.Bybit.EncryptedSecretPath, "BYBOT_BYBIT_ENCRYPTED_SECRET_PATH")
	setStr(&cfg.Bybit.SecretPassword, "BYBOT_BYBIT_SECRET_PASSWORD")
	setDuration(&cfg.Bybit.RecvWindow, "BYBOT_BYBIT_RECV_WINDOW")
	setInt(&cfg.Bybit.RequestsPerSecond, "BYBOT_BYBIT_REQUESTS_PER_SECOND")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "BYBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "BYBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "BYBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "BYBOT_REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "BYBOT_REDIS_TLS_ENABLED")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "BYBOT_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "BYBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "BYBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "BYBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "BYBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "BYBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "BYBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "BYBOT_POSTGRES_SSL_MODE")
	setBool(&cfg.Postgres.RunMigrations, "BYBOT_POSTGRES_RUN_MIGRATIONS")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "BYBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "BYBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "BYBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "BYBOT_S3_BUCKET")
	setStr(&cfg.S3.Prefix, "BYBOT_S3_PREFIX")
	setStr(&cfg.S3.AccessKey, "BYBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "BYBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "BYBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "BYBOT_S3_FORCE_PATH_STYLE")
	setInt(&cfg.S3.RetainMonths, "BYBOT_S3_RETAIN_MONTHS")

	// ── Trading ──
	setStr(&cfg.Trading.Direction, "BYBOT_TRADING_DIRECTION")
	setFloat64(&cfg.Trading.Leverage, "BYBOT_TRADING_LEVERAGE")
	setDuration(&cfg.Trading.CycleInterval, "BYBOT_TRADING_CYCLE_INTERVAL")
	setInt(&cfg.Trading.MaxPositions, "BYBOT_TRADING_MAX_POSITIONS")
	setDuration(&cfg.Trading.ReentryCooldown, "BYBOT_TRADING_REENTRY_COOLDOWN")

	// ── Risk ──
	setFloat64(&cfg.Risk.RiskPerTradeFraction, "BYBOT_RISK_RISK_PER_TRADE_FRACTION")
	setFloat64(&cfg.Risk.MaxNotional, "BYBOT_RISK_MAX_NOTIONAL")
	setStringSlice(&cfg.Risk.MinNotionalAllowlist, "BYBOT_RISK_MIN_NOTIONAL_ALLOWLIST")

	// ── Protection ──
	setFloat64(&cfg.Protection.InitialStopFraction, "BYBOT_PROTECTION_INITIAL_STOP_FRACTION")
	setFloat64(&cfg.Protection.MaxLossROIPct, "BYBOT_PROTECTION_MAX_LOSS_ROI_PCT")
	setStr(&cfg.Protection.StopTriggerBy, "BYBOT_PROTECTION_STOP_TRIGGER_BY")

	// ── Universe ──
	setInt(&cfg.Universe.TopN, "BYBOT_UNIVERSE_TOP_N")
	setStringSlice(&cfg.Universe.Include, "BYBOT_UNIVERSE_INCLUDE")
	setStringSlice(&cfg.Universe.Exclude, "BYBOT_UNIVERSE_EXCLUDE")
	setStringSlice(&cfg.Universe.Volatile, "BYBOT_UNIVERSE_VOLATILE")

	// ── Strategy ──
	setStr(&cfg.Strategy.Name, "BYBOT_STRATEGY_NAME")
	setStr(&cfg.Strategy.Interval, "BYBOT_STRATEGY_INTERVAL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "BYBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "BYBOT_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "BYBOT_SERVER_API_KEY")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "BYBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "BYBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "BYBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "BYBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "BYBOT_MODE")
	setStr(&cfg.LogLevel, "BYBOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
