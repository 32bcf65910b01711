package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/adamalfredo/bybit-trading-bot-sub000/internal/blob/s3"
	"github.com/adamalfredo/bybit-trading-bot-sub000/internal/cache/memory"
	"github.com/adamalfredo/bybit-trading-bot-sub000/internal/cache/redis"
	"github.com/adamalfredo/bybit-trading-bot-sub000/internal/config"
	"github.com/adamalfredo/bybit-trading-bot-sub000/internal/domain"
	"github.com/adamalfredo/bybit-trading-bot-sub000/internal/metrics"
	"github.com/adamalfredo/bybit-trading-bot-sub000/internal/notify"
	"github.com/adamalfredo/bybit-trading-bot-sub000/internal/platform/bybit"
	"github.com/adamalfredo/bybit-trading-bot-sub000/internal/server/handler"
	"github.com/adamalfredo/bybit-trading-bot-sub000/internal/store/postgres"
)

// Dependencies bundles the infrastructure the application modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Exchange is nil in server mode.
	Exchange *bybit.Client

	// Caches
	PriceCache      domain.PriceCache
	InstrumentCache domain.InstrumentCache
	PositionState   domain.PositionStateStore
	// RateLimiter and LockManager are nil without Redis.
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager

	// Journal is nil when Postgres is disabled.
	Journal domain.JournalStore
	// Archiver is nil when S3 is disabled.
	Archiver *s3blob.JournalArchiver

	Notifier *notify.Notifier
	Metrics  *metrics.Metrics

	// Checks are the dependency probes served by /api/health.
	Checks map[string]handler.Check
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		Metrics: metrics.New(),
		Checks:  map[string]handler.Check{},
	}

	// --- Redis (in-process caches when no address is configured) ---
	if cfg.Redis.Addr != "" {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			Timeout:    cfg.Bybit.Timeout.Duration,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.PriceCache = redis.NewPriceCache(redisClient, cfg.Redis.PriceTTL.Duration)
		deps.InstrumentCache = redis.NewInstrumentCache(redisClient)
		deps.PositionState = redis.NewPositionStateStore(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient, cfg.Bybit.RequestsPerSecond, time.Second)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.Checks["redis"] = redisClient.Ping
		logger.InfoContext(ctx, "redis connected",
			slog.String("addr", cfg.Redis.Addr),
			slog.Int("pool_conns", int(redisClient.PoolStats().TotalConns)),
		)
	} else {
		logger.WarnContext(ctx, "redis not configured, protection state will not survive a restart")
		deps.PriceCache = memory.NewPriceCache()
		deps.InstrumentCache = memory.NewInstrumentCache(redis.InstrumentTTL)
		deps.PositionState = memory.NewPositionStateStore()
	}

	// --- PostgreSQL trade journal ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			applied, err := pgClient.RunMigrations(ctx)
			if err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
			if len(applied) > 0 {
				logger.InfoContext(ctx, "journal migrations applied", slog.Any("migrations", applied))
			}
		}
		deps.Journal = postgres.NewJournalStore(pgClient.Pool())
		deps.Checks["postgres"] = pgClient.Ping
	}

	// --- S3 journal archive ---
	if cfg.S3.Enabled && deps.Journal != nil {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			Prefix:         cfg.S3.Prefix,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Archiver = s3blob.NewJournalArchiver(s3blob.NewWriter(s3Client), deps.Journal, cfg.S3.Prune, logger)
		deps.Checks["s3"] = s3Client.Health
		logger.InfoContext(ctx, "journal archive enabled", slog.String("bucket", s3Client.Bucket()))
	} else if cfg.S3.Enabled {
		logger.WarnContext(ctx, "s3 archive needs the postgres journal, archiving disabled")
	}

	// --- Exchange ---
	if cfg.NeedsExchange() {
		secret, err := config.ResolveSecret(cfg)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: %w", err)
		}
		var limiter domain.RateLimiter
		if cfg.Bybit.RequestsPerSecond > 0 {
			limiter = deps.RateLimiter
		}
		deps.Exchange = bybit.NewClient(bybit.Config{
			BaseURL:    cfg.Bybit.BaseURL,
			APIKey:     cfg.Bybit.APIKey,
			APISecret:  secret,
			RecvWindow: cfg.Bybit.RecvWindow.Duration,
			Timeout:    cfg.Bybit.Timeout.Duration,
			SettleCoin: cfg.Bybit.SettleCoin,
			Limiter:    limiter,
		})
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
			"",
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL, cfg.Notify.DiscordUsername))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)
	if deps.RateLimiter != nil && cfg.Notify.PerMinute > 0 {
		deps.Notifier = deps.Notifier.WithRateLimit(deps.RateLimiter, cfg.Notify.PerMinute, time.Minute)
	}

	return deps, cleanup, nil
}
