package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	s3blob "github.com/adamalfredo/bybit-trading-bot-sub000/internal/blob/s3"
	"github.com/adamalfredo/bybit-trading-bot-sub000/internal/domain"
	"github.com/adamalfredo/bybit-trading-bot-sub000/internal/execution"
	"github.com/adamalfredo/bybit-trading-bot-sub000/internal/feed"
	"github.com/adamalfredo/bybit-trading-bot-sub000/internal/ledger"
	"github.com/adamalfredo/bybit-trading-bot-sub000/internal/notify"
	"github.com/adamalfredo/bybit-trading-bot-sub000/internal/orchestrator"
	"github.com/adamalfredo/bybit-trading-bot-sub000/internal/platform/bybit"
	"github.com/adamalfredo/bybit-trading-bot-sub000/internal/protection"
	"github.com/adamalfredo/bybit-trading-bot-sub000/internal/risk"
	"github.com/adamalfredo/bybit-trading-bot-sub000/internal/server"
	"github.com/adamalfredo/bybit-trading-bot-sub000/internal/server/handler"
	"github.com/adamalfredo/bybit-trading-bot-sub000/internal/strategy"
	"github.com/adamalfredo/bybit-trading-bot-sub000/internal/universe"
)

// instanceLockKey guards the trading account against a second agent.
const instanceLockKey = "bybot:instance"

// reporterBuffer bounds queued journal and notification events.
const reporterBuffer = 256

// TradeMode runs the full agent: entries, exits, recovery and protection.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies, s Settings) error {
	a.logger.InfoContext(ctx, "starting trade mode")
	return a.runAgent(ctx, deps, s)
}

// MonitorMode protects and exits existing positions without opening new ones.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies, s Settings) error {
	a.logger.InfoContext(ctx, "starting monitor mode")
	s.Orchestrator.EntriesEnabled = false
	return a.runAgent(ctx, deps, s)
}

// ServerMode serves health, metrics and the journal, and runs the archive.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies, s Settings) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps, s, ledger.New(nil, a.logger))
	a.startArchiver(ctx, g, deps)
	return g.Wait()
}

// agent holds the trading components of one process.
type agent struct {
	ledger   *ledger.Ledger
	engine   *protection.Engine
	orch     *orchestrator.Orchestrator
	universe *universe.Universe
	reporter *notify.Reporter
	feed     *feed.TickerFeed
}

func (a *App) buildAgent(deps *Dependencies, s Settings) (*agent, error) {
	if deps.Exchange == nil {
		return nil, errors.New("app: exchange client not configured")
	}
	ex := deps.Exchange

	instruments := execution.NewInstruments(ex, deps.InstrumentCache, a.logger)
	exec := execution.NewExecutor(ex, instruments, deps.PriceCache, s.Execution, deps.Metrics, a.logger)

	led := ledger.New(deps.PositionState, a.logger)
	reporter := notify.NewReporter(deps.Journal, deps.Notifier, "bybot", reporterBuffer, a.logger)
	engine := protection.NewEngine(s.Protection, led, exec, exec.Instruments(), reporter, deps.Metrics, a.logger)

	uni := universe.New(ex, s.Universe, a.logger)
	alloc := risk.NewAllocator(ex, uni, s.Risk, deps.Metrics, a.logger)

	signals, err := strategy.NewRegistry().Build(s.Strategy, s.Direction, ex, a.logger)
	if err != nil {
		return nil, fmt.Errorf("app: build strategy: %w", err)
	}

	orch := orchestrator.New(s.Orchestrator, orchestrator.Deps{
		Universe:    uni,
		Signals:     signals,
		Sizer:       alloc,
		Executor:    exec,
		Exchange:    ex,
		Instruments: exec.Instruments(),
		Protector:   engine,
		Ledger:      led,
		Sink:        reporter,
		Metrics:     deps.Metrics,
	}, a.logger)
	engine.OnClose(orch.MarkClosed)

	wsURL := a.cfg.Bybit.WSURL
	tickers := feed.NewTickerFeed(
		func() feed.Stream { return bybit.NewWSClient(wsURL) },
		func() []string { return watchSymbols(led, uni) },
		deps.PriceCache,
		feed.DefaultConfig(),
		a.logger,
	)

	return &agent{
		ledger:   led,
		engine:   engine,
		orch:     orch,
		universe: uni,
		reporter: reporter,
		feed:     tickers,
	}, nil
}

func (a *App) runAgent(ctx context.Context, deps *Dependencies, s Settings) error {
	if deps.LockManager != nil {
		unlock, err := deps.LockManager.Acquire(ctx, instanceLockKey, a.cfg.Trading.InstanceLockTTL.Duration)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				return fmt.Errorf("app: another agent is running on this account: %w", err)
			}
			return fmt.Errorf("app: instance lock: %w", err)
		}
		a.closers = append(a.closers, unlock)
	}

	ag, err := a.buildAgent(deps, s)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ag.reporter.Run(ctx) })
	g.Go(func() error { return ag.engine.Run(ctx) })
	g.Go(func() error { return ag.orch.Run(ctx) })
	g.Go(func() error { return ag.feed.Run(ctx) })

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, s, ag.ledger)
	}
	a.startArchiver(ctx, g, deps)

	return g.Wait()
}

func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, s Settings, positions handler.PositionSource) {
	var journal handler.JournalReader
	if deps.Journal != nil {
		journal = deps.Journal
	}
	srv := server.NewServer(s.Server, server.Handlers{
		Health:    handler.NewHealthHandler(deps.Checks, a.logger),
		Positions: handler.NewPositionHandler(positions, journal, a.logger),
		Metrics:   deps.Metrics.Handler(),
	}, deps.RateLimiter, a.logger)

	g.Go(func() error { return srv.Run(ctx) })
}

func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Archiver == nil {
		return
	}
	interval := a.cfg.S3.ArchiveInterval.Duration
	retain := time.Duration(a.cfg.S3.RetainMonths) * 31 * 24 * time.Hour
	a.logger.InfoContext(ctx, "journal archive enabled",
		slog.Duration("interval", interval),
		slog.Int("retain_months", a.cfg.S3.RetainMonths),
	)
	g.Go(func() error {
		// First pass at startup so a restart does not wait a full interval.
		if _, err := deps.Archiver.ArchiveJournal(ctx, s3blob.MonthStart(time.Now().Add(-retain))); err != nil {
			a.logger.WarnContext(ctx, "journal archive failed", slog.String("error", err.Error()))
		}
		return deps.Archiver.Run(ctx, interval, retain)
	})
}

// watchSymbols is the ticker subscription set: open positions first so they
// keep streaming after they leave the universe.
func watchSymbols(led *ledger.Ledger, uni *universe.Universe) []string {
	syms := led.Symbols()
	for _, c := range uni.Candidates() {
		if !slices.Contains(syms, c.Symbol) {
			syms = append(syms, c.Symbol)
		}
	}
	return syms
}
