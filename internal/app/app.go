// Package app owns the agent's lifecycle: it validates settings, wires the
// infrastructure and runs the goroutines of the configured mode until the
// context is cancelled.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/adamalfredo/bybit-trading-bot-sub000/internal/config"
)

// modeFunc runs one operating mode until ctx is cancelled.
type modeFunc func(a *App, ctx context.Context, deps *Dependencies, s Settings) error

var modes = map[string]modeFunc{
	"trade":   (*App).TradeMode,
	"monitor": (*App).MonitorMode,
	"server":  (*App).ServerMode,
}

// App holds the configuration and the teardown functions registered while
// wiring. Teardown runs in reverse order.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates an App.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run validates the settings before touching the network, wires the
// dependencies and blocks in the selected mode. Cancellation is a clean exit.
func (a *App) Run(ctx context.Context) error {
	run, ok := modes[strings.ToLower(a.cfg.Mode)]
	if !ok {
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
	settings, err := NewSettings(a.cfg)
	if err != nil {
		return err
	}

	a.logger.InfoContext(ctx, "starting agent",
		slog.String("mode", a.cfg.Mode),
		slog.String("direction", string(settings.Direction)),
		slog.String("strategy", settings.Strategy.Name),
		slog.Float64("leverage", settings.Execution.Leverage),
		slog.Int("max_positions", settings.Orchestrator.MaxPositions),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	if err := run(a, ctx, deps, settings); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("app: %s mode: %w", a.cfg.Mode, err)
	}
	return nil
}

// Close runs the registered teardown functions once.
func (a *App) Close() {
	if len(a.closers) == 0 {
		return
	}
	a.logger.Info("shutting down")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
