// Command bybot is the entry point for the trading agent. It loads
// configuration, validates it, wires dependencies, sets up signal handling, and
// starts the application in the configured mode.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/adamalfredo/bybit-trading-bot-sub000/internal/app"
	"github.com/adamalfredo/bybit-trading-bot-sub000/internal/config"
	"github.com/adamalfredo/bybit-trading-bot-sub000/internal/crypto"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.toml", "path to configuration file")
	encryptOut := flag.String("encrypt-secret", "", "encrypt BYBOT_BYBIT_API_SECRET with BYBOT_BYBIT_SECRET_PASSWORD into this file and exit")
	flag.Parse()

	logger := newLogger("info")
	slog.SetDefault(logger)

	if *encryptOut != "" {
		if err := encryptSecret(*encryptOut); err != nil {
			logger.Error("encrypt secret failed", slog.String("error", err.Error()))
			return 1
		}
		logger.Info("encrypted secret written", slog.String("path", *encryptOut))
		return 0
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		return 1
	}

	logger = newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		return 1
	}

	logger.Info("bybot starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", *configPath),
	)
	logger.Debug("active configuration", slog.Any("config", config.RedactedConfig(cfg)))

	application := app.New(cfg, logger)
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		logger.Error("application exited with error", slog.String("error", err.Error()))
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		return 1
	}

	logger.Info("bybot stopped")
	return 0
}

// newLogger returns a JSON logger at the named level; unknown names mean info.
func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: l}))
}

func encryptSecret(path string) error {
	secret := os.Getenv("BYBOT_BYBIT_API_SECRET")
	password := os.Getenv("BYBOT_BYBIT_SECRET_PASSWORD")
	if secret == "" || password == "" {
		return fmt.Errorf("BYBOT_BYBIT_API_SECRET and BYBOT_BYBIT_SECRET_PASSWORD must be set")
	}
	return crypto.WriteSecretFile(path, secret, password)
}
