package strategy

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/adamalfredo/bybit-trading-bot-sub000/internal/domain"
)

// Config holds signal generator settings.
type Config struct {
	Name             string  `toml:"name"`
	Interval         string  `toml:"interval"`
	Lookback         int     `toml:"lookback"`
	FastPeriod       int     `toml:"fast_period"`
	SlowPeriod       int     `toml:"slow_period"`
	ATRPeriod        int     `toml:"atr_period"`
	MinSeparationPct float64 `toml:"min_separation_pct"`

	// MeanWindow and StdDevThreshold tune mean_reversion.
	MeanWindow      int     `toml:"mean_window"`
	StdDevThreshold float64 `toml:"std_dev_threshold"`
}

// DefaultConfig returns a 15-minute 9/21 EMA crossover.
func DefaultConfig() Config {
	return Config{
		Name:       NameEMACross,
		Interval:   "15",
		Lookback:   200,
		FastPeriod: 9,
		SlowPeriod: 21,
		ATRPeriod:  14,

		MeanWindow:      20,
		StdDevThreshold: 2,
	}
}

// Validate checks the configuration and reports every problem at once.
func (c Config) Validate() error {
	var errs []string
	if c.Name == "" {
		errs = append(errs, "name is required")
	}
	if c.Interval == "" {
		errs = append(errs, "interval is required")
	}
	if c.FastPeriod <= 0 || c.SlowPeriod <= 0 {
		errs = append(errs, "ema periods must be positive")
	}
	if c.FastPeriod >= c.SlowPeriod {
		errs = append(errs, "fast_period must be below slow_period")
	}
	if c.ATRPeriod <= 0 {
		errs = append(errs, "atr_period must be positive")
	}
	if c.Lookback < c.SlowPeriod+3 || c.Lookback < c.ATRPeriod+2 {
		errs = append(errs, "lookback too short for the configured periods")
	}
	if c.Name == NameMeanReversion {
		if c.MeanWindow < 2 {
			errs = append(errs, "mean_window must be at least 2")
		}
		if c.StdDevThreshold <= 0 {
			errs = append(errs, "std_dev_threshold must be positive")
		}
		if c.Lookback < c.MeanWindow+2 {
			errs = append(errs, "lookback too short for mean_window")
		}
	}
	if c.Lookback > 1000 {
		errs = append(errs, "lookback must not exceed 1000")
	}
	if len(errs) > 0 {
		return fmt.Errorf("strategy: invalid config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Factory builds a signal generator.
type Factory func(cfg Config, dir domain.Direction, candles CandleSource, logger *slog.Logger) domain.SignalGenerator

// Registry maps generator names to factories. It is safe for concurrent use.
type Registry struct {
	factories map[string]Factory
	mu        sync.RWMutex
}

// NewRegistry returns a Registry with the built-in generators registered.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.Register(NameEMACross, func(cfg Config, dir domain.Direction, candles CandleSource, logger *slog.Logger) domain.SignalGenerator {
		return NewEMACross(cfg, dir, candles, logger)
	})
	r.Register(NameMeanReversion, func(cfg Config, dir domain.Direction, candles CandleSource, logger *slog.Logger) domain.SignalGenerator {
		return NewMeanReversion(cfg, dir, candles, logger)
	})
	return r
}

// Register adds a factory under name, replacing any existing one.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Build creates the generator named by cfg.Name.
func (r *Registry) Build(cfg Config, dir domain.Direction, candles CandleSource, logger *slog.Logger) (domain.SignalGenerator, error) {
	r.mu.RLock()
	f, ok := r.factories[cfg.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("strategy %q: not registered", cfg.Name)
	}
	return f(cfg, dir, candles, logger), nil
}

// List returns the names of all registered generators in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
