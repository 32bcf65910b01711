package app

import (
	"fmt"
	"strings"

	"github.com/adamalfredo/bybit-trading-bot-sub000/internal/config"
	"github.com/adamalfredo/bybit-trading-bot-sub000/internal/domain"
	"github.com/adamalfredo/bybit-trading-bot-sub000/internal/execution"
	"github.com/adamalfredo/bybit-trading-bot-sub000/internal/orchestrator"
	"github.com/adamalfredo/bybit-trading-bot-sub000/internal/protection"
	"github.com/adamalfredo/bybit-trading-bot-sub000/internal/risk"
	"github.com/adamalfredo/bybit-trading-bot-sub000/internal/server"
	"github.com/adamalfredo/bybit-trading-bot-sub000/internal/strategy"
	"github.com/adamalfredo/bybit-trading-bot-sub000/internal/universe"
)

// Settings holds the per-package configurations derived from the file
// configuration.
type Settings struct {
	Direction    domain.Direction
	Execution    execution.Config
	Risk         risk.Config
	Protection   protection.Config
	Universe     universe.Config
	Strategy     strategy.Config
	Orchestrator orchestrator.Config
	Server       server.Config
}

// NewSettings maps cfg onto the package configurations and validates each
// of them.
func NewSettings(cfg *config.Config) (Settings, error) {
	dir, err := domain.ParseDirection(cfg.Trading.Direction)
	if err != nil {
		return Settings{}, err
	}

	s := Settings{Direction: dir}

	policy := execution.DefaultRetryPolicy()
	if cfg.Trading.MaxAttempts > 0 {
		policy.MaxAttempts = cfg.Trading.MaxAttempts
	}
	if cfg.Trading.ShrinkFraction > 0 {
		policy.ShrinkFraction = cfg.Trading.ShrinkFraction
	}
	s.Execution = execution.Config{
		Leverage:          cfg.Trading.Leverage,
		MarginUseFraction: cfg.Risk.MarginUseFraction,
		PriceMaxAge:       cfg.Trading.PriceMaxAge.Duration,
		LogInterval:       cfg.Trading.LogInterval.Duration,
		Policy:            policy,
	}

	s.Risk = risk.Config{
		Leverage:             cfg.Trading.Leverage,
		MarginUseFraction:    cfg.Risk.MarginUseFraction,
		RiskPerTradeFraction: cfg.Risk.RiskPerTradeFraction,
		VolatileFraction:     cfg.Risk.VolatileFraction,
		StableFraction:       cfg.Risk.StableFraction,
		MaxNotional:          cfg.Risk.MaxNotional,
		ATRPeriod:            cfg.Risk.ATRPeriod,
		ATRRMultiple:         cfg.Risk.ATRRMultiple,
		MinNotionalAllowlist: cfg.Risk.MinNotionalAllowlist,
	}

	p := cfg.Protection
	tiers := make([]protection.Tier, len(p.FloorTiers))
	for i, t := range p.FloorTiers {
		tiers[i] = protection.Tier{ROIThreshold: t.ROIThreshold, FloorROI: t.FloorROI}
	}
	s.Protection = protection.Config{
		Leverage:                   cfg.Trading.Leverage,
		InitialStopFraction:        p.InitialStopFraction,
		TPRMultiple:                p.TPRMultiple,
		TrailActivationPct:         p.TrailActivationPct,
		TrailActivationPctVolatile: p.TrailActivationPctVolatile,
		TrailRMultiple:             p.TrailRMultiple,
		BreakevenActivationPct:     p.BreakevenActivationPct,
		BreakevenBufferPct:         p.BreakevenBufferPct,
		FloorTiers:                 tiers,
		FloorBufferPct:             p.FloorBufferPct,
		FloorCooldown:              p.FloorCooldown.Duration,
		MaxLossROIPct:              p.MaxLossROIPct,
		StopTriggerBy:              domain.TriggerBy(p.StopTriggerBy),
		TrailInterval:              p.TrailInterval.Duration,
		BreakevenInterval:          p.BreakevenInterval.Duration,
		FloorInterval:              p.FloorInterval.Duration,
		SymbolTimeout:              cfg.Trading.SymbolTimeout.Duration,
		MaxParallel:                p.MaxParallel,
	}

	u := cfg.Universe
	s.Universe = universe.Config{
		TopN:              u.TopN,
		MinTurnover:       u.MinTurnover,
		VolatileChangePct: u.VolatileChangePct,
		Volatile:          u.Volatile,
		Include:           u.Include,
		Exclude:           u.Exclude,
		RefreshInterval:   u.RefreshInterval.Duration,
		QuoteSuffix:       cfg.Bybit.SettleCoin,
	}

	st := cfg.Strategy
	s.Strategy = strategy.Config{
		Name:             st.Name,
		Interval:         st.Interval,
		Lookback:         st.Lookback,
		FastPeriod:       st.FastPeriod,
		SlowPeriod:       st.SlowPeriod,
		ATRPeriod:        st.ATRPeriod,
		MinSeparationPct: st.MinSeparationPct,
		MeanWindow:       st.MeanWindow,
		StdDevThreshold:  st.StdDevThreshold,
	}

	s.Orchestrator = orchestrator.Config{
		Direction:       dir,
		CycleInterval:   cfg.Trading.CycleInterval.Duration,
		MaxPositions:    cfg.Trading.MaxPositions,
		ReentryCooldown: cfg.Trading.ReentryCooldown.Duration,
		SymbolTimeout:   cfg.Trading.SymbolTimeout.Duration,
		EntriesEnabled:  strings.ToLower(cfg.Mode) == "trade",
		CandleInterval:  st.Interval,
		CandleLookback:  st.Lookback,
	}

	s.Server = server.Config{
		Port:      cfg.Server.Port,
		APIKey:    cfg.Server.APIKey,
		RateLimit: cfg.Server.RateLimit,
	}

	if err := s.validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func (s *Settings) validate() error {
	checks := []struct {
		name string
		err  error
	}{
		{"risk", s.Risk.Validate()},
		{"protection", s.Protection.Validate()},
		{"universe", s.Universe.Validate()},
		{"strategy", s.Strategy.Validate()},
		{"server", s.Server.Validate()},
	}
	var errs []string
	for _, c := range checks {
		if c.err != nil {
			errs = append(errs, c.name+": "+c.err.Error())
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("app: invalid settings:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
