// Package risk values the account and sizes new entries against per-bucket
// budgets.
package risk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/adamalfredo/bybit-trading-bot-sub000/internal/domain"
	"github.com/adamalfredo/bybit-trading-bot-sub000/internal/indicator"
	"github.com/adamalfredo/bybit-trading-bot-sub000/internal/metrics"
	"github.com/adamalfredo/bybit-trading-bot-sub000/internal/numeric"
)

// Config holds the sizing parameters.
type Config struct {
	Leverage             float64  `toml:"leverage"`
	MarginUseFraction    float64  `toml:"margin_use_fraction"`
	RiskPerTradeFraction float64  `toml:"risk_per_trade_fraction"`
	VolatileFraction     float64  `toml:"volatile_fraction"`
	StableFraction       float64  `toml:"stable_fraction"`
	MaxNotional          float64  `toml:"max_notional"`
	ATRPeriod            int      `toml:"atr_period"`
	ATRRMultiple         float64  `toml:"atr_r_multiple"`
	MinNotionalAllowlist []string `toml:"min_notional_allowlist"`
}

// DefaultConfig returns conservative sizing defaults.
func DefaultConfig() Config {
	return Config{
		Leverage:             5,
		MarginUseFraction:    0.9,
		RiskPerTradeFraction: 0.01,
		VolatileFraction:     0.3,
		StableFraction:       0.7,
		MaxNotional:          500,
		ATRPeriod:            14,
		ATRRMultiple:         1.5,
	}
}

// Validate checks the configuration and reports every problem at once.
func (c Config) Validate() error {
	var errs []string
	if c.Leverage <= 0 {
		errs = append(errs, "leverage must be positive")
	}
	if c.MarginUseFraction <= 0 || c.MarginUseFraction > 1 {
		errs = append(errs, "margin_use_fraction must be in (0, 1]")
	}
	if c.RiskPerTradeFraction <= 0 || c.RiskPerTradeFraction >= 1 {
		errs = append(errs, "risk_per_trade_fraction must be in (0, 1)")
	}
	if c.VolatileFraction < 0 || c.StableFraction < 0 {
		errs = append(errs, "bucket fractions must not be negative")
	}
	if c.VolatileFraction+c.StableFraction > 1+1e-9 {
		errs = append(errs, "volatile_fraction + stable_fraction must not exceed 1")
	}
	if c.MaxNotional < 0 {
		errs = append(errs, "max_notional must not be negative")
	}
	if c.ATRPeriod <= 0 {
		errs = append(errs, "atr_period must be positive")
	}
	if c.ATRRMultiple <= 0 {
		errs = append(errs, "atr_r_multiple must be positive")
	}
	if len(errs) > 0 {
		return fmt.Errorf("risk: invalid config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Account is the exchange view the allocator values.
type Account interface {
	WalletBalance(ctx context.Context) (domain.Balance, error)
	Positions(ctx context.Context) ([]domain.ExchangePosition, error)
}

// BucketLookup maps a symbol to its volatility bucket.
type BucketLookup interface {
	BucketOf(symbol string) domain.Bucket
}

// Allocator computes portfolio value and entry notional.
type Allocator struct {
	account Account
	buckets BucketLookup
	cfg     Config
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewAllocator creates an Allocator. buckets and m may be nil; without a
// bucket lookup every symbol counts as stable.
func NewAllocator(account Account, buckets BucketLookup, cfg Config, m *metrics.Metrics, logger *slog.Logger) *Allocator {
	return &Allocator{
		account: account,
		buckets: buckets,
		cfg:     cfg,
		metrics: m,
		logger:  logger.With(slog.String("component", "risk")),
		now:     time.Now,
	}
}

// PortfolioValue sums free collateral with the mark-to-market value of every
// open position. A position's value is its initial margin plus unrealised
// PnL; its notional at mark is charged to its bucket.
func (a *Allocator) PortfolioValue(ctx context.Context) (domain.Portfolio, error) {
	bal, err := a.account.WalletBalance(ctx)
	if err != nil {
		return domain.Portfolio{}, fmt.Errorf("risk: wallet balance: %w", err)
	}
	positions, err := a.account.Positions(ctx)
	if err != nil {
		return domain.Portfolio{}, fmt.Errorf("risk: positions: %w", err)
	}

	pf := domain.Portfolio{
		Available: bal.Available,
		Equity:    bal.Available,
		Marks:     make(map[string]float64, len(positions)),
		Invested:  make(map[domain.Bucket]float64, 2),
		TakenAt:   a.now(),
	}
	for _, p := range positions {
		if p.Size <= 0 {
			continue
		}
		mark := p.MarkPrice
		if mark <= 0 {
			mark = p.AvgPrice
		}
		lev := p.Leverage
		if lev <= 0 {
			lev = a.cfg.Leverage
		}
		notional := p.Size * mark
		margin := p.Size * p.AvgPrice / lev
		pnl := p.Direction().Sign() * (mark - p.AvgPrice) * p.Size

		pf.Marks[p.Symbol] = notional
		pf.Equity += margin + pnl
		pf.Invested[a.bucketOf(p.Symbol)] += notional
	}

	a.metrics.SetEquity(pf.Equity)
	a.logger.DebugContext(ctx, "portfolio valued",
		slog.Float64("equity", pf.Equity),
		slog.Float64("available", pf.Available),
		slog.Int("positions", len(pf.Marks)),
		slog.Float64("invested_stable", pf.InvestedIn(domain.BucketStable)),
		slog.Float64("invested_volatile", pf.InvestedIn(domain.BucketVolatile)),
	)
	return pf, nil
}

// BucketBudget returns the notional budget of bucket b for the given equity.
func (a *Allocator) BucketBudget(equity float64, b domain.Bucket) float64 {
	frac := a.cfg.StableFraction
	if b == domain.BucketVolatile {
		frac = a.cfg.VolatileFraction
	}
	return equity * a.cfg.Leverage * frac
}

// MarginCeiling returns the largest notional the free balance can carry.
func (a *Allocator) MarginCeiling(available float64) float64 {
	return available * a.cfg.Leverage * a.cfg.MarginUseFraction
}

// RDistance returns the ATR-derived risk unit for candles.
func (a *Allocator) RDistance(candles []domain.Candle) (float64, error) {
	return RDistance(candles, a.cfg.ATRPeriod, a.cfg.ATRRMultiple)
}

// RiskUnit converts an ATR reading into a risk distance.
func (a *Allocator) RiskUnit(atr float64) float64 {
	if atr <= 0 {
		return 0
	}
	return atr * a.cfg.ATRRMultiple
}

// RDistance is ATR(period) × multiple.
func RDistance(candles []domain.Candle, period int, multiple float64) (float64, error) {
	atr, err := indicator.ATR(candles, period)
	if err != nil {
		return 0, err
	}
	if atr <= 0 {
		return 0, fmt.Errorf("risk: zero atr: %w", domain.ErrNoData)
	}
	return atr * multiple, nil
}

// ---------------------------------------------------------------------------
// Sizing
// ---------------------------------------------------------------------------

// Request describes a candidate entry.
type Request struct {
	Symbol     string
	Bucket     domain.Bucket
	Price      float64
	RDistance  float64
	Instrument domain.Instrument
}

// Decision is the sized entry.
type Decision struct {
	Notional float64
	Raw      float64 // risk-derived notional before caps
	CappedBy string  // "", "bucket", "margin", "max_notional"
	Bumped   bool    // raised to the instrument minimum
}

// Size computes the entry notional for req against pf. It returns
// domain.ErrInsufficientBudget when the bucket is full and
// domain.ErrBelowMinimum when the sized order cannot meet the instrument
// minimum.
func (a *Allocator) Size(pf domain.Portfolio, req Request) (Decision, error) {
	if req.Price <= 0 || req.RDistance <= 0 {
		return Decision{}, fmt.Errorf("risk: size %s: price %.8g r_distance %.8g: %w",
			req.Symbol, req.Price, req.RDistance, domain.ErrInvalidOrder)
	}
	if pf.Equity <= 0 {
		return Decision{}, fmt.Errorf("risk: size %s: no equity: %w", req.Symbol, domain.ErrInsufficientBudget)
	}

	budget := a.BucketBudget(pf.Equity, req.Bucket)
	headroom := budget - pf.InvestedIn(req.Bucket)
	if headroom <= 0 {
		return Decision{}, fmt.Errorf("risk: size %s: %s bucket full (%.2f of %.2f): %w",
			req.Symbol, req.Bucket, pf.InvestedIn(req.Bucket), budget, domain.ErrInsufficientBudget)
	}
	ceiling := a.MarginCeiling(pf.Available)

	raw := pf.Equity * a.cfg.RiskPerTradeFraction / req.RDistance * req.Price
	d := Decision{Notional: raw, Raw: raw}
	if d.Notional > headroom {
		d.Notional, d.CappedBy = headroom, "bucket"
	}
	if d.Notional > ceiling {
		d.Notional, d.CappedBy = ceiling, "margin"
	}
	if a.cfg.MaxNotional > 0 && d.Notional > a.cfg.MaxNotional {
		d.Notional, d.CappedBy = a.cfg.MaxNotional, "max_notional"
	}

	minimum := minNotional(req.Instrument, req.Price)
	if d.Notional >= minimum {
		return d, nil
	}
	if !a.allowBump(req.Symbol) {
		return Decision{}, fmt.Errorf("risk: size %s: notional %.2f below minimum %.2f: %w",
			req.Symbol, d.Notional, minimum, domain.ErrBelowMinimum)
	}
	if minimum > headroom || minimum > ceiling {
		return Decision{}, fmt.Errorf("risk: size %s: minimum %.2f exceeds budget: %w",
			req.Symbol, minimum, domain.ErrInsufficientBudget)
	}
	d.Notional = minimum
	d.Bumped = true
	return d, nil
}

// minNotional is the notional of the smallest step-aligned quantity the
// instrument accepts at price, so an order sized to it survives flooring.
func minNotional(inst domain.Instrument, price float64) float64 {
	p := numeric.FromFloat(price)
	qty := numeric.MinNotionalQuantity(inst.MinNotional, inst.MinOrderQty, p, inst.QtyStep)
	return qty.Mul(p).InexactFloat64()
}

func (a *Allocator) allowBump(symbol string) bool {
	return slices.Contains(a.cfg.MinNotionalAllowlist, symbol)
}

func (a *Allocator) bucketOf(symbol string) domain.Bucket {
	if a.buckets == nil {
		return domain.BucketStable
	}
	if b := a.buckets.BucketOf(symbol); b != "" {
		return b
	}
	return domain.BucketStable
}

// IsRejection reports whether err is a sizing rejection rather than a
// failure to value the account.
func IsRejection(err error) bool {
	return errors.Is(err, domain.ErrInsufficientBudget) ||
		errors.Is(err, domain.ErrBelowMinimum) ||
		errors.Is(err, domain.ErrInvalidOrder)
}
