// Package universe maintains the ranked list of symbols the agent scans.
package universe

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/adamalfredo/bybit-trading-bot-sub000/internal/domain"
)

// Config controls selection and bucketing.
type Config struct {
	TopN              int           `toml:"top_n"`
	MinTurnover       float64       `toml:"min_turnover"`
	VolatileChangePct float64       `toml:"volatile_change_pct"`
	Volatile          []string      `toml:"volatile"`
	Include           []string      `toml:"include"`
	Exclude           []string      `toml:"exclude"`
	RefreshInterval   time.Duration `toml:"refresh_interval"`
	QuoteSuffix       string        `toml:"quote_suffix"`
}

// DefaultConfig returns the top 30 USDT perpetuals, refreshed hourly.
func DefaultConfig() Config {
	return Config{
		TopN:              30,
		MinTurnover:       5_000_000,
		VolatileChangePct: 8,
		RefreshInterval:   time.Hour,
		QuoteSuffix:       "USDT",
	}
}

// Validate checks the configuration and reports every problem at once.
func (c Config) Validate() error {
	var errs []string
	if c.TopN <= 0 && len(c.Include) == 0 {
		errs = append(errs, "top_n must be positive unless include is set")
	}
	if c.MinTurnover < 0 {
		errs = append(errs, "min_turnover must not be negative")
	}
	if c.VolatileChangePct <= 0 {
		errs = append(errs, "volatile_change_pct must be positive")
	}
	if c.RefreshInterval <= 0 {
		errs = append(errs, "refresh_interval must be positive")
	}
	if len(errs) > 0 {
		return fmt.Errorf("universe: invalid config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// TickerSource lists the 24h summaries of every listed symbol.
type TickerSource interface {
	Tickers(ctx context.Context) ([]domain.Ticker, error)
}

// Universe ranks symbols by 24h turnover. Candidates keeps serving the last
// good list when a refresh fails.
type Universe struct {
	src    TickerSource
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu          sync.RWMutex
	candidates  []domain.Candidate
	buckets     map[string]domain.Bucket
	refreshedAt time.Time
}

// New creates a Universe.
func New(src TickerSource, cfg Config, logger *slog.Logger) *Universe {
	return &Universe{
		src:     src,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "universe")),
		now:     time.Now,
		buckets: make(map[string]domain.Bucket),
	}
}

// Refresh rebuilds the candidate list when the refresh interval has passed.
// The first call always refreshes.
func (u *Universe) Refresh(ctx context.Context) error {
	u.mu.RLock()
	fresh := !u.refreshedAt.IsZero() && u.now().Sub(u.refreshedAt) < u.cfg.RefreshInterval
	u.mu.RUnlock()
	if fresh {
		return nil
	}
	return u.Rebuild(ctx)
}

// Rebuild fetches tickers and recomputes the candidate list unconditionally.
func (u *Universe) Rebuild(ctx context.Context) error {
	tickers, err := u.src.Tickers(ctx)
	if err != nil {
		return fmt.Errorf("universe: tickers: %w", err)
	}
	candidates := u.rank(tickers)

	buckets := make(map[string]domain.Bucket, len(candidates))
	volatile := 0
	for _, c := range candidates {
		buckets[c.Symbol] = c.Bucket
		if c.Bucket == domain.BucketVolatile {
			volatile++
		}
	}

	u.mu.Lock()
	u.candidates = candidates
	u.buckets = buckets
	u.refreshedAt = u.now()
	u.mu.Unlock()

	u.logger.InfoContext(ctx, "universe refreshed",
		slog.Int("candidates", len(candidates)),
		slog.Int("volatile", volatile),
		slog.Int("tickers", len(tickers)),
	)
	return nil
}

func (u *Universe) rank(tickers []domain.Ticker) []domain.Candidate {
	byTurnover := make([]domain.Ticker, 0, len(tickers))
	bySymbol := make(map[string]domain.Ticker, len(tickers))
	for _, t := range tickers {
		bySymbol[t.Symbol] = t
		if u.cfg.QuoteSuffix != "" && !strings.HasSuffix(t.Symbol, u.cfg.QuoteSuffix) {
			continue
		}
		if slices.Contains(u.cfg.Exclude, t.Symbol) || slices.Contains(u.cfg.Include, t.Symbol) {
			continue
		}
		if t.Turnover24h < u.cfg.MinTurnover || t.LastPrice <= 0 {
			continue
		}
		byTurnover = append(byTurnover, t)
	}
	sort.SliceStable(byTurnover, func(i, j int) bool {
		return byTurnover[i].Turnover24h > byTurnover[j].Turnover24h
	})
	if u.cfg.TopN > 0 && len(byTurnover) > u.cfg.TopN {
		byTurnover = byTurnover[:u.cfg.TopN]
	}

	out := make([]domain.Candidate, 0, len(u.cfg.Include)+len(byTurnover))
	for _, sym := range u.cfg.Include {
		if slices.Contains(u.cfg.Exclude, sym) {
			continue
		}
		t, ok := bySymbol[sym]
		if !ok {
			continue
		}
		out = append(out, domain.Candidate{Symbol: sym, Bucket: u.classify(t)})
	}
	for _, t := range byTurnover {
		out = append(out, domain.Candidate{Symbol: t.Symbol, Bucket: u.classify(t)})
	}
	return out
}

func (u *Universe) classify(t domain.Ticker) domain.Bucket {
	if slices.Contains(u.cfg.Volatile, t.Symbol) {
		return domain.BucketVolatile
	}
	if math.Abs(t.Price24hPcnt*100) >= u.cfg.VolatileChangePct {
		return domain.BucketVolatile
	}
	return domain.BucketStable
}

// Candidates returns a copy of the current ordered candidate list.
func (u *Universe) Candidates() []domain.Candidate {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return slices.Clone(u.candidates)
}

// BucketOf returns the bucket of symbol. Symbols outside the universe, such
// as recovered positions, fall back to the static volatile list.
func (u *Universe) BucketOf(symbol string) domain.Bucket {
	u.mu.RLock()
	b, ok := u.buckets[symbol]
	u.mu.RUnlock()
	if ok {
		return b
	}
	if slices.Contains(u.cfg.Volatile, symbol) {
		return domain.BucketVolatile
	}
	return domain.BucketStable
}

var _ domain.Universe = (*Universe)(nil)
