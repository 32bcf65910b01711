// Package orchestrator runs the trading cycle: refresh the universe, value
// the account, sync the ledger with the exchange, act on exit and entry
// signals, then sweep protection.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/adamalfredo/bybit-trading-bot-sub000/internal/domain"
	"github.com/adamalfredo/bybit-trading-bot-sub000/internal/execution"
	"github.com/adamalfredo/bybit-trading-bot-sub000/internal/ledger"
	"github.com/adamalfredo/bybit-trading-bot-sub000/internal/metrics"
	"github.com/adamalfredo/bybit-trading-bot-sub000/internal/protection"
	"github.com/adamalfredo/bybit-trading-bot-sub000/internal/risk"
)

// Config controls the cycle.
type Config struct {
	Direction       domain.Direction
	CycleInterval   time.Duration
	MaxPositions    int
	ReentryCooldown time.Duration
	SymbolTimeout   time.Duration
	// EntriesEnabled is false in monitor mode: exits and protection only.
	EntriesEnabled bool
	// CandleInterval and CandleLookback feed the ATR of recovered positions.
	CandleInterval string
	CandleLookback int
}

// Executor opens positions.
type Executor interface {
	LastPrice(ctx context.Context, symbol string) (float64, error)
	OpenPosition(ctx context.Context, symbol string, dir domain.Direction, notional float64) (float64, bool)
	EnsureLeverage(ctx context.Context, symbol string) bool
	CleanupThrottles()
}

// Exchange is the read-only exchange view.
type Exchange interface {
	Positions(ctx context.Context) ([]domain.ExchangePosition, error)
	Klines(ctx context.Context, symbol, interval string, limit int) ([]domain.Candle, error)
}

// Sizer values the account and sizes entries.
type Sizer interface {
	PortfolioValue(ctx context.Context) (domain.Portfolio, error)
	Size(pf domain.Portfolio, req risk.Request) (risk.Decision, error)
	RiskUnit(atr float64) float64
	RDistance(candles []domain.Candle) (float64, error)
}

// Protector owns open positions once they are filled.
type Protector interface {
	Adopt(ctx context.Context, pos domain.Position) domain.Position
	Close(ctx context.Context, symbol string, reason domain.CloseReason, price float64) error
	SafetySweep(ctx context.Context) int
}

// InstrumentLookup returns cached instrument metadata.
type InstrumentLookup interface {
	Get(ctx context.Context, symbol string) (domain.Instrument, error)
}

// Orchestrator ties signals, sizing, execution and protection together.
type Orchestrator struct {
	cfg         Config
	universe    domain.Universe
	signals     domain.SignalGenerator
	sizer       Sizer
	exec        Executor
	exchange    Exchange
	instruments InstrumentLookup
	protector   Protector
	ledger      *ledger.Ledger
	sink        domain.EventSink
	metrics     *metrics.Metrics
	logger      *slog.Logger
	cooldown    *execution.Throttle
	now         func() time.Time
}

// Deps groups the Orchestrator's collaborators.
type Deps struct {
	Universe    domain.Universe
	Signals     domain.SignalGenerator
	Sizer       Sizer
	Executor    Executor
	Exchange    Exchange
	Instruments InstrumentLookup
	Protector   Protector
	Ledger      *ledger.Ledger
	Sink        domain.EventSink
	Metrics     *metrics.Metrics
}

// New creates an Orchestrator.
func New(cfg Config, deps Deps, logger *slog.Logger) *Orchestrator {
	if cfg.CycleInterval <= 0 {
		cfg.CycleInterval = time.Minute
	}
	if cfg.SymbolTimeout <= 0 {
		cfg.SymbolTimeout = 15 * time.Second
	}
	if cfg.CandleLookback <= 0 {
		cfg.CandleLookback = 100
	}
	return &Orchestrator{
		cfg:         cfg,
		universe:    deps.Universe,
		signals:     deps.Signals,
		sizer:       deps.Sizer,
		exec:        deps.Executor,
		exchange:    deps.Exchange,
		instruments: deps.Instruments,
		protector:   deps.Protector,
		ledger:      deps.Ledger,
		sink:        deps.Sink,
		metrics:     deps.Metrics,
		logger:      logger.With(slog.String("component", "orchestrator")),
		cooldown:    execution.NewThrottle(cfg.ReentryCooldown),
		now:         time.Now,
	}
}

// MarkClosed starts the re-entry cooldown for symbol. Register it with the
// protection engine's OnClose.
func (o *Orchestrator) MarkClosed(symbol string) {
	o.cooldown.Mark(symbol)
}

// Run executes a cycle immediately and then once per CycleInterval until ctx
// is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.InfoContext(ctx, "orchestrator started",
		slog.String("direction", string(o.cfg.Direction)),
		slog.Duration("interval", o.cfg.CycleInterval),
		slog.Bool("entries", o.cfg.EntriesEnabled),
	)
	defer o.logger.Info("orchestrator stopped")

	o.Cycle(ctx)

	ticker := time.NewTicker(o.cfg.CycleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			o.Cycle(ctx)
		}
	}
}

// CycleStats summarises one cycle.
type CycleStats struct {
	Reconciled ledger.ReconcileResult
	Exits      int
	Entries    int
	Rejected   int
	Repaired   int
}

// Cycle runs one pass. Failures are logged and never abort the pass.
func (o *Orchestrator) Cycle(ctx context.Context) CycleStats {
	start := o.now()
	var stats CycleStats

	if err := o.universe.Refresh(ctx); err != nil {
		o.logger.WarnContext(ctx, "universe refresh failed, using last list", slog.String("error", err.Error()))
	}

	if res, err := o.Sync(ctx); err != nil {
		o.logger.WarnContext(ctx, "position sync failed", slog.String("error", err.Error()))
	} else {
		stats.Reconciled = res
	}

	stats.Exits = o.exits(ctx)

	if o.cfg.EntriesEnabled && ctx.Err() == nil {
		pf, err := o.sizer.PortfolioValue(ctx)
		if err != nil {
			o.logger.WarnContext(ctx, "portfolio valuation failed, skipping entries", slog.String("error", err.Error()))
		} else {
			stats.Entries, stats.Rejected = o.entries(ctx, pf)
		}
	}

	stats.Repaired = o.protector.SafetySweep(ctx)
	o.exec.CleanupThrottles()
	o.cooldown.Cleanup()

	elapsed := o.now().Sub(start)
	o.metrics.SetOpenPositions(o.ledger.Len())
	o.metrics.ObserveCycle(elapsed.Seconds())
	o.logger.InfoContext(ctx, "cycle complete",
		slog.Int("open", o.ledger.Len()),
		slog.Int("exits", stats.Exits),
		slog.Int("entries", stats.Entries),
		slog.Int("rejected", stats.Rejected),
		slog.Int("repaired", stats.Repaired),
		slog.Duration("elapsed", elapsed),
	)
	return stats
}

// ---------------------------------------------------------------------------
// Sync
// ---------------------------------------------------------------------------

// Sync reconciles the ledger with the exchange's live positions in the
// agent's direction. Sub-minimum remnants count as closed. Newly recovered
// positions are handed to the protector.
func (o *Orchestrator) Sync(ctx context.Context) (ledger.ReconcileResult, error) {
	positions, err := o.exchange.Positions(ctx)
	if err != nil {
		return ledger.ReconcileResult{}, fmt.Errorf("orchestrator: positions: %w", err)
	}

	live := make([]domain.ExchangePosition, 0, len(positions))
	for _, ep := range positions {
		if ep.Size <= 0 || ep.Direction() != o.cfg.Direction {
			continue
		}
		if inst, err := o.instruments.Get(ctx, ep.Symbol); err == nil && ep.Size < inst.MinOrderQty.InexactFloat64() {
			continue
		}
		live = append(live, ep)
	}

	res := o.ledger.Reconcile(ctx, live, o.synthesize)
	for _, sym := range res.Synthesized {
		pos, ok := o.ledger.Get(sym)
		if !ok {
			continue
		}
		pos = o.protector.Adopt(ctx, pos)
		o.emit(ctx, domain.Event{
			Name:    domain.EventRecovered,
			Symbol:  sym,
			Detail:  map[string]any{"entry": pos.EntryPrice, "qty": pos.Qty, "stop_loss": pos.StopLoss},
			Message: fmt.Sprintf("%s %s recovered from exchange, stop %.6g", sym, pos.Direction, pos.StopLoss),
		})
	}
	for _, sym := range res.Purged {
		o.MarkClosed(sym)
		o.metrics.Close(string(domain.CloseExternal))
		o.emit(ctx, domain.Event{
			Name:    domain.EventPurged,
			Symbol:  sym,
			Detail:  map[string]any{"reason": string(domain.CloseExternal)},
			Message: fmt.Sprintf("%s closed on exchange", sym),
		})
	}
	return res, nil
}

// synthesize builds a ledger entry for an exchange position with no saved
// state. Without enough candles for an ATR the initial stop falls back to the
// fixed stop fraction.
func (o *Orchestrator) synthesize(ctx context.Context, ep domain.ExchangePosition) (domain.Position, error) {
	if ep.AvgPrice <= 0 {
		return domain.Position{}, fmt.Errorf("orchestrator: %s has no entry price: %w", ep.Symbol, domain.ErrNoData)
	}
	var r float64
	candles, err := o.exchange.Klines(ctx, ep.Symbol, o.cfg.CandleInterval, o.cfg.CandleLookback)
	if err == nil {
		r, err = o.sizer.RDistance(candles)
	}
	if err != nil {
		o.logger.WarnContext(ctx, "recovery without atr",
			slog.String("symbol", ep.Symbol),
			slog.String("error", err.Error()),
		)
		r = 0
	}
	return protection.NewPosition(ep.Symbol, ep.Direction(), o.universe.BucketOf(ep.Symbol), "recovered",
		ep.AvgPrice, ep.Size, r, o.now()), nil
}

// ---------------------------------------------------------------------------
// Signals
// ---------------------------------------------------------------------------

func (o *Orchestrator) exits(ctx context.Context) int {
	closed := 0
	for _, sym := range o.ledger.Symbols() {
		if ctx.Err() != nil {
			return closed
		}
		sig, err := o.analyze(ctx, sym)
		if err != nil || sig.Verdict != domain.VerdictExit {
			continue
		}
		sctx, cancel := context.WithTimeout(ctx, o.cfg.SymbolTimeout)
		err = o.protector.Close(sctx, sym, domain.CloseSignalExit, sig.Price)
		cancel()
		if err != nil {
			o.logger.WarnContext(ctx, "exit signal close failed",
				slog.String("symbol", sym),
				slog.String("error", err.Error()),
			)
			continue
		}
		closed++
	}
	return closed
}

func (o *Orchestrator) entries(ctx context.Context, pf domain.Portfolio) (opened, rejected int) {
	for _, c := range o.universe.Candidates() {
		if ctx.Err() != nil {
			return
		}
		if o.cfg.MaxPositions > 0 && o.ledger.Len() >= o.cfg.MaxPositions {
			o.logger.DebugContext(ctx, "max positions reached", slog.Int("max", o.cfg.MaxPositions))
			return
		}
		if o.ledger.IsOpen(c.Symbol) || o.cooldown.Active(c.Symbol) {
			continue
		}

		sig, err := o.analyze(ctx, c.Symbol)
		if err != nil || sig.Verdict != domain.VerdictEnter {
			continue
		}

		sctx, cancel := context.WithTimeout(ctx, o.cfg.SymbolTimeout)
		notional, err := o.enter(sctx, pf, c, sig)
		cancel()
		if err != nil {
			rejected++
			o.rejectEntry(ctx, c.Symbol, err)
			continue
		}
		opened++
		if pf.Invested == nil {
			pf.Invested = make(map[domain.Bucket]float64, 2)
		}
		pf.Invested[c.Bucket] += notional
	}
	return
}

var errEntryFailed = errors.New("entry order not filled")

// enter sizes, opens and protects one position. It returns the notional
// committed.
func (o *Orchestrator) enter(ctx context.Context, pf domain.Portfolio, c domain.Candidate, sig domain.Signal) (float64, error) {
	price := sig.Price
	if price <= 0 {
		p, err := o.exec.LastPrice(ctx, c.Symbol)
		if err != nil {
			return 0, err
		}
		price = p
	}

	r := o.sizer.RiskUnit(sig.ATR)
	if r <= 0 {
		candles, err := o.exchange.Klines(ctx, c.Symbol, o.cfg.CandleInterval, o.cfg.CandleLookback)
		if err != nil {
			return 0, err
		}
		if r, err = o.sizer.RDistance(candles); err != nil {
			return 0, err
		}
	}

	inst, err := o.instruments.Get(ctx, c.Symbol)
	if err != nil {
		return 0, err
	}
	decision, err := o.sizer.Size(pf, risk.Request{
		Symbol:     c.Symbol,
		Bucket:     c.Bucket,
		Price:      price,
		RDistance:  r,
		Instrument: inst,
	})
	if err != nil {
		return 0, err
	}

	if !o.exec.EnsureLeverage(ctx, c.Symbol) {
		return 0, fmt.Errorf("orchestrator: %s: leverage not set: %w", c.Symbol, errEntryFailed)
	}
	qty, ok := o.exec.OpenPosition(ctx, c.Symbol, o.cfg.Direction, decision.Notional)
	if !ok {
		return 0, fmt.Errorf("orchestrator: %s: %w", c.Symbol, errEntryFailed)
	}

	entry := o.fillPrice(ctx, c.Symbol, price)
	pos := protection.NewPosition(c.Symbol, o.cfg.Direction, c.Bucket, sig.Strategy, entry, qty, r, o.now())
	pos = o.protector.Adopt(ctx, pos)

	o.logger.InfoContext(ctx, "position opened",
		slog.String("symbol", c.Symbol),
		slog.String("bucket", string(c.Bucket)),
		slog.String("strategy", sig.Strategy),
		slog.Float64("entry", entry),
		slog.Float64("qty", qty),
		slog.Float64("notional", decision.Notional),
		slog.String("capped_by", decision.CappedBy),
		slog.Bool("bumped", decision.Bumped),
		slog.Float64("r_distance", r),
	)
	o.emit(ctx, domain.Event{
		Name:   domain.EventOpened,
		Symbol: c.Symbol,
		Detail: map[string]any{
			"direction":   string(o.cfg.Direction),
			"bucket":      string(c.Bucket),
			"strategy":    sig.Strategy,
			"entry":       entry,
			"qty":         qty,
			"notional":    decision.Notional,
			"r_distance":  r,
			"stop_loss":   pos.StopLoss,
			"take_profit": pos.TakeProfit,
		},
		Message: fmt.Sprintf("%s %s opened: %.6g @ %.6g, stop %.6g, tp %.6g",
			c.Symbol, o.cfg.Direction, qty, entry, pos.StopLoss, pos.TakeProfit),
	})
	return qty * entry, nil
}

// fillPrice reads the exchange's average entry, falling back to the
// reference price.
func (o *Orchestrator) fillPrice(ctx context.Context, symbol string, fallback float64) float64 {
	positions, err := o.exchange.Positions(ctx)
	if err != nil {
		return fallback
	}
	for _, ep := range positions {
		if ep.Symbol == symbol && ep.Direction() == o.cfg.Direction && ep.AvgPrice > 0 {
			return ep.AvgPrice
		}
	}
	return fallback
}

func (o *Orchestrator) analyze(ctx context.Context, symbol string) (domain.Signal, error) {
	sctx, cancel := context.WithTimeout(ctx, o.cfg.SymbolTimeout)
	defer cancel()
	sig, err := o.signals.Analyze(sctx, symbol)
	if err != nil && !errors.Is(err, domain.ErrNoData) {
		o.logger.DebugContext(ctx, "signal unavailable",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
	}
	return sig, err
}

func (o *Orchestrator) rejectEntry(ctx context.Context, symbol string, err error) {
	level := slog.LevelWarn
	if risk.IsRejection(err) || errors.Is(err, domain.ErrNoData) {
		level = slog.LevelDebug
	}
	o.logger.Log(ctx, level, "entry skipped",
		slog.String("symbol", symbol),
		slog.String("error", err.Error()),
	)
	o.emit(ctx, domain.Event{
		Name:   domain.EventEntryRejected,
		Symbol: symbol,
		Detail: map[string]any{"error": err.Error()},
	})
}

func (o *Orchestrator) emit(ctx context.Context, ev domain.Event) {
	if o.sink == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = o.now()
	}
	o.sink.Emit(ctx, ev)
}
