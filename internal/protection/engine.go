// Package protection manages the protective orders of every open position.
//
// The state machine is direction-parameterised: every comparison goes
// through the position's sign, so one implementation serves long and short
// agents. States per position:
//
//	OPENED          initial stop at entry × (1 − sign × initial_stop_fraction)
//	TRAILING_ARMED  favourable move ≥ activation; breakeven placed, native trail set
//	FLOOR_RATCHET   best ROI crossed a tier; stop moved to lock the tier's floor
//	BE_LOCKED       orthogonal flag, set at most once
//	CLOSED          stop breach, max-loss breach, exit signal or external close
//
// Three workers advance the machine on their own tickers. Each sweep fans
// out per symbol with a bounded errgroup and a per-symbol timeout, and every
// read-modify-place sequence runs inside ledger.Update.
package protection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/adamalfredo/bybit-trading-bot-sub000/internal/domain"
	"github.com/adamalfredo/bybit-trading-bot-sub000/internal/ledger"
	"github.com/adamalfredo/bybit-trading-bot-sub000/internal/metrics"
)

// Executor is the order surface the engine drives.
type Executor interface {
	LastPrice(ctx context.Context, symbol string) (float64, error)
	ClosePosition(ctx context.Context, symbol string, dir domain.Direction, qty float64) bool
	PlaceConditionalStop(ctx context.Context, symbol string, dir domain.Direction, trigger, qty float64, by domain.TriggerBy) bool
	PlaceTakeProfit(ctx context.Context, symbol string, dir domain.Direction, price, qty float64) bool
	SetNativeTrailingStop(ctx context.Context, symbol string, dir domain.Direction, distance, activePrice float64) bool
	SetPositionStopLoss(ctx context.Context, symbol string, dir domain.Direction, price float64) bool
	CancelAll(ctx context.Context, symbol string, filter domain.OrderFilter)
}

// InstrumentLookup returns cached instrument metadata.
type InstrumentLookup interface {
	Get(ctx context.Context, symbol string) (domain.Instrument, error)
}

// errCloseFailed keeps a position in the ledger for the next tick.
var errCloseFailed = errors.New("protection: close order not accepted")

// Engine runs the protection workers.
type Engine struct {
	cfg         Config
	ledger      *ledger.Ledger
	exec        Executor
	instruments InstrumentLookup
	sink        domain.EventSink
	metrics     *metrics.Metrics
	logger      *slog.Logger
	now         func() time.Time

	onClose func(symbol string)
}

// NewEngine creates an Engine. sink and m may be nil.
func NewEngine(
	cfg Config,
	l *ledger.Ledger,
	exec Executor,
	instruments InstrumentLookup,
	sink domain.EventSink,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Engine {
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 1
	}
	if cfg.SymbolTimeout <= 0 {
		cfg.SymbolTimeout = 10 * time.Second
	}
	return &Engine{
		cfg:         cfg,
		ledger:      l,
		exec:        exec,
		instruments: instruments,
		sink:        sink,
		metrics:     m,
		logger:      logger.With(slog.String("component", "protection")),
		now:         time.Now,
	}
}

// OnClose registers fn to be called with the symbol after every close or
// purge. It must be set before Run.
func (e *Engine) OnClose(fn func(symbol string)) {
	e.onClose = fn
}

// ---------------------------------------------------------------------------
// Workers
// ---------------------------------------------------------------------------

// Run starts the trailing/exit, breakeven and profit-floor workers and blocks
// until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.InfoContext(ctx, "protection workers started",
		slog.Duration("trail_interval", e.cfg.TrailInterval),
		slog.Duration("breakeven_interval", e.cfg.BreakevenInterval),
		slog.Duration("floor_interval", e.cfg.FloorInterval),
	)
	defer e.logger.Info("protection workers stopped")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.runWorker(ctx, "trailing", e.cfg.TrailInterval, e.TickTrailing) })
	g.Go(func() error { return e.runWorker(ctx, "breakeven", e.cfg.BreakevenInterval, e.TickBreakeven) })
	g.Go(func() error { return e.runWorker(ctx, "floor", e.cfg.FloorInterval, e.TickFloor) })
	return g.Wait()
}

func (e *Engine) runWorker(ctx context.Context, name string, interval time.Duration, tick func(context.Context, string) error) error {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.Sweep(ctx, name, tick)
		}
	}
}

// Sweep runs tick for every open symbol concurrently, bounded by
// MaxParallel. A failing or slow symbol never stops the others.
func (e *Engine) Sweep(ctx context.Context, worker string, tick func(context.Context, string) error) {
	var g errgroup.Group
	g.SetLimit(e.cfg.MaxParallel)

	for _, symbol := range e.ledger.Symbols() {
		symbol := symbol
		g.Go(func() error {
			sctx, cancel := context.WithTimeout(ctx, e.cfg.SymbolTimeout)
			defer cancel()

			if err := tick(sctx, symbol); err != nil && !quiet(err) {
				e.logger.WarnContext(ctx, "protection tick failed",
					slog.String("worker", worker),
					slog.String("symbol", symbol),
					slog.String("error", err.Error()),
				)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// quiet reports errors that only mean "nothing to do this tick".
func quiet(err error) bool {
	return errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrNoData) || errors.Is(err, context.Canceled)
}

// ---------------------------------------------------------------------------
// Ticks
// ---------------------------------------------------------------------------

// TickTrailing handles exits and trailing arming for one symbol: external
// closure, forced max-loss, local stop breach, then trailing activation.
func (e *Engine) TickTrailing(ctx context.Context, symbol string) error {
	price, err := e.exec.LastPrice(ctx, symbol)
	if err != nil {
		return err
	}
	var minQty float64
	if inst, err := e.instruments.Get(ctx, symbol); err == nil {
		minQty = inst.MinOrderQty.InexactFloat64()
	}

	return e.ledger.Update(ctx, symbol, func(p *domain.Position) error {
		if minQty > 0 && p.Qty < minQty {
			return e.purgeLocked(ctx, p, domain.CloseExternal)
		}

		Observe(p, price)

		if reason, ok := CheckExit(*p, price, e.cfg); ok {
			return e.closeLocked(ctx, p, price, reason)
		}

		if !p.StopOnExchange && p.StopLoss > 0 {
			e.placeStop(ctx, p, p.StopLoss)
		}

		if ShouldArmTrailing(*p, e.cfg) {
			e.armLocked(ctx, p, price)
		}
		return nil
	})
}

// TickBreakeven locks breakeven once the activation move is reached.
func (e *Engine) TickBreakeven(ctx context.Context, symbol string) error {
	price, err := e.exec.LastPrice(ctx, symbol)
	if err != nil {
		return err
	}
	return e.ledger.Update(ctx, symbol, func(p *domain.Position) error {
		Observe(p, price)
		if ShouldLockBreakeven(*p, e.cfg) {
			e.lockBreakevenLocked(ctx, p, price)
		}
		return nil
	})
}

// TickFloor advances the profit-floor ratchet.
func (e *Engine) TickFloor(ctx context.Context, symbol string) error {
	price, err := e.exec.LastPrice(ctx, symbol)
	if err != nil {
		return err
	}
	now := e.now()
	return e.ledger.Update(ctx, symbol, func(p *domain.Position) error {
		Observe(p, price)

		plan, ok := PlanFloor(*p, now, e.cfg)
		if !ok {
			return nil
		}
		log := e.logger.With(slog.String("symbol", p.Symbol))

		// An existing stop already at or beyond the floor level protects it.
		if p.StopLoss > 0 && p.StopOnExchange && !p.Better(plan.Stop, p.StopLoss) {
			e.setFloor(p, plan, now)
			log.DebugContext(ctx, "floor raised behind tighter stop",
				slog.Float64("floor_roi", plan.FloorROI),
				slog.Float64("stop_loss", p.StopLoss),
			)
			return nil
		}
		if !p.Better(price, plan.Stop) {
			// Price already gave back past the floor it earned.
			e.setFloor(p, plan, now)
			log.WarnContext(ctx, "price retraced through profit floor",
				slog.Float64("floor_roi", plan.FloorROI),
				slog.Float64("floor_price", plan.Stop),
				slog.Float64("price", price),
			)
			return e.closeLocked(ctx, p, price, domain.CloseStopBreach)
		}
		if !e.placeStop(ctx, p, plan.Stop) {
			return nil
		}
		e.setFloor(p, plan, now)
		e.metrics.ProtectionAction("floor_raised")
		log.InfoContext(ctx, "profit floor raised",
			slog.Float64("floor_roi", plan.FloorROI),
			slog.Float64("stop_loss", plan.Stop),
			slog.Float64("mfe_roi", p.MFE*e.cfg.Leverage),
		)
		e.emit(ctx, domain.Event{
			Name:   domain.EventFloorRaised,
			Symbol: p.Symbol,
			Detail: map[string]any{"floor_roi": plan.FloorROI, "stop_loss": plan.Stop, "price": price},
		})
		return nil
	})
}

// SafetySweep re-asserts breakeven for every position that should have it
// and re-places any stop that is only enforced locally. It returns how many
// positions were repaired.
func (e *Engine) SafetySweep(ctx context.Context) int {
	var (
		g        errgroup.Group
		repaired atomic.Int64
	)
	g.SetLimit(e.cfg.MaxParallel)

	for _, symbol := range e.ledger.Symbols() {
		symbol := symbol
		g.Go(func() error {
			sctx, cancel := context.WithTimeout(ctx, e.cfg.SymbolTimeout)
			defer cancel()

			price, err := e.exec.LastPrice(sctx, symbol)
			if err != nil {
				return nil
			}
			_ = e.ledger.Update(sctx, symbol, func(p *domain.Position) error {
				Observe(p, price)
				if ShouldLockBreakeven(*p, e.cfg) && e.lockBreakevenLocked(sctx, p, price) {
					repaired.Add(1)
					e.logger.WarnContext(sctx, "safety sweep locked missed breakeven", slog.String("symbol", symbol))
					return nil
				}
				if !p.StopOnExchange && p.StopLoss > 0 && e.placeStop(sctx, p, p.StopLoss) {
					repaired.Add(1)
				}
				return nil
			})
			return nil
		})
	}
	_ = g.Wait()
	return int(repaired.Load())
}

// ---------------------------------------------------------------------------
// Lifecycle entry points
// ---------------------------------------------------------------------------

// Adopt seeds the ledger with a freshly filled position and places its
// initial stop and take-profit. The levels are recorded before any order is
// sent, so a stop the exchange refused stays enforced locally and is
// re-placed on later ticks. The fill exists whatever the caller's deadline
// did, so placement runs on its own timeout.
func (e *Engine) Adopt(ctx context.Context, pos domain.Position) domain.Position {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.SymbolTimeout)
	defer cancel()

	stop, tp := InitialLevels(pos.Direction, pos.EntryPrice, pos.RDistance, e.cfg)
	pos.StopLoss = stop
	pos.StopOnExchange = false
	pos.TakeProfit = tp
	e.ledger.Put(ctx, pos)

	err := e.ledger.Update(ctx, pos.Symbol, func(p *domain.Position) error {
		e.placeStop(ctx, p, stop)
		if tp > 0 && !e.exec.PlaceTakeProfit(ctx, p.Symbol, p.Direction, tp, p.Qty) {
			e.logger.WarnContext(ctx, "take profit not placed", slog.String("symbol", p.Symbol), slog.Float64("tp", tp))
		}
		pos = *p
		return nil
	})
	if err != nil {
		e.logger.WarnContext(ctx, "initial protection deferred to workers",
			slog.String("symbol", pos.Symbol),
			slog.String("error", err.Error()),
		)
	}

	e.logger.InfoContext(ctx, "position protected",
		slog.String("symbol", pos.Symbol),
		slog.String("direction", string(pos.Direction)),
		slog.Float64("entry", pos.EntryPrice),
		slog.Float64("qty", pos.Qty),
		slog.Float64("stop_loss", pos.StopLoss),
		slog.Float64("take_profit", pos.TakeProfit),
		slog.Bool("stop_on_exchange", pos.StopOnExchange),
	)
	e.metrics.SetOpenPositions(e.ledger.Len())
	return pos
}

// Close closes symbol's position for reason. price is used for reporting;
// zero fetches the last price.
func (e *Engine) Close(ctx context.Context, symbol string, reason domain.CloseReason, price float64) error {
	if price <= 0 {
		p, err := e.exec.LastPrice(ctx, symbol)
		if err != nil {
			return fmt.Errorf("protection: close %s: %w", symbol, err)
		}
		price = p
	}
	return e.ledger.Update(ctx, symbol, func(p *domain.Position) error {
		Observe(p, price)
		return e.closeLocked(ctx, p, price, reason)
	})
}

// Purge drops symbol from the ledger without trading, for positions the
// exchange no longer reports.
func (e *Engine) Purge(ctx context.Context, symbol string, reason domain.CloseReason) error {
	return e.ledger.Update(ctx, symbol, func(p *domain.Position) error {
		return e.purgeLocked(ctx, p, reason)
	})
}

// ---------------------------------------------------------------------------
// Transitions. Callers hold the symbol's ledger lock.
// ---------------------------------------------------------------------------

// placeStop replaces the standalone stop with one at stop, falling back to
// the position-level stop-loss. It never loosens an existing stop.
func (e *Engine) placeStop(ctx context.Context, p *domain.Position, stop float64) bool {
	if stop <= 0 {
		return false
	}
	if p.StopLoss > 0 && p.Better(p.StopLoss, stop) {
		return false
	}
	if p.StopOnExchange && p.StopLoss > 0 && !p.Better(stop, p.StopLoss) {
		return false
	}

	e.exec.CancelAll(ctx, p.Symbol, domain.FilterStopOrder)
	// Until a replacement lands the previous level is only enforced locally.
	p.StopOnExchange = false
	ok := e.exec.PlaceConditionalStop(ctx, p.Symbol, p.Direction, stop, p.Qty, e.cfg.StopTriggerBy)
	if !ok {
		ok = e.exec.SetPositionStopLoss(ctx, p.Symbol, p.Direction, stop)
	}
	if !ok {
		e.logger.WarnContext(ctx, "stop not placed, retrying next tick",
			slog.String("symbol", p.Symbol),
			slog.Float64("stop", stop),
		)
		return false
	}
	p.StopLoss = stop
	p.StopOnExchange = true
	e.metrics.ProtectionAction("stop_moved")
	return true
}

// lockBreakevenLocked moves the stop to breakeven. It is the only path that
// sets BELocked, and it never unsets it.
func (e *Engine) lockBreakevenLocked(ctx context.Context, p *domain.Position, price float64) bool {
	if p.BELocked {
		return false
	}
	be := BreakevenStop(*p, e.cfg)

	// A stop already at or past breakeven makes the lock a bookkeeping step.
	if p.StopOnExchange && p.StopLoss > 0 && !p.Better(be, p.StopLoss) {
		p.BELocked = true
		p.BEPrice = p.StopLoss
		return true
	}
	if !p.Better(price, be) {
		return false
	}
	if !e.placeStop(ctx, p, be) {
		return false
	}

	p.BELocked = true
	p.BEPrice = be
	e.metrics.ProtectionAction("breakeven")
	e.logger.InfoContext(ctx, "breakeven locked",
		slog.String("symbol", p.Symbol),
		slog.Float64("be_price", be),
		slog.Float64("price", price),
	)
	e.emit(ctx, domain.Event{
		Name:   domain.EventBreakeven,
		Symbol: p.Symbol,
		Detail: map[string]any{"be_price": be, "price": price, "mfe": p.MFE},
	})
	return true
}

// armLocked arms trailing: breakeven first if not yet locked, then the
// exchange-native trailing stop.
func (e *Engine) armLocked(ctx context.Context, p *domain.Position, price float64) {
	if !p.BELocked {
		e.lockBreakevenLocked(ctx, p, price)
	}
	dist := TrailDistance(*p, e.cfg)
	if !e.exec.SetNativeTrailingStop(ctx, p.Symbol, p.Direction, dist, 0) {
		return
	}
	p.TrailingActive = true
	e.metrics.ProtectionAction("trailing_armed")
	e.logger.InfoContext(ctx, "trailing armed",
		slog.String("symbol", p.Symbol),
		slog.Float64("distance", dist),
		slog.Float64("price", price),
		slog.Bool("be_locked", p.BELocked),
	)
	e.emit(ctx, domain.Event{
		Name:   domain.EventTrailingArmed,
		Symbol: p.Symbol,
		Detail: map[string]any{"distance": dist, "price": price},
	})
}

// closeLocked closes the position and returns ledger.ErrRemove on success.
func (e *Engine) closeLocked(ctx context.Context, p *domain.Position, price float64, reason domain.CloseReason) error {
	if !e.exec.ClosePosition(ctx, p.Symbol, p.Direction, p.Qty) {
		return fmt.Errorf("%w: %s %s", errCloseFailed, p.Symbol, reason)
	}
	e.exec.CancelAll(ctx, p.Symbol, domain.FilterAll)

	pnl := p.PnL(price)
	held := e.now().Sub(p.EntryTime)
	e.metrics.Close(string(reason))
	e.logger.InfoContext(ctx, "position closed",
		slog.String("symbol", p.Symbol),
		slog.String("reason", string(reason)),
		slog.Float64("entry", p.EntryPrice),
		slog.Float64("exit", price),
		slog.Float64("pnl", pnl),
		slog.Float64("mfe", p.MFE),
		slog.Float64("mae", p.MAE),
		slog.Duration("held", held),
	)
	e.emit(ctx, domain.Event{
		Name:   domain.EventClosed,
		Symbol: p.Symbol,
		Detail: map[string]any{
			"reason":       string(reason),
			"direction":    string(p.Direction),
			"strategy":     p.Strategy,
			"entry":        p.EntryPrice,
			"exit":         price,
			"qty":          p.Qty,
			"pnl":          pnl,
			"roi":          p.ROI(price, e.cfg.Leverage),
			"mfe":          p.MFE,
			"mae":          p.MAE,
			"held_seconds": held.Seconds(),
		},
		Message: fmt.Sprintf("%s %s closed (%s) at %.6g, PnL %.2f", p.Symbol, p.Direction, reason, price, pnl),
	})
	e.afterClose(p.Symbol)
	return ledger.ErrRemove
}

// purgeLocked drops a position the exchange already closed.
func (e *Engine) purgeLocked(ctx context.Context, p *domain.Position, reason domain.CloseReason) error {
	e.exec.CancelAll(ctx, p.Symbol, domain.FilterAll)
	e.metrics.Close(string(reason))
	e.logger.InfoContext(ctx, "position purged",
		slog.String("symbol", p.Symbol),
		slog.String("reason", string(reason)),
		slog.Float64("qty", p.Qty),
	)
	e.emit(ctx, domain.Event{
		Name:    domain.EventPurged,
		Symbol:  p.Symbol,
		Detail:  map[string]any{"reason": string(reason), "qty": p.Qty, "entry": p.EntryPrice},
		Message: fmt.Sprintf("%s %s closed on exchange", p.Symbol, p.Direction),
	})
	e.afterClose(p.Symbol)
	return ledger.ErrRemove
}

func (e *Engine) setFloor(p *domain.Position, plan FloorPlan, now time.Time) {
	p.FloorActive = true
	p.FloorROI = plan.FloorROI
	p.FloorPrice = plan.Stop
	p.FloorUpdatedAt = now
}

func (e *Engine) afterClose(symbol string) {
	e.metrics.SetOpenPositions(e.ledger.Len() - 1)
	if e.onClose != nil {
		e.onClose(symbol)
	}
}

func (e *Engine) emit(ctx context.Context, ev domain.Event) {
	if e.sink == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = e.now()
	}
	e.sink.Emit(ctx, ev)
}
