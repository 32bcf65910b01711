// Package execution places and protects orders on the exchange. Every
// quantity and price it sends is aligned to the instrument's step and tick
// grid, and rejected orders are remedied through a declarative RetryPolicy.
//
// Operations report success as a bool and never return exchange errors to
// the caller: a failed protective order means "not yet protected" and is
// retried on the next tick by whoever asked for it.
package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/adamalfredo/bybit-trading-bot-sub000/internal/domain"
	"github.com/adamalfredo/bybit-trading-bot-sub000/internal/metrics"
	"github.com/adamalfredo/bybit-trading-bot-sub000/internal/numeric"
	"github.com/adamalfredo/bybit-trading-bot-sub000/internal/platform/bybit"
)

// Exchange is the subset of the Bybit client the execution layer drives.
type Exchange interface {
	InstrumentSource
	LastPrice(ctx context.Context, symbol string) (float64, error)
	WalletBalance(ctx context.Context) (domain.Balance, error)
	CreateOrder(ctx context.Context, req bybit.OrderRequest) (bybit.OrderAck, error)
	CancelAll(ctx context.Context, symbol string, filter domain.OrderFilter) error
	SetTradingStop(ctx context.Context, req bybit.TradingStopRequest) error
	SetLeverage(ctx context.Context, symbol string, leverage float64) error
}

var _ Exchange = (*bybit.Client)(nil)

// Config controls sizing ceilings and diagnostics.
type Config struct {
	Leverage          float64
	MarginUseFraction float64
	// PriceMaxAge is how old a cached streamed price may be before LastPrice
	// falls back to REST.
	PriceMaxAge time.Duration
	// LogInterval rate-limits repeated failure logs per symbol and operation.
	LogInterval time.Duration
	Policy      RetryPolicy
}

// Order kinds used in logs and metrics.
const (
	kindEntry      = "entry"
	kindClose      = "close"
	kindStop       = "stop"
	kindTakeProfit = "take_profit"
)

// notionalTolerance absorbs float representation error in requested notionals.
var notionalTolerance = decimal.RequireFromString("1.000000001")

// Executor places orders through an Exchange.
type Executor struct {
	ex          Exchange
	instruments *Instruments
	prices      domain.PriceCache
	cfg         Config
	logThrottle *Throttle
	metrics     *metrics.Metrics
	logger      *slog.Logger
	newLinkID   func() string

	leverageMu  sync.Mutex
	leverageSet map[string]bool
}

// NewExecutor creates an Executor. prices and m may be nil.
func NewExecutor(
	ex Exchange,
	instruments *Instruments,
	prices domain.PriceCache,
	cfg Config,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Executor {
	if cfg.Policy.MaxAttempts == 0 {
		cfg.Policy = DefaultRetryPolicy()
	}
	if cfg.LogInterval <= 0 {
		cfg.LogInterval = time.Minute
	}
	if cfg.PriceMaxAge <= 0 {
		cfg.PriceMaxAge = 10 * time.Second
	}
	return &Executor{
		ex:          ex,
		instruments: instruments,
		prices:      prices,
		cfg:         cfg,
		logThrottle: NewThrottle(cfg.LogInterval),
		metrics:     m,
		logger:      logger.With(slog.String("component", "execution")),
		newLinkID:   uuid.NewString,
		leverageSet: make(map[string]bool),
	}
}

// Instruments exposes the instrument cache shared with sizing.
func (e *Executor) Instruments() *Instruments { return e.instruments }

// ---------------------------------------------------------------------------
// Market data
// ---------------------------------------------------------------------------

// LastPrice returns the streamed price when it is fresh, otherwise the REST
// last price. A missing price is domain.ErrNoData.
func (e *Executor) LastPrice(ctx context.Context, symbol string) (float64, error) {
	if e.prices != nil {
		price, ts, err := e.prices.GetPrice(ctx, symbol)
		if err == nil && price > 0 && time.Since(ts) <= e.cfg.PriceMaxAge {
			return price, nil
		}
	}
	price, err := e.ex.LastPrice(ctx, symbol)
	if err != nil {
		return 0, fmt.Errorf("execution: last price %s: %w", symbol, err)
	}
	return price, nil
}

// ---------------------------------------------------------------------------
// Entries and exits
// ---------------------------------------------------------------------------

// OpenPosition opens a position worth about notional in the settle coin with
// a market order. The quantity is floored to the step grid and capped by
// available × leverage × margin_use_fraction. It returns the submitted
// quantity, or ok=false when retries are exhausted or the quantity collapses.
func (e *Executor) OpenPosition(ctx context.Context, symbol string, dir domain.Direction, notional float64) (float64, bool) {
	log := e.logger.With(slog.String("symbol", symbol), slog.String("direction", string(dir)))

	if notional <= 0 {
		log.WarnContext(ctx, "entry rejected: non-positive notional", slog.Float64("notional", notional))
		return 0, false
	}

	price, err := e.LastPrice(ctx, symbol)
	if err != nil {
		e.warnThrottled(ctx, log, symbol+":entry:price", "entry skipped: no price", err)
		return 0, false
	}
	inst, err := e.instruments.Get(ctx, symbol)
	if err != nil {
		e.warnThrottled(ctx, log, symbol+":entry:instrument", "entry skipped: no instrument", err)
		return 0, false
	}
	if !inst.Tradable() {
		log.WarnContext(ctx, "entry skipped: instrument not trading", slog.String("status", inst.Status))
		return 0, false
	}
	bal, err := e.ex.WalletBalance(ctx)
	if err != nil {
		e.warnThrottled(ctx, log, "entry:balance", "entry skipped: no balance", err)
		return 0, false
	}

	dPrice := numeric.FromFloat(price)
	ceiling := numeric.FromFloat(bal.Available * e.cfg.Leverage * e.cfg.MarginUseFraction)
	target := numeric.FromFloat(notional)
	if target.GreaterThan(ceiling) {
		log.InfoContext(ctx, "entry notional capped by margin ceiling",
			slog.Float64("requested", notional),
			slog.Float64("ceiling", ceiling.InexactFloat64()),
		)
		target = ceiling
	}

	qty := numeric.QtyForNotional(target, dPrice, inst.QtyStep)
	// A notional sized to the instrument minimum can arrive a hair short
	// after the float round trip; flooring would then land one step below.
	minQty := numeric.MinNotionalQuantity(inst.MinNotional, inst.MinOrderQty, dPrice, inst.QtyStep)
	if qty.LessThan(minQty) && minQty.Mul(dPrice).LessThanOrEqual(target.Mul(notionalTolerance)) {
		qty = minQty
	}
	if inst.MaxOrderQty.IsPositive() && qty.GreaterThan(inst.MaxOrderQty) {
		qty = numeric.FloorToStep(inst.MaxOrderQty, inst.QtyStep)
	}

	filled, ok := e.submitWithRetry(ctx, log, &attempt{
		symbol:        symbol,
		kind:          kindEntry,
		inst:          inst,
		price:         dPrice,
		qty:           qty,
		ceiling:       ceiling,
		checkNotional: true,
		build: func(q decimal.Decimal) bybit.OrderRequest {
			return bybit.OrderRequest{
				Symbol:    symbol,
				Side:      string(dir.EntrySide()),
				OrderType: "Market",
				Qty:       numeric.Format(q),
			}
		},
	})
	if !ok {
		return 0, false
	}
	log.InfoContext(ctx, "position opened",
		slog.Float64("qty", filled.InexactFloat64()),
		slog.Float64("price", price),
		slog.Float64("notional", filled.Mul(dPrice).InexactFloat64()),
	)
	return filled.InexactFloat64(), true
}

// ClosePosition submits a reduce-only market order on the opposing side for
// qty. Precision rejections refresh instrument metadata before the retry.
func (e *Executor) ClosePosition(ctx context.Context, symbol string, dir domain.Direction, qty float64) bool {
	log := e.logger.With(slog.String("symbol", symbol), slog.String("direction", string(dir)))

	inst, err := e.instruments.Get(ctx, symbol)
	if err != nil {
		e.warnThrottled(ctx, log, symbol+":close:instrument", "close skipped: no instrument", err)
		return false
	}
	q := numeric.FloorToStep(numeric.FromFloat(qty), inst.QtyStep)
	if !q.IsPositive() || q.LessThan(inst.MinOrderQty) {
		log.WarnContext(ctx, "close skipped: quantity below exchange minimum",
			slog.Float64("qty", qty),
			slog.String("min_qty", inst.MinOrderQty.String()),
		)
		return false
	}

	_, ok := e.submitWithRetry(ctx, log, &attempt{
		symbol: symbol,
		kind:   kindClose,
		inst:   inst,
		qty:    q,
		build: func(q decimal.Decimal) bybit.OrderRequest {
			return bybit.OrderRequest{
				Symbol:     symbol,
				Side:       string(dir.ExitSide()),
				OrderType:  "Market",
				Qty:        numeric.Format(q),
				ReduceOnly: true,
			}
		},
	})
	return ok
}

// ---------------------------------------------------------------------------
// Protective orders
// ---------------------------------------------------------------------------

// PlaceConditionalStop places a reduce-only stop-market order that fires
// when the trigger source crosses trigger against the position.
func (e *Executor) PlaceConditionalStop(ctx context.Context, symbol string, dir domain.Direction, trigger, qty float64, by domain.TriggerBy) bool {
	log := e.logger.With(slog.String("symbol", symbol), slog.String("direction", string(dir)))

	inst, err := e.instruments.Get(ctx, symbol)
	if err != nil {
		e.warnThrottled(ctx, log, symbol+":stop:instrument", "stop skipped: no instrument", err)
		return false
	}
	q := numeric.FloorToStep(numeric.FromFloat(qty), inst.QtyStep)
	if !q.IsPositive() || q.LessThan(inst.MinOrderQty) {
		e.warnThrottled(ctx, log, symbol+":stop:qty", "stop skipped: quantity below exchange minimum", domain.ErrInvalidQuantity)
		return false
	}

	// Rounding toward the market keeps the stop at least as tight as asked.
	triggerPx := numeric.AlignPrice(numeric.FromFloat(trigger), inst.TickSize, dir == domain.Long)
	if !triggerPx.IsPositive() {
		return false
	}
	// 1: rises to trigger, 2: falls to trigger.
	triggerDirection := 2
	if dir == domain.Short {
		triggerDirection = 1
	}
	if by == "" {
		by = domain.TriggerMark
	}

	_, ok := e.submitWithRetry(ctx, log, &attempt{
		symbol: symbol,
		kind:   kindStop,
		inst:   inst,
		qty:    q,
		build: func(q decimal.Decimal) bybit.OrderRequest {
			return bybit.OrderRequest{
				Symbol:           symbol,
				Side:             string(dir.ExitSide()),
				OrderType:        "Market",
				Qty:              numeric.Format(q),
				ReduceOnly:       true,
				CloseOnTrigger:   true,
				TriggerPrice:     numeric.Format(triggerPx),
				TriggerDirection: triggerDirection,
				TriggerBy:        string(by),
			}
		},
	})
	if ok {
		log.InfoContext(ctx, "conditional stop placed",
			slog.String("trigger", triggerPx.String()),
			slog.String("trigger_by", string(by)),
		)
	}
	return ok
}

// PlaceTakeProfit places a reduce-only post-only limit at price. It returns
// false without submitting when qty is below the exchange minimum.
func (e *Executor) PlaceTakeProfit(ctx context.Context, symbol string, dir domain.Direction, price, qty float64) bool {
	log := e.logger.With(slog.String("symbol", symbol), slog.String("direction", string(dir)))

	inst, err := e.instruments.Get(ctx, symbol)
	if err != nil {
		e.warnThrottled(ctx, log, symbol+":tp:instrument", "take profit skipped: no instrument", err)
		return false
	}
	q := numeric.FloorToStep(numeric.FromFloat(qty), inst.QtyStep)
	if !q.IsPositive() || q.LessThan(inst.MinOrderQty) {
		log.InfoContext(ctx, "take profit skipped: quantity below exchange minimum",
			slog.Float64("qty", qty),
			slog.String("min_qty", inst.MinOrderQty.String()),
		)
		return false
	}
	limitPx := numeric.AlignPrice(numeric.FromFloat(price), inst.TickSize, dir == domain.Short)
	if !limitPx.IsPositive() {
		return false
	}

	_, ok := e.submitWithRetry(ctx, log, &attempt{
		symbol: symbol,
		kind:   kindTakeProfit,
		inst:   inst,
		qty:    q,
		build: func(q decimal.Decimal) bybit.OrderRequest {
			return bybit.OrderRequest{
				Symbol:      symbol,
				Side:        string(dir.ExitSide()),
				OrderType:   "Limit",
				Qty:         numeric.Format(q),
				Price:       numeric.Format(limitPx),
				TimeInForce: "PostOnly",
				ReduceOnly:  true,
			}
		},
	})
	return ok
}

// SetNativeTrailingStop sets the exchange-side trailing stop distance on the
// position, activating once price reaches activePrice (zero: immediately).
func (e *Executor) SetNativeTrailingStop(ctx context.Context, symbol string, dir domain.Direction, distance, activePrice float64) bool {
	log := e.logger.With(slog.String("symbol", symbol))

	inst, err := e.instruments.Get(ctx, symbol)
	if err != nil {
		e.warnThrottled(ctx, log, symbol+":trailing:instrument", "trailing stop skipped: no instrument", err)
		return false
	}
	dist := numeric.AlignPrice(numeric.FromFloat(distance), inst.TickSize, true)
	if !dist.IsPositive() {
		return false
	}
	req := bybit.TradingStopRequest{
		Symbol:       symbol,
		TrailingStop: numeric.Format(dist),
	}
	if activePrice > 0 {
		req.ActivePrice = numeric.Format(numeric.AlignPrice(numeric.FromFloat(activePrice), inst.TickSize, dir == domain.Long))
	}

	if err := e.ex.SetTradingStop(ctx, req); err != nil {
		e.metrics.Order("trailing", false)
		e.warnThrottled(ctx, log, symbol+":trailing", "trailing stop failed", err)
		return false
	}
	e.metrics.Order("trailing", true)
	log.InfoContext(ctx, "native trailing stop set", slog.String("distance", dist.String()))
	return true
}

// SetPositionStopLoss sets the exchange-side position stop-loss, triggered
// by mark price.
func (e *Executor) SetPositionStopLoss(ctx context.Context, symbol string, dir domain.Direction, price float64) bool {
	log := e.logger.With(slog.String("symbol", symbol))

	inst, err := e.instruments.Get(ctx, symbol)
	if err != nil {
		e.warnThrottled(ctx, log, symbol+":sl:instrument", "position stop skipped: no instrument", err)
		return false
	}
	px := numeric.AlignPrice(numeric.FromFloat(price), inst.TickSize, dir == domain.Long)
	if !px.IsPositive() {
		return false
	}
	req := bybit.TradingStopRequest{
		Symbol:      symbol,
		StopLoss:    numeric.Format(px),
		SLTriggerBy: string(domain.TriggerMark),
	}
	if err := e.ex.SetTradingStop(ctx, req); err != nil {
		e.metrics.Order("position_stop", false)
		e.warnThrottled(ctx, log, symbol+":sl", "position stop failed", err)
		return false
	}
	e.metrics.Order("position_stop", true)
	return true
}

// CancelAll cancels open orders for symbol matching filter. Failures are
// logged and otherwise ignored.
func (e *Executor) CancelAll(ctx context.Context, symbol string, filter domain.OrderFilter) {
	if err := e.ex.CancelAll(ctx, symbol, filter); err != nil {
		e.warnThrottled(ctx, e.logger.With(slog.String("symbol", symbol)), symbol+":cancel", "cancel all failed", err)
	}
}

// EnsureLeverage sets leverage for symbol once per process. It returns false
// if the exchange refused.
func (e *Executor) EnsureLeverage(ctx context.Context, symbol string) bool {
	e.leverageMu.Lock()
	done := e.leverageSet[symbol]
	e.leverageMu.Unlock()
	if done {
		return true
	}

	if err := e.ex.SetLeverage(ctx, symbol, e.cfg.Leverage); err != nil {
		e.warnThrottled(ctx, e.logger.With(slog.String("symbol", symbol)), symbol+":leverage", "set leverage failed", err)
		return false
	}

	e.leverageMu.Lock()
	e.leverageSet[symbol] = true
	e.leverageMu.Unlock()
	return true
}

// ---------------------------------------------------------------------------
// Retry loop
// ---------------------------------------------------------------------------

type attempt struct {
	symbol string
	kind   string
	inst   domain.Instrument
	price  decimal.Decimal // reference price for notional checks; zero skips them
	qty    decimal.Decimal
	// ceiling caps the notional a bump may reach; zero means uncapped.
	ceiling       decimal.Decimal
	checkNotional bool
	build         func(qty decimal.Decimal) bybit.OrderRequest
}

// submitWithRetry submits a.build(qty) up to Policy.MaxAttempts times,
// applying the remedy the policy prescribes between attempts. It returns the
// quantity that was accepted.
func (e *Executor) submitWithRetry(ctx context.Context, log *slog.Logger, a *attempt) (decimal.Decimal, bool) {
	policy := e.cfg.Policy
	qty := a.qty

	for n := 1; n <= policy.attempts(); n++ {
		if reason := e.checkQty(a, qty); reason != "" {
			log.WarnContext(ctx, "order not submitted",
				slog.String("kind", a.kind),
				slog.String("reason", reason),
				slog.String("qty", qty.String()),
				slog.Int("attempt", n),
			)
			e.metrics.Order(a.kind, false)
			return decimal.Zero, false
		}

		req := a.build(qty)
		req.OrderLinkID = e.newLinkID()
		_, err := e.ex.CreateOrder(ctx, req)
		if err == nil {
			e.metrics.Order(a.kind, true)
			return qty, true
		}

		remedy := policy.Classify(err)
		e.metrics.Retry(remedy.String())
		if remedy == RemedyAbandon || n == policy.attempts() {
			e.metrics.Order(a.kind, false)
			e.warnThrottled(ctx, log.With(
				slog.String("kind", a.kind),
				slog.Int("attempt", n),
				slog.String("remedy", remedy.String()),
			), a.symbol+":"+a.kind+":abandon", "order abandoned", err)
			return decimal.Zero, false
		}

		log.DebugContext(ctx, "order rejected, retrying",
			slog.String("kind", a.kind),
			slog.Int("attempt", n),
			slog.String("remedy", remedy.String()),
			slog.String("error", err.Error()),
		)

		switch remedy {
		case RemedyRefreshStep:
			inst, ferr := e.instruments.Refresh(ctx, a.symbol)
			if ferr != nil {
				e.metrics.Order(a.kind, false)
				e.warnThrottled(ctx, log, a.symbol+":"+a.kind+":refresh", "instrument refresh failed", ferr)
				return decimal.Zero, false
			}
			a.inst = inst
			qty = numeric.FloorToStep(qty, inst.QtyStep)
		case RemedyBumpMinNotional:
			// The exchange disagrees with the cached minimum, so refetch it.
			if inst, ferr := e.instruments.Refresh(ctx, a.symbol); ferr == nil {
				a.inst = inst
			}
			bumped := numeric.MinNotionalQuantity(a.inst.MinNotional, a.inst.MinOrderQty, a.price, a.inst.QtyStep)
			if a.ceiling.IsPositive() && bumped.Mul(a.price).GreaterThan(a.ceiling) {
				e.metrics.Order(a.kind, false)
				log.WarnContext(ctx, "order abandoned: minimum notional exceeds margin ceiling",
					slog.String("kind", a.kind),
					slog.String("min_qty", bumped.String()),
				)
				return decimal.Zero, false
			}
			if bumped.GreaterThan(qty) {
				qty = bumped
			}
		case RemedyShrink:
			keep := decimal.NewFromFloat(1 - policy.ShrinkFraction)
			qty = numeric.FloorToStep(qty.Mul(keep), a.inst.QtyStep)
		case RemedyResend:
		}
	}
	return decimal.Zero, false
}

// checkQty returns a non-empty reason when qty must not be sent.
func (e *Executor) checkQty(a *attempt, qty decimal.Decimal) string {
	if !qty.IsPositive() {
		return "quantity collapsed to zero"
	}
	if qty.LessThan(a.inst.MinOrderQty) {
		return "quantity below minimum order quantity"
	}
	if a.checkNotional && a.price.IsPositive() && qty.Mul(a.price).LessThan(a.inst.MinNotional) {
		return "notional below instrument minimum"
	}
	return ""
}

// warnThrottled logs at WARN at most once per LogInterval for key, and at
// DEBUG otherwise.
func (e *Executor) warnThrottled(ctx context.Context, log *slog.Logger, key, msg string, err error) {
	level := slog.LevelDebug
	if e.logThrottle.Allow(key) {
		level = slog.LevelWarn
	}
	attrs := []slog.Attr{slog.String("error", err.Error())}
	if code, ok := bybit.Code(err); ok {
		attrs = append(attrs, slog.Int("ret_code", code))
	}
	if errors.Is(err, context.DeadlineExceeded) {
		attrs = append(attrs, slog.Bool("timeout", true))
	}
	log.LogAttrs(ctx, level, msg, attrs...)
}

// CleanupThrottles drops expired log-throttle entries.
func (e *Executor) CleanupThrottles() {
	e.logThrottle.Cleanup()
}
