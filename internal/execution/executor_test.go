package execution

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adamalfredo/bybit-trading-bot-sub000/internal/cache/memory"
	"github.com/adamalfredo/bybit-trading-bot-sub000/internal/domain"
	"github.com/adamalfredo/bybit-trading-bot-sub000/internal/platform/bybit"
)

func TestOpenPosition(t *testing.T) {
	t.Parallel()

	base := inst("0.001", "0.001", "5", "0.001")
	transport := &bybit.TransportError{Path: "/v5/order/create", Err: errors.New("i/o timeout")}

	tests := []struct {
		name        string
		instruments []domain.Instrument
		orderErrs   []error
		notional    float64
		wantOK      bool
		wantQty     float64
		wantOrders  []string
		wantFetches int
	}{
		{
			name:        "floors to step and never rounds up",
			instruments: []domain.Instrument{base},
			notional:    50,
			wantOK:      true,
			wantQty:     1.821,
			wantOrders:  []string{"1.821"},
			wantFetches: 1,
		},
		{
			name:        "precision reject three times opens nothing",
			instruments: []domain.Instrument{base},
			orderErrs: []error{
				apiErr(bybit.CodeQtyPrecision, "Qty invalid"),
				apiErr(bybit.CodeQtyPrecision, "Qty invalid"),
				apiErr(bybit.CodeQtyPrecision, "Qty invalid"),
			},
			notional:    50,
			wantOK:      false,
			wantOrders:  []string{"1.821", "1.821", "1.821"},
			wantFetches: 3,
		},
		{
			name:        "precision reject refetches the step",
			instruments: []domain.Instrument{base, inst("0.01", "0.01", "5", "0.001")},
			orderErrs:   []error{apiErr(bybit.CodeQtyInvalid, "invalid qty")},
			notional:    50,
			wantOK:      true,
			wantQty:     1.82,
			wantOrders:  []string{"1.821", "1.82"},
			wantFetches: 2,
		},
		{
			name:        "param error about qty is a precision reject",
			instruments: []domain.Instrument{base, inst("0.1", "0.1", "5", "0.001")},
			orderErrs:   []error{apiErr(bybit.CodeParamError, "Qty exceeds precision")},
			notional:    50,
			wantOK:      true,
			wantQty:     1.8,
			wantOrders:  []string{"1.821", "1.8"},
			wantFetches: 2,
		},
		{
			name:        "other param error abandons",
			instruments: []domain.Instrument{base},
			orderErrs:   []error{apiErr(bybit.CodeParamError, "side invalid")},
			notional:    50,
			wantOK:      false,
			wantOrders:  []string{"1.821"},
			wantFetches: 1,
		},
		{
			name:        "insufficient balance shrinks",
			instruments: []domain.Instrument{base},
			orderErrs:   []error{apiErr(bybit.CodeInsufficientBalance, "insufficient")},
			notional:    50,
			wantOK:      true,
			wantQty:     1.547,
			wantOrders:  []string{"1.821", "1.547"},
			wantFetches: 1,
		},
		{
			name:        "below min notional bumps to refreshed minimum",
			instruments: []domain.Instrument{base, inst("0.001", "0.001", "100", "0.001")},
			orderErrs:   []error{apiErr(bybit.CodeBelowMinNotional, "order value too low")},
			notional:    50,
			wantOK:      true,
			wantQty:     3.643,
			wantOrders:  []string{"1.821", "3.643"},
			wantFetches: 2,
		},
		{
			name:        "transport failure resends",
			instruments: []domain.Instrument{base},
			orderErrs:   []error{transport},
			notional:    50,
			wantOK:      true,
			wantQty:     1.821,
			wantOrders:  []string{"1.821", "1.821"},
			wantFetches: 1,
		},
		{
			name:        "unknown code abandons after one attempt",
			instruments: []domain.Instrument{base},
			orderErrs:   []error{apiErr(110017, "reduce-only rule not satisfied")},
			notional:    50,
			wantOK:      false,
			wantOrders:  []string{"1.821"},
			wantFetches: 1,
		},
		{
			name:        "below min notional is never submitted",
			instruments: []domain.Instrument{base},
			notional:    4,
			wantOK:      false,
			wantOrders:  []string{},
			wantFetches: 1,
		},
		{
			name:        "minimum-sized notional keeps its step after float round trip",
			instruments: []domain.Instrument{base},
			notional:    0.183*27.456 - 1e-12,
			wantOK:      true,
			wantQty:     0.183,
			wantOrders:  []string{"0.183"},
			wantFetches: 1,
		},
		{
			name:        "notional that floors below minimum is never submitted",
			instruments: []domain.Instrument{base},
			notional:    5.01,
			wantOK:      false,
			wantOrders:  []string{},
			wantFetches: 1,
		},
		{
			name:        "shrink below minimum abandons",
			instruments: []domain.Instrument{inst("1", "1", "0", "0.001")},
			orderErrs:   []error{apiErr(bybit.CodeInsufficientMargin, "margin")},
			notional:    30,
			wantOK:      false,
			wantOrders:  []string{"1"},
			wantFetches: 1,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ex := &fakeExchange{
				instruments: tt.instruments,
				price:       27.456,
				balance:     domain.Balance{Available: 1000, Equity: 1000},
				orderErrs:   tt.orderErrs,
			}
			e := newTestExecutor(ex)

			qty, ok := e.OpenPosition(context.Background(), "LINKUSDT", domain.Long, tt.notional)
			assert.Equal(t, tt.wantOK, ok)
			assert.InDelta(t, tt.wantQty, qty, 1e-12)
			assert.Equal(t, tt.wantOrders, ex.orderQtys())
			assert.Equal(t, tt.wantFetches, ex.instCalls)
			for _, o := range ex.orders {
				assert.Equal(t, "Buy", o.Side)
				assert.Equal(t, "Market", o.OrderType)
				assert.False(t, o.ReduceOnly)
				assert.NotEmpty(t, o.OrderLinkID)
			}
		})
	}
}

func TestOpenPositionCappedByMarginCeiling(t *testing.T) {
	t.Parallel()
	ex := &fakeExchange{
		instruments: []domain.Instrument{inst("0.001", "0.001", "5", "0.001")},
		price:       27.456,
		balance:     domain.Balance{Available: 9},
	}
	logger := discardLogger()
	e := NewExecutor(ex, NewInstruments(ex, nil, logger), nil, Config{
		Leverage:          5,
		MarginUseFraction: 0.5,
	}, nil, logger)

	// ceiling = 9 * 5 * 0.5 = 22.5
	qty, ok := e.OpenPosition(context.Background(), "LINKUSDT", domain.Short, 50)
	require.True(t, ok)
	assert.InDelta(t, 0.819, qty, 1e-12)
	require.Len(t, ex.orders, 1)
	assert.Equal(t, "Sell", ex.orders[0].Side)
	assert.LessOrEqual(t, qty*27.456, 22.5)
}

func TestOpenPositionRejectsNonTradable(t *testing.T) {
	t.Parallel()
	halted := inst("0.001", "0.001", "5", "0.001")
	halted.Status = "Settling"
	ex := &fakeExchange{
		instruments: []domain.Instrument{halted},
		price:       27.456,
		balance:     domain.Balance{Available: 1000},
	}
	_, ok := newTestExecutor(ex).OpenPosition(context.Background(), "LINKUSDT", domain.Long, 50)
	assert.False(t, ok)
	assert.Empty(t, ex.orders)
}

func TestClosePosition(t *testing.T) {
	t.Parallel()

	t.Run("reduce-only on opposing side", func(t *testing.T) {
		t.Parallel()
		ex := &fakeExchange{instruments: []domain.Instrument{inst("0.001", "0.001", "5", "0.01")}}
		ok := newTestExecutor(ex).ClosePosition(context.Background(), "LINKUSDT", domain.Long, 1.8219)
		require.True(t, ok)
		require.Len(t, ex.orders, 1)
		assert.Equal(t, "1.821", ex.orders[0].Qty)
		assert.Equal(t, "Sell", ex.orders[0].Side)
		assert.True(t, ex.orders[0].ReduceOnly)
	})

	t.Run("precision reject retries with refreshed step", func(t *testing.T) {
		t.Parallel()
		ex := &fakeExchange{
			instruments: []domain.Instrument{inst("0.001", "0.001", "5", "0.01"), inst("0.01", "0.01", "5", "0.01")},
			orderErrs:   []error{apiErr(bybit.CodeQtyPrecision, "qty precision")},
		}
		ok := newTestExecutor(ex).ClosePosition(context.Background(), "LINKUSDT", domain.Short, 1.821)
		require.True(t, ok)
		assert.Equal(t, []string{"1.821", "1.82"}, ex.orderQtys())
		assert.Equal(t, "Buy", ex.orders[1].Side)
	})

	t.Run("below minimum is skipped", func(t *testing.T) {
		t.Parallel()
		ex := &fakeExchange{instruments: []domain.Instrument{inst("0.01", "0.01", "5", "0.01")}}
		ok := newTestExecutor(ex).ClosePosition(context.Background(), "LINKUSDT", domain.Long, 0.005)
		assert.False(t, ok)
		assert.Empty(t, ex.orders)
	})
}

func TestPlaceConditionalStop(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		dir         domain.Direction
		trigger     float64
		wantTrigger string
		wantDir     int
		wantSide    string
	}{
		{name: "long stop rounds up toward market", dir: domain.Long, trigger: 97.0004, wantTrigger: "97.01", wantDir: 2, wantSide: "Sell"},
		{name: "short stop rounds down toward market", dir: domain.Short, trigger: 103.006, wantTrigger: "103", wantDir: 1, wantSide: "Buy"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ex := &fakeExchange{instruments: []domain.Instrument{inst("0.001", "0.001", "5", "0.01")}}
			ok := newTestExecutor(ex).PlaceConditionalStop(context.Background(), "SOLUSDT", tt.dir, tt.trigger, 2, domain.TriggerMark)
			require.True(t, ok)
			require.Len(t, ex.orders, 1)
			o := ex.orders[0]
			assert.Equal(t, tt.wantTrigger, o.TriggerPrice)
			assert.Equal(t, tt.wantDir, o.TriggerDirection)
			assert.Equal(t, tt.wantSide, o.Side)
			assert.Equal(t, "MarkPrice", o.TriggerBy)
			assert.True(t, o.ReduceOnly)
			assert.True(t, o.CloseOnTrigger)
		})
	}
}

func TestPlaceConditionalStopFailureIsReported(t *testing.T) {
	t.Parallel()
	ex := &fakeExchange{
		instruments: []domain.Instrument{inst("0.001", "0.001", "5", "0.01")},
		orderErrs:   []error{apiErr(110017, "no position")},
	}
	ok := newTestExecutor(ex).PlaceConditionalStop(context.Background(), "SOLUSDT", domain.Long, 97, 2, domain.TriggerMark)
	assert.False(t, ok)
}

func TestPlaceTakeProfit(t *testing.T) {
	t.Parallel()

	t.Run("post-only reduce-only limit", func(t *testing.T) {
		t.Parallel()
		ex := &fakeExchange{instruments: []domain.Instrument{inst("0.001", "0.001", "5", "0.01")}}
		ok := newTestExecutor(ex).PlaceTakeProfit(context.Background(), "SOLUSDT", domain.Long, 110.016, 2)
		require.True(t, ok)
		require.Len(t, ex.orders, 1)
		o := ex.orders[0]
		assert.Equal(t, "Limit", o.OrderType)
		assert.Equal(t, "PostOnly", o.TimeInForce)
		assert.Equal(t, "110.01", o.Price)
		assert.Equal(t, "Sell", o.Side)
		assert.True(t, o.ReduceOnly)
	})

	t.Run("below minimum quantity is skipped", func(t *testing.T) {
		t.Parallel()
		ex := &fakeExchange{instruments: []domain.Instrument{inst("0.1", "1", "5", "0.01")}}
		ok := newTestExecutor(ex).PlaceTakeProfit(context.Background(), "SOLUSDT", domain.Long, 110, 0.5)
		assert.False(t, ok)
		assert.Empty(t, ex.orders)
	})
}

func TestTradingStopOperations(t *testing.T) {
	t.Parallel()

	t.Run("native trailing stop aligns distance up", func(t *testing.T) {
		t.Parallel()
		ex := &fakeExchange{instruments: []domain.Instrument{inst("0.001", "0.001", "5", "0.01")}}
		ok := newTestExecutor(ex).SetNativeTrailingStop(context.Background(), "SOLUSDT", domain.Long, 1.234, 0)
		require.True(t, ok)
		require.Len(t, ex.tradingStops, 1)
		assert.Equal(t, "1.24", ex.tradingStops[0].TrailingStop)
		assert.Empty(t, ex.tradingStops[0].ActivePrice)
	})

	t.Run("position stop loss", func(t *testing.T) {
		t.Parallel()
		ex := &fakeExchange{instruments: []domain.Instrument{inst("0.001", "0.001", "5", "0.01")}}
		ok := newTestExecutor(ex).SetPositionStopLoss(context.Background(), "SOLUSDT", domain.Short, 103.006)
		require.True(t, ok)
		assert.Equal(t, "103", ex.tradingStops[0].StopLoss)
		assert.Equal(t, "MarkPrice", ex.tradingStops[0].SLTriggerBy)
	})

	t.Run("exchange failure is false", func(t *testing.T) {
		t.Parallel()
		ex := &fakeExchange{
			instruments: []domain.Instrument{inst("0.001", "0.001", "5", "0.01")},
			stopErr:     apiErr(10001, "stop loss invalid"),
		}
		assert.False(t, newTestExecutor(ex).SetPositionStopLoss(context.Background(), "SOLUSDT", domain.Long, 97))
	})
}

func TestLastPricePrefersFreshStream(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ex := &fakeExchange{price: 27.456}
	prices := memory.NewPriceCache()
	logger := discardLogger()
	e := NewExecutor(ex, NewInstruments(ex, nil, logger), prices, Config{PriceMaxAge: 5 * time.Second}, nil, logger)

	require.NoError(t, prices.SetPrice(ctx, "FRESHUSDT", 30, time.Now()))
	require.NoError(t, prices.SetPrice(ctx, "STALEUSDT", 30, time.Now().Add(-time.Hour)))

	p, err := e.LastPrice(ctx, "FRESHUSDT")
	require.NoError(t, err)
	assert.Equal(t, 30.0, p)

	p, err = e.LastPrice(ctx, "STALEUSDT")
	require.NoError(t, err)
	assert.Equal(t, 27.456, p)

	ex.price = 0
	_, err = e.LastPrice(ctx, "NONEUSDT")
	assert.ErrorIs(t, err, domain.ErrNoData)
}

func TestEnsureLeverageOnce(t *testing.T) {
	t.Parallel()
	ex := &fakeExchange{}
	e := newTestExecutor(ex)

	assert.True(t, e.EnsureLeverage(context.Background(), "BTCUSDT"))
	ex.leverage = nil
	assert.True(t, e.EnsureLeverage(context.Background(), "BTCUSDT"))
	assert.Nil(t, ex.leverage, "second call must not reach the exchange")
}

func TestCancelAllSwallowsErrors(t *testing.T) {
	t.Parallel()
	ex := &fakeExchange{}
	e := newTestExecutor(ex)
	assert.NotPanics(t, func() {
		e.CancelAll(context.Background(), "BTCUSDT", domain.FilterStopOrder)
	})
	assert.Equal(t, []domain.OrderFilter{domain.FilterStopOrder}, ex.cancels)
}
