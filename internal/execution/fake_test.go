package execution

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/adamalfredo/bybit-trading-bot-sub000/internal/domain"
	"github.com/adamalfredo/bybit-trading-bot-sub000/internal/platform/bybit"
)

// fakeExchange records every call and answers from scripted results.
type fakeExchange struct {
	mu sync.Mutex

	// instruments are returned in order by successive Instrument calls; the
	// last one repeats.
	instruments []domain.Instrument
	instCalls   int

	price   float64
	balance domain.Balance

	// orderErrs are returned in order by successive CreateOrder calls; once
	// exhausted CreateOrder succeeds.
	orderErrs []error
	orders    []bybit.OrderRequest

	stopErr      error
	tradingStops []bybit.TradingStopRequest
	cancels      []domain.OrderFilter
	leverage     map[string]float64
}

func (f *fakeExchange) Instrument(_ context.Context, symbol string) (domain.Instrument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.instruments) == 0 {
		return domain.Instrument{}, domain.ErrNotFound
	}
	i := f.instCalls
	if i >= len(f.instruments) {
		i = len(f.instruments) - 1
	}
	f.instCalls++
	inst := f.instruments[i]
	inst.Symbol = symbol
	return inst, nil
}

func (f *fakeExchange) LastPrice(context.Context, string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.price <= 0 {
		return 0, domain.ErrNoData
	}
	return f.price, nil
}

func (f *fakeExchange) WalletBalance(context.Context) (domain.Balance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balance, nil
}

func (f *fakeExchange) CreateOrder(_ context.Context, req bybit.OrderRequest) (bybit.OrderAck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders = append(f.orders, req)
	if n := len(f.orders); n <= len(f.orderErrs) && f.orderErrs[n-1] != nil {
		return bybit.OrderAck{}, f.orderErrs[n-1]
	}
	return bybit.OrderAck{OrderID: "oid", OrderLinkID: req.OrderLinkID}, nil
}

func (f *fakeExchange) CancelAll(_ context.Context, _ string, filter domain.OrderFilter) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels = append(f.cancels, filter)
	return nil
}

func (f *fakeExchange) SetTradingStop(_ context.Context, req bybit.TradingStopRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tradingStops = append(f.tradingStops, req)
	return f.stopErr
}

func (f *fakeExchange) SetLeverage(_ context.Context, symbol string, leverage float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.leverage == nil {
		f.leverage = make(map[string]float64)
	}
	f.leverage[symbol] = leverage
	return nil
}

func (f *fakeExchange) orderQtys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.orders))
	for i, o := range f.orders {
		out[i] = o.Qty
	}
	return out
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func inst(step, minQty, minNotional, tick string) domain.Instrument {
	return domain.Instrument{
		Status:      "Trading",
		QtyStep:     dec(step),
		MinOrderQty: dec(minQty),
		MinNotional: dec(minNotional),
		TickSize:    dec(tick),
	}
}

func apiErr(code int, msg string) error {
	return &bybit.APIError{Path: "/v5/order/create", Code: code, Message: msg}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestExecutor(ex *fakeExchange) *Executor {
	logger := discardLogger()
	return NewExecutor(ex, NewInstruments(ex, nil, logger), nil, Config{
		Leverage:          5,
		MarginUseFraction: 0.9,
		Policy:            DefaultRetryPolicy(),
	}, nil, logger)
}
