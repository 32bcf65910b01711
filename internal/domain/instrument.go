package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Instrument is the exchange trading metadata for one symbol. Step and tick
// values are kept as exact decimals so alignment never suffers float drift.
type Instrument struct {
	Symbol      string          `json:"symbol"`
	Status      string          `json:"status"`
	QtyStep     decimal.Decimal `json:"qty_step"`
	MinOrderQty decimal.Decimal `json:"min_order_qty"`
	MaxOrderQty decimal.Decimal `json:"max_order_qty"`
	MinNotional decimal.Decimal `json:"min_notional"`
	TickSize    decimal.Decimal `json:"tick_size"`
	MaxLeverage decimal.Decimal `json:"max_leverage"`
	FetchedAt   time.Time       `json:"fetched_at"`
}

// Tradable reports whether the exchange lists the instrument as trading.
func (i Instrument) Tradable() bool {
	return i.Status == "" || i.Status == "Trading"
}

// Ticker is a 24h market summary for one symbol.
type Ticker struct {
	Symbol       string
	LastPrice    float64
	MarkPrice    float64
	Turnover24h  float64
	Price24hPcnt float64 // fraction, e.g. 0.05 for +5%
	Funding      float64
}

// Candle is one OHLCV bar.
type Candle struct {
	Start  time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// ExchangePosition is the exchange's own view of an open position.
type ExchangePosition struct {
	Symbol     string
	Side       Side
	Size       float64
	AvgPrice   float64
	MarkPrice  float64
	StopLoss   float64
	TakeProfit float64
	Leverage   float64
}

// Direction maps the exchange side to a Direction.
func (p ExchangePosition) Direction() Direction {
	if p.Side == SideSell {
		return Short
	}
	return Long
}

// Balance is the account's unified wallet summary in the settlement coin.
type Balance struct {
	Equity    float64
	Available float64
	Wallet    float64
}
