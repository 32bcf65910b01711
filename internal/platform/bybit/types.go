package bybit

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/adamalfredo/bybit-trading-bot-sub000/internal/domain"
)

// --------------------------------------------------------------------------
// Bybit v5 DTOs. The exchange encodes every number as a string.
// --------------------------------------------------------------------------

type instrumentInfo struct {
	Symbol         string `json:"symbol"`
	Status         string `json:"status"`
	QuoteCoin      string `json:"quoteCoin"`
	ContractType   string `json:"contractType"`
	LeverageFilter struct {
		MaxLeverage string `json:"maxLeverage"`
	} `json:"leverageFilter"`
	PriceFilter struct {
		TickSize string `json:"tickSize"`
	} `json:"priceFilter"`
	LotSizeFilter struct {
		MaxOrderQty      string `json:"maxOrderQty"`
		MinOrderQty      string `json:"minOrderQty"`
		QtyStep          string `json:"qtyStep"`
		MinNotionalValue string `json:"minNotionalValue"`
	} `json:"lotSizeFilter"`
}

type instrumentsResult struct {
	Category       string           `json:"category"`
	List           []instrumentInfo `json:"list"`
	NextPageCursor string           `json:"nextPageCursor"`
}

func (i instrumentInfo) toDomain(now time.Time) domain.Instrument {
	return domain.Instrument{
		Symbol:      i.Symbol,
		Status:      i.Status,
		QtyStep:     parseDecimal(i.LotSizeFilter.QtyStep),
		MinOrderQty: parseDecimal(i.LotSizeFilter.MinOrderQty),
		MaxOrderQty: parseDecimal(i.LotSizeFilter.MaxOrderQty),
		MinNotional: parseDecimal(i.LotSizeFilter.MinNotionalValue),
		TickSize:    parseDecimal(i.PriceFilter.TickSize),
		MaxLeverage: parseDecimal(i.LeverageFilter.MaxLeverage),
		FetchedAt:   now,
	}
}

type tickerInfo struct {
	Symbol       string `json:"symbol"`
	LastPrice    string `json:"lastPrice"`
	MarkPrice    string `json:"markPrice"`
	Price24hPcnt string `json:"price24hPcnt"`
	Turnover24h  string `json:"turnover24h"`
	FundingRate  string `json:"fundingRate"`
}

type tickersResult struct {
	Category string       `json:"category"`
	List     []tickerInfo `json:"list"`
}

func (t tickerInfo) toDomain() domain.Ticker {
	return domain.Ticker{
		Symbol:       t.Symbol,
		LastPrice:    parseFloat(t.LastPrice),
		MarkPrice:    parseFloat(t.MarkPrice),
		Turnover24h:  parseFloat(t.Turnover24h),
		Price24hPcnt: parseFloat(t.Price24hPcnt),
		Funding:      parseFloat(t.FundingRate),
	}
}

type klineResult struct {
	Symbol string     `json:"symbol"`
	List   [][]string `json:"list"`
}

type positionInfo struct {
	Symbol     string `json:"symbol"`
	Side       string `json:"side"`
	Size       string `json:"size"`
	AvgPrice   string `json:"avgPrice"`
	MarkPrice  string `json:"markPrice"`
	StopLoss   string `json:"stopLoss"`
	TakeProfit string `json:"takeProfit"`
	Leverage   string `json:"leverage"`
}

type positionsResult struct {
	List           []positionInfo `json:"list"`
	NextPageCursor string         `json:"nextPageCursor"`
}

func (p positionInfo) toDomain() domain.ExchangePosition {
	return domain.ExchangePosition{
		Symbol:     p.Symbol,
		Side:       domain.Side(p.Side),
		Size:       parseFloat(p.Size),
		AvgPrice:   parseFloat(p.AvgPrice),
		MarkPrice:  parseFloat(p.MarkPrice),
		StopLoss:   parseFloat(p.StopLoss),
		TakeProfit: parseFloat(p.TakeProfit),
		Leverage:   parseFloat(p.Leverage),
	}
}

type walletResult struct {
	List []struct {
		AccountType           string `json:"accountType"`
		TotalEquity           string `json:"totalEquity"`
		TotalWalletBalance    string `json:"totalWalletBalance"`
		TotalAvailableBalance string `json:"totalAvailableBalance"`
	} `json:"list"`
}

// OrderRequest is the body of /v5/order/create.
type OrderRequest struct {
	Category         string `json:"category"`
	Symbol           string `json:"symbol"`
	Side             string `json:"side"`
	OrderType        string `json:"orderType"`
	Qty              string `json:"qty"`
	Price            string `json:"price,omitempty"`
	TimeInForce      string `json:"timeInForce,omitempty"`
	ReduceOnly       bool   `json:"reduceOnly,omitempty"`
	CloseOnTrigger   bool   `json:"closeOnTrigger,omitempty"`
	OrderLinkID      string `json:"orderLinkId,omitempty"`
	TriggerPrice     string `json:"triggerPrice,omitempty"`
	TriggerDirection int    `json:"triggerDirection,omitempty"`
	TriggerBy        string `json:"triggerBy,omitempty"`
	PositionIdx      int    `json:"positionIdx"`
}

// OrderAck is the result of /v5/order/create.
type OrderAck struct {
	OrderID     string `json:"orderId"`
	OrderLinkID string `json:"orderLinkId"`
}

// TradingStopRequest is the body of /v5/position/trading-stop.
type TradingStopRequest struct {
	Category     string `json:"category"`
	Symbol       string `json:"symbol"`
	TPSLMode     string `json:"tpslMode"`
	PositionIdx  int    `json:"positionIdx"`
	StopLoss     string `json:"stopLoss,omitempty"`
	TakeProfit   string `json:"takeProfit,omitempty"`
	TrailingStop string `json:"trailingStop,omitempty"`
	ActivePrice  string `json:"activePrice,omitempty"`
	SLTriggerBy  string `json:"slTriggerBy,omitempty"`
}

type cancelAllRequest struct {
	Category    string `json:"category"`
	Symbol      string `json:"symbol"`
	OrderFilter string `json:"orderFilter,omitempty"`
}

type setLeverageRequest struct {
	Category     string `json:"category"`
	Symbol       string `json:"symbol"`
	BuyLeverage  string `json:"buyLeverage"`
	SellLeverage string `json:"sellLeverage"`
}

// --------------------------------------------------------------------------
// helpers
// --------------------------------------------------------------------------

func parseFloat(s string) float64 {
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

func parseDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
