package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/adamalfredo/bybit-trading-bot-sub000/internal/domain"
)

// CreateOrder submits an order. Category and position index are filled in.
func (c *Client) CreateOrder(ctx context.Context, req OrderRequest) (OrderAck, error) {
	req.Category = Category
	req.PositionIdx = 0

	raw, err := c.Post(ctx, "/v5/order/create", req)
	if err != nil {
		return OrderAck{}, fmt.Errorf("bybit: create order %s: %w", req.Symbol, err)
	}
	var ack OrderAck
	if err := json.Unmarshal(raw, &ack); err != nil {
		return OrderAck{}, fmt.Errorf("bybit: decode order ack %s: %w", req.Symbol, err)
	}
	return ack, nil
}

// CancelAll cancels every open order for symbol matching filter.
func (c *Client) CancelAll(ctx context.Context, symbol string, filter domain.OrderFilter) error {
	body := cancelAllRequest{
		Category:    Category,
		Symbol:      symbol,
		OrderFilter: string(filter),
	}
	if _, err := c.Post(ctx, "/v5/order/cancel-all", body); err != nil {
		return fmt.Errorf("bybit: cancel all %s: %w", symbol, err)
	}
	return nil
}

// SetTradingStop sets position-level stop-loss, take-profit or trailing stop.
// A "not modified" answer means the requested state is already live and is
// reported as success.
func (c *Client) SetTradingStop(ctx context.Context, req TradingStopRequest) error {
	req.Category = Category
	req.PositionIdx = 0
	if req.TPSLMode == "" {
		req.TPSLMode = "Full"
	}

	if _, err := c.Post(ctx, "/v5/position/trading-stop", req); err != nil {
		if IsNotModified(err) {
			return nil
		}
		return fmt.Errorf("bybit: trading stop %s: %w", req.Symbol, err)
	}
	return nil
}

// SetLeverage sets symmetric buy/sell leverage for symbol.
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage float64) error {
	lev := strconv.FormatFloat(leverage, 'f', -1, 64)
	body := setLeverageRequest{
		Category:     Category,
		Symbol:       symbol,
		BuyLeverage:  lev,
		SellLeverage: lev,
	}
	if _, err := c.Post(ctx, "/v5/position/set-leverage", body); err != nil {
		if IsNotModified(err) {
			return nil
		}
		return fmt.Errorf("bybit: set leverage %s: %w", symbol, err)
	}
	return nil
}

// Positions returns every open position (size > 0) in the settle coin.
func (c *Client) Positions(ctx context.Context) ([]domain.ExchangePosition, error) {
	var out []domain.ExchangePosition
	cursor := ""
	for {
		params := url.Values{}
		params.Set("category", Category)
		params.Set("settleCoin", c.settleCoin)
		params.Set("limit", "200")
		if cursor != "" {
			params.Set("cursor", cursor)
		}

		raw, err := c.Get(ctx, "/v5/position/list", params)
		if err != nil {
			return nil, fmt.Errorf("bybit: positions: %w", err)
		}
		var res positionsResult
		if err := json.Unmarshal(raw, &res); err != nil {
			return nil, fmt.Errorf("bybit: decode positions: %w", err)
		}
		for _, p := range res.List {
			pos := p.toDomain()
			if pos.Size > 0 {
				out = append(out, pos)
			}
		}
		if res.NextPageCursor == "" || len(res.List) == 0 {
			return out, nil
		}
		cursor = res.NextPageCursor
	}
}

// WalletBalance returns the unified account totals.
func (c *Client) WalletBalance(ctx context.Context) (domain.Balance, error) {
	params := url.Values{}
	params.Set("accountType", "UNIFIED")

	raw, err := c.Get(ctx, "/v5/account/wallet-balance", params)
	if err != nil {
		return domain.Balance{}, fmt.Errorf("bybit: wallet balance: %w", err)
	}
	var res walletResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return domain.Balance{}, fmt.Errorf("bybit: decode wallet balance: %w", err)
	}
	if len(res.List) == 0 {
		return domain.Balance{}, fmt.Errorf("bybit: wallet balance: %w", domain.ErrNoData)
	}
	acct := res.List[0]
	return domain.Balance{
		Equity:    parseFloat(acct.TotalEquity),
		Available: parseFloat(acct.TotalAvailableBalance),
		Wallet:    parseFloat(acct.TotalWalletBalance),
	}, nil
}
