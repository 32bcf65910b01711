package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/adamalfredo/bybit-trading-bot-sub000/internal/domain"
)

// Instrument returns the trading metadata for a single symbol.
func (c *Client) Instrument(ctx context.Context, symbol string) (domain.Instrument, error) {
	params := url.Values{}
	params.Set("category", Category)
	params.Set("symbol", symbol)

	raw, err := c.Get(ctx, "/v5/market/instruments-info", params)
	if err != nil {
		return domain.Instrument{}, fmt.Errorf("bybit: instrument %s: %w", symbol, err)
	}

	var res instrumentsResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return domain.Instrument{}, fmt.Errorf("bybit: decode instrument %s: %w", symbol, err)
	}
	for _, info := range res.List {
		if info.Symbol == symbol {
			return info.toDomain(c.now()), nil
		}
	}
	return domain.Instrument{}, fmt.Errorf("bybit: instrument %s: %w", symbol, domain.ErrNotFound)
}

// Instruments returns metadata for every linear instrument settled in the
// configured coin, following pagination.
func (c *Client) Instruments(ctx context.Context) ([]domain.Instrument, error) {
	var out []domain.Instrument
	cursor := ""
	for {
		params := url.Values{}
		params.Set("category", Category)
		params.Set("limit", "1000")
		if cursor != "" {
			params.Set("cursor", cursor)
		}

		raw, err := c.Get(ctx, "/v5/market/instruments-info", params)
		if err != nil {
			return nil, fmt.Errorf("bybit: instruments: %w", err)
		}
		var res instrumentsResult
		if err := json.Unmarshal(raw, &res); err != nil {
			return nil, fmt.Errorf("bybit: decode instruments: %w", err)
		}
		now := c.now()
		for _, info := range res.List {
			if info.QuoteCoin != "" && info.QuoteCoin != c.settleCoin {
				continue
			}
			out = append(out, info.toDomain(now))
		}
		if res.NextPageCursor == "" || len(res.List) == 0 {
			return out, nil
		}
		cursor = res.NextPageCursor
	}
}

// Tickers returns the 24h summaries for all linear symbols.
func (c *Client) Tickers(ctx context.Context) ([]domain.Ticker, error) {
	params := url.Values{}
	params.Set("category", Category)

	raw, err := c.Get(ctx, "/v5/market/tickers", params)
	if err != nil {
		return nil, fmt.Errorf("bybit: tickers: %w", err)
	}
	var res tickersResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("bybit: decode tickers: %w", err)
	}
	out := make([]domain.Ticker, 0, len(res.List))
	for _, t := range res.List {
		out = append(out, t.toDomain())
	}
	return out, nil
}

// Ticker returns the 24h summary for one symbol.
func (c *Client) Ticker(ctx context.Context, symbol string) (domain.Ticker, error) {
	params := url.Values{}
	params.Set("category", Category)
	params.Set("symbol", symbol)

	raw, err := c.Get(ctx, "/v5/market/tickers", params)
	if err != nil {
		return domain.Ticker{}, fmt.Errorf("bybit: ticker %s: %w", symbol, err)
	}
	var res tickersResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return domain.Ticker{}, fmt.Errorf("bybit: decode ticker %s: %w", symbol, err)
	}
	if len(res.List) == 0 {
		return domain.Ticker{}, fmt.Errorf("bybit: ticker %s: %w", symbol, domain.ErrNoData)
	}
	return res.List[0].toDomain(), nil
}

// LastPrice returns the last traded price for symbol.
func (c *Client) LastPrice(ctx context.Context, symbol string) (float64, error) {
	t, err := c.Ticker(ctx, symbol)
	if err != nil {
		return 0, err
	}
	if t.LastPrice <= 0 {
		return 0, fmt.Errorf("bybit: last price %s: %w", symbol, domain.ErrNoData)
	}
	return t.LastPrice, nil
}

// Klines returns up to limit candles for symbol at interval (exchange
// notation: "1", "5", "15", "60", "D"), oldest first.
func (c *Client) Klines(ctx context.Context, symbol, interval string, limit int) ([]domain.Candle, error) {
	params := url.Values{}
	params.Set("category", Category)
	params.Set("symbol", symbol)
	params.Set("interval", interval)
	params.Set("limit", strconv.Itoa(limit))

	raw, err := c.Get(ctx, "/v5/market/kline", params)
	if err != nil {
		return nil, fmt.Errorf("bybit: klines %s: %w", symbol, err)
	}
	var res klineResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("bybit: decode klines %s: %w", symbol, err)
	}

	candles := make([]domain.Candle, 0, len(res.List))
	for _, row := range res.List {
		if len(row) < 6 {
			continue
		}
		startMs, err := strconv.ParseInt(row[0], 10, 64)
		if err != nil {
			continue
		}
		candles = append(candles, domain.Candle{
			Start:  time.UnixMilli(startMs).UTC(),
			Open:   parseFloat(row[1]),
			High:   parseFloat(row[2]),
			Low:    parseFloat(row[3]),
			Close:  parseFloat(row[4]),
			Volume: parseFloat(row[5]),
		})
	}
	// The exchange returns newest first.
	sort.Slice(candles, func(i, j int) bool { return candles[i].Start.Before(candles[j].Start) })

	if len(candles) == 0 {
		return nil, fmt.Errorf("bybit: klines %s: %w", symbol, domain.ErrNoData)
	}
	return candles, nil
}
