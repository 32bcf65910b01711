package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/adamalfredo/bybit-trading-bot-sub000/internal/domain"
)

// PriceCache implements domain.PriceCache using Redis hashes. Each symbol is
// stored at "price:{symbol}" with fields "price" and "ts" (Unix nanoseconds).
type PriceCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewPriceCache creates a PriceCache. Entries expire after ttl so a dead
// feed cannot serve stale prices forever; zero disables expiry.
func NewPriceCache(c *Client, ttl time.Duration) *PriceCache {
	return &PriceCache{rdb: c.Underlying(), ttl: ttl}
}

func priceKey(symbol string) string {
	return "price:" + symbol
}

// SetPrice stores the latest price and timestamp for a symbol.
func (pc *PriceCache) SetPrice(ctx context.Context, symbol string, price float64, ts time.Time) error {
	key := priceKey(symbol)
	pipe := pc.rdb.TxPipeline()
	pipe.HSet(ctx, key, map[string]any{
		"price": strconv.FormatFloat(price, 'f', -1, 64),
		"ts":    strconv.FormatInt(ts.UnixNano(), 10),
	})
	if pc.ttl > 0 {
		pipe.Expire(ctx, key, pc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set price %s: %w", symbol, err)
	}
	return nil
}

// GetPrice returns the latest price and its timestamp, or domain.ErrNotFound.
func (pc *PriceCache) GetPrice(ctx context.Context, symbol string) (float64, time.Time, error) {
	vals, err := pc.rdb.HGetAll(ctx, priceKey(symbol)).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: get price %s: %w", symbol, err)
	}
	return parsePriceHash(symbol, vals)
}

// GetPrices returns the latest prices for several symbols in one round trip.
// Missing symbols are omitted.
func (pc *PriceCache) GetPrices(ctx context.Context, symbols []string) (map[string]float64, error) {
	if len(symbols) == 0 {
		return map[string]float64{}, nil
	}

	pipe := pc.rdb.Pipeline()
	cmds := make(map[string]*redis.MapStringStringCmd, len(symbols))
	for _, s := range symbols {
		cmds[s] = pipe.HGetAll(ctx, priceKey(s))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get prices pipeline: %w", err)
	}

	result := make(map[string]float64, len(symbols))
	for s, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil {
			continue
		}
		if price, _, err := parsePriceHash(s, vals); err == nil {
			result[s] = price
		}
	}
	return result, nil
}

func parsePriceHash(symbol string, vals map[string]string) (float64, time.Time, error) {
	priceStr, ok := vals["price"]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	price, err := strconv.ParseFloat(priceStr, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse price %s: %w", symbol, err)
	}
	tsNano, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse ts %s: %w", symbol, err)
	}
	return price, time.Unix(0, tsNano), nil
}

var _ domain.PriceCache = (*PriceCache)(nil)
