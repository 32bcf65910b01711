package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/adamalfredo/bybit-trading-bot-sub000/internal/domain"
)

// InstrumentTTL bounds how long exchange metadata is trusted.
const InstrumentTTL = 5 * time.Minute

// InstrumentCache implements domain.InstrumentCache with JSON values at
// "instrument:{symbol}" expiring after InstrumentTTL.
type InstrumentCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewInstrumentCache creates an InstrumentCache backed by the given Client.
func NewInstrumentCache(c *Client) *InstrumentCache {
	return &InstrumentCache{rdb: c.Underlying(), ttl: InstrumentTTL}
}

func instrumentKey(symbol string) string { return "instrument:" + symbol }

// Set stores inst with the cache TTL.
func (ic *InstrumentCache) Set(ctx context.Context, inst domain.Instrument) error {
	data, err := json.Marshal(inst)
	if err != nil {
		return fmt.Errorf("redis: marshal instrument %s: %w", inst.Symbol, err)
	}
	if err := ic.rdb.Set(ctx, instrumentKey(inst.Symbol), data, ic.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set instrument %s: %w", inst.Symbol, err)
	}
	return nil
}

// Get returns the cached instrument or domain.ErrNotFound.
func (ic *InstrumentCache) Get(ctx context.Context, symbol string) (domain.Instrument, error) {
	data, err := ic.rdb.Get(ctx, instrumentKey(symbol)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Instrument{}, domain.ErrNotFound
		}
		return domain.Instrument{}, fmt.Errorf("redis: get instrument %s: %w", symbol, err)
	}

	var inst domain.Instrument
	if err := json.Unmarshal(data, &inst); err != nil {
		return domain.Instrument{}, fmt.Errorf("redis: unmarshal instrument %s: %w", symbol, err)
	}
	return inst, nil
}

// Invalidate drops the cached instrument.
func (ic *InstrumentCache) Invalidate(ctx context.Context, symbol string) error {
	if err := ic.rdb.Del(ctx, instrumentKey(symbol)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate instrument %s: %w", symbol, err)
	}
	return nil
}

var _ domain.InstrumentCache = (*InstrumentCache)(nil)
