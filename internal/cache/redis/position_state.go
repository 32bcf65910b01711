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

// positionStateTTL outlives any realistic holding period; stale entries for
// positions closed while the agent was down are purged by reconciliation.
const positionStateTTL = 7 * 24 * time.Hour

// PositionStateStore implements domain.PositionStateStore.
//
// Key schema:
//
//	position:{symbol}  - JSON-encoded domain.Position
//	positions:open     - set of symbols with a saved state
type PositionStateStore struct {
	rdb *redis.Client
}

// NewPositionStateStore creates a PositionStateStore backed by the given Client.
func NewPositionStateStore(c *Client) *PositionStateStore {
	return &PositionStateStore{rdb: c.Underlying()}
}

const openPositionsKey = "positions:open"

func positionKey(symbol string) string { return "position:" + symbol }

// Save writes the full protection state for pos.Symbol.
func (s *PositionStateStore) Save(ctx context.Context, pos domain.Position) error {
	data, err := json.Marshal(pos)
	if err != nil {
		return fmt.Errorf("redis: marshal position %s: %w", pos.Symbol, err)
	}

	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, positionKey(pos.Symbol), data, positionStateTTL)
	pipe.SAdd(ctx, openPositionsKey, pos.Symbol)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: save position %s: %w", pos.Symbol, err)
	}
	return nil
}

// Delete removes the saved state for symbol.
func (s *PositionStateStore) Delete(ctx context.Context, symbol string) error {
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, positionKey(symbol))
	pipe.SRem(ctx, openPositionsKey, symbol)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: delete position %s: %w", symbol, err)
	}
	return nil
}

// LoadAll returns every saved position keyed by symbol. Index entries whose
// state has expired are dropped from the index.
func (s *PositionStateStore) LoadAll(ctx context.Context) (map[string]domain.Position, error) {
	symbols, err := s.rdb.SMembers(ctx, openPositionsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: list positions: %w", err)
	}
	out := make(map[string]domain.Position, len(symbols))
	if len(symbols) == 0 {
		return out, nil
	}

	keys := make([]string, len(symbols))
	for i, sym := range symbols {
		keys[i] = positionKey(sym)
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: load positions: %w", err)
	}

	var stale []any
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			stale = append(stale, symbols[i])
			continue
		}
		var pos domain.Position
		if err := json.Unmarshal([]byte(str), &pos); err != nil {
			stale = append(stale, symbols[i])
			continue
		}
		out[symbols[i]] = pos
	}
	if len(stale) > 0 {
		_ = s.rdb.SRem(ctx, openPositionsKey, stale...).Err()
	}
	return out, nil
}

var _ domain.PositionStateStore = (*PositionStateStore)(nil)
