// Package memory provides in-process implementations of the cache interfaces
// in internal/domain. They are used when Redis is not configured and by tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/adamalfredo/bybit-trading-bot-sub000/internal/domain"
)

// ---------------------------------------------------------------------------
// PriceCache
// ---------------------------------------------------------------------------

type pricePoint struct {
	price float64
	ts    time.Time
}

// PriceCache implements domain.PriceCache with a guarded map.
type PriceCache struct {
	mu     sync.RWMutex
	prices map[string]pricePoint
}

// NewPriceCache returns an empty PriceCache.
func NewPriceCache() *PriceCache {
	return &PriceCache{prices: make(map[string]pricePoint)}
}

func (c *PriceCache) SetPrice(_ context.Context, symbol string, price float64, ts time.Time) error {
	c.mu.Lock()
	c.prices[symbol] = pricePoint{price: price, ts: ts}
	c.mu.Unlock()
	return nil
}

func (c *PriceCache) GetPrice(_ context.Context, symbol string) (float64, time.Time, error) {
	c.mu.RLock()
	p, ok := c.prices[symbol]
	c.mu.RUnlock()
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	return p.price, p.ts, nil
}

func (c *PriceCache) GetPrices(_ context.Context, symbols []string) (map[string]float64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]float64, len(symbols))
	for _, s := range symbols {
		if p, ok := c.prices[s]; ok {
			out[s] = p.price
		}
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// InstrumentCache
// ---------------------------------------------------------------------------

type instrumentEntry struct {
	inst    domain.Instrument
	expires time.Time
}

// InstrumentCache implements domain.InstrumentCache with per-entry expiry.
type InstrumentCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]instrumentEntry
	now     func() time.Time
}

// NewInstrumentCache returns an InstrumentCache whose entries live for ttl.
func NewInstrumentCache(ttl time.Duration) *InstrumentCache {
	return &InstrumentCache{
		ttl:     ttl,
		entries: make(map[string]instrumentEntry),
		now:     time.Now,
	}
}

func (c *InstrumentCache) Set(_ context.Context, inst domain.Instrument) error {
	c.mu.Lock()
	c.entries[inst.Symbol] = instrumentEntry{inst: inst, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()
	return nil
}

func (c *InstrumentCache) Get(_ context.Context, symbol string) (domain.Instrument, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[symbol]
	if !ok {
		return domain.Instrument{}, domain.ErrNotFound
	}
	if !c.now().Before(e.expires) {
		delete(c.entries, symbol)
		return domain.Instrument{}, domain.ErrNotFound
	}
	return e.inst, nil
}

func (c *InstrumentCache) Invalidate(_ context.Context, symbol string) error {
	c.mu.Lock()
	delete(c.entries, symbol)
	c.mu.Unlock()
	return nil
}

// ---------------------------------------------------------------------------
// PositionStateStore
// ---------------------------------------------------------------------------

// PositionStateStore implements domain.PositionStateStore in memory. State
// does not survive a restart; it exists so the ledger mirror has a target
// when Redis is disabled.
type PositionStateStore struct {
	mu        sync.Mutex
	positions map[string]domain.Position
}

// NewPositionStateStore returns an empty store.
func NewPositionStateStore() *PositionStateStore {
	return &PositionStateStore{positions: make(map[string]domain.Position)}
}

func (s *PositionStateStore) Save(_ context.Context, pos domain.Position) error {
	s.mu.Lock()
	s.positions[pos.Symbol] = pos
	s.mu.Unlock()
	return nil
}

func (s *PositionStateStore) Delete(_ context.Context, symbol string) error {
	s.mu.Lock()
	delete(s.positions, symbol)
	s.mu.Unlock()
	return nil
}

func (s *PositionStateStore) LoadAll(_ context.Context) (map[string]domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]domain.Position, len(s.positions))
	for k, v := range s.positions {
		out[k] = v
	}
	return out, nil
}

var (
	_ domain.PriceCache         = (*PriceCache)(nil)
	_ domain.InstrumentCache    = (*InstrumentCache)(nil)
	_ domain.PositionStateStore = (*PositionStateStore)(nil)
)
