package domain

import (
	"context"
	"time"
)

// PriceCache provides fast access to the latest prices.
type PriceCache interface {
	SetPrice(ctx context.Context, symbol string, price float64, ts time.Time) error
	GetPrice(ctx context.Context, symbol string) (float64, time.Time, error)
	GetPrices(ctx context.Context, symbols []string) (map[string]float64, error)
}

// InstrumentCache stores exchange instrument metadata with a bounded TTL.
type InstrumentCache interface {
	Set(ctx context.Context, inst Instrument) error
	Get(ctx context.Context, symbol string) (Instrument, error)
	Invalidate(ctx context.Context, symbol string) error
}

// PositionStateStore persists protection state so it survives restarts.
type PositionStateStore interface {
	Save(ctx context.Context, pos Position) error
	Delete(ctx context.Context, symbol string) error
	LoadAll(ctx context.Context) (map[string]Position, error)
}

// RateLimiter provides sliding-window rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}
