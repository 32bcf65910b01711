package memory

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adamalfredo/bybit-trading-bot-sub000/internal/domain"
)

func TestPriceCache(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := NewPriceCache()

	_, _, err := c.GetPrice(ctx, "BTCUSDT")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	ts := time.Unix(1700000000, 0)
	require.NoError(t, c.SetPrice(ctx, "BTCUSDT", 65000.5, ts))
	require.NoError(t, c.SetPrice(ctx, "ETHUSDT", 3200, ts))

	price, got, err := c.GetPrice(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 65000.5, price)
	assert.True(t, got.Equal(ts))

	prices, err := c.GetPrices(ctx, []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"BTCUSDT": 65000.5, "ETHUSDT": 3200}, prices)
}

func TestInstrumentCacheExpiry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := NewInstrumentCache(5 * time.Minute)
	now := time.Unix(1700000000, 0)
	c.now = func() time.Time { return now }

	inst := domain.Instrument{Symbol: "SOLUSDT", QtyStep: decimal.RequireFromString("0.1")}
	require.NoError(t, c.Set(ctx, inst))

	got, err := c.Get(ctx, "SOLUSDT")
	require.NoError(t, err)
	assert.True(t, got.QtyStep.Equal(inst.QtyStep))

	now = now.Add(5 * time.Minute)
	_, err = c.Get(ctx, "SOLUSDT")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestInstrumentCacheInvalidate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := NewInstrumentCache(time.Minute)

	require.NoError(t, c.Set(ctx, domain.Instrument{Symbol: "XRPUSDT"}))
	require.NoError(t, c.Invalidate(ctx, "XRPUSDT"))

	_, err := c.Get(ctx, "XRPUSDT")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPositionStateStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewPositionStateStore()

	require.NoError(t, s.Save(ctx, domain.Position{Symbol: "BTCUSDT", Direction: domain.Long, EntryPrice: 100}))
	require.NoError(t, s.Save(ctx, domain.Position{Symbol: "ETHUSDT", Direction: domain.Short}))
	require.NoError(t, s.Delete(ctx, "ETHUSDT"))

	all, err := s.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, 100.0, all["BTCUSDT"].EntryPrice)

	// LoadAll returns a copy.
	delete(all, "BTCUSDT")
	again, err := s.LoadAll(ctx)
	require.NoError(t, err)
	assert.Len(t, again, 1)
}
