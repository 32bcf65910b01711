package ledger

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adamalfredo/bybit-trading-bot-sub000/internal/cache/memory"
	"github.com/adamalfredo/bybit-trading-bot-sub000/internal/domain"
)

func newTestLedger(store domain.PositionStateStore) *Ledger {
	return New(store, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestPutGetRemove(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := memory.NewPositionStateStore()
	l := newTestLedger(store)

	l.Put(ctx, domain.Position{Symbol: "ETHUSDT", Direction: domain.Long, EntryPrice: 3000})
	l.Put(ctx, domain.Position{Symbol: "BTCUSDT", Direction: domain.Long, EntryPrice: 60000})

	p, ok := l.Get("ETHUSDT")
	require.True(t, ok)
	assert.Equal(t, 3000.0, p.EntryPrice)
	assert.True(t, l.IsOpen("BTCUSDT"))
	assert.Equal(t, 2, l.Len())
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, l.Symbols())

	snap := l.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "BTCUSDT", snap[0].Symbol)

	saved, err := store.LoadAll(ctx)
	require.NoError(t, err)
	assert.Len(t, saved, 2)

	assert.True(t, l.Remove(ctx, "ETHUSDT"))
	assert.False(t, l.Remove(ctx, "ETHUSDT"))
	assert.False(t, l.IsOpen("ETHUSDT"))

	saved, err = store.LoadAll(ctx)
	require.NoError(t, err)
	assert.Len(t, saved, 1)
}

func TestUpdate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("missing symbol", func(t *testing.T) {
		t.Parallel()
		l := newTestLedger(nil)
		err := l.Update(ctx, "XRPUSDT", func(*domain.Position) error { return nil })
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("writes back even on error", func(t *testing.T) {
		t.Parallel()
		l := newTestLedger(nil)
		l.Put(ctx, domain.Position{Symbol: "SOLUSDT", StopLoss: 97})
		boom := errors.New("boom")
		err := l.Update(ctx, "SOLUSDT", func(p *domain.Position) error {
			p.StopLoss = 100
			return boom
		})
		assert.ErrorIs(t, err, boom)
		p, _ := l.Get("SOLUSDT")
		assert.Equal(t, 100.0, p.StopLoss)
	})

	t.Run("ErrRemove deletes", func(t *testing.T) {
		t.Parallel()
		l := newTestLedger(nil)
		l.Put(ctx, domain.Position{Symbol: "SOLUSDT"})
		err := l.Update(ctx, "SOLUSDT", func(*domain.Position) error { return ErrRemove })
		assert.NoError(t, err)
		assert.False(t, l.IsOpen("SOLUSDT"))
	})
}

func TestUpdateIsLinearizedPerSymbol(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := newTestLedger(nil)
	l.Put(ctx, domain.Position{Symbol: "BTCUSDT"})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.Update(ctx, "BTCUSDT", func(p *domain.Position) error {
				cur := p.MFE
				time.Sleep(time.Microsecond)
				p.MFE = cur + 1
				return nil
			})
		}()
	}
	wg.Wait()

	p, _ := l.Get("BTCUSDT")
	assert.Equal(t, 50.0, p.MFE)
}

func TestLockHonoursContext(t *testing.T) {
	t.Parallel()
	l := newTestLedger(nil)

	unlock, err := l.Lock(context.Background(), "BTCUSDT")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "BTCUSDT")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// Other symbols are not blocked.
	other, err := l.Lock(context.Background(), "ETHUSDT")
	require.NoError(t, err)
	other()

	unlock()
	unlock()
	again, err := l.Lock(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	again()
}

func TestReconcile(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := memory.NewPositionStateStore()
	require.NoError(t, store.Save(ctx, domain.Position{
		Symbol: "ETHUSDT", Direction: domain.Long, EntryPrice: 3000, StopLoss: 3010, BELocked: true, FloorROI: 10,
	}))
	require.NoError(t, store.Save(ctx, domain.Position{Symbol: "ADAUSDT", Direction: domain.Short, EntryPrice: 0.5}))
	require.NoError(t, store.Save(ctx, domain.Position{Symbol: "DOTUSDT", Direction: domain.Long}))

	l := newTestLedger(store)
	l.Put(ctx, domain.Position{Symbol: "BTCUSDT", Direction: domain.Long, EntryPrice: 60000, Qty: 0.01})
	l.Put(ctx, domain.Position{Symbol: "XRPUSDT", Direction: domain.Long, EntryPrice: 0.6, Qty: 100})

	live := []domain.ExchangePosition{
		{Symbol: "BTCUSDT", Side: domain.SideBuy, Size: 0.02, AvgPrice: 60000},
		{Symbol: "ETHUSDT", Side: domain.SideBuy, Size: 0.5, AvgPrice: 3001},
		{Symbol: "ADAUSDT", Side: domain.SideBuy, Size: 100, AvgPrice: 0.45},
		{Symbol: "LTCUSDT", Side: domain.SideBuy, Size: 1, AvgPrice: 80},
	}
	var synthCalls []string
	synth := func(_ context.Context, ep domain.ExchangePosition) (domain.Position, error) {
		synthCalls = append(synthCalls, ep.Symbol)
		if ep.Symbol == "LTCUSDT" {
			return domain.Position{}, domain.ErrNoData
		}
		return domain.Position{
			Symbol: ep.Symbol, Direction: ep.Direction(), EntryPrice: ep.AvgPrice, Qty: ep.Size,
			StopLoss: ep.AvgPrice * 0.97,
		}, nil
	}

	res := l.Reconcile(ctx, live, synth)

	assert.Equal(t, []string{"ETHUSDT"}, res.Restored)
	// ADAUSDT was saved as short but is long on the exchange, so it is rebuilt.
	assert.Equal(t, []string{"ADAUSDT"}, res.Synthesized)
	assert.Equal(t, []string{"BTCUSDT"}, res.Resized)
	assert.Equal(t, []string{"XRPUSDT"}, res.Purged)
	assert.Equal(t, []string{"ADAUSDT", "LTCUSDT"}, synthCalls)

	eth, ok := l.Get("ETHUSDT")
	require.True(t, ok)
	assert.True(t, eth.Recovered)
	assert.True(t, eth.BELocked)
	assert.Equal(t, 10.0, eth.FloorROI)
	assert.Equal(t, 0.5, eth.Qty)
	assert.Equal(t, 3000.0, eth.EntryPrice)

	btc, _ := l.Get("BTCUSDT")
	assert.Equal(t, 0.02, btc.Qty)
	assert.False(t, l.IsOpen("LTCUSDT"))

	saved, err := store.LoadAll(ctx)
	require.NoError(t, err)
	_, hasDot := saved["DOTUSDT"]
	assert.False(t, hasDot, "saved state for a position gone from the exchange is dropped")
}

type failingDeleteStore struct {
	domain.PositionStateStore
}

func (failingDeleteStore) Delete(context.Context, string) error {
	return errors.New("redis: connection refused")
}

func TestReconcileSurvivesStateDeleteFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := failingDeleteStore{memory.NewPositionStateStore()}
	require.NoError(t, store.Save(ctx, domain.Position{Symbol: "ETHUSDT", Direction: domain.Long, EntryPrice: 3000}))
	require.NoError(t, store.Save(ctx, domain.Position{Symbol: "DOTUSDT", Direction: domain.Long, EntryPrice: 7}))

	var logs bytes.Buffer
	l := New(store, slog.New(slog.NewTextHandler(&logs, nil)))
	l.Put(ctx, domain.Position{Symbol: "XRPUSDT", Direction: domain.Long, EntryPrice: 0.6, Qty: 100})

	live := []domain.ExchangePosition{{Symbol: "ETHUSDT", Side: domain.SideBuy, Size: 0.5, AvgPrice: 3001}}
	res := l.Reconcile(ctx, live, nil)

	assert.Equal(t, []string{"ETHUSDT"}, res.Restored)
	assert.Equal(t, []string{"XRPUSDT"}, res.Purged)
	assert.False(t, l.IsOpen("XRPUSDT"))
	assert.Contains(t, logs.String(), `msg="stale position state delete failed" component=ledger symbol=DOTUSDT`)
	assert.Contains(t, logs.String(), `msg="position state delete failed" component=ledger symbol=XRPUSDT`)
}
